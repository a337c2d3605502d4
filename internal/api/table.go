package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/tableorder/internal/model"
)

// SessionRef はリクエスト送信時点のテーブルセッション。
// Generationは認証・更新が成功するたびに増える。
type SessionRef struct {
	StoreID     string
	TableNumber int
	SessionID   string
	Generation  uint64
}

// SessionSource はTableClientにセッションを提供する。auth.Managerが実装する。
type SessionSource interface {
	// CurrentSession は現在のセッションを返す。未認証の場合はok=false。
	CurrentSession() (ref SessionRef, ok bool)
	// RenewStale は世代がまだstaleなら保存済みの認証情報で再認証する。
	// 別の経路で更新済みなら何もしない。失敗した場合はログアウト済みになる。
	RenewStale(ctx context.Context, stale uint64) error
	// Expire は回復できないセッション失効としてログアウトする。
	Expire(ctx context.Context)
}

// TableClient はテーブル（顧客）向けAPIのクライアント。
//
// 401を受けた場合の手順:
//  1. 送信時のセッション世代がまだ現在の世代なら更新を開始する。
//     同時に401を受けたリクエストは同じ更新の完了を待つ。
//  2. 送信後に別のリクエストが更新を済ませていた場合は更新せずに再送する。
//  3. 更新が失敗した場合は待っていた全リクエストがその更新エラーで失敗する。
//  4. 再送は1回まで。再送でも401なら回復不能としてログアウトする。
type TableClient struct {
	*Client
	session  SessionSource
	renewals singleflight.Group
}

// NewTableClient はTableClientを生成する。
func NewTableClient(base *Client, session SessionSource) *TableClient {
	return &TableClient{Client: base, session: session}
}

// CurrentSession は現在のセッションを返す。
func (c *TableClient) CurrentSession() (SessionRef, bool) {
	return c.session.CurrentSession()
}

// withSession は現在のセッションでbuildしたリクエストを送信し、401なら更新して1回だけ再送する。
func (c *TableClient) withSession(ctx context.Context, build func(ref SessionRef) request) error {
	ref, ok := c.session.CurrentSession()
	if !ok {
		return model.NewNotAuthenticatedError()
	}

	err := c.do(ctx, build(ref))
	if !isUnauthorized(err) {
		return err
	}

	if rerr := c.renew(ctx, ref.Generation); rerr != nil {
		return rerr
	}

	ref, ok = c.session.CurrentSession()
	if !ok {
		return model.NewNotAuthenticatedError()
	}

	err = c.do(ctx, build(ref))
	if isUnauthorized(err) {
		c.logger.Warn("セッション更新後も認証に失敗したためログアウトします")
		c.session.Expire(ctx)
		return model.NewSessionExpiredError("")
	}
	return err
}

// renew はstale世代のセッションに対する更新を1回だけ実行する。
// 呼び出し元のキャンセルで他の待機者の更新が中断されないよう、更新はキャンセルを切り離して実行する。
func (c *TableClient) renew(ctx context.Context, stale uint64) error {
	_, err, shared := c.renewals.Do("renew", func() (any, error) {
		ref, ok := c.session.CurrentSession()
		if !ok {
			// 先行した更新が失敗してログアウト済み
			return nil, model.NewSessionExpiredError("")
		}
		if ref.Generation != stale {
			return nil, nil
		}
		// 期限監視による更新が進行中の場合もあるため、世代の確認は更新側でもう一度行う
		err := c.session.RenewStale(context.WithoutCancel(ctx), stale)
		if err != nil {
			c.metrics.RecordRenewal("failure")
			return nil, model.AsAPIError(err)
		}
		c.metrics.RecordRenewal("success")
		return nil, nil
	})
	if shared {
		c.logger.Debug("進行中のセッション更新を待機しました")
	}
	return err
}

func isUnauthorized(err error) bool {
	var apiErr *model.APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// GetMenus はメニュー一覧を取得する。categoryが空の場合は全件。
func (c *TableClient) GetMenus(ctx context.Context, category string) ([]model.Menu, error) {
	var menus []model.Menu
	err := c.withSession(ctx, func(ref SessionRef) request {
		path := storePath(ref.StoreID, "/menus")
		if category != "" {
			path += "?category=" + url.QueryEscape(category)
		}
		menus = nil
		return request{endpoint: "get_menus", method: http.MethodGet, path: path, out: &menus}
	})
	if err != nil {
		return nil, err
	}
	c.sanitizeMenus(menus)
	return menus, nil
}

// CreateOrder は注文を作成する。セッションIDは送信のたびに現在の値で埋める。
func (c *TableClient) CreateOrder(ctx context.Context, items []model.OrderLine) (*model.Order, error) {
	var order model.Order
	err := c.withSession(ctx, func(ref SessionRef) request {
		return request{
			endpoint: "create_order",
			method:   http.MethodPost,
			path:     storePath(ref.StoreID, "/tables/"+strconv.Itoa(ref.TableNumber)+"/orders"),
			body:     model.CreateOrderRequest{SessionID: ref.SessionID, Items: items},
			out:      &order,
		}
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetSessionOrders は現在のセッションの注文一覧を取得する。
func (c *TableClient) GetSessionOrders(ctx context.Context) ([]model.Order, error) {
	var orders []model.Order
	err := c.withSession(ctx, func(ref SessionRef) request {
		orders = nil
		return request{
			endpoint: "get_session_orders",
			method:   http.MethodGet,
			path:     storePath(ref.StoreID, "/sessions/"+url.PathEscape(ref.SessionID)+"/orders"),
			out:      &orders,
		}
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// GetOrder は注文を1件取得する。
func (c *TableClient) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	var order model.Order
	err := c.withSession(ctx, func(ref SessionRef) request {
		return request{
			endpoint: "get_order",
			method:   http.MethodGet,
			path:     storePath(ref.StoreID, "/orders/"+url.PathEscape(orderID)),
			out:      &order,
		}
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}
