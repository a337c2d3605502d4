// Package order はカートからの注文確定と注文履歴の取得を提供する。
package order

import (
	"context"
	"log/slog"

	"github.com/hitoshi/tableorder/internal/api"
	"github.com/hitoshi/tableorder/internal/cart"
	"github.com/hitoshi/tableorder/internal/model"
	"github.com/hitoshi/tableorder/internal/storage"
)

// Gateway はテーブル向け注文APIの呼び出し。*api.TableClientが実装する。
type Gateway interface {
	CreateOrder(ctx context.Context, items []model.OrderLine) (*model.Order, error)
	GetSessionOrders(ctx context.Context) ([]model.Order, error)
	CurrentSession() (api.SessionRef, bool)
}

// Service は注文確定と注文履歴を扱う。
type Service struct {
	gateway Gateway
	cart    *cart.Manager
	store   *storage.SafeStore
	logger  *slog.Logger
}

// NewService はServiceを生成する。
func NewService(gateway Gateway, cartManager *cart.Manager, store *storage.SafeStore, logger *slog.Logger) *Service {
	return &Service{
		gateway: gateway,
		cart:    cartManager,
		store:   store,
		logger:  logger,
	}
}

// PlaceOrder は現在のカートで注文を作成する。
// 注文の作成が確認できた時点で、注文した数量だけをカートから取り除く。
func (s *Service) PlaceOrder(ctx context.Context) (*model.Order, error) {
	snapshot := s.cart.Snapshot()
	if len(snapshot.Items) == 0 {
		return nil, model.NewValidationError(model.ErrCodeEmptyCart, "カートが空です。")
	}

	lines := make([]model.OrderLine, 0, len(snapshot.Items))
	for _, it := range snapshot.Items {
		lines = append(lines, model.OrderLine{MenuID: it.MenuID, Quantity: it.Quantity})
	}

	order, err := s.gateway.CreateOrder(ctx, lines)
	if err != nil {
		return nil, err
	}

	if _, err := s.cart.RemoveOrdered(ctx, lines); err != nil {
		s.logger.Warn("注文後のカートの更新に失敗しました", slog.String("error", err.Error()))
	}

	s.logger.Info("注文を作成しました",
		slog.String("order_id", order.ID),
		slog.String("order_number", order.OrderNumber),
		slog.Int("total_amount", order.TotalAmount),
		slog.Int("lines", len(lines)),
	)

	if ref, ok := s.gateway.CurrentSession(); ok {
		key := storage.SessionOrdersKey(ref.StoreID, ref.SessionID)
		var cached []model.Order
		s.store.GetJSON(ctx, key, &cached)
		_ = s.store.SetJSON(ctx, key, append(cached, *order))
	}
	return order, nil
}

// History は現在のセッションの注文一覧を返す。
// 再試行可能なエラーの場合はキャッシュ済みの一覧を返し、stale=trueとする。
func (s *Service) History(ctx context.Context) (orders []model.Order, stale bool, err error) {
	ref, ok := s.gateway.CurrentSession()
	if !ok {
		return nil, false, model.NewNotAuthenticatedError()
	}
	key := storage.SessionOrdersKey(ref.StoreID, ref.SessionID)

	orders, err = s.gateway.GetSessionOrders(ctx)
	if err != nil {
		var cached []model.Order
		if model.IsRetryable(err) && s.store.GetJSON(ctx, key, &cached) {
			s.logger.Warn("注文履歴の取得に失敗したためキャッシュを返します",
				slog.String("session_id", ref.SessionID),
				slog.String("error_kind", string(model.KindOf(err))),
			)
			return cached, true, nil
		}
		return nil, false, err
	}

	_ = s.store.SetJSON(ctx, key, orders)
	return orders, false, nil
}
