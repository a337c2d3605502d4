package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hitoshi/tableorder/internal/model"
	"github.com/hitoshi/tableorder/internal/security"
)

// TokenSource は管理者APIのBearerトークンを提供する。auth.AdminManagerが実装する。
type TokenSource interface {
	// Token は店舗IDとトークンを返す。未ログインの場合はok=false。
	Token() (storeID, token string, ok bool)
	// Invalidate は401を受けたときに保存済みの管理者認証を破棄する。
	Invalidate(ctx context.Context)
}

// AdminClient は管理者向けAPIのクライアント。
// 管理者トークンの更新は行わず、401は回復不能なセッション失効として扱う。
type AdminClient struct {
	*Client
	tokens TokenSource
	images security.ImageURLGuardService
}

// NewAdminClient はAdminClientを生成する。imagesがnilの場合は画像URLの検証を行わない。
func NewAdminClient(base *Client, tokens TokenSource, images security.ImageURLGuardService) *AdminClient {
	return &AdminClient{Client: base, tokens: tokens, images: images}
}

// withToken はトークン付きでリクエストを送信する。
func (c *AdminClient) withToken(ctx context.Context, endpoint, method, suffix string, body, out any) error {
	storeID, token, ok := c.tokens.Token()
	if !ok {
		return model.NewNotAuthenticatedError()
	}

	err := c.do(ctx, request{
		endpoint: endpoint,
		method:   method,
		path:     storePath(storeID, "/admin"+suffix),
		body:     body,
		token:    token,
		out:      out,
	})
	if isUnauthorized(err) {
		c.tokens.Invalidate(ctx)
	}
	return err
}

// GetTables はテーブル一覧を取得する。
func (c *AdminClient) GetTables(ctx context.Context) ([]model.Table, error) {
	var tables []model.Table
	if err := c.withToken(ctx, "admin_get_tables", http.MethodGet, "/tables", nil, &tables); err != nil {
		return nil, err
	}
	return tables, nil
}

// CreateTable はテーブルを登録する。
func (c *AdminClient) CreateTable(ctx context.Context, tableNumber int, password string) (*model.Table, error) {
	if !model.ValidateTableNumber(tableNumber) {
		return nil, model.NewValidationError(model.ErrCodeValidation, "テーブル番号は1以上で指定してください。")
	}
	if !model.ValidatePassword(password) {
		return nil, model.NewValidationError(model.ErrCodeValidation, "パスワードを入力してください。")
	}

	body := map[string]any{"table_number": tableNumber, "password": password}
	var table model.Table
	if err := c.withToken(ctx, "admin_create_table", http.MethodPost, "/tables", body, &table); err != nil {
		return nil, err
	}
	return &table, nil
}

// StartSession はテーブルのセッションを開始する。
func (c *AdminClient) StartSession(ctx context.Context, tableNumber int) (*model.TableSessionInfo, error) {
	var info model.TableSessionInfo
	if err := c.withToken(ctx, "admin_start_session", http.MethodPost, tablePath(tableNumber, "/session/start"), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// EndSession はテーブルのセッションを終了する。注文は履歴にアーカイブされる。
func (c *AdminClient) EndSession(ctx context.Context, tableNumber int) error {
	return c.withToken(ctx, "admin_end_session", http.MethodPost, tablePath(tableNumber, "/session/end"), nil, nil)
}

// GetTableOrders はテーブルの現在の注文一覧を取得する。
func (c *AdminClient) GetTableOrders(ctx context.Context, tableNumber int) ([]model.Order, error) {
	var orders []model.Order
	if err := c.withToken(ctx, "admin_get_table_orders", http.MethodGet, tablePath(tableNumber, "/orders"), nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetTableHistory は過去の注文履歴を取得する。dateFrom/dateToは空なら指定しない。
func (c *AdminClient) GetTableHistory(ctx context.Context, tableNumber int, dateFrom, dateTo string) ([]model.OrderHistory, error) {
	q := url.Values{}
	if dateFrom != "" {
		q.Set("date_from", dateFrom)
	}
	if dateTo != "" {
		q.Set("date_to", dateTo)
	}

	var history []model.OrderHistory
	if err := c.withToken(ctx, "admin_get_table_history", http.MethodGet, withQuery(tablePath(tableNumber, "/history"), q), nil, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// UpdateOrderStatus は注文状態を変更する。未知の状態は送信前に拒否する。
func (c *AdminClient) UpdateOrderStatus(ctx context.Context, orderID string, status model.OrderStatus) (*model.Order, error) {
	if !status.IsValid() {
		return nil, model.NewValidationError(model.ErrCodeInvalidStatus, "不正な注文状態です: "+string(status))
	}

	body := map[string]string{"status": string(status)}
	var order model.Order
	if err := c.withToken(ctx, "admin_update_order_status", http.MethodPatch, "/orders/"+url.PathEscape(orderID)+"/status", body, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// DeleteOrder は注文を削除する。
func (c *AdminClient) DeleteOrder(ctx context.Context, orderID string) error {
	return c.withToken(ctx, "admin_delete_order", http.MethodDelete, "/orders/"+url.PathEscape(orderID), nil, nil)
}

// GetMenus は管理者向けのメニュー一覧を取得する。
func (c *AdminClient) GetMenus(ctx context.Context) ([]model.Menu, error) {
	var menus []model.Menu
	if err := c.withToken(ctx, "admin_get_menus", http.MethodGet, "/menus", nil, &menus); err != nil {
		return nil, err
	}
	c.sanitizeMenus(menus)
	return menus, nil
}

// CreateMenu はメニューを登録する。画像URLは送信前に到達確認する。
func (c *AdminClient) CreateMenu(ctx context.Context, input model.MenuInput) (*model.Menu, error) {
	if input.Name == nil || *input.Name == "" || input.Price == nil || input.Category == nil || *input.Category == "" {
		return nil, model.NewValidationError(model.ErrCodeValidation, "メニュー名、価格、カテゴリは必須です。")
	}
	if err := c.checkMenuInput(ctx, input); err != nil {
		return nil, err
	}

	var menu model.Menu
	if err := c.withToken(ctx, "admin_create_menu", http.MethodPost, "/menus", input, &menu); err != nil {
		return nil, err
	}
	c.sanitizeMenu(&menu)
	return &menu, nil
}

// UpdateMenu はメニューを更新する。nilのフィールドは変更しない。
func (c *AdminClient) UpdateMenu(ctx context.Context, menuID string, input model.MenuInput) (*model.Menu, error) {
	if err := c.checkMenuInput(ctx, input); err != nil {
		return nil, err
	}

	var menu model.Menu
	if err := c.withToken(ctx, "admin_update_menu", http.MethodPut, "/menus/"+url.PathEscape(menuID), input, &menu); err != nil {
		return nil, err
	}
	c.sanitizeMenu(&menu)
	return &menu, nil
}

// DeleteMenu はメニューを削除する。
func (c *AdminClient) DeleteMenu(ctx context.Context, menuID string) error {
	return c.withToken(ctx, "admin_delete_menu", http.MethodDelete, "/menus/"+url.PathEscape(menuID), nil, nil)
}

func (c *AdminClient) checkMenuInput(ctx context.Context, input model.MenuInput) error {
	if input.Price != nil && *input.Price < 0 {
		return model.NewValidationError(model.ErrCodeValidation, "価格は0以上で指定してください。")
	}
	if input.ImageURL == nil || *input.ImageURL == "" || c.images == nil {
		return nil
	}
	if err := c.images.CheckReachable(ctx, *input.ImageURL); err != nil {
		c.logger.Info("メニュー画像URLの検証に失敗しました",
			slog.String("error", err.Error()),
		)
		return model.NewValidationError(model.ErrCodeInvalidImageURL, "画像URLを確認できませんでした。")
	}
	return nil
}

// GetSettlement は精算データを取得する。
func (c *AdminClient) GetSettlement(ctx context.Context, dateFrom, dateTo string) (model.AnalyticsReport, error) {
	q := url.Values{}
	if dateFrom != "" {
		q.Set("date_from", dateFrom)
	}
	if dateTo != "" {
		q.Set("date_to", dateTo)
	}
	return c.report(ctx, "admin_settlement", withQuery("/analytics/settlement", q))
}

// GetKPI は期間別（hourly, daily, weekly, monthly）のKPI時系列を取得する。
func (c *AdminClient) GetKPI(ctx context.Context, period string) (model.AnalyticsReport, error) {
	switch period {
	case "":
		period = "daily"
	case "hourly", "daily", "weekly", "monthly":
	default:
		return nil, model.NewValidationError(model.ErrCodeValidation, "不正な集計期間です: "+period)
	}
	return c.report(ctx, "admin_kpi", "/analytics/kpi?period="+period)
}

// GetMenuAnalytics はメニュー別の販売分析を取得する。
func (c *AdminClient) GetMenuAnalytics(ctx context.Context) (model.AnalyticsReport, error) {
	return c.report(ctx, "admin_menu_analytics", "/analytics/menus")
}

func (c *AdminClient) report(ctx context.Context, endpoint, suffix string) (model.AnalyticsReport, error) {
	var raw json.RawMessage
	if err := c.withToken(ctx, endpoint, http.MethodGet, suffix, nil, &raw); err != nil {
		return nil, err
	}
	return model.AnalyticsReport(raw), nil
}

func tablePath(tableNumber int, suffix string) string {
	return "/tables/" + strconv.Itoa(tableNumber) + suffix
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}
