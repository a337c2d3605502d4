package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/tableorder/internal/board"
	"github.com/hitoshi/tableorder/internal/metrics"
	"github.com/hitoshi/tableorder/internal/middleware"
	"github.com/hitoshi/tableorder/internal/model"
	"github.com/hitoshi/tableorder/internal/storage"
)

// mockAdmins はAdminSessionsとmiddleware.TokenCheckerのモック実装。
type mockAdmins struct {
	auth    *model.AdminAuth
	loginFn func(ctx context.Context, storeID, username, password string) (*model.AdminAuth, error)
}

func (m *mockAdmins) Login(ctx context.Context, storeID, username, password string) (*model.AdminAuth, error) {
	if m.loginFn != nil {
		a, err := m.loginFn(ctx, storeID, username, password)
		if err == nil {
			m.auth = a
		}
		return a, err
	}
	return nil, nil
}

func (m *mockAdmins) Logout(context.Context) { m.auth = nil }

func (m *mockAdmins) Current() (model.AdminAuth, bool) {
	if m.auth == nil {
		return model.AdminAuth{}, false
	}
	return *m.auth, true
}

func (m *mockAdmins) Token() (string, string, bool) {
	if m.auth == nil {
		return "", "", false
	}
	return m.auth.StoreID, m.auth.Token, true
}

// mockOrderAdmin はOrderAdminのモック実装。
type mockOrderAdmin struct {
	updateOrderStatusFn func(ctx context.Context, orderID string, status model.OrderStatus) (*model.Order, error)
	deleteOrderFn       func(ctx context.Context, orderID string) error
	updateCalls         int
}

func (m *mockOrderAdmin) UpdateOrderStatus(ctx context.Context, orderID string, status model.OrderStatus) (*model.Order, error) {
	m.updateCalls++
	if m.updateOrderStatusFn != nil {
		return m.updateOrderStatusFn(ctx, orderID, status)
	}
	return &model.Order{ID: orderID, Status: status}, nil
}

func (m *mockOrderAdmin) DeleteOrder(ctx context.Context, orderID string) error {
	if m.deleteOrderFn != nil {
		return m.deleteOrderFn(ctx, orderID)
	}
	return nil
}

type boardFixture struct {
	router   http.Handler
	admins   *mockAdmins
	orders   *mockOrderAdmin
	board    *board.Board
	registry *prometheus.Registry
}

func loggedInAdmin() *model.AdminAuth {
	return &model.AdminAuth{StoreID: "store1", Token: "tok", User: model.AdminUser{ID: "u1", Username: "admin", Role: "manager"}}
}

func newBoardFixture(t *testing.T, admin *model.AdminAuth) *boardFixture {
	t.Helper()

	b := board.New(context.Background(), storage.NewSafeStore(storage.NewMemoryStore(), discardLogger(), nil), discardLogger())
	reg := prometheus.NewRegistry()
	f := &boardFixture{
		admins:   &mockAdmins{auth: admin},
		orders:   &mockOrderAdmin{},
		board:    b,
		registry: reg,
	}
	f.router = NewBoardRouter(&BoardDeps{
		CommonDeps: CommonDeps{
			Logger:            discardLogger(),
			Metrics:           metrics.NewCollector(reg),
			MetricsHandler:    metrics.Handler(reg),
			CORSAllowedOrigin: "http://localhost:5173",
		},
		Admins:       f.admins,
		TokenChecker: f.admins,
		Board:        b,
		OrderAdmin:   f.orders,
	})
	return f
}

func (f *boardFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestBoard_RequiresAdmin(t *testing.T) {
	f := newBoardFixture(t, nil)

	routes := []struct{ method, path string }{
		{http.MethodGet, "/api/board/orders"},
		{http.MethodPatch, "/api/board/orders/o1/status"},
		{http.MethodDelete, "/api/board/orders/o1"},
		{http.MethodPost, "/api/board/sound/toggle"},
	}
	for _, rt := range routes {
		if w := f.do(t, rt.method, rt.path, `{}`); w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want %d", rt.method, rt.path, w.Code, http.StatusUnauthorized)
		}
	}
}

func TestBoard_LoginThenListOrders(t *testing.T) {
	f := newBoardFixture(t, nil)
	f.admins.loginFn = func(_ context.Context, storeID, username, password string) (*model.AdminAuth, error) {
		if username != "admin" || password != "pw" {
			return nil, model.NewSessionExpiredError("ログインに失敗しました。")
		}
		return loggedInAdmin(), nil
	}

	w := f.do(t, http.MethodPost, "/api/board/session/login", `{"store_id":"store1","username":"admin","password":"bad"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("不正なパスワードの status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	w = f.do(t, http.MethodPost, "/api/board/session/login", `{"store_id":"store1","username":"admin","password":"pw"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "tok") {
		t.Errorf("レスポンスにトークンを含めてはならない: %s", w.Body.String())
	}
	if got := decodeBody[adminResponse](t, w); !got.LoggedIn || got.User == nil || got.User.Username != "admin" {
		t.Errorf("admin = %+v", got)
	}

	if w := f.do(t, http.MethodGet, "/api/board/orders", ""); w.Code != http.StatusOK {
		t.Errorf("ログイン後の注文一覧 status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestBoard_Logout(t *testing.T) {
	f := newBoardFixture(t, loggedInAdmin())

	if w := f.do(t, http.MethodPost, "/api/board/session/logout", ""); w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	w := f.do(t, http.MethodGet, "/api/board/session", "")
	if got := decodeBody[adminResponse](t, w); got.LoggedIn {
		t.Errorf("admin = %+v, want logged out", got)
	}
}

func TestBoard_ListOrders_SortedAndFiltered(t *testing.T) {
	f := newBoardFixture(t, loggedInAdmin())
	f.board.SeedTableOrders([]model.Order{
		{ID: "o2", TableNumber: 1, CreatedAt: "2026-10-14T12:05:00Z", Status: model.OrderStatusPending},
		{ID: "o1", TableNumber: 1, CreatedAt: "2026-10-14T12:00:00Z", Status: model.OrderStatusPending},
		{ID: "o3", TableNumber: 2, CreatedAt: "2026-10-14T12:01:00Z", Status: model.OrderStatusPending},
	})

	all := decodeBody[[]model.Order](t, f.do(t, http.MethodGet, "/api/board/orders", ""))
	if len(all) != 3 || all[0].ID != "o1" || all[1].ID != "o3" || all[2].ID != "o2" {
		t.Errorf("orders = %+v, want o1,o3,o2", all)
	}

	table1 := decodeBody[[]model.Order](t, f.do(t, http.MethodGet, "/api/board/orders?table=1", ""))
	if len(table1) != 2 || table1[0].ID != "o1" {
		t.Errorf("table 1 orders = %+v", table1)
	}

	if got := f.do(t, http.MethodGet, "/api/board/orders?table=9", ""); strings.TrimSpace(got.Body.String()) != "[]" {
		t.Errorf("body = %s, want []", got.Body.String())
	}
	if got := f.do(t, http.MethodGet, "/api/board/orders?table=x", ""); got.Code != http.StatusBadRequest {
		t.Errorf("table=x status = %d, want %d", got.Code, http.StatusBadRequest)
	}
}

func TestBoard_UpdateOrderStatus(t *testing.T) {
	f := newBoardFixture(t, loggedInAdmin())
	f.board.Upsert(model.Order{ID: "o1", Status: model.OrderStatusPending})

	w := f.do(t, http.MethodPatch, "/api/board/orders/o1/status", `{"status":"preparing"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if got, _ := f.board.Get("o1"); got.Status != model.OrderStatusPreparing {
		t.Errorf("board status = %q, want preparing", got.Status)
	}
}

func TestBoard_UpdateOrderStatus_InvalidTransition_NotSent(t *testing.T) {
	f := newBoardFixture(t, loggedInAdmin())
	f.board.Upsert(model.Order{ID: "o1", Status: model.OrderStatusCompleted})

	w := f.do(t, http.MethodPatch, "/api/board/orders/o1/status", `{"status":"pending"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := decodeBody[middleware.ErrorResponseBody](t, w); body.Code != model.ErrCodeInvalidStatus {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidStatus)
	}
	if f.orders.updateCalls != 0 {
		t.Errorf("update calls = %d, want 0", f.orders.updateCalls)
	}
}

func TestBoard_UpdateOrderStatus_BackendError(t *testing.T) {
	f := newBoardFixture(t, loggedInAdmin())
	f.orders.updateOrderStatusFn = func(context.Context, string, model.OrderStatus) (*model.Order, error) {
		return nil, model.NewNotFoundError("注文が見つかりません。")
	}

	w := f.do(t, http.MethodPatch, "/api/board/orders/missing/status", `{"status":"preparing"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestBoard_DeleteOrder(t *testing.T) {
	f := newBoardFixture(t, loggedInAdmin())
	f.board.Upsert(model.Order{ID: "o1", Status: model.OrderStatusPending})

	var deleted string
	f.orders.deleteOrderFn = func(_ context.Context, orderID string) error {
		deleted = orderID
		return nil
	}

	if w := f.do(t, http.MethodDelete, "/api/board/orders/o1", ""); w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if deleted != "o1" {
		t.Errorf("deleted = %q, want o1", deleted)
	}
	if f.board.Len() != 0 {
		t.Errorf("board len = %d, want 0", f.board.Len())
	}
}

func TestBoard_DeleteOrder_FailureKeepsOrder(t *testing.T) {
	f := newBoardFixture(t, loggedInAdmin())
	f.board.Upsert(model.Order{ID: "o1", Status: model.OrderStatusPending})
	f.orders.deleteOrderFn = func(context.Context, string) error {
		return model.NewServerError(500, "")
	}

	if w := f.do(t, http.MethodDelete, "/api/board/orders/o1", ""); w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadGateway)
	}
	if f.board.Len() != 1 {
		t.Errorf("board len = %d, want 1", f.board.Len())
	}
}

func TestBoard_ToggleSound(t *testing.T) {
	f := newBoardFixture(t, loggedInAdmin())

	if got := decodeBody[soundResponse](t, f.do(t, http.MethodGet, "/api/board/sound", "")); !got.Enabled {
		t.Error("通知音のデフォルトは有効")
	}
	if got := decodeBody[soundResponse](t, f.do(t, http.MethodPost, "/api/board/sound/toggle", "")); got.Enabled {
		t.Error("切り替え後は無効になる")
	}
}

func TestBoard_MetricsEndpoint(t *testing.T) {
	f := newBoardFixture(t, loggedInAdmin())
	f.do(t, http.MethodGet, "/health", "")

	w := f.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "tableorder_http_status_total") {
		t.Errorf("metrics body does not contain tableorder_http_status_total:\n%s", w.Body.String())
	}
}
