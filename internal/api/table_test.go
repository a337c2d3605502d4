package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/tableorder/internal/model"
)

// fakeSession はSessionSourceのモック。RenewStaleは新しいセッションIDに差し替える。
type fakeSession struct {
	mu  sync.Mutex
	ref SessionRef
	ok  bool

	renewCalls  int32
	expireCalls int32
	RenewFn     func(ctx context.Context) error
}

func newFakeSession(sessionID string) *fakeSession {
	return &fakeSession{
		ref: SessionRef{StoreID: "store1", TableNumber: 3, SessionID: sessionID, Generation: 1},
		ok:  true,
	}
}

func (f *fakeSession) CurrentSession() (SessionRef, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ref, f.ok
}

func (f *fakeSession) RenewStale(ctx context.Context, stale uint64) error {
	atomic.AddInt32(&f.renewCalls, 1)
	if f.RenewFn != nil {
		return f.RenewFn(ctx)
	}
	// 待機中のリクエストが溜まるよう少し待つ
	time.Sleep(50 * time.Millisecond)
	f.mu.Lock()
	f.ref.SessionID = "new-session"
	f.ref.Generation++
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) Expire(ctx context.Context) {
	atomic.AddInt32(&f.expireCalls, 1)
	f.mu.Lock()
	f.ok = false
	f.mu.Unlock()
}

// sessionServer は new-session 以外のセッションIDに401を返すテスト用バックエンド。
func sessionServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if !strings.Contains(r.URL.Path, "/sessions/new-session/") {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"detail":"Session expired"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{"id":"o1","order_number":"A-1","status":"pending","total_amount":9000}]`)
	}))
}

func TestTableClient_NotAuthenticated_DoesNotCallBackend(t *testing.T) {
	var hits int32
	server := sessionServer(t, &hits)
	defer server.Close()

	session := newFakeSession("old")
	session.ok = false
	c := NewTableClient(newTestClient(t, server.URL), session)

	_, err := c.GetSessionOrders(context.Background())
	apiErr := asAPIError(t, err)
	if apiErr.Code != model.ErrCodeNotAuthenticated {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeNotAuthenticated)
	}
	if hits != 0 {
		t.Errorf("backend hits = %d, want 0", hits)
	}
}

func TestTableClient_401_RenewsAndReplays(t *testing.T) {
	var hits int32
	server := sessionServer(t, &hits)
	defer server.Close()

	session := newFakeSession("old")
	c := NewTableClient(newTestClient(t, server.URL), session)

	orders, err := c.GetSessionOrders(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != "o1" {
		t.Errorf("orders = %+v", orders)
	}
	if session.renewCalls != 1 {
		t.Errorf("renew calls = %d, want 1", session.renewCalls)
	}
	if hits != 2 {
		t.Errorf("backend hits = %d, want 2 (original + replay)", hits)
	}
}

// TestTableClient_Concurrent401_SingleRenewal は同時に401を受けても更新が1回だけ行われることを検証する。
func TestTableClient_Concurrent401_SingleRenewal(t *testing.T) {
	var hits int32
	server := sessionServer(t, &hits)
	defer server.Close()

	session := newFakeSession("old")
	c := NewTableClient(newTestClient(t, server.URL), session)

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.GetSessionOrders(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("request %d failed: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&session.renewCalls); got != 1 {
		t.Errorf("renew calls = %d, want exactly 1", got)
	}
	if session.expireCalls != 0 {
		t.Errorf("expire calls = %d, want 0", session.expireCalls)
	}
}

// TestTableClient_RenewalFailure_AllWaitersFail は更新失敗時に待機中の全リクエストが更新エラーで失敗することを検証する。
func TestTableClient_RenewalFailure_AllWaitersFail(t *testing.T) {
	var hits int32
	server := sessionServer(t, &hits)
	defer server.Close()

	session := newFakeSession("old")
	session.RenewFn = func(ctx context.Context) error {
		time.Sleep(50 * time.Millisecond)
		return model.NewServerError(500, "renewal failed")
	}
	c := NewTableClient(newTestClient(t, server.URL), session)

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.GetSessionOrders(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		apiErr := asAPIError(t, err)
		if apiErr.Message != "renewal failed" {
			t.Errorf("request %d: message = %q, want renewal error", i, apiErr.Message)
		}
	}
	if got := atomic.LoadInt32(&session.renewCalls); got < 1 || got > n {
		t.Errorf("renew calls = %d", got)
	}
	// 全員が1回の送信のみで、再送は行われない
	if got := atomic.LoadInt32(&hits); got != n {
		t.Errorf("backend hits = %d, want %d", got, n)
	}
}

// TestTableClient_SecondUnauthorized_IsTerminal は再送後の401が回復不能として扱われることを検証する。
func TestTableClient_SecondUnauthorized_IsTerminal(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"detail":"Session expired"}`)
	}))
	defer server.Close()

	session := newFakeSession("old")
	c := NewTableClient(newTestClient(t, server.URL), session)

	_, err := c.GetOrder(context.Background(), "o1")
	apiErr := asAPIError(t, err)
	if apiErr.Kind != model.ErrorKindSessionExpired || apiErr.Retryable {
		t.Errorf("got kind=%q retryable=%v", apiErr.Kind, apiErr.Retryable)
	}
	if hits != 2 {
		t.Errorf("backend hits = %d, want 2 (retried at most once)", hits)
	}
	if session.renewCalls != 1 {
		t.Errorf("renew calls = %d, want 1", session.renewCalls)
	}
	if session.expireCalls != 1 {
		t.Errorf("expire calls = %d, want 1", session.expireCalls)
	}
}

// TestTableClient_CreateOrder_InjectsCurrentSession は再送時に更新後のセッションIDが使われることを検証する。
func TestTableClient_CreateOrder_InjectsCurrentSession(t *testing.T) {
	var sessionIDs []string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/stores/store1/tables/3/orders" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body model.CreateOrderRequest
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		sessionIDs = append(sessionIDs, body.SessionID)
		mu.Unlock()

		if body.SessionID != "new-session" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if len(body.Items) != 1 || body.Items[0].MenuID != "m1" || body.Items[0].Quantity != 2 {
			t.Errorf("items = %+v", body.Items)
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":"o1","order_number":"A-1","total_amount":18000,"status":"pending","items":[{"menu_id":"m1","quantity":2}]}`)
	}))
	defer server.Close()

	session := newFakeSession("old")
	c := NewTableClient(newTestClient(t, server.URL), session)

	order, err := c.CreateOrder(context.Background(), []model.OrderLine{{MenuID: "m1", Quantity: 2}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.TotalAmount != 18000 || order.Status != model.OrderStatusPending {
		t.Errorf("order = %+v", order)
	}
	if len(sessionIDs) != 2 || sessionIDs[0] != "old" || sessionIDs[1] != "new-session" {
		t.Errorf("session ids = %v, want [old new-session]", sessionIDs)
	}
}

func TestTableClient_GetMenus_SanitizesAndFilters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/stores/store1/menus" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("category"); got != "메인 요리" {
			t.Errorf("category = %q", got)
		}
		io.WriteString(w, `[{"id":"m1","name":"<b>Kimchi Stew</b>","price":9000,"description":"spicy<script>x()</script>","category":"메인 요리","is_available":true}]`)
	}))
	defer server.Close()

	c := NewTableClient(newTestClient(t, server.URL), newFakeSession("s1"))
	menus, err := c.GetMenus(context.Background(), "메인 요리")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(menus) != 1 {
		t.Fatalf("len(menus) = %d", len(menus))
	}
	if menus[0].Name != "Kimchi Stew" || menus[0].Description != "spicy" {
		t.Errorf("menu text not sanitized: %+v", menus[0])
	}
}

func TestTableClient_NonAuthErrors_NoRenewal(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   model.ErrorKind
	}{
		{"404", http.StatusNotFound, model.ErrorKindNotFound},
		{"422", http.StatusUnprocessableEntity, model.ErrorKindValidation},
		{"500", http.StatusInternalServerError, model.ErrorKindServer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			session := newFakeSession("s1")
			c := NewTableClient(newTestClient(t, server.URL), session)
			_, err := c.GetOrder(context.Background(), "o1")
			if model.KindOf(err) != tt.kind {
				t.Errorf("Kind = %q, want %q", model.KindOf(err), tt.kind)
			}
			if session.renewCalls != 0 {
				t.Errorf("renew calls = %d, want 0", session.renewCalls)
			}
		})
	}
}
