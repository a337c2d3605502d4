package events

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/tableorder/internal/model"
)

type fakeTokens struct{}

func (fakeTokens) Token() (string, string, bool) { return "store1", "admin-token", true }
func (fakeTokens) Invalidate(context.Context)    {}

func newTestClient(baseURL string) *Client {
	c := NewClient(Options{
		BaseURL: baseURL,
		Logger:  slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})
	c.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return c
}

// recorder はonEventで受け取ったイベントを記録する。
type recorder struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 100)}
}

func (r *recorder) onEvent(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func (r *recorder) wait(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		r.mu.Lock()
		got := len(r.events)
		r.mu.Unlock()
		if got >= n {
			break
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("イベント数 = %d, want %d", got, n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func writeSSE(w http.ResponseWriter, s string) {
	fmt.Fprint(w, s)
	w.(http.Flusher).Flush()
}

func streamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.(http.Flusher).Flush()
}

func TestOpen_DispatchesEachEventOnce(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/stores/store1/events/orders" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		streamHeaders(w)
		writeSSE(w, "event: order_created\ndata: {\"id\":\"o1\",\"table_number\":3,\"status\":\"pending\"}\n\n")
		writeSSE(w, ": ping\n\n")
		writeSSE(w, "event: something_else\ndata: {}\n\n")
		writeSSE(w, "event: order_status_changed\ndata: {\"id\":\"o1\",\"status\":\"preparing\"}\n\n")
		writeSSE(w, "event: order_created\ndata: not-json\n\n")
		writeSSE(w, "event: order_deleted\ndata: {\"order_id\":\"o1\"}\n\n")
		<-r.Context().Done()
	}))
	defer ts.Close()

	rec := newRecorder()
	sub, err := newTestClient(ts.URL).Open(context.Background(), "store1", rec.onEvent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sub.Close()

	events := rec.wait(t, 3)

	if events[0].Type != EventOrderCreated || events[0].Order.ID != "o1" || events[0].Order.TableNumber != 3 {
		t.Errorf("events[0] = %+v", events[0])
	}
	if events[1].Type != EventOrderStatusChanged || events[1].Order.Status != model.OrderStatusPreparing {
		t.Errorf("events[1] = %+v", events[1])
	}
	if events[2].Type != EventOrderDeleted || events[2].OrderID != "o1" {
		t.Errorf("events[2] = %+v", events[2])
	}

	sub.Close()
	if got := len(rec.wait(t, 3)); got != 3 {
		t.Errorf("イベント数 = %d, want 3", got)
	}
}

func TestOpen_ReconnectsWithLastEventID(t *testing.T) {
	var connections atomic.Int32
	lastIDs := make(chan string, 4)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := connections.Add(1)
		lastIDs <- r.Header.Get("Last-Event-ID")
		streamHeaders(w)
		if n == 1 {
			writeSSE(w, "id: 7\nevent: order_created\ndata: {\"id\":\"o1\"}\n\n")
			return
		}
		writeSSE(w, "id: 8\nevent: order_created\ndata: {\"id\":\"o2\"}\n\n")
		<-r.Context().Done()
	}))
	defer ts.Close()

	rec := newRecorder()
	sub, err := newTestClient(ts.URL).Open(context.Background(), "store1", rec.onEvent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sub.Close()

	events := rec.wait(t, 2)
	if events[0].Order.ID != "o1" || events[1].Order.ID != "o2" {
		t.Errorf("events = %+v", events)
	}

	if first := <-lastIDs; first != "" {
		t.Errorf("初回接続のLast-Event-ID = %q, want empty", first)
	}
	if second := <-lastIDs; second != "7" {
		t.Errorf("再接続のLast-Event-ID = %q, want 7", second)
	}
}

func TestOpen_HonorsServerRetry(t *testing.T) {
	var connections atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := connections.Add(1)
		streamHeaders(w)
		if n == 1 {
			writeSSE(w, "retry: 1500\n\n")
			return
		}
		writeSSE(w, "event: order_created\ndata: {\"id\":\"o1\"}\n\n")
		<-r.Context().Done()
	}))
	defer ts.Close()

	var mu sync.Mutex
	var delays []time.Duration
	c := newTestClient(ts.URL)
	c.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return ctx.Err()
	}

	rec := newRecorder()
	sub, err := c.Open(context.Background(), "store1", rec.onEvent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sub.Close()
	rec.wait(t, 1)

	mu.Lock()
	defer mu.Unlock()
	if len(delays) == 0 || delays[0] != 1500*time.Millisecond {
		t.Errorf("delays = %v, want first 1.5s", delays)
	}
}

func TestOpen_InitialFailure_ReturnsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"Store not found"}`, http.StatusNotFound)
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).Open(context.Background(), "store1", func(Event) {})
	if model.KindOf(err) != model.ErrorKindNotFound {
		t.Errorf("kind = %q, want not_found", model.KindOf(err))
	}
}

func TestOpen_NotEventStream_ReturnsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[]`)
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).Open(context.Background(), "store1", func(Event) {})
	if model.KindOf(err) != model.ErrorKindServer {
		t.Errorf("kind = %q, want server", model.KindOf(err))
	}
}

func TestOpen_Validation(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1")

	if _, err := c.Open(context.Background(), " ", func(Event) {}); model.KindOf(err) != model.ErrorKindValidation {
		t.Errorf("kind = %q, want validation", model.KindOf(err))
	}
	if _, err := c.Open(context.Background(), "store1", nil); err == nil {
		t.Error("onEventがnilの場合はエラーを返すべきです")
	}
}

func TestOpen_StopsOnNonRetryableReconnect(t *testing.T) {
	var connections atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if connections.Add(1) == 1 {
			streamHeaders(w)
			writeSSE(w, ": hello\n\n")
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	sub, err := newTestClient(ts.URL).Open(context.Background(), "store1", func(Event) {})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-sub.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("回復不能なエラーで読み取りループが終了しませんでした")
	}
	if model.KindOf(sub.Err()) != model.ErrorKindNotFound {
		t.Errorf("Err() kind = %q, want not_found", model.KindOf(sub.Err()))
	}
	sub.Close()
}

func TestSubscription_Close_NoCallbacksAfterReturn(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamHeaders(w)
		for i := 0; ; i++ {
			select {
			case <-r.Context().Done():
				return
			default:
			}
			writeSSE(w, fmt.Sprintf("event: order_created\ndata: {\"id\":\"o%d\"}\n\n", i))
			time.Sleep(time.Millisecond)
		}
	}))
	defer ts.Close()

	var count atomic.Int32
	sub, err := newTestClient(ts.URL).Open(context.Background(), "store1", func(Event) { count.Add(1) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for count.Load() < 5 {
		if time.Now().After(deadline) {
			t.Fatal("イベントを受信できませんでした")
		}
		time.Sleep(time.Millisecond)
	}

	sub.Close()
	sub.Close()
	after := count.Load()
	time.Sleep(20 * time.Millisecond)

	if got := count.Load(); got != after {
		t.Errorf("Close後にコールバックが呼ばれました: %d → %d", after, got)
	}
	if sub.Err() != nil {
		t.Errorf("Closeで終了した場合のErr() = %v, want nil", sub.Err())
	}
}

func TestOpen_SendsBearerToken(t *testing.T) {
	var auth atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		streamHeaders(w)
		<-r.Context().Done()
	}))
	defer ts.Close()

	c := NewClient(Options{
		BaseURL: ts.URL,
		Logger:  slog.New(slog.NewJSONHandler(io.Discard, nil)),
		Tokens:  fakeTokens{},
	})
	sub, err := c.Open(context.Background(), "store1", func(Event) {})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sub.Close()

	if got, _ := auth.Load().(string); got != "Bearer admin-token" {
		t.Errorf("Authorization = %q, want %q", got, "Bearer admin-token")
	}
}

func TestOpen_LogsConnection(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamHeaders(w)
		<-r.Context().Done()
	}))
	defer ts.Close()

	var buf bytes.Buffer
	c := NewClient(Options{BaseURL: ts.URL, Logger: slog.New(slog.NewJSONHandler(&buf, nil))})
	sub, err := c.Open(context.Background(), "store1", func(Event) {})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sub.Close()

	if !bytes.Contains(buf.Bytes(), []byte(`"store_id":"store1"`)) {
		t.Errorf("接続ログにstore_idが含まれていません: %s", buf.String())
	}
}
