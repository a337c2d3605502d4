// Package events は店舗の注文イベントストリーム（Server-Sent Events）のクライアントを提供する。
//
// 接続が切れた場合は指数バックオフで自動的に再接続し、呼び出し元には通知しない。
// 同じ注文のorder_createdが重複して届くことがあり、重複の除去は購読側で行う。
package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/tableorder/internal/api"
	"github.com/hitoshi/tableorder/internal/metrics"
	"github.com/hitoshi/tableorder/internal/model"
)

// EventType は注文イベントの種別。
type EventType string

const (
	EventOrderCreated       EventType = "order_created"
	EventOrderStatusChanged EventType = "order_status_changed"
	EventOrderDeleted       EventType = "order_deleted"
)

// Event は受信した注文イベント。
// order_created/order_status_changedではOrder、order_deletedではOrderIDが設定される。
type Event struct {
	Type    EventType
	ID      string
	Order   model.Order
	OrderID string
}

// Options はClientの生成パラメータ。
type Options struct {
	BaseURL        string
	HTTPClient     *http.Client // タイムアウトを設定しないこと（長時間接続のため）
	Logger         *slog.Logger
	Metrics        metrics.MetricsCollector
	Tokens         api.TokenSource // 任意。設定時はBearerトークンを付与する
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Client はイベントストリームへの接続を生成する。
type Client struct {
	baseURL        string
	httpClient     *http.Client
	logger         *slog.Logger
	metrics        metrics.MetricsCollector
	tokens         api.TokenSource
	initialBackoff time.Duration
	maxBackoff     time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewClient はClientを生成する。
func NewClient(opts Options) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		httpClient:     opts.HTTPClient,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		tokens:         opts.Tokens,
		initialBackoff: opts.InitialBackoff,
		maxBackoff:     opts.MaxBackoff,
		sleep:          sleepContext,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = metrics.Nop{}
	}
	if c.initialBackoff <= 0 {
		c.initialBackoff = defaultInitialBackoff
	}
	if c.maxBackoff <= 0 {
		c.maxBackoff = defaultMaxBackoff
	}
	return c
}

// Subscription は開いているイベントストリーム。Closeで必ず閉じること。
type Subscription struct {
	client  *Client
	storeID string
	onEvent func(Event)

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	// 読み取りループのgoroutineだけが触る
	lastEventID string
	retry       time.Duration

	errMu sync.Mutex
	err   error
}

// Open は店舗storeIDのイベントストリームに接続する。
// 最初の接続に失敗した場合はエラーを返す。接続後の切断は自動的に再接続する。
// onEventは受信したイベントごとに1回、読み取りループのgoroutineから呼ばれる。
// onEventの中からCloseを呼んではならない。
func (c *Client) Open(ctx context.Context, storeID string, onEvent func(Event)) (*Subscription, error) {
	if strings.TrimSpace(storeID) == "" {
		return nil, model.NewValidationError(model.ErrCodeValidation, "店舗IDが指定されていません。")
	}
	if onEvent == nil {
		return nil, errors.New("onEvent must not be nil")
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		client:  c,
		storeID: storeID,
		onEvent: onEvent,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	body, err := c.connect(ctx, storeID, "")
	if err != nil {
		cancel()
		return nil, err
	}

	c.logger.Info("注文イベントストリームに接続しました", slog.String("store_id", storeID))
	go s.run(ctx, body)
	return s, nil
}

// Close はストリームを閉じ、読み取りループの終了を待つ。
// Closeから戻った後にonEventが呼ばれることはない。何度呼んでもよい。
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		s.client.logger.Info("注文イベントストリームを閉じました", slog.String("store_id", s.storeID))
	})
}

// Done は読み取りループが終了したときに閉じるチャネルを返す。
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err は再接続を諦めて終了した場合の原因を返す。Closeで終了した場合はnil。
func (s *Subscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// run は受信と再接続を繰り返す。ctxがキャンセルされるまで終了しない。
// 再接続しても回復しないエラー（404など）の場合のみ途中で終了する。
func (s *Subscription) run(ctx context.Context, body io.ReadCloser) {
	defer close(s.done)

	failures := 0
	for {
		received, err := s.consume(ctx, body)
		if ctx.Err() != nil {
			return
		}
		if received {
			failures = 0
		}
		s.client.logger.Warn("注文イベントストリームが切断されました",
			slog.String("store_id", s.storeID),
			slog.String("error", errString(err)),
		)

		for {
			initial := s.client.initialBackoff
			if s.retry > 0 {
				initial = s.retry
			}
			delay := CalculateBackoff(failures, initial, s.client.maxBackoff)
			failures++

			if err := s.client.sleep(ctx, delay); err != nil {
				return
			}

			s.client.metrics.RecordStreamReconnect()
			body, err = s.client.connect(ctx, s.storeID, s.lastEventID)
			if err == nil {
				s.client.logger.Info("注文イベントストリームに再接続しました",
					slog.String("store_id", s.storeID),
					slog.Int("attempt", failures),
				)
				break
			}
			if ctx.Err() != nil {
				return
			}
			if !model.IsRetryable(err) {
				s.client.logger.Error("注文イベントストリームの再接続を中止しました",
					slog.String("store_id", s.storeID),
					slog.String("error", err.Error()),
				)
				s.errMu.Lock()
				s.err = err
				s.errMu.Unlock()
				return
			}
			s.client.logger.Warn("注文イベントストリームの再接続に失敗しました",
				slog.String("store_id", s.storeID),
				slog.Int("attempt", failures),
				slog.String("error", err.Error()),
			)
		}
	}
}

// consume はbodyが終わるまでイベントを読み、onEventに渡す。
// 1件でもframeを受信した場合はreceived=trueを返す。
func (s *Subscription) consume(ctx context.Context, body io.ReadCloser) (received bool, err error) {
	defer body.Close()

	dec := newDecoder(body)
	for {
		f, err := dec.next()
		if err != nil {
			return received, err
		}
		received = true

		if f.hasID {
			s.lastEventID = f.id
		}
		if f.hasRetry {
			s.retry = f.retry
		}
		if !f.hasData {
			continue
		}

		ev, ok := s.decodeEvent(f)
		if !ok {
			continue
		}
		if ctx.Err() != nil {
			return received, ctx.Err()
		}
		s.client.metrics.RecordStreamEvent(string(ev.Type))
		s.onEvent(ev)
	}
}

// decodeEvent はframeをEventに変換する。未知のイベント名と不正なJSONは捨てる。
func (s *Subscription) decodeEvent(f frame) (Event, bool) {
	ev := Event{Type: EventType(f.event), ID: f.id}

	var err error
	switch ev.Type {
	case EventOrderCreated, EventOrderStatusChanged:
		err = json.Unmarshal([]byte(f.data), &ev.Order)
		if err == nil && ev.Order.ID == "" {
			err = errors.New("order id is empty")
		}
	case EventOrderDeleted:
		var payload model.OrderDeleted
		err = json.Unmarshal([]byte(f.data), &payload)
		if err == nil && payload.OrderID == "" {
			err = errors.New("order_id is empty")
		}
		ev.OrderID = payload.OrderID
	default:
		s.client.logger.Debug("未知のイベントを無視しました",
			slog.String("store_id", s.storeID),
			slog.String("event", f.event),
		)
		return Event{}, false
	}

	if err != nil {
		s.client.logger.Warn("イベントのパースに失敗しました",
			slog.String("store_id", s.storeID),
			slog.String("event", f.event),
			slog.String("error", err.Error()),
		)
		return Event{}, false
	}
	return ev, true
}

// connect はストリームのリクエストを送信し、200かつtext/event-streamの応答ボディを返す。
func (c *Client) connect(ctx context.Context, storeID, lastEventID string) (io.ReadCloser, error) {
	endpoint := c.baseURL + "/api/stores/" + url.PathEscape(storeID) + "/events/orders"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, model.NewNetworkError(err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	if c.tokens != nil {
		if _, token, ok := c.tokens.Token(); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, api.ClassifyTransportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, api.Classify(resp.StatusCode, "")
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "text/event-stream" {
		resp.Body.Close()
		return nil, model.NewServerError(resp.StatusCode, "イベントストリーム以外の応答を受信しました。")
	}
	return resp.Body, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func errString(err error) string {
	if err == nil {
		return "EOF"
	}
	return err.Error()
}
