// Package api はバックエンドHTTP APIのクライアントを提供する。
//
// 全ての呼び出しは (データ, error) を返し、errorは常に *model.APIError となる。
// テーブル向けのTableClientは401を受けるとセッションを1回だけ更新して再送し、
// 同時に401を受けた他のリクエストは同じ更新の完了を待つ。
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hitoshi/tableorder/internal/metrics"
	"github.com/hitoshi/tableorder/internal/model"
	"github.com/hitoshi/tableorder/internal/security"
)

const (
	// defaultTimeout はリクエストごとのクライアント側タイムアウト。
	defaultTimeout = 10 * time.Second
	// maxErrorBodySize はエラーボディの読み取り上限。
	maxErrorBodySize = 64 * 1024
	// userAgent は全リクエストに付与するUser-Agent。
	userAgent = "tableorder/1.0"
)

// Options はClientの生成パラメータ。
type Options struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond int // 0以下の場合は無制限
	HTTPClient    *http.Client
	Logger        *slog.Logger
	Metrics       metrics.MetricsCollector
	Sanitizer     security.TextSanitizerService
}

// Client はバックエンドAPIへの共通の送信処理を持つ。
// テーブル認証と管理者ログインのようにセッション更新を伴わない呼び出しもここに置く。
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	sanitizer  security.TextSanitizerService
	newID      func() string // テスト用に差し替え可能
}

// NewClient はClientを生成する。
func NewClient(opts Options) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		timeout:    opts.Timeout,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		sanitizer:  opts.Sanitizer,
		newID:      uuid.NewString,
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
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
	if c.sanitizer == nil {
		c.sanitizer = security.NewTextSanitizer()
	}
	if opts.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.RatePerSecond)
	}
	return c
}

// request は1回のAPI呼び出しの内容。
type request struct {
	endpoint string // メトリクスとログのラベル
	method   string
	path     string // /api/stores/... のパス。クエリを含んでよい
	body     any
	token    string // 管理者APIのBearerトークン
	out      any
}

// do はリクエストを1回送信し、結果をoutにデコードする。
// 返すerrorはnilまたは *model.APIError。
func (c *Client) do(ctx context.Context, r request) error {
	start := time.Now()
	requestID := c.newID()

	apiErr := c.send(ctx, requestID, r)

	duration := time.Since(start)
	outcome := "ok"
	if apiErr != nil {
		outcome = string(apiErr.Kind)
	}
	c.metrics.RecordAPICall(r.endpoint, outcome, duration)

	if apiErr != nil {
		c.logger.Warn("API呼び出しに失敗しました",
			slog.String("endpoint", r.endpoint),
			slog.String("request_id", requestID),
			slog.Int("http_status", apiErr.Status),
			slog.String("error_kind", string(apiErr.Kind)),
			slog.String("error_code", apiErr.Code),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
		)
		return apiErr
	}

	c.logger.Debug("API呼び出しが完了しました",
		slog.String("endpoint", r.endpoint),
		slog.String("request_id", requestID),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}

func (c *Client) send(ctx context.Context, requestID string, r request) *model.APIError {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return ClassifyTransportError(err)
		}
	}

	var body io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return model.AsAPIError(fmt.Errorf("failed to encode request body: %w", err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return model.AsAPIError(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", requestID)
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ClassifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return Classify(resp.StatusCode, parseDetail(data))
	}

	if resp.StatusCode == http.StatusNoContent || r.out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(r.out); err != nil {
		if ctx.Err() != nil {
			return ClassifyTransportError(ctx.Err())
		}
		return model.NewServerError(resp.StatusCode, "サーバーの応答を解釈できませんでした。")
	}
	return nil
}

// AuthenticateTable はテーブル認証を行う。このエンドポイントはセッション更新の対象外。
func (c *Client) AuthenticateTable(ctx context.Context, storeID string, tableNumber int, password string) (*model.TableAuthResponse, error) {
	body := map[string]any{"table_number": tableNumber, "password": password}
	var out model.TableAuthResponse
	if err := c.do(ctx, request{
		endpoint: "authenticate_table",
		method:   http.MethodPost,
		path:     storePath(storeID, "/tables/auth"),
		body:     body,
		out:      &out,
	}); err != nil {
		return nil, err
	}
	if out.SessionID == "" {
		return nil, model.NewServerError(http.StatusOK, "セッションIDが返されませんでした。")
	}
	return &out, nil
}

// AdminLogin は管理者ログインを行う。
func (c *Client) AdminLogin(ctx context.Context, storeID, username, password string) (*model.AdminLoginResponse, error) {
	body := map[string]string{"username": username, "password": password}
	var out model.AdminLoginResponse
	if err := c.do(ctx, request{
		endpoint: "admin_login",
		method:   http.MethodPost,
		path:     storePath(storeID, "/admin/login"),
		body:     body,
		out:      &out,
	}); err != nil {
		return nil, err
	}
	return &out, nil
}

// AdminLogout は管理者ログアウトをバックエンドに通知する。
func (c *Client) AdminLogout(ctx context.Context, storeID, token string) error {
	return c.do(ctx, request{
		endpoint: "admin_logout",
		method:   http.MethodPost,
		path:     storePath(storeID, "/admin/logout"),
		token:    token,
	})
}

// sanitizeMenus はバックエンド由来のメニュー文言からマークアップを除去する。
func (c *Client) sanitizeMenus(menus []model.Menu) {
	for i := range menus {
		c.sanitizeMenu(&menus[i])
	}
}

func (c *Client) sanitizeMenu(m *model.Menu) {
	m.Name = c.sanitizer.Sanitize(m.Name)
	m.Description = c.sanitizer.Sanitize(m.Description)
	m.Category = c.sanitizer.Sanitize(m.Category)
}

// storePath は /api/stores/{storeID}{suffix} を返す。
func storePath(storeID, suffix string) string {
	return "/api/stores/" + url.PathEscape(storeID) + suffix
}
