// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// APIクライアント、イベントストリーム、ストレージ、ローカルHTTPサーバーから利用する。
type MetricsCollector interface {
	RecordAPICall(endpoint, outcome string, duration time.Duration)
	RecordRenewal(outcome string)
	RecordStreamEvent(eventType string)
	RecordStreamReconnect()
	RecordStorageFailure(op string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	apiCalls         *prometheus.CounterVec
	apiLatency       *prometheus.HistogramVec
	renewals         *prometheus.CounterVec
	streamEvents     *prometheus.CounterVec
	streamReconnects prometheus.Counter
	storageFailures  *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tableorder_api_calls_total",
			Help: "バックエンドAPI呼び出し数（結果分類別）",
		}, []string{"endpoint", "outcome"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tableorder_api_latency_seconds",
			Help:    "バックエンドAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tableorder_session_renewals_total",
			Help: "セッション更新の実行数（結果別）",
		}, []string{"outcome"}),
		streamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tableorder_stream_events_total",
			Help: "受信した注文イベント数（種別別）",
		}, []string{"event_type"}),
		streamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tableorder_stream_reconnects_total",
			Help: "イベントストリームの再接続回数",
		}),
		storageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tableorder_storage_failures_total",
			Help: "ローカル永続化の失敗数（操作別）",
		}, []string{"op"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tableorder_http_status_total",
			Help: "ローカルHTTP APIのステータスコード別レスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.apiCalls,
		c.apiLatency,
		c.renewals,
		c.streamEvents,
		c.streamReconnects,
		c.storageFailures,
		c.httpStatus,
	)

	return c
}

// RecordAPICall はAPI呼び出しの結果とレイテンシを記録する。
// outcomeは成功時"ok"、失敗時はエラー分類。
func (c *Collector) RecordAPICall(endpoint, outcome string, duration time.Duration) {
	c.apiCalls.WithLabelValues(endpoint, outcome).Inc()
	c.apiLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordRenewal はセッション更新の結果を記録する。
func (c *Collector) RecordRenewal(outcome string) {
	c.renewals.WithLabelValues(outcome).Inc()
}

// RecordStreamEvent は受信イベントを記録する。
func (c *Collector) RecordStreamEvent(eventType string) {
	c.streamEvents.WithLabelValues(eventType).Inc()
}

// RecordStreamReconnect はストリームの再接続を記録する。
func (c *Collector) RecordStreamReconnect() {
	c.streamReconnects.Inc()
}

// RecordStorageFailure は永続化の失敗を記録する。
func (c *Collector) RecordStorageFailure(op string) {
	c.storageFailures.WithLabelValues(op).Inc()
}

// RecordHTTPStatus はローカルHTTP APIのステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。メトリクス不要なテストや構成で使用する。
type Nop struct{}

func (Nop) RecordAPICall(string, string, time.Duration) {}
func (Nop) RecordRenewal(string)                        {}
func (Nop) RecordStreamEvent(string)                    {}
func (Nop) RecordStreamReconnect()                      {}
func (Nop) RecordStorageFailure(string)                 {}
func (Nop) RecordHTTPStatus(int)                        {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
