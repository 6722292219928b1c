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
// ミドルウェアやサービス層から利用する。
type MetricsCollector interface {
	RecordGateDecision(class string, decision string)
	RecordLimiterOutcome(action string, outcome string)
	RecordProviderLatency(operation string, duration time.Duration)
	RecordCMSLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	gateDecisions   *prometheus.CounterVec
	limiterOutcomes *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	cmsLatency      prometheus.Histogram
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "starterkit_gate_decisions_total",
			Help: "セッションゲートの判定数（ルート分類・判定別）",
		}, []string{"class", "decision"}),
		limiterOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "starterkit_limiter_outcomes_total",
			Help: "試行回数制限の判定数（アクション・結果別）",
		}, []string{"action", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "starterkit_provider_latency_seconds",
			Help:    "認証基盤API呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		cmsLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "starterkit_cms_latency_seconds",
			Help:    "CMS API呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "starterkit_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.gateDecisions,
		c.limiterOutcomes,
		c.providerLatency,
		c.cmsLatency,
		c.httpStatus,
	)

	return c
}

// RecordGateDecision はセッションゲートの判定を記録する。
// decisionはcontinue/redirect_login/redirect_dashboard/bypassのいずれか。
func (c *Collector) RecordGateDecision(class string, decision string) {
	c.gateDecisions.WithLabelValues(class, decision).Inc()
}

// RecordLimiterOutcome は試行回数制限の判定を記録する。
// outcomeはallowed/denied/store_errorのいずれか。
func (c *Collector) RecordLimiterOutcome(action string, outcome string) {
	c.limiterOutcomes.WithLabelValues(action, outcome).Inc()
}

// RecordProviderLatency は認証基盤API呼び出しのレイテンシを記録する。
func (c *Collector) RecordProviderLatency(operation string, duration time.Duration) {
	c.providerLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCMSLatency はCMS API呼び出しのレイテンシを記録する。
func (c *Collector) RecordCMSLatency(duration time.Duration) {
	c.cmsLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
