// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// バックエンド呼び出しと変更フィードの観測に使う。
type Collector struct {
	backendRequests *prometheus.CounterVec
	backendLatency  prometheus.Histogram
	realtimeEvents  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		backendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todosync_backend_requests_total",
			Help: "バックエンド呼び出しの合計数（操作・結果別）",
		}, []string{"op", "outcome"}),
		backendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "todosync_backend_latency_seconds",
			Help:    "バックエンド呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		realtimeEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "todosync_realtime_events_total",
			Help: "変更フィードから受信したイベントの合計数",
		}),
	}

	reg.MustRegister(
		c.backendRequests,
		c.backendLatency,
		c.realtimeEvents,
	)

	return c
}

// RecordBackendRequest はバックエンド呼び出しの結果とレイテンシを記録する。
func (c *Collector) RecordBackendRequest(op string, err error, duration time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.backendRequests.WithLabelValues(op, outcome).Inc()
	c.backendLatency.Observe(duration.Seconds())
}

// RecordRealtimeEvent は変更フィードからのイベント受信を記録する。
func (c *Collector) RecordRealtimeEvent() {
	c.realtimeEvents.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
