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
// APIクライアントやワーカーから利用する。
type MetricsCollector interface {
	RecordAPIRequest(op string, statusCode int, duration time.Duration)
	RecordQuestAction(action string)
	RecordAccountResult(success bool)
	RecordPass(totalBalance float64, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	apiRequests  *prometheus.CounterVec
	apiLatency   *prometheus.HistogramVec
	questActions *prometheus.CounterVec
	accounts     *prometheus.CounterVec
	passes       prometheus.Counter
	passBalance  prometheus.Gauge
	passDuration prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pawsquest_api_requests_total",
			Help: "API呼び出し数（呼び出し名・HTTPステータス別）",
		}, []string{"op", "status_code"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pawsquest_api_latency_seconds",
			Help:    "API呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		questActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pawsquest_quest_actions_total",
			Help: "クエスト処理のアクション別件数",
		}, []string{"action"}),
		accounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pawsquest_accounts_processed_total",
			Help: "処理したアカウント数（結果別）",
		}, []string{"result"}),
		passes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pawsquest_passes_total",
			Help: "完了したパスの合計数",
		}),
		passBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pawsquest_pass_total_balance",
			Help: "直近のパスにおける全アカウントの合計残高",
		}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pawsquest_pass_duration_seconds",
			Help:    "パス1回の所要時間（秒）",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}),
	}

	reg.MustRegister(
		c.apiRequests,
		c.apiLatency,
		c.questActions,
		c.accounts,
		c.passes,
		c.passBalance,
		c.passDuration,
	)

	return c
}

// RecordAPIRequest はAPI呼び出しの結果を記録する。
// トランスポートエラー時のstatusCodeは0として記録される。
func (c *Collector) RecordAPIRequest(op string, statusCode int, duration time.Duration) {
	c.apiRequests.WithLabelValues(op, strconv.Itoa(statusCode)).Inc()
	c.apiLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordQuestAction はクエスト処理のアクションを記録する。
func (c *Collector) RecordQuestAction(action string) {
	c.questActions.WithLabelValues(action).Inc()
}

// RecordAccountResult はアカウント処理の成否を記録する。
func (c *Collector) RecordAccountResult(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.accounts.WithLabelValues(result).Inc()
}

// RecordPass はパス完了を記録する。
func (c *Collector) RecordPass(totalBalance float64, duration time.Duration) {
	c.passes.Inc()
	c.passBalance.Set(totalBalance)
	c.passDuration.Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordAPIRequest(string, int, time.Duration) {}
func (Nop) RecordQuestAction(string)                    {}
func (Nop) RecordAccountResult(bool)                    {}
func (Nop) RecordPass(float64, time.Duration)           {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
