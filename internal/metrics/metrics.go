// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// FetcherやPersisterから利用する。
type MetricsCollector interface {
	RecordSearchCall(duration time.Duration, records int)
	RecordSearchFailure(kind string)
	RecordBatchCommitted(authors, posts int)
	RecordBatchRolledBack()
	RecordEncodingAnomaly(kind string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	searchCalls     prometheus.Counter
	searchFailures  *prometheus.CounterVec
	searchLatency   prometheus.Histogram
	recordsFetched  prometheus.Counter
	batchCommitted  prometheus.Counter
	batchRolledBack prometheus.Counter
	authorsUpserted prometheus.Counter
	postsUpserted   prometheus.Counter
	anomalies       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		searchCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tweetharvest_search_calls_total",
			Help: "検索API呼び出しの合計数",
		}),
		searchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tweetharvest_search_failures_total",
			Help: "検索API呼び出し失敗の合計数（種別ごと）",
		}, []string{"kind"}),
		searchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tweetharvest_search_latency_seconds",
			Help:    "検索API呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		recordsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tweetharvest_records_fetched_total",
			Help: "検索APIから取得したレコードの合計数",
		}),
		batchCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tweetharvest_batches_committed_total",
			Help: "コミットされたバッチの合計数",
		}),
		batchRolledBack: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tweetharvest_batches_rolled_back_total",
			Help: "ロールバックされたバッチの合計数",
		}),
		authorsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tweetharvest_authors_upserted_total",
			Help: "アップサートされた投稿者の合計数",
		}),
		postsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tweetharvest_posts_upserted_total",
			Help: "アップサートされた投稿の合計数",
		}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tweetharvest_encoding_anomalies_total",
			Help: "無害化で除去したエンコーディング異常の合計数",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.searchCalls,
		c.searchFailures,
		c.searchLatency,
		c.recordsFetched,
		c.batchCommitted,
		c.batchRolledBack,
		c.authorsUpserted,
		c.postsUpserted,
		c.anomalies,
	)

	return c
}

// RecordSearchCall は成功した検索API呼び出しを記録する。
func (c *Collector) RecordSearchCall(duration time.Duration, records int) {
	c.searchCalls.Inc()
	c.searchLatency.Observe(duration.Seconds())
	c.recordsFetched.Add(float64(records))
}

// RecordSearchFailure は検索API呼び出しの失敗を記録する。
func (c *Collector) RecordSearchFailure(kind string) {
	c.searchFailures.WithLabelValues(kind).Inc()
}

// RecordBatchCommitted はコミットされたバッチを記録する。
func (c *Collector) RecordBatchCommitted(authors, posts int) {
	c.batchCommitted.Inc()
	c.authorsUpserted.Add(float64(authors))
	c.postsUpserted.Add(float64(posts))
}

// RecordBatchRolledBack はロールバックされたバッチを記録する。
func (c *Collector) RecordBatchRolledBack() {
	c.batchRolledBack.Inc()
}

// RecordEncodingAnomaly はエンコーディング異常を記録する。
func (c *Collector) RecordEncodingAnomaly(kind string) {
	c.anomalies.WithLabelValues(kind).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。メトリクス無効時やテストで使う。
type Nop struct{}

// RecordSearchCall は何もしない。
func (Nop) RecordSearchCall(time.Duration, int) {}

// RecordSearchFailure は何もしない。
func (Nop) RecordSearchFailure(string) {}

// RecordBatchCommitted は何もしない。
func (Nop) RecordBatchCommitted(int, int) {}

// RecordBatchRolledBack は何もしない。
func (Nop) RecordBatchRolledBack() {}

// RecordEncodingAnomaly は何もしない。
func (Nop) RecordEncodingAnomaly(string) {}
