// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 結果ラベルの値
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordFetchSuccess(feedID string)
	RecordFetchFailure(feedID string, reason string)
	RecordParseFailure(feedID string)
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
	RecordItemsUpserted(count int)
	RecordSlackPost(result string)
	RecordTokenRefresh(result string)
	RecordWorkRecordOp(op, result string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	fetchSuccess  prometheus.Counter
	fetchFail     *prometheus.CounterVec
	parseFail     prometheus.Counter
	httpStatus    *prometheus.CounterVec
	fetchLatency  prometheus.Histogram
	itemsUpserted prometheus.Counter
	slackPosts    *prometheus.CounterVec
	tokenRefresh  *prometheus.CounterVec
	workRecordOps *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workday_fetch_success_total",
			Help: "フィードフェッチ成功の合計数",
		}),
		fetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workday_fetch_fail_total",
			Help: "フィードフェッチ失敗の合計数",
		}, []string{"reason"}),
		parseFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workday_parse_fail_total",
			Help: "フィードパース失敗の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workday_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "workday_fetch_latency_seconds",
			Help:    "フィードフェッチのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		itemsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workday_items_upserted_total",
			Help: "アップサートされた記事の合計数",
		}),
		slackPosts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workday_slack_posts_total",
			Help: "Slack通知の投稿数",
		}, []string{"result"}),
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workday_token_refresh_total",
			Help: "freeeアクセストークン更新の試行数",
		}, []string{"result"}),
		workRecordOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workday_work_record_ops_total",
			Help: "勤怠記録の登録・削除の呼び出し数",
		}, []string{"op", "result"}),
	}

	reg.MustRegister(
		c.fetchSuccess,
		c.fetchFail,
		c.parseFail,
		c.httpStatus,
		c.fetchLatency,
		c.itemsUpserted,
		c.slackPosts,
		c.tokenRefresh,
		c.workRecordOps,
	)

	return c
}

// RecordFetchSuccess はフェッチ成功を記録する。
func (c *Collector) RecordFetchSuccess(feedID string) {
	c.fetchSuccess.Inc()
}

// RecordFetchFailure はフェッチ失敗を理由別に記録する。
func (c *Collector) RecordFetchFailure(feedID string, reason string) {
	c.fetchFail.WithLabelValues(reason).Inc()
}

// RecordParseFailure はパース失敗を記録する。
func (c *Collector) RecordParseFailure(feedID string) {
	c.parseFail.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency はフェッチのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordItemsUpserted はアップサートされた記事数を記録する。
func (c *Collector) RecordItemsUpserted(count int) {
	c.itemsUpserted.Add(float64(count))
}

// RecordSlackPost はSlack投稿の結果を記録する。
func (c *Collector) RecordSlackPost(result string) {
	c.slackPosts.WithLabelValues(result).Inc()
}

// RecordTokenRefresh はトークン更新の結果を記録する。
func (c *Collector) RecordTokenRefresh(result string) {
	c.tokenRefresh.WithLabelValues(result).Inc()
}

// RecordWorkRecordOp は勤怠記録1日分の操作結果を記録する。opは create または delete。
func (c *Collector) RecordWorkRecordOp(op, result string) {
	c.workRecordOps.WithLabelValues(op, result).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordFetchSuccess(string)         {}
func (Nop) RecordFetchFailure(string, string) {}
func (Nop) RecordParseFailure(string)         {}
func (Nop) RecordHTTPStatus(int)              {}
func (Nop) RecordFetchLatency(time.Duration)  {}
func (Nop) RecordItemsUpserted(int)           {}
func (Nop) RecordSlackPost(string)            {}
func (Nop) RecordTokenRefresh(string)         {}
func (Nop) RecordWorkRecordOp(string, string) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
