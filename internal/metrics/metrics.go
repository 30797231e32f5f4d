// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 出席イベントの種別ラベル
const (
	EventCheckIn      = "check_in"
	EventCheckOut     = "check_out"
	EventMarkStatus   = "mark_status"
	EventCreate       = "create"
	EventUpdateStatus = "update_status"
	EventDelete       = "delete"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層とHTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordIdentityCreated()
	RecordIdentityDeleted()
	RecordAttendanceEvent(kind string)
	RecordConflict(code string)
	RecordReportRows(count int)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	identitiesCreated prometheus.Counter
	identitiesDeleted prometheus.Counter
	attendanceEvents  *prometheus.CounterVec
	conflicts         *prometheus.CounterVec
	reportRows        prometheus.Counter
	httpStatus        *prometheus.CounterVec
	requestLatency    prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		identitiesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendman_identities_created_total",
			Help: "登録されたIdentityの合計数",
		}),
		identitiesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendman_identities_deleted_total",
			Help: "削除されたIdentityの合計数",
		}),
		attendanceEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendman_attendance_events_total",
			Help: "種別ごとの出席記録の書き込み数",
		}, []string{"kind"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendman_conflicts_total",
			Help: "エラーコード別の競合・重複の発生数",
		}, []string{"code"}),
		reportRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendman_report_rows_total",
			Help: "日次レポートに出力した行の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "attendman_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.identitiesCreated,
		c.identitiesDeleted,
		c.attendanceEvents,
		c.conflicts,
		c.reportRows,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordIdentityCreated はIdentityの登録を記録する。
func (c *Collector) RecordIdentityCreated() {
	c.identitiesCreated.Inc()
}

// RecordIdentityDeleted はIdentityの削除を記録する。
func (c *Collector) RecordIdentityDeleted() {
	c.identitiesDeleted.Inc()
}

// RecordAttendanceEvent は出席記録の書き込みを種別ごとに記録する。
func (c *Collector) RecordAttendanceEvent(kind string) {
	c.attendanceEvents.WithLabelValues(kind).Inc()
}

// RecordConflict は重複や同時更新による競合を記録する。
func (c *Collector) RecordConflict(code string) {
	c.conflicts.WithLabelValues(code).Inc()
}

// RecordReportRows は日次レポートの出力行数を記録する。
func (c *Collector) RecordReportRows(count int) {
	c.reportRows.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はHTTPリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
