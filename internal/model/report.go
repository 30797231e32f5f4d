// Package model はドメインモデルを定義する。
package model

import "time"

// 日次レポートの集計キー。
const (
	BucketPresent = "present"
	BucketAbsent  = "absent"
	BucketLate    = "late"
	BucketLeave   = "leave"
	BucketOther   = "other"
)

// ReportBuckets は日次レポートに必ず含まれる集計キーの一覧。
var ReportBuckets = []string{BucketPresent, BucketAbsent, BucketLate, BucketLeave, BucketOther}

// AttendanceEntry は Identity の概要と1日分の出席情報を結合した行。
// 日次レポートと履歴の両方で使用する。
type AttendanceEntry struct {
	IdentityID  int64
	ExternalID  string
	Name        string
	Date        time.Time
	Status      Status
	CheckIn     *time.Time
	CheckOut    *time.Time
	HoursWorked *float64
}

// DailyReport は指定日の出席状況を状態ごとに分類したレポート。
type DailyReport struct {
	Date    time.Time
	Buckets map[string][]AttendanceEntry
}

// NewDailyReport は全集計キーを空で初期化したDailyReportを返す。
func NewDailyReport(date time.Time) *DailyReport {
	buckets := make(map[string][]AttendanceEntry, len(ReportBuckets))
	for _, b := range ReportBuckets {
		buckets[b] = []AttendanceEntry{}
	}
	return &DailyReport{Date: date, Buckets: buckets}
}

// Add はエントリを状態に対応する集計キーへ追加する。未知の状態はotherに入る。
func (r *DailyReport) Add(e AttendanceEntry) {
	key := e.Status.Bucket()
	if _, ok := r.Buckets[key]; !ok {
		key = BucketOther
	}
	r.Buckets[key] = append(r.Buckets[key], e)
}

// Counts は集計キーごとの件数を返す。
func (r *DailyReport) Counts() map[string]int {
	counts := make(map[string]int, len(r.Buckets))
	for k, v := range r.Buckets {
		counts[k] = len(v)
	}
	return counts
}
