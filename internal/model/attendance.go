// Package model はドメインモデルを定義する。
package model

import (
	"math"
	"strings"
	"time"
)

// Status は出席状態を表す。
type Status string

const (
	// StatusPresent は出席。チェックインすると必ずこの状態になる。
	StatusPresent Status = "Present"
	// StatusAbsent は欠席。記録が存在しない日はこの状態として扱う。
	StatusAbsent Status = "Absent"
	// StatusLeave は休暇。
	StatusLeave Status = "Leave"
	// StatusLate は遅刻。
	StatusLate Status = "Late"
	// StatusOther はその他。
	StatusOther Status = "Other"
)

// Statuses は受け付ける状態の一覧。
var Statuses = []Status{StatusPresent, StatusAbsent, StatusLeave, StatusLate, StatusOther}

// ParseStatus は文字列を大文字小文字を区別せずにStatusへ変換する。
// 未知の値の場合はValidationErrorを返す。
func ParseStatus(s string) (Status, error) {
	v := strings.TrimSpace(s)
	for _, st := range Statuses {
		if strings.EqualFold(v, string(st)) {
			return st, nil
		}
	}
	return "", NewInvalidStatusError(s)
}

// Bucket は日次レポートで使う集計キー（小文字のステータス名）を返す。
func (s Status) Bucket() string {
	return strings.ToLower(string(s))
}

// AttendanceRecord は (identity, date) ごとに高々1件存在する出席記録を表す。
type AttendanceRecord struct {
	ID         int64
	IdentityID int64
	Date       time.Time // UTC 00:00 の暦日
	Status     Status
	CheckIn    *time.Time
	CheckOut   *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// HoursWorked は勤務時間を返す。
func (r *AttendanceRecord) HoursWorked() *float64 {
	return HoursWorked(r.CheckIn, r.CheckOut)
}

// HoursWorked はチェックインからチェックアウトまでの時間を小数第2位で丸めて返す。
// どちらかが未設定の場合はnilを返す。
func HoursWorked(checkIn, checkOut *time.Time) *float64 {
	if checkIn == nil || checkOut == nil {
		return nil
	}
	hours := checkOut.Sub(*checkIn).Hours()
	rounded := math.Round(hours*100) / 100
	return &rounded
}

// DateOf は時刻tのロケーションにおける暦日を UTC 00:00 の time.Time で返す。
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateLayout はAPIで扱う日付の書式。
const DateLayout = "2006-01-02"

// ParseDate は YYYY-MM-DD 形式の文字列を暦日に変換する。
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, NewInvalidDateError(s)
	}
	return t, nil
}
