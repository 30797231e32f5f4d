package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/attendman/internal/model"
)

// ReportServiceInterface はレポートハンドラーが必要とするサービスインターフェース。
type ReportServiceInterface interface {
	Today() time.Time
	DailyReport(ctx context.Context, date time.Time, includeInactive bool) (*model.DailyReport, error)
	History(ctx context.Context, identityID int64, start, end *time.Time) ([]model.AttendanceEntry, error)
}

// ReportHandler はレポートのHTTPハンドラー。
type ReportHandler struct {
	service ReportServiceInterface
}

// NewReportHandler はReportHandlerを生成する。
func NewReportHandler(service ReportServiceInterface) *ReportHandler {
	return &ReportHandler{service: service}
}

// dailyReportResponse は日次レポートのAPIレスポンス。
type dailyReportResponse struct {
	Date    string                     `json:"date"`
	Counts  map[string]int             `json:"counts"`
	Buckets map[string][]entryResponse `json:"buckets"`
}

// Daily は指定日の日次レポートを返す。date省略時は今日。
// GET /api/reports/daily?date=&include_inactive=
func (h *ReportHandler) Daily(w http.ResponseWriter, r *http.Request) {
	date, err := queryDate(r, "date")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	includeInactive, err := queryBool(r, "include_inactive", false)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	day := h.service.Today()
	if date != nil {
		day = *date
	}

	report, err := h.service.DailyReport(r.Context(), day, includeInactive)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	buckets := make(map[string][]entryResponse, len(report.Buckets))
	for key, entries := range report.Buckets {
		buckets[key] = toEntryResponses(entries)
	}
	writeJSON(w, http.StatusOK, dailyReportResponse{
		Date:    report.Date.Format(model.DateLayout),
		Counts:  report.Counts(),
		Buckets: buckets,
	})
}

// History はIdentityの期間内の出席履歴を返す。
// end省略時は今日、start省略時はendから既定日数前。
// GET /api/identities/{id}/history?start=&end=
func (h *ReportHandler) History(w http.ResponseWriter, r *http.Request) {
	identityID, err := idParam(r, "id")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	start, err := queryDate(r, "start")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	end, err := queryDate(r, "end")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	entries, err := h.service.History(r.Context(), identityID, start, end)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toEntryResponses(entries))
}
