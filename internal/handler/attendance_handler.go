package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/attendman/internal/model"
)

// AttendanceServiceInterface は出席記録ハンドラーが必要とするサービスインターフェース。
type AttendanceServiceInterface interface {
	CheckIn(ctx context.Context, identityID int64, date, ts time.Time) (*model.AttendanceRecord, error)
	CheckOut(ctx context.Context, identityID int64, date, ts time.Time) (*model.AttendanceRecord, error)
	MarkStatus(ctx context.Context, identityID int64, date time.Time, status string) (*model.AttendanceRecord, error)
	Create(ctx context.Context, identityID int64, date time.Time, status string) (*model.AttendanceRecord, error)
	GetByID(ctx context.Context, recordID int64) (*model.AttendanceRecord, error)
	GetByIdentity(ctx context.Context, identityID int64, skip, limit int) ([]*model.AttendanceRecord, error)
	GetByDate(ctx context.Context, date time.Time) ([]*model.AttendanceRecord, error)
	GetByDateRange(ctx context.Context, identityID int64, start, end time.Time) ([]*model.AttendanceRecord, error)
	UpdateStatus(ctx context.Context, recordID int64, status string) (*model.AttendanceRecord, error)
	// Delete は出席記録を削除する。対象が存在しない場合はNotFoundErrorを返す。
	Delete(ctx context.Context, recordID int64) (bool, error)
}

// AttendanceHandlerConfig は出席記録ハンドラーの設定。
type AttendanceHandlerConfig struct {
	// Location は日付を省略した打刻の暦日を決めるタイムゾーン。nilの場合はUTC。
	Location *time.Location
	// Now は現在時刻を返す。nilの場合はtime.Now。
	Now func() time.Time
}

// AttendanceHandler は出席記録のHTTPハンドラー。
type AttendanceHandler struct {
	service AttendanceServiceInterface
	loc     *time.Location
	now     func() time.Time
}

// NewAttendanceHandler はAttendanceHandlerを生成する。
func NewAttendanceHandler(service AttendanceServiceInterface, config AttendanceHandlerConfig) *AttendanceHandler {
	h := &AttendanceHandler{
		service: service,
		loc:     config.Location,
		now:     config.Now,
	}
	if h.loc == nil {
		h.loc = time.UTC
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// punchRequest はチェックイン・チェックアウトのリクエストボディ。
// timestamp省略時は現在時刻、date省略時はtimestampの暦日を使う。
type punchRequest struct {
	Timestamp *time.Time `json:"timestamp"`
	Date      *string    `json:"date"`
}

// markStatusRequest は状態記録のリクエストボディ。date省略時は今日。
type markStatusRequest struct {
	Date   *string `json:"date"`
	Status string  `json:"status"`
}

// createAttendanceRequest は出席記録作成のリクエストボディ。status省略時はPresent。
type createAttendanceRequest struct {
	IdentityID int64   `json:"identity_id"`
	Date       *string `json:"date"`
	Status     string  `json:"status"`
}

// updateStatusRequest は状態更新のリクエストボディ。
type updateStatusRequest struct {
	Status string `json:"status"`
}

// CheckIn はチェックインを記録する。
// POST /api/identities/{id}/check-in
func (h *AttendanceHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	h.punch(w, r, h.service.CheckIn)
}

// CheckOut はチェックアウトを記録する。
// POST /api/identities/{id}/check-out
func (h *AttendanceHandler) CheckOut(w http.ResponseWriter, r *http.Request) {
	h.punch(w, r, h.service.CheckOut)
}

type punchFunc func(ctx context.Context, identityID int64, date, ts time.Time) (*model.AttendanceRecord, error)

func (h *AttendanceHandler) punch(w http.ResponseWriter, r *http.Request, fn punchFunc) {
	identityID, err := idParam(r, "id")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	var req punchRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	ts := h.now()
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}
	date := model.DateOf(ts.In(h.loc))
	if d, err := bodyDate(req.Date); err != nil {
		handleServiceError(w, r, err)
		return
	} else if d != nil {
		date = *d
	}

	record, err := fn(r.Context(), identityID, date, ts)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAttendanceResponse(record))
}

// MarkStatus はチェックインを伴わずに状態を記録する。
// PUT /api/identities/{id}/status
func (h *AttendanceHandler) MarkStatus(w http.ResponseWriter, r *http.Request) {
	identityID, err := idParam(r, "id")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	var req markStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	date := h.today()
	if d, err := bodyDate(req.Date); err != nil {
		handleServiceError(w, r, err)
		return
	} else if d != nil {
		date = *d
	}

	record, err := h.service.MarkStatus(r.Context(), identityID, date, req.Status)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAttendanceResponse(record))
}

// ListByIdentity はIdentityの出席記録を新しい日付から順に返す。
// GET /api/identities/{id}/attendance?skip=&limit=
func (h *AttendanceHandler) ListByIdentity(w http.ResponseWriter, r *http.Request) {
	identityID, err := idParam(r, "id")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", model.DefaultPageLimit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	records, err := h.service.GetByIdentity(r.Context(), identityID, skip, limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAttendanceResponses(records))
}

// ListByDateRange はIdentityの期間内の出席記録を古い日付から順に返す。
// GET /api/identities/{id}/attendance/range?start=&end=
func (h *AttendanceHandler) ListByDateRange(w http.ResponseWriter, r *http.Request) {
	identityID, err := idParam(r, "id")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	start, err := requiredQueryDate(r, "start")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	end, err := requiredQueryDate(r, "end")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	records, err := h.service.GetByDateRange(r.Context(), identityID, start, end)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAttendanceResponses(records))
}

// Create は出席記録を明示的に作成する。
// POST /api/attendance
func (h *AttendanceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAttendanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if req.IdentityID <= 0 {
		handleServiceError(w, r, model.NewInvalidInputError("identity_idは必須です"))
		return
	}
	date, err := bodyDate(req.Date)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if date == nil {
		handleServiceError(w, r, model.NewInvalidInputError("dateは必須です"))
		return
	}
	status := req.Status
	if status == "" {
		status = string(model.StatusPresent)
	}

	record, err := h.service.Create(r.Context(), req.IdentityID, *date, status)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAttendanceResponse(record))
}

// ListByDate は指定日の全出席記録を返す。date省略時は今日。
// GET /api/attendance?date=
func (h *AttendanceHandler) ListByDate(w http.ResponseWriter, r *http.Request) {
	date, err := queryDate(r, "date")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	day := h.today()
	if date != nil {
		day = *date
	}

	records, err := h.service.GetByDate(r.Context(), day)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAttendanceResponses(records))
}

// Get は出席記録を取得する。
// GET /api/attendance/{id}
func (h *AttendanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	record, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if record == nil {
		handleServiceError(w, r, model.NewAttendanceNotFoundError(id))
		return
	}

	writeJSON(w, http.StatusOK, toAttendanceResponse(record))
}

// UpdateStatus は出席記録の状態を更新する。
// PUT /api/attendance/{id}/status
func (h *AttendanceHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	record, err := h.service.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAttendanceResponse(record))
}

// Delete は出席記録を削除する。
// DELETE /api/attendance/{id}
func (h *AttendanceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if _, err := h.service.Delete(r.Context(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AttendanceHandler) today() time.Time {
	return model.DateOf(h.now().In(h.loc))
}
