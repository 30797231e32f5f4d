// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/attendman/internal/middleware"
	"github.com/hitoshi/attendman/internal/model"
)

// maxRequestBodyBytes はJSONリクエストボディの上限サイズ。
const maxRequestBodyBytes = 1 << 20

// identityResponse はIdentityのAPIレスポンス。
type identityResponse struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	ExternalID string    `json:"external_id"`
	Phone      *string   `json:"phone"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toIdentityResponse(i *model.Identity) identityResponse {
	return identityResponse{
		ID:         i.ID,
		Name:       i.Name,
		Email:      i.Email,
		ExternalID: i.ExternalID,
		Phone:      i.Phone,
		IsActive:   i.Active,
		CreatedAt:  i.CreatedAt,
		UpdatedAt:  i.UpdatedAt,
	}
}

func toIdentityResponses(identities []*model.Identity) []identityResponse {
	out := make([]identityResponse, 0, len(identities))
	for _, i := range identities {
		out = append(out, toIdentityResponse(i))
	}
	return out
}

// attendanceResponse は出席記録のAPIレスポンス。
type attendanceResponse struct {
	ID          int64      `json:"id"`
	IdentityID  int64      `json:"identity_id"`
	Date        string     `json:"date"`
	Status      string     `json:"status"`
	CheckIn     *time.Time `json:"check_in"`
	CheckOut    *time.Time `json:"check_out"`
	HoursWorked *float64   `json:"hours_worked"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toAttendanceResponse(r *model.AttendanceRecord) attendanceResponse {
	return attendanceResponse{
		ID:          r.ID,
		IdentityID:  r.IdentityID,
		Date:        r.Date.Format(model.DateLayout),
		Status:      string(r.Status),
		CheckIn:     r.CheckIn,
		CheckOut:    r.CheckOut,
		HoursWorked: r.HoursWorked(),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func toAttendanceResponses(records []*model.AttendanceRecord) []attendanceResponse {
	out := make([]attendanceResponse, 0, len(records))
	for _, r := range records {
		out = append(out, toAttendanceResponse(r))
	}
	return out
}

// entryResponse は日次レポートと履歴の1行。
type entryResponse struct {
	IdentityID  int64      `json:"identity_id"`
	ExternalID  string     `json:"external_id"`
	Name        string     `json:"name"`
	Date        string     `json:"date"`
	Status      string     `json:"status"`
	CheckIn     *time.Time `json:"check_in"`
	CheckOut    *time.Time `json:"check_out"`
	HoursWorked *float64   `json:"hours_worked"`
}

func toEntryResponses(entries []model.AttendanceEntry) []entryResponse {
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			IdentityID:  e.IdentityID,
			ExternalID:  e.ExternalID,
			Name:        e.Name,
			Date:        e.Date.Format(model.DateLayout),
			Status:      string(e.Status),
			CheckIn:     e.CheckIn,
			CheckOut:    e.CheckOut,
			HoursWorked: e.HoursWorked,
		})
	}
	return out
}

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// decodeJSON はリクエストボディをdstにデコードする。
// 未知のフィールドや複数のJSON値を含むボディは拒否する。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return newInvalidRequestError()
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return newInvalidRequestError()
	}
	return nil
}

// decodeOptionalJSON はdecodeJSONと同様だが、空のボディを許容する。
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return newInvalidRequestError()
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return newInvalidRequestError()
	}
	return nil
}

func newInvalidRequestError() *model.APIError {
	return &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: model.CategoryValidation,
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// idParam はURLパラメータnameを正の整数IDとして返す。
func idParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, model.NewInvalidInputError("IDは正の整数で指定してください: " + raw)
	}
	return id, nil
}

// queryDate はクエリパラメータnameを日付として返す。未指定の場合はnilを返す。
func queryDate(r *http.Request, name string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	d, err := model.ParseDate(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// bodyDate はリクエストボディの日付文字列を解釈する。空の場合はnilを返す。
func bodyDate(raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	d, err := model.ParseDate(strings.TrimSpace(*raw))
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// requiredQueryDate はクエリパラメータnameを必須の日付として返す。
func requiredQueryDate(r *http.Request, name string) (time.Time, error) {
	d, err := queryDate(r, name)
	if err != nil {
		return time.Time{}, err
	}
	if d == nil {
		return time.Time{}, model.NewInvalidInputError(name + "は必須です")
	}
	return *d, nil
}

// queryInt はクエリパラメータnameを非負整数として返す。未指定の場合はdefを返す。
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, model.NewInvalidInputError(name + "は0以上の整数で指定してください")
	}
	return v, nil
}

// queryBool はクエリパラメータnameを真偽値として返す。未指定の場合はdefを返す。
func queryBool(r *http.Request, name string, def bool) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, model.NewInvalidInputError(name + "はtrueまたはfalseで指定してください")
	}
	return v, nil
}

// handleServiceError はサービス層のエラーを統一フォーマットのレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	middleware.WriteError(w, r, err)
}
