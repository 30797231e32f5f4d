package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/attendman/internal/middleware"
	"github.com/hitoshi/attendman/internal/model"
)

// --- モック定義 ---

// mockIdentityService はIdentityServiceInterfaceのモック実装。
type mockIdentityService struct {
	createFn          func(ctx context.Context, in model.IdentityInput) (*model.Identity, error)
	getByIDFn         func(ctx context.Context, id int64) (*model.Identity, error)
	getByExternalIDFn func(ctx context.Context, externalID string) (*model.Identity, error)
	getByEmailFn      func(ctx context.Context, email string) (*model.Identity, error)
	listAllFn         func(ctx context.Context, activeOnly bool, skip, limit int) ([]*model.Identity, error)
	updateFn          func(ctx context.Context, id int64, upd model.IdentityUpdate) (*model.Identity, error)
	deactivateFn      func(ctx context.Context, id int64) (*model.Identity, error)
	reactivateFn      func(ctx context.Context, id int64) (*model.Identity, error)
	deleteFn          func(ctx context.Context, id int64) (bool, error)
}

func (m *mockIdentityService) Create(ctx context.Context, in model.IdentityInput) (*model.Identity, error) {
	if m.createFn != nil {
		return m.createFn(ctx, in)
	}
	return nil, nil
}

func (m *mockIdentityService) GetByID(ctx context.Context, id int64) (*model.Identity, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockIdentityService) GetByExternalID(ctx context.Context, externalID string) (*model.Identity, error) {
	if m.getByExternalIDFn != nil {
		return m.getByExternalIDFn(ctx, externalID)
	}
	return nil, nil
}

func (m *mockIdentityService) GetByEmail(ctx context.Context, email string) (*model.Identity, error) {
	if m.getByEmailFn != nil {
		return m.getByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockIdentityService) ListAll(ctx context.Context, activeOnly bool, skip, limit int) ([]*model.Identity, error) {
	if m.listAllFn != nil {
		return m.listAllFn(ctx, activeOnly, skip, limit)
	}
	return []*model.Identity{}, nil
}

func (m *mockIdentityService) Update(ctx context.Context, id int64, upd model.IdentityUpdate) (*model.Identity, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, upd)
	}
	return nil, nil
}

func (m *mockIdentityService) Deactivate(ctx context.Context, id int64) (*model.Identity, error) {
	if m.deactivateFn != nil {
		return m.deactivateFn(ctx, id)
	}
	return nil, nil
}

func (m *mockIdentityService) Reactivate(ctx context.Context, id int64) (*model.Identity, error) {
	if m.reactivateFn != nil {
		return m.reactivateFn(ctx, id)
	}
	return nil, nil
}

func (m *mockIdentityService) Delete(ctx context.Context, id int64) (bool, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return true, nil
}

// mockAttendanceService はAttendanceServiceInterfaceのモック実装。
type mockAttendanceService struct {
	checkInFn        func(ctx context.Context, identityID int64, date, ts time.Time) (*model.AttendanceRecord, error)
	checkOutFn       func(ctx context.Context, identityID int64, date, ts time.Time) (*model.AttendanceRecord, error)
	markStatusFn     func(ctx context.Context, identityID int64, date time.Time, status string) (*model.AttendanceRecord, error)
	createFn         func(ctx context.Context, identityID int64, date time.Time, status string) (*model.AttendanceRecord, error)
	getByIDFn        func(ctx context.Context, recordID int64) (*model.AttendanceRecord, error)
	getByIdentityFn  func(ctx context.Context, identityID int64, skip, limit int) ([]*model.AttendanceRecord, error)
	getByDateFn      func(ctx context.Context, date time.Time) ([]*model.AttendanceRecord, error)
	getByDateRangeFn func(ctx context.Context, identityID int64, start, end time.Time) ([]*model.AttendanceRecord, error)
	updateStatusFn   func(ctx context.Context, recordID int64, status string) (*model.AttendanceRecord, error)
	deleteFn         func(ctx context.Context, recordID int64) (bool, error)
}

func (m *mockAttendanceService) CheckIn(ctx context.Context, identityID int64, date, ts time.Time) (*model.AttendanceRecord, error) {
	if m.checkInFn != nil {
		return m.checkInFn(ctx, identityID, date, ts)
	}
	return nil, nil
}

func (m *mockAttendanceService) CheckOut(ctx context.Context, identityID int64, date, ts time.Time) (*model.AttendanceRecord, error) {
	if m.checkOutFn != nil {
		return m.checkOutFn(ctx, identityID, date, ts)
	}
	return nil, nil
}

func (m *mockAttendanceService) MarkStatus(ctx context.Context, identityID int64, date time.Time, status string) (*model.AttendanceRecord, error) {
	if m.markStatusFn != nil {
		return m.markStatusFn(ctx, identityID, date, status)
	}
	return nil, nil
}

func (m *mockAttendanceService) Create(ctx context.Context, identityID int64, date time.Time, status string) (*model.AttendanceRecord, error) {
	if m.createFn != nil {
		return m.createFn(ctx, identityID, date, status)
	}
	return nil, nil
}

func (m *mockAttendanceService) GetByID(ctx context.Context, recordID int64) (*model.AttendanceRecord, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, recordID)
	}
	return nil, nil
}

func (m *mockAttendanceService) GetByIdentity(ctx context.Context, identityID int64, skip, limit int) ([]*model.AttendanceRecord, error) {
	if m.getByIdentityFn != nil {
		return m.getByIdentityFn(ctx, identityID, skip, limit)
	}
	return []*model.AttendanceRecord{}, nil
}

func (m *mockAttendanceService) GetByDate(ctx context.Context, date time.Time) ([]*model.AttendanceRecord, error) {
	if m.getByDateFn != nil {
		return m.getByDateFn(ctx, date)
	}
	return []*model.AttendanceRecord{}, nil
}

func (m *mockAttendanceService) GetByDateRange(ctx context.Context, identityID int64, start, end time.Time) ([]*model.AttendanceRecord, error) {
	if m.getByDateRangeFn != nil {
		return m.getByDateRangeFn(ctx, identityID, start, end)
	}
	return []*model.AttendanceRecord{}, nil
}

func (m *mockAttendanceService) UpdateStatus(ctx context.Context, recordID int64, status string) (*model.AttendanceRecord, error) {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, recordID, status)
	}
	return nil, nil
}

func (m *mockAttendanceService) Delete(ctx context.Context, recordID int64) (bool, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, recordID)
	}
	return true, nil
}

// mockReportService はReportServiceInterfaceのモック実装。
type mockReportService struct {
	today         time.Time
	dailyReportFn func(ctx context.Context, date time.Time, includeInactive bool) (*model.DailyReport, error)
	historyFn     func(ctx context.Context, identityID int64, start, end *time.Time) ([]model.AttendanceEntry, error)
}

func (m *mockReportService) Today() time.Time {
	return m.today
}

func (m *mockReportService) DailyReport(ctx context.Context, date time.Time, includeInactive bool) (*model.DailyReport, error) {
	if m.dailyReportFn != nil {
		return m.dailyReportFn(ctx, date, includeInactive)
	}
	return model.NewDailyReport(date), nil
}

func (m *mockReportService) History(ctx context.Context, identityID int64, start, end *time.Time) ([]model.AttendanceEntry, error) {
	if m.historyFn != nil {
		return m.historyFn(ctx, identityID, start, end)
	}
	return []model.AttendanceEntry{}, nil
}

// mockPinger はPingerのモック実装。
type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error {
	return m.err
}

// --- テストヘルパー ---

// testDeps はモックを差し込んだRouterDepsを返す。nilのサービスは空のモックで補う。
func testDeps(identities *mockIdentityService, attendance *mockAttendanceService, reports *mockReportService) *RouterDeps {
	if identities == nil {
		identities = &mockIdentityService{}
	}
	if attendance == nil {
		attendance = &mockAttendanceService{}
	}
	if reports == nil {
		reports = &mockReportService{}
	}
	return &RouterDeps{
		CORSAllowedOrigin: "http://localhost:3000",
		DB:                &mockPinger{},
		IdentityService:   identities,
		AttendanceService: attendance,
		AttendanceConfig: AttendanceHandlerConfig{
			Location: time.UTC,
			Now:      func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) },
		},
		ReportService: reports,
	}
}

// serve はNewRouterでリクエストを処理し、レスポンスを返す。
func serve(t *testing.T, deps *RouterDeps, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	NewRouter(deps).ServeHTTP(w, req)
	return w
}

// decodeBody はレスポンスボディをdstにデコードする。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(dst); err != nil {
		t.Fatalf("failed to decode response: %v\nbody: %s", err, w.Body.String())
	}
}

// assertErrorCode はレスポンスが指定のステータスとエラーコードであることを検証する。
func assertErrorCode(t *testing.T, w *httptest.ResponseRecorder, wantStatus int, wantCode string) {
	t.Helper()
	if w.Code != wantStatus {
		t.Errorf("status = %d, want %d (body: %s)", w.Code, wantStatus, w.Body.String())
	}
	var body middleware.ErrorResponseBody
	decodeBody(t, w, &body)
	if body.Code != wantCode {
		t.Errorf("code = %q, want %q", body.Code, wantCode)
	}
}

func ptr[T any](v T) *T { return &v }

func sampleIdentity(id int64) *model.Identity {
	created := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	return &model.Identity{
		ID:         id,
		Name:       "Ana Tanaka",
		Email:      "ana@example.com",
		ExternalID: "E-100",
		Active:     true,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func day(s string) time.Time {
	d, err := model.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}
