package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/attendman/internal/attendance"
	"github.com/hitoshi/attendman/internal/identity"
	"github.com/hitoshi/attendman/internal/metrics"
	"github.com/hitoshi/attendman/internal/model"
	"github.com/hitoshi/attendman/internal/report"
	"github.com/hitoshi/attendman/internal/repository"
	"github.com/hitoshi/attendman/internal/validation"
	"github.com/prometheus/client_golang/prometheus"
)

// createIntegrationRouter はインメモリストア上の実サービスでルーターを構成する。
func createIntegrationRouter(t *testing.T) http.Handler {
	t.Helper()

	store := repository.NewMemoryStore()
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	identities := identity.NewService(store.Identities(), store.Attendance(), store, validation.New(), collector)
	ledger := attendance.NewService(store.Identities(), store.Attendance(), store, collector)
	reports := report.NewService(identities, ledger, collector, report.Options{Location: time.UTC})

	return NewRouter(&RouterDeps{
		CORSAllowedOrigin: "http://localhost:3000",
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(reg),
		DB:                &mockPinger{},
		IdentityService:   identities,
		AttendanceService: ledger,
		AttendanceConfig: AttendanceHandlerConfig{
			Location: time.UTC,
			Now:      func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) },
		},
		ReportService: reports,
	})
}

func doRequest(t *testing.T, router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// TestIntegration_AttendanceDay は登録から打刻、レポート、削除までの一連の流れを検証する。
func TestIntegration_AttendanceDay(t *testing.T) {
	router := createIntegrationRouter(t)

	// 1. Identityを2件登録
	w := doRequest(t, router, http.MethodPost, "/api/identities",
		`{"name":"Ana Tanaka","email":"ana@example.com","external_id":"E-1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create ana: status = %d (body: %s)", w.Code, w.Body.String())
	}
	var ana identityResponse
	decodeBody(t, w, &ana)
	if ana.ID != 1 {
		t.Fatalf("ana.id = %d, want 1", ana.ID)
	}

	w = doRequest(t, router, http.MethodPost, "/api/identities",
		`{"name":"Ben Sato","email":"ben@example.com","external_id":"E-2"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create ben: status = %d (body: %s)", w.Code, w.Body.String())
	}

	// 2. 登録済みのメールアドレスは409
	w = doRequest(t, router, http.MethodPost, "/api/identities",
		`{"name":"Ana Clone","email":"ana@example.com","external_id":"E-3"}`)
	assertErrorCode(t, w, http.StatusConflict, model.ErrCodeDuplicateEmail)

	// 3. チェックイン前のチェックアウトは422
	w = doRequest(t, router, http.MethodPost, "/api/identities/1/check-out", "")
	assertErrorCode(t, w, http.StatusUnprocessableEntity, model.ErrCodeCheckInRequired)

	// 4. チェックインしてからチェックアウト
	w = doRequest(t, router, http.MethodPost, "/api/identities/1/check-in", "")
	if w.Code != http.StatusOK {
		t.Fatalf("check-in: status = %d (body: %s)", w.Code, w.Body.String())
	}
	w = doRequest(t, router, http.MethodPost, "/api/identities/1/check-out", `{"timestamp":"2024-03-01T17:00:00Z"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("check-out: status = %d (body: %s)", w.Code, w.Body.String())
	}
	var record attendanceResponse
	decodeBody(t, w, &record)
	if record.HoursWorked == nil || *record.HoursWorked != 8 {
		t.Errorf("hours_worked = %v, want 8", record.HoursWorked)
	}

	// 5. 同じ日の明示的な作成は409
	w = doRequest(t, router, http.MethodPost, "/api/attendance", `{"identity_id":1,"date":"2024-03-01"}`)
	assertErrorCode(t, w, http.StatusConflict, model.ErrCodeDuplicateRecord)

	// 6. 日次レポート: Anaはpresent、Benはabsent
	w = doRequest(t, router, http.MethodGet, "/api/reports/daily?date=2024-03-01", "")
	if w.Code != http.StatusOK {
		t.Fatalf("daily report: status = %d (body: %s)", w.Code, w.Body.String())
	}
	var daily dailyReportResponse
	decodeBody(t, w, &daily)
	if daily.Counts[model.BucketPresent] != 1 || daily.Counts[model.BucketAbsent] != 1 {
		t.Errorf("counts = %v, want present=1 absent=1", daily.Counts)
	}
	if daily.Buckets[model.BucketAbsent][0].ExternalID != "E-2" {
		t.Errorf("absent bucket = %+v", daily.Buckets[model.BucketAbsent])
	}

	// 7. Benを無効化するとレポートから外れる
	w = doRequest(t, router, http.MethodPost, "/api/identities/2/deactivate", "")
	if w.Code != http.StatusOK {
		t.Fatalf("deactivate: status = %d", w.Code)
	}
	w = doRequest(t, router, http.MethodGet, "/api/reports/daily?date=2024-03-01", "")
	decodeBody(t, w, &daily)
	if daily.Counts[model.BucketAbsent] != 0 {
		t.Errorf("absent count = %d, want 0 after deactivation", daily.Counts[model.BucketAbsent])
	}

	// 8. 履歴
	w = doRequest(t, router, http.MethodGet, "/api/identities/1/history?start=2024-02-01&end=2024-03-31", "")
	if w.Code != http.StatusOK {
		t.Fatalf("history: status = %d (body: %s)", w.Code, w.Body.String())
	}
	var history []entryResponse
	decodeBody(t, w, &history)
	if len(history) != 1 || history[0].Date != "2024-03-01" {
		t.Errorf("history = %+v", history)
	}

	// 9. Identityを削除すると出席記録も消える
	w = doRequest(t, router, http.MethodDelete, "/api/identities/1", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d (body: %s)", w.Code, w.Body.String())
	}
	w = doRequest(t, router, http.MethodGet, "/api/attendance?date=2024-03-01", "")
	var remaining []attendanceResponse
	decodeBody(t, w, &remaining)
	if len(remaining) != 0 {
		t.Errorf("attendance after delete = %+v, want empty", remaining)
	}

	// 10. メトリクスが記録されている
	w = doRequest(t, router, http.MethodGet, "/metrics", "")
	if !strings.Contains(w.Body.String(), "attendman_identities_created_total 2") {
		t.Errorf("metrics output missing identity counter:\n%s", w.Body.String())
	}
}
