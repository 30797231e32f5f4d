package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/attendman/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	// Logger がnilの場合はslog.Default()を使う
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	// Metrics がnilの場合はメトリクスミドルウェアと/metricsを登録しない
	Metrics        middleware.HTTPMetricsRecorder
	MetricsHandler http.Handler

	// ヘルスチェック
	DB Pinger

	IdentityService   IdentityServiceInterface
	AttendanceService AttendanceServiceInterface
	AttendanceConfig  AttendanceHandlerConfig
	ReportService     ReportServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → Metrics → SecurityHeaders → CORS → RateLimit(/api/*)
//
// /healthと/metricsはレート制限の対象外とする。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"code":     "ROUTE_NOT_FOUND",
			"message":  "指定されたパスは存在しません。",
			"category": "not_found",
			"action":   "URLを確認してください。",
		})
	})

	if deps.DB != nil {
		r.Get("/health", NewHealthHandler(deps.DB).Health)
	}
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	identityHandler := NewIdentityHandler(deps.IdentityService)
	attendanceHandler := NewAttendanceHandler(deps.AttendanceService, deps.AttendanceConfig)
	reportHandler := NewReportHandler(deps.ReportService)

	r.Route("/api", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		// Identity管理
		r.Route("/identities", func(r chi.Router) {
			r.Post("/", identityHandler.Create)
			r.Get("/", identityHandler.List)
			r.Get("/lookup", identityHandler.Lookup)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", identityHandler.Get)
				r.Patch("/", identityHandler.Update)
				r.Delete("/", identityHandler.Delete)
				r.Post("/deactivate", identityHandler.Deactivate)
				r.Post("/reactivate", identityHandler.Reactivate)

				// 打刻と状態記録
				r.Post("/check-in", attendanceHandler.CheckIn)
				r.Post("/check-out", attendanceHandler.CheckOut)
				r.Put("/status", attendanceHandler.MarkStatus)

				r.Get("/attendance", attendanceHandler.ListByIdentity)
				r.Get("/attendance/range", attendanceHandler.ListByDateRange)
				r.Get("/history", reportHandler.History)
			})
		})

		// 出席記録
		r.Route("/attendance", func(r chi.Router) {
			r.Post("/", attendanceHandler.Create)
			r.Get("/", attendanceHandler.ListByDate)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", attendanceHandler.Get)
				r.Put("/status", attendanceHandler.UpdateStatus)
				r.Delete("/", attendanceHandler.Delete)
			})
		})

		// レポート
		r.Get("/reports/daily", reportHandler.Daily)
	})

	return r
}
