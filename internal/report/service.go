// Package report は日次の出席レポートとIdentityごとの出席履歴を組み立てる。
package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/attendman/internal/model"
)

const (
	// DefaultHistoryDays は履歴の開始日を省略した場合に遡る日数。
	DefaultHistoryDays = 30
	// DefaultPageSize はレポート作成時にIdentityを列挙する1回あたりの件数。
	DefaultPageSize = 500
)

// Directory はレポートが参照するIdentity管理の操作。
type Directory interface {
	GetByID(ctx context.Context, id int64) (*model.Identity, error)
	ListAll(ctx context.Context, activeOnly bool, skip, limit int) ([]*model.Identity, error)
}

// Ledger はレポートが参照する出席記録の操作。
type Ledger interface {
	GetByDate(ctx context.Context, date time.Time) ([]*model.AttendanceRecord, error)
	GetByDateRange(ctx context.Context, identityID int64, start, end time.Time) ([]*model.AttendanceRecord, error)
}

// MetricsRecorder はレポート作成で記録するメトリクスのインターフェース。
type MetricsRecorder interface {
	RecordReportRows(count int)
}

// Options はレポートの既定値。ゼロ値の項目は既定値を使用する。
type Options struct {
	// Location は「今日」を決めるタイムゾーン。nilの場合はUTC。
	Location    *time.Location
	HistoryDays int
	PageSize    int
}

// Service はレポート作成のサービス層。
type Service struct {
	directory   Directory
	ledger      Ledger
	metrics     MetricsRecorder
	loc         *time.Location
	historyDays int
	pageSize    int
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。metricsはnilでもよい。
func NewService(directory Directory, ledger Ledger, metrics MetricsRecorder, opts Options) *Service {
	s := &Service{
		directory:   directory,
		ledger:      ledger,
		metrics:     metrics,
		loc:         opts.Location,
		historyDays: opts.HistoryDays,
		pageSize:    opts.PageSize,
		now:         time.Now,
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.historyDays <= 0 {
		s.historyDays = DefaultHistoryDays
	}
	if s.pageSize <= 0 || s.pageSize > model.MaxPageLimit {
		s.pageSize = DefaultPageSize
	}
	return s
}

// Today は設定されたタイムゾーンにおける今日の暦日を返す。
func (s *Service) Today() time.Time {
	return model.DateOf(s.now().In(s.loc))
}

// DailyReport は指定日の出席状況をpresent/absent/late/leave/otherに分類して返す。
// 記録の無いIdentityはAbsentとして打刻なしで扱う。
// includeInactiveがfalseの場合は無効化されたIdentityを含めない。
func (s *Service) DailyReport(ctx context.Context, date time.Time, includeInactive bool) (*model.DailyReport, error) {
	day := model.DateOf(date)

	records, err := s.ledger.GetByDate(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("出席記録の取得に失敗しました: %w", err)
	}
	byIdentity := make(map[int64]*model.AttendanceRecord, len(records))
	for _, r := range records {
		byIdentity[r.IdentityID] = r
	}

	report := model.NewDailyReport(day)
	rows := 0
	for skip := 0; ; skip += s.pageSize {
		identities, err := s.directory.ListAll(ctx, !includeInactive, skip, s.pageSize)
		if err != nil {
			return nil, fmt.Errorf("Identity一覧の取得に失敗しました: %w", err)
		}

		for _, identity := range identities {
			report.Add(entryFor(identity, day, byIdentity[identity.ID]))
			rows++
		}

		if len(identities) < s.pageSize {
			break
		}
	}

	if s.metrics != nil {
		s.metrics.RecordReportRows(rows)
	}
	slog.Debug("日次レポートを作成しました",
		slog.String("date", day.Format(model.DateLayout)),
		slog.Int("rows", rows),
		slog.Bool("include_inactive", includeInactive),
	)
	return report, nil
}

// History はIdentityの出席履歴を日付順に返す。
// endを省略した場合は今日、startを省略した場合はendのHistoryDays日前を使用する。
func (s *Service) History(ctx context.Context, identityID int64, start, end *time.Time) ([]model.AttendanceEntry, error) {
	identity, err := s.directory.GetByID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("Identityの取得に失敗しました: %w", err)
	}
	if identity == nil {
		return nil, model.NewIdentityNotFoundError(identityID)
	}

	to := s.Today()
	if end != nil {
		to = model.DateOf(*end)
	}
	from := to.AddDate(0, 0, -s.historyDays)
	if start != nil {
		from = model.DateOf(*start)
	}

	records, err := s.ledger.GetByDateRange(ctx, identityID, from, to)
	if err != nil {
		return nil, err
	}

	entries := make([]model.AttendanceEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, entryFor(identity, r.Date, r))
	}
	return entries, nil
}

// entryFor はIdentityと出席記録からレポート行を作る。recordがnilの場合はAbsentとする。
func entryFor(identity *model.Identity, day time.Time, record *model.AttendanceRecord) model.AttendanceEntry {
	entry := model.AttendanceEntry{
		IdentityID: identity.ID,
		ExternalID: identity.ExternalID,
		Name:       identity.Name,
		Date:       day,
		Status:     model.StatusAbsent,
	}
	if record == nil {
		return entry
	}
	entry.Status = record.Status
	entry.CheckIn = record.CheckIn
	entry.CheckOut = record.CheckOut
	entry.HoursWorked = record.HoursWorked()
	return entry
}
