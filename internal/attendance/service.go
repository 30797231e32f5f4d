// Package attendance は (Identity, 日付) ごとに1件の出席記録を管理する。
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/attendman/internal/metrics"
	"github.com/hitoshi/attendman/internal/model"
	"github.com/hitoshi/attendman/internal/repository"
)

// maxUpsertAttempts は一意制約違反で読み取りからやり直す回数の上限（初回を含む）。
const maxUpsertAttempts = 2

// MetricsRecorder は出席記録の書き込みで記録するメトリクスのインターフェース。
type MetricsRecorder interface {
	RecordAttendanceEvent(kind string)
	RecordConflict(code string)
}

// Service は出席記録のサービス層。
type Service struct {
	identities repository.IdentityRepository
	records    repository.AttendanceRepository
	tx         repository.Transactor
	metrics    MetricsRecorder
	now        func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。metricsはnilでもよい。
func NewService(
	identities repository.IdentityRepository,
	records repository.AttendanceRepository,
	tx repository.Transactor,
	metrics MetricsRecorder,
) *Service {
	return &Service{
		identities: identities,
		records:    records,
		tx:         tx,
		metrics:    metrics,
		now:        time.Now,
	}
}

// mutation は既存または新規の記録を書き換える。existsは記録が既に保存済みかどうか。
type mutation func(record *model.AttendanceRecord, exists bool) error

// CheckIn はチェックインを記録する。
// 記録が無ければ作成し、あればチェックイン時刻を上書きする。状態は常にPresentになる。
// 記録済みのチェックアウトより後のチェックインではチェックアウトを取り消す。
func (s *Service) CheckIn(ctx context.Context, identityID int64, date, ts time.Time) (*model.AttendanceRecord, error) {
	return s.upsert(ctx, metrics.EventCheckIn, identityID, date, func(record *model.AttendanceRecord, _ bool) error {
		checkIn := ts
		record.CheckIn = &checkIn
		// チェックアウト後の再チェックインは記録を開き直す
		if record.CheckOut != nil && ts.After(*record.CheckOut) {
			record.CheckOut = nil
		}
		record.Status = model.StatusPresent
		return nil
	})
}

// CheckOut はチェックアウトを記録する。状態は変更しない。
// チェックイン済みの記録が無い場合、またはチェックイン時刻より前の場合はPreconditionErrorを返す。
func (s *Service) CheckOut(ctx context.Context, identityID int64, date, ts time.Time) (*model.AttendanceRecord, error) {
	return s.upsert(ctx, metrics.EventCheckOut, identityID, date, func(record *model.AttendanceRecord, exists bool) error {
		if !exists || record.CheckIn == nil {
			return model.NewCheckInRequiredError(identityID, record.Date.Format(model.DateLayout))
		}
		if ts.Before(*record.CheckIn) {
			return model.NewCheckOutBeforeCheckInError()
		}
		checkOut := ts
		record.CheckOut = &checkOut
		return nil
	})
}

// MarkStatus は状態のみを設定する。記録が無ければ打刻なしで作成する。
func (s *Service) MarkStatus(ctx context.Context, identityID int64, date time.Time, status string) (*model.AttendanceRecord, error) {
	st, err := model.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	return s.upsert(ctx, metrics.EventMarkStatus, identityID, date, func(record *model.AttendanceRecord, _ bool) error {
		record.Status = st
		return nil
	})
}

// upsert は (identityID, date) の記録を1トランザクション内で読み取り、mutateを適用して保存する。
// 同時に作成された記録と一意制約で衝突した場合は1回だけやり直し、それでも衝突すればConflictErrorを返す。
// 呼び出し元のトランザクション内では、失敗したトランザクションを再利用できないためやり直さない。
func (s *Service) upsert(ctx context.Context, kind string, identityID int64, date time.Time, mutate mutation) (*model.AttendanceRecord, error) {
	day := model.DateOf(date)
	attempts := maxUpsertAttempts
	if repository.InTx(ctx) {
		attempts = 1
	}

	var result *model.AttendanceRecord
	for attempt := 1; ; attempt++ {
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			if err := s.ensureIdentity(ctx, identityID); err != nil {
				return err
			}

			record, err := s.records.FindByIdentityAndDate(ctx, identityID, day)
			if err != nil {
				return fmt.Errorf("出席記録の取得に失敗しました: %w", err)
			}

			now := s.now().UTC()
			exists := record != nil
			if !exists {
				record = &model.AttendanceRecord{
					IdentityID: identityID,
					Date:       day,
					CreatedAt:  now,
				}
			}
			if err := mutate(record, exists); err != nil {
				return err
			}
			record.UpdatedAt = now

			if exists {
				err = s.records.Update(ctx, record)
			} else {
				err = s.records.Create(ctx, record)
			}
			if err != nil {
				return fmt.Errorf("出席記録の保存に失敗しました: %w", err)
			}
			result = record
			return nil
		})
		if err == nil {
			break
		}

		if _, ok := repository.AsUniqueViolation(err); !ok {
			return nil, err
		}
		if attempt >= attempts {
			conflict := model.NewWriteConflictError()
			s.recordConflict(conflict.Code)
			slog.Warn("出席記録の同時更新が解消しませんでした",
				slog.Int64("identity_id", identityID),
				slog.String("date", day.Format(model.DateLayout)),
				slog.String("kind", kind),
			)
			return nil, conflict
		}
		slog.Info("出席記録の同時作成を検出したため再試行します",
			slog.Int64("identity_id", identityID),
			slog.String("date", day.Format(model.DateLayout)),
		)
	}

	s.recordEvent(kind)
	slog.Info("出席記録を更新しました",
		slog.Int64("identity_id", identityID),
		slog.Int64("record_id", result.ID),
		slog.String("date", day.Format(model.DateLayout)),
		slog.String("kind", kind),
		slog.String("status", string(result.Status)),
	)
	return result, nil
}

// Create は出席記録を明示的に作成する。同じ日の記録が既にある場合はConflictErrorを返す。
func (s *Service) Create(ctx context.Context, identityID int64, date time.Time, status string) (*model.AttendanceRecord, error) {
	st, err := model.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	day := model.DateOf(date)
	dayStr := day.Format(model.DateLayout)

	now := s.now().UTC()
	record := &model.AttendanceRecord{
		IdentityID: identityID,
		Date:       day,
		Status:     st,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.ensureIdentity(ctx, identityID); err != nil {
			return err
		}
		existing, err := s.records.FindByIdentityAndDate(ctx, identityID, day)
		if err != nil {
			return fmt.Errorf("出席記録の取得に失敗しました: %w", err)
		}
		if existing != nil {
			return model.NewDuplicateAttendanceError(identityID, dayStr)
		}
		if err := s.records.Create(ctx, record); err != nil {
			if _, ok := repository.AsUniqueViolation(err); ok {
				return model.NewDuplicateAttendanceError(identityID, dayStr)
			}
			return fmt.Errorf("出席記録の作成に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		if model.IsConflict(err) {
			s.recordConflict(model.ErrCodeDuplicateRecord)
		}
		return nil, err
	}

	s.recordEvent(metrics.EventCreate)
	slog.Info("出席記録を作成しました",
		slog.Int64("identity_id", identityID),
		slog.Int64("record_id", record.ID),
		slog.String("date", dayStr),
	)
	return record, nil
}

// GetByID は指定IDの出席記録を返す。存在しない場合はnilを返す。
func (s *Service) GetByID(ctx context.Context, recordID int64) (*model.AttendanceRecord, error) {
	record, err := s.records.FindByID(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("出席記録の取得に失敗しました: %w", err)
	}
	return record, nil
}

// GetByIdentity はIdentityの出席記録を新しい日付から順に返す。
func (s *Service) GetByIdentity(ctx context.Context, identityID int64, skip, limit int) ([]*model.AttendanceRecord, error) {
	records, err := s.records.ListByIdentity(ctx, identityID, model.NewPage(skip, limit))
	if err != nil {
		return nil, fmt.Errorf("出席記録一覧の取得に失敗しました: %w", err)
	}
	return nonNil(records), nil
}

// GetByDate は指定日の全Identityの出席記録を返す。
func (s *Service) GetByDate(ctx context.Context, date time.Time) ([]*model.AttendanceRecord, error) {
	records, err := s.records.ListByDate(ctx, model.DateOf(date))
	if err != nil {
		return nil, fmt.Errorf("出席記録一覧の取得に失敗しました: %w", err)
	}
	return nonNil(records), nil
}

// GetByDateRange はstartからendまで（両端を含む）の出席記録を日付順に返す。
func (s *Service) GetByDateRange(ctx context.Context, identityID int64, start, end time.Time) ([]*model.AttendanceRecord, error) {
	from, to := model.DateOf(start), model.DateOf(end)
	if from.After(to) {
		return nil, model.NewInvalidDateRangeError()
	}
	records, err := s.records.ListByIdentityAndDateRange(ctx, identityID, from, to)
	if err != nil {
		return nil, fmt.Errorf("出席記録一覧の取得に失敗しました: %w", err)
	}
	return nonNil(records), nil
}

// UpdateStatus は記録IDを指定して状態を更新する。
func (s *Service) UpdateStatus(ctx context.Context, recordID int64, status string) (*model.AttendanceRecord, error) {
	st, err := model.ParseStatus(status)
	if err != nil {
		return nil, err
	}

	var result *model.AttendanceRecord
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		record, err := s.records.FindByID(ctx, recordID)
		if err != nil {
			return fmt.Errorf("出席記録の取得に失敗しました: %w", err)
		}
		if record == nil {
			return model.NewAttendanceNotFoundError(recordID)
		}

		record.Status = st
		record.UpdatedAt = s.now().UTC()
		if err := s.records.Update(ctx, record); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return model.NewAttendanceNotFoundError(recordID)
			}
			return fmt.Errorf("出席記録の更新に失敗しました: %w", err)
		}
		result = record
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordEvent(metrics.EventUpdateStatus)
	slog.Info("出席記録の状態を更新しました",
		slog.Int64("record_id", recordID),
		slog.String("status", string(st)),
	)
	return result, nil
}

// Delete は出席記録を削除する。
func (s *Service) Delete(ctx context.Context, recordID int64) (bool, error) {
	if err := s.records.DeleteByID(ctx, recordID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, model.NewAttendanceNotFoundError(recordID)
		}
		return false, fmt.Errorf("出席記録の削除に失敗しました: %w", err)
	}

	s.recordEvent(metrics.EventDelete)
	slog.Info("出席記録を削除しました", slog.Int64("record_id", recordID))
	return true, nil
}

// ensureIdentity はIdentityが存在することを確認する。無効化されたIdentityも対象に含む。
func (s *Service) ensureIdentity(ctx context.Context, identityID int64) error {
	identity, err := s.identities.FindByID(ctx, identityID)
	if err != nil {
		return fmt.Errorf("Identityの取得に失敗しました: %w", err)
	}
	if identity == nil {
		return model.NewIdentityNotFoundError(identityID)
	}
	return nil
}

func (s *Service) recordEvent(kind string) {
	if s.metrics != nil {
		s.metrics.RecordAttendanceEvent(kind)
	}
}

func (s *Service) recordConflict(code string) {
	if s.metrics != nil {
		s.metrics.RecordConflict(code)
	}
}

func nonNil(records []*model.AttendanceRecord) []*model.AttendanceRecord {
	if records == nil {
		return []*model.AttendanceRecord{}
	}
	return records
}
