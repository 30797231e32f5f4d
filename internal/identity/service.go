// Package identity は出退勤の対象となる人物（Identity）の管理を提供する。
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/attendman/internal/model"
	"github.com/hitoshi/attendman/internal/repository"
	"github.com/hitoshi/attendman/internal/validation"
)

// MetricsRecorder はIdentity管理で記録するメトリクスのインターフェース。
type MetricsRecorder interface {
	RecordIdentityCreated()
	RecordIdentityDeleted()
	RecordConflict(code string)
}

// Service はIdentity管理のサービス層。
// 登録・参照・部分更新・有効/無効の切り替え・削除のビジネスロジックを提供する。
type Service struct {
	identities repository.IdentityRepository
	attendance repository.AttendanceRepository
	tx         repository.Transactor
	validator  *validation.Validator
	metrics    MetricsRecorder
	now        func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// attendanceはIdentity削除時に出席記録を削除するために使用する。metricsはnilでもよい。
func NewService(
	identities repository.IdentityRepository,
	attendance repository.AttendanceRepository,
	tx repository.Transactor,
	validator *validation.Validator,
	metrics MetricsRecorder,
) *Service {
	return &Service{
		identities: identities,
		attendance: attendance,
		tx:         tx,
		validator:  validator,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Create はIdentityを登録する。
// メールアドレスまたは社員番号が既存のIdentity（無効化済みを含む）と重複する場合はConflictErrorを返す。
func (s *Service) Create(ctx context.Context, in model.IdentityInput) (*model.Identity, error) {
	in.Name = s.validator.CleanText(in.Name)
	in.Email = trim(in.Email)
	in.ExternalID = trim(in.ExternalID)
	in.Phone = emptyToNil(s.validator.CleanOptional(in.Phone))

	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	identity := &model.Identity{
		Name:       in.Name,
		Email:      in.Email,
		ExternalID: in.ExternalID,
		Phone:      in.Phone,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.ensureEmailAvailable(ctx, identity.Email, 0); err != nil {
			return err
		}
		if err := s.ensureExternalIDAvailable(ctx, identity.ExternalID); err != nil {
			return err
		}
		if err := s.identities.Create(ctx, identity); err != nil {
			return s.translateWriteError(err, identity)
		}
		return nil
	})
	if err != nil {
		s.recordConflict(err)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordIdentityCreated()
	}
	slog.Info("Identityを登録しました",
		slog.Int64("identity_id", identity.ID),
		slog.String("external_id", identity.ExternalID),
	)

	return identity, nil
}

// GetByID は指定IDのIdentityを返す。存在しない場合はnilを返す。
func (s *Service) GetByID(ctx context.Context, id int64) (*model.Identity, error) {
	identity, err := s.identities.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Identityの取得に失敗しました: %w", err)
	}
	return identity, nil
}

// GetByExternalID は社員番号でIdentityを返す。存在しない場合はnilを返す。
func (s *Service) GetByExternalID(ctx context.Context, externalID string) (*model.Identity, error) {
	identity, err := s.identities.FindByExternalID(ctx, trim(externalID))
	if err != nil {
		return nil, fmt.Errorf("Identityの取得に失敗しました: %w", err)
	}
	return identity, nil
}

// GetByEmail はメールアドレスでIdentityを返す。存在しない場合はnilを返す。
func (s *Service) GetByEmail(ctx context.Context, email string) (*model.Identity, error) {
	identity, err := s.identities.FindByEmail(ctx, trim(email))
	if err != nil {
		return nil, fmt.Errorf("Identityの取得に失敗しました: %w", err)
	}
	return identity, nil
}

// ListAll は登録順にIdentityを返す。activeOnlyがtrueの場合は有効なIdentityのみを返す。
func (s *Service) ListAll(ctx context.Context, activeOnly bool, skip, limit int) ([]*model.Identity, error) {
	identities, err := s.identities.List(ctx, activeOnly, model.NewPage(skip, limit))
	if err != nil {
		return nil, fmt.Errorf("Identity一覧の取得に失敗しました: %w", err)
	}
	if identities == nil {
		identities = []*model.Identity{}
	}
	return identities, nil
}

// Update は指定されたフィールドのみを更新する。
// Phoneに空文字列を指定すると電話番号を削除する。
func (s *Service) Update(ctx context.Context, id int64, upd model.IdentityUpdate) (*model.Identity, error) {
	if upd.Name != nil {
		upd.Name = s.validator.CleanOptional(upd.Name)
	}
	if upd.Email != nil {
		email := trim(*upd.Email)
		upd.Email = &email
	}
	upd.Phone = s.validator.CleanOptional(upd.Phone)

	if err := s.validator.Struct(upd); err != nil {
		return nil, err
	}

	var updated *model.Identity
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		identity, err := s.mustFind(ctx, id)
		if err != nil {
			return err
		}
		if upd.IsEmpty() {
			updated = identity
			return nil
		}

		if upd.Name != nil {
			identity.Name = *upd.Name
		}
		if upd.Email != nil && *upd.Email != identity.Email {
			if err := s.ensureEmailAvailable(ctx, *upd.Email, identity.ID); err != nil {
				return err
			}
			identity.Email = *upd.Email
		}
		if upd.Phone != nil {
			identity.Phone = emptyToNil(upd.Phone)
		}
		identity.UpdatedAt = s.now().UTC()

		if err := s.identities.Update(ctx, identity); err != nil {
			return s.translateWriteError(err, identity)
		}
		updated = identity
		return nil
	})
	if err != nil {
		s.recordConflict(err)
		return nil, err
	}

	slog.Info("Identityを更新しました", slog.Int64("identity_id", id))
	return updated, nil
}

// Deactivate はIdentityを無効化する。既に無効な場合は何もしない。
func (s *Service) Deactivate(ctx context.Context, id int64) (*model.Identity, error) {
	return s.setActive(ctx, id, false)
}

// Reactivate は無効化されたIdentityを有効に戻す。既に有効な場合は何もしない。
func (s *Service) Reactivate(ctx context.Context, id int64) (*model.Identity, error) {
	return s.setActive(ctx, id, true)
}

func (s *Service) setActive(ctx context.Context, id int64, active bool) (*model.Identity, error) {
	var result *model.Identity
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		identity, err := s.mustFind(ctx, id)
		if err != nil {
			return err
		}
		if identity.Active == active {
			result = identity
			return nil
		}

		identity.Active = active
		identity.UpdatedAt = s.now().UTC()
		if err := s.identities.Update(ctx, identity); err != nil {
			return fmt.Errorf("Identityの有効状態の更新に失敗しました: %w", err)
		}
		result = identity
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Identityの有効状態を変更しました",
		slog.Int64("identity_id", id),
		slog.Bool("active", result.Active),
	)
	return result, nil
}

// Delete はIdentityを物理削除する。
// 出席記録は同一トランザクション内でIdentityより先に削除する。
func (s *Service) Delete(ctx context.Context, id int64) (bool, error) {
	var removed int64
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.mustFind(ctx, id); err != nil {
			return err
		}

		n, err := s.attendance.DeleteByIdentityID(ctx, id)
		if err != nil {
			return fmt.Errorf("出席記録の削除に失敗しました: %w", err)
		}
		removed = n

		if err := s.identities.DeleteByID(ctx, id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return model.NewIdentityNotFoundError(id)
			}
			return fmt.Errorf("Identityの削除に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if s.metrics != nil {
		s.metrics.RecordIdentityDeleted()
	}
	slog.Info("Identityを削除しました",
		slog.Int64("identity_id", id),
		slog.Int64("attendance_records_deleted", removed),
	)
	return true, nil
}

// mustFind はIdentityを取得し、存在しない場合はNotFoundErrorを返す。
func (s *Service) mustFind(ctx context.Context, id int64) (*model.Identity, error) {
	identity, err := s.identities.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Identityの取得に失敗しました: %w", err)
	}
	if identity == nil {
		return nil, model.NewIdentityNotFoundError(id)
	}
	return identity, nil
}

// ensureEmailAvailable はメールアドレスがselfID以外のIdentityで使われていないことを確認する。
func (s *Service) ensureEmailAvailable(ctx context.Context, email string, selfID int64) error {
	existing, err := s.identities.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("メールアドレスの重複確認に失敗しました: %w", err)
	}
	if existing != nil && existing.ID != selfID {
		return model.NewDuplicateEmailError(email)
	}
	return nil
}

// ensureExternalIDAvailable は社員番号が未使用であることを確認する。
func (s *Service) ensureExternalIDAvailable(ctx context.Context, externalID string) error {
	existing, err := s.identities.FindByExternalID(ctx, externalID)
	if err != nil {
		return fmt.Errorf("社員番号の重複確認に失敗しました: %w", err)
	}
	if existing != nil {
		return model.NewDuplicateExternalIDError(externalID)
	}
	return nil
}

// translateWriteError はストアの一意制約違反をConflictErrorに変換する。
// 事前確認と書き込みの間に他の書き込みが割り込んだ場合に発生する。
func (s *Service) translateWriteError(err error, identity *model.Identity) error {
	uv, ok := repository.AsUniqueViolation(err)
	if !ok {
		return fmt.Errorf("Identityの保存に失敗しました: %w", err)
	}
	switch uv.Constraint {
	case repository.ConstraintIdentityEmail:
		return model.NewDuplicateEmailError(identity.Email)
	case repository.ConstraintIdentityExternalID:
		return model.NewDuplicateExternalIDError(identity.ExternalID)
	default:
		return model.NewDuplicateIdentityError()
	}
}

func (s *Service) recordConflict(err error) {
	var apiErr *model.APIError
	if s.metrics != nil && errors.As(err, &apiErr) && apiErr.Category == model.CategoryConflict {
		s.metrics.RecordConflict(apiErr.Code)
	}
}

func trim(s string) string {
	return strings.TrimSpace(s)
}

// emptyToNil は空文字列へのポインタをnilにする。
func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
