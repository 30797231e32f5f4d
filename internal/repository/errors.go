package repository

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ErrNotFound は更新・削除対象の行が存在しないことを表す。
var ErrNotFound = errors.New("record not found")

// ErrForeignKeyViolation は存在しないIdentityを参照する、または参照されているIdentityを削除する操作のエラー。
var ErrForeignKeyViolation = errors.New("foreign key violation")

// 一意制約名。マイグレーションで明示的に命名している。
const (
	ConstraintIdentityEmail      = "identities_email_key"
	ConstraintIdentityExternalID = "identities_external_id_key"
	ConstraintAttendanceDaily    = "attendance_records_identity_id_date_key"
)

// PostgreSQLのSQLSTATE
const (
	uniqueViolationCode     = "23505"
	foreignKeyViolationCode = "23503"
)

// UniqueViolationError は一意制約違反を表す。
// Constraintには違反した制約名が入る。
type UniqueViolationError struct {
	Constraint string
	Err        error
}

// Error はerrorインターフェースを実装する。
func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("unique constraint violation: %s", e.Constraint)
}

// Unwrap は元のエラーを返す。
func (e *UniqueViolationError) Unwrap() error {
	return e.Err
}

// AsUniqueViolation はerrが一意制約違反であればその詳細を返す。
func AsUniqueViolation(err error) (*UniqueViolationError, bool) {
	var uv *UniqueViolationError
	if errors.As(err, &uv) {
		return uv, true
	}
	return nil, false
}

// translateError はドライバのエラーをリポジトリ層のエラーに変換する。
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch string(pqErr.Code) {
	case uniqueViolationCode:
		return &UniqueViolationError{Constraint: pqErr.Constraint, Err: err}
	case foreignKeyViolationCode:
		return fmt.Errorf("%w: %w", ErrForeignKeyViolation, err)
	}
	return err
}
