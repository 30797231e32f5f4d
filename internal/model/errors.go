// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// Categoryがエラー分類（not_found, conflict, precondition, validation）を表す。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: not_found, conflict, precondition, validation
	Action   string // 利用者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラーカテゴリ
const (
	CategoryNotFound     = "not_found"
	CategoryConflict     = "conflict"
	CategoryPrecondition = "precondition"
	CategoryValidation   = "validation"
)

// 定義済みエラーコード
const (
	ErrCodeIdentityNotFound   = "IDENTITY_NOT_FOUND"
	ErrCodeAttendanceNotFound = "ATTENDANCE_NOT_FOUND"
	ErrCodeDuplicateEmail     = "DUPLICATE_EMAIL"
	ErrCodeDuplicateExternal  = "DUPLICATE_EXTERNAL_ID"
	ErrCodeDuplicateIdentity  = "DUPLICATE_IDENTITY"
	ErrCodeDuplicateRecord    = "DUPLICATE_ATTENDANCE"
	ErrCodeWriteConflict      = "WRITE_CONFLICT"
	ErrCodeCheckInRequired    = "CHECK_IN_REQUIRED"
	ErrCodeCheckOutBefore     = "CHECK_OUT_BEFORE_CHECK_IN"
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeInvalidStatus      = "INVALID_STATUS"
	ErrCodeInvalidDate        = "INVALID_DATE"
	ErrCodeInvalidDateRange   = "INVALID_DATE_RANGE"
)

// NewIdentityNotFoundError はIdentity未検出エラーを生成する。
func NewIdentityNotFoundError(id int64) *APIError {
	return &APIError{
		Code:     ErrCodeIdentityNotFound,
		Message:  fmt.Sprintf("指定されたIdentityが見つかりません: %d", id),
		Category: CategoryNotFound,
		Action:   "IdentityのIDを確認してください。",
	}
}

// NewIdentityLookupNotFoundError はメールアドレスまたは社員番号による検索で見つからない場合のエラーを生成する。
func NewIdentityLookupNotFoundError(field, value string) *APIError {
	return &APIError{
		Code:     ErrCodeIdentityNotFound,
		Message:  fmt.Sprintf("指定されたIdentityが見つかりません: %s=%s", field, value),
		Category: CategoryNotFound,
		Action:   "検索条件を確認してください。",
	}
}

// NewAttendanceNotFoundError は出席記録未検出エラーを生成する。
func NewAttendanceNotFoundError(id int64) *APIError {
	return &APIError{
		Code:     ErrCodeAttendanceNotFound,
		Message:  fmt.Sprintf("指定された出席記録が見つかりません: %d", id),
		Category: CategoryNotFound,
		Action:   "出席記録のIDを確認してください。",
	}
}

// NewDuplicateEmailError はメールアドレス重複エラーを生成する。
func NewDuplicateEmailError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateEmail,
		Message:  fmt.Sprintf("このメールアドレスは既に登録されています: %s", email),
		Category: CategoryConflict,
		Action:   "別のメールアドレスを指定してください。無効化されたIdentityも重複判定の対象です。",
	}
}

// NewDuplicateExternalIDError は外部ID重複エラーを生成する。
func NewDuplicateExternalIDError(externalID string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateExternal,
		Message:  fmt.Sprintf("この社員番号は既に登録されています: %s", externalID),
		Category: CategoryConflict,
		Action:   "別の社員番号を指定してください。無効化されたIdentityも重複判定の対象です。",
	}
}

// NewDuplicateIdentityError は制約名から項目を特定できない一意制約違反のエラーを生成する。
func NewDuplicateIdentityError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateIdentity,
		Message:  "メールアドレスまたは社員番号が既に登録されています。",
		Category: CategoryConflict,
		Action:   "入力内容を確認してください。",
	}
}

// NewDuplicateAttendanceError は同一日の出席記録が既に存在する場合のエラーを生成する。
func NewDuplicateAttendanceError(identityID int64, date string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateRecord,
		Message:  fmt.Sprintf("Identity %d の %s の出席記録は既に存在します。", identityID, date),
		Category: CategoryConflict,
		Action:   "既存の記録の状態を更新してください。",
	}
}

// NewWriteConflictError は同時更新の競合エラーを生成する。
func NewWriteConflictError() *APIError {
	return &APIError{
		Code:     ErrCodeWriteConflict,
		Message:  "同じ出席記録が同時に更新されました。",
		Category: CategoryConflict,
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewCheckInRequiredError はチェックイン前のチェックアウトエラーを生成する。
func NewCheckInRequiredError(identityID int64, date string) *APIError {
	return &APIError{
		Code:     ErrCodeCheckInRequired,
		Message:  fmt.Sprintf("Identity %d の %s のチェックイン記録がありません。", identityID, date),
		Category: CategoryPrecondition,
		Action:   "先にチェックインしてください。",
	}
}

// NewCheckOutBeforeCheckInError はチェックイン時刻より前のチェックアウトエラーを生成する。
func NewCheckOutBeforeCheckInError() *APIError {
	return &APIError{
		Code:     ErrCodeCheckOutBefore,
		Message:  "チェックアウト時刻がチェックイン時刻より前です。",
		Category: CategoryPrecondition,
		Action:   "チェックアウト時刻を確認してください。",
	}
}

// NewInvalidInputError は入力値不正エラーを生成する。
func NewInvalidInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("入力値が不正です: %s", reason),
		Category: CategoryValidation,
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidStatusError は未知の出席状態エラーを生成する。
func NewInvalidStatusError(status string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidStatus,
		Message:  fmt.Sprintf("無効な出席状態です: %s", status),
		Category: CategoryValidation,
		Action:   "状態には Present、Absent、Leave、Late、Other のいずれかを指定してください。",
	}
}

// NewInvalidDateError は日付形式エラーを生成する。
func NewInvalidDateError(value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDate,
		Message:  fmt.Sprintf("無効な日付です: %s", value),
		Category: CategoryValidation,
		Action:   "日付は YYYY-MM-DD 形式で指定してください。",
	}
}

// NewInvalidDateRangeError は開始日が終了日より後の場合のエラーを生成する。
func NewInvalidDateRangeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDateRange,
		Message:  "開始日が終了日より後になっています。",
		Category: CategoryValidation,
		Action:   "開始日は終了日以前の日付を指定してください。",
	}
}

// IsNotFound はerrがnot_foundカテゴリのAPIErrorかどうかを返す。
func IsNotFound(err error) bool { return hasCategory(err, CategoryNotFound) }

// IsConflict はerrがconflictカテゴリのAPIErrorかどうかを返す。
func IsConflict(err error) bool { return hasCategory(err, CategoryConflict) }

// IsPrecondition はerrがpreconditionカテゴリのAPIErrorかどうかを返す。
func IsPrecondition(err error) bool { return hasCategory(err, CategoryPrecondition) }

// IsValidation はerrがvalidationカテゴリのAPIErrorかどうかを返す。
func IsValidation(err error) bool { return hasCategory(err, CategoryValidation) }

func hasCategory(err error, category string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Category == category
	}
	return false
}
