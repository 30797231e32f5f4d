// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/attendman/internal/model"
)

// IdentityRepository はIdentityの永続化インターフェース。
type IdentityRepository interface {
	// FindByID は指定IDのIdentityを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Identity, error)

	// FindByEmail はメールアドレスでIdentityを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Identity, error)

	// FindByExternalID は社員番号でIdentityを検索する。見つからない場合はnilを返す。
	FindByExternalID(ctx context.Context, externalID string) (*model.Identity, error)

	// List はID昇順（登録順）でIdentityを取得する。
	// activeOnlyがtrueの場合は無効化されたIdentityを除外する。
	List(ctx context.Context, activeOnly bool, page model.Page) ([]*model.Identity, error)

	// Create はIdentityを作成し、採番されたIDをidentity.IDに設定する。
	// 一意制約違反の場合は*UniqueViolationErrorを返す。
	Create(ctx context.Context, identity *model.Identity) error

	// Update は名前、メールアドレス、電話番号、有効フラグ、更新日時を更新する。
	// 対象が存在しない場合はErrNotFoundを返す。
	Update(ctx context.Context, identity *model.Identity) error

	// DeleteByID は指定IDのIdentityを削除する。
	// 対象が存在しない場合はErrNotFoundを返す。
	DeleteByID(ctx context.Context, id int64) error
}

// AttendanceRepository は出席記録の永続化インターフェース。
// (identity_id, date) の一意制約を前提とする。
type AttendanceRepository interface {
	// FindByID は指定IDの出席記録を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.AttendanceRecord, error)

	// FindByIdentityAndDate はIdentityと日付で出席記録を取得する。見つからない場合はnilを返す。
	FindByIdentityAndDate(ctx context.Context, identityID int64, date time.Time) (*model.AttendanceRecord, error)

	// ListByIdentity はIdentityの出席記録を日付降順で取得する。
	ListByIdentity(ctx context.Context, identityID int64, page model.Page) ([]*model.AttendanceRecord, error)

	// ListByDate は指定日の全出席記録をidentity_id昇順で取得する。
	ListByDate(ctx context.Context, date time.Time) ([]*model.AttendanceRecord, error)

	// ListByIdentityAndDateRange はstart以上end以下の出席記録を日付昇順で取得する。
	ListByIdentityAndDateRange(ctx context.Context, identityID int64, start, end time.Time) ([]*model.AttendanceRecord, error)

	// Create は出席記録を作成し、採番されたIDをrecord.IDに設定する。
	// (identity_id, date) が重複する場合は*UniqueViolationErrorを返す。
	Create(ctx context.Context, record *model.AttendanceRecord) error

	// Update は状態、チェックイン、チェックアウト、更新日時を更新する。
	// 対象が存在しない場合はErrNotFoundを返す。
	Update(ctx context.Context, record *model.AttendanceRecord) error

	// DeleteByID は指定IDの出席記録を削除する。
	// 対象が存在しない場合はErrNotFoundを返す。
	DeleteByID(ctx context.Context, id int64) error

	// DeleteByIdentityID はIdentityの出席記録を全て削除し、削除件数を返す。
	DeleteByIdentityID(ctx context.Context, identityID int64) (int64, error)
}

// Transactor はトランザクション境界を提供するインターフェース。
// fnがエラーを返すかpanicした場合はロールバックし、成功した場合はコミットする。
// ctxが既にトランザクション内であれば、そのトランザクションをそのまま使用する。
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
