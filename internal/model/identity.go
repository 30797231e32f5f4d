// Package model はドメインモデルを定義する。
package model

import "time"

// Identity は出退勤を管理される人物（社員・学生）を表す。
// Email と ExternalID は非アクティブなものを含めて全体で一意。
type Identity struct {
	ID         int64
	Name       string
	Email      string
	ExternalID string // 社員番号・学籍番号
	Phone      *string
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IdentityInput は Identity 作成時の入力を表す。
type IdentityInput struct {
	Name       string  `validate:"required,max=200"`
	Email      string  `validate:"required,contains=@,max=320"`
	ExternalID string  `validate:"required,max=64"`
	Phone      *string `validate:"omitempty,max=32"`
}

// IdentityUpdate は Identity の部分更新を表す。
// nilのフィールドは変更しない。Phoneに空文字列を指定した場合は電話番号を削除する。
type IdentityUpdate struct {
	Name  *string `validate:"omitempty,min=1,max=200"`
	Email *string `validate:"omitempty,contains=@,max=320"`
	Phone *string `validate:"omitempty,max=32"`
}

// IsEmpty は更新対象のフィールドが1つも指定されていない場合にtrueを返す。
func (u IdentityUpdate) IsEmpty() bool {
	return u.Name == nil && u.Email == nil && u.Phone == nil
}

// Page はオフセットベースのページネーション指定。
type Page struct {
	Skip  int
	Limit int
}

const (
	// DefaultPageLimit はlimit未指定時の取得件数。
	DefaultPageLimit = 100
	// MaxPageLimit は1回に取得できる最大件数。
	MaxPageLimit = 1000
)

// NewPage はskipとlimitを正規化したPageを返す。
// limitが0以下の場合はDefaultPageLimit、MaxPageLimitを超える場合はMaxPageLimitに丸める。
func NewPage(skip, limit int) Page {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return Page{Skip: skip, Limit: limit}
}
