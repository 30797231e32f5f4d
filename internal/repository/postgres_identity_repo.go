package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/attendman/internal/model"
)

const identityColumns = `id, name, email, external_id, phone, is_active, created_at, updated_at`

// PostgresIdentityRepo はPostgreSQLを使用したIdentityリポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(s rowScanner) (*model.Identity, error) {
	identity := &model.Identity{}
	var phone sql.NullString
	if err := s.Scan(
		&identity.ID, &identity.Name, &identity.Email, &identity.ExternalID,
		&phone, &identity.Active, &identity.CreatedAt, &identity.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if phone.Valid {
		identity.Phone = &phone.String
	}
	return identity, nil
}

// findOne は1件のIdentityを条件付きで取得する。見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) findOne(ctx context.Context, where string, arg any) (*model.Identity, error) {
	row := executor(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE `+where,
		arg,
	)
	identity, err := scanIdentity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return identity, nil
}

// FindByID は指定IDのIdentityを取得する。見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByID(ctx context.Context, id int64) (*model.Identity, error) {
	identity, err := r.findOne(ctx, `id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity by ID: %w", err)
	}
	return identity, nil
}

// FindByEmail はメールアドレスでIdentityを検索する。見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByEmail(ctx context.Context, email string) (*model.Identity, error) {
	identity, err := r.findOne(ctx, `email = $1`, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity by email: %w", err)
	}
	return identity, nil
}

// FindByExternalID は社員番号でIdentityを検索する。見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByExternalID(ctx context.Context, externalID string) (*model.Identity, error) {
	identity, err := r.findOne(ctx, `external_id = $1`, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity by external ID: %w", err)
	}
	return identity, nil
}

// List はID昇順でIdentityを取得する。
func (r *PostgresIdentityRepo) List(ctx context.Context, activeOnly bool, page model.Page) ([]*model.Identity, error) {
	rows, err := executor(ctx, r.db).QueryContext(ctx,
		`SELECT `+identityColumns+`
		 FROM identities
		 WHERE ($1 = false OR is_active = true)
		 ORDER BY id ASC
		 OFFSET $2 LIMIT $3`,
		activeOnly, page.Skip, page.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer rows.Close()

	var identities []*model.Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate identities: %w", err)
	}

	return identities, nil
}

// Create はIdentityを作成し、採番されたIDを設定する。
func (r *PostgresIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	err := executor(ctx, r.db).QueryRowContext(ctx,
		`INSERT INTO identities (name, email, external_id, phone, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		identity.Name, identity.Email, identity.ExternalID, identity.Phone,
		identity.Active, identity.CreatedAt, identity.UpdatedAt,
	).Scan(&identity.ID)
	if err != nil {
		return fmt.Errorf("failed to insert identity: %w", translateError(err))
	}
	return nil
}

// Update はIdentityの可変項目を更新する。
func (r *PostgresIdentityRepo) Update(ctx context.Context, identity *model.Identity) error {
	result, err := executor(ctx, r.db).ExecContext(ctx,
		`UPDATE identities SET
		    name = $2, email = $3, phone = $4, is_active = $5, updated_at = $6
		 WHERE id = $1`,
		identity.ID, identity.Name, identity.Email, identity.Phone,
		identity.Active, identity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update identity: %w", translateError(err))
	}
	return checkRowsAffected(result, identity.ID)
}

// DeleteByID は指定IDのIdentityを削除する。
func (r *PostgresIdentityRepo) DeleteByID(ctx context.Context, id int64) error {
	result, err := executor(ctx, r.db).ExecContext(ctx,
		`DELETE FROM identities WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete identity: %w", translateError(err))
	}
	return checkRowsAffected(result, id)
}

// checkRowsAffected は更新件数が0の場合にErrNotFoundを返す。
func checkRowsAffected(result sql.Result, id int64) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("id %d: %w", id, ErrNotFound)
	}
	return nil
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
