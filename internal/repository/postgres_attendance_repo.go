package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/attendman/internal/model"
)

const attendanceColumns = `id, identity_id, date, status, check_in, check_out, created_at, updated_at`

// PostgresAttendanceRepo はPostgreSQLを使用した出席記録リポジトリ。
type PostgresAttendanceRepo struct {
	db *sql.DB
}

// NewPostgresAttendanceRepo はPostgresAttendanceRepoを生成する。
func NewPostgresAttendanceRepo(db *sql.DB) *PostgresAttendanceRepo {
	return &PostgresAttendanceRepo{db: db}
}

func scanAttendance(s rowScanner) (*model.AttendanceRecord, error) {
	record := &model.AttendanceRecord{}
	var (
		date              time.Time
		status            string
		checkIn, checkOut sql.NullTime
	)
	if err := s.Scan(
		&record.ID, &record.IdentityID, &date, &status,
		&checkIn, &checkOut, &record.CreatedAt, &record.UpdatedAt,
	); err != nil {
		return nil, err
	}
	record.Date = model.DateOf(date)
	record.Status = model.Status(status)
	if checkIn.Valid {
		record.CheckIn = &checkIn.Time
	}
	if checkOut.Valid {
		record.CheckOut = &checkOut.Time
	}
	return record, nil
}

// formatDate はDATE列と比較するための文字列を返す。
func formatDate(t time.Time) string {
	return t.Format(model.DateLayout)
}

func (r *PostgresAttendanceRepo) queryMany(ctx context.Context, query string, args ...any) ([]*model.AttendanceRecord, error) {
	rows, err := executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*model.AttendanceRecord
	for rows.Next() {
		record, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// FindByID は指定IDの出席記録を取得する。見つからない場合はnilを返す。
func (r *PostgresAttendanceRepo) FindByID(ctx context.Context, id int64) (*model.AttendanceRecord, error) {
	record, err := scanAttendance(executor(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+attendanceColumns+` FROM attendance_records WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find attendance record by ID: %w", err)
	}
	return record, nil
}

// FindByIdentityAndDate はIdentityと日付で出席記録を取得する。見つからない場合はnilを返す。
// トランザクション内では FOR UPDATE で行ロックを取得する。
func (r *PostgresAttendanceRepo) FindByIdentityAndDate(ctx context.Context, identityID int64, date time.Time) (*model.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + `
		 FROM attendance_records
		 WHERE identity_id = $1 AND date = $2::date`
	if _, ok := TxFromContext(ctx); ok {
		query += ` FOR UPDATE`
	}

	record, err := scanAttendance(executor(ctx, r.db).QueryRowContext(ctx, query, identityID, formatDate(date)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find attendance record: %w", err)
	}
	return record, nil
}

// ListByIdentity はIdentityの出席記録を日付降順で取得する。
func (r *PostgresAttendanceRepo) ListByIdentity(ctx context.Context, identityID int64, page model.Page) ([]*model.AttendanceRecord, error) {
	records, err := r.queryMany(ctx,
		`SELECT `+attendanceColumns+`
		 FROM attendance_records
		 WHERE identity_id = $1
		 ORDER BY date DESC
		 OFFSET $2 LIMIT $3`,
		identityID, page.Skip, page.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendance records by identity: %w", err)
	}
	return records, nil
}

// ListByDate は指定日の全出席記録をidentity_id昇順で取得する。
func (r *PostgresAttendanceRepo) ListByDate(ctx context.Context, date time.Time) ([]*model.AttendanceRecord, error) {
	records, err := r.queryMany(ctx,
		`SELECT `+attendanceColumns+`
		 FROM attendance_records
		 WHERE date = $1::date
		 ORDER BY identity_id ASC`,
		formatDate(date),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendance records by date: %w", err)
	}
	return records, nil
}

// ListByIdentityAndDateRange はstart以上end以下の出席記録を日付昇順で取得する。
func (r *PostgresAttendanceRepo) ListByIdentityAndDateRange(ctx context.Context, identityID int64, start, end time.Time) ([]*model.AttendanceRecord, error) {
	records, err := r.queryMany(ctx,
		`SELECT `+attendanceColumns+`
		 FROM attendance_records
		 WHERE identity_id = $1 AND date >= $2::date AND date <= $3::date
		 ORDER BY date ASC`,
		identityID, formatDate(start), formatDate(end),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendance records by date range: %w", err)
	}
	return records, nil
}

// Create は出席記録を作成し、採番されたIDを設定する。
func (r *PostgresAttendanceRepo) Create(ctx context.Context, record *model.AttendanceRecord) error {
	err := executor(ctx, r.db).QueryRowContext(ctx,
		`INSERT INTO attendance_records (identity_id, date, status, check_in, check_out, created_at, updated_at)
		 VALUES ($1, $2::date, $3, $4, $5, $6, $7)
		 RETURNING id`,
		record.IdentityID, formatDate(record.Date), string(record.Status),
		record.CheckIn, record.CheckOut, record.CreatedAt, record.UpdatedAt,
	).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("failed to insert attendance record: %w", translateError(err))
	}
	return nil
}

// Update は出席記録の状態と打刻時刻を更新する。
func (r *PostgresAttendanceRepo) Update(ctx context.Context, record *model.AttendanceRecord) error {
	result, err := executor(ctx, r.db).ExecContext(ctx,
		`UPDATE attendance_records SET
		    status = $2, check_in = $3, check_out = $4, updated_at = $5
		 WHERE id = $1`,
		record.ID, string(record.Status), record.CheckIn, record.CheckOut, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update attendance record: %w", translateError(err))
	}
	return checkRowsAffected(result, record.ID)
}

// DeleteByID は指定IDの出席記録を削除する。
func (r *PostgresAttendanceRepo) DeleteByID(ctx context.Context, id int64) error {
	result, err := executor(ctx, r.db).ExecContext(ctx,
		`DELETE FROM attendance_records WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete attendance record: %w", err)
	}
	return checkRowsAffected(result, id)
}

// DeleteByIdentityID はIdentityの出席記録を全て削除する。
func (r *PostgresAttendanceRepo) DeleteByIdentityID(ctx context.Context, identityID int64) (int64, error) {
	result, err := executor(ctx, r.db).ExecContext(ctx,
		`DELETE FROM attendance_records WHERE identity_id = $1`,
		identityID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete attendance records of identity: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ AttendanceRepository = (*PostgresAttendanceRepo)(nil)
