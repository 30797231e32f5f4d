package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Executor はSQL実行を抽象化するインターフェース。
// *sql.DB と *sql.Tx の両方を受け付ける。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txContextKey struct{}

// ContextWithTx はトランザクションをコンテキストに格納する。
func ContextWithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TxFromContext はコンテキストからトランザクションを取り出す。
func TxFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txContextKey{}).(*sql.Tx)
	return tx, ok
}

// InTx はctxが既にトランザクション内かどうかを返す。
// PostgresTransactorとMemoryStoreのどちらが開始したトランザクションも対象とする。
func InTx(ctx context.Context) bool {
	if _, ok := TxFromContext(ctx); ok {
		return true
	}
	return ctx.Value(memoryTxKey{}) != nil
}

// executor はコンテキストにトランザクションがあればそれを、なければdbを返す。
func executor(ctx context.Context, db *sql.DB) Executor {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return db
}

// PostgresTransactor はdatabase/sqlのトランザクションを使用したTransactor。
type PostgresTransactor struct {
	db TxBeginner
}

// NewPostgresTransactor はPostgresTransactorを生成する。
func NewPostgresTransactor(db TxBeginner) *PostgresTransactor {
	return &PostgresTransactor{db: db}
}

// WithinTx はfnを1つのトランザクション内で実行する。
func (t *PostgresTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ContextWithTx(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("failed to rollback transaction",
				slog.String("error", rbErr.Error()),
			)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", translateError(err))
	}

	return nil
}

// compile-time interface check
var _ Transactor = (*PostgresTransactor)(nil)
