package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"vault/internal/server/metadata"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so queries run the
// same way inside and outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository implements metadata.Store on PostgreSQL. Cascades run inside a
// single transaction; uniqueness is enforced by the indexes in migrations/.
type Repository struct {
	db *DB
}

var _ metadata.Store = (*Repository)(nil)

// NewRepository creates a new Repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Ping reports whether the database answers.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// runInTx runs fn inside a transaction, committing on success.
func (r *Repository) runInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isUniqueViolation reports a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// mapErr translates driver errors into store sentinels.
func mapErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return metadata.ErrNotFound
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %s", metadata.ErrConflict, what)
	case errors.Is(err, metadata.ErrNotFound),
		errors.Is(err, metadata.ErrConflict),
		errors.Is(err, metadata.ErrQuotaExceeded),
		errors.Is(err, metadata.ErrInvalidMove):
		return err
	}
	return fmt.Errorf("failed to %s: %w", what, err)
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
