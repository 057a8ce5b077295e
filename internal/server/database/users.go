package database

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"vault/internal/server/metadata"
)

const userColumns = `id, username, email, password_hash, storage_used, storage_quota,
	is_active, is_super_admin, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*metadata.User, error) {
	u := &metadata.User{}
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.StorageUsed,
		&u.StorageQuota,
		&u.IsActive,
		&u.IsSuperAdmin,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, err
}

func (r *Repository) CreateUser(ctx context.Context, u *metadata.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.StorageQuota <= 0 {
		u.StorageQuota = metadata.DefaultStorageQuota
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		u.ID,
		u.Username,
		u.Email,
		u.PasswordHash,
		u.StorageUsed,
		u.StorageQuota,
		u.IsActive,
		u.IsSuperAdmin,
		u.CreatedAt,
		u.UpdatedAt,
	)
	return mapErr(err, "create user")
}

func (r *Repository) GetUser(ctx context.Context, id string) (*metadata.User, error) {
	u, err := scanUser(r.db.Pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err, "get user")
	}
	return u, nil
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*metadata.User, error) {
	u, err := scanUser(r.db.Pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if err != nil {
		return nil, mapErr(err, "get user by username")
	}
	return u, nil
}

func (r *Repository) AdjustUsage(ctx context.Context, userID string, delta int64) (int64, bool, error) {
	used, clamped, err := adjustUsage(ctx, r.db.Pool, userID, delta)
	if err != nil {
		return 0, false, mapErr(err, "adjust usage")
	}
	return used, clamped, nil
}

func (r *Repository) ActiveBytes(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(f.size), 0)::BIGINT
		FROM users u LEFT JOIN files f ON f.user_id = u.id AND f.deleted_at IS NULL
		WHERE u.id = $1
		GROUP BY u.id
	`, userID).Scan(&total)
	if err != nil {
		return 0, mapErr(err, "sum active bytes")
	}
	return total, nil
}

func (r *Repository) SetUsage(ctx context.Context, userID string, used int64) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE users SET storage_used = GREATEST($2, 0), updated_at = NOW() WHERE id = $1`,
		userID, used)
	if err != nil {
		return mapErr(err, "set usage")
	}
	if tag.RowsAffected() == 0 {
		return metadata.ErrNotFound
	}
	return nil
}

// adjustUsage applies delta as one atomic statement with a zero floor.
func adjustUsage(ctx context.Context, q DBTX, userID string, delta int64) (int64, bool, error) {
	var (
		used    int64
		clamped bool
	)
	err := q.QueryRow(ctx, `
		UPDATE users u
		SET storage_used = GREATEST(u.storage_used + $2, 0), updated_at = NOW()
		FROM (SELECT storage_used FROM users WHERE id = $1 FOR UPDATE) prev
		WHERE u.id = $1
		RETURNING u.storage_used, prev.storage_used + $2 < 0
	`, userID, delta).Scan(&used, &clamped)
	if err != nil {
		return 0, false, err
	}
	if clamped {
		slog.Error("storage usage would go negative, clamping to zero",
			"user_id", userID,
			"delta", delta,
		)
	}
	return used, clamped, nil
}

// reserveUsage adds delta unless that would cross the quota. Negative deltas
// go through adjustUsage.
func reserveUsage(ctx context.Context, q DBTX, userID string, delta int64) error {
	if delta <= 0 {
		_, _, err := adjustUsage(ctx, q, userID, delta)
		return err
	}
	tag, err := q.Exec(ctx, `
		UPDATE users SET storage_used = storage_used + $2, updated_at = NOW()
		WHERE id = $1 AND storage_used + $2 <= storage_quota
	`, userID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return metadata.ErrNotFound
		}
		return metadata.ErrQuotaExceeded
	}
	return nil
}
