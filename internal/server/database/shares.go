package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"vault/internal/server/metadata"
)

const shareColumns = `id, resource_id, resource_type, owner_id, shared_with_id, permission, expires_at, created_at`

func scanShare(row interface{ Scan(...any) error }) (*metadata.Share, error) {
	s := &metadata.Share{}
	err := row.Scan(
		&s.ID,
		&s.ResourceID,
		&s.ResourceType,
		&s.OwnerID,
		&s.SharedWithID,
		&s.Permission,
		&s.ExpiresAt,
		&s.CreatedAt,
	)
	return s, err
}

func collectShares(rows pgx.Rows) ([]*metadata.Share, error) {
	defer rows.Close()
	shares := []*metadata.Share{}
	for rows.Next() {
		s, err := scanShare(rows)
		if err != nil {
			return nil, err
		}
		shares = append(shares, s)
	}
	return shares, rows.Err()
}

func (r *Repository) CreateShare(ctx context.Context, s *metadata.Share) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.CreatedAt = time.Now().UTC()

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO shares (`+shareColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		s.ID,
		s.ResourceID,
		s.ResourceType,
		s.OwnerID,
		s.SharedWithID,
		s.Permission,
		s.ExpiresAt,
		s.CreatedAt,
	)
	return mapErr(err, "create share")
}

func (r *Repository) DeleteShare(ctx context.Context, ownerID, id string) (*metadata.Share, error) {
	s, err := scanShare(r.db.Pool.QueryRow(ctx, `
		DELETE FROM shares WHERE id = $1 AND owner_id = $2
		RETURNING `+shareColumns,
		id, ownerID))
	if err != nil {
		return nil, mapErr(err, "delete share")
	}
	return s, nil
}

func (r *Repository) ListSharesWithUser(ctx context.Context, userID string, now time.Time) ([]*metadata.Share, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+shareColumns+` FROM shares
		WHERE shared_with_id = $1 AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY created_at, id
	`, userID, now)
	if err != nil {
		return nil, mapErr(err, "list shares")
	}
	shares, err := collectShares(rows)
	if err != nil {
		return nil, mapErr(err, "scan shares")
	}
	return shares, nil
}

func (r *Repository) EffectiveShares(ctx context.Context, f *metadata.File, userID string, now time.Time) ([]*metadata.Share, error) {
	rows, err := r.db.Pool.Query(ctx, `
		WITH home AS (
			SELECT path FROM folders WHERE id = $4 AND user_id = $2 AND deleted_at IS NULL
		)
		SELECT `+shareColumns+` FROM shares s
		WHERE s.shared_with_id = $1 AND s.owner_id = $2
		  AND (s.expires_at IS NULL OR s.expires_at > $5)
		  AND (
			(s.resource_type = 'file' AND s.resource_id = $3)
			OR (s.resource_type = 'folder' AND EXISTS (
				SELECT 1 FROM folders d, home h
				WHERE d.id = s.resource_id AND d.user_id = $2 AND d.deleted_at IS NULL
				  AND (h.path = d.path OR starts_with(h.path, d.path || '/'))
			))
		  )
		ORDER BY s.created_at, s.id
	`, userID, f.UserID, f.ID, f.FolderID, now)
	if err != nil {
		return nil, mapErr(err, "list effective shares")
	}
	shares, err := collectShares(rows)
	if err != nil {
		return nil, mapErr(err, "scan effective shares")
	}
	return shares, nil
}

func (r *Repository) PurgeExpiredShares(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM shares WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, mapErr(err, "purge expired shares")
	}
	return int(tag.RowsAffected()), nil
}
