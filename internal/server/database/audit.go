package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vault/internal/server/metadata"
)

func (r *Repository) AppendAudit(ctx context.Context, a *metadata.AuditLog) (bool, error) {
	details, err := metadata.EncodeDetails(a.Details)
	if err != nil {
		return false, err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	var eventKey *string
	if a.EventKey != "" {
		eventKey = &a.EventKey
	}

	tag, err := r.db.Pool.Exec(ctx, `
		INSERT INTO audit_logs (id, user_id, action, resource_id, details, event_key, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_key) DO NOTHING
	`, a.ID, a.UserID, a.Action(), a.ResourceID, details, eventKey, a.Timestamp)
	if err != nil {
		return false, mapErr(err, "append audit log")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) ListAudit(ctx context.Context, userID string, limit int) ([]*metadata.AuditLog, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, user_id, action, resource_id, details, COALESCE(event_key, ''), occurred_at
		FROM audit_logs
		WHERE user_id = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2
	`, userID, lim)
	if err != nil {
		return nil, mapErr(err, "list audit logs")
	}
	defer rows.Close()

	var logs []*metadata.AuditLog
	for rows.Next() {
		var (
			a      metadata.AuditLog
			action metadata.AuditAction
			raw    []byte
		)
		if err := rows.Scan(&a.ID, &a.UserID, &action, &a.ResourceID, &raw, &a.EventKey, &a.Timestamp); err != nil {
			return nil, mapErr(err, "scan audit log")
		}
		if a.Details, err = metadata.DecodeDetails(action, raw); err != nil {
			return nil, fmt.Errorf("audit log %s: %w", a.ID, err)
		}
		logs = append(logs, &a)
	}
	return logs, rows.Err()
}
