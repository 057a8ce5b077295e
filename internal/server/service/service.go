// Package service implements the folder, file, share and user operations on
// top of the metadata store, the quota tracker and the job dispatcher.
package service

import (
	"context"
	"log/slog"

	"vault/internal/server/metadata"
	"vault/internal/server/queue"
)

// JobPublisher hands jobs to the queue. It reports whether the job was
// stored durably and never fails the caller.
type JobPublisher interface {
	Publish(ctx context.Context, job *queue.Job) bool
}

// auditor appends audit records. A failed append is logged and never fails
// the operation that triggered it.
type auditor struct {
	store  metadata.AuditStore
	logger *slog.Logger
}

func (a auditor) record(ctx context.Context, userID string, resourceID *string, details metadata.AuditDetails, eventKey string) {
	_, err := a.store.AppendAudit(ctx, &metadata.AuditLog{
		UserID:     userID,
		ResourceID: resourceID,
		Details:    details,
		EventKey:   eventKey,
	})
	if err != nil {
		a.logger.Error("failed to write audit log",
			"user_id", userID,
			"action", details.Action(),
			"error", err,
		)
	}
}
