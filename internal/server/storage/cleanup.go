package storage

import (
	"context"
	"log/slog"
	"time"

	"vault/internal/server/metadata"
)

// PurgeStore is the slice of the metadata store the purge loop needs.
type PurgeStore interface {
	ListPurgeableFiles(ctx context.Context, deletedBefore time.Time, limit int) ([]*metadata.File, error)
	PurgeFile(ctx context.Context, id string) error
	PurgeExpiredShares(ctx context.Context, now time.Time) (int, error)
}

// CleanupService periodically hard-deletes files that have sat in the trash
// longer than the retention window, along with their blobs, and drops
// expired shares.
type CleanupService struct {
	repo      PurgeStore
	store     Store
	interval  time.Duration
	retention time.Duration
	batchSize int
	logger    *slog.Logger
	now       func() time.Time
	done      chan struct{}
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(repo PurgeStore, store Store, interval, retention time.Duration, batchSize int, logger *slog.Logger) *CleanupService {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &CleanupService{
		repo:      repo,
		store:     store,
		interval:  interval,
		retention: retention,
		batchSize: batchSize,
		logger:    logger,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// Start begins the cleanup loop in a background goroutine.
func (cs *CleanupService) Start(ctx context.Context) {
	cs.logger.Info("cleanup service started", "interval", cs.interval, "retention", cs.retention)

	go func() {
		ticker := time.NewTicker(cs.interval)
		defer ticker.Stop()

		// Run once immediately on start
		cs.RunOnce(ctx)

		for {
			select {
			case <-ticker.C:
				cs.RunOnce(ctx)
			case <-ctx.Done():
				cs.logger.Info("cleanup service stopping")
				close(cs.done)
				return
			}
		}
	}()
}

// Wait blocks until the cleanup service has fully stopped.
func (cs *CleanupService) Wait() {
	<-cs.done
}

// RunOnce performs one purge cycle and reports how many files and shares it removed.
func (cs *CleanupService) RunOnce(ctx context.Context) (files, shares int) {
	now := cs.now().UTC()
	files = cs.purgeTrash(ctx, now.Add(-cs.retention))

	shares, err := cs.repo.PurgeExpiredShares(ctx, now)
	if err != nil {
		cs.logger.Error("failed to purge expired shares", "error", err)
	}

	cs.logger.Info("cleanup cycle complete", "purged_files", files, "purged_shares", shares)
	return files, shares
}

func (cs *CleanupService) purgeTrash(ctx context.Context, cutoff time.Time) int {
	expired, err := cs.repo.ListPurgeableFiles(ctx, cutoff, cs.batchSize)
	if err != nil {
		cs.logger.Error("failed to list purgeable files", "error", err)
		return 0
	}

	var cleaned, failed int
	for _, f := range expired {
		if ctx.Err() != nil {
			break
		}
		// Blob first: a row without content is worse than an orphaned blob.
		if err := cs.store.Delete(ctx, f.StorageKey); err != nil {
			cs.logger.Error("failed to delete blob",
				"file_id", f.ID,
				"storage_key", f.StorageKey,
				"error", err,
			)
			failed++
			continue
		}

		if err := cs.repo.PurgeFile(ctx, f.ID); err != nil {
			cs.logger.Error("failed to purge file record",
				"file_id", f.ID,
				"error", err,
			)
			failed++
			continue
		}

		cleaned++
		cs.logger.Debug("purged trashed file",
			"file_id", f.ID,
			"name", f.Name,
			"deleted_at", f.DeletedAt,
		)
	}

	if failed > 0 {
		cs.logger.Warn("trash purge incomplete", "cleaned", cleaned, "failed", failed, "total", len(expired))
	}
	return cleaned
}
