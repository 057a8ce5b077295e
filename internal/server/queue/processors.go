package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vault/internal/server/metadata"
)

// ErrNoTranscoder is returned by the transcode processor when no transcoder
// is configured.
var ErrNoTranscoder = errors.New("no transcoder configured")

// UsageApplier adjusts a user's storage usage.
type UsageApplier interface {
	ApplyDelta(ctx context.Context, userID string, delta int64) (int64, error)
}

// BlobChecker reports whether content exists in the blob store.
type BlobChecker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// Transcoder converts stored content to another format and returns the key
// of the output. It runs outside this service.
type Transcoder interface {
	Transcode(ctx context.Context, inputKey, outputFormat string) (outputKey string, err error)
}

// UploadProcessor completes an upload. Each file version is processed once:
// MarkFileProcessed claims it, and a redelivered job is a no-op success.
// Usage owed by the job is charged before the claim and refunded if the claim
// is lost, so a failed charge leaves the file unclaimed for the next delivery.
type UploadProcessor struct {
	files  metadata.FileStore
	audit  metadata.AuditStore
	usage  UsageApplier
	logger *slog.Logger
}

func NewUploadProcessor(files metadata.FileStore, audit metadata.AuditStore, usage UsageApplier, logger *slog.Logger) *UploadProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadProcessor{files: files, audit: audit, usage: usage, logger: logger.With("processor", QueueUpload)}
}

func (p *UploadProcessor) Process(ctx context.Context, job *Job) error {
	charged := int64(0)
	if !job.QuotaAlreadyApplied() {
		if _, err := p.usage.ApplyDelta(ctx, job.UserID, job.Size); err != nil {
			return fmt.Errorf("failed to apply usage: %w", err)
		}
		charged = job.Size
	}

	first, err := p.files.MarkFileProcessed(ctx, job.FileID, time.Now().UTC())
	if errors.Is(err, metadata.ErrNotFound) {
		p.refund(ctx, job, charged)
		p.logger.Warn("file purged before processing", "file_id", job.FileID)
		return nil
	}
	if err != nil {
		p.refund(ctx, job, charged)
		return fmt.Errorf("failed to mark file processed: %w", err)
	}
	if !first {
		p.refund(ctx, job, charged)
		p.logger.Info("duplicate upload job ignored", "file_id", job.FileID, "job_id", job.ID)
		return nil
	}

	fileID := job.FileID
	if _, err := p.audit.AppendAudit(ctx, &metadata.AuditLog{
		UserID:     job.UserID,
		ResourceID: &fileID,
		Details: metadata.UploadDetails{
			FileName: job.FileName,
			Size:     job.Size,
			MimeType: job.MimeType,
			Version:  max(job.Version, 1),
		},
		EventKey: metadata.UploadEventKey(job.FileID, max(job.Version, 1)),
	}); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// refund reverses a charge made for a job that did not claim its file. A
// failed refund leaves usage high until the next recompute.
func (p *UploadProcessor) refund(ctx context.Context, job *Job, charged int64) {
	if charged == 0 {
		return
	}
	if _, err := p.usage.ApplyDelta(ctx, job.UserID, -charged); err != nil {
		p.logger.Error("failed to refund usage", "file_id", job.FileID, "user_id", job.UserID, "bytes", charged, "error", err)
	}
}

// DownloadProcessor confirms a granted download: the blob must exist and the
// download is audited once per grant.
type DownloadProcessor struct {
	files  metadata.FileStore
	audit  metadata.AuditStore
	blobs  BlobChecker
	logger *slog.Logger
}

func NewDownloadProcessor(files metadata.FileStore, audit metadata.AuditStore, blobs BlobChecker, logger *slog.Logger) *DownloadProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DownloadProcessor{files: files, audit: audit, blobs: blobs, logger: logger.With("processor", QueueDownload)}
}

func (p *DownloadProcessor) Process(ctx context.Context, job *Job) error {
	fileID := job.FileID
	if _, err := p.audit.AppendAudit(ctx, &metadata.AuditLog{
		UserID:     job.UserID,
		ResourceID: &fileID,
		Details:    metadata.DownloadDetails{FileName: job.FileName},
		EventKey:   metadata.DownloadEventKey(job.ID),
	}); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}

	if p.blobs == nil {
		return nil
	}
	f, err := p.files.GetFileByID(ctx, job.FileID)
	if err != nil {
		return fmt.Errorf("failed to load file: %w", err)
	}
	ok, err := p.blobs.Exists(ctx, f.StorageKey)
	if err != nil {
		return fmt.Errorf("failed to check blob: %w", err)
	}
	if !ok {
		return fmt.Errorf("blob %s for file %s is missing", f.StorageKey, f.ID)
	}
	return nil
}

// TranscodeProcessor hands transcode requests to the external transcoder.
type TranscodeProcessor struct {
	transcoder Transcoder
	logger     *slog.Logger
}

func NewTranscodeProcessor(transcoder Transcoder, logger *slog.Logger) *TranscodeProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &TranscodeProcessor{transcoder: transcoder, logger: logger.With("processor", QueueTranscode)}
}

func (p *TranscodeProcessor) Process(ctx context.Context, job *Job) error {
	if p.transcoder == nil {
		return ErrNoTranscoder
	}
	out, err := p.transcoder.Transcode(ctx, job.InputKey, job.OutputFormat)
	if err != nil {
		return fmt.Errorf("failed to transcode %s: %w", job.InputKey, err)
	}
	p.logger.Info("transcode finished",
		"file_id", job.FileID,
		"format", job.OutputFormat,
		"output_key", out,
	)
	return nil
}
