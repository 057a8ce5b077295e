package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"vault/internal/server/metadata"
	"vault/internal/server/queue"
	"vault/internal/server/storage"
)

const defaultMimeType = "application/octet-stream"

var outputFormatPattern = regexp.MustCompile(`^[a-z0-9]{1,16}$`)

// FinalizeUploadInput describes content already written to the blob store.
type FinalizeUploadInput struct {
	UserID     string
	FolderID   *string
	Name       string
	Size       int64
	MimeType   string
	StorageKey string
}

// DownloadGrant is a time-bounded download handle for one file.
type DownloadGrant struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
	FileName  string    `json:"file_name"`
	Size      int64     `json:"size"`
	MimeType  string    `json:"mime_type"`
}

// FileOptions tunes a FileService.
type FileOptions struct {
	GrantTTL       time.Duration
	GrantCacheSize int
	Restore        metadata.RestoreOptions
}

// FileService owns leaf file metadata.
type FileService struct {
	store  metadata.Store
	quota  QuotaGate
	jobs   JobPublisher
	grants storage.GrantIssuer
	blobs  storage.Store
	cache  *expirable.LRU[string, *storage.Grant]
	opts   FileOptions
	audit  auditor
	logger *slog.Logger
	now    func() time.Time
}

// NewFileService creates a file service. blobs may be nil, in which case
// content replaced by a new version is left for the operator to collect.
func NewFileService(store metadata.Store, quota QuotaGate, jobs JobPublisher, grants storage.GrantIssuer, blobs storage.Store, opts FileOptions, logger *slog.Logger) *FileService {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.GrantTTL <= 0 {
		opts.GrantTTL = 15 * time.Minute
	}
	if opts.GrantCacheSize <= 0 {
		opts.GrantCacheSize = 1024
	}
	logger = logger.With("component", "files")
	// A cached grant is reused only during the first half of its life.
	return &FileService{
		store:  store,
		quota:  quota,
		jobs:   jobs,
		grants: grants,
		blobs:  blobs,
		cache:  expirable.NewLRU[string, *storage.Grant](opts.GrantCacheSize, nil, opts.GrantTTL/2),
		opts:   opts,
		audit:  auditor{store: store, logger: logger},
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// FinalizeUpload records a file whose bytes are already stored under
// in.StorageKey, charges its size against the owner's quota and enqueues
// post-upload processing. A broker outage does not fail the call.
func (s *FileService) FinalizeUpload(ctx context.Context, in FinalizeUploadInput) (*metadata.File, error) {
	if err := validateName(in.Name); err != nil {
		return nil, err
	}
	if in.Size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive", ErrValidation)
	}
	if strings.TrimSpace(in.StorageKey) == "" {
		return nil, fmt.Errorf("%w: storage key is required", ErrValidation)
	}
	if in.MimeType == "" {
		in.MimeType = defaultMimeType
	}

	if in.FolderID != nil {
		if _, err := s.store.GetFolder(ctx, in.UserID, *in.FolderID, metadata.Active); err != nil {
			return nil, storeErr(err, "folder")
		}
	}
	ok, err := s.quota.CheckAvailable(ctx, in.UserID, in.Size)
	if err != nil {
		return nil, storeErr(err, "user")
	}
	if !ok {
		return nil, ErrQuotaExceeded
	}
	if err := s.ensureNameFree(ctx, in.UserID, in.FolderID, in.Name, ""); err != nil {
		return nil, err
	}

	f := &metadata.File{
		UserID:     in.UserID,
		FolderID:   in.FolderID,
		Name:       in.Name,
		Size:       in.Size,
		MimeType:   in.MimeType,
		StorageKey: in.StorageKey,
	}
	// The store reserves the bytes in the same transaction as the row, so
	// a concurrent upload cannot slip past the check above.
	if err := s.store.CreateFile(ctx, f); err != nil {
		if errors.Is(err, metadata.ErrQuotaExceeded) {
			s.quota.RecordRejection()
		}
		return nil, storeErr(err, "file")
	}

	s.audit.record(ctx, f.UserID, &f.ID, metadata.UploadDetails{
		FileName: f.Name,
		Size:     f.Size,
		MimeType: f.MimeType,
		Version:  f.Version,
	}, metadata.UploadEventKey(f.ID, f.Version))

	durable := s.jobs.Publish(ctx, queue.NewUploadJob(uploadJob(f)))
	s.logger.Info("upload finalized",
		"file_id", f.ID,
		"size", f.Size,
		"durable", durable,
	)
	return f, nil
}

func uploadJob(f *metadata.File) queue.UploadJob {
	return queue.UploadJob{
		FileID:     f.ID,
		UserID:     f.UserID,
		FileName:   f.Name,
		Size:       f.Size,
		MimeType:   f.MimeType,
		StorageKey: f.StorageKey,
		Version:    f.Version,
	}
}

func (s *FileService) ensureNameFree(ctx context.Context, userID string, folderID *string, name, excludeID string) error {
	taken, err := s.store.FileNameTaken(ctx, userID, folderID, name, excludeID)
	if err != nil {
		return storeErr(err, "file")
	}
	if taken {
		return duplicate(name)
	}
	return nil
}

// Get returns an active file owned by userID.
func (s *FileService) Get(ctx context.Context, userID, id string) (*metadata.File, error) {
	f, err := s.store.GetFile(ctx, userID, id, metadata.Active)
	return f, storeErr(err, "file")
}

// Rename changes a file's name within its folder.
func (s *FileService) Rename(ctx context.Context, userID, id, newName string) (*metadata.File, error) {
	if err := validateName(newName); err != nil {
		return nil, err
	}
	f, err := s.store.GetFile(ctx, userID, id, metadata.Active)
	if err != nil {
		return nil, storeErr(err, "file")
	}
	if f.Name == newName {
		return f, nil
	}
	if err := s.ensureNameFree(ctx, userID, f.FolderID, newName, id); err != nil {
		return nil, err
	}

	updated, err := s.store.RelocateFile(ctx, userID, id, f.FolderID, newName)
	if err != nil {
		return nil, storeErr(err, "file")
	}
	s.audit.record(ctx, userID, &id, metadata.UpdateDetails{
		Op:           metadata.OpRename,
		ResourceType: metadata.ResourceFile,
		Name:         updated.Name,
		From:         f.Name,
		To:           updated.Name,
	}, "")
	return updated, nil
}

// Move puts a file into folderID (the root when nil).
func (s *FileService) Move(ctx context.Context, userID, id string, folderID *string) (*metadata.File, error) {
	f, err := s.store.GetFile(ctx, userID, id, metadata.Active)
	if err != nil {
		return nil, storeErr(err, "file")
	}
	to, err := s.folderPath(ctx, userID, folderID)
	if err != nil {
		return nil, storeErr(err, "destination folder")
	}
	from, err := s.folderPath(ctx, userID, f.FolderID)
	if err != nil {
		return nil, storeErr(err, "folder")
	}
	if err := s.ensureNameFree(ctx, userID, folderID, f.Name, id); err != nil {
		return nil, err
	}

	updated, err := s.store.RelocateFile(ctx, userID, id, folderID, f.Name)
	if err != nil {
		return nil, storeErr(err, "file")
	}
	s.audit.record(ctx, userID, &id, metadata.UpdateDetails{
		Op:           metadata.OpMove,
		ResourceType: metadata.ResourceFile,
		Name:         updated.Name,
		From:         from,
		To:           to,
	}, "")
	return updated, nil
}

// folderPath returns the path of an active folder, "/" for the root.
func (s *FileService) folderPath(ctx context.Context, userID string, folderID *string) (string, error) {
	if folderID == nil {
		return "/", nil
	}
	f, err := s.store.GetFolder(ctx, userID, *folderID, metadata.Active)
	if err != nil {
		return "", err
	}
	return f.Path, nil
}

// Delete moves a file to the trash and releases its bytes.
func (s *FileService) Delete(ctx context.Context, userID, id string) (*metadata.File, error) {
	f, err := s.store.DeleteFile(ctx, userID, id, s.now())
	if err != nil {
		return nil, storeErr(err, "file")
	}
	s.audit.record(ctx, userID, &id, metadata.DeleteDetails{
		ResourceType: metadata.ResourceFile,
		Name:         f.Name,
		Files:        1,
		Bytes:        f.Size,
	}, "")
	return f, nil
}

// Restore brings a trashed file back, re-parenting it to the root when its
// folder is gone.
func (s *FileService) Restore(ctx context.Context, userID, id string) (*metadata.File, error) {
	before, err := s.store.GetFile(ctx, userID, id, metadata.Trashed)
	if err != nil {
		return nil, storeErr(err, "file")
	}
	f, err := s.store.RestoreFile(ctx, userID, id, s.opts.Restore)
	if err != nil {
		if errors.Is(err, metadata.ErrQuotaExceeded) {
			s.quota.RecordRejection()
		}
		return nil, duplicateErr(err, "file")
	}
	s.audit.record(ctx, userID, &id, metadata.UpdateDetails{
		Op:           metadata.OpRestore,
		ResourceType: metadata.ResourceFile,
		Name:         f.Name,
		From:         before.Name,
		To:           f.Name,
	}, "")
	return f, nil
}

// ReplaceContent points a file at new content, bumping its version. The size
// difference goes through the quota gate.
func (s *FileService) ReplaceContent(ctx context.Context, userID, id string, size int64, mimeType, storageKey string) (*metadata.File, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive", ErrValidation)
	}
	if strings.TrimSpace(storageKey) == "" {
		return nil, fmt.Errorf("%w: storage key is required", ErrValidation)
	}
	if mimeType == "" {
		mimeType = defaultMimeType
	}
	old, err := s.store.GetFile(ctx, userID, id, metadata.Active)
	if err != nil {
		return nil, storeErr(err, "file")
	}
	ok, err := s.quota.CheckAvailable(ctx, userID, size-old.Size)
	if err != nil {
		return nil, storeErr(err, "user")
	}
	if !ok {
		return nil, ErrQuotaExceeded
	}

	f, err := s.store.ReplaceFileContent(ctx, userID, id, size, mimeType, storageKey)
	if err != nil {
		if errors.Is(err, metadata.ErrQuotaExceeded) {
			s.quota.RecordRejection()
		}
		return nil, storeErr(err, "file")
	}

	s.audit.record(ctx, userID, &id, metadata.UpdateDetails{
		Op:           metadata.OpReplaceContent,
		ResourceType: metadata.ResourceFile,
		Name:         f.Name,
		From:         fmt.Sprintf("v%d", old.Version),
		To:           fmt.Sprintf("v%d", f.Version),
	}, "")
	s.jobs.Publish(ctx, queue.NewUploadJob(uploadJob(f)))

	if s.blobs != nil && old.StorageKey != f.StorageKey {
		if err := s.blobs.Delete(ctx, old.StorageKey); err != nil {
			s.logger.Error("failed to delete replaced blob", "file_id", id, "storage_key", old.StorageKey, "error", err)
		}
	}
	return f, nil
}

// RequestTranscode enqueues conversion of a file to outputFormat and returns
// the job id.
func (s *FileService) RequestTranscode(ctx context.Context, userID, id, outputFormat string) (string, error) {
	outputFormat = strings.ToLower(strings.TrimSpace(outputFormat))
	if !outputFormatPattern.MatchString(outputFormat) {
		return "", fmt.Errorf("%w: invalid output format %q", ErrValidation, outputFormat)
	}
	f, err := s.store.GetFile(ctx, userID, id, metadata.Active)
	if err != nil {
		return "", storeErr(err, "file")
	}

	job := queue.NewTranscodeJob(f.ID, userID, f.Name, f.StorageKey, outputFormat)
	s.audit.record(ctx, userID, &id, metadata.UpdateDetails{
		Op:           metadata.OpTranscodeRequest,
		ResourceType: metadata.ResourceFile,
		Name:         f.Name,
		To:           outputFormat,
	}, "")
	s.jobs.Publish(ctx, job)
	return job.ID, nil
}

// GetDownloadGrant returns a download handle for a file the caller owns or
// holds an unexpired read share on. Lack of access is reported as
// ErrNotFound so callers cannot probe for files they cannot see.
func (s *FileService) GetDownloadGrant(ctx context.Context, userID, id string) (*DownloadGrant, error) {
	f, err := s.store.GetFileByID(ctx, id)
	if err != nil {
		return nil, storeErr(err, "file")
	}

	via := "owner"
	if f.UserID != userID {
		allowed, err := s.canRead(ctx, f, userID)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("%w: file", ErrNotFound)
		}
		via = "share"
	}

	grant, err := s.issueGrant(ctx, f, userID)
	if err != nil {
		return nil, err
	}

	job := queue.NewDownloadJob(f.ID, userID, f.Name)
	s.audit.record(ctx, userID, &f.ID, metadata.DownloadDetails{
		FileName: f.Name,
		Via:      via,
	}, metadata.DownloadEventKey(job.ID))
	s.jobs.Publish(ctx, job)

	return &DownloadGrant{
		URL:       grant.URL,
		ExpiresAt: grant.ExpiresAt,
		FileName:  f.Name,
		Size:      f.Size,
		MimeType:  f.MimeType,
	}, nil
}

func (s *FileService) canRead(ctx context.Context, f *metadata.File, userID string) (bool, error) {
	shares, err := s.store.EffectiveShares(ctx, f, userID, s.now())
	if err != nil {
		return false, storeErr(err, "share")
	}
	for _, sh := range shares {
		if sh.Permission.Allows(metadata.PermissionRead) {
			return true, nil
		}
	}
	return false, nil
}

func (s *FileService) issueGrant(ctx context.Context, f *metadata.File, userID string) (*storage.Grant, error) {
	key := fmt.Sprintf("%s|%s|%d", userID, f.ID, f.Version)
	if g, ok := s.cache.Get(key); ok {
		return g, nil
	}
	g, err := s.grants.Issue(ctx, storage.GrantRequest{
		FileID:     f.ID,
		UserID:     userID,
		StorageKey: f.StorageKey,
		FileName:   f.Name,
		MimeType:   f.MimeType,
	}, s.opts.GrantTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue download grant: %w", err)
	}
	s.cache.Add(key, g)
	return g, nil
}
