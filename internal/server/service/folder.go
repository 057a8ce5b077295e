package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vault/internal/core"
	"vault/internal/server/metadata"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// ContentsQuery controls sorting and pagination of a folder listing.
// Zero values mean name ascending, page 1, 50 files.
type ContentsQuery struct {
	Sort  metadata.SortField
	Order string
	Page  int
	Limit int
}

// Contents is one page of a folder's active children.
type Contents struct {
	// Folder is nil for the root view.
	Folder  *metadata.Folder
	Folders []*metadata.Folder
	Files   []*metadata.File
	Total   int
	Page    int
	Limit   int
}

// FolderService owns the folder hierarchy.
type FolderService struct {
	store   metadata.Store
	quota   QuotaGate
	restore metadata.RestoreOptions
	audit   auditor
	logger  *slog.Logger
	now     func() time.Time
}

// QuotaGate is the part of the quota tracker the services use.
type QuotaGate interface {
	CheckAvailable(ctx context.Context, userID string, delta int64) (bool, error)
	RecordRejection()
}

// NewFolderService creates a folder service.
func NewFolderService(store metadata.Store, quota QuotaGate, restore metadata.RestoreOptions, logger *slog.Logger) *FolderService {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "folders")
	return &FolderService{
		store:   store,
		quota:   quota,
		restore: restore,
		audit:   auditor{store: store, logger: logger},
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create makes a folder under parentID, or at the root when parentID is nil.
func (s *FolderService) Create(ctx context.Context, userID, name string, parentID *string) (*metadata.Folder, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if parentID != nil {
		if _, err := s.store.GetFolder(ctx, userID, *parentID, metadata.Active); err != nil {
			return nil, storeErr(err, "parent folder")
		}
	}
	taken, err := s.store.FolderNameTaken(ctx, userID, parentID, name, "")
	if err != nil {
		return nil, storeErr(err, "folder")
	}
	if taken {
		return nil, duplicate(name)
	}

	f := &metadata.Folder{UserID: userID, ParentID: parentID, Name: name}
	if err := s.store.CreateFolder(ctx, f); err != nil {
		return nil, storeErr(err, "folder")
	}

	s.audit.record(ctx, userID, &f.ID, metadata.UpdateDetails{
		Op:           metadata.OpCreate,
		ResourceType: metadata.ResourceFolder,
		Name:         f.Name,
		To:           f.Path,
	}, "")
	s.logger.Info("folder created", "folder_id", f.ID, "path", f.Path)
	return f, nil
}

// Get returns an active folder.
func (s *FolderService) Get(ctx context.Context, userID, id string) (*metadata.Folder, error) {
	f, err := s.store.GetFolder(ctx, userID, id, metadata.Active)
	return f, storeErr(err, "folder")
}

// GetContents lists the active subfolders and one page of active files
// directly inside folderID (the root when nil).
func (s *FolderService) GetContents(ctx context.Context, userID string, folderID *string, q ContentsQuery) (*Contents, error) {
	opts, page, err := listOptions(q)
	if err != nil {
		return nil, err
	}

	out := &Contents{Page: page, Limit: opts.Limit}
	if folderID != nil {
		f, err := s.store.GetFolder(ctx, userID, *folderID, metadata.Active)
		if err != nil {
			return nil, storeErr(err, "folder")
		}
		out.Folder = f
	}

	if out.Folders, err = s.store.ListFolders(ctx, userID, folderID); err != nil {
		return nil, storeErr(err, "folder")
	}
	files, err := s.store.ListFiles(ctx, userID, folderID, opts)
	if err != nil {
		return nil, storeErr(err, "file")
	}
	out.Files = files.Files
	out.Total = files.Total
	return out, nil
}

func listOptions(q ContentsQuery) (metadata.ListOptions, int, error) {
	opts := metadata.ListOptions{Sort: q.Sort, Limit: q.Limit}
	if opts.Sort == "" {
		opts.Sort = metadata.SortByName
	}
	if !opts.Sort.Valid() {
		return opts, 0, fmt.Errorf("%w: unknown sort field %q", ErrValidation, q.Sort)
	}
	switch q.Order {
	case "", "asc":
	case "desc":
		opts.Descending = true
	default:
		return opts, 0, fmt.Errorf("%w: order must be asc or desc", ErrValidation)
	}
	if q.Limit < 0 || q.Page < 0 {
		return opts, 0, fmt.Errorf("%w: page and limit must not be negative", ErrValidation)
	}
	if opts.Limit == 0 {
		opts.Limit = defaultPageLimit
	}
	opts.Limit = min(opts.Limit, maxPageLimit)
	page := max(q.Page, 1)
	opts.Offset = (page - 1) * opts.Limit
	return opts, page, nil
}

// Rename changes a folder's name and rewrites the paths beneath it.
func (s *FolderService) Rename(ctx context.Context, userID, id, newName string) (*metadata.Folder, error) {
	if err := validateName(newName); err != nil {
		return nil, err
	}
	f, err := s.store.GetFolder(ctx, userID, id, metadata.Active)
	if err != nil {
		return nil, storeErr(err, "folder")
	}
	if f.Name == newName {
		return f, nil
	}
	taken, err := s.store.FolderNameTaken(ctx, userID, f.ParentID, newName, id)
	if err != nil {
		return nil, storeErr(err, "folder")
	}
	if taken {
		return nil, duplicate(newName)
	}

	updated, err := s.store.RelocateFolder(ctx, userID, id, f.ParentID, newName)
	if err != nil {
		return nil, storeErr(err, "folder")
	}
	s.audit.record(ctx, userID, &id, metadata.UpdateDetails{
		Op:           metadata.OpRename,
		ResourceType: metadata.ResourceFolder,
		Name:         updated.Name,
		From:         f.Path,
		To:           updated.Path,
	}, "")
	return updated, nil
}

// Move re-parents a folder under targetParentID (the root when nil).
func (s *FolderService) Move(ctx context.Context, userID, id string, targetParentID *string) (*metadata.Folder, error) {
	f, err := s.store.GetFolder(ctx, userID, id, metadata.Active)
	if err != nil {
		return nil, storeErr(err, "folder")
	}
	if targetParentID != nil {
		if *targetParentID == id {
			return nil, ErrInvalidMove
		}
		target, err := s.store.GetFolder(ctx, userID, *targetParentID, metadata.Active)
		if err != nil {
			return nil, storeErr(err, "destination folder")
		}
		if core.IsDescendantPath(target.Path, f.Path) {
			return nil, ErrInvalidMove
		}
	}
	taken, err := s.store.FolderNameTaken(ctx, userID, targetParentID, f.Name, id)
	if err != nil {
		return nil, storeErr(err, "folder")
	}
	if taken {
		return nil, duplicate(f.Name)
	}

	updated, err := s.store.RelocateFolder(ctx, userID, id, targetParentID, f.Name)
	if err != nil {
		return nil, storeErr(err, "folder")
	}
	s.audit.record(ctx, userID, &id, metadata.UpdateDetails{
		Op:           metadata.OpMove,
		ResourceType: metadata.ResourceFolder,
		Name:         updated.Name,
		From:         f.Path,
		To:           updated.Path,
	}, "")
	return updated, nil
}

// Delete moves a folder and everything beneath it to the trash.
func (s *FolderService) Delete(ctx context.Context, userID, id string) (*metadata.Cascade, error) {
	c, err := s.store.DeleteFolderTree(ctx, userID, id, s.now())
	if err != nil {
		return nil, storeErr(err, "folder")
	}
	s.audit.record(ctx, userID, &id, metadata.DeleteDetails{
		ResourceType: metadata.ResourceFolder,
		Name:         c.Root.Name,
		Folders:      len(c.FolderIDs),
		Files:        len(c.FileIDs),
		Bytes:        c.Bytes,
	}, "")
	s.logger.Info("folder deleted",
		"folder_id", id,
		"folders", len(c.FolderIDs),
		"files", len(c.FileIDs),
	)
	return c, nil
}

// Restore brings a folder and the descendants trashed with it back.
func (s *FolderService) Restore(ctx context.Context, userID, id string) (*metadata.Cascade, error) {
	before, err := s.store.GetFolder(ctx, userID, id, metadata.Trashed)
	if err != nil {
		return nil, storeErr(err, "folder")
	}
	c, err := s.store.RestoreFolderTree(ctx, userID, id, s.restore)
	if err != nil {
		if errors.Is(err, metadata.ErrQuotaExceeded) {
			s.quota.RecordRejection()
		}
		return nil, duplicateErr(err, "folder")
	}
	s.audit.record(ctx, userID, &id, metadata.UpdateDetails{
		Op:           metadata.OpRestore,
		ResourceType: metadata.ResourceFolder,
		Name:         c.Root.Name,
		From:         before.Path,
		To:           c.Root.Path,
	}, "")
	return c, nil
}

// GetTrash lists the user's trashed items, most recently deleted first.
func (s *FolderService) GetTrash(ctx context.Context, userID string) (*metadata.Trash, error) {
	t, err := s.store.ListTrash(ctx, userID)
	return t, storeErr(err, "trash")
}
