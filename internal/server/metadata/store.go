package metadata

import (
	"context"
	"time"
)

// Store persists every entity of the metadata engine. Each method is atomic:
// cascades run as one transaction, so no reader observes half of one.
type Store interface {
	UserStore
	FolderStore
	FileStore
	ShareStore
	AuditStore

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// UserStore holds accounts and their usage ledger.
type UserStore interface {
	// CreateUser inserts u. Returns ErrConflict on a taken username or email.
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	// AdjustUsage atomically adds delta to the user's storage usage, flooring
	// at zero. clamped reports that the floor was needed.
	AdjustUsage(ctx context.Context, userID string, delta int64) (used int64, clamped bool, err error)
	// ActiveBytes sums the size of the user's files outside the trash.
	ActiveBytes(ctx context.Context, userID string) (int64, error)
	SetUsage(ctx context.Context, userID string, used int64) error
}

// FolderStore holds the folder hierarchy. Every lookup is scoped by owner;
// a folder owned by someone else is reported as ErrNotFound.
type FolderStore interface {
	// CreateFolder inserts f beneath f.ParentID and fills f.Path from the
	// parent's path. The parent must be active and owned by f.UserID.
	CreateFolder(ctx context.Context, f *Folder) error
	GetFolder(ctx context.Context, userID, id string, lookup Lookup) (*Folder, error)
	// ListFolders returns the active direct children of parentID, by name.
	ListFolders(ctx context.Context, userID string, parentID *string) ([]*Folder, error)
	FolderNameTaken(ctx context.Context, userID string, parentID *string, name, excludeID string) (bool, error)
	// RelocateFolder renames and re-parents an active folder and rewrites
	// the path of every folder beneath it. Returns ErrInvalidMove when
	// parentID is the folder or one of its descendants.
	RelocateFolder(ctx context.Context, userID, id string, parentID *string, name string) (*Folder, error)
	// DeleteFolderTree stamps deletedAt=at on the folder, every active folder
	// under its path and every active file inside those folders, and releases
	// the files' bytes from the owner's usage.
	DeleteFolderTree(ctx context.Context, userID, id string, at time.Time) (*Cascade, error)
	// RestoreFolderTree clears deletedAt on a trashed folder and on every
	// descendant that was trashed by the same cascade. Restored bytes go
	// through the quota gate.
	RestoreFolderTree(ctx context.Context, userID, id string, opts RestoreOptions) (*Cascade, error)
	// ListTrash returns the user's trashed folders and files, newest first.
	ListTrash(ctx context.Context, userID string) (*Trash, error)
}

// FileStore holds leaf file metadata.
type FileStore interface {
	// CreateFile inserts f and reserves f.Size against the owner's quota in
	// the same transaction. Returns ErrQuotaExceeded, ErrConflict, or
	// ErrNotFound for a missing destination folder.
	CreateFile(ctx context.Context, f *File) error
	GetFile(ctx context.Context, userID, id string, lookup Lookup) (*File, error)
	// GetFileByID returns an active file regardless of owner.
	GetFileByID(ctx context.Context, id string) (*File, error)
	ListFiles(ctx context.Context, userID string, folderID *string, opts ListOptions) (*FilePage, error)
	FileNameTaken(ctx context.Context, userID string, folderID *string, name, excludeID string) (bool, error)
	RelocateFile(ctx context.Context, userID, id string, folderID *string, name string) (*File, error)
	// ReplaceFileContent points the file at new content, bumps its version
	// and moves the size difference through the quota ledger.
	ReplaceFileContent(ctx context.Context, userID, id string, size int64, mimeType, storageKey string) (*File, error)
	DeleteFile(ctx context.Context, userID, id string, at time.Time) (*File, error)
	RestoreFile(ctx context.Context, userID, id string, opts RestoreOptions) (*File, error)
	// MarkFileProcessed records that post-upload processing ran. first is
	// false when it had already been recorded.
	MarkFileProcessed(ctx context.Context, id string, at time.Time) (first bool, err error)
	ListPurgeableFiles(ctx context.Context, deletedBefore time.Time, limit int) ([]*File, error)
	// PurgeFile hard-deletes a trashed file row.
	PurgeFile(ctx context.Context, id string) error
}

// ShareStore holds access grants.
type ShareStore interface {
	// CreateShare returns ErrConflict when the (resource, type, grantee) triple exists.
	CreateShare(ctx context.Context, s *Share) error
	DeleteShare(ctx context.Context, ownerID, id string) (*Share, error)
	ListSharesWithUser(ctx context.Context, userID string, now time.Time) ([]*Share, error)
	// EffectiveShares returns the unexpired shares granting userID access to
	// f, either directly or through any folder above it.
	EffectiveShares(ctx context.Context, f *File, userID string, now time.Time) ([]*Share, error)
	PurgeExpiredShares(ctx context.Context, now time.Time) (int, error)
}

// AuditStore is append-only.
type AuditStore interface {
	// AppendAudit stores a. When a.EventKey is already recorded the call is a
	// no-op and appended is false.
	AppendAudit(ctx context.Context, a *AuditLog) (appended bool, err error)
	// ListAudit returns the user's records, newest first.
	ListAudit(ctx context.Context, userID string, limit int) ([]*AuditLog, error)
}
