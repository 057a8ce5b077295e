// Package metadata defines the entities of the file/folder metadata engine and
// the Store contract every persistence backend implements.
package metadata

import "time"

// DefaultStorageQuota is the quota assigned to users created without one (10 GiB).
const DefaultStorageQuota int64 = 10 * 1024 * 1024 * 1024

// User is an account and its storage ledger.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	StorageUsed  int64
	StorageQuota int64
	IsActive     bool
	IsSuperAdmin bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Available returns the bytes left before the quota is reached.
func (u *User) Available() int64 {
	if free := u.StorageQuota - u.StorageUsed; free > 0 {
		return free
	}
	return 0
}

// Folder is a hierarchy node. Path is materialized from the parent chain.
type Folder struct {
	ID        string
	UserID    string
	ParentID  *string // nil at the root
	Name      string
	Path      string
	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsDeleted reports whether the folder sits in the trash.
func (f *Folder) IsDeleted() bool { return f.DeletedAt != nil }

// File is leaf metadata. The bytes live in the blob store under StorageKey.
type File struct {
	ID          string
	UserID      string
	FolderID    *string // nil at the root
	Name        string
	Size        int64
	MimeType    string
	StorageKey  string
	Version     int
	ProcessedAt *time.Time
	DeletedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsDeleted reports whether the file sits in the trash.
func (f *File) IsDeleted() bool { return f.DeletedAt != nil }

// ResourceType names what a share points at.
type ResourceType string

const (
	ResourceFile   ResourceType = "file"
	ResourceFolder ResourceType = "folder"
)

// Valid reports whether t is a known resource type.
func (t ResourceType) Valid() bool {
	return t == ResourceFile || t == ResourceFolder
}

// Permission is the access level a share grants. Levels are ordered.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionOwner Permission = "owner"
)

var permissionRank = map[Permission]int{
	PermissionRead:  1,
	PermissionWrite: 2,
	PermissionOwner: 3,
}

// Valid reports whether p is a known permission.
func (p Permission) Valid() bool {
	_, ok := permissionRank[p]
	return ok
}

// Allows reports whether p is at least required.
func (p Permission) Allows(required Permission) bool {
	return permissionRank[p] >= permissionRank[required] && permissionRank[required] > 0
}

// Share grants SharedWithID access to a file or folder owned by OwnerID.
type Share struct {
	ID           string
	ResourceID   string
	ResourceType ResourceType
	OwnerID      string
	SharedWithID string
	Permission   Permission
	ExpiresAt    *time.Time
	CreatedAt    time.Time
}

// ActiveAt reports whether the share still grants access at now.
func (s *Share) ActiveAt(now time.Time) bool {
	return s.ExpiresAt == nil || now.Before(*s.ExpiresAt)
}

// Lookup selects which soft-delete state a read accepts.
type Lookup int

const (
	// Active matches only items outside the trash.
	Active Lookup = iota
	// Trashed matches only soft-deleted items.
	Trashed
	// AnyState matches both.
	AnyState
)

// Matches reports whether an item with the given deletedAt passes the lookup.
func (l Lookup) Matches(deletedAt *time.Time) bool {
	switch l {
	case Active:
		return deletedAt == nil
	case Trashed:
		return deletedAt != nil
	default:
		return true
	}
}

// SortField orders file listings.
type SortField string

const (
	SortByName      SortField = "name"
	SortBySize      SortField = "size"
	SortByCreatedAt SortField = "created_at"
	SortByUpdatedAt SortField = "updated_at"
)

// Valid reports whether f is a known sort field.
func (f SortField) Valid() bool {
	switch f {
	case SortByName, SortBySize, SortByCreatedAt, SortByUpdatedAt:
		return true
	}
	return false
}

// ListOptions controls sorting and pagination of file listings.
type ListOptions struct {
	Sort       SortField
	Descending bool
	Limit      int
	Offset     int
}

// FilePage is one page of a file listing plus the unpaginated total.
type FilePage struct {
	Files []*File
	Total int
}

// Cascade reports what a folder delete or restore touched.
type Cascade struct {
	// Root is the folder the operation was invoked on, after the change.
	Root      *Folder
	FolderIDs []string
	FileIDs   []string
	// Bytes is the total size of the files that changed state.
	Bytes int64
}

// ConflictPolicy decides what a restore does when the name is taken at the destination.
type ConflictPolicy string

const (
	// ConflictSuffix renames the restored item, e.g. "Docs (restored)".
	ConflictSuffix ConflictPolicy = "suffix"
	// ConflictReject fails the restore with ErrConflict.
	ConflictReject ConflictPolicy = "reject"
)

// RestoreOptions carries the restore collision policy.
type RestoreOptions struct {
	Policy ConflictPolicy
	Suffix string
}

// Trash lists soft-deleted items, most recently deleted first.
type Trash struct {
	Folders []*Folder
	Files   []*File
}
