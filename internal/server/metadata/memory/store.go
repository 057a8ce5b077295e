// Package memory is an in-process metadata.Store. All state sits behind one
// mutex, which makes every method trivially atomic. It backs tests and
// single-node development setups; nothing survives a restart.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"vault/internal/server/metadata"
)

// Store implements metadata.Store in memory.
type Store struct {
	mu        sync.Mutex
	users     map[string]*metadata.User
	folders   map[string]*metadata.Folder
	files     map[string]*metadata.File
	shares    map[string]*metadata.Share
	audit     []*metadata.AuditLog
	auditKeys map[string]bool
	now       func() time.Time
}

var _ metadata.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:     make(map[string]*metadata.User),
		folders:   make(map[string]*metadata.Folder),
		files:     make(map[string]*metadata.File),
		shares:    make(map[string]*metadata.Share),
		auditKeys: make(map[string]bool),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// --- Users ---

func (s *Store) CreateUser(_ context.Context, u *metadata.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return metadata.ErrConflict
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if _, ok := s.users[u.ID]; ok {
		return metadata.ErrConflict
	}
	if u.StorageQuota <= 0 {
		u.StorageQuota = metadata.DefaultStorageQuota
	}
	now := s.now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	c := *u
	s.users[u.ID] = &c
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (*metadata.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, metadata.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*metadata.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username {
			c := *u
			return &c, nil
		}
	}
	return nil, metadata.ErrNotFound
}

func (s *Store) AdjustUsage(_ context.Context, userID string, delta int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return 0, false, metadata.ErrNotFound
	}
	clamped := s.adjustLocked(u, delta)
	return u.StorageUsed, clamped, nil
}

func (s *Store) ActiveBytes(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return 0, metadata.ErrNotFound
	}
	var total int64
	for _, f := range s.files {
		if f.UserID == userID && f.DeletedAt == nil {
			total += f.Size
		}
	}
	return total, nil
}

func (s *Store) SetUsage(_ context.Context, userID string, used int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return metadata.ErrNotFound
	}
	u.StorageUsed = max(used, 0)
	u.UpdatedAt = s.now()
	return nil
}

// adjustLocked applies delta with a zero floor and reports whether the floor hit.
func (s *Store) adjustLocked(u *metadata.User, delta int64) bool {
	next := u.StorageUsed + delta
	clamped := next < 0
	if clamped {
		slog.Error("storage usage would go negative, clamping to zero",
			"user_id", u.ID,
			"used", u.StorageUsed,
			"delta", delta,
		)
		next = 0
	}
	u.StorageUsed = next
	u.UpdatedAt = s.now()
	return clamped
}

// reserveLocked adds delta to the user's usage, refusing to cross the quota.
func (s *Store) reserveLocked(userID string, delta int64) error {
	u, ok := s.users[userID]
	if !ok {
		return metadata.ErrNotFound
	}
	if delta > 0 && u.StorageUsed+delta > u.StorageQuota {
		return metadata.ErrQuotaExceeded
	}
	s.adjustLocked(u, delta)
	return nil
}

// --- Audit ---

func (s *Store) AppendAudit(_ context.Context, a *metadata.AuditLog) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.Details == nil {
		return false, errors.New("audit details are required")
	}
	if a.EventKey != "" {
		if s.auditKeys[a.EventKey] {
			return false, nil
		}
		s.auditKeys[a.EventKey] = true
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = s.now()
	}
	c := *a
	s.audit = append(s.audit, &c)
	return true, nil
}

func (s *Store) ListAudit(_ context.Context, userID string, limit int) ([]*metadata.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*metadata.AuditLog
	for i := len(s.audit) - 1; i >= 0; i-- {
		if s.audit[i].UserID != userID {
			continue
		}
		c := *s.audit[i]
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// --- helpers ---

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cloneFolder(f *metadata.Folder) *metadata.Folder {
	c := *f
	if f.ParentID != nil {
		p := *f.ParentID
		c.ParentID = &p
	}
	if f.DeletedAt != nil {
		d := *f.DeletedAt
		c.DeletedAt = &d
	}
	return &c
}

func cloneFile(f *metadata.File) *metadata.File {
	c := *f
	if f.FolderID != nil {
		p := *f.FolderID
		c.FolderID = &p
	}
	if f.DeletedAt != nil {
		d := *f.DeletedAt
		c.DeletedAt = &d
	}
	if f.ProcessedAt != nil {
		p := *f.ProcessedAt
		c.ProcessedAt = &p
	}
	return &c
}

func cloneShare(sh *metadata.Share) *metadata.Share {
	c := *sh
	if sh.ExpiresAt != nil {
		e := *sh.ExpiresAt
		c.ExpiresAt = &e
	}
	return &c
}

func sortFoldersByName(folders []*metadata.Folder) {
	sort.Slice(folders, func(i, j int) bool {
		if folders[i].Name != folders[j].Name {
			return folders[i].Name < folders[j].Name
		}
		return folders[i].ID < folders[j].ID
	})
}
