package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"vault/internal/server/metadata"
)

func (s *Store) CreateFile(_ context.Context, f *metadata.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[f.UserID]; !ok {
		return metadata.ErrNotFound
	}
	if f.FolderID != nil {
		if _, err := s.folderLocked(f.UserID, *f.FolderID, metadata.Active); err != nil {
			return err
		}
	}
	if s.fileNameTakenLocked(f.UserID, f.FolderID, f.Name, "") || s.storageKeyTakenLocked(f.StorageKey, "") {
		return metadata.ErrConflict
	}
	if err := s.reserveLocked(f.UserID, f.Size); err != nil {
		return err
	}

	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := s.now()
	f.Version = 1
	f.CreatedAt = now
	f.UpdatedAt = now
	f.DeletedAt = nil
	f.ProcessedAt = nil

	s.files[f.ID] = cloneFile(f)
	return nil
}

func (s *Store) GetFile(_ context.Context, userID, id string, lookup metadata.Lookup) (*metadata.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.fileLocked(userID, id, lookup)
	if err != nil {
		return nil, err
	}
	return cloneFile(f), nil
}

func (s *Store) GetFileByID(_ context.Context, id string) (*metadata.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[id]
	if !ok || f.DeletedAt != nil {
		return nil, metadata.ErrNotFound
	}
	return cloneFile(f), nil
}

func (s *Store) ListFiles(_ context.Context, userID string, folderID *string, opts metadata.ListOptions) (*metadata.FilePage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*metadata.File
	for _, f := range s.files {
		if f.UserID == userID && f.DeletedAt == nil && sameParent(f.FolderID, folderID) {
			all = append(all, f)
		}
	}
	sortFiles(all, opts.Sort, opts.Descending)

	page := &metadata.FilePage{Files: []*metadata.File{}, Total: len(all)}
	start := min(max(opts.Offset, 0), len(all))
	end := len(all)
	if opts.Limit > 0 {
		end = min(start+opts.Limit, len(all))
	}
	for _, f := range all[start:end] {
		page.Files = append(page.Files, cloneFile(f))
	}
	return page, nil
}

func (s *Store) FileNameTaken(_ context.Context, userID string, folderID *string, name, excludeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.fileNameTakenLocked(userID, folderID, name, excludeID), nil
}

func (s *Store) RelocateFile(_ context.Context, userID, id string, folderID *string, name string) (*metadata.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.fileLocked(userID, id, metadata.Active)
	if err != nil {
		return nil, err
	}
	if folderID != nil {
		if _, err := s.folderLocked(userID, *folderID, metadata.Active); err != nil {
			return nil, err
		}
	}
	if sameParent(f.FolderID, folderID) && f.Name == name {
		return cloneFile(f), nil
	}
	if s.fileNameTakenLocked(userID, folderID, name, f.ID) {
		return nil, metadata.ErrConflict
	}

	if folderID != nil {
		p := *folderID
		f.FolderID = &p
	} else {
		f.FolderID = nil
	}
	f.Name = name
	f.UpdatedAt = s.now()
	return cloneFile(f), nil
}

func (s *Store) ReplaceFileContent(_ context.Context, userID, id string, size int64, mimeType, storageKey string) (*metadata.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.fileLocked(userID, id, metadata.Active)
	if err != nil {
		return nil, err
	}
	if s.storageKeyTakenLocked(storageKey, f.ID) {
		return nil, metadata.ErrConflict
	}
	if err := s.reserveLocked(userID, size-f.Size); err != nil {
		return nil, err
	}

	f.Size = size
	f.MimeType = mimeType
	f.StorageKey = storageKey
	f.Version++
	f.ProcessedAt = nil
	f.UpdatedAt = s.now()
	return cloneFile(f), nil
}

func (s *Store) DeleteFile(_ context.Context, userID, id string, at time.Time) (*metadata.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.fileLocked(userID, id, metadata.Active)
	if err != nil {
		return nil, err
	}
	stamp := at.UTC()
	f.DeletedAt = &stamp
	f.UpdatedAt = stamp
	if f.Size > 0 {
		s.adjustLocked(s.users[userID], -f.Size)
	}
	return cloneFile(f), nil
}

func (s *Store) RestoreFile(_ context.Context, userID, id string, opts metadata.RestoreOptions) (*metadata.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.fileLocked(userID, id, metadata.Trashed)
	if err != nil {
		return nil, err
	}

	folderID := f.FolderID
	if folderID != nil {
		if _, err := s.folderLocked(userID, *folderID, metadata.Active); err != nil {
			folderID = nil
		}
	}
	name, err := metadata.ResolveRestoreName(f.Name, true, opts, func(candidate string) (bool, error) {
		return s.fileNameTakenLocked(userID, folderID, candidate, f.ID), nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.reserveLocked(userID, f.Size); err != nil {
		return nil, err
	}

	f.FolderID = folderID
	f.Name = name
	f.DeletedAt = nil
	f.UpdatedAt = s.now()
	return cloneFile(f), nil
}

func (s *Store) MarkFileProcessed(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[id]
	if !ok {
		return false, metadata.ErrNotFound
	}
	if f.ProcessedAt != nil {
		return false, nil
	}
	stamp := at.UTC()
	f.ProcessedAt = &stamp
	return true, nil
}

func (s *Store) ListPurgeableFiles(_ context.Context, deletedBefore time.Time, limit int) ([]*metadata.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*metadata.File
	for _, f := range s.files {
		if f.DeletedAt != nil && f.DeletedAt.Before(deletedBefore) {
			out = append(out, cloneFile(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeletedAt.Before(*out[j].DeletedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) PurgeFile(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[id]
	if !ok || f.DeletedAt == nil {
		return metadata.ErrNotFound
	}
	delete(s.files, id)
	return nil
}

func (s *Store) fileLocked(userID, id string, lookup metadata.Lookup) (*metadata.File, error) {
	f, ok := s.files[id]
	if !ok || f.UserID != userID || !lookup.Matches(f.DeletedAt) {
		return nil, metadata.ErrNotFound
	}
	return f, nil
}

func (s *Store) fileNameTakenLocked(userID string, folderID *string, name, excludeID string) bool {
	for _, f := range s.files {
		if f.ID != excludeID && f.UserID == userID && f.DeletedAt == nil &&
			f.Name == name && sameParent(f.FolderID, folderID) {
			return true
		}
	}
	return false
}

func (s *Store) storageKeyTakenLocked(key, excludeID string) bool {
	for _, f := range s.files {
		if f.ID != excludeID && f.StorageKey == key {
			return true
		}
	}
	return false
}

func sortFiles(files []*metadata.File, field metadata.SortField, desc bool) {
	less := func(a, b *metadata.File) int {
		switch field {
		case metadata.SortBySize:
			return cmpInt64(a.Size, b.Size)
		case metadata.SortByCreatedAt:
			return a.CreatedAt.Compare(b.CreatedAt)
		case metadata.SortByUpdatedAt:
			return a.UpdatedAt.Compare(b.UpdatedAt)
		default:
			return strings.Compare(a.Name, b.Name)
		}
	}
	sort.SliceStable(files, func(i, j int) bool {
		c := less(files[i], files[j])
		if c == 0 {
			return files[i].ID < files[j].ID
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
