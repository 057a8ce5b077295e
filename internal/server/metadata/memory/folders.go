package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"vault/internal/core"
	"vault/internal/server/metadata"
)

func (s *Store) CreateFolder(_ context.Context, f *metadata.Folder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[f.UserID]; !ok {
		return metadata.ErrNotFound
	}

	parentPath := ""
	if f.ParentID != nil {
		parent, err := s.folderLocked(f.UserID, *f.ParentID, metadata.Active)
		if err != nil {
			return err
		}
		parentPath = parent.Path
	}
	if s.folderNameTakenLocked(f.UserID, f.ParentID, f.Name, "") {
		return metadata.ErrConflict
	}

	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := s.now()
	f.Path = core.ComputePath(f.Name, parentPath)
	f.CreatedAt = now
	f.UpdatedAt = now
	f.DeletedAt = nil

	s.folders[f.ID] = cloneFolder(f)
	return nil
}

func (s *Store) GetFolder(_ context.Context, userID, id string, lookup metadata.Lookup) (*metadata.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.folderLocked(userID, id, lookup)
	if err != nil {
		return nil, err
	}
	return cloneFolder(f), nil
}

func (s *Store) ListFolders(_ context.Context, userID string, parentID *string) ([]*metadata.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*metadata.Folder{}
	for _, f := range s.folders {
		if f.UserID == userID && f.DeletedAt == nil && sameParent(f.ParentID, parentID) {
			out = append(out, cloneFolder(f))
		}
	}
	sortFoldersByName(out)
	return out, nil
}

func (s *Store) FolderNameTaken(_ context.Context, userID string, parentID *string, name, excludeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.folderNameTakenLocked(userID, parentID, name, excludeID), nil
}

func (s *Store) RelocateFolder(_ context.Context, userID, id string, parentID *string, name string) (*metadata.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.folderLocked(userID, id, metadata.Active)
	if err != nil {
		return nil, err
	}

	parentPath := ""
	if parentID != nil {
		if *parentID == f.ID {
			return nil, metadata.ErrInvalidMove
		}
		parent, err := s.folderLocked(userID, *parentID, metadata.Active)
		if err != nil {
			return nil, err
		}
		if core.IsDescendantPath(parent.Path, f.Path) {
			return nil, metadata.ErrInvalidMove
		}
		parentPath = parent.Path
	}

	if sameParent(f.ParentID, parentID) && f.Name == name {
		return cloneFolder(f), nil
	}
	if s.folderNameTakenLocked(userID, parentID, name, f.ID) {
		return nil, metadata.ErrConflict
	}

	oldPath := f.Path
	newPath := core.ComputePath(name, parentPath)
	now := s.now()

	// Rewrite from a snapshot of the original paths so no entry is seen twice.
	updates := core.PropagatePathRename(oldPath, newPath, s.subtreeEntriesLocked(f.ID))
	for _, u := range updates {
		d := s.folders[u.ID]
		d.Path = u.Path
		d.UpdatedAt = now
	}

	if parentID != nil {
		p := *parentID
		f.ParentID = &p
	} else {
		f.ParentID = nil
	}
	f.Name = name
	f.Path = newPath
	f.UpdatedAt = now
	return cloneFolder(f), nil
}

func (s *Store) DeleteFolderTree(_ context.Context, userID, id string, at time.Time) (*metadata.Cascade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root, err := s.folderLocked(userID, id, metadata.Active)
	if err != nil {
		return nil, err
	}

	stamp := at.UTC()
	cascade := &metadata.Cascade{}
	inTree := make(map[string]bool)
	for _, f := range s.folders {
		if f.UserID == userID && f.DeletedAt == nil && core.IsDescendantPath(f.Path, root.Path) {
			inTree[f.ID] = true
		}
	}
	for fid := range inTree {
		f := s.folders[fid]
		d := stamp
		f.DeletedAt = &d
		f.UpdatedAt = stamp
		cascade.FolderIDs = append(cascade.FolderIDs, fid)
	}
	for _, file := range s.files {
		if file.UserID != userID || file.DeletedAt != nil || file.FolderID == nil || !inTree[*file.FolderID] {
			continue
		}
		d := stamp
		file.DeletedAt = &d
		file.UpdatedAt = stamp
		cascade.FileIDs = append(cascade.FileIDs, file.ID)
		cascade.Bytes += file.Size
	}
	if cascade.Bytes > 0 {
		s.adjustLocked(s.users[userID], -cascade.Bytes)
	}

	sort.Strings(cascade.FolderIDs)
	sort.Strings(cascade.FileIDs)
	cascade.Root = cloneFolder(root)
	return cascade, nil
}

func (s *Store) RestoreFolderTree(_ context.Context, userID, id string, opts metadata.RestoreOptions) (*metadata.Cascade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root, err := s.folderLocked(userID, id, metadata.Trashed)
	if err != nil {
		return nil, err
	}
	stamp := *root.DeletedAt

	// Re-parent to the root when the original parent is gone.
	parentID := root.ParentID
	parentPath := ""
	if parentID != nil {
		parent, err := s.folderLocked(userID, *parentID, metadata.Active)
		if err != nil {
			parentID = nil
		} else {
			parentPath = parent.Path
		}
	}

	name, err := metadata.ResolveRestoreName(root.Name, false, opts, func(candidate string) (bool, error) {
		return s.folderNameTakenLocked(userID, parentID, candidate, root.ID), nil
	})
	if err != nil {
		return nil, err
	}

	// Walk the parent chain, following only items stamped by the same cascade.
	members := []*metadata.Folder{root}
	inTree := map[string]bool{root.ID: true}
	for i := 0; i < len(members); i++ {
		for _, child := range s.folders {
			if child.ParentID != nil && *child.ParentID == members[i].ID &&
				child.DeletedAt != nil && child.DeletedAt.Equal(stamp) && !inTree[child.ID] {
				inTree[child.ID] = true
				members = append(members, child)
			}
		}
	}

	var restoredFiles []*metadata.File
	var bytes int64
	for _, file := range s.files {
		if file.UserID == userID && file.FolderID != nil && inTree[*file.FolderID] &&
			file.DeletedAt != nil && file.DeletedAt.Equal(stamp) {
			restoredFiles = append(restoredFiles, file)
			bytes += file.Size
		}
	}
	if err := s.reserveLocked(userID, bytes); err != nil {
		return nil, err
	}

	now := s.now()
	oldPath := root.Path
	newPath := core.ComputePath(name, parentPath)
	// Folders trashed before this cascade still hang below root, so their
	// paths follow it even though they stay in the trash.
	for _, u := range core.PropagatePathRename(oldPath, newPath, s.subtreeEntriesLocked(root.ID)) {
		s.folders[u.ID].Path = u.Path
	}
	if parentID == nil {
		root.ParentID = nil
	}
	root.Name = name
	root.Path = newPath

	cascade := &metadata.Cascade{Bytes: bytes}
	for _, f := range members {
		f.DeletedAt = nil
		f.UpdatedAt = now
		cascade.FolderIDs = append(cascade.FolderIDs, f.ID)
	}
	for _, file := range restoredFiles {
		file.DeletedAt = nil
		file.UpdatedAt = now
		cascade.FileIDs = append(cascade.FileIDs, file.ID)
	}

	sort.Strings(cascade.FolderIDs)
	sort.Strings(cascade.FileIDs)
	cascade.Root = cloneFolder(root)
	return cascade, nil
}

func (s *Store) ListTrash(_ context.Context, userID string) (*metadata.Trash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trash := &metadata.Trash{Folders: []*metadata.Folder{}, Files: []*metadata.File{}}
	for _, f := range s.folders {
		if f.UserID == userID && f.DeletedAt != nil {
			trash.Folders = append(trash.Folders, cloneFolder(f))
		}
	}
	for _, f := range s.files {
		if f.UserID == userID && f.DeletedAt != nil {
			trash.Files = append(trash.Files, cloneFile(f))
		}
	}
	sort.Slice(trash.Folders, func(i, j int) bool {
		a, b := trash.Folders[i], trash.Folders[j]
		if !a.DeletedAt.Equal(*b.DeletedAt) {
			return a.DeletedAt.After(*b.DeletedAt)
		}
		return a.Path < b.Path
	})
	sort.Slice(trash.Files, func(i, j int) bool {
		a, b := trash.Files[i], trash.Files[j]
		if !a.DeletedAt.Equal(*b.DeletedAt) {
			return a.DeletedAt.After(*b.DeletedAt)
		}
		return a.Name < b.Name
	})
	return trash, nil
}

// folderLocked finds a folder owned by userID in the requested state.
func (s *Store) folderLocked(userID, id string, lookup metadata.Lookup) (*metadata.Folder, error) {
	f, ok := s.folders[id]
	if !ok || f.UserID != userID || !lookup.Matches(f.DeletedAt) {
		return nil, metadata.ErrNotFound
	}
	return f, nil
}

func (s *Store) folderNameTakenLocked(userID string, parentID *string, name, excludeID string) bool {
	for _, f := range s.folders {
		if f.ID != excludeID && f.UserID == userID && f.DeletedAt == nil &&
			f.Name == name && sameParent(f.ParentID, parentID) {
			return true
		}
	}
	return false
}

// subtreeEntriesLocked returns every folder below rootID, in any state,
// reached through the parent chain.
func (s *Store) subtreeEntriesLocked(rootID string) []core.PathEntry {
	var entries []core.PathEntry
	frontier := []string{rootID}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		for _, f := range s.folders {
			if f.ParentID != nil && *f.ParentID == next {
				entries = append(entries, core.PathEntry{ID: f.ID, Path: f.Path})
				frontier = append(frontier, f.ID)
			}
		}
	}
	return entries
}
