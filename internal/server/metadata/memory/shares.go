package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"vault/internal/core"
	"vault/internal/server/metadata"
)

func (s *Store) CreateShare(_ context.Context, sh *metadata.Share) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.shares {
		if existing.ResourceID == sh.ResourceID && existing.ResourceType == sh.ResourceType &&
			existing.SharedWithID == sh.SharedWithID {
			return metadata.ErrConflict
		}
	}
	if sh.ID == "" {
		sh.ID = uuid.NewString()
	}
	sh.CreatedAt = s.now()
	s.shares[sh.ID] = cloneShare(sh)
	return nil
}

func (s *Store) DeleteShare(_ context.Context, ownerID, id string) (*metadata.Share, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.shares[id]
	if !ok || sh.OwnerID != ownerID {
		return nil, metadata.ErrNotFound
	}
	delete(s.shares, id)
	return sh, nil
}

func (s *Store) ListSharesWithUser(_ context.Context, userID string, now time.Time) ([]*metadata.Share, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*metadata.Share{}
	for _, sh := range s.shares {
		if sh.SharedWithID == userID && sh.ActiveAt(now) {
			out = append(out, cloneShare(sh))
		}
	}
	sortShares(out)
	return out, nil
}

func (s *Store) EffectiveShares(_ context.Context, f *metadata.File, userID string, now time.Time) ([]*metadata.Share, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var folderPath string
	if f.FolderID != nil {
		if folder, ok := s.folders[*f.FolderID]; ok && folder.DeletedAt == nil {
			folderPath = folder.Path
		}
	}

	out := []*metadata.Share{}
	for _, sh := range s.shares {
		if sh.SharedWithID != userID || sh.OwnerID != f.UserID || !sh.ActiveAt(now) {
			continue
		}
		switch sh.ResourceType {
		case metadata.ResourceFile:
			if sh.ResourceID != f.ID {
				continue
			}
		case metadata.ResourceFolder:
			shared, ok := s.folders[sh.ResourceID]
			if folderPath == "" || !ok || shared.DeletedAt != nil || shared.UserID != f.UserID ||
				!core.IsDescendantPath(folderPath, shared.Path) {
				continue
			}
		default:
			continue
		}
		out = append(out, cloneShare(sh))
	}
	sortShares(out)
	return out, nil
}

func (s *Store) PurgeExpiredShares(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, sh := range s.shares {
		if !sh.ActiveAt(now) {
			delete(s.shares, id)
			n++
		}
	}
	return n, nil
}

func sortShares(shares []*metadata.Share) {
	sort.Slice(shares, func(i, j int) bool {
		if !shares[i].CreatedAt.Equal(shares[j].CreatedAt) {
			return shares[i].CreatedAt.Before(shares[j].CreatedAt)
		}
		return shares[i].ID < shares[j].ID
	})
}
