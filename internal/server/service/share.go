package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"vault/internal/server/metadata"
)

// GrantShareInput describes a new share.
type GrantShareInput struct {
	OwnerID      string
	ResourceID   string
	ResourceType metadata.ResourceType
	SharedWithID string
	Permission   metadata.Permission
	ExpiresAt    *time.Time
}

// ShareService grants and revokes access to files and folders.
type ShareService struct {
	store  metadata.Store
	audit  auditor
	logger *slog.Logger
	now    func() time.Time
}

// NewShareService creates a share service.
func NewShareService(store metadata.Store, logger *slog.Logger) *ShareService {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "shares")
	return &ShareService{
		store:  store,
		audit:  auditor{store: store, logger: logger},
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Grant shares a resource the owner holds with another user. A folder share
// covers every file beneath the folder.
func (s *ShareService) Grant(ctx context.Context, in GrantShareInput) (*metadata.Share, error) {
	if !in.ResourceType.Valid() {
		return nil, fmt.Errorf("%w: unknown resource type %q", ErrValidation, in.ResourceType)
	}
	if !in.Permission.Valid() {
		return nil, fmt.Errorf("%w: unknown permission %q", ErrValidation, in.Permission)
	}
	if in.SharedWithID == in.OwnerID {
		return nil, fmt.Errorf("%w: cannot share with yourself", ErrValidation)
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(s.now()) {
		return nil, fmt.Errorf("%w: expiry must be in the future", ErrValidation)
	}

	if err := s.checkOwned(ctx, in.OwnerID, in.ResourceType, in.ResourceID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetUser(ctx, in.SharedWithID); err != nil {
		return nil, storeErr(err, "user")
	}

	sh := &metadata.Share{
		ResourceID:   in.ResourceID,
		ResourceType: in.ResourceType,
		OwnerID:      in.OwnerID,
		SharedWithID: in.SharedWithID,
		Permission:   in.Permission,
		ExpiresAt:    in.ExpiresAt,
	}
	if err := s.store.CreateShare(ctx, sh); err != nil {
		return nil, duplicateErr(err, "share")
	}

	s.audit.record(ctx, in.OwnerID, &sh.ResourceID, metadata.ShareDetails{
		ResourceType: sh.ResourceType,
		SharedWithID: sh.SharedWithID,
		Permission:   sh.Permission,
		ExpiresAt:    sh.ExpiresAt,
	}, "")
	return sh, nil
}

func (s *ShareService) checkOwned(ctx context.Context, ownerID string, t metadata.ResourceType, id string) error {
	var err error
	switch t {
	case metadata.ResourceFile:
		_, err = s.store.GetFile(ctx, ownerID, id, metadata.Active)
	case metadata.ResourceFolder:
		_, err = s.store.GetFolder(ctx, ownerID, id, metadata.Active)
	}
	return storeErr(err, string(t))
}

// Revoke deletes a share the caller owns.
func (s *ShareService) Revoke(ctx context.Context, ownerID, shareID string) error {
	sh, err := s.store.DeleteShare(ctx, ownerID, shareID)
	if err != nil {
		return storeErr(err, "share")
	}
	s.audit.record(ctx, ownerID, &sh.ResourceID, metadata.ShareDetails{
		ResourceType: sh.ResourceType,
		SharedWithID: sh.SharedWithID,
		Permission:   sh.Permission,
		Revoked:      true,
	}, "")
	return nil
}

// ListSharedWithMe returns the unexpired shares granted to userID.
func (s *ShareService) ListSharedWithMe(ctx context.Context, userID string) ([]*metadata.Share, error) {
	shares, err := s.store.ListSharesWithUser(ctx, userID, s.now())
	return shares, storeErr(err, "share")
}
