package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vault/internal/server/metadata"
	"vault/internal/server/metadata/memory"
	"vault/internal/server/queue"
	"vault/internal/server/quota"
	"vault/internal/server/storage"
)

type harness struct {
	store      *memory.Store
	tracker    *quota.Tracker
	dispatcher *queue.Dispatcher
	folders    *FolderService
	files      *FileService
	shares     *ShareService
	users      *UserService
}

func newHarness(t *testing.T, restore metadata.RestoreOptions) *harness {
	t.Helper()
	store := memory.New()
	tracker := quota.NewTracker(store, nil)
	dispatcher := queue.NewDispatcher(context.Background(), nil, nil)
	issuer := storage.NewTokenIssuer("test-secret-0123456789", "http://vault.test")

	return &harness{
		store:      store,
		tracker:    tracker,
		dispatcher: dispatcher,
		folders:    NewFolderService(store, tracker, restore, nil),
		files: NewFileService(store, tracker, dispatcher, issuer, nil, FileOptions{
			GrantTTL: time.Minute,
			Restore:  restore,
		}, nil),
		shares: NewShareService(store, nil),
		users:  NewUserService(store, tracker, 1<<30, nil),
	}
}

var seq atomic.Int64

func (h *harness) user(t *testing.T, quotaBytes, used int64) *metadata.User {
	t.Helper()
	n := seq.Add(1)
	u := &metadata.User{
		Username:     fmt.Sprintf("user%d", n),
		Email:        fmt.Sprintf("user%d@example.com", n),
		PasswordHash: "hash",
		StorageQuota: quotaBytes,
		IsActive:     true,
	}
	require.NoError(t, h.store.CreateUser(context.Background(), u))
	if used > 0 {
		_, _, err := h.store.AdjustUsage(context.Background(), u.ID, used)
		require.NoError(t, err)
	}
	return u
}

func (h *harness) upload(t *testing.T, userID string, folderID *string, name string, size int64) *metadata.File {
	t.Helper()
	f, err := h.files.FinalizeUpload(context.Background(), FinalizeUploadInput{
		UserID:     userID,
		FolderID:   folderID,
		Name:       name,
		Size:       size,
		MimeType:   "text/plain",
		StorageKey: fmt.Sprintf("%s/blob-%d", userID, seq.Add(1)),
	})
	require.NoError(t, err)
	return f
}

func (h *harness) mkdir(t *testing.T, userID string, parentID *string, name string) *metadata.Folder {
	t.Helper()
	f, err := h.folders.Create(context.Background(), userID, name, parentID)
	require.NoError(t, err)
	return f
}

func (h *harness) used(t *testing.T, userID string) int64 {
	t.Helper()
	u, err := h.store.GetUser(context.Background(), userID)
	require.NoError(t, err)
	return u.StorageUsed
}

func (h *harness) auditActions(t *testing.T, userID string) []metadata.AuditAction {
	t.Helper()
	logs, err := h.store.ListAudit(context.Background(), userID, 100)
	require.NoError(t, err)
	out := make([]metadata.AuditAction, 0, len(logs))
	for _, l := range logs {
		out = append(out, l.Action())
	}
	return out
}

// clock returns a now func that advances one second per call.
func clock(start time.Time) func() time.Time {
	var n atomic.Int64
	return func() time.Time {
		return start.Add(time.Duration(n.Add(1)) * time.Second)
	}
}

var defaultRestore = metadata.RestoreOptions{Policy: metadata.ConflictSuffix, Suffix: metadata.DefaultRestoreSuffix}
