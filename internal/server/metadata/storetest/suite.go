// Package storetest is a conformance suite for metadata.Store
// implementations. It exercises the interface contract only, so the same
// tests run against the in-memory store and PostgreSQL.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault/internal/server/metadata"
)

// Suite runs the contract tests. NewStore must return an empty store for
// every call so tests stay isolated.
type Suite struct {
	NewStore func(t *testing.T) metadata.Store
}

// Run executes every group of the suite.
func (s *Suite) Run(t *testing.T) {
	t.Run("Users", s.runUserTests)
	t.Run("Folders", s.runFolderTests)
	t.Run("Files", s.runFileTests)
	t.Run("Trash", s.runTrashTests)
	t.Run("Shares", s.runShareTests)
	t.Run("Audit", s.runAuditTests)
}

// ============================================================================
// Helpers
// ============================================================================

var seq atomic.Int64

func ptr(s string) *string { return &s }

// stamp returns a timestamp every backend stores without losing precision.
func stamp() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func createUser(t *testing.T, store metadata.Store, quota int64) *metadata.User {
	t.Helper()
	n := seq.Add(1)
	u := &metadata.User{
		Username:     fmt.Sprintf("user%d", n),
		Email:        fmt.Sprintf("user%d@example.com", n),
		PasswordHash: "hash",
		StorageQuota: quota,
		IsActive:     true,
	}
	require.NoError(t, store.CreateUser(context.Background(), u))
	require.NotEmpty(t, u.ID)
	return u
}

func createFolder(t *testing.T, store metadata.Store, userID string, parentID *string, name string) *metadata.Folder {
	t.Helper()
	f := &metadata.Folder{UserID: userID, ParentID: parentID, Name: name}
	require.NoError(t, store.CreateFolder(context.Background(), f))
	return f
}

func createFile(t *testing.T, store metadata.Store, userID string, folderID *string, name string, size int64) *metadata.File {
	t.Helper()
	f := &metadata.File{
		UserID:     userID,
		FolderID:   folderID,
		Name:       name,
		Size:       size,
		MimeType:   "text/plain",
		StorageKey: fmt.Sprintf("key-%d", seq.Add(1)),
	}
	require.NoError(t, store.CreateFile(context.Background(), f))
	return f
}

func usage(t *testing.T, store metadata.Store, userID string) int64 {
	t.Helper()
	u, err := store.GetUser(context.Background(), userID)
	require.NoError(t, err)
	return u.StorageUsed
}

func folderPath(t *testing.T, store metadata.Store, userID, id string) string {
	t.Helper()
	f, err := store.GetFolder(context.Background(), userID, id, metadata.AnyState)
	require.NoError(t, err)
	return f.Path
}

// ============================================================================
// Users
// ============================================================================

func (s *Suite) runUserTests(t *testing.T) {
	ctx := context.Background()

	t.Run("CreateAppliesDefaultQuota", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 0)

		got, err := store.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, metadata.DefaultStorageQuota, got.StorageQuota)
		assert.Zero(t, got.StorageUsed)

		byName, err := store.GetUserByUsername(ctx, u.Username)
		require.NoError(t, err)
		assert.Equal(t, u.ID, byName.ID)
	})

	t.Run("DuplicateUsernameOrEmail", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 100)

		err := store.CreateUser(ctx, &metadata.User{Username: u.Username, Email: "other@example.com", PasswordHash: "x"})
		assert.ErrorIs(t, err, metadata.ErrConflict)

		err = store.CreateUser(ctx, &metadata.User{Username: "someone-else", Email: u.Email, PasswordHash: "x"})
		assert.ErrorIs(t, err, metadata.ErrConflict)
	})

	t.Run("UnknownUser", func(t *testing.T) {
		store := s.NewStore(t)
		_, err := store.GetUser(ctx, "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, metadata.ErrNotFound)
	})

	t.Run("AdjustUsageFloorsAtZero", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 1000)

		used, clamped, err := store.AdjustUsage(ctx, u.ID, 300)
		require.NoError(t, err)
		assert.Equal(t, int64(300), used)
		assert.False(t, clamped)

		used, clamped, err = store.AdjustUsage(ctx, u.ID, -500)
		require.NoError(t, err)
		assert.Zero(t, used)
		assert.True(t, clamped)
	})

	t.Run("ConcurrentAdjustUsage", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 1<<30)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := store.AdjustUsage(ctx, u.ID, 10)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.Equal(t, int64(200), usage(t, store, u.ID))
	})

	t.Run("ActiveBytesAndSetUsage", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 1000)
		createFile(t, store, u.ID, nil, "a.txt", 100)
		b := createFile(t, store, u.ID, nil, "b.txt", 50)
		_, err := store.DeleteFile(ctx, u.ID, b.ID, stamp())
		require.NoError(t, err)

		total, err := store.ActiveBytes(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(100), total)

		require.NoError(t, store.SetUsage(ctx, u.ID, 42))
		assert.Equal(t, int64(42), usage(t, store, u.ID))
	})
}

// ============================================================================
// Folders
// ============================================================================

func (s *Suite) runFolderTests(t *testing.T) {
	ctx := context.Background()

	t.Run("PathsFollowParents", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 0)

		docs := createFolder(t, store, u.ID, nil, "Docs")
		work := createFolder(t, store, u.ID, &docs.ID, "Work")

		assert.Equal(t, "/Docs", docs.Path)
		assert.Equal(t, "/Docs/Work", work.Path)
		assert.Equal(t, "/Docs/Work", folderPath(t, store, u.ID, work.ID))
	})

	t.Run("SiblingNamesAreUnique", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 0)
		docs := createFolder(t, store, u.ID, nil, "Docs")
		createFolder(t, store, u.ID, &docs.ID, "Work")

		err := store.CreateFolder(ctx, &metadata.Folder{UserID: u.ID, Name: "Docs"})
		assert.ErrorIs(t, err, metadata.ErrConflict)

		err = store.CreateFolder(ctx, &metadata.Folder{UserID: u.ID, ParentID: &docs.ID, Name: "Work"})
		assert.ErrorIs(t, err, metadata.ErrConflict)

		// Same name elsewhere, or for another user, is fine.
		createFolder(t, store, u.ID, &docs.ID, "Docs")
		other := createUser(t, store, 0)
		createFolder(t, store, other.ID, nil, "Docs")
	})

	t.Run("ConcurrentCreateHasOneWinner", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 0)
		parent := createFolder(t, store, u.ID, nil, "Parent")

		const racers = 8
		var (
			wg        sync.WaitGroup
			succeeded atomic.Int32
			conflicts atomic.Int32
		)
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := store.CreateFolder(ctx, &metadata.Folder{UserID: u.ID, ParentID: &parent.ID, Name: "X"})
				switch {
				case err == nil:
					succeeded.Add(1)
				case assert.ErrorIs(t, err, metadata.ErrConflict):
					conflicts.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), succeeded.Load())
		assert.Equal(t, int32(racers-1), conflicts.Load())
	})

	t.Run("ParentMustBeActiveAndOwned", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 0)
		other := createUser(t, store, 0)
		foreign := createFolder(t, store, other.ID, nil, "Theirs")

		err := store.CreateFolder(ctx, &metadata.Folder{UserID: u.ID, ParentID: &foreign.ID, Name: "Mine"})
		assert.ErrorIs(t, err, metadata.ErrNotFound)

		trashed := createFolder(t, store, u.ID, nil, "Old")
		_, err = store.DeleteFolderTree(ctx, u.ID, trashed.ID, stamp())
		require.NoError(t, err)
		err = store.CreateFolder(ctx, &metadata.Folder{UserID: u.ID, ParentID: &trashed.ID, Name: "Mine"})
		assert.ErrorIs(t, err, metadata.ErrNotFound)
	})

	t.Run("GetFolderHidesOtherOwners", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 0)
		other := createUser(t, store, 0)
		f := createFolder(t, store, u.ID, nil, "Private")

		_, err := store.GetFolder(ctx, other.ID, f.ID, metadata.AnyState)
		assert.ErrorIs(t, err, metadata.ErrNotFound)
	})

	t.Run("ListFoldersIsSortedAndActiveOnly", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 0)
		createFolder(t, store, u.ID, nil, "b")
		createFolder(t, store, u.ID, nil, "a")
		gone := createFolder(t, store, u.ID, nil, "c")
		_, err := store.DeleteFolderTree(ctx, u.ID, gone.ID, stamp())
		require.NoError(t, err)

		folders, err := store.ListFolders(ctx, u.ID, nil)
		require.NoError(t, err)
		require.Len(t, folders, 2)
		assert.Equal(t, "a", folders[0].Name)
		assert.Equal(t, "b", folders[1].Name)
	})

	t.Run("RenamePropagatesToDescendants", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 0)
		docs := createFolder(t, store, u.ID, nil, "Docs")
		work := createFolder(t, store, u.ID, &docs.ID, "Work")
		deep := createFolder(t, store, u.ID, &work.ID, "Deep")
		lookalike := createFolder(t, store, u.ID, nil, "DocsArchive")

		renamed, err := store.RelocateFolder(ctx, u.ID, docs.ID, nil, "Documents")
		require.NoError(t, err)

		assert.Equal(t, "/Documents", renamed.Path)
		assert.Equal(t, "/Documents/Work", folderPath(t, store, u.ID, work.ID))
		assert.Equal(t, "/Documents/Work/Deep", folderPath(t, store, u.ID, deep.ID))
		assert.Equal(t, "/DocsArchive", folderPath(t, store, u.ID, lookalike.ID))
	})

	t.Run("MovePropagatesToDescendants", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 0)
		a := createFolder(t, store, u.ID, nil, "A")
		b := createFolder(t, store, u.ID, &a.ID, "B")
		c := createFolder(t, store, u.ID, nil, "C")

		moved, err := store.RelocateFolder(ctx, u.ID, a.ID, &c.ID, "A")
		require.NoError(t, err)
		assert.Equal(t, "/C/A", moved.Path)
		require.NotNil(t, moved.ParentID)
		assert.Equal(t, c.ID, *moved.ParentID)
		assert.Equal(t, "/C/A/B", folderPath(t, store, u.ID, b.ID))

		back, err := store.RelocateFolder(ctx, u.ID, a.ID, nil, "A")
		require.NoError(t, err)
		assert.Nil(t, back.ParentID)
		assert.Equal(t, "/A/B", folderPath(t, store, u.ID, b.ID))
	})

	t.Run("MoveIntoOwnSubtreeIsRejected", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 0)
		a := createFolder(t, store, u.ID, nil, "A")
		b := createFolder(t, store, u.ID, &a.ID, "B")

		_, err := store.RelocateFolder(ctx, u.ID, a.ID, &b.ID, "A")
		assert.ErrorIs(t, err, metadata.ErrInvalidMove)

		_, err = store.RelocateFolder(ctx, u.ID, a.ID, &a.ID, "A")
		assert.ErrorIs(t, err, metadata.ErrInvalidMove)

		assert.Equal(t, "/A", folderPath(t, store, u.ID, a.ID))
		assert.Equal(t, "/A/B", folderPath(t, store, u.ID, b.ID))
	})

	t.Run("RelocateIntoTakenNameConflicts", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 0)
		createFolder(t, store, u.ID, nil, "A")
		b := createFolder(t, store, u.ID, nil, "B")

		_, err := store.RelocateFolder(ctx, u.ID, b.ID, nil, "A")
		assert.ErrorIs(t, err, metadata.ErrConflict)
		assert.Equal(t, "/B", folderPath(t, store, u.ID, b.ID))
	})

	t.Run("NameTaken", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 0)
		a := createFolder(t, store, u.ID, nil, "A")

		taken, err := store.FolderNameTaken(ctx, u.ID, nil, "A", "")
		require.NoError(t, err)
		assert.True(t, taken)

		taken, err = store.FolderNameTaken(ctx, u.ID, nil, "A", a.ID)
		require.NoError(t, err)
		assert.False(t, taken)
	})
}

// ============================================================================
// Files
// ============================================================================

func (s *Suite) runFileTests(t *testing.T) {
	ctx := context.Background()

	t.Run("CreateReservesQuota", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 1000)
		require.NoError(t, store.SetUsage(ctx, u.ID, 900))

		err := store.CreateFile(ctx, &metadata.File{UserID: u.ID, Name: "big.bin", Size: 150, StorageKey: "big"})
		assert.ErrorIs(t, err, metadata.ErrQuotaExceeded)
		assert.Equal(t, int64(900), usage(t, store, u.ID))

		page, err := store.ListFiles(ctx, u.ID, nil, metadata.ListOptions{})
		require.NoError(t, err)
		assert.Zero(t, page.Total)

		f := createFile(t, store, u.ID, nil, "small.bin", 80)
		assert.Equal(t, 1, f.Version)
		assert.Equal(t, int64(980), usage(t, store, u.ID))
	})

	t.Run("ConcurrentCreatesNeverOverrunQuota", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 100)

		var wg sync.WaitGroup
		var ok atomic.Int32
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := store.CreateFile(ctx, &metadata.File{
					UserID:     u.ID,
					Name:       fmt.Sprintf("f%d", i),
					Size:       30,
					StorageKey: fmt.Sprintf("race-%d-%d", seq.Add(1), i),
				})
				if err == nil {
					ok.Add(1)
				} else {
					assert.ErrorIs(t, err, metadata.ErrQuotaExceeded)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(3), ok.Load())
		assert.Equal(t, int64(90), usage(t, store, u.ID))
	})

	t.Run("UniqueNameAndStorageKey", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 0)
		f := createFile(t, store, u.ID, nil, "a.txt", 1)

		err := store.CreateFile(ctx, &metadata.File{UserID: u.ID, Name: "a.txt", StorageKey: "other"})
		assert.ErrorIs(t, err, metadata.ErrConflict)

		err = store.CreateFile(ctx, &metadata.File{UserID: u.ID, Name: "b.txt", StorageKey: f.StorageKey})
		assert.ErrorIs(t, err, metadata.ErrConflict)
	})

	t.Run("DestinationFolderMustExist", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 0)
		err := store.CreateFile(ctx, &metadata.File{
			UserID: u.ID, FolderID: ptr("00000000-0000-0000-0000-000000000000"), Name: "a", StorageKey: "k-missing",
		})
		assert.ErrorIs(t, err, metadata.ErrNotFound)
	})

	t.Run("ListSortsAndPaginates", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 0)
		folder := createFolder(t, store, u.ID, nil, "F")
		createFile(t, store, u.ID, &folder.ID, "c.txt", 10)
		createFile(t, store, u.ID, &folder.ID, "a.txt", 30)
		createFile(t, store, u.ID, &folder.ID, "b.txt", 20)
		createFile(t, store, u.ID, nil, "root.txt", 5)

		page, err := store.ListFiles(ctx, u.ID, &folder.ID, metadata.ListOptions{Sort: metadata.SortByName})
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		require.Len(t, page.Files, 3)
		assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, names(page.Files))

		page, err = store.ListFiles(ctx, u.ID, &folder.ID, metadata.ListOptions{
			Sort: metadata.SortBySize, Descending: true, Limit: 2, Offset: 1,
		})
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		assert.Equal(t, []string{"b.txt", "c.txt"}, names(page.Files))

		page, err = store.ListFiles(ctx, u.ID, nil, metadata.ListOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"root.txt"}, names(page.Files))
	})

	t.Run("RelocateFile", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 0)
		folder := createFolder(t, store, u.ID, nil, "F")
		f := createFile(t, store, u.ID, nil, "a.txt", 1)
		createFile(t, store, u.ID, &folder.ID, "taken.txt", 1)

		moved, err := store.RelocateFile(ctx, u.ID, f.ID, &folder.ID, "b.txt")
		require.NoError(t, err)
		require.NotNil(t, moved.FolderID)
		assert.Equal(t, folder.ID, *moved.FolderID)
		assert.Equal(t, "b.txt", moved.Name)

		_, err = store.RelocateFile(ctx, u.ID, f.ID, &folder.ID, "taken.txt")
		assert.ErrorIs(t, err, metadata.ErrConflict)
	})

	t.Run("ReplaceContentBumpsVersionAndUsage", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 100)
		f := createFile(t, store, u.ID, nil, "a.txt", 40)

		updated, err := store.ReplaceFileContent(ctx, u.ID, f.ID, 70, "text/markdown", "replaced-"+f.StorageKey)
		require.NoError(t, err)
		assert.Equal(t, 2, updated.Version)
		assert.Equal(t, int64(70), updated.Size)
		assert.Equal(t, int64(70), usage(t, store, u.ID))

		_, err = store.ReplaceFileContent(ctx, u.ID, f.ID, 200, "text/plain", "too-big-"+f.StorageKey)
		assert.ErrorIs(t, err, metadata.ErrQuotaExceeded)

		shrunk, err := store.ReplaceFileContent(ctx, u.ID, f.ID, 10, "text/plain", "small-"+f.StorageKey)
		require.NoError(t, err)
		assert.Equal(t, 3, shrunk.Version)
		assert.Equal(t, int64(10), usage(t, store, u.ID))
	})

	t.Run("MarkProcessedOnce", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 0)
		f := createFile(t, store, u.ID, nil, "a.txt", 1)

		first, err := store.MarkFileProcessed(ctx, f.ID, stamp())
		require.NoError(t, err)
		assert.True(t, first)

		first, err = store.MarkFileProcessed(ctx, f.ID, stamp())
		require.NoError(t, err)
		assert.False(t, first)
	})

	t.Run("GetFileByIDIgnoresOwner", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 0)
		f := createFile(t, store, u.ID, nil, "a.txt", 1)

		got, err := store.GetFileByID(ctx, f.ID)
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.UserID)

		other := createUser(t, store, 0)
		_, err = store.GetFile(ctx, other.ID, f.ID, metadata.Active)
		assert.ErrorIs(t, err, metadata.ErrNotFound)
	})
}

func names(files []*metadata.File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Name
	}
	return out
}

// ============================================================================
// Trash
// ============================================================================

func (s *Suite) runTrashTests(t *testing.T) {
	ctx := context.Background()

	t.Run("DeleteCascadesToSubtreeOnly", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 0)
		a := createFolder(t, store, u.ID, nil, "A")
		b := createFolder(t, store, u.ID, &a.ID, "B")
		c := createFolder(t, store, u.ID, nil, "C")
		ab := createFolder(t, store, u.ID, nil, "AB")
		f1 := createFile(t, store, u.ID, &a.ID, "f1", 10)
		f2 := createFile(t, store, u.ID, &b.ID, "f2", 20)
		outside := createFile(t, store, u.ID, &c.ID, "f3", 5)

		cascade, err := store.DeleteFolderTree(ctx, u.ID, a.ID, stamp())
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{a.ID, b.ID}, cascade.FolderIDs)
		assert.ElementsMatch(t, []string{f1.ID, f2.ID}, cascade.FileIDs)
		assert.Equal(t, int64(30), cascade.Bytes)
		assert.Equal(t, int64(5), usage(t, store, u.ID))

		for _, id := range []string{a.ID, b.ID} {
			_, err := store.GetFolder(ctx, u.ID, id, metadata.Trashed)
			assert.NoError(t, err)
		}
		for _, id := range []string{c.ID, ab.ID} {
			_, err := store.GetFolder(ctx, u.ID, id, metadata.Active)
			assert.NoError(t, err)
		}
		_, err = store.GetFile(ctx, u.ID, outside.ID, metadata.Active)
		assert.NoError(t, err)
	})

	t.Run("RestoreBringsBackTheSameCascade", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 0)
		a := createFolder(t, store, u.ID, nil, "A")
		b := createFolder(t, store, u.ID, &a.ID, "B")
		f1 := createFile(t, store, u.ID, &a.ID, "f1", 10)
		earlier := createFile(t, store, u.ID, &b.ID, "earlier", 7)

		_, err := store.DeleteFile(ctx, u.ID, earlier.ID, stamp().Add(-time.Hour))
		require.NoError(t, err)

		deleted, err := store.DeleteFolderTree(ctx, u.ID, a.ID, stamp())
		require.NoError(t, err)

		restored, err := store.RestoreFolderTree(ctx, u.ID, a.ID, metadata.RestoreOptions{Policy: metadata.ConflictSuffix})
		require.NoError(t, err)
		assert.ElementsMatch(t, deleted.FolderIDs, restored.FolderIDs)
		assert.ElementsMatch(t, []string{f1.ID}, restored.FileIDs)
		assert.Equal(t, int64(10), usage(t, store, u.ID))

		// The file deleted on its own stays in the trash.
		_, err = store.GetFile(ctx, u.ID, earlier.ID, metadata.Trashed)
		assert.NoError(t, err)

		again, err := store.DeleteFolderTree(ctx, u.ID, a.ID, stamp())
		require.NoError(t, err)
		assert.ElementsMatch(t, deleted.FolderIDs, again.FolderIDs)
		assert.ElementsMatch(t, deleted.FileIDs, again.FileIDs)
	})

	t.Run("RestoreRenamesOnCollision", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 0)
		docs := createFolder(t, store, u.ID, nil, "Docs")
		child := createFolder(t, store, u.ID, &docs.ID, "Child")
		_, err := store.DeleteFolderTree(ctx, u.ID, docs.ID, stamp())
		require.NoError(t, err)
		createFolder(t, store, u.ID, nil, "Docs")

		_, err = store.RestoreFolderTree(ctx, u.ID, docs.ID, metadata.RestoreOptions{Policy: metadata.ConflictReject})
		assert.ErrorIs(t, err, metadata.ErrConflict)

		restored, err := store.RestoreFolderTree(ctx, u.ID, docs.ID, metadata.RestoreOptions{Policy: metadata.ConflictSuffix})
		require.NoError(t, err)
		assert.Equal(t, "Docs (restored)", restored.Root.Name)
		assert.Equal(t, "/Docs (restored)", restored.Root.Path)
		assert.Equal(t, "/Docs (restored)/Child", folderPath(t, store, u.ID, child.ID))
	})

	t.Run("RestoreRebasesEarlierTrashBelowRoot", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 0)
		a := createFolder(t, store, u.ID, nil, "A")
		b := createFolder(t, store, u.ID, &a.ID, "B")
		deep := createFolder(t, store, u.ID, &b.ID, "Deep")

		_, err := store.DeleteFolderTree(ctx, u.ID, b.ID, stamp().Add(-time.Hour))
		require.NoError(t, err)
		_, err = store.DeleteFolderTree(ctx, u.ID, a.ID, stamp())
		require.NoError(t, err)
		createFolder(t, store, u.ID, nil, "A")

		restored, err := store.RestoreFolderTree(ctx, u.ID, a.ID, metadata.RestoreOptions{Policy: metadata.ConflictSuffix})
		require.NoError(t, err)
		assert.Equal(t, "/A (restored)", restored.Root.Path)
		assert.ElementsMatch(t, []string{a.ID}, restored.FolderIDs)

		// B was trashed on its own and stays there, under the new path.
		trashed, err := store.GetFolder(ctx, u.ID, b.ID, metadata.Trashed)
		require.NoError(t, err)
		assert.Equal(t, "/A (restored)/B", trashed.Path)
		assert.Equal(t, "/A (restored)/B/Deep", folderPath(t, store, u.ID, deep.ID))

		// A later rename still reaches it.
		_, err = store.RelocateFolder(ctx, u.ID, a.ID, nil, "Archive")
		require.NoError(t, err)
		assert.Equal(t, "/Archive/B", folderPath(t, store, u.ID, b.ID))
	})

	t.Run("RestoreReparentsWhenParentIsTrashed", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 0)
		a := createFolder(t, store, u.ID, nil, "A")
		b := createFolder(t, store, u.ID, &a.ID, "B")
		inner := createFolder(t, store, u.ID, &b.ID, "Inner")
		f := createFile(t, store, u.ID, &a.ID, "loose.txt", 3)

		_, err := store.DeleteFolderTree(ctx, u.ID, a.ID, stamp())
		require.NoError(t, err)

		restored, err := store.RestoreFolderTree(ctx, u.ID, b.ID, metadata.RestoreOptions{Policy: metadata.ConflictSuffix})
		require.NoError(t, err)
		assert.Nil(t, restored.Root.ParentID)
		assert.Equal(t, "/B", restored.Root.Path)
		assert.Equal(t, "/B/Inner", folderPath(t, store, u.ID, inner.ID))

		file, err := store.RestoreFile(ctx, u.ID, f.ID, metadata.RestoreOptions{Policy: metadata.ConflictSuffix})
		require.NoError(t, err)
		assert.Nil(t, file.FolderID)
	})

	t.Run("RestoreFileRenamesOnCollision", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 0)
		f := createFile(t, store, u.ID, nil, "report.pdf", 3)
		_, err := store.DeleteFile(ctx, u.ID, f.ID, stamp())
		require.NoError(t, err)
		createFile(t, store, u.ID, nil, "report.pdf", 4)

		restored, err := store.RestoreFile(ctx, u.ID, f.ID, metadata.RestoreOptions{Policy: metadata.ConflictSuffix})
		require.NoError(t, err)
		assert.Equal(t, "report (restored).pdf", restored.Name)
		assert.Equal(t, int64(7), usage(t, store, u.ID))
	})

	t.Run("RestoreGoesThroughQuota", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 100)
		a := createFolder(t, store, u.ID, nil, "A")
		createFile(t, store, u.ID, &a.ID, "big", 80)
		_, err := store.DeleteFolderTree(ctx, u.ID, a.ID, stamp())
		require.NoError(t, err)
		createFile(t, store, u.ID, nil, "filler", 50)

		_, err = store.RestoreFolderTree(ctx, u.ID, a.ID, metadata.RestoreOptions{Policy: metadata.ConflictSuffix})
		assert.ErrorIs(t, err, metadata.ErrQuotaExceeded)
		_, err = store.GetFolder(ctx, u.ID, a.ID, metadata.Trashed)
		assert.NoError(t, err)
		assert.Equal(t, int64(50), usage(t, store, u.ID))
	})

	t.Run("MutatorsIgnoreTrashedItems", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 0)
		a := createFolder(t, store, u.ID, nil, "A")
		f := createFile(t, store, u.ID, nil, "f", 1)
		_, err := store.DeleteFolderTree(ctx, u.ID, a.ID, stamp())
		require.NoError(t, err)
		_, err = store.DeleteFile(ctx, u.ID, f.ID, stamp())
		require.NoError(t, err)

		_, err = store.RelocateFolder(ctx, u.ID, a.ID, nil, "B")
		assert.ErrorIs(t, err, metadata.ErrNotFound)
		_, err = store.RelocateFile(ctx, u.ID, f.ID, nil, "g")
		assert.ErrorIs(t, err, metadata.ErrNotFound)
		_, err = store.DeleteFolderTree(ctx, u.ID, a.ID, stamp())
		assert.ErrorIs(t, err, metadata.ErrNotFound)
	})

	t.Run("ListTrashNewestFirst", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 0)
		old := createFolder(t, store, u.ID, nil, "Old")
		recent := createFolder(t, store, u.ID, nil, "Recent")
		f := createFile(t, store, u.ID, nil, "f", 1)

		now := stamp()
		_, err := store.DeleteFolderTree(ctx, u.ID, old.ID, now.Add(-2*time.Hour))
		require.NoError(t, err)
		_, err = store.DeleteFolderTree(ctx, u.ID, recent.ID, now)
		require.NoError(t, err)
		_, err = store.DeleteFile(ctx, u.ID, f.ID, now)
		require.NoError(t, err)

		trash, err := store.ListTrash(ctx, u.ID)
		require.NoError(t, err)
		require.Len(t, trash.Folders, 2)
		assert.Equal(t, recent.ID, trash.Folders[0].ID)
		assert.Equal(t, old.ID, trash.Folders[1].ID)
		require.Len(t, trash.Files, 1)
	})

	t.Run("PurgeRemovesOldTrash", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 0)
		f := createFile(t, store, u.ID, nil, "old", 1)
		keep := createFile(t, store, u.ID, nil, "new", 1)
		now := stamp()
		_, err := store.DeleteFile(ctx, u.ID, f.ID, now.Add(-48*time.Hour))
		require.NoError(t, err)
		_, err = store.DeleteFile(ctx, u.ID, keep.ID, now)
		require.NoError(t, err)

		purgeable, err := store.ListPurgeableFiles(ctx, now.Add(-24*time.Hour), 10)
		require.NoError(t, err)
		require.Len(t, purgeable, 1)
		assert.Equal(t, f.ID, purgeable[0].ID)

		require.NoError(t, store.PurgeFile(ctx, f.ID))
		_, err = store.GetFile(ctx, u.ID, f.ID, metadata.AnyState)
		assert.ErrorIs(t, err, metadata.ErrNotFound)

		// Active files are never purged.
		active := createFile(t, store, u.ID, nil, "active", 1)
		assert.ErrorIs(t, store.PurgeFile(ctx, active.ID), metadata.ErrNotFound)
	})
}

// ============================================================================
// Shares
// ============================================================================

func (s *Suite) runShareTests(t *testing.T) {
	ctx := context.Background()

	t.Run("TripleIsUnique", func(t *testing.T) {
		store := s.NewStore(t)
		owner := createUser(t, store, 0)
		friend := createUser(t, store, 0)
		f := createFile(t, store, owner.ID, nil, "a", 1)

		share := &metadata.Share{
			ResourceID: f.ID, ResourceType: metadata.ResourceFile,
			OwnerID: owner.ID, SharedWithID: friend.ID, Permission: metadata.PermissionRead,
		}
		require.NoError(t, store.CreateShare(ctx, share))
		require.NotEmpty(t, share.ID)

		dup := *share
		dup.ID = ""
		assert.ErrorIs(t, store.CreateShare(ctx, &dup), metadata.ErrConflict)
	})

	t.Run("EffectiveSharesIncludeAncestors", func(t *testing.T) {
		store := s.NewStore(t)
		owner := createUser(t, store, 0)
		friend := createUser(t, store, 0)
		top := createFolder(t, store, owner.ID, nil, "Top")
		mid := createFolder(t, store, owner.ID, &top.ID, "Mid")
		lookalike := createFolder(t, store, owner.ID, nil, "Top2")
		f := createFile(t, store, owner.ID, &mid.ID, "a", 1)

		now := stamp()
		past := now.Add(-time.Minute)
		require.NoError(t, store.CreateShare(ctx, &metadata.Share{
			ResourceID: top.ID, ResourceType: metadata.ResourceFolder,
			OwnerID: owner.ID, SharedWithID: friend.ID, Permission: metadata.PermissionRead,
		}))
		require.NoError(t, store.CreateShare(ctx, &metadata.Share{
			ResourceID: f.ID, ResourceType: metadata.ResourceFile,
			OwnerID: owner.ID, SharedWithID: friend.ID, Permission: metadata.PermissionWrite,
			ExpiresAt: &past,
		}))
		require.NoError(t, store.CreateShare(ctx, &metadata.Share{
			ResourceID: lookalike.ID, ResourceType: metadata.ResourceFolder,
			OwnerID: owner.ID, SharedWithID: friend.ID, Permission: metadata.PermissionOwner,
		}))

		shares, err := store.EffectiveShares(ctx, f, friend.ID, now)
		require.NoError(t, err)
		require.Len(t, shares, 1)
		assert.Equal(t, top.ID, shares[0].ResourceID)

		stranger := createUser(t, store, 0)
		shares, err = store.EffectiveShares(ctx, f, stranger.ID, now)
		require.NoError(t, err)
		assert.Empty(t, shares)
	})

	t.Run("ListDeleteAndPurge", func(t *testing.T) {
		store := s.NewStore(t)
		owner := createUser(t, store, 0)
		friend := createUser(t, store, 0)
		a := createFile(t, store, owner.ID, nil, "a", 1)
		b := createFile(t, store, owner.ID, nil, "b", 1)

		now := stamp()
		past := now.Add(-time.Hour)
		live := &metadata.Share{
			ResourceID: a.ID, ResourceType: metadata.ResourceFile,
			OwnerID: owner.ID, SharedWithID: friend.ID, Permission: metadata.PermissionRead,
		}
		require.NoError(t, store.CreateShare(ctx, live))
		require.NoError(t, store.CreateShare(ctx, &metadata.Share{
			ResourceID: b.ID, ResourceType: metadata.ResourceFile,
			OwnerID: owner.ID, SharedWithID: friend.ID, Permission: metadata.PermissionRead,
			ExpiresAt: &past,
		}))

		shares, err := store.ListSharesWithUser(ctx, friend.ID, now)
		require.NoError(t, err)
		require.Len(t, shares, 1)
		assert.Equal(t, live.ID, shares[0].ID)

		n, err := store.PurgeExpiredShares(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = store.DeleteShare(ctx, friend.ID, live.ID)
		assert.ErrorIs(t, err, metadata.ErrNotFound)

		removed, err := store.DeleteShare(ctx, owner.ID, live.ID)
		require.NoError(t, err)
		assert.Equal(t, a.ID, removed.ResourceID)

		shares, err = store.ListSharesWithUser(ctx, friend.ID, now)
		require.NoError(t, err)
		assert.Empty(t, shares)
	})
}

// ============================================================================
// Audit
// ============================================================================

func (s *Suite) runAuditTests(t *testing.T) {
	ctx := context.Background()

	t.Run("AppendIsIdempotentOnEventKey", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 0)
		fileID := "file-1"

		rec := &metadata.AuditLog{
			UserID:     u.ID,
			ResourceID: &fileID,
			Details:    metadata.UploadDetails{FileName: "a.txt", Size: 3, MimeType: "text/plain", Version: 1},
			EventKey:   "upload:" + fileID,
		}
		appended, err := store.AppendAudit(ctx, rec)
		require.NoError(t, err)
		assert.True(t, appended)

		dup := *rec
		dup.ID = ""
		appended, err = store.AppendAudit(ctx, &dup)
		require.NoError(t, err)
		assert.False(t, appended)

		logs, err := store.ListAudit(ctx, u.ID, 10)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, metadata.ActionUpload, logs[0].Action())
		assert.Equal(t, rec.Details, logs[0].Details)
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		store := s.NewStore(t)
		u := createUser(t, store, 0)
		base := stamp()

		for i, name := range []string{"first", "second", "third"} {
			_, err := store.AppendAudit(ctx, &metadata.AuditLog{
				UserID:    u.ID,
				Details:   metadata.UpdateDetails{Op: metadata.OpCreate, ResourceType: metadata.ResourceFolder, Name: name},
				Timestamp: base.Add(time.Duration(i) * time.Second),
			})
			require.NoError(t, err)
		}

		logs, err := store.ListAudit(ctx, u.ID, 2)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, "third", logs[0].Details.(metadata.UpdateDetails).Name)
		assert.Equal(t, "second", logs[1].Details.(metadata.UpdateDetails).Name)
	})
}
