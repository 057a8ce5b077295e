package service

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault/internal/core"
	"vault/internal/server/metadata"
	"vault/internal/server/storage"
)

func TestArchiveFolder(t *testing.T) {
	h := newHarness(t, defaultRestore)
	ctx := context.Background()
	blobs := storage.NewFileSystemStore(t.TempDir())
	files := NewFileService(h.store, h.tracker, h.dispatcher, nil, blobs, FileOptions{}, nil)
	u := h.user(t, 1<<20, 0)

	put := func(folderID *string, name, content string) {
		t.Helper()
		key := u.ID + "/" + name
		_, err := blobs.Save(ctx, key, strings.NewReader(content))
		require.NoError(t, err)
		_, err = files.FinalizeUpload(ctx, FinalizeUploadInput{
			UserID: u.ID, FolderID: folderID, Name: name,
			Size: int64(len(content)), MimeType: "text/plain", StorageKey: key,
		})
		require.NoError(t, err)
	}

	docs := h.mkdir(t, u.ID, nil, "Docs")
	sub := h.mkdir(t, u.ID, &docs.ID, "Sub")
	h.mkdir(t, u.ID, &docs.ID, "Empty")
	gone := h.mkdir(t, u.ID, &docs.ID, "Gone")
	put(&docs.ID, "a.txt", "alpha")
	put(&sub.ID, "b.txt", "beta")
	put(nil, "outside.txt", "root")
	_, err := h.folders.Delete(ctx, u.ID, gone.ID)
	require.NoError(t, err)

	a, err := files.ArchiveFolder(ctx, u.ID, docs.ID)
	require.NoError(t, err)
	assert.Equal(t, "Docs", a.Name)
	assert.ElementsMatch(t, []string{"Docs", "Docs/Empty", "Docs/Sub"}, a.Dirs)
	assert.EqualValues(t, len("alpha")+len("beta"), a.Size())

	var names []string
	for _, e := range a.Entries {
		names = append(names, e.Name)
	}
	assert.ElementsMatch(t, []string{"Docs/a.txt", "Docs/Sub/b.txt"}, names)

	var buf bytes.Buffer
	require.NoError(t, core.WriteZip(&buf, a.Dirs, a.Entries))
	assert.NotZero(t, buf.Len())

	assert.Contains(t, h.auditActions(t, u.ID), metadata.ActionDownload)
}

func TestArchiveFolderNotOwned(t *testing.T) {
	h := newHarness(t, defaultRestore)
	files := NewFileService(h.store, h.tracker, h.dispatcher, nil, storage.NewFileSystemStore(t.TempDir()), FileOptions{}, nil)
	owner := h.user(t, 1<<20, 0)
	other := h.user(t, 1<<20, 0)
	f := h.mkdir(t, owner.ID, nil, "Private")

	_, err := files.ArchiveFolder(context.Background(), other.ID, f.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchiveFolderWithoutBlobStore(t *testing.T) {
	h := newHarness(t, defaultRestore)
	u := h.user(t, 1<<20, 0)
	f := h.mkdir(t, u.ID, nil, "Docs")

	_, err := h.files.ArchiveFolder(context.Background(), u.ID, f.ID)
	assert.ErrorIs(t, err, ErrValidation)
}
