package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileSystemStore_Save(t *testing.T) {
	ctx := context.Background()

	t.Run("saves blob to disk", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		data := bytes.NewReader([]byte("test content"))
		n, err := store.Save(ctx, "ab/abc123", data)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if n != 12 {
			t.Errorf("expected 12 bytes written, got %d", n)
		}

		// Verify file exists on disk
		content, err := os.ReadFile(filepath.Join(dir, "ab", "abc123"))
		if err != nil {
			t.Fatalf("failed to read saved file: %v", err)
		}
		if string(content) != "test content" {
			t.Errorf("expected 'test content', got %q", content)
		}
	})

	t.Run("saves large content", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		largeContent := strings.Repeat("x", 1024*1024) // 1MB
		data := bytes.NewReader([]byte(largeContent))
		n, err := store.Save(ctx, "large", data)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if n != int64(len(largeContent)) {
			t.Errorf("expected %d bytes, got %d", len(largeContent), n)
		}
	})

	t.Run("rejects keys escaping the base path", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		for _, key := range []string{"", "..", "../outside", "a/../../outside", "/etc/passwd"} {
			if _, err := store.Save(ctx, key, strings.NewReader("x")); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("key %q: expected ErrInvalidKey, got %v", key, err)
			}
		}
	})
}

func TestFileSystemStore_Open(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileSystemStore(dir)

	if _, err := store.Save(ctx, "blob", strings.NewReader("payload")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rc, err := store.Open(ctx, "blob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("failed to read blob: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("expected 'payload', got %q", got)
	}

	if _, err := store.Open(ctx, "missing"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestFileSystemStore_GetPath(t *testing.T) {
	t.Run("returns path for existing blob", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		// Create the file first
		filePath := filepath.Join(dir, "test123")
		os.WriteFile(filePath, []byte("data"), 0644)

		path, err := store.GetPath("test123")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if path != filePath {
			t.Errorf("expected %s, got %s", filePath, path)
		}
	})

	t.Run("returns error for missing blob", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		_, err := store.GetPath("nonexistent")
		if !errors.Is(err, ErrBlobNotFound) {
			t.Errorf("expected ErrBlobNotFound, got %v", err)
		}
	})
}

func TestFileSystemStore_Exists(t *testing.T) {
	ctx := context.Background()
	store := NewFileSystemStore(t.TempDir())

	ok, err := store.Exists(ctx, "k")
	if err != nil || ok {
		t.Fatalf("expected missing blob, got ok=%v err=%v", ok, err)
	}

	store.Save(ctx, "k", strings.NewReader("x"))

	ok, err = store.Exists(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("expected stored blob, got ok=%v err=%v", ok, err)
	}
}

func TestFileSystemStore_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes existing blob", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		// Create the file
		filePath := filepath.Join(dir, "del123")
		os.WriteFile(filePath, []byte("data"), 0644)

		if err := store.Delete(ctx, "del123"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		// Verify file is gone
		if _, err := os.Stat(filePath); !os.IsNotExist(err) {
			t.Error("expected file to be deleted")
		}
	})

	t.Run("no error for missing blob", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		if err := store.Delete(ctx, "nonexistent"); err != nil {
			t.Errorf("expected no error for missing file, got: %v", err)
		}
	})
}

func TestFileSystemStore_EnsureDir(t *testing.T) {
	t.Run("creates directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "storage", "path")
		store := NewFileSystemStore(dir)

		if err := store.EnsureDir(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Error("expected a directory")
		}
	})

	t.Run("succeeds if directory exists", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		if err := store.EnsureDir(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
