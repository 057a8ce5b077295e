package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrBlobNotFound is returned when no content exists under a key.
	ErrBlobNotFound = errors.New("blob not found")
	// ErrInvalidKey rejects keys that would escape the store.
	ErrInvalidKey = errors.New("invalid storage key")
)

// Store is the blob store collaborator. Content is addressed by an opaque
// storage key; the metadata engine never looks inside it.
type Store interface {
	Save(ctx context.Context, key string, data io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// FileSystemStore stores blobs on the local filesystem.
type FileSystemStore struct {
	basePath string
}

var _ Store = (*FileSystemStore)(nil)

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: basePath}
}

// EnsureDir creates the storage directory if it doesn't exist.
func (fs *FileSystemStore) EnsureDir() error {
	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Save writes data under key and returns the number of bytes written.
func (fs *FileSystemStore) Save(_ context.Context, key string, data io.Reader) (int64, error) {
	filePath, err := fs.filePath(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to create file %s: %w", filePath, err)
	}
	defer file.Close()

	n, err := io.Copy(file, data)
	if err != nil {
		// Clean up partial file on error
		os.Remove(filePath)
		return 0, fmt.Errorf("failed to write file: %w", err)
	}

	return n, nil
}

// Open returns a reader over the blob stored under key.
func (fs *FileSystemStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	filePath, err := fs.filePath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", key, ErrBlobNotFound)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// GetPath returns the absolute path of a stored blob.
// Returns ErrBlobNotFound if the file does not exist.
func (fs *FileSystemStore) GetPath(key string) (string, error) {
	filePath, err := fs.filePath(key)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(filePath); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s: %w", key, ErrBlobNotFound)
		}
		return "", fmt.Errorf("failed to stat file: %w", err)
	}

	return filePath, nil
}

// Exists reports whether a blob is stored under key.
func (fs *FileSystemStore) Exists(_ context.Context, key string) (bool, error) {
	_, err := fs.GetPath(key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrBlobNotFound):
		return false, nil
	}
	return false, err
}

// Delete removes a stored blob. Deleting a missing blob is not an error.
func (fs *FileSystemStore) Delete(_ context.Context, key string) error {
	filePath, err := fs.filePath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file %s: %w", filePath, err)
	}
	return nil
}

// filePath maps key into basePath, refusing anything that resolves outside it.
func (fs *FileSystemStore) filePath(key string) (string, error) {
	if key == "" || strings.ContainsRune(key, 0) || filepath.IsAbs(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(fs.basePath, clean), nil
}
