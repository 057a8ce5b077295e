package core

import (
	"archive/zip"
	"fmt"
	"io"
	"time"
)

// ArchiveEntry is one file placed in a zip archive.
type ArchiveEntry struct {
	// Name is the slash-separated path inside the archive.
	Name     string
	Size     int64
	Modified time.Time
	// Open is called once, when the entry's content is written.
	Open func() (io.ReadCloser, error)
}

// WriteZip streams dirs and entries into a zip archive on w. Directory names
// get a trailing slash so empty folders survive extraction.
func WriteZip(w io.Writer, dirs []string, entries []ArchiveEntry) error {
	zw := zip.NewWriter(w)

	for _, dir := range dirs {
		if _, err := zw.CreateHeader(&zip.FileHeader{Name: dir + "/", Method: zip.Store}); err != nil {
			zw.Close()
			return fmt.Errorf("failed to create zip directory %s: %w", dir, err)
		}
	}
	for _, e := range entries {
		if err := addEntryToZip(zw, e); err != nil {
			zw.Close()
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to close zip writer: %w", err)
	}
	return nil
}

func addEntryToZip(zw *zip.Writer, e ArchiveEntry) error {
	src, err := e.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", e.Name, err)
	}
	defer src.Close()

	header := &zip.FileHeader{
		Name:     e.Name,
		Method:   zip.Deflate,
		Modified: e.Modified,
	}
	header.UncompressedSize64 = uint64(max(e.Size, 0))

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create zip entry: %w", err)
	}

	if _, err := io.Copy(writer, src); err != nil {
		return fmt.Errorf("failed to write %s to zip: %w", e.Name, err)
	}

	return nil
}

// UncompressedSize sums the declared sizes of entries.
func UncompressedSize(entries []ArchiveEntry) int64 {
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	return total
}
