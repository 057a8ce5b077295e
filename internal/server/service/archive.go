package service

import (
	"context"
	"fmt"
	"io"
	"strings"

	"vault/internal/core"
	"vault/internal/server/metadata"
)

// FolderArchive is the content of an active folder subtree, ready to be
// written with core.WriteZip. Paths inside start with the folder's name.
type FolderArchive struct {
	Name    string
	Dirs    []string
	Entries []core.ArchiveEntry
}

// Size is the total uncompressed size of the archive's files.
func (a *FolderArchive) Size() int64 {
	return core.UncompressedSize(a.Entries)
}

// ArchiveFolder collects the active folders and files beneath a folder the
// caller owns. Blob content is opened lazily as the archive is written.
func (s *FileService) ArchiveFolder(ctx context.Context, userID, folderID string) (*FolderArchive, error) {
	if s.blobs == nil {
		return nil, fmt.Errorf("%w: archives need a blob store", ErrValidation)
	}
	root, err := s.store.GetFolder(ctx, userID, folderID, metadata.Active)
	if err != nil {
		return nil, storeErr(err, "folder")
	}

	a := &FolderArchive{Name: root.Name}
	if err := s.collect(ctx, userID, root, root, a); err != nil {
		return nil, err
	}

	s.audit.record(ctx, userID, &root.ID, metadata.DownloadDetails{
		FileName: root.Name + ".zip",
		Via:      "owner",
	}, "")
	s.logger.Info("folder archived", "folder_id", root.ID, "files", len(a.Entries), "bytes", a.Size())
	return a, nil
}

func (s *FileService) collect(ctx context.Context, userID string, root, dir *metadata.Folder, a *FolderArchive) error {
	prefix := root.Name + strings.TrimPrefix(dir.Path, root.Path)
	a.Dirs = append(a.Dirs, prefix)

	for offset := 0; ; offset += maxPageLimit {
		page, err := s.store.ListFiles(ctx, userID, &dir.ID, metadata.ListOptions{
			Sort:   metadata.SortByName,
			Limit:  maxPageLimit,
			Offset: offset,
		})
		if err != nil {
			return storeErr(err, "file")
		}
		for _, f := range page.Files {
			key := f.StorageKey
			a.Entries = append(a.Entries, core.ArchiveEntry{
				Name:     prefix + "/" + f.Name,
				Size:     f.Size,
				Modified: f.UpdatedAt,
				Open: func() (io.ReadCloser, error) {
					return s.blobs.Open(ctx, key)
				},
			})
		}
		if len(page.Files) < maxPageLimit {
			break
		}
	}

	children, err := s.store.ListFolders(ctx, userID, &dir.ID)
	if err != nil {
		return storeErr(err, "folder")
	}
	for _, child := range children {
		if err := s.collect(ctx, userID, root, child, a); err != nil {
			return err
		}
	}
	return nil
}
