package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"vault/internal/server/metadata"
)

const fileColumns = `id, user_id, folder_id, name, size, mime_type, storage_key, version,
	processed_at, deleted_at, created_at, updated_at`

// fileSortColumns whitelists ORDER BY targets.
var fileSortColumns = map[metadata.SortField]string{
	metadata.SortByName:      "name",
	metadata.SortBySize:      "size",
	metadata.SortByCreatedAt: "created_at",
	metadata.SortByUpdatedAt: "updated_at",
}

func scanFile(row interface{ Scan(...any) error }) (*metadata.File, error) {
	f := &metadata.File{}
	err := row.Scan(
		&f.ID,
		&f.UserID,
		&f.FolderID,
		&f.Name,
		&f.Size,
		&f.MimeType,
		&f.StorageKey,
		&f.Version,
		&f.ProcessedAt,
		&f.DeletedAt,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
	return f, err
}

func collectFiles(rows pgx.Rows) ([]*metadata.File, error) {
	defer rows.Close()
	files := []*metadata.File{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (r *Repository) CreateFile(ctx context.Context, f *metadata.File) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	f.Version = 1
	f.CreatedAt = now
	f.UpdatedAt = now
	f.DeletedAt = nil
	f.ProcessedAt = nil

	err := r.runInTx(ctx, func(tx pgx.Tx) error {
		if f.FolderID != nil {
			if _, err := getFolder(ctx, tx, f.UserID, *f.FolderID, metadata.Active, " FOR SHARE"); err != nil {
				return err
			}
		}
		if err := reserveUsage(ctx, tx, f.UserID, f.Size); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO files (`+fileColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, NULL, $9, $10)
		`,
			f.ID,
			f.UserID,
			f.FolderID,
			f.Name,
			f.Size,
			f.MimeType,
			f.StorageKey,
			f.Version,
			f.CreatedAt,
			f.UpdatedAt,
		)
		return err
	})
	return mapErr(err, "create file")
}

func (r *Repository) GetFile(ctx context.Context, userID, id string, lookup metadata.Lookup) (*metadata.File, error) {
	f, err := getFile(ctx, r.db.Pool, userID, id, lookup, "")
	if err != nil {
		return nil, mapErr(err, "get file")
	}
	return f, nil
}

func (r *Repository) GetFileByID(ctx context.Context, id string) (*metadata.File, error) {
	f, err := scanFile(r.db.Pool.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = $1 AND deleted_at IS NULL`, id))
	if err != nil {
		return nil, mapErr(err, "get file")
	}
	return f, nil
}

func (r *Repository) ListFiles(ctx context.Context, userID string, folderID *string, opts metadata.ListOptions) (*metadata.FilePage, error) {
	column, ok := fileSortColumns[opts.Sort]
	if !ok {
		column = "name"
	}
	order := "ASC"
	if opts.Descending {
		order = "DESC"
	}
	var limit *int
	if opts.Limit > 0 {
		limit = &opts.Limit
	}

	page := &metadata.FilePage{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM files
		WHERE user_id = $1 AND folder_id IS NOT DISTINCT FROM $2 AND deleted_at IS NULL
	`, userID, folderID).Scan(&page.Total)
	if err != nil {
		return nil, mapErr(err, "count files")
	}

	rows, err := r.db.Pool.Query(ctx, fmt.Sprintf(`
		SELECT `+fileColumns+` FROM files
		WHERE user_id = $1 AND folder_id IS NOT DISTINCT FROM $2 AND deleted_at IS NULL
		ORDER BY %s %s, id
		LIMIT $3 OFFSET $4
	`, column, order), userID, folderID, limit, max(opts.Offset, 0))
	if err != nil {
		return nil, mapErr(err, "list files")
	}
	page.Files, err = collectFiles(rows)
	if err != nil {
		return nil, mapErr(err, "scan files")
	}
	return page, nil
}

func (r *Repository) FileNameTaken(ctx context.Context, userID string, folderID *string, name, excludeID string) (bool, error) {
	taken, err := fileNameTaken(ctx, r.db.Pool, userID, folderID, name, excludeID)
	if err != nil {
		return false, mapErr(err, "check file name")
	}
	return taken, nil
}

func (r *Repository) RelocateFile(ctx context.Context, userID, id string, folderID *string, name string) (*metadata.File, error) {
	var result *metadata.File
	err := r.runInTx(ctx, func(tx pgx.Tx) error {
		f, err := getFile(ctx, tx, userID, id, metadata.Active, " FOR UPDATE")
		if err != nil {
			return err
		}
		if folderID != nil {
			if _, err := getFolder(ctx, tx, userID, *folderID, metadata.Active, " FOR SHARE"); err != nil {
				return err
			}
		}
		if samePtr(f.FolderID, folderID) && f.Name == name {
			result = f
			return nil
		}

		f.FolderID = folderID
		f.Name = name
		f.UpdatedAt = time.Now().UTC()
		if _, err := tx.Exec(ctx, `
			UPDATE files SET folder_id = $2, name = $3, updated_at = $4 WHERE id = $1
		`, f.ID, f.FolderID, f.Name, f.UpdatedAt); err != nil {
			return err
		}
		result = f
		return nil
	})
	if err != nil {
		return nil, mapErr(err, "relocate file")
	}
	return result, nil
}

func (r *Repository) ReplaceFileContent(ctx context.Context, userID, id string, size int64, mimeType, storageKey string) (*metadata.File, error) {
	var result *metadata.File
	err := r.runInTx(ctx, func(tx pgx.Tx) error {
		f, err := getFile(ctx, tx, userID, id, metadata.Active, " FOR UPDATE")
		if err != nil {
			return err
		}
		if err := reserveUsage(ctx, tx, userID, size-f.Size); err != nil {
			return err
		}

		f.Size = size
		f.MimeType = mimeType
		f.StorageKey = storageKey
		f.Version++
		f.ProcessedAt = nil
		f.UpdatedAt = time.Now().UTC()
		if _, err := tx.Exec(ctx, `
			UPDATE files
			SET size = $2, mime_type = $3, storage_key = $4, version = $5, processed_at = NULL, updated_at = $6
			WHERE id = $1
		`, f.ID, f.Size, f.MimeType, f.StorageKey, f.Version, f.UpdatedAt); err != nil {
			return err
		}
		result = f
		return nil
	})
	if err != nil {
		return nil, mapErr(err, "replace file content")
	}
	return result, nil
}

func (r *Repository) DeleteFile(ctx context.Context, userID, id string, at time.Time) (*metadata.File, error) {
	stamp := at.UTC()
	var result *metadata.File
	err := r.runInTx(ctx, func(tx pgx.Tx) error {
		f, err := scanFile(tx.QueryRow(ctx, `
			UPDATE files SET deleted_at = $3, updated_at = $3
			WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
			RETURNING `+fileColumns,
			id, userID, stamp))
		if err != nil {
			return err
		}
		if f.Size > 0 {
			if _, _, err := adjustUsage(ctx, tx, userID, -f.Size); err != nil {
				return err
			}
		}
		result = f
		return nil
	})
	if err != nil {
		return nil, mapErr(err, "delete file")
	}
	return result, nil
}

func (r *Repository) RestoreFile(ctx context.Context, userID, id string, opts metadata.RestoreOptions) (*metadata.File, error) {
	var result *metadata.File
	err := r.runInTx(ctx, func(tx pgx.Tx) error {
		f, err := getFile(ctx, tx, userID, id, metadata.Trashed, " FOR UPDATE")
		if err != nil {
			return err
		}
		if f.FolderID != nil {
			if _, err := getFolder(ctx, tx, userID, *f.FolderID, metadata.Active, " FOR SHARE"); err != nil {
				if !isNoRows(err) {
					return err
				}
				f.FolderID = nil
			}
		}

		name, err := metadata.ResolveRestoreName(f.Name, true, opts, func(candidate string) (bool, error) {
			return fileNameTaken(ctx, tx, userID, f.FolderID, candidate, f.ID)
		})
		if err != nil {
			return err
		}
		if err := reserveUsage(ctx, tx, userID, f.Size); err != nil {
			return err
		}

		f.Name = name
		f.DeletedAt = nil
		f.UpdatedAt = time.Now().UTC()
		if _, err := tx.Exec(ctx, `
			UPDATE files SET folder_id = $2, name = $3, deleted_at = NULL, updated_at = $4 WHERE id = $1
		`, f.ID, f.FolderID, f.Name, f.UpdatedAt); err != nil {
			return err
		}
		result = f
		return nil
	})
	if err != nil {
		return nil, mapErr(err, "restore file")
	}
	return result, nil
}

func (r *Repository) MarkFileProcessed(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE files SET processed_at = $2 WHERE id = $1 AND processed_at IS NULL`,
		id, at.UTC())
	if err != nil {
		return false, mapErr(err, "mark file processed")
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM files WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, mapErr(err, "mark file processed")
	}
	if !exists {
		return false, metadata.ErrNotFound
	}
	return false, nil
}

func (r *Repository) ListPurgeableFiles(ctx context.Context, deletedBefore time.Time, limit int) ([]*metadata.File, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE deleted_at IS NOT NULL AND deleted_at < $1
		ORDER BY deleted_at
		LIMIT $2
	`, deletedBefore, lim)
	if err != nil {
		return nil, mapErr(err, "list purgeable files")
	}
	files, err := collectFiles(rows)
	if err != nil {
		return nil, mapErr(err, "scan purgeable files")
	}
	return files, nil
}

func (r *Repository) PurgeFile(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM files WHERE id = $1 AND deleted_at IS NOT NULL`, id)
	if err != nil {
		return mapErr(err, "purge file")
	}
	if tag.RowsAffected() == 0 {
		return metadata.ErrNotFound
	}
	return nil
}

func getFile(ctx context.Context, q DBTX, userID, id string, lookup metadata.Lookup, lock string) (*metadata.File, error) {
	return scanFile(q.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = $1 AND user_id = $2`+lookupSQL(lookup)+lock,
		id, userID))
}

func fileNameTaken(ctx context.Context, q DBTX, userID string, folderID *string, name, excludeID string) (bool, error) {
	var taken bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM files
			WHERE user_id = $1 AND folder_id IS NOT DISTINCT FROM $2 AND name = $3
			  AND id <> $4 AND deleted_at IS NULL
		)
	`, userID, folderID, name, excludeID).Scan(&taken)
	return taken, err
}

func sortCascade(c *metadata.Cascade) {
	sort.Strings(c.FolderIDs)
	sort.Strings(c.FileIDs)
}
