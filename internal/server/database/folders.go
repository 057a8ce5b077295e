package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"vault/internal/core"
	"vault/internal/server/metadata"
)

const folderColumns = `id, user_id, parent_id, name, path, deleted_at, created_at, updated_at`

func scanFolder(row interface{ Scan(...any) error }) (*metadata.Folder, error) {
	f := &metadata.Folder{}
	err := row.Scan(
		&f.ID,
		&f.UserID,
		&f.ParentID,
		&f.Name,
		&f.Path,
		&f.DeletedAt,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
	return f, err
}

func collectFolders(rows pgx.Rows) ([]*metadata.Folder, error) {
	defer rows.Close()
	folders := []*metadata.Folder{}
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// lookupSQL renders a Lookup as a deleted_at predicate.
func lookupSQL(l metadata.Lookup) string {
	switch l {
	case metadata.Active:
		return " AND deleted_at IS NULL"
	case metadata.Trashed:
		return " AND deleted_at IS NOT NULL"
	}
	return ""
}

func (r *Repository) CreateFolder(ctx context.Context, f *metadata.Folder) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now
	f.DeletedAt = nil

	err := r.runInTx(ctx, func(tx pgx.Tx) error {
		parentPath := ""
		if f.ParentID != nil {
			parent, err := lockFolderChain(ctx, tx, f.UserID, *f.ParentID)
			if err != nil {
				return err
			}
			parentPath = parent.Path
		}
		f.Path = core.ComputePath(f.Name, parentPath)

		_, err := tx.Exec(ctx, `
			INSERT INTO folders (`+folderColumns+`)
			VALUES ($1, $2, $3, $4, $5, NULL, $6, $7)
		`, f.ID, f.UserID, f.ParentID, f.Name, f.Path, f.CreatedAt, f.UpdatedAt)
		return err
	})
	return mapErr(err, "create folder")
}

func (r *Repository) GetFolder(ctx context.Context, userID, id string, lookup metadata.Lookup) (*metadata.Folder, error) {
	f, err := getFolder(ctx, r.db.Pool, userID, id, lookup, "")
	if err != nil {
		return nil, mapErr(err, "get folder")
	}
	return f, nil
}

func (r *Repository) ListFolders(ctx context.Context, userID string, parentID *string) ([]*metadata.Folder, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+folderColumns+` FROM folders
		WHERE user_id = $1 AND parent_id IS NOT DISTINCT FROM $2 AND deleted_at IS NULL
		ORDER BY name, id
	`, userID, parentID)
	if err != nil {
		return nil, mapErr(err, "list folders")
	}
	folders, err := collectFolders(rows)
	if err != nil {
		return nil, mapErr(err, "scan folders")
	}
	return folders, nil
}

func (r *Repository) FolderNameTaken(ctx context.Context, userID string, parentID *string, name, excludeID string) (bool, error) {
	taken, err := folderNameTaken(ctx, r.db.Pool, userID, parentID, name, excludeID)
	if err != nil {
		return false, mapErr(err, "check folder name")
	}
	return taken, nil
}

func (r *Repository) RelocateFolder(ctx context.Context, userID, id string, parentID *string, name string) (*metadata.Folder, error) {
	var result *metadata.Folder
	err := r.runInTx(ctx, func(tx pgx.Tx) error {
		f, err := getFolder(ctx, tx, userID, id, metadata.Active, " FOR UPDATE")
		if err != nil {
			return err
		}

		parentPath := ""
		if parentID != nil {
			if *parentID == f.ID {
				return metadata.ErrInvalidMove
			}
			parent, err := lockFolderChain(ctx, tx, userID, *parentID)
			if err != nil {
				return err
			}
			if core.IsDescendantPath(parent.Path, f.Path) {
				return metadata.ErrInvalidMove
			}
			parentPath = parent.Path
		}

		if samePtr(f.ParentID, parentID) && f.Name == name {
			result = f
			return nil
		}

		now := time.Now().UTC()
		oldPath := f.Path
		f.ParentID = parentID
		f.Name = name
		f.Path = core.ComputePath(name, parentPath)
		f.UpdatedAt = now

		if _, err := tx.Exec(ctx, `
			UPDATE folders SET parent_id = $2, name = $3, path = $4, updated_at = $5 WHERE id = $1
		`, f.ID, f.ParentID, f.Name, f.Path, now); err != nil {
			return err
		}

		entries, err := subtreeEntries(ctx, tx, f.ID, nil)
		if err != nil {
			return err
		}
		if err := rewritePaths(ctx, tx, core.PropagatePathRename(oldPath, f.Path, entries), now); err != nil {
			return err
		}
		result = f
		return nil
	})
	if err != nil {
		return nil, mapErr(err, "relocate folder")
	}
	return result, nil
}

func (r *Repository) DeleteFolderTree(ctx context.Context, userID, id string, at time.Time) (*metadata.Cascade, error) {
	stamp := at.UTC()
	cascade := &metadata.Cascade{}
	err := r.runInTx(ctx, func(tx pgx.Tx) error {
		root, err := getFolder(ctx, tx, userID, id, metadata.Active, " FOR UPDATE")
		if err != nil {
			return err
		}

		rows, err := tx.Query(ctx, `
			UPDATE folders SET deleted_at = $3, updated_at = $3
			WHERE user_id = $1 AND deleted_at IS NULL
			  AND (path = $2 OR starts_with(path, $2 || '/'))
			RETURNING id
		`, userID, root.Path, stamp)
		if err != nil {
			return err
		}
		folderIDs, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}

		rows, err = tx.Query(ctx, `
			UPDATE files SET deleted_at = $3, updated_at = $3
			WHERE user_id = $1 AND deleted_at IS NULL AND folder_id = ANY($2)
			RETURNING id, size
		`, userID, folderIDs, stamp)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				fileID string
				size   int64
			)
			if err := rows.Scan(&fileID, &size); err != nil {
				return err
			}
			cascade.FileIDs = append(cascade.FileIDs, fileID)
			cascade.Bytes += size
		}
		if err := rows.Err(); err != nil {
			return err
		}

		if cascade.Bytes > 0 {
			if _, _, err := adjustUsage(ctx, tx, userID, -cascade.Bytes); err != nil {
				return err
			}
		}

		root.DeletedAt = &stamp
		root.UpdatedAt = stamp
		cascade.Root = root
		cascade.FolderIDs = folderIDs
		return nil
	})
	if err != nil {
		return nil, mapErr(err, "delete folder tree")
	}
	sortCascade(cascade)
	return cascade, nil
}

func (r *Repository) RestoreFolderTree(ctx context.Context, userID, id string, opts metadata.RestoreOptions) (*metadata.Cascade, error) {
	cascade := &metadata.Cascade{}
	err := r.runInTx(ctx, func(tx pgx.Tx) error {
		root, err := getFolder(ctx, tx, userID, id, metadata.Trashed, " FOR UPDATE")
		if err != nil {
			return err
		}
		stamp := *root.DeletedAt

		// Re-parent to the root when the original parent is gone.
		parentPath := ""
		if root.ParentID != nil {
			parent, err := lockFolderChain(ctx, tx, userID, *root.ParentID)
			switch {
			case err == nil:
				parentPath = parent.Path
			case isNoRows(err):
				root.ParentID = nil
			default:
				return err
			}
		}

		name, err := metadata.ResolveRestoreName(root.Name, false, opts, func(candidate string) (bool, error) {
			return folderNameTaken(ctx, tx, userID, root.ParentID, candidate, root.ID)
		})
		if err != nil {
			return err
		}

		members, err := subtreeEntries(ctx, tx, root.ID, &stamp)
		if err != nil {
			return err
		}
		folderIDs := []string{root.ID}
		for _, e := range members {
			folderIDs = append(folderIDs, e.ID)
		}
		// Folders trashed before this cascade still hang below root, so
		// their paths follow it even though they stay in the trash.
		subtree, err := subtreeEntries(ctx, tx, root.ID, nil)
		if err != nil {
			return err
		}

		rows, err := tx.Query(ctx, `
			SELECT id, size FROM files
			WHERE user_id = $1 AND folder_id = ANY($2) AND deleted_at = $3
			FOR UPDATE
		`, userID, folderIDs, stamp)
		if err != nil {
			return err
		}
		for rows.Next() {
			var (
				fileID string
				size   int64
			)
			if err := rows.Scan(&fileID, &size); err != nil {
				rows.Close()
				return err
			}
			cascade.FileIDs = append(cascade.FileIDs, fileID)
			cascade.Bytes += size
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if cascade.Bytes > 0 {
			if err := reserveUsage(ctx, tx, userID, cascade.Bytes); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		oldPath := root.Path
		root.Name = name
		root.Path = core.ComputePath(name, parentPath)
		root.DeletedAt = nil
		root.UpdatedAt = now

		if _, err := tx.Exec(ctx, `
			UPDATE folders SET parent_id = $2, name = $3, path = $4, deleted_at = NULL, updated_at = $5
			WHERE id = $1
		`, root.ID, root.ParentID, root.Name, root.Path, now); err != nil {
			return err
		}
		if err := rewritePaths(ctx, tx, core.PropagatePathRename(oldPath, root.Path, subtree), now); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE folders SET deleted_at = NULL, updated_at = $2 WHERE id = ANY($1)
		`, folderIDs[1:], now); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE files SET deleted_at = NULL, updated_at = $2 WHERE id = ANY($1)
		`, cascade.FileIDs, now); err != nil {
			return err
		}

		cascade.Root = root
		cascade.FolderIDs = folderIDs
		return nil
	})
	if err != nil {
		return nil, mapErr(err, "restore folder tree")
	}
	sortCascade(cascade)
	return cascade, nil
}

func (r *Repository) ListTrash(ctx context.Context, userID string) (*metadata.Trash, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+folderColumns+` FROM folders
		WHERE user_id = $1 AND deleted_at IS NOT NULL
		ORDER BY deleted_at DESC, path
	`, userID)
	if err != nil {
		return nil, mapErr(err, "list trashed folders")
	}
	folders, err := collectFolders(rows)
	if err != nil {
		return nil, mapErr(err, "scan trashed folders")
	}

	rows, err = r.db.Pool.Query(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE user_id = $1 AND deleted_at IS NOT NULL
		ORDER BY deleted_at DESC, name
	`, userID)
	if err != nil {
		return nil, mapErr(err, "list trashed files")
	}
	files, err := collectFiles(rows)
	if err != nil {
		return nil, mapErr(err, "scan trashed files")
	}
	return &metadata.Trash{Folders: folders, Files: files}, nil
}

func getFolder(ctx context.Context, q DBTX, userID, id string, lookup metadata.Lookup, lock string) (*metadata.Folder, error) {
	return scanFolder(q.QueryRow(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE id = $1 AND user_id = $2`+lookupSQL(lookup)+lock,
		id, userID))
}

// lockFolderChain share-locks an active folder and every ancestor, so no
// concurrent relocate or delete can change the path the caller builds on.
// Returns pgx.ErrNoRows when the folder is missing, trashed or foreign.
func lockFolderChain(ctx context.Context, tx pgx.Tx, userID, id string) (*metadata.Folder, error) {
	if _, err := tx.Exec(ctx, `
		WITH RECURSIVE chain AS (
			SELECT id, parent_id FROM folders WHERE id = $1 AND user_id = $2
			UNION ALL
			SELECT p.id, p.parent_id FROM folders p JOIN chain c ON p.id = c.parent_id
		)
		SELECT 1 FROM folders WHERE id IN (SELECT id FROM chain) FOR SHARE OF folders
	`, id, userID); err != nil {
		return nil, err
	}
	return getFolder(ctx, tx, userID, id, metadata.Active, "")
}

func folderNameTaken(ctx context.Context, q DBTX, userID string, parentID *string, name, excludeID string) (bool, error) {
	var taken bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM folders
			WHERE user_id = $1 AND parent_id IS NOT DISTINCT FROM $2 AND name = $3
			  AND id <> $4 AND deleted_at IS NULL
		)
	`, userID, parentID, name, excludeID).Scan(&taken)
	return taken, err
}

// subtreeEntries walks the parent chain below rootID. With deletedAt set the
// walk only follows folders carrying that exact stamp.
func subtreeEntries(ctx context.Context, q DBTX, rootID string, deletedAt *time.Time) ([]core.PathEntry, error) {
	rows, err := q.Query(ctx, `
		WITH RECURSIVE tree AS (
			SELECT id, path FROM folders
			WHERE parent_id = $1 AND ($2::timestamptz IS NULL OR deleted_at = $2)
			UNION ALL
			SELECT c.id, c.path FROM folders c JOIN tree t ON c.parent_id = t.id
			WHERE $2::timestamptz IS NULL OR c.deleted_at = $2
		)
		SELECT id, path FROM tree
	`, rootID, deletedAt)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.PathEntry, error) {
		var e core.PathEntry
		err := row.Scan(&e.ID, &e.Path)
		return e, err
	})
}

func rewritePaths(ctx context.Context, tx pgx.Tx, updates []core.PathEntry, at time.Time) error {
	if len(updates) == 0 {
		return nil
	}
	ids := make([]string, len(updates))
	paths := make([]string, len(updates))
	for i, u := range updates {
		ids[i] = u.ID
		paths[i] = u.Path
	}
	_, err := tx.Exec(ctx, `
		UPDATE folders f SET path = u.path, updated_at = $3
		FROM unnest($1::text[], $2::text[]) AS u(id, path)
		WHERE f.id = u.id
	`, ids, paths, at)
	return err
}

func samePtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
