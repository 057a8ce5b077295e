package api

import (
	"time"

	"vault/internal/server/metadata"
	"vault/internal/server/service"
)

type folderView struct {
	ID        string     `json:"id"`
	ParentID  *string    `json:"parent_id"`
	Name      string     `json:"name"`
	Path      string     `json:"path"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func newFolderView(f *metadata.Folder) folderView {
	return folderView{
		ID:        f.ID,
		ParentID:  f.ParentID,
		Name:      f.Name,
		Path:      f.Path,
		DeletedAt: f.DeletedAt,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}

func newFolderViews(folders []*metadata.Folder) []folderView {
	out := make([]folderView, 0, len(folders))
	for _, f := range folders {
		out = append(out, newFolderView(f))
	}
	return out
}

type fileView struct {
	ID        string     `json:"id"`
	FolderID  *string    `json:"folder_id"`
	Name      string     `json:"name"`
	Size      int64      `json:"size"`
	MimeType  string     `json:"mime_type"`
	Version   int        `json:"version"`
	Processed bool       `json:"processed"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func newFileView(f *metadata.File) fileView {
	return fileView{
		ID:        f.ID,
		FolderID:  f.FolderID,
		Name:      f.Name,
		Size:      f.Size,
		MimeType:  f.MimeType,
		Version:   f.Version,
		Processed: f.ProcessedAt != nil,
		DeletedAt: f.DeletedAt,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}

func newFileViews(files []*metadata.File) []fileView {
	out := make([]fileView, 0, len(files))
	for _, f := range files {
		out = append(out, newFileView(f))
	}
	return out
}

type contentsView struct {
	Folder  *folderView  `json:"folder"`
	Folders []folderView `json:"folders"`
	Files   []fileView   `json:"files"`
	Total   int          `json:"total"`
	Page    int          `json:"page"`
	Limit   int          `json:"limit"`
}

func newContentsView(c *service.Contents) contentsView {
	v := contentsView{
		Folders: newFolderViews(c.Folders),
		Files:   newFileViews(c.Files),
		Total:   c.Total,
		Page:    c.Page,
		Limit:   c.Limit,
	}
	if c.Folder != nil {
		f := newFolderView(c.Folder)
		v.Folder = &f
	}
	return v
}

type cascadeView struct {
	Folder    folderView `json:"folder"`
	FolderIDs []string   `json:"folder_ids"`
	FileIDs   []string   `json:"file_ids"`
	Bytes     int64      `json:"bytes"`
}

func newCascadeView(c *metadata.Cascade) cascadeView {
	return cascadeView{
		Folder:    newFolderView(c.Root),
		FolderIDs: c.FolderIDs,
		FileIDs:   c.FileIDs,
		Bytes:     c.Bytes,
	}
}

type trashView struct {
	Folders []folderView `json:"folders"`
	Files   []fileView   `json:"files"`
}

type shareView struct {
	ID           string                `json:"id"`
	ResourceID   string                `json:"resource_id"`
	ResourceType metadata.ResourceType `json:"resource_type"`
	OwnerID      string                `json:"owner_id"`
	SharedWithID string                `json:"shared_with_id"`
	Permission   metadata.Permission   `json:"permission"`
	ExpiresAt    *time.Time            `json:"expires_at,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
}

func newShareView(s *metadata.Share) shareView {
	return shareView{
		ID:           s.ID,
		ResourceID:   s.ResourceID,
		ResourceType: s.ResourceType,
		OwnerID:      s.OwnerID,
		SharedWithID: s.SharedWithID,
		Permission:   s.Permission,
		ExpiresAt:    s.ExpiresAt,
		CreatedAt:    s.CreatedAt,
	}
}

type userView struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	StorageUsed  int64     `json:"storage_used"`
	StorageQuota int64     `json:"storage_quota"`
	CreatedAt    time.Time `json:"created_at"`
}

func newUserView(u *metadata.User) userView {
	return userView{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		StorageUsed:  u.StorageUsed,
		StorageQuota: u.StorageQuota,
		CreatedAt:    u.CreatedAt,
	}
}
