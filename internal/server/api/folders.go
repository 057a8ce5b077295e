package api

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"vault/internal/core"
	"vault/internal/server/metadata"
	"vault/internal/server/service"
	"vault/internal/server/storage"
)

type createFolderRequest struct {
	Name     string  `json:"name"`
	ParentID *string `json:"parent_id"`
}

type renameRequest struct {
	Name string `json:"name"`
}

type moveFolderRequest struct {
	ParentID *string `json:"parent_id"`
}

// HandleCreateFolder handles POST /api/folders.
func (h *Handler) HandleCreateFolder(c echo.Context) error {
	var req createFolderRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	f, err := h.folders.Create(c.Request().Context(), currentUser(c), req.Name, emptyToNil(req.ParentID))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, newFolderView(f))
}

// HandleGetFolder handles GET /api/folders/:id.
func (h *Handler) HandleGetFolder(c echo.Context) error {
	f, err := h.folders.Get(c.Request().Context(), currentUser(c), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, newFolderView(f))
}

// HandleContents handles GET /api/contents?folder_id=&sort=&order=&page=&limit=.
// Without folder_id it lists the root.
func (h *Handler) HandleContents(c echo.Context) error {
	var (
		q        service.ContentsQuery
		sort     string
		folderID string
	)
	err := echo.QueryParamsBinder(c).
		String("folder_id", &folderID).
		String("sort", &sort).
		String("order", &q.Order).
		Int("page", &q.Page).
		Int("limit", &q.Limit).
		BindError()
	if err != nil {
		return badRequest(c, "page and limit must be integers")
	}
	q.Sort = metadata.SortField(sort)

	contents, err := h.folders.GetContents(c.Request().Context(), currentUser(c), optionalID(folderID), q)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, newContentsView(contents))
}

// HandleRenameFolder handles PATCH /api/folders/:id.
func (h *Handler) HandleRenameFolder(c echo.Context) error {
	var req renameRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	f, err := h.folders.Rename(c.Request().Context(), currentUser(c), c.Param("id"), req.Name)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, newFolderView(f))
}

// HandleMoveFolder handles POST /api/folders/:id/move. A null parent_id moves
// the folder to the root.
func (h *Handler) HandleMoveFolder(c echo.Context) error {
	var req moveFolderRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	f, err := h.folders.Move(c.Request().Context(), currentUser(c), c.Param("id"), emptyToNil(req.ParentID))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, newFolderView(f))
}

// HandleDeleteFolder handles DELETE /api/folders/:id.
func (h *Handler) HandleDeleteFolder(c echo.Context) error {
	cascade, err := h.folders.Delete(c.Request().Context(), currentUser(c), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, newCascadeView(cascade))
}

// HandleRestoreFolder handles POST /api/folders/:id/restore.
func (h *Handler) HandleRestoreFolder(c echo.Context) error {
	cascade, err := h.folders.Restore(c.Request().Context(), currentUser(c), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, newCascadeView(cascade))
}

// HandleTrash handles GET /api/trash.
func (h *Handler) HandleTrash(c echo.Context) error {
	trash, err := h.folders.GetTrash(c.Request().Context(), currentUser(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, trashView{
		Folders: newFolderViews(trash.Folders),
		Files:   newFileViews(trash.Files),
	})
}

func emptyToNil(id *string) *string {
	if id == nil {
		return nil
	}
	return optionalID(*id)
}

// HandleArchiveFolder handles GET /api/folders/:id/archive.
// Streams the folder's active subtree as a zip file.
func (h *Handler) HandleArchiveFolder(c echo.Context) error {
	ctx := c.Request().Context()
	a, err := h.files.ArchiveFolder(ctx, currentUser(c), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "application/zip")
	res.Header().Set(echo.HeaderContentDisposition, storage.ContentDisposition(a.Name+".zip"))
	res.WriteHeader(http.StatusOK)

	// The status is already sent; a failure here can only cut the stream short.
	if err := core.WriteZip(res, a.Dirs, a.Entries); err != nil {
		slog.Error("archive stream failed", "folder_id", c.Param("id"), "error", err)
	}
	return nil
}
