package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"vault/internal/server/service"
)

type moveFileRequest struct {
	FolderID *string `json:"folder_id"`
}

type transcodeRequest struct {
	Format string `json:"format"`
}

// HandleUpload handles POST /api/files.
// Accepts a multipart form with a "file" field and optional "folder_id" and
// "name" fields.
func (h *Handler) HandleUpload(c echo.Context) error {
	up, err := h.receiveUpload(c)
	if err != nil {
		return mapServiceError(c, err)
	}

	ctx := c.Request().Context()
	f, err := h.files.FinalizeUpload(ctx, service.FinalizeUploadInput{
		UserID:     currentUser(c),
		FolderID:   optionalID(c.FormValue("folder_id")),
		Name:       up.name,
		Size:       up.size,
		MimeType:   up.mimeType,
		StorageKey: up.key,
	})
	if err != nil {
		h.discard(ctx, up.key)
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, newFileView(f))
}

// HandleReplaceContent handles PUT /api/files/:id/content.
func (h *Handler) HandleReplaceContent(c echo.Context) error {
	up, err := h.receiveUpload(c)
	if err != nil {
		return mapServiceError(c, err)
	}

	ctx := c.Request().Context()
	f, err := h.files.ReplaceContent(ctx, currentUser(c), c.Param("id"), up.size, up.mimeType, up.key)
	if err != nil {
		h.discard(ctx, up.key)
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, newFileView(f))
}

// HandleGetFile handles GET /api/files/:id.
func (h *Handler) HandleGetFile(c echo.Context) error {
	f, err := h.files.Get(c.Request().Context(), currentUser(c), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, newFileView(f))
}

// HandleRenameFile handles PATCH /api/files/:id.
func (h *Handler) HandleRenameFile(c echo.Context) error {
	var req renameRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	f, err := h.files.Rename(c.Request().Context(), currentUser(c), c.Param("id"), req.Name)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, newFileView(f))
}

// HandleMoveFile handles POST /api/files/:id/move.
func (h *Handler) HandleMoveFile(c echo.Context) error {
	var req moveFileRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	f, err := h.files.Move(c.Request().Context(), currentUser(c), c.Param("id"), emptyToNil(req.FolderID))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, newFileView(f))
}

// HandleDeleteFile handles DELETE /api/files/:id.
func (h *Handler) HandleDeleteFile(c echo.Context) error {
	f, err := h.files.Delete(c.Request().Context(), currentUser(c), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, newFileView(f))
}

// HandleRestoreFile handles POST /api/files/:id/restore.
func (h *Handler) HandleRestoreFile(c echo.Context) error {
	f, err := h.files.Restore(c.Request().Context(), currentUser(c), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, newFileView(f))
}

// HandleTranscode handles POST /api/files/:id/transcode.
func (h *Handler) HandleTranscode(c echo.Context) error {
	var req transcodeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	jobID, err := h.files.RequestTranscode(c.Request().Context(), currentUser(c), c.Param("id"), req.Format)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusAccepted, echo.Map{"job_id": jobID})
}

// HandleDownloadGrant handles GET /api/files/:id/download.
// Returns a time-bounded download link rather than the bytes.
func (h *Handler) HandleDownloadGrant(c echo.Context) error {
	g, err := h.files.GetDownloadGrant(c.Request().Context(), currentUser(c), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, g)
}
