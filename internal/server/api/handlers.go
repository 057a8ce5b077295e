package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"vault/internal/core"
	"vault/internal/server/service"
	"vault/internal/server/storage"
)

// Pinger reports whether the metadata store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueStatus reports whether jobs currently reach the durable broker.
type QueueStatus interface {
	IsAvailable() bool
}

// Deps are the collaborators of the HTTP handlers.
type Deps struct {
	Folders *service.FolderService
	Files   *service.FileService
	Shares  *service.ShareService
	Users   *service.UserService
	Blobs   storage.Store
	// Tokens verifies /d/ download links. Nil when grants are presigned
	// URLs served by the blob store itself.
	Tokens        *storage.TokenIssuer
	Store         Pinger
	Queue         QueueStatus
	MaxUploadSize int64
}

// Handler contains the HTTP handlers for the vault API.
type Handler struct {
	folders   *service.FolderService
	files     *service.FileService
	shares    *service.ShareService
	users     *service.UserService
	blobs     storage.Store
	tokens    *storage.TokenIssuer
	store     Pinger
	queue     QueueStatus
	maxUpload int64
}

// NewHandler creates a new handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		folders:   d.Folders,
		files:     d.Files,
		shares:    d.Shares,
		users:     d.Users,
		blobs:     d.Blobs,
		tokens:    d.Tokens,
		store:     d.Store,
		queue:     d.Queue,
		maxUpload: d.MaxUploadSize,
	}
}

// HandleHealth handles GET /health.
// The queue running in degraded mode is reported but does not fail the check.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"
	code := http.StatusOK

	durable := h.queue.IsAvailable()
	if !durable {
		status = "degraded"
	}
	if err := h.store.Ping(c.Request().Context()); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
		code = http.StatusServiceUnavailable
	}

	return c.JSON(code, echo.Map{
		"status":        status,
		"database":      dbStatus,
		"queue_durable": durable,
	})
}

// HandleDownload handles GET /d/:token.
// Streams the blob a signed download token points at.
func (h *Handler) HandleDownload(c echo.Context) error {
	if h.tokens == nil {
		return c.JSON(http.StatusNotFound, errorBody("not_found", "direct downloads are not served by this backend"))
	}
	claims, err := h.tokens.Verify(c.Param("token"))
	if err != nil {
		return mapServiceError(c, err)
	}

	rc, err := h.blobs.Open(c.Request().Context(), claims.StorageKey)
	if err != nil {
		return mapServiceError(c, err)
	}
	defer rc.Close()

	mimeType := claims.MimeType
	if mimeType == "" {
		mimeType = echo.MIMEOctetStream
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, storage.ContentDisposition(claims.FileName))
	return c.Stream(http.StatusOK, mimeType, rc)
}

// upload is content received in a multipart form and already written to the
// blob store.
type upload struct {
	key      string
	name     string
	size     int64
	mimeType string
}

// receiveUpload stores the multipart "file" field under a fresh storage key.
// The caller owns the blob and must discard it if finalization fails. Errors
// are meant for mapServiceError.
func (h *Handler) receiveUpload(c echo.Context) (*upload, error) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return nil, errFileRequired
	}
	if fileHeader.Size > h.maxUpload {
		return nil, errUploadTooLarge
	}

	src, err := fileHeader.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to read uploaded file: %w", err)
	}
	defer src.Close()

	ctx := c.Request().Context()
	key := storageKey(currentUser(c))
	n, err := h.blobs.Save(ctx, key, io.LimitReader(src, h.maxUpload+1))
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	if n > h.maxUpload {
		h.discard(ctx, key)
		return nil, errUploadTooLarge
	}

	name := c.FormValue("name")
	if name == "" {
		name = sanitizeFilename(fileHeader.Filename)
	}
	return &upload{
		key:      key,
		name:     name,
		size:     n,
		mimeType: fileHeader.Header.Get(echo.HeaderContentType),
	}, nil
}

func (h *Handler) discard(ctx context.Context, key string) {
	// Best effort: an orphaned blob wastes space but breaks nothing.
	_ = h.blobs.Delete(context.WithoutCancel(ctx), key)
}

// storageKey spreads blobs by owner so a listing of one user's content stays small.
func storageKey(userID string) string {
	return userID + "/" + uuid.NewString()
}

// sanitizeFilename strips directory components and limits length.
func sanitizeFilename(name string) string {
	// Normalize Windows-style backslashes to forward slashes before
	// calling filepath.Base, which is platform-specific.
	name = strings.ReplaceAll(name, "\\", "/")

	// Take only the base name
	name = filepath.Base(strings.ToValidUTF8(name, "_"))

	// Limit length, counting characters so no rune is split
	if utf8.RuneCountInString(name) > core.MaxNameLength {
		ext := filepath.Ext(name)
		keep := core.MaxNameLength - utf8.RuneCountInString(ext)
		if keep < 1 {
			ext, keep = "", core.MaxNameLength
		}
		name = string([]rune(strings.TrimSuffix(name, ext))[:keep]) + ext
	}

	if name == "" || name == "." || name == "/" || name == ".." {
		name = "upload"
	}

	return name
}

// optionalID turns an empty form or query value into nil.
func optionalID(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
