package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault/internal/core"
	"vault/internal/server/config"
	"vault/internal/server/metadata"
	"vault/internal/server/metadata/memory"
	"vault/internal/server/queue"
	"vault/internal/server/quota"
	"vault/internal/server/service"
	"vault/internal/server/storage"
)

type testServer struct {
	e      *echo.Echo
	store  *memory.Store
	blobs  *storage.FileSystemStore
	tokens *storage.TokenIssuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := memory.New()
	blobs := storage.NewFileSystemStore(t.TempDir())
	tokens := storage.NewTokenIssuer("test-secret-0123456789", "http://vault.test")
	tracker := quota.NewTracker(store, nil)
	dispatcher := queue.NewDispatcher(ctx, nil, nil)
	restore := metadata.RestoreOptions{Policy: metadata.ConflictSuffix, Suffix: metadata.DefaultRestoreSuffix}

	handler := NewHandler(Deps{
		Folders: service.NewFolderService(store, tracker, restore, nil),
		Files: service.NewFileService(store, tracker, dispatcher, tokens, blobs, service.FileOptions{
			GrantTTL: time.Minute,
			Restore:  restore,
		}, nil),
		Shares:        service.NewShareService(store, nil),
		Users:         service.NewUserService(store, tracker, 1<<20, nil),
		Blobs:         blobs,
		Tokens:        tokens,
		Store:         store,
		Queue:         dispatcher,
		MaxUploadSize: 1 << 10,
	})

	cfg := &config.Config{}
	cfg.Server.RateLimitRPS = 1000
	cfg.Server.RateLimitBurst = 1000

	return &testServer{
		e:      SetupRouter(ctx, handler, cfg, slog.New(slog.NewTextHandler(io.Discard, nil))),
		store:  store,
		blobs:  blobs,
		tokens: tokens,
	}
}

func (s *testServer) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if userID != "" {
		req.Header.Set(UserIDHeader, userID)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) upload(t *testing.T, userID, folderID, name, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if folderID != "" {
		require.NoError(t, w.WriteField("folder_id", folderID))
	}
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/files", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	req.Header.Set(UserIDHeader, userID)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) register(t *testing.T, username string) userView {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/auth/register", "", echo.Map{
		"username": username,
		"email":    username + "@example.com",
		"password": "correct-horse",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[userView](t, rec)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, false, body["queue_durable"])
}

func TestIdentityRequired(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/me", "no-such-user", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", decode[apiError](t, rec).Code)
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t)
	u := s.register(t, "alice")

	rec := s.do(t, http.MethodPost, "/api/auth/login", "", echo.Map{"username": "alice", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, u.ID, decode[userView](t, rec).ID)

	rec = s.do(t, http.MethodPost, "/api/auth/login", "", echo.Map{"username": "alice", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/auth/register", "", echo.Map{
		"username": "alice", "email": "other@example.com", "password": "correct-horse",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/auth/register", "", echo.Map{
		"username": "b", "email": "not-an-email", "password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFolderLifecycle(t *testing.T) {
	s := newTestServer(t)
	u := s.register(t, "alice")

	rec := s.do(t, http.MethodPost, "/api/folders", u.ID, echo.Map{"name": "Docs"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	docs := decode[folderView](t, rec)
	assert.Equal(t, "/Docs", docs.Path)

	rec = s.do(t, http.MethodPost, "/api/folders", u.ID, echo.Map{"name": "Docs"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_name", decode[apiError](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/folders", u.ID, echo.Map{"name": "Sub", "parent_id": docs.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	sub := decode[folderView](t, rec)
	assert.Equal(t, "/Docs/Sub", sub.Path)

	rec = s.do(t, http.MethodPost, "/api/folders/"+docs.ID+"/move", u.ID, echo.Map{"parent_id": sub.ID})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodPatch, "/api/folders/"+docs.ID, u.ID, echo.Map{"name": "Papers"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/folders/"+sub.ID, u.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/Papers/Sub", decode[folderView](t, rec).Path)

	rec = s.do(t, http.MethodDelete, "/api/folders/"+docs.ID, u.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []string{docs.ID, sub.ID}, decode[cascadeView](t, rec).FolderIDs)

	rec = s.do(t, http.MethodGet, "/api/trash", u.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[trashView](t, rec).Folders, 2)

	rec = s.do(t, http.MethodPost, "/api/folders/"+docs.ID+"/restore", u.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/contents", u.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	root := decode[contentsView](t, rec)
	require.Len(t, root.Folders, 1)
	assert.Equal(t, "Papers", root.Folders[0].Name)
}

func TestFolderOfAnotherUserIsNotFound(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice")
	bob := s.register(t, "bob")

	rec := s.do(t, http.MethodPost, "/api/folders", alice.ID, echo.Map{"name": "Private"})
	require.Equal(t, http.StatusCreated, rec.Code)
	f := decode[folderView](t, rec)

	rec = s.do(t, http.MethodGet, "/api/folders/"+f.ID, bob.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestContentsRejectsBadPaging(t *testing.T) {
	s := newTestServer(t)
	u := s.register(t, "alice")

	rec := s.do(t, http.MethodGet, "/api/contents?page=abc", u.ID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadAndDownload(t *testing.T) {
	s := newTestServer(t)
	u := s.register(t, "alice")

	rec := s.upload(t, u.ID, "", "notes.txt", "hello vault")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	f := decode[fileView](t, rec)
	assert.Equal(t, "notes.txt", f.Name)
	assert.EqualValues(t, len("hello vault"), f.Size)

	rec = s.do(t, http.MethodGet, "/api/me/usage", u.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, len("hello vault"), decode[quota.Usage](t, rec).Used)

	rec = s.do(t, http.MethodGet, "/api/files/"+f.ID+"/download", u.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	grant := decode[service.DownloadGrant](t, rec)
	require.True(t, strings.HasPrefix(grant.URL, "http://vault.test/d/"))

	token := strings.TrimPrefix(grant.URL, "http://vault.test/d/")
	rec = s.do(t, http.MethodGet, "/d/"+token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello vault", rec.Body.String())
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "notes.txt")

	rec = s.do(t, http.MethodGet, "/d/not-a-token", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestArchiveFolder(t *testing.T) {
	s := newTestServer(t)
	u := s.register(t, "alice")

	rec := s.do(t, http.MethodPost, "/api/folders", u.ID, echo.Map{"name": "Docs"})
	require.Equal(t, http.StatusCreated, rec.Code)
	docs := decode[folderView](t, rec)

	rec = s.upload(t, u.ID, docs.ID, "a.txt", "alpha")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/folders/"+docs.ID+"/archive", u.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get(echo.HeaderContentType))

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"Docs/", "Docs/a.txt"}, names)
}

func TestUploadDuplicateNameDiscardsBlob(t *testing.T) {
	s := newTestServer(t)
	u := s.register(t, "alice")

	rec := s.upload(t, u.ID, "", "a.txt", "one")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.upload(t, u.ID, "", "a.txt", "two")
	assert.Equal(t, http.StatusConflict, rec.Code)

	page, err := s.store.ListFiles(context.Background(), u.ID, nil, metadata.ListOptions{Sort: metadata.SortByName, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Files, 1)
}

func TestUploadTooLarge(t *testing.T) {
	s := newTestServer(t)
	u := s.register(t, "alice")

	rec := s.upload(t, u.ID, "", "big.bin", strings.Repeat("x", 2<<10))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "too_large", decode[apiError](t, rec).Code)
}

func TestUploadMissingFile(t *testing.T) {
	s := newTestServer(t)
	u := s.register(t, "alice")

	req := httptest.NewRequest(http.MethodPost, "/api/files", strings.NewReader(""))
	req.Header.Set(UserIDHeader, u.ID)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReceiveUploadLeavesResponseToCaller(t *testing.T) {
	blobs := storage.NewFileSystemStore(t.TempDir())
	h := NewHandler(Deps{Blobs: blobs, MaxUploadSize: 4})
	e := echo.New()

	newContext := func(t *testing.T, content string, withFile bool) (echo.Context, *httptest.ResponseRecorder) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		if withFile {
			part, err := w.CreateFormFile("file", "a.bin")
			require.NoError(t, err)
			_, err = part.Write([]byte(content))
			require.NoError(t, err)
		}
		require.NoError(t, w.Close())
		req := httptest.NewRequest(http.MethodPost, "/api/files", &buf)
		req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.Set(userIDKey, "u1")
		return c, rec
	}

	t.Run("too large", func(t *testing.T) {
		c, rec := newContext(t, "too many bytes", true)
		up, err := h.receiveUpload(c)
		assert.Nil(t, up)
		assert.ErrorIs(t, err, errUploadTooLarge)
		assert.False(t, c.Response().Committed)
		assert.Zero(t, rec.Body.Len())
	})

	t.Run("missing file", func(t *testing.T) {
		c, rec := newContext(t, "", false)
		up, err := h.receiveUpload(c)
		assert.Nil(t, up)
		assert.ErrorIs(t, err, errFileRequired)
		assert.False(t, c.Response().Committed)
		assert.Zero(t, rec.Body.Len())
	})

	t.Run("accepted", func(t *testing.T) {
		c, _ := newContext(t, "ok", true)
		up, err := h.receiveUpload(c)
		require.NoError(t, err)
		assert.Equal(t, int64(2), up.size)
		assert.Equal(t, "a.bin", up.name)
	})
}

func TestShareGrantsRead(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice")
	bob := s.register(t, "bob")

	rec := s.upload(t, alice.ID, "", "report.pdf", "pdf bytes")
	require.Equal(t, http.StatusCreated, rec.Code)
	f := decode[fileView](t, rec)

	rec = s.do(t, http.MethodGet, "/api/files/"+f.ID+"/download", bob.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/shares", alice.ID, echo.Map{
		"resource_id":    f.ID,
		"resource_type":  metadata.ResourceFile,
		"shared_with_id": bob.ID,
		"permission":     metadata.PermissionRead,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sh := decode[shareView](t, rec)

	rec = s.do(t, http.MethodGet, "/api/shares/incoming", bob.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]shareView](t, rec), 1)

	rec = s.do(t, http.MethodGet, "/api/files/"+f.ID+"/download", bob.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/shares/"+sh.ID, alice.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/shares/incoming", bob.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]shareView](t, rec))
}

func TestTranscodeAccepted(t *testing.T) {
	s := newTestServer(t)
	u := s.register(t, "alice")

	rec := s.upload(t, u.ID, "", "clip.mov", "frames")
	require.Equal(t, http.StatusCreated, rec.Code)
	f := decode[fileView](t, rec)

	rec = s.do(t, http.MethodPost, "/api/files/"+f.ID+"/transcode", u.ID, echo.Map{"format": "mp4"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.NotEmpty(t, decode[map[string]string](t, rec)["job_id"])

	rec = s.do(t, http.MethodPost, "/api/files/"+f.ID+"/transcode", u.ID, echo.Map{"format": "../etc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{service.ErrNotFound, http.StatusNotFound},
		{service.ErrDuplicateName, http.StatusConflict},
		{service.ErrQuotaExceeded, http.StatusInsufficientStorage},
		{service.ErrInvalidMove, http.StatusUnprocessableEntity},
		{service.ErrValidation, http.StatusBadRequest},
		{service.ErrConflict, http.StatusConflict},
		{storage.ErrInvalidGrant, http.StatusForbidden},
		{errUploadTooLarge, http.StatusRequestEntityTooLarge},
		{fmt.Errorf("receive: %w", errFileRequired), http.StatusBadRequest},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	e := echo.New()
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
		require.NoError(t, mapServiceError(c, tt.err))
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"normal.txt", "normal.txt"},
		{"../../../etc/passwd", "passwd"},
		{"/absolute/path/file.txt", "file.txt"},
		{"C:\\Users\\evil\\file.txt", "file.txt"},
		{"", "upload"},
		{"..", "upload"},
		{"bad\xffname.txt", "bad_name.txt"},
		{strings.Repeat("é", 300) + ".txt", strings.Repeat("é", 251) + ".txt"},
		{strings.Repeat("é", 300), strings.Repeat("é", 255)},
		{"x." + strings.Repeat("é", 300), "x." + strings.Repeat("é", 253)},
	}
	for _, tt := range tests {
		got := sanitizeFilename(tt.input)
		assert.Equal(t, tt.expected, got, tt.input)
		assert.True(t, utf8.ValidString(got), tt.input)
		assert.NoError(t, core.ValidateName(got), tt.input)
	}
}

func TestUploadRejectsInvalidUTF8Name(t *testing.T) {
	s := newTestServer(t)
	u := s.register(t, "alice")

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("name", "bad\xffname"))
	part, err := w.CreateFormFile("file", "ok.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("content"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/files", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	req.Header.Set(UserIDHeader, u.ID)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decode[apiError](t, rec).Code)
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl := NewRateLimiter(ctx, 1, 2)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("1.2.3.4"))
	assert.True(t, rl.allow("1.2.3.4"))
	assert.False(t, rl.allow("1.2.3.4"))
	assert.True(t, rl.allow("5.6.7.8"))

	now = now.Add(time.Second)
	assert.True(t, rl.allow("1.2.3.4"))
}
