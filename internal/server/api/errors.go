package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"vault/internal/server/service"
	"vault/internal/server/storage"
)

// apiError is the body of every failed response. Code is stable and meant
// for machines; Message is for people.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func errorBody(code, msg string) apiError {
	return apiError{Code: code, Message: msg}
}

// requestError rejects a request before it reaches the service layer.
type requestError struct {
	status int
	code   string
	msg    string
}

func (e *requestError) Error() string { return e.msg }

var (
	errFileRequired   = &requestError{http.StatusBadRequest, "validation_error", "file is required (use form field 'file')"}
	errUploadTooLarge = &requestError{http.StatusRequestEntityTooLarge, "too_large", "file exceeds maximum allowed size"}
)

// mapServiceError translates service-layer errors into HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return c.JSON(reqErr.status, errorBody(reqErr.code, reqErr.msg))
	}

	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, service.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrDuplicateName):
		status, code = http.StatusConflict, "duplicate_name"
	case errors.Is(err, service.ErrQuotaExceeded):
		status, code = http.StatusInsufficientStorage, "quota_exceeded"
	case errors.Is(err, service.ErrInvalidMove):
		status, code = http.StatusUnprocessableEntity, "invalid_move"
	case errors.Is(err, service.ErrValidation):
		status, code = http.StatusBadRequest, "validation_error"
	case errors.Is(err, service.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, service.ErrInvalidCredentials):
		status, code = http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, storage.ErrInvalidGrant):
		status, code = http.StatusForbidden, "invalid_grant"
	case errors.Is(err, storage.ErrBlobNotFound):
		status, code = http.StatusNotFound, "not_found"
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", c.Request().URL.Path, "error", err)
		return c.JSON(status, errorBody(code, "internal server error"))
	}
	return c.JSON(status, errorBody(code, err.Error()))
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorBody("validation_error", msg))
}
