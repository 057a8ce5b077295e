package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"vault/internal/server/service"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleRegister handles POST /api/auth/register.
func (h *Handler) HandleRegister(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	u, err := h.users.Register(c.Request().Context(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, newUserView(u))
}

// HandleLogin handles POST /api/auth/login. It returns the account; issuing
// session credentials is left to the proxy in front of the API.
func (h *Handler) HandleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	u, err := h.users.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, newUserView(u))
}

// HandleMe handles GET /api/me.
func (h *Handler) HandleMe(c echo.Context) error {
	u, err := h.users.Get(c.Request().Context(), currentUser(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, newUserView(u))
}

// HandleUsage handles GET /api/me/usage.
func (h *Handler) HandleUsage(c echo.Context) error {
	usage, err := h.users.Usage(c.Request().Context(), currentUser(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, usage)
}

// HandleRecomputeUsage handles POST /api/me/usage/recompute.
func (h *Handler) HandleRecomputeUsage(c echo.Context) error {
	usage, err := h.users.RecomputeUsage(c.Request().Context(), currentUser(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, usage)
}
