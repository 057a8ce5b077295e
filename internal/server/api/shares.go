package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"vault/internal/server/metadata"
	"vault/internal/server/service"
)

type grantShareRequest struct {
	ResourceID   string                `json:"resource_id"`
	ResourceType metadata.ResourceType `json:"resource_type"`
	SharedWithID string                `json:"shared_with_id"`
	Permission   metadata.Permission   `json:"permission"`
	ExpiresAt    *time.Time            `json:"expires_at"`
}

// HandleGrantShare handles POST /api/shares.
func (h *Handler) HandleGrantShare(c echo.Context) error {
	var req grantShareRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	sh, err := h.shares.Grant(c.Request().Context(), service.GrantShareInput{
		OwnerID:      currentUser(c),
		ResourceID:   req.ResourceID,
		ResourceType: req.ResourceType,
		SharedWithID: req.SharedWithID,
		Permission:   req.Permission,
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, newShareView(sh))
}

// HandleRevokeShare handles DELETE /api/shares/:id.
func (h *Handler) HandleRevokeShare(c echo.Context) error {
	if err := h.shares.Revoke(c.Request().Context(), currentUser(c), c.Param("id")); err != nil {
		return mapServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleSharedWithMe handles GET /api/shares/incoming.
func (h *Handler) HandleSharedWithMe(c echo.Context) error {
	shares, err := h.shares.ListSharedWithMe(c.Request().Context(), currentUser(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	out := make([]shareView, 0, len(shares))
	for _, sh := range shares {
		out = append(out, newShareView(sh))
	}
	return c.JSON(http.StatusOK, out)
}
