package api

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vault/internal/server/config"
)

// SetupRouter creates and configures the echo router with all routes and
// middleware. ctx bounds the rate limiter's background sweep.
func SetupRouter(ctx context.Context, handler *Handler, cfg *config.Config, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization", UserIDHeader},
	}))
	e.Use(RequestLogger(logger))

	limiter := NewRateLimiter(ctx, cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)

	// Health & metrics
	e.GET("/health", handler.HandleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Download links carry their own signature.
	e.GET("/d/:token", handler.HandleDownload, limiter.Middleware())

	auth := e.Group("/api/auth", limiter.Middleware())
	auth.POST("/register", handler.HandleRegister)
	auth.POST("/login", handler.HandleLogin)

	api := e.Group("/api", Identity(handler.users))

	api.GET("/me", handler.HandleMe)
	api.GET("/me/usage", handler.HandleUsage)
	api.POST("/me/usage/recompute", handler.HandleRecomputeUsage)

	api.GET("/contents", handler.HandleContents)
	api.GET("/trash", handler.HandleTrash)

	api.POST("/folders", handler.HandleCreateFolder)
	api.GET("/folders/:id", handler.HandleGetFolder)
	api.PATCH("/folders/:id", handler.HandleRenameFolder)
	api.POST("/folders/:id/move", handler.HandleMoveFolder)
	api.DELETE("/folders/:id", handler.HandleDeleteFolder)
	api.POST("/folders/:id/restore", handler.HandleRestoreFolder)
	api.GET("/folders/:id/archive", handler.HandleArchiveFolder)

	// Uploads are rate-limited
	api.POST("/files", handler.HandleUpload, limiter.Middleware())
	api.PUT("/files/:id/content", handler.HandleReplaceContent, limiter.Middleware())
	api.GET("/files/:id", handler.HandleGetFile)
	api.PATCH("/files/:id", handler.HandleRenameFile)
	api.POST("/files/:id/move", handler.HandleMoveFile)
	api.DELETE("/files/:id", handler.HandleDeleteFile)
	api.POST("/files/:id/restore", handler.HandleRestoreFile)
	api.POST("/files/:id/transcode", handler.HandleTranscode)
	api.GET("/files/:id/download", handler.HandleDownloadGrant)

	api.POST("/shares", handler.HandleGrantShare)
	api.GET("/shares/incoming", handler.HandleSharedWithMe)
	api.DELETE("/shares/:id", handler.HandleRevokeShare)

	return e
}
