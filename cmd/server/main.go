package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"vault/internal/server/api"
	"vault/internal/server/bootstrap"
	"vault/internal/server/config"
	"vault/internal/server/queue"
	"vault/internal/server/quota"
	"vault/internal/server/service"
	"vault/internal/server/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return 1
	}

	// Structured logging
	logger := bootstrap.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)
	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"database", cfg.Database.Type,
		"storage", cfg.Storage.Backend,
		"queue_enabled", cfg.Queue.Enabled,
		"max_upload_size", cfg.Server.MaxUploadSize,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metadata store
	store, err := bootstrap.OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		slog.Error("failed to open metadata store", "error", err)
		return 1
	}
	defer store.Close()

	// Blob storage
	blobs, err := bootstrap.OpenBlobs(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to initialize blob storage", "error", err)
		return 1
	}

	// Job queue
	dispatcher, broker := bootstrap.NewDispatcher(ctx, cfg.Queue, logger)
	if broker != nil {
		defer broker.Close()
	}

	// Services
	tracker := quota.NewTracker(store, logger)
	restore := bootstrap.RestoreOptions(cfg.Restore)
	handler := api.NewHandler(api.Deps{
		Folders: service.NewFolderService(store, tracker, restore, logger),
		Files: service.NewFileService(store, tracker, dispatcher, blobs.Grants, blobs.Store, service.FileOptions{
			GrantTTL:       cfg.Grant.TTL,
			GrantCacheSize: cfg.Grant.CacheSize,
			Restore:        restore,
		}, logger),
		Shares:        service.NewShareService(store, logger),
		Users:         service.NewUserService(store, tracker, cfg.Quota.DefaultBytes, logger),
		Blobs:         blobs.Store,
		Tokens:        blobs.Tokens,
		Store:         store,
		Queue:         dispatcher,
		MaxUploadSize: cfg.Server.MaxUploadSize,
	})

	// Background workers outlive ctx so they stop after the HTTP server.
	workers, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	cleanup := storage.NewCleanupService(store, blobs.Store, cfg.Cleanup.Interval, cfg.Cleanup.Retention, cfg.Cleanup.BatchSize, logger)
	cleanup.Start(workers)

	// Jobs buffered in memory can only be drained by this process.
	var consumer *queue.Consumer
	if cfg.Queue.Consume || !dispatcher.IsAvailable() {
		consumer = bootstrap.NewConsumer(dispatcher, store, tracker, blobs.Store, cfg.Queue, logger)
		consumer.Start(workers)
	}

	// Setup HTTP router
	e := api.SetupRouter(workers, handler, cfg, logger)

	// Start server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Server.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.Grant.BaseURL)
		errCh <- e.Start(addr)
	}()

	// Graceful shutdown
	code := 0
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		slog.Error("server stopped", "error", err)
		code = 1
	}

	shutdown(e, cfg.Server.ShutdownTimeout)

	// Stop background workers
	cancelWorkers()
	cleanup.Wait()
	if consumer != nil {
		consumer.Wait()
	}

	if code == 0 {
		slog.Info("server exited cleanly")
	}
	return code
}

// shutdown stops accepting new requests and lets in-flight ones finish.
func shutdown(e *echo.Echo, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
}
