// Command worker consumes upload, download and transcode jobs from the
// durable queue. Run as many as the backlog needs; each handles one job per
// queue at a time.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"vault/internal/server/bootstrap"
	"vault/internal/server/config"
	"vault/internal/server/quota"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return 1
	}

	logger := bootstrap.NewLogger(cfg.Log, os.Stdout).With("process", "worker")
	slog.SetDefault(logger)

	if err := checkShared(cfg); err != nil {
		slog.Error("invalid worker configuration", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := bootstrap.OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		slog.Error("failed to open metadata store", "error", err)
		return 1
	}
	defer store.Close()

	blobs, err := bootstrap.OpenBlobs(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to initialize blob storage", "error", err)
		return 1
	}

	dispatcher, broker := bootstrap.NewDispatcher(ctx, cfg.Queue, logger)
	defer broker.Close()
	if !dispatcher.IsAvailable() {
		slog.Error("durable queue unreachable", "addr", cfg.Queue.Addr)
		return 1
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracker := quota.NewTracker(store, logger)
	consumer := bootstrap.NewConsumer(dispatcher, store, tracker, blobs.Store, cfg.Queue, logger)
	consumer.Start(consumeCtx)

	return waitForExit(ctx, dispatcher.Degraded(), cancel, consumer.Wait)
}

// waitForExit blocks until shutdown is requested or the broker is lost, then
// stops the consumer loops. Jobs buffered in memory would never reach another
// worker, so losing the broker ends the process with a failure status and
// leaves recovery to the supervisor.
func waitForExit(ctx context.Context, degraded <-chan struct{}, cancel context.CancelFunc, wait func()) int {
	code := 0
	select {
	case <-ctx.Done():
		slog.Info("shutting down, waiting for in-flight jobs")
	case <-degraded:
		slog.Error("durable queue lost, stopping worker")
		code = 1
	}
	cancel()
	wait()
	if code == 0 {
		slog.Info("worker exited cleanly")
	}
	return code
}

// checkShared rejects configurations where the worker could not see what the
// API server writes.
func checkShared(cfg *config.Config) error {
	if !cfg.Queue.Enabled {
		return errors.New("queue.enabled must be true")
	}
	if cfg.Database.Type != "postgres" {
		return errors.New("database.type must be postgres")
	}
	return nil
}
