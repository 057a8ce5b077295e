// Package bootstrap builds the runtime components shared by the API server
// and the standalone worker from a loaded configuration.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"vault/internal/server/config"
	"vault/internal/server/database"
	"vault/internal/server/metadata"
	"vault/internal/server/metadata/memory"
	"vault/internal/server/queue"
	"vault/internal/server/quota"
	"vault/internal/server/storage"
)

// NewLogger builds the process logger from the log section.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// MetadataStore is a metadata.Store plus the cleanup hook of its backend.
type MetadataStore struct {
	metadata.Store
	close func()
}

// Close releases the backend's connections.
func (s *MetadataStore) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenStore connects the configured metadata backend. PostgreSQL is migrated
// to the latest schema before it is returned.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*MetadataStore, error) {
	if cfg.Type == "memory" {
		logger.Warn("using in-memory metadata store, all data is lost on restart")
		return &MetadataStore{Store: memory.New()}, nil
	}

	db, err := database.New(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("database migrations complete")
	return &MetadataStore{Store: database.NewRepository(db), close: db.Close}, nil
}

// Blobs is the configured content store and the grant issuer that matches it.
type Blobs struct {
	Store  storage.Store
	Grants storage.GrantIssuer
	// Tokens is set for the filesystem backend, whose links are served by
	// the API itself.
	Tokens *storage.TokenIssuer
}

// OpenBlobs initializes the configured blob backend.
func OpenBlobs(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Blobs, error) {
	switch cfg.Storage.Backend {
	case "s3":
		s3cfg := cfg.Storage.S3
		client, err := storage.NewS3Client(ctx, storage.S3Config{
			Bucket:          s3cfg.Bucket,
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
			KeyPrefix:       s3cfg.Prefix,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("s3 storage initialized", "bucket", s3cfg.Bucket, "region", s3cfg.Region)
		return &Blobs{
			Store:  storage.NewS3Store(client, s3cfg.Bucket, s3cfg.Prefix),
			Grants: storage.NewS3Presigner(client, s3cfg.Bucket, s3cfg.Prefix),
		}, nil

	case "filesystem":
		fs := storage.NewFileSystemStore(cfg.Storage.Path)
		if err := fs.EnsureDir(); err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		logger.Info("file storage initialized", "path", cfg.Storage.Path)
		tokens := storage.NewTokenIssuer(cfg.Grant.Secret, cfg.Grant.BaseURL)
		return &Blobs{Store: fs, Grants: tokens, Tokens: tokens}, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// NewDispatcher connects the durable broker when the queue is enabled. The
// returned broker is nil when it is not, and must be closed by the caller
// otherwise.
func NewDispatcher(ctx context.Context, cfg config.QueueConfig, logger *slog.Logger) (*queue.Dispatcher, *queue.RedisBroker) {
	if !cfg.Enabled {
		return queue.NewDispatcher(ctx, nil, logger), nil
	}
	broker := queue.NewRedisBroker(queue.RedisOptions{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}, logger)
	return queue.NewDispatcher(ctx, broker, logger), broker
}

// NewConsumer wires the processors for every queue. No transcoder ships with
// vault, so transcode jobs are dead-lettered until one is plugged in.
func NewConsumer(source queue.Source, store metadata.Store, tracker *quota.Tracker, blobs storage.Store, cfg config.QueueConfig, logger *slog.Logger) *queue.Consumer {
	processors := map[string]queue.Processor{
		queue.QueueUpload:    queue.NewUploadProcessor(store, store, tracker, logger),
		queue.QueueDownload:  queue.NewDownloadProcessor(store, store, blobs, logger),
		queue.QueueTranscode: queue.NewTranscodeProcessor(nil, logger),
	}
	return queue.NewConsumer(source, processors, cfg.ReceiveTimeout, logger)
}

// RestoreOptions maps the restore section onto the store's options.
func RestoreOptions(cfg config.RestoreConfig) metadata.RestoreOptions {
	policy := metadata.ConflictSuffix
	if cfg.Policy == "reject" {
		policy = metadata.ConflictReject
	}
	return metadata.RestoreOptions{Policy: policy, Suffix: cfg.Suffix}
}
