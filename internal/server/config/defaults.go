package config

import (
	"strings"
	"time"
)

// DefaultQuotaBytes is the quota given to new accounts (10 GiB).
const DefaultQuotaBytes int64 = 10 << 30

var defaults = map[string]any{
	"server.port":             "8080",
	"server.shutdown_timeout": 10 * time.Second,
	"server.rate_limit_rps":   10.0,
	"server.rate_limit_burst": 20,
	"server.max_upload_size":  int64(5 << 30),

	"log.level":  "INFO",
	"log.format": "json",

	"database.type": "memory",
	"database.url":  "",

	"queue.enabled":         false,
	"queue.addr":            "localhost:6379",
	"queue.password":        "",
	"queue.db":              0,
	"queue.receive_timeout": 5 * time.Second,
	"queue.consume":         true,

	"storage.backend":              "filesystem",
	"storage.path":                 "./storage/blobs",
	"storage.s3.bucket":            "",
	"storage.s3.region":            "",
	"storage.s3.endpoint":          "",
	"storage.s3.access_key_id":     "",
	"storage.s3.secret_access_key": "",
	"storage.s3.prefix":            "",

	"grant.ttl":        15 * time.Minute,
	"grant.secret":     "",
	"grant.base_url":   "http://localhost:8080",
	"grant.cache_size": 1024,

	"quota.default_bytes": DefaultQuotaBytes,

	"restore.policy": "suffix",
	"restore.suffix": "(restored)",

	"cleanup.interval":   time.Hour,
	"cleanup.retention":  30 * 24 * time.Hour,
	"cleanup.batch_size": 100,
}

// ApplyDefaults fills values a config file may have zeroed explicitly and
// normalizes case-insensitive fields.
func ApplyDefaults(cfg *Config) {
	cfg.Log.Level = strings.ToUpper(cfg.Log.Level)
	if cfg.Log.Level == "" {
		cfg.Log.Level = "INFO"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	cfg.Database.Type = strings.ToLower(cfg.Database.Type)
	cfg.Storage.Backend = strings.ToLower(cfg.Storage.Backend)
	cfg.Restore.Policy = strings.ToLower(cfg.Restore.Policy)
	if cfg.Restore.Suffix == "" {
		cfg.Restore.Suffix = "(restored)"
	}
	if cfg.Quota.DefaultBytes == 0 {
		cfg.Quota.DefaultBytes = DefaultQuotaBytes
	}
	cfg.Grant.BaseURL = strings.TrimRight(cfg.Grant.BaseURL, "/")
}
