// Package config loads server and worker configuration from an optional YAML
// file and VAULT_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete service configuration.
//
// Precedence, highest first: environment variables (VAULT_*), the
// configuration file, built-in defaults.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Grant    GrantConfig    `mapstructure:"grant"`
	Quota    QuotaConfig    `mapstructure:"quota"`
	Restore  RestoreConfig  `mapstructure:"restore"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port" validate:"required,numeric"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps" validate:"gt=0"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst" validate:"gt=0"`
	// MaxUploadSize caps a single content upload in bytes.
	MaxUploadSize int64 `mapstructure:"max_upload_size" validate:"gt=0"`
}

type LogConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR (normalized to uppercase).
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

type DatabaseConfig struct {
	// Type selects the metadata store: postgres or memory.
	Type string `mapstructure:"type" validate:"required,oneof=postgres memory"`
	URL  string `mapstructure:"url" validate:"required_if=Type postgres"`
}

type QueueConfig struct {
	// Enabled turns on the Redis broker. When false every job goes to the
	// in-memory buffer.
	Enabled        bool          `mapstructure:"enabled"`
	Addr           string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db" validate:"gte=0"`
	ReceiveTimeout time.Duration `mapstructure:"receive_timeout" validate:"gt=0"`
	// Consume runs the job consumer inside the API process.
	Consume bool `mapstructure:"consume"`
}

type StorageConfig struct {
	// Backend is filesystem or s3.
	Backend string   `mapstructure:"backend" validate:"required,oneof=filesystem s3"`
	Path    string   `mapstructure:"path" validate:"required_if=Backend filesystem"`
	S3      S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint" validate:"omitempty,url"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Prefix          string `mapstructure:"prefix"`
}

type GrantConfig struct {
	TTL time.Duration `mapstructure:"ttl" validate:"gt=0"`
	// Secret signs download tokens for the filesystem backend.
	Secret    string `mapstructure:"secret"`
	BaseURL   string `mapstructure:"base_url" validate:"required,url"`
	CacheSize int    `mapstructure:"cache_size" validate:"gt=0"`
}

type QuotaConfig struct {
	DefaultBytes int64 `mapstructure:"default_bytes" validate:"gt=0"`
}

type RestoreConfig struct {
	Policy string `mapstructure:"policy" validate:"required,oneof=suffix reject"`
	Suffix string `mapstructure:"suffix" validate:"required"`
}

type CleanupConfig struct {
	Interval  time.Duration `mapstructure:"interval" validate:"gt=0"`
	Retention time.Duration `mapstructure:"retention" validate:"gt=0"`
	BatchSize int           `mapstructure:"batch_size" validate:"gt=0"`
}

// Load reads configuration from configPath (optional) and the environment,
// applies defaults and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// setupViper wires the env prefix and registers every key so that
// VAULT_SECTION_KEY variables reach Unmarshal even without a file.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("VAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}
