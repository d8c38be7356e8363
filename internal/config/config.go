// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all server configuration. It is built once at startup and
// treated as an immutable snapshot for the process lifetime; changing the
// default backend does not move existing records (that is the migration
// coordinator's job).
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Database
	DatabaseURL string

	// Storage backend for new uploads ("local", "minio" or "s3")
	StorageBackend   string
	LocalStoragePath string

	// MinIO (S3-compatible object store)
	MinioEndpoint  string
	MinioBucket    string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool

	// S3 (cloud object store)
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string

	// Presigned URLs
	PresignTTL time.Duration

	// Uploads
	MaxUploadSize int64

	// Migration
	MigrateWorkers int
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr: envOr("METRICS_ADDR", ":9090"),
		LogLevel:    envOr("LOG_LEVEL", "info"),
		LogFormat:   envOr("LOG_FORMAT", "json"),
		DatabaseURL: envOr("DATABASE_URL", ""),

		StorageBackend:   envOr("STORAGE_BACKEND", "local"),
		LocalStoragePath: envOr("LOCAL_STORAGE_PATH", "/data/uploads"),

		MinioEndpoint:  envOr("MINIO_ENDPOINT", "localhost:9000"),
		MinioBucket:    envOr("MINIO_BUCKET", "inkpress"),
		MinioAccessKey: envOr("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: envOr("MINIO_SECRET_KEY", ""),
		MinioUseSSL:    envBool("MINIO_USE_SSL", false),

		S3Endpoint:  envOr("S3_ENDPOINT", ""),
		S3Bucket:    envOr("S3_BUCKET", "inkpress"),
		S3AccessKey: envOr("S3_ACCESS_KEY", ""),
		S3SecretKey: envOr("S3_SECRET_KEY", ""),
		S3Region:    envOr("S3_REGION", "us-east-1"),

		PresignTTL:    envDuration("PRESIGN_TTL", 15*time.Minute),
		MaxUploadSize: envInt64("MAX_UPLOAD_SIZE", 50*1024*1024), // 50MB

		MigrateWorkers: envInt("MIGRATE_WORKERS", 4),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	switch cfg.StorageBackend {
	case "local", "minio", "s3":
	default:
		return nil, fmt.Errorf("invalid STORAGE_BACKEND %q (want local, minio or s3)", cfg.StorageBackend)
	}
	if cfg.PresignTTL <= 0 {
		return nil, fmt.Errorf("PRESIGN_TTL must be positive")
	}
	if cfg.MigrateWorkers < 1 {
		cfg.MigrateWorkers = 1
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
