package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/inkpress")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StorageBackend != "local" {
		t.Errorf("StorageBackend = %q, want local", cfg.StorageBackend)
	}
	if cfg.PresignTTL != 15*time.Minute {
		t.Errorf("PresignTTL = %v, want 15m", cfg.PresignTTL)
	}
	if cfg.MaxUploadSize != 50*1024*1024 {
		t.Errorf("MaxUploadSize = %d, want 50MB", cfg.MaxUploadSize)
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing DATABASE_URL")
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/inkpress")
	t.Setenv("STORAGE_BACKEND", "ftp")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/inkpress")
	t.Setenv("STORAGE_BACKEND", "minio")
	t.Setenv("PRESIGN_TTL", "1h")
	t.Setenv("MIGRATE_WORKERS", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StorageBackend != "minio" {
		t.Errorf("StorageBackend = %q, want minio", cfg.StorageBackend)
	}
	if cfg.PresignTTL != time.Hour {
		t.Errorf("PresignTTL = %v, want 1h", cfg.PresignTTL)
	}
	if cfg.MigrateWorkers != 8 {
		t.Errorf("MigrateWorkers = %d, want 8", cfg.MigrateWorkers)
	}
}
