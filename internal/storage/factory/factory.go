// Package factory builds the storage router from process configuration.
// The backend set is closed: local, minio and s3. Adding a variant means
// extending the switch here, the StorageType constants, and nothing else.
package factory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/inkpress/inkpress/internal/config"
	"github.com/inkpress/inkpress/internal/logging"
	"github.com/inkpress/inkpress/internal/storage"
	"github.com/inkpress/inkpress/internal/storage/local"
	miniobackend "github.com/inkpress/inkpress/internal/storage/minio"
	s3backend "github.com/inkpress/inkpress/internal/storage/s3"
)

// NewRouter instantiates every configured backend and wires them into a
// router whose default is cfg.StorageBackend. The default backend is
// always built; the others are built when credentials are configured so
// the migration coordinator can reach records still living there.
func NewRouter(ctx context.Context, cfg *config.Config) (*storage.Router, error) {
	defaultType, err := storage.ParseStorageType(cfg.StorageBackend)
	if err != nil {
		return nil, err
	}

	var backends []storage.Backend
	for _, t := range []storage.StorageType{storage.TypeLocal, storage.TypeMinio, storage.TypeS3} {
		if t != defaultType && !configured(t, cfg) {
			continue
		}
		b, err := NewBackend(ctx, t, cfg)
		if err != nil {
			return nil, fmt.Errorf("init %s backend: %w", t, err)
		}
		backends = append(backends, b)
		logging.Info("storage backend initialized",
			zap.String("type", string(t)),
			zap.Bool("default", t == defaultType))
	}

	return storage.NewRouter(defaultType, backends...)
}

// NewBackend creates a single backend of the given type. Object-store
// backends are bootstrapped (bucket existence + access) before they are
// returned.
func NewBackend(ctx context.Context, t storage.StorageType, cfg *config.Config) (storage.Backend, error) {
	switch t {
	case storage.TypeLocal:
		return local.New(local.Config{RootPath: cfg.LocalStoragePath})

	case storage.TypeMinio:
		b, err := miniobackend.New(miniobackend.Config{
			Endpoint:  cfg.MinioEndpoint,
			Bucket:    cfg.MinioBucket,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := b.Bootstrap(ctx); err != nil {
			return nil, err
		}
		return b, nil

	case storage.TypeS3:
		b, err := s3backend.New(ctx, s3backend.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
		})
		if err != nil {
			return nil, err
		}
		if err := b.Bootstrap(ctx); err != nil {
			return nil, err
		}
		return b, nil

	default:
		return nil, fmt.Errorf("unknown backend type: %s", t)
	}
}

// configured reports whether a non-default backend has enough
// configuration to be worth instantiating.
func configured(t storage.StorageType, cfg *config.Config) bool {
	switch t {
	case storage.TypeLocal:
		return cfg.LocalStoragePath != ""
	case storage.TypeMinio:
		return cfg.MinioAccessKey != ""
	case storage.TypeS3:
		return cfg.S3AccessKey != ""
	default:
		return false
	}
}
