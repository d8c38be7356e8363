// Package minio provides the S3-compatible object-store backend, used for
// self-hosted MinIO deployments.
package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/inkpress/inkpress/internal/logging"
	"github.com/inkpress/inkpress/internal/metrics"
	"github.com/inkpress/inkpress/internal/retry"
	"github.com/inkpress/inkpress/internal/storage"
)

// Config holds MinIO backend settings.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Backend implements storage.Backend against a MinIO server.
type Backend struct {
	client *minio.Client
	bucket string
}

// New creates a MinIO backend. It does not touch the network; call
// Bootstrap once before serving traffic.
func New(cfg Config) (*Backend, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: minio endpoint and bucket are required", storage.ErrInvalidInput)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	return &Backend{client: client, bucket: cfg.Bucket}, nil
}

// Bootstrap ensures the bucket exists. Run once at startup, not
// per-operation. Creation races with another process are tolerated.
func (b *Backend) Bootstrap(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return fmt.Errorf("%w: check bucket %s: %v", storage.ErrUnavailable, b.bucket, err)
	}
	if exists {
		return nil
	}

	err = b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{})
	if err != nil {
		code := minio.ToErrorResponse(err).Code
		if code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return fmt.Errorf("%w: create bucket %s: %v", storage.ErrUnavailable, b.bucket, err)
	}

	logging.Info("created minio bucket", zap.String("bucket", b.bucket))
	return nil
}

// Put uploads content, retrying transient network failures with bounded
// exponential backoff before surfacing ErrUnavailable.
func (b *Backend) Put(ctx context.Context, location string, body io.Reader, size int64, contentType string) error {
	if err := storage.ValidateLocation(location); err != nil {
		return err
	}
	if size == 0 {
		return fmt.Errorf("%w: empty content", storage.ErrInvalidInput)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// Retrying needs a rewindable body; one-shot readers get one attempt.
	cfg := retry.DefaultConfig()
	seeker, rewindable := body.(io.Seeker)
	var bodyStart int64
	if rewindable {
		bodyStart, _ = seeker.Seek(0, io.SeekCurrent)
	} else {
		cfg.MaxAttempts = 1
	}

	start := time.Now()
	attempt := 0
	err := retry.Do(ctx, cfg, func() error {
		if attempt > 0 {
			if _, seekErr := seeker.Seek(bodyStart, io.SeekStart); seekErr != nil {
				return fmt.Errorf("rewind body for %s: %w", location, seekErr)
			}
		}
		attempt++
		_, putErr := b.client.PutObject(ctx, b.bucket, location, body, size,
			minio.PutObjectOptions{ContentType: contentType})
		if putErr == nil {
			return nil
		}
		classified := classify(putErr, location)
		if errors.Is(classified, storage.ErrUnavailable) {
			return retry.Retryable(classified)
		}
		return classified
	})
	metrics.RecordStorageOperation(string(storage.TypeMinio), "put", time.Since(start), err == nil)
	return err
}

// Get retrieves an object and its size. The minio client opens objects
// lazily, so a Stat forces the NotFound check here instead of on first
// Read.
func (b *Backend) Get(ctx context.Context, location string) (io.ReadCloser, int64, error) {
	if err := storage.ValidateLocation(location); err != nil {
		return nil, 0, err
	}

	start := time.Now()
	obj, err := b.client.GetObject(ctx, b.bucket, location, minio.GetObjectOptions{})
	if err != nil {
		metrics.RecordStorageOperation(string(storage.TypeMinio), "get", time.Since(start), false)
		return nil, 0, classify(err, location)
	}

	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		metrics.RecordStorageOperation(string(storage.TypeMinio), "get", time.Since(start), false)
		return nil, 0, classify(err, location)
	}

	metrics.RecordStorageOperation(string(storage.TypeMinio), "get", time.Since(start), true)
	return obj, info.Size, nil
}

// Delete removes an object. MinIO treats removal of an absent object as
// success, which matches the idempotency contract.
func (b *Backend) Delete(ctx context.Context, location string) error {
	if err := storage.ValidateLocation(location); err != nil {
		return err
	}

	start := time.Now()
	err := b.client.RemoveObject(ctx, b.bucket, location, minio.RemoveObjectOptions{})
	if err != nil {
		classified := classify(err, location)
		if errors.Is(classified, storage.ErrNotFound) {
			err = nil
		} else {
			metrics.RecordStorageOperation(string(storage.TypeMinio), "delete", time.Since(start), false)
			return classified
		}
	}
	metrics.RecordStorageOperation(string(storage.TypeMinio), "delete", time.Since(start), true)
	return nil
}

// Exists reports whether an object exists; a missing object is not an
// error.
func (b *Backend) Exists(ctx context.Context, location string) (bool, error) {
	if err := storage.ValidateLocation(location); err != nil {
		return false, err
	}

	_, err := b.client.StatObject(ctx, b.bucket, location, minio.StatObjectOptions{})
	if err != nil {
		classified := classify(err, location)
		if errors.Is(classified, storage.ErrNotFound) {
			return false, nil
		}
		return false, classified
	}
	return true, nil
}

// Presign generates a time-limited GET URL for the object. The ttl is
// passed through to the server unmodified.
func (b *Backend) Presign(ctx context.Context, location string, ttl time.Duration) (string, error) {
	if err := storage.ValidateLocation(location); err != nil {
		return "", err
	}

	u, err := b.client.PresignedGetObject(ctx, b.bucket, location, ttl, url.Values{})
	if err != nil {
		return "", classify(err, location)
	}

	metrics.RecordPresignedURL(string(storage.TypeMinio))
	return u.String(), nil
}

// Type returns "minio".
func (b *Backend) Type() storage.StorageType { return storage.TypeMinio }

// Close is a no-op; the minio client holds no persistent connections that
// need explicit teardown.
func (b *Backend) Close() error { return nil }

// classify maps minio errors onto the shared taxonomy.
func classify(err error, location string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: %s", storage.ErrNotFound, location)
	case "QuotaExceeded", "XMinioAdminBucketQuotaExceeded":
		return fmt.Errorf("%w: %v", storage.ErrQuotaExceeded, err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return fmt.Errorf("%w: %s: %v", storage.ErrInvalidInput, location, err)
	}
	if resp.StatusCode == 404 {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, location)
	}
	return fmt.Errorf("%w: %s: %v", storage.ErrUnavailable, location, err)
}
