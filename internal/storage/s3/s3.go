// Package s3 provides the cloud object-store backend on the AWS SDK.
// A custom endpoint switches the client to path-style addressing so the
// same driver also talks to other S3 API servers.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/inkpress/inkpress/internal/logging"
	"github.com/inkpress/inkpress/internal/metrics"
	"github.com/inkpress/inkpress/internal/retry"
	"github.com/inkpress/inkpress/internal/storage"
)

// Config holds S3 backend settings.
type Config struct {
	Endpoint  string // empty for AWS
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
}

// Backend implements storage.Backend against an S3 bucket.
type Backend struct {
	client    *awss3.Client
	presigner *awss3.PresignClient
	bucket    string
}

// New creates an S3 backend. Call Bootstrap once before serving traffic.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", storage.ErrInvalidInput)
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Backend{
		client:    client,
		presigner: awss3.NewPresignClient(client),
		bucket:    cfg.Bucket,
	}, nil
}

// Bootstrap ensures the bucket exists. Creation races are tolerated.
func (b *Backend) Bootstrap(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return fmt.Errorf("%w: check bucket %s: %v", storage.ErrUnavailable, b.bucket, err)
	}

	_, err = b.client.CreateBucket(ctx, &awss3.CreateBucketInput{Bucket: aws.String(b.bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("%w: create bucket %s: %v", storage.ErrUnavailable, b.bucket, err)
	}

	logging.Info("created s3 bucket", zap.String("bucket", b.bucket))
	return nil
}

// Put uploads content, retrying transient failures with bounded backoff.
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

		input := &awss3.PutObjectInput{
			Bucket:      aws.String(b.bucket),
			Key:         aws.String(location),
			Body:        body,
			ContentType: aws.String(contentType),
		}
		if size > 0 {
			input.ContentLength = aws.Int64(size)
		}

		_, putErr := b.client.PutObject(ctx, input)
		if putErr == nil {
			return nil
		}
		classified := classify(putErr, location)
		if errors.Is(classified, storage.ErrUnavailable) {
			return retry.Retryable(classified)
		}
		return classified
	})
	metrics.RecordStorageOperation(string(storage.TypeS3), "put", time.Since(start), err == nil)
	return err
}

// Get retrieves an object and its size.
func (b *Backend) Get(ctx context.Context, location string) (io.ReadCloser, int64, error) {
	if err := storage.ValidateLocation(location); err != nil {
		return nil, 0, err
	}

	start := time.Now()
	out, err := b.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(location),
	})
	if err != nil {
		metrics.RecordStorageOperation(string(storage.TypeS3), "get", time.Since(start), false)
		return nil, 0, classify(err, location)
	}

	metrics.RecordStorageOperation(string(storage.TypeS3), "get", time.Since(start), true)
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

// Delete removes an object. S3 DeleteObject succeeds for absent keys,
// which matches the idempotency contract.
func (b *Backend) Delete(ctx context.Context, location string) error {
	if err := storage.ValidateLocation(location); err != nil {
		return err
	}

	start := time.Now()
	_, err := b.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(location),
	})
	if err != nil {
		classified := classify(err, location)
		if !errors.Is(classified, storage.ErrNotFound) {
			metrics.RecordStorageOperation(string(storage.TypeS3), "delete", time.Since(start), false)
			return classified
		}
	}
	metrics.RecordStorageOperation(string(storage.TypeS3), "delete", time.Since(start), true)
	return nil
}

// Exists reports whether an object exists; a missing object is not an
// error.
func (b *Backend) Exists(ctx context.Context, location string) (bool, error) {
	if err := storage.ValidateLocation(location); err != nil {
		return false, err
	}

	_, err := b.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(location),
	})
	if err != nil {
		classified := classify(err, location)
		if errors.Is(classified, storage.ErrNotFound) {
			return false, nil
		}
		return false, classified
	}
	return true, nil
}

// Presign generates a time-limited GET URL. The ttl is passed through to
// the signer unmodified.
func (b *Backend) Presign(ctx context.Context, location string, ttl time.Duration) (string, error) {
	if err := storage.ValidateLocation(location); err != nil {
		return "", err
	}

	req, err := b.presigner.PresignGetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(location),
	}, awss3.WithPresignExpires(ttl))
	if err != nil {
		return "", classify(err, location)
	}

	metrics.RecordPresignedURL(string(storage.TypeS3))
	return req.URL, nil
}

// Type returns "s3".
func (b *Backend) Type() storage.StorageType { return storage.TypeS3 }

// Close is a no-op; the SDK client needs no explicit teardown.
func (b *Backend) Close() error { return nil }

// classify maps SDK errors onto the shared taxonomy.
func classify(err error, location string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, location)
	}
	return fmt.Errorf("%w: %s: %v", storage.ErrUnavailable, location, err)
}
