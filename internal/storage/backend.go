// Package storage defines the Backend interface for file content storage
// and routes operations to the backend holding a given object. Metadata
// (file records) is handled separately by the ledger.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"
)

// StorageType identifies one of the closed set of storage backends. It is
// the value persisted on every file record and is the single source of
// truth for where an object's bytes currently live.
type StorageType string

const (
	// TypeLocal is the local filesystem backend.
	TypeLocal StorageType = "local"
	// TypeMinio is the self-hosted S3-compatible object store.
	TypeMinio StorageType = "minio"
	// TypeS3 is the cloud object store.
	TypeS3 StorageType = "s3"
)

// ParseStorageType validates a storage type string.
func ParseStorageType(s string) (StorageType, error) {
	switch StorageType(s) {
	case TypeLocal, TypeMinio, TypeS3:
		return StorageType(s), nil
	default:
		return "", fmt.Errorf("%w: unknown storage type %q", ErrInvalidInput, s)
	}
}

// Backend is the interface for content storage backends. Implementations
// handle raw object I/O against one storage technology; every call may
// block on disk or network I/O and must honor ctx cancellation.
type Backend interface {
	// Put stores body under the given location. The ledger row is written
	// by the caller only after Put returns success, so a cancelled or
	// failed Put never leaves a record pointing at partial bytes.
	Put(ctx context.Context, location string, body io.Reader, size int64, contentType string) error

	// Get retrieves an object and its size. Returns ErrNotFound if the
	// location does not exist in this backend.
	Get(ctx context.Context, location string) (io.ReadCloser, int64, error)

	// Delete removes an object. Deleting an absent object is not an error.
	Delete(ctx context.Context, location string) error

	// Exists reports whether an object exists. It returns an error only
	// for connectivity failures, never for a missing object.
	Exists(ctx context.Context, location string) (bool, error)

	// Presign produces a time-limited URL granting access to the object
	// for the given ttl. The local backend returns ErrPresignUnsupported;
	// the router never asks it to presign.
	Presign(ctx context.Context, location string, ttl time.Duration) (string, error)

	// Type returns the backend's storage type tag.
	Type() StorageType

	// Close releases any resources held by the backend.
	Close() error
}
