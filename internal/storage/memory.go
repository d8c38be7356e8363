package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"
)

// MemoryBackend is an in-memory Backend used by tests and local
// development. It impersonates a configurable storage type so the router
// and migration coordinator can be exercised without external services.
type MemoryBackend struct {
	mu      sync.RWMutex
	typ     StorageType
	objects map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend reporting the given
// storage type.
func NewMemoryBackend(typ StorageType) *MemoryBackend {
	return &MemoryBackend{
		typ:     typ,
		objects: make(map[string][]byte),
	}
}

func (b *MemoryBackend) Put(ctx context.Context, location string, body io.Reader, size int64, contentType string) error {
	if err := ValidateLocation(location); err != nil {
		return err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read body for %s: %w", location, err)
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty content", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	b.objects[location] = data
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Get(ctx context.Context, location string) (io.ReadCloser, int64, error) {
	if err := ValidateLocation(location); err != nil {
		return nil, 0, err
	}

	b.mu.RLock()
	data, ok := b.objects[location]
	b.mu.RUnlock()
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, location)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (b *MemoryBackend) Delete(ctx context.Context, location string) error {
	if err := ValidateLocation(location); err != nil {
		return err
	}

	b.mu.Lock()
	delete(b.objects, location)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Exists(ctx context.Context, location string) (bool, error) {
	if err := ValidateLocation(location); err != nil {
		return false, err
	}

	b.mu.RLock()
	_, ok := b.objects[location]
	b.mu.RUnlock()
	return ok, nil
}

func (b *MemoryBackend) Presign(ctx context.Context, location string, ttl time.Duration) (string, error) {
	if err := ValidateLocation(location); err != nil {
		return "", err
	}

	b.mu.RLock()
	_, ok := b.objects[location]
	b.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, location)
	}

	expires := time.Now().Add(ttl).Unix()
	return fmt.Sprintf("memory://%s/%s?expires=%d", b.typ, url.PathEscape(location), expires), nil
}

func (b *MemoryBackend) Type() StorageType { return b.typ }

func (b *MemoryBackend) Close() error { return nil }

// Len returns the number of stored objects.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}
