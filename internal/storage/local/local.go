// Package local provides the local filesystem storage backend. Objects
// are plain files under a root directory; writes are atomic (temp file +
// rename). Local disk errors are not retried: a full disk does not get
// better on the second attempt.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/inkpress/inkpress/internal/metrics"
	"github.com/inkpress/inkpress/internal/storage"
)

// Config holds local filesystem backend settings.
type Config struct {
	RootPath string
}

// Backend implements storage.Backend on the local filesystem.
type Backend struct {
	rootPath string
}

// New creates a local backend rooted at cfg.RootPath, creating the root
// if needed.
func New(cfg Config) (*Backend, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("%w: root path is required", storage.ErrInvalidInput)
	}

	info, err := os.Stat(cfg.RootPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.RootPath, 0o755); mkErr != nil {
			return nil, fmt.Errorf("create root path %s: %w", cfg.RootPath, mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat root path %s: %w", cfg.RootPath, err)
	case !info.IsDir():
		return nil, fmt.Errorf("root path %s is not a directory", cfg.RootPath)
	}

	return &Backend{rootPath: cfg.RootPath}, nil
}

// fullPath resolves a validated location to an absolute path under root.
func (b *Backend) fullPath(location string) string {
	return filepath.Join(b.rootPath, filepath.FromSlash(location))
}

// Put writes content atomically under the root directory, creating parent
// directories as needed.
func (b *Backend) Put(ctx context.Context, location string, body io.Reader, size int64, contentType string) error {
	start := time.Now()
	err := b.put(ctx, location, body)
	metrics.RecordStorageOperation(string(storage.TypeLocal), "put", time.Since(start), err == nil)
	return err
}

func (b *Backend) put(ctx context.Context, location string, body io.Reader) error {
	if err := storage.ValidateLocation(location); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path := b.fullPath(location)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return classify(fmt.Errorf("create dirs for %s: %w", location, err))
	}

	// Write to temp file then rename so readers never see partial bytes
	// and a cancelled upload leaves nothing at the final path.
	tmp, err := os.CreateTemp(dir, ".inkpress-*.tmp")
	if err != nil {
		return classify(fmt.Errorf("create temp for %s: %w", location, err))
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, &contextReader{ctx: ctx, r: body})
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return classify(fmt.Errorf("write %s: %w", location, err))
	}
	if n == 0 {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: empty content", storage.ErrInvalidInput)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return classify(fmt.Errorf("close temp for %s: %w", location, err))
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return classify(fmt.Errorf("rename temp to %s: %w", location, err))
	}

	return nil
}

// Get opens a file and returns its size alongside the reader.
func (b *Backend) Get(ctx context.Context, location string) (io.ReadCloser, int64, error) {
	if err := storage.ValidateLocation(location); err != nil {
		return nil, 0, err
	}

	start := time.Now()
	f, err := os.Open(b.fullPath(location))
	if err != nil {
		metrics.RecordStorageOperation(string(storage.TypeLocal), "get", time.Since(start), false)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: %s", storage.ErrNotFound, location)
		}
		return nil, 0, classify(fmt.Errorf("open %s: %w", location, err))
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		metrics.RecordStorageOperation(string(storage.TypeLocal), "get", time.Since(start), false)
		return nil, 0, classify(fmt.Errorf("stat %s: %w", location, err))
	}

	metrics.RecordStorageOperation(string(storage.TypeLocal), "get", time.Since(start), true)
	return f, info.Size(), nil
}

// Delete removes a file. Deleting an absent file is not an error.
func (b *Backend) Delete(ctx context.Context, location string) error {
	if err := storage.ValidateLocation(location); err != nil {
		return err
	}

	start := time.Now()
	err := os.Remove(b.fullPath(location))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		metrics.RecordStorageOperation(string(storage.TypeLocal), "delete", time.Since(start), false)
		return classify(fmt.Errorf("delete %s: %w", location, err))
	}
	metrics.RecordStorageOperation(string(storage.TypeLocal), "delete", time.Since(start), true)
	return nil
}

// Exists reports whether a file exists under the root.
func (b *Backend) Exists(ctx context.Context, location string) (bool, error) {
	if err := storage.ValidateLocation(location); err != nil {
		return false, err
	}

	_, err := os.Stat(b.fullPath(location))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, classify(fmt.Errorf("stat %s: %w", location, err))
	}
	return true, nil
}

// Presign is unsupported: local objects are served directly by the web
// layer from the uploads path.
func (b *Backend) Presign(ctx context.Context, location string, ttl time.Duration) (string, error) {
	return "", storage.ErrPresignUnsupported
}

// Type returns "local".
func (b *Backend) Type() storage.StorageType { return storage.TypeLocal }

// Close is a no-op for local backends.
func (b *Backend) Close() error { return nil }

// classify maps filesystem errors onto the shared taxonomy. ENOSPC and
// EDQUOT are capacity limits; everything else unexpected is treated as the
// backend being unavailable.
func classify(err error) error {
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) {
		return fmt.Errorf("%w: %v", storage.ErrQuotaExceeded, err)
	}
	return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
}

// contextReader aborts a copy when ctx is cancelled, bounding local I/O by
// the caller-supplied timeout.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
