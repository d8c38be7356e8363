package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestRouterDispatch(t *testing.T) {
	local := NewMemoryBackend(TypeLocal)
	minio := NewMemoryBackend(TypeMinio)

	r, err := NewRouter(TypeLocal, local, minio)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	if r.Default() != local {
		t.Error("Default() should return the local backend")
	}
	if r.DefaultType() != TypeLocal {
		t.Errorf("DefaultType() = %s, want local", r.DefaultType())
	}

	b, err := r.ForType(TypeMinio)
	if err != nil {
		t.Fatalf("ForType(minio): %v", err)
	}
	if b != minio {
		t.Error("ForType(minio) returned the wrong backend")
	}

	if got := len(r.Types()); got != 2 {
		t.Errorf("Types() returned %d entries, want 2", got)
	}
}

func TestRouterMissingType(t *testing.T) {
	r, err := NewRouter(TypeLocal, NewMemoryBackend(TypeLocal))
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	_, err = r.ForType(TypeS3)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("ForType(s3) = %v, want ErrUnavailable", err)
	}
}

func TestRouterConstructionErrors(t *testing.T) {
	// Duplicate type
	if _, err := NewRouter(TypeLocal, NewMemoryBackend(TypeLocal), NewMemoryBackend(TypeLocal)); err == nil {
		t.Error("expected error for duplicate backend type")
	}

	// Default type with no backend
	if _, err := NewRouter(TypeS3, NewMemoryBackend(TypeLocal)); err == nil {
		t.Error("expected error for missing default backend")
	}
}

func TestMemoryBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(TypeMinio)

	payload := []byte("hello object store")
	if err := b.Put(ctx, "attachments/x.txt", bytes.NewReader(payload), int64(len(payload)), "text/plain"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	body, size, err := b.Get(ctx, "attachments/x.txt")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer body.Close()
	if size != int64(len(payload)) {
		t.Errorf("size = %d, want %d", size, len(payload))
	}
	got, _ := io.ReadAll(body)
	if !bytes.Equal(got, payload) {
		t.Errorf("content mismatch: %q", got)
	}

	ok, err := b.Exists(ctx, "attachments/x.txt")
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v; want true, nil", ok, err)
	}

	url, err := b.Presign(ctx, "attachments/x.txt", time.Minute)
	if err != nil {
		t.Fatalf("Presign: %v", err)
	}
	if !strings.HasPrefix(url, "memory://minio/") {
		t.Errorf("unexpected presign url %q", url)
	}

	if err := b.Delete(ctx, "attachments/x.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := b.Get(ctx, "attachments/x.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	// Idempotent delete
	if err := b.Delete(ctx, "attachments/x.txt"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestMemoryBackendRejectsEmptyContent(t *testing.T) {
	b := NewMemoryBackend(TypeLocal)
	err := b.Put(context.Background(), "a/b.txt", bytes.NewReader(nil), 0, "text/plain")
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Put(empty) = %v, want ErrInvalidInput", err)
	}
}
