package local

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/inkpress/inkpress/internal/storage"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(Config{RootPath: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	// From a single byte up through a multi-megabyte payload
	sizes := []int{1, 100, 64 * 1024, 5 * 1024 * 1024}
	for _, n := range sizes {
		payload := make([]byte, n)
		if _, err := rand.Read(payload); err != nil {
			t.Fatal(err)
		}
		loc := storage.NewLocation("attachments", "blob.bin")

		if err := b.Put(ctx, loc, bytes.NewReader(payload), int64(n), "application/octet-stream"); err != nil {
			t.Fatalf("Put %d bytes: %v", n, err)
		}

		body, size, err := b.Get(ctx, loc)
		if err != nil {
			t.Fatalf("Get %d bytes: %v", n, err)
		}
		if size != int64(n) {
			t.Errorf("size = %d, want %d", size, n)
		}
		got, err := io.ReadAll(body)
		body.Close()
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("%d-byte payload corrupted on round trip", n)
		}
	}
}

func TestPutRejectsEmptyContent(t *testing.T) {
	b := newTestBackend(t)
	err := b.Put(context.Background(), "attachments/empty.bin", bytes.NewReader(nil), 0, "application/octet-stream")
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Put(empty) = %v, want ErrInvalidInput", err)
	}
}

func TestPutRejectsTraversal(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	payload := bytes.NewReader([]byte("x"))

	for _, loc := range []string{"../escape.txt", "/abs.txt", "a/../../b.txt", "a\\b.txt"} {
		err := b.Put(ctx, loc, payload, 1, "text/plain")
		if !errors.Is(err, storage.ErrInvalidInput) {
			t.Errorf("Put(%q) = %v, want ErrInvalidInput", loc, err)
		}
	}
}

func TestPutIsAtomic(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	// A failing reader must leave nothing at the final path and no temp
	// residue in the directory.
	loc := "attachments/partial.bin"
	err := b.Put(ctx, loc, io.MultiReader(bytes.NewReader([]byte("partial")), &failingReader{}), 100, "application/octet-stream")
	if err == nil {
		t.Fatal("expected error from failing reader")
	}

	if ok, _ := b.Exists(ctx, loc); ok {
		t.Error("partial object visible at final path")
	}
	entries, _ := os.ReadDir(filepath.Join(b.rootPath, "attachments"))
	for _, e := range entries {
		t.Errorf("leftover file after failed put: %s", e.Name())
	}
}

func TestPutHonorsContextCancel(t *testing.T) {
	b := newTestBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Put(ctx, "attachments/c.bin", bytes.NewReader([]byte("data")), 4, "application/octet-stream")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Put with cancelled ctx = %v, want context.Canceled", err)
	}
}

func TestGetMissing(t *testing.T) {
	b := newTestBackend(t)
	_, _, err := b.Get(context.Background(), "attachments/nope.bin")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	loc := "attachments/d.bin"
	if err := b.Put(ctx, loc, bytes.NewReader([]byte("bye")), 3, "application/octet-stream"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := b.Delete(ctx, loc); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := b.Delete(ctx, loc); err != nil {
		t.Errorf("second Delete = %v, want nil", err)
	}
	if ok, _ := b.Exists(ctx, loc); ok {
		t.Error("object still exists after delete")
	}
}

func TestPresignUnsupported(t *testing.T) {
	b := newTestBackend(t)
	_, err := b.Presign(context.Background(), "attachments/x.bin", time.Minute)
	if !errors.Is(err, storage.ErrPresignUnsupported) {
		t.Errorf("Presign = %v, want ErrPresignUnsupported", err)
	}
}

func TestNewRejectsFileRoot(t *testing.T) {
	f := filepath.Join(t.TempDir(), "notadir")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(Config{RootPath: f}); err == nil {
		t.Error("expected error for file root path")
	}
}

type failingReader struct{}

func (*failingReader) Read([]byte) (int, error) {
	return 0, errors.New("read failure")
}
