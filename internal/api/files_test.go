package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/inkpress/inkpress/internal/file"
	"github.com/inkpress/inkpress/internal/storage"
)

func newTestServer(t *testing.T, defaultType storage.StorageType, maxUpload int64) (http.Handler, *file.MemoryLedger) {
	t.Helper()
	router, err := storage.NewRouter(defaultType,
		storage.NewMemoryBackend(storage.TypeLocal),
		storage.NewMemoryBackend(storage.TypeMinio))
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	ledger := file.NewMemoryLedger()
	svc := file.NewService(router, ledger, 15*time.Minute)
	return NewServer(svc, maxUpload).Routes(), ledger
}

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(content)
	w.Close()
	return &buf, w.FormDataContentType()
}

func TestRouteTableRegisters(t *testing.T) {
	// ServeMux panics at registration when two patterns are ambiguous;
	// building the table and dispatching both the owner route and the
	// local-serve route proves they coexist.
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("route registration panicked: %v", r)
		}
	}()
	h, _ := newTestServer(t, storage.TypeLocal, 1<<20)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/files/profile/user-1", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("owner route status = %d, want 404 for missing file", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/uploads/profiles/missing.png", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("uploads route status = %d, want 404 for missing object", rr.Code)
	}
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t, storage.TypeLocal, 1<<20)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/health", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func TestUploadAndDownloadLocal(t *testing.T) {
	h, _ := newTestServer(t, storage.TypeLocal, 1<<20)

	payload := []byte("profile picture bytes")
	body, ctype := multipartBody(t, "avatar.png", payload)
	req := httptest.NewRequest("POST", "/api/v1/files/profile/user-1", body)
	req.Header.Set("Content-Type", ctype)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp fileResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.StorageType != "local" {
		t.Errorf("storage_type = %s, want local", resp.StorageType)
	}
	if resp.Size != int64(len(payload)) {
		t.Errorf("size = %d, want %d", resp.Size, len(payload))
	}
	if !strings.HasPrefix(resp.URL, "/api/v1/uploads/profiles/") {
		t.Errorf("url = %s", resp.URL)
	}
	if resp.ExpiresAt != "" {
		t.Error("local url should not carry an expiry")
	}

	// Download by owner streams the bytes back
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/files/profile/user-1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("download status = %d", rr.Code)
	}
	if !bytes.Equal(rr.Body.Bytes(), payload) {
		t.Error("downloaded bytes differ from upload")
	}

	// The resolved uploads URL serves the same bytes
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", resp.URL, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("uploads path status = %d", rr.Code)
	}
	if !bytes.Equal(rr.Body.Bytes(), payload) {
		t.Error("uploads path bytes differ from upload")
	}
}

func TestDownloadObjectStoreRedirects(t *testing.T) {
	h, _ := newTestServer(t, storage.TypeMinio, 1<<20)

	body, ctype := multipartBody(t, "cover.jpg", []byte("cover"))
	req := httptest.NewRequest("POST", "/api/v1/files/cover/article-7", body)
	req.Header.Set("Content-Type", ctype)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/files/cover/article-7", nil))
	if rr.Code != http.StatusFound {
		t.Fatalf("download status = %d, want 302", rr.Code)
	}
	loc := rr.Header().Get("Location")
	if !strings.HasPrefix(loc, "memory://minio/") {
		t.Errorf("redirect location = %s", loc)
	}
}

func TestUploadReplacesExisting(t *testing.T) {
	h, ledger := newTestServer(t, storage.TypeLocal, 1<<20)
	owner := file.OwnerRef{Kind: file.OwnerProfile, ID: "user-1"}

	for _, content := range []string{"first", "second"} {
		body, ctype := multipartBody(t, "avatar.png", []byte(content))
		req := httptest.NewRequest("POST", "/api/v1/files/profile/user-1", body)
		req.Header.Set("Content-Type", ctype)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusCreated {
			t.Fatalf("upload %q status = %d", content, rr.Code)
		}
	}

	recs, _ := ledger.ListByOwner(context.Background(), owner)
	if len(recs) != 1 {
		t.Fatalf("owner has %d records, want 1", len(recs))
	}
	if recs[0].Size != int64(len("second")) {
		t.Error("old record survived the replacement")
	}
}

func TestUploadValidation(t *testing.T) {
	h, _ := newTestServer(t, storage.TypeLocal, 1<<20)

	// Unknown owner kind
	body, ctype := multipartBody(t, "x.png", []byte("x"))
	req := httptest.NewRequest("POST", "/api/v1/files/banner/b-1", body)
	req.Header.Set("Content-Type", ctype)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown kind status = %d, want 400", rr.Code)
	}

	// Missing file field
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	w.WriteField("other", "value")
	w.Close()
	req = httptest.NewRequest("POST", "/api/v1/files/profile/user-1", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing field status = %d, want 400", rr.Code)
	}

}

func TestUploadSizeCap(t *testing.T) {
	h, _ := newTestServer(t, storage.TypeLocal, 4096)

	body, ctype := multipartBody(t, "big.bin", bytes.Repeat([]byte("x"), 64*1024))
	req := httptest.NewRequest("POST", "/api/v1/files/profile/user-1", body)
	req.Header.Set("Content-Type", ctype)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized upload status = %d, want 413", rr.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Code != "upload_too_large" {
		t.Errorf("code = %s, want upload_too_large", resp.Code)
	}
}

func TestDownloadMissing(t *testing.T) {
	h, _ := newTestServer(t, storage.TypeLocal, 1<<20)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/files/profile/nobody", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Code != "not_found" {
		t.Errorf("code = %s, want not_found", resp.Code)
	}
}

func TestDelete(t *testing.T) {
	h, ledger := newTestServer(t, storage.TypeLocal, 1<<20)

	body, ctype := multipartBody(t, "doc.pdf", []byte("attachment"))
	req := httptest.NewRequest("POST", "/api/v1/files/attachment/article-1", body)
	req.Header.Set("Content-Type", ctype)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("upload status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("DELETE", "/api/v1/files/attachment/article-1", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", rr.Code)
	}

	recs, _ := ledger.ListByOwner(context.Background(), file.OwnerRef{Kind: file.OwnerAttachment, ID: "article-1"})
	if len(recs) != 0 {
		t.Error("record survived delete")
	}

	// Second delete: nothing left
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("DELETE", "/api/v1/files/attachment/article-1", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rr.Code)
	}
}

func TestPresignEndpoint(t *testing.T) {
	h, ledger := newTestServer(t, storage.TypeMinio, 1<<20)

	body, ctype := multipartBody(t, "cover.jpg", []byte("cover"))
	req := httptest.NewRequest("POST", "/api/v1/files/cover/article-1", body)
	req.Header.Set("Content-Type", ctype)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("upload status = %d", rr.Code)
	}

	rec, err := ledger.GetByOwner(context.Background(), file.OwnerRef{Kind: file.OwnerCover, ID: "article-1"})
	if err != nil {
		t.Fatalf("GetByOwner: %v", err)
	}

	reqBody, _ := json.Marshal(presignRequest{
		StorageType: "minio",
		Location:    rec.Location,
		TTLSeconds:  600,
	})
	req = httptest.NewRequest("POST", "/api/v1/files/presign", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("presign status = %d, body %s", rr.Code, rr.Body.String())
	}

	var resp presignResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.HasPrefix(resp.URL, "memory://minio/") {
		t.Errorf("url = %s", resp.URL)
	}
	expires, err := time.Parse(time.RFC3339, resp.ExpiresAt)
	if err != nil {
		t.Fatalf("parse expires_at: %v", err)
	}
	if until := time.Until(expires); until < 9*time.Minute || until > 11*time.Minute {
		t.Errorf("expiry %v from now, want about 10m", until)
	}
}

func TestPresignEndpointValidation(t *testing.T) {
	h, _ := newTestServer(t, storage.TypeMinio, 1<<20)

	cases := []string{
		`{"storage_type":"ftp","location":"x"}`,
		`{"storage_type":"minio","location":"x","ttl_seconds":-1}`,
		`not json`,
	}
	for _, c := range cases {
		req := httptest.NewRequest("POST", "/api/v1/files/presign", strings.NewReader(c))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("presign(%s) status = %d, want 400", c, rr.Code)
		}
	}
}

func TestServeLocalRejectsTraversal(t *testing.T) {
	h, _ := newTestServer(t, storage.TypeLocal, 1<<20)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/uploads/profiles/%2e%2e/secret", nil)
	h.ServeHTTP(rr, req)
	if rr.Code == http.StatusOK {
		t.Error("traversal location served")
	}
}
