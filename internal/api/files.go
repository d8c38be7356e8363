package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/inkpress/inkpress/internal/file"
	"github.com/inkpress/inkpress/internal/metrics"
	"github.com/inkpress/inkpress/internal/storage"
)

// fileResponse is the JSON shape of a stored file.
type fileResponse struct {
	ID           string `json:"id"`
	OwnerKind    string `json:"owner_kind"`
	OwnerID      string `json:"owner_id"`
	StorageType  string `json:"storage_type"`
	OriginalName string `json:"original_name"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mime_type"`
	CreatedAt    string `json:"created_at"`

	URL       string `json:"url"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

func toFileResponse(rec *file.Record, desc *file.AccessDescriptor) fileResponse {
	resp := fileResponse{
		ID:           rec.ID,
		OwnerKind:    string(rec.Owner.Kind),
		OwnerID:      rec.Owner.ID,
		StorageType:  string(rec.StorageType),
		OriginalName: rec.OriginalName,
		Size:         rec.Size,
		MimeType:     rec.MimeType,
		CreatedAt:    rec.CreatedAt.UTC().Format(time.RFC3339),
	}
	if desc != nil {
		resp.URL = desc.URL
		if !desc.ExpiresAt.IsZero() {
			resp.ExpiresAt = desc.ExpiresAt.UTC().Format(time.RFC3339)
		}
	}
	return resp
}

func ownerFromRequest(r *http.Request) (file.OwnerRef, error) {
	kind, err := file.ParseOwnerKind(r.PathValue("kind"))
	if err != nil {
		return file.OwnerRef{}, err
	}
	id := r.PathValue("id")
	if id == "" {
		return file.OwnerRef{}, fmt.Errorf("%w: missing owner id", storage.ErrInvalidInput)
	}
	return file.OwnerRef{Kind: kind, ID: id}, nil
}

// handleUpload accepts a multipart upload (field "file") for an owner
// entity. An existing file for the same owner is replaced: old bytes
// deleted first, then the old record, then the new upload is stored.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if r.ContentLength > s.maxUploadSize {
		writeError(w, r, fmt.Errorf("%w: upload exceeds %d bytes", errUploadTooLarge, s.maxUploadSize))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, fmt.Errorf("%w: upload exceeds %d bytes", errUploadTooLarge, s.maxUploadSize))
			return
		}
		writeError(w, r, fmt.Errorf("%w: malformed multipart body", storage.ErrInvalidInput))
		return
	}

	part, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: missing file field", storage.ErrInvalidInput))
		return
	}
	defer part.Close()

	// Buffer the part so the backend gets a known size and a rewindable
	// body; the ledger write happens only after the Put succeeds.
	data, err := io.ReadAll(part)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: reading upload", storage.ErrInvalidInput))
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = mime.TypeByExtension(path.Ext(header.Filename))
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	rec, err := s.files.Replace(r.Context(), owner, bytes.NewReader(data), int64(len(data)), header.Filename, mimeType)
	if err != nil {
		metrics.RecordUpload(int64(len(data)), false)
		writeError(w, r, err)
		return
	}
	metrics.RecordUpload(rec.Size, true)

	desc, err := s.files.Resolve(r.Context(), rec, 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toFileResponse(rec, desc))
}

// handleDownload resolves an owner's file: local records stream directly,
// object-store records redirect to a presigned URL. An optional
// ?ttl=SECONDS asks for a longer-lived URL; it is passed through
// unmodified.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	rec, err := s.files.Get(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ttl, err := ttlFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	desc, err := s.files.Resolve(r.Context(), rec, ttl)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if desc.Kind == file.AccessRedirect {
		http.Redirect(w, r, desc.URL, http.StatusFound)
		return
	}

	body, size, err := s.files.Open(r.Context(), rec)
	if err != nil {
		metrics.RecordDownload(0, false)
		writeError(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", rec.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": rec.OriginalName}))
	n, err := io.Copy(w, body)
	metrics.RecordDownload(n, err == nil)
}

// handleServeLocal streams a local object by its raw location. This is
// the same-origin path local resolutions point at.
func (s *Server) handleServeLocal(w http.ResponseWriter, r *http.Request) {
	location := r.PathValue("location")

	body, size, err := s.files.OpenLocation(r.Context(), location)
	if err != nil {
		metrics.RecordDownload(0, false)
		writeError(w, r, err)
		return
	}
	defer body.Close()

	if ctype := mime.TypeByExtension(path.Ext(location)); ctype != "" {
		w.Header().Set("Content-Type", ctype)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	n, err := io.Copy(w, body)
	metrics.RecordDownload(n, err == nil)
}

// handleDelete removes an owner's file: backend object first, ledger row
// second. On storage failure the record survives and the client retries.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	rec, err := s.files.Get(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.files.Delete(r.Context(), rec); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type presignRequest struct {
	StorageType string `json:"storage_type"`
	Location    string `json:"location"`
	TTLSeconds  int64  `json:"ttl_seconds,omitempty"`
}

type presignResponse struct {
	URL       string `json:"url"`
	ExpiresAt string `json:"expires_at"`
}

// handlePresign returns a fresh presigned URL for a location the caller
// already knows from a prior resolve.
func (s *Server) handlePresign(w http.ResponseWriter, r *http.Request) {
	var req presignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	t, err := storage.ParseStorageType(req.StorageType)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var ttl time.Duration
	if req.TTLSeconds < 0 {
		writeError(w, r, fmt.Errorf("%w: negative ttl", storage.ErrInvalidInput))
		return
	}
	ttl = time.Duration(req.TTLSeconds) * time.Second

	url, expiresAt, err := s.files.Presign(r.Context(), t, req.Location, ttl)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, presignResponse{
		URL:       url,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	})
}

func ttlFromQuery(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("ttl")
	if raw == "" {
		return 0, nil
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs < 0 {
		return 0, fmt.Errorf("%w: invalid ttl %q", storage.ErrInvalidInput, raw)
	}
	return time.Duration(secs) * time.Second, nil
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed json body", storage.ErrInvalidInput)
	}
	return nil
}
