// Package api provides the HTTP server and handlers for the file
// endpoints.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/inkpress/inkpress/internal/file"
	"github.com/inkpress/inkpress/internal/logging"
	"github.com/inkpress/inkpress/internal/metrics"
	"github.com/inkpress/inkpress/internal/storage"
)

// Server is the HTTP server for file upload, download and presign.
type Server struct {
	files         *file.Service
	maxUploadSize int64
}

// NewServer creates a Server.
func NewServer(files *file.Service, maxUploadSize int64) *Server {
	return &Server{
		files:         files,
		maxUploadSize: maxUploadSize,
	}
}

// Routes builds the HTTP handler with metrics middleware applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/v1/files/presign", s.handlePresign)
	// Local-serve lives outside /api/v1/files so the wildcard cannot
	// overlap the owner routes (ServeMux rejects ambiguous patterns).
	mux.HandleFunc("GET /api/v1/uploads/{location...}", s.handleServeLocal)
	mux.HandleFunc("POST /api/v1/files/{kind}/{id}", s.handleUpload)
	mux.HandleFunc("GET /api/v1/files/{kind}/{id}", s.handleDownload)
	mux.HandleFunc("DELETE /api/v1/files/{kind}/{id}", s.handleDelete)

	return metrics.Middleware(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// errorResponse is the machine-readable failure body. Messages stay
// generic; backend addresses and filesystem paths never leak to clients.
type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// errUploadTooLarge marks a request body over the configured upload cap.
// A client sending too much is not a backend capacity problem, so this is
// kept apart from storage.ErrQuotaExceeded.
var errUploadTooLarge = errors.New("upload too large")

// writeError maps the shared error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	var code, msg string

	switch {
	case errors.Is(err, storage.ErrInvalidInput):
		status, code, msg = http.StatusBadRequest, "invalid_input", "invalid request"
	case errors.Is(err, storage.ErrNotFound):
		status, code, msg = http.StatusNotFound, "not_found", "file not found"
	case errors.Is(err, storage.ErrConflict):
		status, code, msg = http.StatusConflict, "conflict", "resource changed concurrently"
	case errors.Is(err, errUploadTooLarge):
		status, code, msg = http.StatusRequestEntityTooLarge, "upload_too_large", "upload exceeds the size limit"
	case errors.Is(err, storage.ErrQuotaExceeded):
		status, code, msg = http.StatusInsufficientStorage, "quota_exceeded", "storage quota exceeded"
	case errors.Is(err, storage.ErrIncompleteRecord):
		status, code, msg = http.StatusInternalServerError, "incomplete_record", "file record is incomplete"
	case errors.Is(err, storage.ErrUnavailable):
		status, code, msg = http.StatusServiceUnavailable, "storage_unavailable", "storage temporarily unavailable"
	default:
		status, code, msg = http.StatusInternalServerError, "internal", "internal error"
	}

	if status >= 500 {
		logging.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("code", code),
			zap.Error(err))
	}

	writeJSON(w, status, errorResponse{Code: code, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
