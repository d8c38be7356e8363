// Package metrics provides Prometheus metrics for the inkpress server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkpress_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inkpress_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// File transfer metrics
	fileBytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inkpress_file_bytes_uploaded_total",
			Help: "Total bytes accepted by the upload endpoint",
		},
	)

	fileBytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inkpress_file_bytes_downloaded_total",
			Help: "Total bytes streamed from the download endpoint",
		},
	)

	fileUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkpress_file_uploads_total",
			Help: "Total number of file uploads",
		},
		[]string{"status"},
	)

	fileDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkpress_file_downloads_total",
			Help: "Total number of file downloads",
		},
		[]string{"status"},
	)

	// Storage backend metrics
	storageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inkpress_storage_operation_duration_seconds",
			Help:    "Storage backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	storageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkpress_storage_operations_total",
			Help: "Total storage backend operations",
		},
		[]string{"backend", "operation", "status"},
	)

	presignedURLsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkpress_presigned_urls_total",
			Help: "Total presigned URLs generated",
		},
		[]string{"backend"},
	)

	// Ledger metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inkpress_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inkpress_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	// Migration metrics
	migrationRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkpress_migration_records_total",
			Help: "File records processed by the migration coordinator",
		},
		[]string{"outcome"},
	)

	migrationBytesCopied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inkpress_migration_bytes_copied_total",
			Help: "Total bytes copied between storage backends",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordUpload records a file upload.
func RecordUpload(bytes int64, success bool) {
	fileBytesUploaded.Add(float64(bytes))
	fileUploadsTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordDownload records a file download.
func RecordDownload(bytes int64, success bool) {
	fileBytesDownloaded.Add(float64(bytes))
	fileDownloadsTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordStorageOperation records a backend operation.
func RecordStorageOperation(backend, operation string, duration time.Duration, success bool) {
	storageOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	storageOperationsTotal.WithLabelValues(backend, operation, statusLabel(success)).Inc()
}

// RecordPresignedURL records a presigned URL generation.
func RecordPresignedURL(backend string) {
	presignedURLsTotal.WithLabelValues(backend).Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the number of open database connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

// RecordMigrationRecord records one migrated record's outcome
// ("switched", "skipped", "failed" or "cleaned").
func RecordMigrationRecord(outcome string) {
	migrationRecordsTotal.WithLabelValues(outcome).Inc()
}

// RecordMigrationBytes records bytes copied during migration.
func RecordMigrationBytes(n int64) {
	migrationBytesCopied.Add(float64(n))
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
