package storage

import "errors"

// Error taxonomy shared by all backends, the ledger and the file service.
// Implementations wrap these sentinels with %w so callers can classify
// failures with errors.Is without depending on backend-specific types.
var (
	// ErrInvalidInput marks malformed requests: empty content, path
	// traversal, unknown storage types. Never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks a missing object or file record.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable marks an unreachable or timed-out backend. Network
	// backends retry transient cases internally before surfacing it.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrQuotaExceeded marks a backend capacity limit. Not retried.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrConflict marks an optimistic-concurrency violation on a ledger
	// update: the record changed since it was read.
	ErrConflict = errors.New("record changed concurrently")

	// ErrIncompleteRecord marks a file record with no live location,
	// e.g. after a crash mid-upload. Flagged for operator attention,
	// never auto-repaired.
	ErrIncompleteRecord = errors.New("incomplete file record")

	// ErrPresignUnsupported is returned by backends that cannot produce
	// presigned URLs (the local filesystem).
	ErrPresignUnsupported = errors.New("presign not supported by backend")
)
