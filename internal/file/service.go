package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/inkpress/inkpress/internal/logging"
	"github.com/inkpress/inkpress/internal/storage"
)

// AccessKind says how a client reaches an object.
type AccessKind string

const (
	// AccessStream means the web layer streams the bytes itself (local
	// storage); the URL is a same-origin path with no expiry.
	AccessStream AccessKind = "stream"
	// AccessRedirect means the client is sent to a presigned URL.
	AccessRedirect AccessKind = "redirect"
)

// AccessDescriptor is the client-usable result of resolving a record.
type AccessDescriptor struct {
	Kind      AccessKind
	URL       string
	ExpiresAt time.Time // zero for AccessStream
}

// Service coordinates the storage router and the ledger. It is the only
// component that both writes objects and writes records, and it orders
// those writes so the ledger never references bytes that are not there.
type Service struct {
	router     *storage.Router
	ledger     Ledger
	presignTTL time.Duration
}

// NewService creates a Service. defaultTTL is used when a caller does not
// ask for a specific presign lifetime.
func NewService(router *storage.Router, ledger Ledger, defaultTTL time.Duration) *Service {
	return &Service{
		router:     router,
		ledger:     ledger,
		presignTTL: defaultTTL,
	}
}

// Router exposes the underlying storage router (used by the migration
// coordinator CLI wiring).
func (s *Service) Router() *storage.Router { return s.router }

// Store writes body to the deployment's default backend, then records it
// in the ledger. Exactly one ledger write on success; zero on failure —
// if Put fails or the ledger insert fails, no record points anywhere. On
// ledger failure the freshly written object is removed again so no
// orphan bytes linger.
func (s *Service) Store(ctx context.Context, owner OwnerRef, body io.Reader, size int64, originalName, mimeType string) (*Record, error) {
	if owner.ID == "" {
		return nil, fmt.Errorf("%w: missing owner id", storage.ErrInvalidInput)
	}
	if size == 0 {
		return nil, fmt.Errorf("%w: empty content", storage.ErrInvalidInput)
	}

	backend := s.router.Default()
	location := storage.NewLocation(owner.locationPrefix(), originalName)

	if err := backend.Put(ctx, location, body, size, mimeType); err != nil {
		return nil, fmt.Errorf("store %s: %w", owner, err)
	}

	rec := &Record{
		Owner:        owner,
		StorageType:  backend.Type(),
		Location:     location,
		OriginalName: originalName,
		Size:         size,
		MimeType:     mimeType,
	}

	if err := s.ledger.Insert(ctx, rec); err != nil {
		if delErr := backend.Delete(ctx, location); delErr != nil {
			logging.Error("orphan object after failed ledger insert",
				zap.String("storage_type", string(backend.Type())),
				zap.String("location", location),
				zap.Error(delErr))
		}
		return nil, fmt.Errorf("record %s: %w", owner, err)
	}

	logging.Info("file stored",
		zap.String("owner", owner.String()),
		zap.String("storage_type", string(rec.StorageType)),
		zap.String("location", rec.Location),
		zap.Int64("size", size))

	return rec, nil
}

// Replace uploads a new file for an owner, deleting every previous one
// first (object before record, same ordering as Delete). Listing instead
// of fetching the newest record also clears stale rows an interrupted
// earlier replace may have left behind.
func (s *Service) Replace(ctx context.Context, owner OwnerRef, body io.Reader, size int64, originalName, mimeType string) (*Record, error) {
	old, err := s.ledger.ListByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("replace %s: %w", owner, err)
	}
	for _, rec := range old {
		if err := s.Delete(ctx, rec); err != nil {
			return nil, fmt.Errorf("replace %s: %w", owner, err)
		}
	}

	return s.Store(ctx, owner, body, size, originalName, mimeType)
}

// Get loads the record for an owner.
func (s *Service) Get(ctx context.Context, owner OwnerRef) (*Record, error) {
	return s.ledger.GetByOwner(ctx, owner)
}

// Resolve maps a record to a client-usable access descriptor. Local
// records resolve to a same-origin stream path; object-store records to a
// presigned URL with the requested ttl (the default when ttl is zero),
// passed through to the backend unmodified.
func (s *Service) Resolve(ctx context.Context, rec *Record, ttl time.Duration) (*AccessDescriptor, error) {
	if rec.Location == "" {
		return nil, fmt.Errorf("%w: record %s has no location", storage.ErrIncompleteRecord, rec.ID)
	}

	backend, err := s.router.ForType(rec.StorageType)
	if err != nil {
		return nil, err
	}

	if rec.StorageType == storage.TypeLocal {
		return &AccessDescriptor{
			Kind: AccessStream,
			URL:  "/api/v1/uploads/" + rec.Location,
		}, nil
	}

	if ttl <= 0 {
		ttl = s.presignTTL
	}
	url, err := backend.Presign(ctx, rec.Location, ttl)
	if err != nil {
		return nil, fmt.Errorf("presign %s: %w", rec.Location, err)
	}

	return &AccessDescriptor{
		Kind:      AccessRedirect,
		URL:       url,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

// Open streams a record's bytes from its backend. Used by the download
// handler for local-serve and by anything needing the raw content.
func (s *Service) Open(ctx context.Context, rec *Record) (io.ReadCloser, int64, error) {
	if rec.Location == "" {
		return nil, 0, fmt.Errorf("%w: record %s has no location", storage.ErrIncompleteRecord, rec.ID)
	}

	backend, err := s.router.ForType(rec.StorageType)
	if err != nil {
		return nil, 0, err
	}
	return backend.Get(ctx, rec.Location)
}

// OpenLocation streams bytes for a raw local location (the uploads path
// handler, where only the location is known).
func (s *Service) OpenLocation(ctx context.Context, location string) (io.ReadCloser, int64, error) {
	backend, err := s.router.ForType(storage.TypeLocal)
	if err != nil {
		return nil, 0, err
	}
	return backend.Get(ctx, location)
}

// Delete removes the object first and the ledger row only after the
// object delete succeeded. A backend failure leaves the record in place
// (fail closed — a live object must never lose its referring record);
// the caller retries.
func (s *Service) Delete(ctx context.Context, rec *Record) error {
	backend, err := s.router.ForType(rec.StorageType)
	if err != nil {
		return err
	}

	if rec.Location != "" {
		if err := backend.Delete(ctx, rec.Location); err != nil {
			return fmt.Errorf("delete object %s: %w", rec.Location, err)
		}
	}

	if err := s.ledger.Delete(ctx, rec.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("delete record %s: %w", rec.ID, err)
	}

	logging.Info("file deleted",
		zap.String("owner", rec.Owner.String()),
		zap.String("storage_type", string(rec.StorageType)),
		zap.String("location", rec.Location))
	return nil
}

// Presign produces a fresh presigned URL for a location the caller
// already knows from a prior resolve.
func (s *Service) Presign(ctx context.Context, t storage.StorageType, location string, ttl time.Duration) (string, time.Time, error) {
	backend, err := s.router.ForType(t)
	if err != nil {
		return "", time.Time{}, err
	}
	if ttl <= 0 {
		ttl = s.presignTTL
	}

	url, err := backend.Presign(ctx, location, ttl)
	if err != nil {
		return "", time.Time{}, err
	}
	return url, time.Now().Add(ttl), nil
}
