// Package file tracks uploaded assets: where each one's bytes live, who
// owns it, and how clients get at it. The ledger is the metadata side;
// raw bytes are handled by the storage backends.
package file

import (
	"context"
	"fmt"
	"time"

	"github.com/inkpress/inkpress/internal/storage"
)

// OwnerKind names the domain entity a file belongs to.
type OwnerKind string

const (
	// OwnerProfile is a user profile image.
	OwnerProfile OwnerKind = "profile"
	// OwnerCover is an article cover image.
	OwnerCover OwnerKind = "cover"
	// OwnerAttachment is an article attachment.
	OwnerAttachment OwnerKind = "attachment"
)

// ParseOwnerKind validates an owner kind string.
func ParseOwnerKind(s string) (OwnerKind, error) {
	switch OwnerKind(s) {
	case OwnerProfile, OwnerCover, OwnerAttachment:
		return OwnerKind(s), nil
	default:
		return "", fmt.Errorf("%w: unknown owner kind %q", storage.ErrInvalidInput, s)
	}
}

// OwnerRef identifies the domain object a file belongs to.
type OwnerRef struct {
	Kind OwnerKind
	ID   string
}

func (o OwnerRef) String() string {
	return string(o.Kind) + "/" + o.ID
}

// locationPrefix groups objects by owner kind inside a backend. Purely
// cosmetic for operators browsing a bucket; resolution never parses it.
func (o OwnerRef) locationPrefix() string {
	switch o.Kind {
	case OwnerProfile:
		return "profiles"
	case OwnerCover:
		return "covers"
	default:
		return "attachments"
	}
}

// Record is the metadata row for one stored asset. StorageType plus
// Location are the single source of truth for where the bytes live; both
// are mutated together, and only by the migration coordinator after a
// verified copy.
type Record struct {
	ID           string
	Owner        OwnerRef
	StorageType  storage.StorageType
	Location     string
	OriginalName string
	Size         int64
	MimeType     string
	// Version backs the conditional ledger update: a storage switch only
	// lands if the version still matches the one read.
	Version   int
	CreatedAt time.Time
}

// Ledger is the narrow record interface the database collaborator must
// provide. Location values are unique within a storage type; Insert fails
// with ErrConflict on a collision.
type Ledger interface {
	Insert(ctx context.Context, rec *Record) error
	GetByID(ctx context.Context, id string) (*Record, error)
	GetByOwner(ctx context.Context, owner OwnerRef) (*Record, error)
	ListByOwner(ctx context.Context, owner OwnerRef) ([]*Record, error)
	ListByStorageType(ctx context.Context, t storage.StorageType) ([]*Record, error)

	// UpdateStorage flips a record to a new backend, conditional on the
	// version read beforehand. Returns ErrConflict if the record changed
	// in between — the caller re-reads and retries the whole step.
	UpdateStorage(ctx context.Context, id string, expectVersion int, newType storage.StorageType, newLocation string) error

	Delete(ctx context.Context, id string) error
}
