package file

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inkpress/inkpress/internal/storage"
)

// MemoryLedger is an in-memory Ledger for tests and local development.
// It enforces the same invariants as the postgres implementation:
// location uniqueness per storage type and version-checked updates.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[string]*Record)}
}

func (l *MemoryLedger) Insert(ctx context.Context, rec *Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, existing := range l.records {
		if existing.StorageType == rec.StorageType && existing.Location == rec.Location {
			return fmt.Errorf("%w: location %s already used in %s", storage.ErrConflict, rec.Location, rec.StorageType)
		}
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Version == 0 {
		rec.Version = 1
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	cp := *rec
	l.records[rec.ID] = &cp
	return nil
}

func (l *MemoryLedger) GetByID(ctx context.Context, id string) (*Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: file record %s", storage.ErrNotFound, id)
	}
	cp := *rec
	return &cp, nil
}

func (l *MemoryLedger) GetByOwner(ctx context.Context, owner OwnerRef) (*Record, error) {
	recs, err := l.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: no file for %s", storage.ErrNotFound, owner)
	}
	return recs[0], nil
}

func (l *MemoryLedger) ListByOwner(ctx context.Context, owner OwnerRef) ([]*Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*Record
	for _, rec := range l.records {
		if rec.Owner == owner {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (l *MemoryLedger) ListByStorageType(ctx context.Context, t storage.StorageType) ([]*Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*Record
	for _, rec := range l.records {
		if rec.StorageType == t {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (l *MemoryLedger) UpdateStorage(ctx context.Context, id string, expectVersion int, newType storage.StorageType, newLocation string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[id]
	if !ok {
		return fmt.Errorf("%w: file record %s", storage.ErrNotFound, id)
	}
	if rec.Version != expectVersion {
		return fmt.Errorf("%w: file record %s at version %d, expected %d",
			storage.ErrConflict, id, rec.Version, expectVersion)
	}

	rec.StorageType = newType
	rec.Location = newLocation
	rec.Version++
	return nil
}

func (l *MemoryLedger) Delete(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.records[id]; !ok {
		return fmt.Errorf("%w: file record %s", storage.ErrNotFound, id)
	}
	delete(l.records, id)
	return nil
}
