// Package postgres provides the PostgreSQL-backed file-record ledger.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/inkpress/inkpress/internal/file"
	"github.com/inkpress/inkpress/internal/logging"
	"github.com/inkpress/inkpress/internal/metrics"
	"github.com/inkpress/inkpress/internal/storage"
)

const recordColumns = `id, owner_kind, owner_id, storage_type, location, original_name, size, mime_type, version, created_at`

// Ledger is a PostgreSQL file.Ledger.
type Ledger struct {
	db *sql.DB
}

// New opens a connection pool and verifies connectivity.
func New(databaseURL string) (*Ledger, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Ledger{db: db}, nil
}

// NewFromDB wraps an existing connection (used by tests).
func NewFromDB(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Close closes the connection pool.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// UpdateConnectionMetrics publishes pool stats.
func (l *Ledger) UpdateConnectionMetrics() {
	metrics.SetDBConnectionsOpen(l.db.Stats().OpenConnections)
}

// Migrate runs SQL migration files in lexical order.
func (l *Ledger) Migrate(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}

	for _, f := range files {
		logging.Info("running migration", zap.String("file", filepath.Base(f)))
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := l.db.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}

	return nil
}

// Insert persists a new record. The unique index on
// (storage_type, location) turns naming collisions into ErrConflict.
func (l *Ledger) Insert(ctx context.Context, rec *file.Record) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("file_insert", time.Since(start)) }()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Version == 0 {
		rec.Version = 1
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO file_records (id, owner_kind, owner_id, storage_type, location, original_name, size, mime_type, version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, string(rec.Owner.Kind), rec.Owner.ID, string(rec.StorageType), rec.Location,
		rec.OriginalName, rec.Size, rec.MimeType, rec.Version, rec.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: location %s already used in %s", storage.ErrConflict, rec.Location, rec.StorageType)
		}
		return fmt.Errorf("insert file record: %w", err)
	}
	return nil
}

// GetByID loads one record.
func (l *Ledger) GetByID(ctx context.Context, id string) (*file.Record, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("file_get_by_id", time.Since(start)) }()

	row := l.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM file_records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: file record %s", storage.ErrNotFound, id)
	}
	return rec, err
}

// GetByOwner loads the newest record for an owner.
func (l *Ledger) GetByOwner(ctx context.Context, owner file.OwnerRef) (*file.Record, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("file_get_by_owner", time.Since(start)) }()

	row := l.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM file_records
		 WHERE owner_kind = $1 AND owner_id = $2
		 ORDER BY created_at DESC LIMIT 1`,
		string(owner.Kind), owner.ID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no file for %s", storage.ErrNotFound, owner)
	}
	return rec, err
}

// ListByOwner loads all records for an owner, oldest first.
func (l *Ledger) ListByOwner(ctx context.Context, owner file.OwnerRef) ([]*file.Record, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("file_list_by_owner", time.Since(start)) }()

	rows, err := l.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM file_records
		 WHERE owner_kind = $1 AND owner_id = $2
		 ORDER BY created_at`,
		string(owner.Kind), owner.ID)
	if err != nil {
		return nil, fmt.Errorf("list by owner: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ListByStorageType loads all records currently on the given backend,
// oldest first. Used by the migration coordinator to select its work set.
func (l *Ledger) ListByStorageType(ctx context.Context, t storage.StorageType) ([]*file.Record, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("file_list_by_storage_type", time.Since(start)) }()

	rows, err := l.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM file_records
		 WHERE storage_type = $1
		 ORDER BY created_at`,
		string(t))
	if err != nil {
		return nil, fmt.Errorf("list by storage type: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// UpdateStorage is the atomic cut-over: one conditional UPDATE that flips
// storage_type and location together, guarded by the version read before
// the copy. Zero rows means someone else got there first.
func (l *Ledger) UpdateStorage(ctx context.Context, id string, expectVersion int, newType storage.StorageType, newLocation string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("file_update_storage", time.Since(start)) }()

	res, err := l.db.ExecContext(ctx,
		`UPDATE file_records
		 SET storage_type = $1, location = $2, version = version + 1
		 WHERE id = $3 AND version = $4`,
		string(newType), newLocation, id, expectVersion)
	if err != nil {
		return fmt.Errorf("update storage for %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s: %w", id, err)
	}
	if n == 0 {
		// Missing row and stale version both land here; distinguish them
		// for the caller.
		if _, getErr := l.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: file record %s changed since read (expected version %d)",
			storage.ErrConflict, id, expectVersion)
	}
	return nil
}

// Delete removes a record.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("file_delete", time.Since(start)) }()

	res, err := l.db.ExecContext(ctx, `DELETE FROM file_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete file record %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: file record %s", storage.ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*file.Record, error) {
	var rec file.Record
	var ownerKind, storageType string
	if err := s.Scan(&rec.ID, &ownerKind, &rec.Owner.ID, &storageType, &rec.Location,
		&rec.OriginalName, &rec.Size, &rec.MimeType, &rec.Version, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Owner.Kind = file.OwnerKind(ownerKind)
	rec.StorageType = storage.StorageType(storageType)
	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]*file.Record, error) {
	var out []*file.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}
