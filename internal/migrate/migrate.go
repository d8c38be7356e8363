// Package migrate moves file contents between storage backends without
// ever losing the source copy. Each record walks an explicit state
// machine; the ledger flip at the end is the only mutation, and it is
// conditional on the version read at selection time.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/inkpress/inkpress/internal/file"
	"github.com/inkpress/inkpress/internal/logging"
	"github.com/inkpress/inkpress/internal/metrics"
	"github.com/inkpress/inkpress/internal/storage"
)

// State is a record's position in the migration state machine.
type State string

const (
	StatePending  State = "pending"
	StateCopying  State = "copying"
	StateVerified State = "verified"
	StateSwitched State = "switched"
	StateDone     State = "done"
	StateFailed   State = "failed"
)

// Result reports the outcome for one record. SourceLocation survives the
// ledger flip so a later Cleanup pass can find the retained source copy.
type Result struct {
	RecordID       string
	Owner          file.OwnerRef
	State          State
	SourceLocation string
	DestLocation   string
	SwitchedAt     time.Time
	Err            error
}

// Report summarizes one coordinator run.
type Report struct {
	Selected int
	Switched int
	Skipped  int
	Failed   int
	Results  []Result
}

// Coordinator copies records from one backend to another and flips their
// ledger entries after the copy is verified. Safe to re-run: records
// already on the destination are skipped, failed records are retried with
// no residue from the aborted attempt.
type Coordinator struct {
	ledger  file.Ledger
	router  *storage.Router
	workers int
}

// New creates a Coordinator with bounded parallelism.
func New(ledger file.Ledger, router *storage.Router, workers int) *Coordinator {
	if workers < 1 {
		workers = 1
	}
	return &Coordinator{ledger: ledger, router: router, workers: workers}
}

// Run migrates every record currently tagged with source to the dest
// backend. Records are processed independently; a failure on one never
// blocks the rest.
func (c *Coordinator) Run(ctx context.Context, source, dest storage.StorageType) (*Report, error) {
	if source == dest {
		return nil, fmt.Errorf("%w: source and destination are both %q", storage.ErrInvalidInput, source)
	}
	srcBackend, err := c.router.ForType(source)
	if err != nil {
		return nil, err
	}
	dstBackend, err := c.router.ForType(dest)
	if err != nil {
		return nil, err
	}

	records, err := c.ledger.ListByStorageType(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}

	report := &Report{Selected: len(records)}
	logging.Info("migration run starting",
		zap.String("source", string(source)),
		zap.String("dest", string(dest)),
		zap.Int("records", len(records)),
		zap.Int("workers", c.workers))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			res := c.migrateOne(gctx, rec, srcBackend, dstBackend)

			mu.Lock()
			report.Results = append(report.Results, res)
			switch res.State {
			case StateDone:
				report.Switched++
				metrics.RecordMigrationRecord("switched")
			case StateFailed:
				report.Failed++
				metrics.RecordMigrationRecord("failed")
			default:
				report.Skipped++
				metrics.RecordMigrationRecord("skipped")
			}
			mu.Unlock()

			// Worker errors are collected in the report; only ctx
			// cancellation aborts the run.
			return gctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}

	logging.Info("migration run finished",
		zap.Int("switched", report.Switched),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))
	return report, nil
}

// migrateOne walks one record through
// Pending -> Copying -> Verified -> Switched -> Done.
// Any failure before Switched leaves the source record untouched and
// cleans up the partial destination object, so a retry starts clean.
func (c *Coordinator) migrateOne(ctx context.Context, rec *file.Record, src, dst storage.Backend) Result {
	res := Result{RecordID: rec.ID, Owner: rec.Owner, State: StatePending, SourceLocation: rec.Location}

	if rec.Location == "" {
		res.State = StateFailed
		res.Err = fmt.Errorf("%w: record %s has no location", storage.ErrIncompleteRecord, rec.ID)
		return res
	}
	// Re-check the tag: the selection list may be stale by the time a
	// worker picks the record up.
	if rec.StorageType == dst.Type() {
		res.State = StateDone
		return res
	}

	// Copying: source get, destination put under a fresh destination
	// location (locations are backend-assigned, never reused across
	// backends).
	res.State = StateCopying
	dstLocation := storage.NewLocation(migrationPrefix(rec), rec.OriginalName)

	body, size, err := src.Get(ctx, rec.Location)
	if err != nil {
		return c.fail(ctx, res, dst, "", fmt.Errorf("read source %s: %w", rec.Location, err))
	}

	err = dst.Put(ctx, dstLocation, body, size, rec.MimeType)
	body.Close()
	if err != nil {
		return c.fail(ctx, res, dst, dstLocation, fmt.Errorf("write destination %s: %w", dstLocation, err))
	}
	metrics.RecordMigrationBytes(size)

	// Verified: the object landed and is the size we read.
	res.State = StateVerified
	ok, err := dst.Exists(ctx, dstLocation)
	if err != nil {
		return c.fail(ctx, res, dst, dstLocation, fmt.Errorf("verify %s: %w", dstLocation, err))
	}
	if !ok {
		return c.fail(ctx, res, dst, dstLocation, fmt.Errorf("destination object %s missing after put", dstLocation))
	}
	if dstSize, err := objectSize(ctx, dst, dstLocation); err == nil && size > 0 && dstSize != size {
		return c.fail(ctx, res, dst, dstLocation,
			fmt.Errorf("destination object %s has size %d, want %d", dstLocation, dstSize, size))
	}

	// Switched: the atomic cut-over. Conditional on the version we read;
	// a conflict means the record moved under us — drop our copy and let
	// the next run look again.
	err = c.ledger.UpdateStorage(ctx, rec.ID, rec.Version, dst.Type(), dstLocation)
	if err != nil {
		return c.fail(ctx, res, dst, dstLocation, fmt.Errorf("switch record %s: %w", rec.ID, err))
	}
	res.State = StateSwitched
	res.DestLocation = dstLocation
	res.SwitchedAt = time.Now()

	// Done. Source bytes are deliberately retained; Cleanup removes them
	// once an operator decides the retention window has passed.
	res.State = StateDone
	logging.Info("record migrated",
		zap.String("record", rec.ID),
		zap.String("owner", rec.Owner.String()),
		zap.String("from", string(rec.StorageType)),
		zap.String("to", string(dst.Type())),
		zap.String("location", dstLocation))
	return res
}

// fail cleans up any partial destination write and marks the record
// failed. The source record and object are untouched.
func (c *Coordinator) fail(ctx context.Context, res Result, dst storage.Backend, dstLocation string, err error) Result {
	if dstLocation != "" {
		if delErr := dst.Delete(ctx, dstLocation); delErr != nil {
			logging.Warn("could not clean up partial destination object",
				zap.String("location", dstLocation),
				zap.Error(delErr))
		}
	}

	res.State = StateFailed
	res.Err = err
	logging.Error("record migration failed",
		zap.String("record", res.RecordID),
		zap.String("owner", res.Owner.String()),
		zap.Error(err))
	return res
}

// CleanupReport summarizes a source-cleanup pass.
type CleanupReport struct {
	Examined int
	Deleted  int
	Failed   int
}

// Cleanup deletes retained source objects for records a previous Run
// switched away from the source backend at least retention ago. This is
// the operator-triggered tail of a migration; it is never run implicitly.
// A record that has moved back to the source backend since the run keeps
// its bytes.
func (c *Coordinator) Cleanup(ctx context.Context, source storage.StorageType, results []Result, retention time.Duration) (*CleanupReport, error) {
	srcBackend, err := c.router.ForType(source)
	if err != nil {
		return nil, err
	}

	report := &CleanupReport{}
	cutoff := time.Now().Add(-retention)

	for _, r := range results {
		if r.State != StateDone || r.SourceLocation == "" {
			continue
		}
		report.Examined++

		if r.SwitchedAt.After(cutoff) {
			continue
		}

		rec, err := c.ledger.GetByID(ctx, r.RecordID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			// Record gone entirely; the object is orphaned either way.
		case err != nil:
			report.Failed++
			continue
		default:
			if rec.StorageType == source {
				// Moved back since the run — leave the bytes alone.
				continue
			}
		}

		if err := srcBackend.Delete(ctx, r.SourceLocation); err != nil {
			report.Failed++
			logging.Warn("cleanup: could not delete source object",
				zap.String("record", r.RecordID),
				zap.String("location", r.SourceLocation),
				zap.Error(err))
			continue
		}
		report.Deleted++
		metrics.RecordMigrationRecord("cleaned")
	}

	return report, nil
}

// migrationPrefix keeps migrated objects grouped like fresh uploads.
func migrationPrefix(rec *file.Record) string {
	switch rec.Owner.Kind {
	case file.OwnerProfile:
		return "profiles"
	case file.OwnerCover:
		return "covers"
	default:
		return "attachments"
	}
}

func objectSize(ctx context.Context, b storage.Backend, location string) (int64, error) {
	body, size, err := b.Get(ctx, location)
	if err != nil {
		return 0, err
	}
	body.Close()
	return size, nil
}
