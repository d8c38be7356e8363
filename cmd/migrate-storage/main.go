// migrate-storage moves file contents between storage backends.
//
// A run copies every record tagged with the source backend to the
// destination, verifies the copy, then flips the ledger entry. Source
// bytes are retained; pass -cleanup to delete them after the run once
// the retention window has passed.
//
// Usage:
//
//	migrate-storage -from local -to minio
//	migrate-storage -from local -to minio -cleanup -retention 0
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/inkpress/inkpress/internal/config"
	"github.com/inkpress/inkpress/internal/file/postgres"
	"github.com/inkpress/inkpress/internal/logging"
	"github.com/inkpress/inkpress/internal/migrate"
	"github.com/inkpress/inkpress/internal/storage"
	"github.com/inkpress/inkpress/internal/storage/factory"
)

func main() {
	var (
		fromFlag      = flag.String("from", "", "source backend (local, minio or s3)")
		toFlag        = flag.String("to", "", "destination backend (local, minio or s3)")
		workersFlag   = flag.Int("workers", 0, "parallel workers (default: MIGRATE_WORKERS)")
		cleanupFlag   = flag.Bool("cleanup", false, "delete retained source objects after the run")
		retentionFlag = flag.Duration("retention", 24*time.Hour, "minimum age of a switch before its source object is deleted")
	)
	flag.Parse()

	if *fromFlag == "" || *toFlag == "" {
		fmt.Fprintln(os.Stderr, "usage: migrate-storage -from <backend> -to <backend> [-workers N] [-cleanup] [-retention D]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	source, err := storage.ParseStorageType(*fromFlag)
	if err != nil {
		logging.Fatal("invalid -from", zap.Error(err))
	}
	dest, err := storage.ParseStorageType(*toFlag)
	if err != nil {
		logging.Fatal("invalid -to", zap.Error(err))
	}

	workers := cfg.MigrateWorkers
	if *workersFlag > 0 {
		workers = *workersFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledger, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		logging.Fatal("database connection failed", zap.Error(err))
	}
	defer ledger.Close()

	router, err := factory.NewRouter(ctx, cfg)
	if err != nil {
		logging.Fatal("storage router init failed", zap.Error(err))
	}
	defer router.Close()

	coordinator := migrate.New(ledger, router, workers)

	report, err := coordinator.Run(ctx, source, dest)
	if err != nil {
		logging.Fatal("migration run aborted", zap.Error(err))
	}

	fmt.Printf("selected=%d switched=%d skipped=%d failed=%d\n",
		report.Selected, report.Switched, report.Skipped, report.Failed)
	for _, r := range report.Results {
		if r.State == migrate.StateFailed {
			fmt.Printf("  failed %s (%s): %v\n", r.RecordID, r.Owner, r.Err)
		}
	}

	if *cleanupFlag {
		cleanupReport, err := coordinator.Cleanup(ctx, source, report.Results, *retentionFlag)
		if err != nil {
			logging.Fatal("cleanup failed", zap.Error(err))
		}
		fmt.Printf("cleanup: examined=%d deleted=%d failed=%d\n",
			cleanupReport.Examined, cleanupReport.Deleted, cleanupReport.Failed)
	}

	if report.Failed > 0 {
		os.Exit(1)
	}
}
