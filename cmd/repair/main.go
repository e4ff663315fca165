// Package main is the photo-count repair tool. It recomputes every
// meeting's photo_count from the photo rows and reports whether the
// aggregate invariant holds. Safe to run against a live system.
//
// Usage:
//
//	repair [--dry-run] [--remove-empty]
//
// Exits 0 on a consistent sweep, 1 on error or remaining inconsistency.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/YangSeungWon/photo-timeline/internal/config"
	"github.com/YangSeungWon/photo-timeline/internal/repair"
	"github.com/YangSeungWon/photo-timeline/pkg/database"
	"github.com/YangSeungWon/photo-timeline/pkg/logger"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "report drift without writing")
	removeEmpty := flag.Bool("remove-empty", false, "delete auto meetings with zero photos")
	flag.Parse()

	cfg := config.Load()

	log := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "repair",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	db, err := database.New(ctx, database.DefaultConfig(cfg.DatabaseURL), log)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	stats, err := repair.New(db, log).Run(ctx, repair.Options{
		DryRun:      *dryRun,
		RemoveEmpty: *removeEmpty,
	})
	if err != nil {
		log.Fatalf("repair sweep failed: %v", err)
	}

	if !*dryRun && !stats.Consistent() {
		log.WithFields(map[string]interface{}{
			"total_photos":  stats.TotalPhotos,
			"total_counted": stats.TotalCounted,
			"unattached":    stats.Unattached,
		}).Error("counts still inconsistent after sweep")
		os.Exit(1)
	}
}
