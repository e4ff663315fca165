// Package main is the entry point for the photo-timeline worker.
// The worker consumes queue tasks:
//   - per-photo processing (EXIF/GPS extraction, thumbnail, blurhash)
//   - per-group debounced meeting reconciliation
//
// It also serves the operational HTTP API (health, metrics, queue stats,
// manual clustering levers).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/YangSeungWon/photo-timeline/internal/api"
	"github.com/YangSeungWon/photo-timeline/internal/config"
	"github.com/YangSeungWon/photo-timeline/internal/coordinator"
	"github.com/YangSeungWon/photo-timeline/internal/meeting"
	"github.com/YangSeungWon/photo-timeline/internal/metadata"
	"github.com/YangSeungWon/photo-timeline/internal/metrics"
	"github.com/YangSeungWon/photo-timeline/internal/thumbnail"
	"github.com/YangSeungWon/photo-timeline/internal/worker"
	"github.com/YangSeungWon/photo-timeline/pkg/database"
	"github.com/YangSeungWon/photo-timeline/pkg/kv"
	"github.com/YangSeungWon/photo-timeline/pkg/logger"
	"github.com/YangSeungWon/photo-timeline/pkg/queue"
)

func main() {
	cfg := config.Load()

	log := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "worker",
	})

	log.Info("starting photo-timeline worker")

	if !thumbnail.IsFFmpegAvailable() {
		log.Warn("ffmpeg not found in PATH, video thumbnails disabled")
	}
	probe := metadata.ExiftoolProbe{}
	if !probe.Available() {
		log.Warn("exiftool not found in PATH, HEIC/video metadata disabled")
	}

	thumbnail.Initialize()
	defer thumbnail.Shutdown()

	m := metrics.New(cfg.EnableClusterMetrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.AutoMigrate {
		if err := database.RunMigrations(log, cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
	}

	db, err := database.New(ctx, database.DefaultConfig(cfg.DatabaseURL), log)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	store, err := kv.New(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer store.Close()

	queueClient, err := queue.NewClient(cfg.RedisURL, log)
	if err != nil {
		log.Fatalf("failed to create queue client: %v", err)
	}
	defer queueClient.Close()

	inspector, err := queue.NewInspector(cfg.RedisURL, log)
	if err != nil {
		log.Fatalf("failed to create queue inspector: %v", err)
	}
	defer inspector.Close()

	extractor := metadata.NewExtractor(probe, log)
	thumbs := thumbnail.NewBuilder(thumbnail.Config{
		MaxWidth:  cfg.ThumbnailWidth,
		MaxHeight: cfg.ThumbnailHeight,
		Quality:   cfg.ThumbnailQuality,
	}, log)

	reconciler := meeting.NewReconciler(db, cfg.MeetingGap(), log, m)

	coord := coordinator.New(store, queueClient, reconciler, coordinator.Config{
		TTL:        cfg.ClusterTTL(),
		Delay:      cfg.ClusterDelay(),
		RetryDelay: cfg.ClusterRetryDelay(),
		MaxRetries: cfg.ClusterMaxRetries,
	}, log, m)

	queueServer, err := queue.NewServer(queue.DefaultServerConfig(cfg.RedisURL, cfg.Workers), log)
	if err != nil {
		log.Fatalf("failed to create queue server: %v", err)
	}

	w := worker.New(worker.Deps{
		DB:          db,
		Extractor:   extractor,
		Thumbs:      thumbs,
		Coordinator: coord,
		Logger:      log,
		Metrics:     m,
	})
	w.Register(queueServer)

	go func() {
		log.WithField("workers", cfg.Workers).Info("starting queue server")
		if err := queueServer.Start(); err != nil {
			log.Fatalf("queue server failed: %v", err)
		}
	}()
	m.SetWorkerRunning()

	apiServer := api.New(api.Config{
		Port:                cfg.APIPort,
		DB:                  db,
		Inspector:           inspector,
		Scheduler:           queueClient,
		Reconciler:          reconciler,
		Logger:              log,
		IncrementalFallback: cfg.EnableIncrementalFallback,
	})

	go func() {
		if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ops server failed: %v", err)
		}
	}()

	go pollQueueDepth(ctx, inspector, m)

	log.WithFields(map[string]interface{}{
		"workers":     cfg.Workers,
		"upload_dir":  cfg.UploadDir,
		"gap_hours":   cfg.MeetingGapHours,
		"quiet_ttl_s": cfg.ClusterTTLSec,
		"api_port":    cfg.APIPort,
	}).Info("worker started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithField("signal", sig.String()).Info("received shutdown signal")

	m.SetWorkerStopped()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("ops server shutdown error")
	}

	// Waits for active tasks up to the queue shutdown timeout.
	queueServer.Shutdown()
	cancel()

	log.Info("worker stopped")
}

// pollQueueDepth feeds the queue gauges every 15 seconds.
func pollQueueDepth(ctx context.Context, inspector *queue.Inspector, m *metrics.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := inspector.GetQueueStats()
			if err != nil {
				continue
			}
			for _, s := range stats {
				m.SetQueueSize(s.Queue, "pending", s.Pending)
				m.SetQueueSize(s.Queue, "active", s.Active)
				m.SetQueueSize(s.Queue, "retry", s.Retry)
			}
		}
	}
}
