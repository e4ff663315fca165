// Package worker implements the durable job handlers: the per-photo
// processing pipeline and the per-group debounced reconcile job.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"

	"github.com/YangSeungWon/photo-timeline/internal/coordinator"
	"github.com/YangSeungWon/photo-timeline/internal/metadata"
	"github.com/YangSeungWon/photo-timeline/internal/metrics"
	"github.com/YangSeungWon/photo-timeline/internal/thumbnail"
	"github.com/YangSeungWon/photo-timeline/pkg/database"
	"github.com/YangSeungWon/photo-timeline/pkg/fileutil"
	"github.com/YangSeungWon/photo-timeline/pkg/logger"
	"github.com/YangSeungWon/photo-timeline/pkg/queue"
)

// Worker processes photo and cluster tasks.
type Worker struct {
	db          *database.DB
	extractor   *metadata.Extractor
	thumbs      *thumbnail.Builder
	coordinator *coordinator.Coordinator
	logger      *logger.Logger
	metrics     *metrics.Metrics
}

// Deps holds dependencies for creating a worker.
type Deps struct {
	DB          *database.DB
	Extractor   *metadata.Extractor
	Thumbs      *thumbnail.Builder
	Coordinator *coordinator.Coordinator
	Logger      *logger.Logger
	Metrics     *metrics.Metrics
}

// New creates a worker.
func New(deps Deps) *Worker {
	return &Worker{
		db:          deps.DB,
		extractor:   deps.Extractor,
		thumbs:      deps.Thumbs,
		coordinator: deps.Coordinator,
		logger:      deps.Logger.WithField("component", "worker"),
		metrics:     deps.Metrics,
	}
}

// Register attaches the handlers to the queue server.
func (w *Worker) Register(srv *queue.Server) {
	srv.HandleFunc(queue.TypeProcessPhoto, w.HandleProcessPhoto)
	srv.HandleFunc(queue.TypeClusterGroup, w.HandleClusterGroup)
}

// HandleProcessPhoto runs the per-photo pipeline:
// load row, extract metadata, persist timestamp and GPS, mark the group
// cluster-pending, build the thumbnail, flag the row processed.
//
// The cluster mark goes strictly after the timestamp persist so the
// reconciler never reads a stale shot time. Thumbnail failure is recorded
// on the row but does not fail the job.
func (w *Worker) HandleProcessPhoto(ctx context.Context, task *asynq.Task) error {
	var payload queue.ProcessPhotoPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	photoID, err := uuid.Parse(payload.PhotoID)
	if err != nil {
		return fmt.Errorf("bad photo id %q: %v: %w", payload.PhotoID, err, asynq.SkipRetry)
	}

	log := w.logger.WithField("photo_id", photoID)
	start := time.Now()

	var groupID uuid.UUID
	err = w.db.QueryRow(ctx, `
		SELECT group_id FROM photos WHERE id = $1
	`, photoID).Scan(&groupID)
	if errors.Is(err, pgx.ErrNoRows) {
		// The upload path owns cleanup; a vanished row means the upload
		// was rolled back or the photo was deleted.
		w.metrics.IncPhotosFailed("load")
		log.Warn("photo row missing, dropping job")
		return fmt.Errorf("photo %s not found: %w", photoID, asynq.SkipRetry)
	}
	if err != nil {
		w.metrics.IncPhotosFailed("load")
		return fmt.Errorf("load photo: %w", err)
	}

	if !fileutil.FileExists(payload.FilePath) {
		w.metrics.IncPhotosFailed("load")
		log.WithField("path", payload.FilePath).Warn("file missing, dropping job")
		return fmt.Errorf("file %s not found: %w", payload.FilePath, asynq.SkipRetry)
	}

	mediaType := "image"
	if fileutil.IsVideoFile(payload.FilePath) {
		mediaType = "video"
	}

	// Stage 1: metadata.
	meta, err := w.extractor.Extract(ctx, payload.FilePath)
	if err != nil {
		w.metrics.IncPhotosFailed("metadata")
		return fmt.Errorf("extract metadata: %w", err)
	}
	if err := w.persistMetadata(ctx, photoID, meta); err != nil {
		w.metrics.IncPhotosFailed("database")
		return fmt.Errorf("persist metadata: %w", err)
	}

	// Stage 2: arm the debounce window now that the timestamp is durable.
	w.coordinator.MarkClusterPending(ctx, groupID)

	// Stage 3: thumbnail. Non-fatal; the error lands on the row instead.
	if thumb, err := w.thumbs.Build(ctx, payload.FilePath); err != nil {
		w.metrics.IncPhotosFailed("thumbnail")
		log.WithError(err).Warn("thumbnail generation failed")
		if dbErr := w.recordThumbError(ctx, photoID, err); dbErr != nil {
			w.metrics.IncPhotosFailed("database")
			return fmt.Errorf("record thumbnail error: %w", dbErr)
		}
	} else {
		w.metrics.IncThumbnailsBuilt(mediaType)
		if dbErr := w.persistThumbnail(ctx, photoID, thumb); dbErr != nil {
			w.metrics.IncPhotosFailed("database")
			return fmt.Errorf("persist thumbnail: %w", dbErr)
		}
	}

	if err := w.db.Exec(ctx, `
		UPDATE photos SET is_processed = TRUE, updated_at = NOW() WHERE id = $1
	`, photoID); err != nil {
		w.metrics.IncPhotosFailed("database")
		return fmt.Errorf("mark processed: %w", err)
	}

	duration := time.Since(start)
	w.metrics.IncPhotosProcessed("success")
	w.metrics.ObserveProcessingDuration(mediaType, duration.Seconds())
	log.WithFields(map[string]interface{}{
		"duration_ms": duration.Milliseconds(),
		"has_time":    meta.ShotAt != nil,
		"has_gps":     meta.HasGPS(),
	}).Info("photo processed")

	return nil
}

// HandleClusterGroup runs the debounced quiet check for a group.
func (w *Worker) HandleClusterGroup(ctx context.Context, task *asynq.Task) error {
	var payload queue.ClusterGroupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	groupID, err := uuid.Parse(payload.GroupID)
	if err != nil {
		return fmt.Errorf("bad group id %q: %v: %w", payload.GroupID, err, asynq.SkipRetry)
	}

	return w.coordinator.ClusterIfQuiet(ctx, groupID, payload.Attempt)
}

func (w *Worker) persistMetadata(ctx context.Context, photoID uuid.UUID, meta *metadata.Meta) error {
	var exifJSON []byte
	if len(meta.Raw) > 0 {
		data, err := json.Marshal(meta.Raw)
		if err != nil {
			return fmt.Errorf("serialize exif map: %w", err)
		}
		exifJSON = data
	}

	return w.db.Exec(ctx, `
		UPDATE photos SET
			shot_at = $2,
			gps_lat = $3,
			gps_lon = $4,
			gps_altitude = $5,
			exif_data = $6,
			updated_at = NOW()
		WHERE id = $1
	`, photoID, meta.ShotAt, meta.Lat, meta.Lon, meta.Altitude, exifJSON)
}

func (w *Worker) persistThumbnail(ctx context.Context, photoID uuid.UUID, thumb *thumbnail.Result) error {
	var blurhash *string
	if thumb.Blurhash != "" {
		blurhash = &thumb.Blurhash
	}
	return w.db.Exec(ctx, `
		UPDATE photos SET
			filename_thumb = $2,
			blurhash = $3,
			processing_error = NULL,
			updated_at = NOW()
		WHERE id = $1
	`, photoID, thumb.Path, blurhash)
}

func (w *Worker) recordThumbError(ctx context.Context, photoID uuid.UUID, cause error) error {
	return w.db.Exec(ctx, `
		UPDATE photos SET processing_error = $2, updated_at = NOW() WHERE id = $1
	`, photoID, fmt.Sprintf("thumbnail: %v", cause))
}
