// Package ingest is the upload-side helper: store the original, create the
// photo row attached to the group's Default meeting and enqueue the
// processing job. The three steps either all stick or all unwind, so a
// failed upload never leaves an orphan row or orphan file behind.
package ingest

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/YangSeungWon/photo-timeline/internal/meeting"
	"github.com/YangSeungWon/photo-timeline/pkg/blob"
	"github.com/YangSeungWon/photo-timeline/pkg/database"
	"github.com/YangSeungWon/photo-timeline/pkg/fileutil"
	"github.com/YangSeungWon/photo-timeline/pkg/logger"
	"github.com/YangSeungWon/photo-timeline/pkg/models"
	"github.com/YangSeungWon/photo-timeline/pkg/queue"
)

// Enqueuer schedules the per-photo job. Satisfied by *queue.Client.
type Enqueuer interface {
	EnqueueProcessPhoto(ctx context.Context, payload queue.ProcessPhotoPayload) error
}

// Ingester accepts uploads.
type Ingester struct {
	db     *database.DB
	blobs  blob.Store
	queue  Enqueuer
	logger *logger.Logger
}

// New creates an ingester.
func New(db *database.DB, blobs blob.Store, q Enqueuer, log *logger.Logger) *Ingester {
	return &Ingester{
		db:     db,
		blobs:  blobs,
		queue:  q,
		logger: log.WithField("component", "ingest"),
	}
}

// Upload describes one incoming file.
type Upload struct {
	GroupID    uuid.UUID
	UploaderID uuid.UUID
	Filename   string
	Body       io.Reader
}

// CreatePhoto stores the upload and hands it to the pipeline. On enqueue
// failure both the row and the blob are removed before the error returns.
func (i *Ingester) CreatePhoto(ctx context.Context, up Upload) (*models.Photo, error) {
	photoID := uuid.New()

	// Blob paths are <group_id>/<photo_id>_<original name>; the photo id
	// prefix keeps same-named uploads from colliding.
	blobPath := path.Join(up.GroupID.String(), fmt.Sprintf("%s_%s", photoID, up.Filename))

	size, err := i.blobs.Put(blobPath, up.Body)
	if err != nil {
		return nil, fmt.Errorf("store blob: %w", err)
	}

	absPath := i.blobs.AbsPath(blobPath)
	hash, err := fileutil.HashFile(absPath)
	if err != nil {
		i.discardBlob(blobPath)
		return nil, fmt.Errorf("hash file: %w", err)
	}

	defaultID, err := meeting.EnsureDefaultMeeting(ctx, i.db.Pool(), up.GroupID)
	if err != nil {
		i.discardBlob(blobPath)
		return nil, fmt.Errorf("ensure default meeting: %w", err)
	}

	photo := &models.Photo{
		ID:           photoID,
		GroupID:      up.GroupID,
		UploaderID:   up.UploaderID,
		MeetingID:    &defaultID,
		FilenameOrig: blobPath,
		FileSize:     size,
		FileHash:     hash,
		MimeType:     fileutil.MimeType(up.Filename),
		UploadedAt:   time.Now().UTC(),
	}

	if err := i.insertPhoto(ctx, photo); err != nil {
		i.discardBlob(blobPath)
		return nil, fmt.Errorf("insert photo: %w", err)
	}

	payload := queue.ProcessPhotoPayload{PhotoID: photoID.String(), FilePath: absPath}
	if err := i.queue.EnqueueProcessPhoto(ctx, payload); err != nil {
		// Unwind so no unprocessed orphan survives. The user retries the
		// whole upload.
		if dbErr := i.db.Exec(ctx, `DELETE FROM photos WHERE id = $1`, photoID); dbErr != nil {
			i.logger.WithError(dbErr).WithField("photo_id", photoID).Error("failed to remove orphan row")
		}
		i.discardBlob(blobPath)
		return nil, fmt.Errorf("enqueue processing: %w", err)
	}

	i.logger.WithFields(map[string]interface{}{
		"photo_id": photoID,
		"group_id": up.GroupID,
		"size":     size,
	}).Info("photo ingested")

	return photo, nil
}

func (i *Ingester) insertPhoto(ctx context.Context, p *models.Photo) error {
	return i.db.Exec(ctx, `
		INSERT INTO photos (id, group_id, uploader_id, meeting_id, filename_orig, file_size, file_hash, mime_type, is_processed, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9)
	`, p.ID, p.GroupID, p.UploaderID, p.MeetingID, p.FilenameOrig, p.FileSize, p.FileHash, p.MimeType, p.UploadedAt)
}

func (i *Ingester) discardBlob(blobPath string) {
	if err := i.blobs.Delete(blobPath); err != nil {
		i.logger.WithError(err).WithField("path", blobPath).Error("failed to remove orphan blob")
	}
}
