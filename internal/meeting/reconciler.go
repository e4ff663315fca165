// Package meeting rebuilds a group's meeting set from the clustering of its
// current photos. Reconciliation runs in one transaction and is idempotent:
// a second run over an unchanged group is a no-op. Manual meetings and their
// photos are never touched.
package meeting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/YangSeungWon/photo-timeline/internal/cluster"
	"github.com/YangSeungWon/photo-timeline/internal/metrics"
	"github.com/YangSeungWon/photo-timeline/pkg/database"
	"github.com/YangSeungWon/photo-timeline/pkg/logger"
	"github.com/YangSeungWon/photo-timeline/pkg/models"
)

// Reconciler rebuilds meeting assignments for a group.
type Reconciler struct {
	db      *database.DB
	gap     time.Duration
	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewReconciler creates a reconciler with the configured clustering gap.
func NewReconciler(db *database.DB, gap time.Duration, log *logger.Logger, m *metrics.Metrics) *Reconciler {
	if gap <= 0 {
		gap = cluster.DefaultGap
	}
	return &Reconciler{
		db:      db,
		gap:     gap,
		logger:  log.WithField("component", "reconciler"),
		metrics: m,
	}
}

// Reconcile rebuilds the group's meetings inside a single transaction.
// Any error rolls the whole run back; the coordinator schedules the retry.
func (r *Reconciler) Reconcile(ctx context.Context, groupID uuid.UUID) error {
	start := time.Now()

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		return r.reconcileTx(ctx, tx, groupID)
	})

	r.metrics.ObserveReconcileDuration(time.Since(start).Seconds())
	if err != nil {
		r.metrics.IncReconcileRuns("failed")
		r.logger.WithError(err).WithField("group_id", groupID).Error("reconciliation failed")
		return err
	}
	r.metrics.IncReconcileRuns("success")
	return nil
}

// reconcileTx is the transaction body. It takes the Querier subset so the
// phases run against pgx.Tx in production and against a plain Querier in
// tests.
func (r *Reconciler) reconcileTx(ctx context.Context, q database.Querier, groupID uuid.UUID) error {
	records, err := r.loadTimestamped(ctx, q, groupID)
	if err != nil {
		return fmt.Errorf("load photos: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	defaultID, err := EnsureDefaultMeeting(ctx, q, groupID)
	if err != nil {
		return fmt.Errorf("ensure default meeting: %w", err)
	}

	// Park phase. Every non-manual photo moves to the Default meeting so
	// the prune phase never hits a foreign-key conflict.
	if err := r.parkPhotos(ctx, q, groupID, defaultID); err != nil {
		return fmt.Errorf("park photos: %w", err)
	}

	// Prune phase. Auto meetings whose live count is zero go away.
	if err := r.pruneEmptyAutos(ctx, q, groupID); err != nil {
		return fmt.Errorf("prune meetings: %w", err)
	}

	clusterInput := make([]cluster.Record, len(records))
	byID := make(map[uuid.UUID]PhotoRecord, len(records))
	for i, rec := range records {
		shotAt := rec.ShotAt
		clusterInput[i] = cluster.Record{ID: rec.ID, ShotAt: &shotAt}
		byID[rec.ID] = rec
	}

	buckets := BucketByDate(cluster.Cluster(clusterInput, r.gap), byID)

	// Assign phase.
	for _, bucket := range buckets {
		if err := r.assignBucket(ctx, q, groupID, bucket); err != nil {
			return fmt.Errorf("assign bucket %s: %w", bucket.Date.Format("2006-01-02"), err)
		}
	}

	if err := r.recountDefault(ctx, q, defaultID); err != nil {
		return fmt.Errorf("recount default meeting: %w", err)
	}

	r.metrics.SetMeetingsLive(groupID.String(), len(buckets))
	r.logger.WithFields(map[string]interface{}{
		"group_id": groupID,
		"photos":   len(records),
		"meetings": len(buckets),
	}).Info("group reconciled")

	return nil
}

// loadTimestamped loads the group's timestamped photos in deterministic
// order. Photos sitting in manual meetings stay where the user put them,
// so they are excluded here and in the park phase.
func (r *Reconciler) loadTimestamped(ctx context.Context, q database.Querier, groupID uuid.UUID) ([]PhotoRecord, error) {
	rows, err := q.Query(ctx, `
		SELECT p.id, p.shot_at, p.gps_lat, p.gps_lon
		FROM photos p
		LEFT JOIN meetings m ON m.id = p.meeting_id
		WHERE p.group_id = $1
		  AND p.shot_at IS NOT NULL
		  AND (m.kind IS NULL OR m.kind <> 'manual')
		ORDER BY p.shot_at, p.id
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []PhotoRecord
	for rows.Next() {
		var rec PhotoRecord
		if err := rows.Scan(&rec.ID, &rec.ShotAt, &rec.Lat, &rec.Lon); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// EnsureDefaultMeeting returns the group's Default meeting id, creating the
// row if it does not exist. Under a concurrent create the insert loses to
// the partial unique index and the winner's row is re-read.
func EnsureDefaultMeeting(ctx context.Context, q database.Querier, groupID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.QueryRow(ctx, `
		SELECT id FROM meetings WHERE group_id = $1 AND kind = 'default'
	`, groupID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, err
	}

	err = q.QueryRow(ctx, `
		INSERT INTO meetings (id, group_id, title, kind, start_time, end_time, meeting_date, photo_count, created_at)
		VALUES ($1, $2, $3, 'default', 'epoch', 'epoch', 'epoch', 0, NOW())
		ON CONFLICT (group_id) WHERE kind = 'default' DO NOTHING
		RETURNING id
	`, uuid.New(), groupID, models.DefaultMeetingTitle).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, err
	}

	// Lost the race; the other session's row exists now.
	err = q.QueryRow(ctx, `
		SELECT id FROM meetings WHERE group_id = $1 AND kind = 'default'
	`, groupID).Scan(&id)
	return id, err
}

func (r *Reconciler) parkPhotos(ctx context.Context, q database.Querier, groupID, defaultID uuid.UUID) error {
	_, err := q.Exec(ctx, `
		UPDATE photos SET meeting_id = $2, updated_at = NOW()
		WHERE group_id = $1
		  AND (meeting_id IS NULL OR meeting_id NOT IN (
			SELECT id FROM meetings WHERE group_id = $1 AND kind = 'manual'
		  ))
	`, groupID, defaultID)
	return err
}

func (r *Reconciler) pruneEmptyAutos(ctx context.Context, q database.Querier, groupID uuid.UUID) error {
	tag, err := q.Exec(ctx, `
		DELETE FROM meetings
		WHERE group_id = $1 AND kind = 'auto'
		  AND NOT EXISTS (SELECT 1 FROM photos WHERE photos.meeting_id = meetings.id)
	`, groupID)
	if err != nil {
		return err
	}
	if n := tag.RowsAffected(); n > 0 {
		r.logger.WithFields(map[string]interface{}{
			"group_id": groupID,
			"pruned":   n,
		}).Debug("pruned empty auto meetings")
	}
	return nil
}

// assignBucket merges the bucket into an existing auto meeting for the date
// or creates one, then points the bucket's photos at it. The merge branch
// only fires when a concurrent writer slipped a meeting in after the prune.
func (r *Reconciler) assignBucket(ctx context.Context, q database.Querier, groupID uuid.UUID, bucket Bucket) error {
	title := models.AutoMeetingTitle(bucket.Date)
	track, err := BuildTrack(bucket.Records)
	if err != nil {
		return fmt.Errorf("build track: %w", err)
	}

	var meetingID uuid.UUID
	err = q.QueryRow(ctx, `
		SELECT id FROM meetings WHERE group_id = $1 AND kind = 'auto' AND title = $2
	`, groupID, title).Scan(&meetingID)

	switch {
	case err == nil:
		_, err = q.Exec(ctx, `
			UPDATE meetings SET
				start_time = LEAST(start_time, $2),
				end_time = GREATEST(end_time, $3),
				photo_count = photo_count + $4,
				track_gps = $5,
				updated_at = NOW()
			WHERE id = $1
		`, meetingID, bucket.Start(), bucket.End(), len(bucket.Records), track)
		if err != nil {
			return fmt.Errorf("merge meeting: %w", err)
		}
	case errors.Is(err, pgx.ErrNoRows):
		meetingID = uuid.New()
		_, err = q.Exec(ctx, `
			INSERT INTO meetings (id, group_id, title, kind, start_time, end_time, meeting_date, photo_count, track_gps, created_at)
			VALUES ($1, $2, $3, 'auto', $4, $5, $6, $7, $8, NOW())
		`, meetingID, groupID, title, bucket.Start(), bucket.End(), bucket.Date, len(bucket.Records), track)
		if err != nil {
			return fmt.Errorf("create meeting: %w", err)
		}
	default:
		return err
	}

	ids := make([]uuid.UUID, len(bucket.Records))
	for i, rec := range bucket.Records {
		ids[i] = rec.ID
	}
	_, err = q.Exec(ctx, `
		UPDATE photos SET meeting_id = $2, updated_at = NOW() WHERE id = ANY($1)
	`, ids, meetingID)
	return err
}

func (r *Reconciler) recountDefault(ctx context.Context, q database.Querier, defaultID uuid.UUID) error {
	_, err := q.Exec(ctx, `
		UPDATE meetings SET
			photo_count = (SELECT COUNT(*) FROM photos WHERE meeting_id = $1),
			updated_at = NOW()
		WHERE id = $1
	`, defaultID)
	return err
}
