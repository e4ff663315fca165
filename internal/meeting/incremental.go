package meeting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AttachIncremental is the legacy per-photo path: place one photo into the
// auto meeting whose time span (padded by the gap on both sides) contains
// its shot time, creating a new meeting when none matches. It predates
// batch reconciliation, drifts under out-of-order uploads and exists only
// behind the ops fallback flag for emergency use when the coordinator is
// down.
func (r *Reconciler) AttachIncremental(ctx context.Context, groupID, photoID uuid.UUID) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		var shotAt *time.Time
		err := tx.QueryRow(ctx, `
			SELECT shot_at FROM photos WHERE id = $1 AND group_id = $2
		`, photoID, groupID).Scan(&shotAt)
		if err != nil {
			return fmt.Errorf("load photo: %w", err)
		}
		if shotAt == nil {
			// Timestamp-less photos stay in the Default meeting.
			return nil
		}

		var meetingID uuid.UUID
		err = tx.QueryRow(ctx, `
			SELECT id FROM meetings
			WHERE group_id = $1 AND kind = 'auto'
			  AND $2 BETWEEN start_time - make_interval(secs => $3) AND end_time + make_interval(secs => $3)
			ORDER BY start_time
			LIMIT 1
		`, groupID, *shotAt, r.gap.Seconds()).Scan(&meetingID)

		switch {
		case err == nil:
			_, err = tx.Exec(ctx, `
				UPDATE meetings SET
					start_time = LEAST(start_time, $2),
					end_time = GREATEST(end_time, $2),
					photo_count = photo_count + 1,
					updated_at = NOW()
				WHERE id = $1
			`, meetingID, *shotAt)
			if err != nil {
				return fmt.Errorf("expand meeting: %w", err)
			}
		case errors.Is(err, pgx.ErrNoRows):
			meetingID = uuid.New()
			date := time.Date(shotAt.Year(), shotAt.Month(), shotAt.Day(), 0, 0, 0, 0, shotAt.Location())
			_, err = tx.Exec(ctx, `
				INSERT INTO meetings (id, group_id, title, kind, start_time, end_time, meeting_date, photo_count, created_at)
				VALUES ($1, $2, 'Meeting ' || to_char($6::timestamptz, 'YYYY-MM-DD'), 'auto', $3, $4, $5, 1, NOW())
			`, meetingID, groupID, *shotAt, *shotAt, date, *shotAt)
			if err != nil {
				return fmt.Errorf("create meeting: %w", err)
			}
		default:
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE photos SET meeting_id = $2, updated_at = NOW() WHERE id = $1
		`, photoID, meetingID)
		return err
	})
}
