// Package repair recomputes per-meeting photo counts from the photo rows,
// the ground truth. It is an offline one-shot sweep, idempotent and safe
// during live traffic: every meeting is read and written individually, no
// wholesale locks.
package repair

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/YangSeungWon/photo-timeline/pkg/logger"
	"github.com/YangSeungWon/photo-timeline/pkg/models"
)

// store is the database surface the sweep needs. Satisfied by *database.DB.
type store interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) error
}

// Options controls a repair sweep.
type Options struct {
	// DryRun reports drift without writing anything.
	DryRun bool

	// RemoveEmpty deletes auto meetings whose live count is zero.
	// Default and manual meetings are never deleted.
	RemoveEmpty bool
}

// Stats summarizes one sweep.
type Stats struct {
	MeetingsChecked int
	CountsFixed     int
	EmptyRemoved    int

	// TotalPhotos and TotalCounted must match after a clean sweep: every
	// photo row, attached or not, against the sum of photo_count over all
	// meetings. A photo stranded without a meeting therefore shows up as
	// drift instead of vanishing from the report.
	TotalPhotos  int64
	TotalCounted int64

	// Unattached is how many photos have no meeting at all.
	Unattached int64
}

// Consistent reports whether the aggregate invariant holds.
func (s *Stats) Consistent() bool {
	return s.TotalPhotos == s.TotalCounted
}

// Repairer runs the sweep.
type Repairer struct {
	db     store
	logger *logger.Logger
}

// New creates a repairer.
func New(db store, log *logger.Logger) *Repairer {
	return &Repairer{
		db:     db,
		logger: log.WithField("component", "repair"),
	}
}

type meetingRow struct {
	ID         uuid.UUID
	Kind       models.MeetingKind
	PhotoCount int
}

// Run sweeps every meeting, fixing photo_count drift and optionally
// removing empty auto meetings.
func (r *Repairer) Run(ctx context.Context, opts Options) (*Stats, error) {
	meetings, err := r.loadMeetings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load meetings: %w", err)
	}

	stats := &Stats{}
	for _, m := range meetings {
		stats.MeetingsChecked++

		var actual int
		err := r.db.QueryRow(ctx, `
			SELECT COUNT(*) FROM photos WHERE meeting_id = $1
		`, m.ID).Scan(&actual)
		if err != nil {
			return nil, fmt.Errorf("count photos for meeting %s: %w", m.ID, err)
		}

		if opts.RemoveEmpty && actual == 0 && m.Kind == models.MeetingKindAuto {
			if !opts.DryRun {
				if err := r.db.Exec(ctx, `DELETE FROM meetings WHERE id = $1`, m.ID); err != nil {
					return nil, fmt.Errorf("delete empty meeting %s: %w", m.ID, err)
				}
			}
			stats.EmptyRemoved++
			r.logger.WithFields(map[string]interface{}{
				"meeting_id": m.ID,
				"dry_run":    opts.DryRun,
			}).Info("empty auto meeting removed")
			continue
		}

		if actual != m.PhotoCount {
			if !opts.DryRun {
				if err := r.db.Exec(ctx, `
					UPDATE meetings SET photo_count = $2, updated_at = NOW() WHERE id = $1
				`, m.ID, actual); err != nil {
					return nil, fmt.Errorf("fix count for meeting %s: %w", m.ID, err)
				}
			}
			stats.CountsFixed++
			r.logger.WithFields(map[string]interface{}{
				"meeting_id": m.ID,
				"stored":     m.PhotoCount,
				"actual":     actual,
				"dry_run":    opts.DryRun,
			}).Info("photo count fixed")
		}
	}

	if err := r.loadTotals(ctx, stats); err != nil {
		return nil, fmt.Errorf("load totals: %w", err)
	}

	r.logger.WithFields(map[string]interface{}{
		"checked":       stats.MeetingsChecked,
		"fixed":         stats.CountsFixed,
		"removed":       stats.EmptyRemoved,
		"total_photos":  stats.TotalPhotos,
		"total_counted": stats.TotalCounted,
		"unattached":    stats.Unattached,
		"consistent":    stats.Consistent(),
	}).Info("repair sweep finished")

	return stats, nil
}

func (r *Repairer) loadMeetings(ctx context.Context) ([]meetingRow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, kind, photo_count FROM meetings ORDER BY group_id, meeting_date
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var meetings []meetingRow
	for rows.Next() {
		var m meetingRow
		if err := rows.Scan(&m.ID, &m.Kind, &m.PhotoCount); err != nil {
			return nil, err
		}
		meetings = append(meetings, m)
	}
	return meetings, rows.Err()
}

func (r *Repairer) loadTotals(ctx context.Context, stats *Stats) error {
	if err := r.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE meeting_id IS NULL)
		FROM photos
	`).Scan(&stats.TotalPhotos, &stats.Unattached); err != nil {
		return err
	}
	return r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(photo_count), 0) FROM meetings
	`).Scan(&stats.TotalCounted)
}
