// Package coordinator collapses bursts of per-photo events into one
// reconciliation per group, run only after a quiet period. Coordination
// state lives in three per-group KV keys:
//
//	cluster:pending:<g>  quiet-window marker, refreshed on every upload
//	cluster:job:<g>      a reconcile job is already scheduled
//	cluster:count:<g>    informational burst size
//
// The KV store is advisory. If it is unreachable, marking degrades to a
// logged no-op and photos simply stay in the Default meeting until an
// operator re-triggers reconciliation.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/YangSeungWon/photo-timeline/internal/metrics"
	"github.com/YangSeungWon/photo-timeline/pkg/kv"
	"github.com/YangSeungWon/photo-timeline/pkg/logger"
	"github.com/YangSeungWon/photo-timeline/pkg/models"
	"github.com/YangSeungWon/photo-timeline/pkg/queue"
)

// proceedThreshold is the pending-key TTL below which a quiet check runs
// anyway. Without it a burst that never quite ends reschedules forever.
const proceedThreshold = 2 * time.Second

// Scheduler schedules a delayed reconcile job. Satisfied by *queue.Client.
type Scheduler interface {
	EnqueueClusterGroup(ctx context.Context, payload queue.ClusterGroupPayload, delay time.Duration) error
}

// Reconciler rebuilds one group's meetings. Satisfied by *meeting.Reconciler.
type Reconciler interface {
	Reconcile(ctx context.Context, groupID uuid.UUID) error
}

// Config holds the debounce timing parameters.
type Config struct {
	// TTL is the quiet window: a group is busy while any upload happened
	// within it.
	TTL time.Duration

	// Delay before the first quiet check after a burst starts.
	Delay time.Duration

	// RetryDelay between attempts after a failed reconciliation.
	RetryDelay time.Duration

	// MaxRetries bounds reconcile failures before state is cleared.
	MaxRetries int
}

// Coordinator debounces per-group reconciliation.
type Coordinator struct {
	store      kv.Store
	scheduler  Scheduler
	reconciler Reconciler
	cfg        Config
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

// New creates a coordinator.
func New(store kv.Store, scheduler Scheduler, reconciler Reconciler, cfg Config, log *logger.Logger, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		store:      store,
		scheduler:  scheduler,
		reconciler: reconciler,
		cfg:        cfg,
		logger:     log.WithField("component", "coordinator"),
		metrics:    m,
	}
}

// MarkClusterPending records that a photo of the group just finished its
// timestamp persist, refreshing the quiet window and scheduling the single
// reconcile job if none is in flight. KV failures degrade to a no-op.
func (c *Coordinator) MarkClusterPending(ctx context.Context, groupID uuid.UUID) {
	pendingKey := models.ClusterPendingKey(groupID)
	jobKey := models.ClusterJobKey(groupID)
	countKey := models.ClusterCountKey(groupID)

	if err := c.store.SetEx(ctx, pendingKey, "1", c.cfg.TTL); err != nil {
		c.degrade(groupID, "set pending key", err)
		return
	}

	if _, err := c.store.Incr(ctx, countKey); err != nil {
		// Counter is informational only.
		c.logger.WithError(err).WithField("group_id", groupID).Warn("failed to bump burst counter")
	}

	scheduled, err := c.store.Exists(ctx, jobKey)
	if err != nil {
		c.degrade(groupID, "check job key", err)
		return
	}
	if scheduled {
		return
	}

	payload := queue.ClusterGroupPayload{GroupID: groupID.String()}
	if err := c.scheduler.EnqueueClusterGroup(ctx, payload, c.cfg.Delay); err != nil {
		c.degrade(groupID, "schedule cluster job", err)
		return
	}

	if err := c.store.SetEx(ctx, jobKey, "1", c.suppressWindow()); err != nil {
		c.logger.WithError(err).WithField("group_id", groupID).Warn("failed to set job suppression key")
	}

	c.logger.WithField("group_id", groupID).Debug("cluster job scheduled")
}

// suppressWindow is the job-key lifetime: quiet window plus scheduling delay
// plus slack, so a stuck job cannot suppress scheduling forever.
func (c *Coordinator) suppressWindow() time.Duration {
	return c.cfg.TTL + c.cfg.Delay + 30*time.Second
}

// ClusterIfQuiet is the scheduled job body: reconcile the group if its
// burst has gone quiet, otherwise reschedule. Returns an error only for
// unexpected scheduling failures; reconcile failures are handled via the
// retry path and reported through logs and metrics.
func (c *Coordinator) ClusterIfQuiet(ctx context.Context, groupID uuid.UUID, attempt int) error {
	pendingKey := models.ClusterPendingKey(groupID)
	jobKey := models.ClusterJobKey(groupID)

	busy, err := c.store.Exists(ctx, pendingKey)
	if err != nil {
		// Can't see the quiet window; reconcile anyway rather than stall.
		c.logger.WithError(err).WithField("group_id", groupID).Warn("pending check failed, proceeding")
	}
	if err == nil && busy {
		ttl, err := c.store.TTL(ctx, pendingKey)
		if err == nil && ttl >= proceedThreshold {
			// Uploads still arriving; check again after the delay.
			c.metrics.IncClusterReschedules()
			payload := queue.ClusterGroupPayload{GroupID: groupID.String(), Attempt: attempt}
			if err := c.scheduler.EnqueueClusterGroup(ctx, payload, c.cfg.Delay); err != nil {
				c.clearState(ctx, groupID)
				return fmt.Errorf("reschedule busy group: %w", err)
			}
			// The rescheduled check is the one job in flight. The job key
			// must outlive it, or a long burst lets it lapse and the next
			// upload starts a second job chain for the group.
			if err := c.store.SetEx(ctx, jobKey, "1", c.suppressWindow()); err != nil {
				c.logger.WithError(err).WithField("group_id", groupID).Warn("failed to refresh job suppression key")
			}
			c.logger.WithFields(map[string]interface{}{
				"group_id": groupID,
				"ttl":      ttl.String(),
			}).Debug("group still busy, rescheduled")
			return nil
		}
		// TTL under the threshold: proceed to avoid livelock when the
		// burst never quite ends.
	}

	if err := c.reconciler.Reconcile(ctx, groupID); err != nil {
		return c.retry(ctx, groupID, attempt, err)
	}

	c.clearState(ctx, groupID)
	return nil
}

// retry schedules the next attempt after a failed reconciliation, keeping
// the KV state so the retry resumes cleanly. Past the retry bound, or when
// rescheduling itself fails, state is cleared so the group cannot stay
// busy forever; the next upload re-arms the coordinator.
func (c *Coordinator) retry(ctx context.Context, groupID uuid.UUID, attempt int, cause error) error {
	next := attempt + 1
	if next > c.cfg.MaxRetries {
		c.logger.WithError(cause).WithFields(map[string]interface{}{
			"group_id": groupID,
			"attempts": attempt,
		}).Error("reconciliation failed permanently, clearing state")
		c.clearState(ctx, groupID)
		return nil
	}

	c.metrics.IncClusterRetries()
	payload := queue.ClusterGroupPayload{GroupID: groupID.String(), Attempt: next}
	if err := c.scheduler.EnqueueClusterGroup(ctx, payload, c.cfg.RetryDelay); err != nil {
		c.logger.WithError(err).WithField("group_id", groupID).Error("retry scheduling failed, clearing state")
		c.clearState(ctx, groupID)
		return fmt.Errorf("schedule retry: %w", err)
	}

	c.logger.WithError(cause).WithFields(map[string]interface{}{
		"group_id": groupID,
		"attempt":  next,
	}).Warn("reconciliation failed, retry scheduled")
	return nil
}

func (c *Coordinator) clearState(ctx context.Context, groupID uuid.UUID) {
	keys := []string{
		models.ClusterPendingKey(groupID),
		models.ClusterJobKey(groupID),
		models.ClusterCountKey(groupID),
	}
	if err := c.store.Delete(ctx, keys...); err != nil {
		c.logger.WithError(err).WithField("group_id", groupID).Warn("failed to clear coordination keys")
	}
}

func (c *Coordinator) degrade(groupID uuid.UUID, op string, err error) {
	c.metrics.IncDebounceDegraded()
	c.logger.WithError(err).WithFields(map[string]interface{}{
		"group_id": groupID,
		"op":       op,
	}).Warn("coordination store unavailable, clustering deferred")
}
