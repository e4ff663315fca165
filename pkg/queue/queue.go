// Package queue provides durable job queue functionality using Asynq (Redis-based).
// Delivery is at-least-once; all handlers are expected to be idempotent.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/YangSeungWon/photo-timeline/pkg/logger"
)

// Task type constants.
const (
	// TypeProcessPhoto is the per-photo pipeline task (extract, thumbnail, persist).
	TypeProcessPhoto = "photo:process"

	// TypeClusterGroup is the per-group debounced reconcile task.
	TypeClusterGroup = "group:cluster"
)

// Queue names. The cluster queue is separate from the per-photo queue so a
// slow reconcile cannot delay thumbnail/EXIF jobs during a burst.
const (
	QueueDefault = "default"
	QueueCluster = "cluster"
)

// TaskTimeout is the hard per-job timeout for both queues.
const TaskTimeout = 300 * time.Second

// ProcessPhotoPayload is the payload for TypeProcessPhoto tasks.
// Precondition: the photo row exists and points at the group's Default
// meeting, and the file at FilePath is readable.
type ProcessPhotoPayload struct {
	// PhotoID is the UUID of the photo row to process.
	PhotoID string `json:"photo_id"`

	// FilePath is the absolute path to the uploaded original.
	FilePath string `json:"file_path"`
}

// ClusterGroupPayload is the payload for TypeClusterGroup tasks.
type ClusterGroupPayload struct {
	// GroupID is the UUID of the group to reconcile.
	GroupID string `json:"group_id"`

	// Attempt counts reconcile failures, not busy reschedules. The
	// coordinator clears state once it exceeds the configured retry bound.
	Attempt int `json:"attempt,omitempty"`
}

// Client wraps asynq.Client with pipeline-specific enqueue helpers.
type Client struct {
	client *asynq.Client
	logger *logger.Logger
}

// NewClient creates a new queue client.
func NewClient(redisURL string, log *logger.Logger) (*Client, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	return &Client{
		client: asynq.NewClient(redisOpt),
		logger: log.WithField("component", "queue-client"),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueProcessPhoto adds a per-photo processing task to the default queue.
// The photo ID is the uniqueness key, so re-enqueueing the same photo while
// a task for it is still queued is a silent no-op.
func (c *Client) EnqueueProcessPhoto(ctx context.Context, payload ProcessPhotoPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	task := asynq.NewTask(TypeProcessPhoto, data,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.Timeout(TaskTimeout),
		asynq.Unique(time.Hour),
		asynq.TaskID("photo:process:"+payload.PhotoID),
	)

	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
			c.logger.WithField("photo_id", payload.PhotoID).Debug("task already queued, skipping")
			return nil
		}
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"task_id":  info.ID,
		"photo_id": payload.PhotoID,
		"queue":    info.Queue,
	}).Debug("process-photo task enqueued")

	return nil
}

// EnqueueClusterGroup schedules a reconcile task on the cluster queue after
// the given delay. Retries are owned by the debounce coordinator, so the
// queue-level retry count is zero.
func (c *Client) EnqueueClusterGroup(ctx context.Context, payload ClusterGroupPayload, delay time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	task := asynq.NewTask(TypeClusterGroup, data,
		asynq.Queue(QueueCluster),
		asynq.MaxRetry(0),
		asynq.Timeout(TaskTimeout),
		asynq.ProcessIn(delay),
	)

	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to enqueue cluster task: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"task_id":  info.ID,
		"group_id": payload.GroupID,
		"delay":    delay.String(),
		"attempt":  payload.Attempt,
	}).Debug("cluster task scheduled")

	return nil
}
