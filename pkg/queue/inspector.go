package queue

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/YangSeungWon/photo-timeline/pkg/logger"
)

// Inspector wraps asynq.Inspector for operational queue inspection.
type Inspector struct {
	inspector *asynq.Inspector
	logger    *logger.Logger
}

// NewInspector creates a new queue inspector.
func NewInspector(redisURL string, log *logger.Logger) (*Inspector, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	return &Inspector{
		inspector: asynq.NewInspector(redisOpt),
		logger:    log.WithField("component", "queue-inspector"),
	}, nil
}

// Close closes the inspector connection.
func (i *Inspector) Close() error {
	return i.inspector.Close()
}

// QueueStats holds queue statistics for the ops API.
type QueueStats struct {
	Queue string `json:"queue"`

	Pending   int `json:"pending"`
	Active    int `json:"active"`
	Scheduled int `json:"scheduled"`
	Retry     int `json:"retry"`
	Archived  int `json:"archived"`

	ProcessedTotal int `json:"processed_total"`
	FailedTotal    int `json:"failed_total"`

	Timestamp time.Time `json:"timestamp"`
}

// GetQueueStats returns statistics for all queues.
func (i *Inspector) GetQueueStats() ([]QueueStats, error) {
	queues, err := i.inspector.Queues()
	if err != nil {
		return nil, fmt.Errorf("failed to get queues: %w", err)
	}

	var stats []QueueStats
	for _, q := range queues {
		info, err := i.inspector.GetQueueInfo(q)
		if err != nil {
			i.logger.WithError(err).Warnf("failed to get info for queue %s", q)
			continue
		}

		stats = append(stats, QueueStats{
			Queue:          q,
			Pending:        info.Pending,
			Active:         info.Active,
			Scheduled:      info.Scheduled,
			Retry:          info.Retry,
			Archived:       info.Archived,
			ProcessedTotal: int(info.ProcessedTotal),
			FailedTotal:    int(info.FailedTotal),
			Timestamp:      time.Now(),
		})
	}

	return stats, nil
}
