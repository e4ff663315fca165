package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/YangSeungWon/photo-timeline/pkg/logger"
)

// ServerConfig holds queue server configuration.
type ServerConfig struct {
	// RedisURL is the Redis connection string
	RedisURL string

	// Concurrency is the number of concurrent workers
	Concurrency int

	// Queues maps queue names to priority (higher = more priority)
	Queues map[string]int

	// ShutdownTimeout is how long to wait for active tasks on shutdown
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns configuration with the two pipeline queues.
// The default (per-photo) queue outweighs the cluster queue so metadata and
// thumbnail work keeps flowing while a reconcile runs.
func DefaultServerConfig(redisURL string, concurrency int) ServerConfig {
	return ServerConfig{
		RedisURL:    redisURL,
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueDefault: 6,
			QueueCluster: 3,
		},
		ShutdownTimeout: 30 * time.Second,
	}
}

// Server wraps asynq.Server for task processing.
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *logger.Logger
}

// NewServer creates a new queue server.
func NewServer(cfg ServerConfig, log *logger.Logger) (*Server, error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.Concurrency,
		Queues:          cfg.Queues,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          &asynqLogger{log: log.WithField("component", "asynq")},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.WithFields(map[string]interface{}{
				"task_type": task.Type(),
				"error":     err.Error(),
			}).Error("task processing failed")
		}),
	})

	return &Server{
		server: server,
		mux:    asynq.NewServeMux(),
		logger: log.WithField("component", "queue-server"),
	}, nil
}

// HandleFunc registers a handler function for a task type.
func (s *Server) HandleFunc(taskType string, handler func(context.Context, *asynq.Task) error) {
	s.mux.HandleFunc(taskType, handler)
}

// Start starts the server and begins processing tasks.
func (s *Server) Start() error {
	s.logger.Info("starting queue server")
	return s.server.Start(s.mux)
}

// Shutdown gracefully stops the server, waiting for active tasks.
func (s *Server) Shutdown() {
	s.logger.Info("shutting down queue server")
	s.server.Shutdown()
}

// asynqLogger adapts our logger to asynq's logger interface.
type asynqLogger struct {
	log *logger.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.log.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.log.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.log.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.log.Error(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.log.Fatal(fmt.Sprint(args...)) }
