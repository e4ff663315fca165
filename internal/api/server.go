// Package api is the operational HTTP surface of the worker: health,
// Prometheus metrics, queue statistics and the manual clustering levers.
// It is not the user-facing upload API, which lives in a separate service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/YangSeungWon/photo-timeline/internal/coordinator"
	"github.com/YangSeungWon/photo-timeline/internal/meeting"
	"github.com/YangSeungWon/photo-timeline/pkg/database"
	"github.com/YangSeungWon/photo-timeline/pkg/logger"
	"github.com/YangSeungWon/photo-timeline/pkg/queue"
)

// Server is the ops HTTP server.
type Server struct {
	router     chi.Router
	server     *http.Server
	db         *database.DB
	inspector  *queue.Inspector
	scheduler  coordinator.Scheduler
	reconciler *meeting.Reconciler
	logger     *logger.Logger
	startTime  time.Time

	incrementalFallback bool
}

// Config holds ops server configuration.
type Config struct {
	Port       string
	DB         *database.DB
	Inspector  *queue.Inspector
	Scheduler  coordinator.Scheduler
	Reconciler *meeting.Reconciler
	Logger     *logger.Logger

	// IncrementalFallback exposes the legacy per-photo attach endpoint.
	IncrementalFallback bool
}

// New creates the ops server.
func New(cfg Config) *Server {
	s := &Server{
		router:              chi.NewRouter(),
		db:                  cfg.DB,
		inspector:           cfg.Inspector,
		scheduler:           cfg.Scheduler,
		reconciler:          cfg.Reconciler,
		logger:              cfg.Logger.WithField("component", "api"),
		startTime:           time.Now(),
		incrementalFallback: cfg.IncrementalFallback,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/status", s.handleStatus)
	s.router.Get("/queues", s.handleQueues)

	// Manual levers for degraded-mode recovery.
	s.router.Post("/groups/{groupID}/recluster", s.handleRecluster)
	if s.incrementalFallback {
		s.router.Post("/groups/{groupID}/photos/{photoID}/attach", s.handleAttachIncremental)
	}

	s.router.Handle("/metrics", promhttp.Handler())
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.server.Addr).Info("starting ops server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down ops server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus handles GET /status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_sec":           int(time.Since(s.startTime).Seconds()),
		"incremental_fallback": s.incrementalFallback,
	})
}

// handleQueues handles GET /queues.
func (s *Server) handleQueues(w http.ResponseWriter, r *http.Request) {
	stats, err := s.inspector.GetQueueStats()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleRecluster handles POST /groups/{groupID}/recluster: schedule an
// immediate cluster job, bypassing the debounce window. Used to recover
// groups left unclustered by degraded mode.
func (s *Server) handleRecluster(w http.ResponseWriter, r *http.Request) {
	groupID, err := uuid.Parse(chi.URLParam(r, "groupID"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	payload := queue.ClusterGroupPayload{GroupID: groupID.String()}
	if err := s.scheduler.EnqueueClusterGroup(r.Context(), payload, 0); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.logger.WithField("group_id", groupID).Info("manual recluster requested")
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

// handleAttachIncremental handles the legacy per-photo attach, only routed
// when the fallback flag is on.
func (s *Server) handleAttachIncremental(w http.ResponseWriter, r *http.Request) {
	groupID, err := uuid.Parse(chi.URLParam(r, "groupID"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	photoID, err := uuid.Parse(chi.URLParam(r, "photoID"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.reconciler.AttachIncremental(r.Context(), groupID, photoID); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.logger.WithFields(map[string]interface{}{
		"group_id": groupID,
		"photo_id": photoID,
	}).Info("incremental attach performed")
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "attached"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Warn("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
