// Package metrics provides Prometheus metrics for the photo pipeline and
// the clustering subsystem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the worker.
type Metrics struct {
	// Per-photo pipeline
	PhotosProcessed    *prometheus.CounterVec
	PhotosFailed       *prometheus.CounterVec
	ThumbnailsBuilt    *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec

	// Clustering subsystem. Enabled separately so operators can turn the
	// extra series off.
	ReconcileRuns      *prometheus.CounterVec
	ReconcileDuration  prometheus.Histogram
	ClusterReschedules prometheus.Counter
	ClusterRetries     prometheus.Counter
	DebounceDegraded   prometheus.Counter
	MeetingsLive       *prometheus.GaugeVec

	// Queue depth, fed from the asynq inspector.
	QueueSize *prometheus.GaugeVec

	// Worker status (1 = running, 0 = stopped)
	WorkerStatus prometheus.Gauge

	clusteringEnabled bool
}

// New creates and registers all worker metrics. clusteringEnabled gates the
// clustering series; when false their methods are no-ops.
func New(clusteringEnabled bool) *Metrics {
	m := &Metrics{
		clusteringEnabled: clusteringEnabled,

		PhotosProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_photos_processed_total",
			Help: "Total number of photo jobs completed",
		}, []string{"status"}), // status: success, failed

		PhotosFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_photos_failed_total",
			Help: "Total number of failed photo stages",
		}, []string{"stage"}), // stage: load, metadata, thumbnail, database

		ThumbnailsBuilt: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_thumbnails_built_total",
			Help: "Total thumbnails generated by media type",
		}, []string{"type"}), // type: image, video

		ProcessingDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_processing_duration_seconds",
			Help:    "Time taken to process one photo job",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"type"}),

		ReconcileRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clustering_reconcile_runs_total",
			Help: "Total reconciliation runs by outcome",
		}, []string{"status"}), // status: success, failed, skipped

		ReconcileDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "clustering_reconcile_duration_seconds",
			Help:    "Time taken by one group reconciliation",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),

		ClusterReschedules: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clustering_reschedules_total",
			Help: "Cluster jobs rescheduled because uploads were still arriving",
		}),

		ClusterRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clustering_retries_total",
			Help: "Cluster jobs retried after a failed reconciliation",
		}),

		DebounceDegraded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clustering_debounce_degraded_total",
			Help: "Mark-pending calls dropped because the coordination store was unreachable",
		}),

		MeetingsLive: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clustering_meetings_live",
			Help: "Meetings per group after the last reconciliation",
		}, []string{"group"}),

		QueueSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipeline_queue_size",
			Help: "Current queue depth",
		}, []string{"queue", "status"}), // queue: default, cluster; status: pending, active, retry

		WorkerStatus: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_worker_status",
			Help: "Worker status (1 = running, 0 = stopped)",
		}),
	}

	return m
}

// IncPhotosProcessed increments the photo job counter.
func (m *Metrics) IncPhotosProcessed(status string) {
	if m == nil {
		return
	}
	m.PhotosProcessed.WithLabelValues(status).Inc()
}

// IncPhotosFailed increments the failed stage counter.
func (m *Metrics) IncPhotosFailed(stage string) {
	if m == nil {
		return
	}
	m.PhotosFailed.WithLabelValues(stage).Inc()
}

// IncThumbnailsBuilt increments the thumbnail counter.
func (m *Metrics) IncThumbnailsBuilt(mediaType string) {
	if m == nil {
		return
	}
	m.ThumbnailsBuilt.WithLabelValues(mediaType).Inc()
}

// ObserveProcessingDuration records one photo job duration.
func (m *Metrics) ObserveProcessingDuration(mediaType string, seconds float64) {
	if m == nil {
		return
	}
	m.ProcessingDuration.WithLabelValues(mediaType).Observe(seconds)
}

// IncReconcileRuns increments the reconciliation counter.
func (m *Metrics) IncReconcileRuns(status string) {
	if m == nil || !m.clusteringEnabled {
		return
	}
	m.ReconcileRuns.WithLabelValues(status).Inc()
}

// ObserveReconcileDuration records one reconciliation duration.
func (m *Metrics) ObserveReconcileDuration(seconds float64) {
	if m == nil || !m.clusteringEnabled {
		return
	}
	m.ReconcileDuration.Observe(seconds)
}

// IncClusterReschedules increments the busy-reschedule counter.
func (m *Metrics) IncClusterReschedules() {
	if m == nil || !m.clusteringEnabled {
		return
	}
	m.ClusterReschedules.Inc()
}

// IncClusterRetries increments the failure-retry counter.
func (m *Metrics) IncClusterRetries() {
	if m == nil || !m.clusteringEnabled {
		return
	}
	m.ClusterRetries.Inc()
}

// IncDebounceDegraded counts a mark-pending dropped in degraded mode.
func (m *Metrics) IncDebounceDegraded() {
	if m == nil || !m.clusteringEnabled {
		return
	}
	m.DebounceDegraded.Inc()
}

// SetMeetingsLive records the meeting count for a group.
func (m *Metrics) SetMeetingsLive(groupID string, count int) {
	if m == nil || !m.clusteringEnabled {
		return
	}
	m.MeetingsLive.WithLabelValues(groupID).Set(float64(count))
}

// SetQueueSize sets a queue depth gauge.
func (m *Metrics) SetQueueSize(queue, status string, count int) {
	if m == nil {
		return
	}
	m.QueueSize.WithLabelValues(queue, status).Set(float64(count))
}

// SetWorkerRunning sets the worker status to running.
func (m *Metrics) SetWorkerRunning() {
	if m == nil {
		return
	}
	m.WorkerStatus.Set(1)
}

// SetWorkerStopped sets the worker status to stopped.
func (m *Metrics) SetWorkerStopped() {
	if m == nil {
		return
	}
	m.WorkerStatus.Set(0)
}
