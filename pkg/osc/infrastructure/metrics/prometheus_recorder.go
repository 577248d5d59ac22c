package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
	metrics "github.com/tigerroll/mysqler/pkg/osc/core/metrics"
	logger "github.com/tigerroll/mysqler/pkg/osc/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Job Metrics
	jobsStarted        *prometheus.CounterVec
	jobsFinished       *prometheus.CounterVec
	jobDurationSeconds *prometheus.HistogramVec
	runningJobs        prometheus.Gauge

	// Progress Metrics, removed when the job ends.
	progressPercent *prometheus.GaugeVec
	processedRows   *prometheus.GaugeVec

	admissionConflicts *prometheus.CounterVec
	storeRetries       *prometheus.CounterVec
	droppedEvents      prometheus.Counter
	operationDuration  *prometheus.HistogramVec

	mu      sync.Mutex
	running map[string]struct{}
}

// NewPrometheusRecorder creates a new instance of PrometheusRecorder with its own registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		running:  make(map[string]struct{}),
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "osc_jobs_started_total",
			Help: "Total number of schema change jobs started.",
		}, []string{"connection_id"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "osc_jobs_finished_total",
			Help: "Total number of schema change jobs by terminal status.",
		}, []string{"connection_id", "status"}),
		jobDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "osc_job_duration_seconds",
			Help:    "Duration of schema change jobs.",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 21600, 86400},
		}, []string{"status"}),
		runningJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "osc_running_jobs",
			Help: "Number of schema change jobs currently running.",
		}),
		progressPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "osc_job_progress_percent",
			Help: "Copy progress of running jobs.",
		}, []string{"job_id"}),
		processedRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "osc_job_processed_rows",
			Help: "Rows copied by running jobs.",
		}, []string{"job_id"}),
		admissionConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "osc_admission_conflicts_total",
			Help: "Starts rejected because another job was running against the same table.",
		}, []string{"connection_id"}),
		storeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "osc_store_retries_total",
			Help: "Retried Job Store operations by operation and reason.",
		}, []string{"op", "reason"}),
		droppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "osc_dropped_events_total",
			Help: "Events discarded because a subscriber or event buffer was full.",
		}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "osc_operation_duration_seconds",
			Help:    "Duration of named operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"name", "status"}),
	}

	registry.MustRegister(
		r.jobsStarted,
		r.jobsFinished,
		r.jobDurationSeconds,
		r.runningJobs,
		r.progressPercent,
		r.processedRows,
		r.admissionConflicts,
		r.storeRetries,
		r.droppedEvents,
		r.operationDuration,
	)
	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordJobStart records a job entering running.
func (r *PrometheusRecorder) RecordJobStart(ctx context.Context, job *model.Job) {
	r.jobsStarted.WithLabelValues(job.ConnectionID).Inc()
	r.mu.Lock()
	if _, ok := r.running[job.ID]; !ok {
		r.running[job.ID] = struct{}{}
		r.runningJobs.Inc()
	}
	r.mu.Unlock()
	logger.Debugf("Metrics: Job '%s' started.", job.ID)
}

// RecordJobEnd records a terminal job. Only jobs started through this recorder leave the running gauge.
func (r *PrometheusRecorder) RecordJobEnd(ctx context.Context, job *model.Job) {
	r.jobsFinished.WithLabelValues(job.ConnectionID, job.Status.String()).Inc()
	r.progressPercent.DeleteLabelValues(job.ID)
	r.processedRows.DeleteLabelValues(job.ID)
	if job.DurationSeconds != nil {
		r.jobDurationSeconds.WithLabelValues(job.Status.String()).Observe(float64(*job.DurationSeconds))
	}
	r.mu.Lock()
	if _, ok := r.running[job.ID]; ok {
		delete(r.running, job.ID)
		r.runningJobs.Dec()
	}
	r.mu.Unlock()
	logger.Debugf("Metrics: Job '%s' ended with status %s.", job.ID, job.Status)
}

// RecordProgress records the latest counters of a running job.
func (r *PrometheusRecorder) RecordProgress(ctx context.Context, job *model.Job) {
	r.progressPercent.WithLabelValues(job.ID).Set(job.ProgressPercent)
	r.processedRows.WithLabelValues(job.ID).Set(float64(job.ProcessedRows))
}

// RecordAdmissionConflict records a start rejected because the target was busy.
func (r *PrometheusRecorder) RecordAdmissionConflict(ctx context.Context, target model.TargetKey) {
	r.admissionConflicts.WithLabelValues(target.ConnectionID).Inc()
}

// RecordStoreRetry records a retried Job Store operation.
func (r *PrometheusRecorder) RecordStoreRetry(ctx context.Context, op string, reason string) {
	r.storeRetries.WithLabelValues(op, reason).Inc()
}

// RecordDroppedEvents records discarded events.
func (r *PrometheusRecorder) RecordDroppedEvents(ctx context.Context, count int) {
	r.droppedEvents.Add(float64(count))
}

// RecordDuration records the execution time of a named operation. The "status" tag is used as a label.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.operationDuration.WithLabelValues(name, tags["status"]).Observe(duration.Seconds())
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
