package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
)

// MetricRecorder is an abstract interface for recording metrics about schema-change jobs.
// It lets the engine report to different backends (Prometheus, OpenTelemetry metrics).
type MetricRecorder interface {
	// RecordJobStart records a job entering running.
	RecordJobStart(ctx context.Context, job *model.Job)

	// RecordJobEnd records a job reaching a terminal status.
	RecordJobEnd(ctx context.Context, job *model.Job)

	// RecordProgress records the latest counters of a running job.
	RecordProgress(ctx context.Context, job *model.Job)

	// RecordAdmissionConflict records a start rejected because the target was busy.
	RecordAdmissionConflict(ctx context.Context, target model.TargetKey)

	// RecordStoreRetry records a retried Job Store operation.
	//
	// op: the store operation (e.g. "Update").
	// reason: a short error classification.
	RecordStoreRetry(ctx context.Context, op string, reason string)

	// RecordDroppedEvents records events discarded because a subscriber fell behind.
	RecordDroppedEvents(ctx context.Context, count int)

	// RecordDuration records the execution time of a named operation.
	// tags: additional attributes, e.g. `{"op": "start", "outcome": "conflict"}`
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
