package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
)

// NoOpMetricRecorder is an implementation of MetricRecorder that does nothing.
// It is used when metrics are disabled or during testing.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new instance of NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

func (r *NoOpMetricRecorder) RecordJobStart(ctx context.Context, job *model.Job)   {}
func (r *NoOpMetricRecorder) RecordJobEnd(ctx context.Context, job *model.Job)     {}
func (r *NoOpMetricRecorder) RecordProgress(ctx context.Context, job *model.Job)   {}
func (r *NoOpMetricRecorder) RecordAdmissionConflict(ctx context.Context, target model.TargetKey) {
}
func (r *NoOpMetricRecorder) RecordStoreRetry(ctx context.Context, op string, reason string) {}
func (r *NoOpMetricRecorder) RecordDroppedEvents(ctx context.Context, count int)              {}
func (r *NoOpMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// NoOpTracer is an implementation of Tracer that does nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a new instance of NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

func (t *NoOpTracer) StartJobSpan(ctx context.Context, job *model.Job) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) StartCommandSpan(ctx context.Context, command string, jobID string) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) RecordError(ctx context.Context, module string, err error) {}

func (t *NoOpTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
}

var _ Tracer = (*NoOpTracer)(nil)
