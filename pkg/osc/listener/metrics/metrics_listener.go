package metrics

import (
	"context"
	"time"

	"github.com/tigerroll/mysqler/pkg/osc/core/application/port"
	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
	"github.com/tigerroll/mysqler/pkg/osc/core/metrics"
)

// MetricsJobListener reports job starts, ends and durations to a MetricRecorder.
type MetricsJobListener struct {
	recorder metrics.MetricRecorder
}

func NewMetricsJobListener(recorder metrics.MetricRecorder) *MetricsJobListener {
	return &MetricsJobListener{recorder: recorder}
}

func (l *MetricsJobListener) OnJobStarted(ctx context.Context, job *model.Job) {
	l.recorder.RecordJobStart(ctx, job)
}

func (l *MetricsJobListener) OnJobFinished(ctx context.Context, job *model.Job) {
	l.recorder.RecordJobEnd(ctx, job)
	if job.DurationSeconds != nil {
		l.recorder.RecordDuration(ctx, "job.duration", time.Duration(*job.DurationSeconds)*time.Second,
			map[string]string{"status": job.Status.String()})
	}
}

var _ port.JobListener = (*MetricsJobListener)(nil)
