package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/mysqler/pkg/osc/core/config"
	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
	"github.com/tigerroll/mysqler/pkg/osc/core/metrics"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/logger"
)

// MetricEvent represents a metric event to be recorded asynchronously.
type MetricEvent struct {
	Type     string
	Job      *model.Job
	Target   model.TargetKey
	Name     string // Operation name for store retries and durations.
	Reason   string
	Count    int
	Duration time.Duration
	Tags     map[string]string
}

// Metric event type constants
const (
	MetricEventTypeJobStart          = "job_start"
	MetricEventTypeJobEnd            = "job_end"
	MetricEventTypeProgress          = "progress"
	MetricEventTypeAdmissionConflict = "admission_conflict"
	MetricEventTypeStoreRetry        = "store_retry"
	MetricEventTypeDroppedEvents     = "dropped_events"
	MetricEventTypeRecordDuration    = "record_duration"
)

// AsyncMetricRecorder records metrics on a worker goroutine so callers never wait on a backend.
// Events are discarded when the queue is full.
type AsyncMetricRecorder struct {
	eventQueue   chan MetricEvent
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	syncRecorder metrics.MetricRecorder
	discarded    atomic.Int64
}

// NewAsyncMetricRecorder starts the worker. A bufferSize of 0 or less uses 100.
func NewAsyncMetricRecorder(bufferSize int, syncRec metrics.MetricRecorder) *AsyncMetricRecorder {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	r := &AsyncMetricRecorder{
		eventQueue:   make(chan MetricEvent, bufferSize),
		stopCh:       make(chan struct{}),
		syncRecorder: syncRec,
	}
	r.wg.Add(1)
	go r.run()
	logger.Debugf("AsyncMetricRecorder: Worker goroutine started (buffer size: %d).", bufferSize)
	return r
}

func (r *AsyncMetricRecorder) run() {
	defer r.wg.Done()
	for {
		select {
		case event := <-r.eventQueue:
			r.processEvent(event)
		case <-r.stopCh:
			remaining := len(r.eventQueue)
			for i := 0; i < remaining; i++ {
				r.processEvent(<-r.eventQueue)
			}
			logger.Debugf("AsyncMetricRecorder: Worker goroutine stopped. Processed %d remaining events.", remaining)
			return
		}
	}
}

func (r *AsyncMetricRecorder) processEvent(event MetricEvent) {
	ctx := context.Background()
	switch event.Type {
	case MetricEventTypeJobStart:
		r.syncRecorder.RecordJobStart(ctx, event.Job)
	case MetricEventTypeJobEnd:
		r.syncRecorder.RecordJobEnd(ctx, event.Job)
	case MetricEventTypeProgress:
		r.syncRecorder.RecordProgress(ctx, event.Job)
	case MetricEventTypeAdmissionConflict:
		r.syncRecorder.RecordAdmissionConflict(ctx, event.Target)
	case MetricEventTypeStoreRetry:
		r.syncRecorder.RecordStoreRetry(ctx, event.Name, event.Reason)
	case MetricEventTypeDroppedEvents:
		r.syncRecorder.RecordDroppedEvents(ctx, event.Count)
	case MetricEventTypeRecordDuration:
		r.syncRecorder.RecordDuration(ctx, event.Name, event.Duration, event.Tags)
	default:
		logger.Warnf("AsyncMetricRecorder: Unknown metric event type: %s", event.Type)
	}
}

// Close stops the worker after draining queued events. Safe to call more than once.
func (r *AsyncMetricRecorder) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// Discarded returns the number of events dropped because the queue was full.
func (r *AsyncMetricRecorder) Discarded() int64 {
	return r.discarded.Load()
}

func (r *AsyncMetricRecorder) sendEvent(event MetricEvent) {
	select {
	case r.eventQueue <- event:
	default:
		r.discarded.Add(1)
		logger.Warnf("AsyncMetricRecorder: Event queue is full (type: %s). Event discarded.", event.Type)
	}
}

// Jobs are cloned because the caller may keep mutating its copy.

func (r *AsyncMetricRecorder) RecordJobStart(ctx context.Context, job *model.Job) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeJobStart, Job: job.Clone()})
}

func (r *AsyncMetricRecorder) RecordJobEnd(ctx context.Context, job *model.Job) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeJobEnd, Job: job.Clone()})
}

func (r *AsyncMetricRecorder) RecordProgress(ctx context.Context, job *model.Job) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeProgress, Job: job.Clone()})
}

func (r *AsyncMetricRecorder) RecordAdmissionConflict(ctx context.Context, target model.TargetKey) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeAdmissionConflict, Target: target})
}

func (r *AsyncMetricRecorder) RecordStoreRetry(ctx context.Context, op string, reason string) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeStoreRetry, Name: op, Reason: reason})
}

func (r *AsyncMetricRecorder) RecordDroppedEvents(ctx context.Context, count int) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeDroppedEvents, Count: count})
}

func (r *AsyncMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeRecordDuration, Name: name, Duration: duration, Tags: tags})
}

var _ metrics.MetricRecorder = (*AsyncMetricRecorder)(nil)

// NewAsyncMetricRecorderWrapper is used with fx.Decorate: it wraps the configured recorder and
// drains it on shutdown.
func NewAsyncMetricRecorderWrapper(lc fx.Lifecycle, cfg *config.MetricsConfig, syncRecorder metrics.MetricRecorder) metrics.MetricRecorder {
	asyncRecorder := NewAsyncMetricRecorder(cfg.AsyncBufferSize, syncRecorder)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			asyncRecorder.Close()
			return nil
		},
	})
	logger.Debugf("MetricRecorder decorated with asynchronous wrapper.")
	return asyncRecorder
}
