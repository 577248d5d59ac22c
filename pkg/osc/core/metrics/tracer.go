package metrics

import (
	"context"

	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
)

// Tracer is an abstract interface for distributed tracing of lifecycle commands and job runs.
type Tracer interface {
	// StartJobSpan starts a span covering a job's run, from spawn to terminal status.
	// The returned function ends the span.
	StartJobSpan(ctx context.Context, job *model.Job) (context.Context, func())

	// StartCommandSpan starts a span for a lifecycle command such as "start" or "cancel".
	StartCommandSpan(ctx context.Context, command string, jobID string) (context.Context, func())

	// RecordError records an error in the current span.
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent records an event in the current span.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
