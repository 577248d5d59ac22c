package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/tigerroll/mysqler/pkg/osc/core/config"
	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
	metrics "github.com/tigerroll/mysqler/pkg/osc/core/metrics"
	logger "github.com/tigerroll/mysqler/pkg/osc/support/util/logger"
)

// OtelRecorder is an OpenTelemetry metrics implementation of metrics.MetricRecorder.
type OtelRecorder struct {
	jobsStarted        metric.Int64Counter
	jobsFinished       metric.Int64Counter
	jobDuration        metric.Float64Histogram
	progressPercent    metric.Float64Gauge
	processedRows      metric.Int64Gauge
	admissionConflicts metric.Int64Counter
	storeRetries       metric.Int64Counter
	droppedEvents      metric.Int64Counter
	operationDuration  metric.Float64Histogram
}

// NewMeterProvider builds an SDK meter provider that pushes to an OTLP collector and installs it globally.
func NewMeterProvider(ctx context.Context, cfg *config.MetricsConfig, serviceName string) (*sdkmetric.MeterProvider, error) {
	var (
		exporter sdkmetric.Exporter
		err      error
	)
	switch cfg.OTLP.Protocol {
	case "http":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.OTLP.Endpoint)}
		if cfg.OTLP.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exporter, err = otlpmetrichttp.New(ctx, opts...)
	case "grpc", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLP.Endpoint)}
		if cfg.OTLP.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err = otlpmetricgrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol for metrics: %q", cfg.OTLP.Protocol)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(serviceResource(serviceName)),
	)
	otel.SetMeterProvider(mp)
	logger.Infof("Metrics: exporting to %s over %s every %s", cfg.OTLP.Endpoint, cfg.OTLP.Protocol, interval)
	return mp, nil
}

// NewOtelRecorder creates the instruments on a meter of provider.
func NewOtelRecorder(provider metric.MeterProvider) (*OtelRecorder, error) {
	meter := provider.Meter(instrumentationName)
	r := &OtelRecorder{}
	var err error

	if r.jobsStarted, err = meter.Int64Counter("osc.jobs.started",
		metric.WithDescription("Schema change jobs started.")); err != nil {
		return nil, err
	}
	if r.jobsFinished, err = meter.Int64Counter("osc.jobs.finished",
		metric.WithDescription("Schema change jobs by terminal status.")); err != nil {
		return nil, err
	}
	if r.jobDuration, err = meter.Float64Histogram("osc.job.duration",
		metric.WithDescription("Duration of schema change jobs."), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.progressPercent, err = meter.Float64Gauge("osc.job.progress",
		metric.WithDescription("Copy progress of running jobs."), metric.WithUnit("%")); err != nil {
		return nil, err
	}
	if r.processedRows, err = meter.Int64Gauge("osc.job.processed_rows",
		metric.WithDescription("Rows copied by running jobs.")); err != nil {
		return nil, err
	}
	if r.admissionConflicts, err = meter.Int64Counter("osc.admission.conflicts",
		metric.WithDescription("Starts rejected because the target table was busy.")); err != nil {
		return nil, err
	}
	if r.storeRetries, err = meter.Int64Counter("osc.store.retries",
		metric.WithDescription("Retried Job Store operations.")); err != nil {
		return nil, err
	}
	if r.droppedEvents, err = meter.Int64Counter("osc.events.dropped",
		metric.WithDescription("Events discarded because a buffer was full.")); err != nil {
		return nil, err
	}
	if r.operationDuration, err = meter.Float64Histogram("osc.operation.duration",
		metric.WithDescription("Duration of named operations."), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *OtelRecorder) RecordJobStart(ctx context.Context, job *model.Job) {
	r.jobsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("connection_id", job.ConnectionID)))
}

func (r *OtelRecorder) RecordJobEnd(ctx context.Context, job *model.Job) {
	attrs := metric.WithAttributes(
		attribute.String("connection_id", job.ConnectionID),
		attribute.String("status", job.Status.String()),
	)
	r.jobsFinished.Add(ctx, 1, attrs)
	if job.DurationSeconds != nil {
		r.jobDuration.Record(ctx, float64(*job.DurationSeconds), attrs)
	}
}

func (r *OtelRecorder) RecordProgress(ctx context.Context, job *model.Job) {
	attrs := metric.WithAttributes(attribute.String("job_id", job.ID))
	r.progressPercent.Record(ctx, job.ProgressPercent, attrs)
	r.processedRows.Record(ctx, job.ProcessedRows, attrs)
}

func (r *OtelRecorder) RecordAdmissionConflict(ctx context.Context, target model.TargetKey) {
	r.admissionConflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("connection_id", target.ConnectionID)))
}

func (r *OtelRecorder) RecordStoreRetry(ctx context.Context, op string, reason string) {
	r.storeRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op), attribute.String("reason", reason)))
}

func (r *OtelRecorder) RecordDroppedEvents(ctx context.Context, count int) {
	r.droppedEvents.Add(ctx, int64(count))
}

func (r *OtelRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(tags)+1)
	attrs = append(attrs, attribute.String("name", name))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	r.operationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

var _ metrics.MetricRecorder = (*OtelRecorder)(nil)
