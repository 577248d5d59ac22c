package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/tigerroll/mysqler/pkg/osc/core/config"
	metrics "github.com/tigerroll/mysqler/pkg/osc/core/metrics"
	logger "github.com/tigerroll/mysqler/pkg/osc/support/util/logger"
)

// RecorderResult carries the selected recorder and the registry served on /metrics.
type RecorderResult struct {
	fx.Out

	Recorder metrics.MetricRecorder
	Gatherer prometheus.Gatherer
}

// NewMetricRecorder selects the metrics backend from configuration.
func NewMetricRecorder(lc fx.Lifecycle, cfg *config.MetricsConfig, tracing *config.TracingConfig) (RecorderResult, error) {
	switch cfg.Backend {
	case "prometheus":
		r := NewPrometheusRecorder()
		logger.Infof("Metrics: Prometheus backend enabled.")
		return RecorderResult{Recorder: r, Gatherer: r.GetRegistry()}, nil
	case "otel":
		mp, err := NewMeterProvider(context.Background(), cfg, tracing.ServiceName)
		if err != nil {
			return RecorderResult{}, err
		}
		lc.Append(fx.Hook{OnStop: mp.Shutdown})
		r, err := NewOtelRecorder(mp)
		if err != nil {
			return RecorderResult{}, fmt.Errorf("failed to create otel instruments: %w", err)
		}
		return RecorderResult{Recorder: r, Gatherer: prometheus.NewRegistry()}, nil
	case "none", "":
		return RecorderResult{Recorder: metrics.NewNoOpMetricRecorder(), Gatherer: prometheus.NewRegistry()}, nil
	default:
		return RecorderResult{}, fmt.Errorf("unknown metrics backend: %q", cfg.Backend)
	}
}

// NewTracer returns an OpenTelemetry tracer when tracing is enabled and a no-op tracer otherwise.
func NewTracer(lc fx.Lifecycle, cfg *config.TracingConfig) (metrics.Tracer, error) {
	if !cfg.Enabled {
		return metrics.NewNoOpTracer(), nil
	}
	tp, err := NewTracerProvider(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: tp.Shutdown})
	return NewOpenTelemetryTracer(tp), nil
}

// Module is an Fx module that provides the MetricRecorder, the Tracer and the Prometheus gatherer.
var Module = fx.Options(
	fx.Provide(NewMetricRecorder),
	fx.Provide(NewTracer),
)
