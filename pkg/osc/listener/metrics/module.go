package metrics

import (
	"go.uber.org/fx"

	"github.com/tigerroll/mysqler/pkg/osc/core/application/port"
)

// Module makes the MetricRecorder asynchronous and contributes the metrics listener.
var Module = fx.Options(
	fx.Decorate(NewAsyncMetricRecorderWrapper),
	fx.Provide(fx.Annotate(
		NewMetricsJobListener,
		fx.As(new(port.JobListener)),
		fx.ResultTags(`group:"jobListeners"`),
	)),
)
