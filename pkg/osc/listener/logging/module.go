package logging

import (
	"go.uber.org/fx"

	"github.com/tigerroll/mysqler/pkg/osc/core/application/port"
)

// Module contributes the logging listener to the controller's listener group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewLoggingJobListener,
		fx.As(new(port.JobListener)),
		fx.ResultTags(`group:"jobListeners"`),
	)),
)
