package archive

import (
	"go.uber.org/fx"

	"github.com/tigerroll/mysqler/pkg/osc/core/application/port"
)

var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewArchiveJobListenerWithLifecycle,
		fx.As(new(port.JobListener)),
		fx.ResultTags(`group:"jobListeners"`),
	)),
)
