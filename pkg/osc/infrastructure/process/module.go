package process

import (
	"go.uber.org/fx"

	"github.com/tigerroll/mysqler/pkg/osc/core/application/port"
)

// Module provides the configured Supervisor as port.Supervisor.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewSupervisor,
			fx.As(new(port.Supervisor)),
		),
	),
)
