package connection

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/mysqler/pkg/osc/core/application/port"
)

// Module provides the configured ConnectionResolver and the MySQL TableInspector.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(NewStaticResolver, fx.As(new(port.ConnectionResolver))),
		func(lc fx.Lifecycle) port.TableInspector {
			i := NewMySQLInspector()
			lc.Append(fx.Hook{OnStop: func(context.Context) error { return i.Close() }})
			return i
		},
	),
)
