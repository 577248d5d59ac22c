package export

import "go.uber.org/fx"

var Module = fx.Provide(NewHistoryExporter)
