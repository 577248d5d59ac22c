package listener

import (
	"go.uber.org/fx"

	"github.com/tigerroll/mysqler/pkg/osc/listener/archive"
	"github.com/tigerroll/mysqler/pkg/osc/listener/logging"
	"github.com/tigerroll/mysqler/pkg/osc/listener/metrics"
)

// Module aggregates the job listeners registered with the execution controller.
var Module = fx.Options(
	logging.Module,
	metrics.Module,
	archive.Module,
)
