package usecase

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/mysqler/pkg/osc/core/application/port"
	"github.com/tigerroll/mysqler/pkg/osc/core/command"
	"github.com/tigerroll/mysqler/pkg/osc/core/config"
	"github.com/tigerroll/mysqler/pkg/osc/core/domain/repository"
	"github.com/tigerroll/mysqler/pkg/osc/core/metrics"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/logger"
)

// ControllerParams are the Fx inputs of NewExecutionControllerFromParams.
type ControllerParams struct {
	fx.In

	Lifecycle   fx.Lifecycle
	Store       repository.JobRepository
	Builder     *command.Builder
	Resolver    port.ConnectionResolver
	Inspector   port.TableInspector `optional:"true"`
	Analyzer    port.RiskAnalyzer   `optional:"true"`
	Supervisor  port.Supervisor
	Broadcaster port.Broadcaster
	Listeners   []port.JobListener `group:"jobListeners"`
	Recorder    metrics.MetricRecorder
	Tracer      metrics.Tracer
	Controller  *config.ControllerConfig
	Sup         *config.SupervisorConfig
}

// NewExecutionControllerFromParams builds the controller, reconciles orphans on start
// and stops running jobs on shutdown.
func NewExecutionControllerFromParams(p ControllerParams) *ExecutionController {
	c := NewExecutionController(Dependencies{
		Store:       p.Store,
		Builder:     p.Builder,
		Resolver:    p.Resolver,
		Inspector:   p.Inspector,
		Analyzer:    p.Analyzer,
		Supervisor:  p.Supervisor,
		Broadcaster: p.Broadcaster,
		Listeners:   p.Listeners,
		Recorder:    p.Recorder,
		Tracer:      p.Tracer,
	}, p.Controller, p.Sup)

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := c.Reconcile(ctx); err != nil {
				logger.Errorf("ExecutionController: reconcile finished with errors: %v", err)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return c.Shutdown(ctx)
		},
	})
	return c
}

// Module provides the command builder and the execution controller.
var Module = fx.Options(
	fx.Provide(command.NewBuilder),
	fx.Provide(NewExecutionControllerFromParams),
)
