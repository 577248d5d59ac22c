// Package app assembles the mysqler service from its fx modules.
package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/mysqler/pkg/osc/adapter/rest"
	storageAdapter "github.com/tigerroll/mysqler/pkg/osc/adapter/storage"
	"github.com/tigerroll/mysqler/pkg/osc/adapter/storage/gcs"
	"github.com/tigerroll/mysqler/pkg/osc/adapter/storage/local"
	"github.com/tigerroll/mysqler/pkg/osc/component/export"
	"github.com/tigerroll/mysqler/pkg/osc/core/application/usecase"
	"github.com/tigerroll/mysqler/pkg/osc/core/config"
	"github.com/tigerroll/mysqler/pkg/osc/infrastructure/broadcast"
	"github.com/tigerroll/mysqler/pkg/osc/infrastructure/connection"
	infraMetrics "github.com/tigerroll/mysqler/pkg/osc/infrastructure/metrics"
	"github.com/tigerroll/mysqler/pkg/osc/infrastructure/process"
	"github.com/tigerroll/mysqler/pkg/osc/infrastructure/repository"
	"github.com/tigerroll/mysqler/pkg/osc/listener"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/logger"
)

// stopTimeout leaves room for running jobs to exit gracefully before the process does.
func stopTimeout(cfg *config.Config) time.Duration {
	m := cfg.Mysqler
	return m.Supervisor.GracePeriod + m.Controller.StopWaitMargin + m.HTTP.ShutdownTimeout + 5*time.Second
}

// New builds the fx application.
func New(envFilePath string, embeddedConfig config.EmbeddedConfig) *fx.App {
	timeout := fx.DefaultTimeout
	if cfg, err := config.LoadConfig(envFilePath, embeddedConfig); err == nil {
		timeout = stopTimeout(cfg)
	} else {
		logger.Warnf("Failed to preload configuration, using default stop timeout: %v", err)
	}

	return fx.New(
		fx.StopTimeout(timeout),
		fx.Supply(
			embeddedConfig,
			fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
		),
		logger.Module,
		config.Module,

		infraMetrics.Module,
		repository.Module,
		connection.Module,
		process.Module,
		broadcast.Module,

		storageAdapter.Module,
		local.Module,
		gcs.Module,

		listener.Module,
		usecase.Module,
		export.Module,
		rest.Module,
	)
}

// Run starts the application and blocks until it receives SIGINT or SIGTERM.
func Run(envFilePath string, embeddedConfig config.EmbeddedConfig) {
	app := New(envFilePath, embeddedConfig)
	app.Run()
	if err := app.Err(); err != nil {
		logger.Fatalf("Application run failed: %v", err)
	}
}
