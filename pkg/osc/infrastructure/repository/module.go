// Package repository selects and assembles the Job Store from configuration.
package repository

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	gormadapter "github.com/tigerroll/mysqler/pkg/osc/adapter/database/gorm"
	_ "github.com/tigerroll/mysqler/pkg/osc/adapter/database/gorm/mysql"
	_ "github.com/tigerroll/mysqler/pkg/osc/adapter/database/gorm/postgres"
	_ "github.com/tigerroll/mysqler/pkg/osc/adapter/database/gorm/sqlite"
	"github.com/tigerroll/mysqler/pkg/osc/component/migration"
	"github.com/tigerroll/mysqler/pkg/osc/core/config"
	domainrepo "github.com/tigerroll/mysqler/pkg/osc/core/domain/repository"
	"github.com/tigerroll/mysqler/pkg/osc/core/metrics"
	"github.com/tigerroll/mysqler/pkg/osc/core/retry"
	"github.com/tigerroll/mysqler/pkg/osc/infrastructure/repository/inmemory"
	"github.com/tigerroll/mysqler/pkg/osc/infrastructure/repository/retrying"
	sqlrepo "github.com/tigerroll/mysqler/pkg/osc/infrastructure/repository/sql"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/logger"
)

// JobRepositoryParams are the dependencies of NewJobRepository.
type JobRepositoryParams struct {
	fx.In
	Lifecycle  fx.Lifecycle
	Config     *config.StoreConfig
	DBProvider *gormadapter.Provider
	Recorder   metrics.MetricRecorder
}

// NewJobRepository builds the configured store, migrates it when it is SQL, and wraps it with retries.
func NewJobRepository(p JobRepositoryParams) (domainrepo.JobRepository, error) {
	var inner domainrepo.JobRepository
	switch p.Config.Type {
	case "memory":
		logger.Infof("JobStore: using in-memory store")
		inner = inmemory.NewInMemoryJobRepository()
	case "sql", "":
		db, err := p.DBProvider.GetConnection(p.Config.DBRef)
		if err != nil {
			return nil, fmt.Errorf("failed to open job store database '%s': %w", p.Config.DBRef, err)
		}
		dbCfg, _ := p.DBProvider.Config(p.Config.DBRef)
		if !p.Config.SkipMigrations {
			m, err := migration.NewMigrator(db, dbCfg.Type)
			if err != nil {
				return nil, err
			}
			if err := m.Up(context.Background()); err != nil {
				return nil, err
			}
		}
		logger.Infof("JobStore: using %s database '%s'", dbCfg.Type, p.Config.DBRef)
		inner = sqlrepo.NewSQLJobRepository(db)
	default:
		return nil, fmt.Errorf("unsupported job store type: %s", p.Config.Type)
	}

	repo := retrying.New(inner, retry.NewPolicy(p.Config.Retry), p.Recorder)
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return repo.Close()
		},
	})
	return repo, nil
}

// Module provides the Job Store and the database provider it draws connections from.
var Module = fx.Options(
	gormadapter.Module,
	fx.Provide(NewJobRepository),
)
