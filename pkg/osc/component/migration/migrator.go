// Package migration applies the Job Store schema with golang-migrate from embedded SQL files.
package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	"github.com/tigerroll/mysqler/pkg/osc/support/util/logger"
)

// MigrationsTable records applied schema versions.
const MigrationsTable = "osc_schema_migrations"

//go:embed resource
var resourceFS embed.FS

// Migrator applies the embedded migrations for one database type.
type Migrator struct {
	db     *sql.DB
	dbType string
}

// NewMigrator creates a Migrator over the connection underlying db.
func NewMigrator(db *gorm.DB, dbType string) (*Migrator, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return &Migrator{db: sqlDB, dbType: dbType}, nil
}

// Source returns the embedded migration files for dbType.
func Source(dbType string) (fs.FS, error) {
	sub, err := fs.Sub(resourceFS, "resource/"+dbType)
	if err != nil {
		return nil, fmt.Errorf("no migrations for database type %s: %w", dbType, err)
	}
	return sub, nil
}

func (m *Migrator) databaseDriver() (database.Driver, error) {
	switch m.dbType {
	case "postgres":
		return postgres.WithInstance(m.db, &postgres.Config{MigrationsTable: MigrationsTable})
	case "mysql":
		return mysql.WithInstance(m.db, &mysql.Config{MigrationsTable: MigrationsTable})
	case "sqlite":
		return sqlite3.WithInstance(m.db, &sqlite3.Config{MigrationsTable: MigrationsTable})
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", m.dbType)
	}
}

func (m *Migrator) instance() (*migrate.Migrate, error) {
	src, err := Source(m.dbType)
	if err != nil {
		return nil, err
	}
	sourceDriver, err := iofs.New(src, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to create iofs source driver: %w", err)
	}
	dbDriver, err := m.databaseDriver()
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	mInstance, err := migrate.NewWithInstance("iofs", sourceDriver, m.dbType, dbDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return mInstance, nil
}

// Up applies all pending migrations. An up-to-date schema is not an error.
// The migrate instance is not closed because that would close the shared connection.
func (m *Migrator) Up(ctx context.Context) error {
	logger.Infof("Migration: applying job store schema (%s)", m.dbType)

	mInstance, err := m.instance()
	if err != nil {
		return err
	}
	if err := mInstance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		if v, dirty, verr := mInstance.Version(); verr == nil {
			logger.Errorf("Migration: failed at version %d (dirty=%t)", v, dirty)
		}
		return fmt.Errorf("migration failed (DB: %s): %w", m.dbType, err)
	}

	v, _, err := mInstance.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	logger.Infof("Migration: job store schema at version %d", v)
	return nil
}
