package connection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/tigerroll/mysqler/pkg/osc/core/application/port"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/exception"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/logger"
)

const tableStatsQuery = `SELECT TABLE_ROWS, ENGINE, DATA_LENGTH FROM information_schema.TABLES WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?`

// Opener opens a database handle for a target connection.
type Opener func(conn *port.Connection) (*sql.DB, error)

// DSN formats the go-sql-driver DSN for conn.
func DSN(conn *port.Connection) string {
	cfg := mysql.NewConfig()
	cfg.User = conn.User
	cfg.Passwd = conn.Password
	cfg.Net = "tcp"
	cfg.Addr = conn.Host + ":" + strconv.Itoa(conn.Port)
	cfg.Timeout = 5 * time.Second
	cfg.ReadTimeout = 10 * time.Second
	if conn.Charset != "" {
		cfg.Params = map[string]string{"charset": conn.Charset}
	}
	return cfg.FormatDSN()
}

func openMySQL(conn *port.Connection) (*sql.DB, error) {
	db, err := sql.Open("mysql", DSN(conn))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxIdleTime(time.Minute)
	return db, nil
}

// MySQLInspector estimates table sizes from information_schema. Handles are cached per connection.
type MySQLInspector struct {
	open Opener
	mu   sync.Mutex
	dbs  map[string]*sql.DB
}

// NewMySQLInspector creates an inspector that connects with go-sql-driver/mysql.
func NewMySQLInspector() *MySQLInspector {
	return NewMySQLInspectorWithOpener(openMySQL)
}

// NewMySQLInspectorWithOpener creates an inspector using open to obtain handles.
func NewMySQLInspectorWithOpener(open Opener) *MySQLInspector {
	return &MySQLInspector{open: open, dbs: make(map[string]*sql.DB)}
}

func (i *MySQLInspector) handle(conn *port.Connection) (*sql.DB, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if db, ok := i.dbs[conn.ID]; ok {
		return db, nil
	}
	db, err := i.open(conn)
	if err != nil {
		return nil, err
	}
	i.dbs[conn.ID] = db
	return db, nil
}

// Inspect returns the row estimate for database.table, or a NotFound error when it does not exist.
// TABLE_ROWS is an estimate for InnoDB; a NULL estimate is reported as unknown.
func (i *MySQLInspector) Inspect(ctx context.Context, conn *port.Connection, database, table string) (port.TableStats, error) {
	db, err := i.handle(conn)
	if err != nil {
		return port.TableStats{}, fmt.Errorf("failed to connect to %s: %w", conn.ID, err)
	}

	var (
		rows   sql.NullInt64
		engine sql.NullString
		data   sql.NullInt64
	)
	err = db.QueryRowContext(ctx, tableStatsQuery, database, table).Scan(&rows, &engine, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return port.TableStats{}, exception.NewNotFoundError(module, fmt.Sprintf("table %s.%s does not exist on %s", database, table, conn.ID), err)
	}
	if err != nil {
		return port.TableStats{}, fmt.Errorf("failed to read table stats of %s.%s: %w", database, table, err)
	}
	stats := port.TableStats{Rows: rows.Int64, Known: rows.Valid, Engine: engine.String, DataBytes: data.Int64}
	logger.Debugf("Inspector: %s/%s.%s rows=%d known=%t engine=%s", conn.ID, database, table, stats.Rows, stats.Known, stats.Engine)
	return stats, nil
}

// Close closes every cached handle.
func (i *MySQLInspector) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	var firstErr error
	for id, db := range i.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(i.dbs, id)
	}
	return firstErr
}

var _ port.TableInspector = (*MySQLInspector)(nil)
