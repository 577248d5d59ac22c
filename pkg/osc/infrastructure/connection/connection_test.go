package connection_test

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/mysqler/pkg/osc/core/application/port"
	"github.com/tigerroll/mysqler/pkg/osc/core/config"
	"github.com/tigerroll/mysqler/pkg/osc/infrastructure/connection"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/exception"
)

func TestStaticResolverFromConfig(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Mysqler.Connections = map[string]interface{}{
		"local":   map[string]interface{}{"host": "127.0.0.1", "user": "root", "password": "pw"},
		"replica": map[string]interface{}{"host": "db2", "port": 3307, "user": "osc"},
	}
	r, err := connection.NewStaticResolver(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"local", "replica"}, r.IDs())

	c, err := r.Resolve(context.Background(), "local")
	require.NoError(t, err)
	assert.Equal(t, "local", c.ID)
	assert.Equal(t, 3306, c.Port)
	assert.Equal(t, "pw", c.Password)

	_, err = r.Resolve(context.Background(), "nope")
	assert.True(t, exception.IsNotFound(err))
}

func TestDSN(t *testing.T) {
	dsn := connection.DSN(&port.Connection{Host: "db", Port: 3307, User: "u", Password: "p@ss", Charset: "utf8mb4"})
	assert.Contains(t, dsn, "u:p@ss@tcp(db:3307)/")
	assert.Contains(t, dsn, "charset=utf8mb4")
}

func TestInspectorReadsInformationSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	opened := 0
	insp := connection.NewMySQLInspectorWithOpener(func(*port.Connection) (*sql.DB, error) {
		opened++
		return db, nil
	})
	conn := &port.Connection{ID: "local", Host: "127.0.0.1", Port: 3306, User: "root"}
	q := regexp.QuoteMeta("SELECT TABLE_ROWS, ENGINE, DATA_LENGTH FROM information_schema.TABLES")

	mock.ExpectQuery(q).WithArgs("shop", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_ROWS", "ENGINE", "DATA_LENGTH"}).AddRow(2_500_000, "InnoDB", 1<<30))
	stats, err := insp.Inspect(context.Background(), conn, "shop", "orders")
	require.NoError(t, err)
	assert.True(t, stats.Known)
	assert.Equal(t, int64(2_500_000), stats.Rows)
	assert.Equal(t, "InnoDB", stats.Engine)

	mock.ExpectQuery(q).WithArgs("shop", "view").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_ROWS", "ENGINE", "DATA_LENGTH"}).AddRow(nil, nil, nil))
	stats, err = insp.Inspect(context.Background(), conn, "shop", "view")
	require.NoError(t, err)
	assert.False(t, stats.Known)

	mock.ExpectQuery(q).WithArgs("shop", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_ROWS", "ENGINE", "DATA_LENGTH"}))
	_, err = insp.Inspect(context.Background(), conn, "shop", "missing")
	assert.True(t, exception.IsNotFound(err))

	assert.Equal(t, 1, opened, "handles are cached per connection")
	assert.NoError(t, mock.ExpectationsWereMet())
}
