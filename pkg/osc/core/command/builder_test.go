package command_test

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/mysqler/pkg/osc/core/command"
	"github.com/tigerroll/mysqler/pkg/osc/core/config"
	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/exception"
)

func newBuilder() *command.Builder {
	return command.NewBuilder(&config.NewConfig().Mysqler.Command)
}

func demoTarget() command.Target {
	return command.Target{
		Host:     "127.0.0.1",
		Port:     3306,
		User:     "root",
		Password: "s3cret",
		Database: "shop",
		Table:    "t_demo",
	}
}

func ddl(s string) *string { return &s }

func TestBuild_Deterministic(t *testing.T) {
	b := newBuilder()
	intent := command.Intent{Type: model.DDLAddColumn, OriginalDDL: ddl("ALTER TABLE t_demo ADD COLUMN c INT;")}
	params := model.ExecutionParams{ChunkSize: 500, LockWaitTimeout: 5}

	first, err := b.Build(demoTarget(), intent, params)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			again, err := b.Build(demoTarget(), intent, params)
			assert.NoError(t, err)
			assert.Equal(t, first.Command, again.Command)
		}()
	}
	wg.Wait()
}

func TestBuild_FlagOrder(t *testing.T) {
	res, err := newBuilder().Build(demoTarget(), command.Intent{Type: model.DDLFragment}, model.ExecutionParams{ChunkSize: 2000, LockWaitTimeout: 5})
	require.NoError(t, err)

	expected := strings.Join([]string{
		"pt-online-schema-change",
		"--host=127.0.0.1",
		"--port=3306",
		"--user=root",
		"--password=s3cret",
		"D=shop,t=t_demo",
		`--alter="ENGINE=InnoDB"`,
		"--chunk-size=2000",
		"--max-load=Threads_running=25",
		"--critical-load=Threads_running=50",
		"--check-interval=1",
		"--max-lag=1",
		"--charset=utf8mb4",
		"--progress=time,5",
		"--set-vars=lock_wait_timeout=5",
		"--print",
		"--execute",
		"--drop-old-table",
		"--statistics",
	}, command.Separator)
	assert.Equal(t, expected, res.Command)
	assert.Equal(t, strings.Replace(expected, "--password=s3cret", "--password=***", 1), res.Preview)
	assert.NotContains(t, res.Preview, "s3cret")
}

func TestBuild_NoCheckAlterAddsExactlyOneFlag(t *testing.T) {
	b := newBuilder()
	intent := command.Intent{Type: model.DDLFragment}

	off, err := b.Build(demoTarget(), intent, model.ExecutionParams{NoCheckAlter: false})
	require.NoError(t, err)
	on, err := b.Build(demoTarget(), intent, model.ExecutionParams{NoCheckAlter: true})
	require.NoError(t, err)

	assert.Contains(t, off.Preview, "pt-online-schema-change")
	assert.NotContains(t, off.Preview, "--no-check-alter")
	assert.Contains(t, on.Preview, "--no-check-alter")

	offParts := strings.Split(off.Command, command.Separator)
	onParts := strings.Split(on.Command, command.Separator)
	require.Len(t, onParts, len(offParts)+1)

	var removed []string
	j := 0
	for _, p := range onParts {
		if j < len(offParts) && offParts[j] == p {
			j++
			continue
		}
		removed = append(removed, p)
	}
	assert.Equal(t, []string{"--no-check-alter"}, removed)
	assert.Equal(t, len(offParts), j)
}

func TestBuild_DryRun(t *testing.T) {
	res, err := newBuilder().Build(demoTarget(), command.Intent{Type: model.DDLFragment}, model.ExecutionParams{DryRun: true})
	require.NoError(t, err)

	assert.Contains(t, res.Command, "--dry-run")
	assert.NotContains(t, res.Command, "--execute")
	assert.NotContains(t, res.Command, "--drop-old-table")
	assert.Contains(t, res.Risk.Suggestions, "dry run: no table data will be changed")
}

func TestBuild_ChunkSizeSubstitution(t *testing.T) {
	b := newBuilder()
	target := demoTarget()

	res, err := b.Build(target, command.Intent{Type: model.DDLFragment}, model.ExecutionParams{})
	require.NoError(t, err)
	assert.Equal(t, 1000, res.Params.ChunkSize, "unknown size falls back to the configured default")
	assert.Equal(t, "unknown", res.EstimatedTime)

	target.EstimatedRows, target.RowsKnown = 3_000_000, true
	res, err = b.Build(target, command.Intent{Type: model.DDLFragment}, model.ExecutionParams{})
	require.NoError(t, err)
	assert.Equal(t, 5000, res.Params.ChunkSize)
	assert.Contains(t, res.Command, "--chunk-size=5000")
	assert.Equal(t, "50m", res.EstimatedTime)

	_, err = b.Build(target, command.Intent{Type: model.DDLFragment}, model.ExecutionParams{ChunkSize: -1})
	assertValidation(t, err, "chunk_size")
}

func TestBuild_ValidationErrors(t *testing.T) {
	b := newBuilder()
	frag := command.Intent{Type: model.DDLFragment}

	cases := []struct {
		name   string
		target func(*command.Target)
		intent command.Intent
		params model.ExecutionParams
		field  string
	}{
		{"missing host", func(t *command.Target) { t.Host = "" }, frag, model.ExecutionParams{}, "host"},
		{"bad port", func(t *command.Target) { t.Port = 0 }, frag, model.ExecutionParams{}, "port"},
		{"missing user", func(t *command.Target) { t.User = "" }, frag, model.ExecutionParams{}, "user"},
		{"missing table", func(t *command.Target) { t.Table = "" }, frag, model.ExecutionParams{}, "table_name"},
		{"injected table", func(t *command.Target) { t.Table = "x;rm -rf /" }, frag, model.ExecutionParams{}, "table_name"},
		{"bad max load", nil, frag, model.ExecutionParams{MaxLoad: "Threads_running>25"}, "max_load"},
		{"bad critical load", nil, frag, model.ExecutionParams{CriticalLoad: "=50"}, "critical_load"},
		{"bad charset", nil, frag, model.ExecutionParams{Charset: "utf8; ls"}, "charset"},
		{"negative lock wait", nil, frag, model.ExecutionParams{LockWaitTimeout: -1}, "lock_wait_timeout"},
		{"unknown ddl type", nil, command.Intent{Type: "rename_table"}, model.ExecutionParams{}, "ddl_type"},
		{"missing ddl", nil, command.Intent{Type: model.DDLAddColumn}, model.ExecutionParams{}, "original_ddl"},
		{"type mismatch", nil, command.Intent{Type: model.DDLAddIndex, OriginalDDL: ddl("ADD COLUMN c INT")}, model.ExecutionParams{}, "ddl_type"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			target := demoTarget()
			if c.target != nil {
				c.target(&target)
			}
			_, err := b.Build(target, c.intent, c.params)
			assertValidation(t, err, c.field)
		})
	}
}

func TestBuild_PasswordQuoting(t *testing.T) {
	target := demoTarget()
	target.Password = "it's $ecret"

	res, err := newBuilder().Build(target, command.Intent{Type: model.DDLFragment}, model.ExecutionParams{})
	require.NoError(t, err)

	assert.Contains(t, res.Command, `--password='it'\''s $ecret'`)
	assert.Contains(t, res.Command, command.PasswordArg(target.Password))
	assert.Contains(t, res.Preview, "--password=***")
}

func TestBuild_AlterClauseEscaping(t *testing.T) {
	intent := command.Intent{Type: model.DDLAddColumn, OriginalDDL: ddl(`ADD COLUMN note VARCHAR(10) DEFAULT "a$b"`)}
	res, err := newBuilder().Build(demoTarget(), intent, model.ExecutionParams{})
	require.NoError(t, err)
	assert.Contains(t, res.Command, `--alter="ADD COLUMN note VARCHAR(10) DEFAULT \"a\$b\""`)
}

func assertValidation(t *testing.T, err error, field string) {
	t.Helper()
	require.Error(t, err)
	oe, ok := exception.As(err)
	require.True(t, ok, "expected OscError, got %T", err)
	assert.Equal(t, exception.KindValidation, oe.Kind)
	assert.Equal(t, field, oe.Field)
}
