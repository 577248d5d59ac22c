package export_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"

	storageAdapter "github.com/tigerroll/mysqler/pkg/osc/adapter/storage"
	"github.com/tigerroll/mysqler/pkg/osc/adapter/storage/local"
	"github.com/tigerroll/mysqler/pkg/osc/component/export"
	"github.com/tigerroll/mysqler/pkg/osc/core/config"
	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
	"github.com/tigerroll/mysqler/pkg/osc/core/domain/repository"
	"github.com/tigerroll/mysqler/pkg/osc/infrastructure/repository/inmemory"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/exception"
)

// bytesFile is a read-only source.ParquetFile over an in-memory Parquet file.
type bytesFile struct {
	data []byte
	*bytes.Reader
}

func newBytesFile(data []byte) *bytesFile {
	return &bytesFile{data: data, Reader: bytes.NewReader(data)}
}

func (f *bytesFile) Open(string) (source.ParquetFile, error)   { return newBytesFile(f.data), nil }
func (f *bytesFile) Create(string) (source.ParquetFile, error) { return nil, errors.New("read only") }
func (f *bytesFile) Write([]byte) (int, error)                 { return 0, errors.New("read only") }
func (f *bytesFile) Close() error                              { return nil }

func setup(t *testing.T, compression string) (*export.HistoryExporter, *inmemory.InMemoryJobRepository, storageAdapter.StorageConnection) {
	t.Helper()
	store := inmemory.NewInMemoryJobRepository()
	resolver := storageAdapter.NewStorageResolverFrom(
		map[string]storageAdapter.StorageConfig{"archive": {Type: local.ProviderType, BaseDir: t.TempDir(), BucketName: "history"}},
		[]storageAdapter.StorageProvider{local.NewLocalProvider()},
	)
	cfg := &config.ExportConfig{StorageRef: "archive", Prefix: "exports", Compression: compression, Parallelism: 2}
	conn, err := resolver.ResolveStorageConnection(context.Background(), "archive")
	require.NoError(t, err)
	return export.NewHistoryExporter(cfg, store, resolver), store, conn
}

func addJob(t *testing.T, store *inmemory.InMemoryJobRepository, table string, created time.Time, finish bool) *model.Job {
	t.Helper()
	ctx := context.Background()
	j := &model.Job{ConnectionID: "demo", DatabaseName: "shop", TableName: table, DDLType: model.DDLAddColumn, CreatedAt: created, CreatedBy: "alice"}
	require.NoError(t, store.Create(ctx, j))
	if finish {
		_, err := store.Update(ctx, j.ID, func(job *model.Job) error {
			require.NoError(t, job.MarkAsRunning(created.Add(time.Minute), "h1"))
			code := 1
			return job.MarkAsFailed(created.Add(2*time.Minute), &code, "process exited with code 1: boom")
		})
		require.NoError(t, err)
	}
	return j
}

func readRows(t *testing.T, conn storageAdapter.StorageConnection, name string) []export.HistoryRow {
	t.Helper()
	rc, err := conn.Download(context.Background(), "", name)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)

	pr, err := reader.NewParquetReader(newBytesFile(data), new(export.HistoryRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	rows := make([]export.HistoryRow, pr.GetNumRows())
	require.NoError(t, pr.Read(&rows))
	return rows
}

func TestExportPartitionsByCreationDay(t *testing.T) {
	exporter, store, conn := setup(t, "SNAPPY")
	day1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	failed := addJob(t, store, "orders", day1, true)
	addJob(t, store, "users", day1.Add(time.Hour), false)
	addJob(t, store, "items", day2, false)

	res, err := exporter.Export(context.Background(), repository.JobFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Rows)
	require.Len(t, res.Objects, 2)
	assert.Contains(t, res.Objects[0], "exports/dt=2026-03-01/jobs_")
	assert.Contains(t, res.Objects[1], "exports/dt=2026-03-02/jobs_")

	rows := readRows(t, conn, res.Objects[0])
	require.Len(t, rows, 2)
	var got *export.HistoryRow
	for i := range rows {
		if rows[i].ID == failed.ID {
			got = &rows[i]
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, "failed", got.Status)
	assert.Equal(t, "orders", got.TableName)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, int32(1), *got.ExitCode)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "process exited with code 1: boom", *got.ErrorMessage)
	assert.Equal(t, day1.UnixMilli(), got.CreatedAt)
	require.NotNil(t, got.EndTime)
	assert.Equal(t, day1.Add(2*time.Minute).UnixMilli(), *got.EndTime)
}

func TestExportHonoursFilter(t *testing.T) {
	exporter, store, _ := setup(t, "NONE")
	now := time.Now().UTC()
	addJob(t, store, "orders", now, true)
	addJob(t, store, "users", now, false)

	res, err := exporter.Export(context.Background(), repository.JobFilter{Statuses: []model.JobStatus{model.StatusFailed}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Rows)
}

func TestExportNothingToDo(t *testing.T) {
	exporter, _, _ := setup(t, "GZIP")
	res, err := exporter.Export(context.Background(), repository.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, res.Objects)
	assert.Zero(t, res.Rows)
}

func TestExportRejectsUnknownCompression(t *testing.T) {
	exporter, _, _ := setup(t, "LZ77")
	_, err := exporter.Export(context.Background(), repository.JobFilter{})
	assert.True(t, exception.IsValidation(err))
}
