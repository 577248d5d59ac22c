package inmemory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
	repository "github.com/tigerroll/mysqler/pkg/osc/core/domain/repository"
	"github.com/tigerroll/mysqler/pkg/osc/infrastructure/repository/inmemory"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/exception"
)

func create(t *testing.T, r *inmemory.InMemoryJobRepository, table string, at time.Time) *model.Job {
	t.Helper()
	j := &model.Job{ConnectionID: "local", DatabaseName: "shop", TableName: table, DDLType: model.DDLFragment, CreatedAt: at}
	require.NoError(t, r.Create(context.Background(), j))
	return j
}

func TestReadsReturnClones(t *testing.T) {
	r := inmemory.NewInMemoryJobRepository()
	j := create(t, r, "t", time.Now())

	got, err := r.Get(context.Background(), j.ID)
	require.NoError(t, err)
	got.TableName = "changed"

	again, err := r.Get(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, "t", again.TableName)
}

func TestUpdateBumpsVersionAndKeepsStoredJobOnError(t *testing.T) {
	ctx := context.Background()
	r := inmemory.NewInMemoryJobRepository()
	j := create(t, r, "t", time.Now())

	updated, err := r.Update(ctx, j.ID, func(job *model.Job) error { return job.MarkAsRunning(time.Now(), "1") })
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Version)

	_, err = r.Update(ctx, j.ID, func(job *model.Job) error {
		job.TableName = "x"
		return job.MarkAsRunning(time.Now(), "")
	})
	require.Error(t, err)

	got, _ := r.Get(ctx, j.ID)
	assert.Equal(t, "t", got.TableName)
	assert.Equal(t, model.StatusRunning, got.Status)

	assert.True(t, exception.IsConflict(r.Delete(ctx, j.ID)))
	_, err = r.Update(ctx, "missing", func(*model.Job) error { return nil })
	assert.ErrorIs(t, err, repository.ErrJobNotFound)
}

func TestListPagingAndLogs(t *testing.T) {
	ctx := context.Background()
	r := inmemory.NewInMemoryJobRepository()
	base := time.Now()
	var ids []string
	for i, table := range []string{"a", "b", "c"} {
		ids = append(ids, create(t, r, table, base.Add(time.Duration(i)*time.Minute)).ID)
	}

	page, err := r.List(ctx, repository.JobFilter{}, repository.Page{Number: 1, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, ids[2], page.Items[0].ID)

	page, err = r.List(ctx, repository.JobFilter{}, repository.Page{Number: 5, Size: 2})
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	require.NoError(t, r.AppendLog(ctx, ids[0], "l1"))
	require.NoError(t, r.AppendLog(ctx, ids[0], "l2"))
	lines, err := r.Logs(ctx, ids[0], 1, 0)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, int64(2), lines[0].Seq)
	assert.ErrorIs(t, r.AppendLog(ctx, "missing", "x"), repository.ErrJobNotFound)
}
