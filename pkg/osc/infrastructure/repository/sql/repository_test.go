package sql_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "github.com/tigerroll/mysqler/pkg/osc/adapter/database/config"
	gormadapter "github.com/tigerroll/mysqler/pkg/osc/adapter/database/gorm"
	_ "github.com/tigerroll/mysqler/pkg/osc/adapter/database/gorm/sqlite"
	"github.com/tigerroll/mysqler/pkg/osc/component/migration"
	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
	repository "github.com/tigerroll/mysqler/pkg/osc/core/domain/repository"
	sqlrepo "github.com/tigerroll/mysqler/pkg/osc/infrastructure/repository/sql"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/exception"
)

func newRepo(t *testing.T) *sqlrepo.SQLJobRepository {
	t.Helper()
	cfg := dbconfig.DatabaseConfig{
		Type:     "sqlite",
		Database: filepath.Join(t.TempDir(), "jobs.db"),
		Pool:     dbconfig.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1},
	}
	db, err := gormadapter.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	m, err := migration.NewMigrator(db, "sqlite")
	require.NoError(t, err)
	require.NoError(t, m.Up(context.Background()))
	return sqlrepo.NewSQLJobRepository(db)
}

func newJob(conn, db, table string, createdAt time.Time) *model.Job {
	ddl := "ADD COLUMN c INT"
	return &model.Job{
		ConnectionID:     conn,
		DatabaseName:     db,
		TableName:        table,
		DDLType:          model.DDLAddColumn,
		OriginalDDL:      &ddl,
		GeneratedCommand: "pt-online-schema-change --execute",
		Params:           model.ExecutionParams{ChunkSize: 1000, Charset: "utf8mb4", OtherParams: map[string]string{"k": "v"}},
		CreatedAt:        createdAt,
		CreatedBy:        "alice",
	}
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	job := newJob("local", "shop", "orders", time.Now())
	job.Status = model.StatusRunning
	require.NoError(t, repo.Create(ctx, job))
	require.NotEmpty(t, job.ID)
	assert.Equal(t, model.StatusPending, job.Status, "create always starts pending")

	got, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "orders", got.TableName)
	assert.Equal(t, model.DDLAddColumn, got.DDLType)
	assert.Equal(t, "ADD COLUMN c INT", *got.OriginalDDL)
	assert.Equal(t, "v", got.Params.OtherParams["k"])
	assert.Nil(t, got.EndTime)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrJobNotFound)
}

func TestUpdateLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	job := newJob("local", "shop", "orders", time.Now())
	require.NoError(t, repo.Create(ctx, job))

	start := time.Now().UTC().Truncate(time.Second)
	running, err := repo.Update(ctx, job.ID, func(j *model.Job) error {
		return j.MarkAsRunning(start, "4242")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, running.Version)

	done, err := repo.Update(ctx, job.ID, func(j *model.Job) error {
		return j.MarkAsCompleted(start.Add(90*time.Second), 0)
	})
	require.NoError(t, err)

	got, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	require.NotNil(t, got.EndTime)
	require.NotNil(t, got.DurationSeconds)
	assert.Equal(t, int64(90), *got.DurationSeconds)
	assert.Nil(t, got.ProcessHandle)
	assert.Equal(t, done.Version, got.Version)
}

func TestUpdateMutatorErrorLeavesJobUntouched(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	job := newJob("local", "shop", "orders", time.Now())
	require.NoError(t, repo.Create(ctx, job))

	_, err := repo.Update(ctx, job.ID, func(j *model.Job) error {
		j.CreatedBy = "mallory"
		return j.TransitionTo(model.StatusCompleted, time.Now())
	})
	require.Error(t, err)

	got, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, "alice", got.CreatedBy)
	assert.Equal(t, 0, got.Version)
}

func TestDeleteRejectsRunningJobs(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	job := newJob("local", "shop", "orders", time.Now())
	require.NoError(t, repo.Create(ctx, job))
	require.NoError(t, repo.AppendLog(ctx, job.ID, "hello"))

	_, err := repo.Update(ctx, job.ID, func(j *model.Job) error { return j.MarkAsRunning(time.Now(), "") })
	require.NoError(t, err)

	err = repo.Delete(ctx, job.ID)
	assert.True(t, exception.IsConflict(err))

	_, err = repo.Update(ctx, job.ID, func(j *model.Job) error { return j.MarkAsCancelled(time.Now(), nil, "stopped") })
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, job.ID))

	_, err = repo.Get(ctx, job.ID)
	assert.ErrorIs(t, err, repository.ErrJobNotFound)
	logs, err := repo.Logs(ctx, job.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestLogsAreSequencedPerJob(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	a := newJob("local", "shop", "a", time.Now())
	b := newJob("local", "shop", "b", time.Now())
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))

	for _, line := range []string{"one", "two", "three"} {
		require.NoError(t, repo.AppendLog(ctx, a.ID, line))
	}
	require.NoError(t, repo.AppendLog(ctx, b.ID, "other"))

	all, err := repo.Logs(ctx, a.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(1), all[0].Seq)
	assert.Equal(t, "three", all[2].Line)

	tail, err := repo.Logs(ctx, a.ID, 1, 1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, "two", tail[0].Line)

	other, err := repo.Logs(ctx, b.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, int64(1), other[0].Seq)
}

func TestListFiltersAndOrdering(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	jobs := []*model.Job{
		newJob("local", "shop", "orders", base),
		newJob("local", "shop", "users", base.Add(time.Hour)),
		newJob("replica", "crm", "contacts", base.Add(2*time.Hour)),
		newJob("local", "shop", "orders_100%", base.Add(3*time.Hour)),
	}
	for _, j := range jobs {
		require.NoError(t, repo.Create(ctx, j))
	}

	page, err := repo.List(ctx, repository.JobFilter{}, repository.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Total)
	assert.Equal(t, repository.DefaultPageSize, page.Size)
	assert.Equal(t, jobs[3].ID, page.Items[0].ID, "newest first")

	page, err = repo.List(ctx, repository.JobFilter{ConnectionID: "local", Keyword: "ORDERS"}, repository.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)

	page, err = repo.List(ctx, repository.JobFilter{Keyword: "100%"}, repository.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total, "wildcards in keywords are literal")

	from := base.Add(30 * time.Minute)
	to := base.Add(150 * time.Minute)
	page, err = repo.List(ctx, repository.JobFilter{CreatedFrom: &from, CreatedTo: &to}, repository.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)

	page, err = repo.List(ctx, repository.JobFilter{}, repository.Page{Number: 2, Size: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, jobs[0].ID, page.Items[0].ID)

	page, err = repo.List(ctx, repository.JobFilter{Statuses: []model.JobStatus{model.StatusRunning}}, repository.Page{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestFindByStatusAndStats(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	now := time.Now().UTC()

	finish := func(mark func(j *model.Job, end time.Time) error, seconds int) {
		j := newJob("local", "shop", "t", now)
		require.NoError(t, repo.Create(ctx, j))
		_, err := repo.Update(ctx, j.ID, func(j *model.Job) error {
			if err := j.MarkAsRunning(now, ""); err != nil {
				return err
			}
			return mark(j, now.Add(time.Duration(seconds)*time.Second))
		})
		require.NoError(t, err)
	}
	completed := func(j *model.Job, end time.Time) error { return j.MarkAsCompleted(end, 0) }
	failed := func(j *model.Job, end time.Time) error { code := 1; return j.MarkAsFailed(end, &code, "boom") }

	finish(completed, 10)
	finish(completed, 30)
	finish(failed, 5)
	require.NoError(t, repo.Create(ctx, newJob("local", "shop", "pending", now)))

	failedJobs, err := repo.FindByStatus(ctx, model.StatusFailed)
	require.NoError(t, err)
	assert.Len(t, failedJobs, 1)

	stats, err := repo.Stats(ctx, repository.StatsFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(2), stats.ByStatus[model.StatusCompleted])
	assert.Equal(t, int64(1), stats.ByStatus[model.StatusPending])
	assert.Equal(t, int64(0), stats.ByStatus[model.StatusRunning])
	assert.InDelta(t, 66.67, stats.SuccessRate, 0.01)
	assert.InDelta(t, 20.0, stats.AvgDurationSeconds, 0.001)

	stats, err = repo.Stats(ctx, repository.StatsFilter{ConnectionID: "nowhere"})
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
	assert.Zero(t, stats.SuccessRate)
}
