package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
)

func newPendingJob() *model.Job {
	ddl := "ADD COLUMN c INT"
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &model.Job{
		ID:           "job-1",
		ConnectionID: "conn-1",
		DatabaseName: "shop",
		TableName:    "orders",
		DDLType:      model.DDLAddColumn,
		OriginalDDL:  &ddl,
		Params: model.ExecutionParams{
			ChunkSize:   1000,
			OtherParams: map[string]string{"k": "v"},
		},
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		CreatedBy: "alice",
	}
}

func TestStatusHelpers(t *testing.T) {
	assert.True(t, model.StatusCompleted.IsTerminal())
	assert.True(t, model.StatusFailed.IsTerminal())
	assert.True(t, model.StatusCancelled.IsTerminal())
	assert.False(t, model.StatusPending.IsTerminal())
	assert.False(t, model.StatusRunning.IsTerminal())

	st, err := model.ParseStatus("running")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, st)
	_, err = model.ParseStatus("STARTED")
	assert.Error(t, err)
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to model.JobStatus
		ok       bool
	}{
		{model.StatusPending, model.StatusRunning, true},
		{model.StatusPending, model.StatusCompleted, false},
		{model.StatusPending, model.StatusCancelled, false},
		{model.StatusRunning, model.StatusCompleted, true},
		{model.StatusRunning, model.StatusFailed, true},
		{model.StatusRunning, model.StatusCancelled, true},
		{model.StatusRunning, model.StatusPending, false},
		{model.StatusCompleted, model.StatusRunning, false},
		{model.StatusFailed, model.StatusPending, false},
		{model.StatusCancelled, model.StatusRunning, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, model.CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestEndTimeSetIffTerminal(t *testing.T) {
	job := newPendingJob()
	start := job.CreatedAt.Add(time.Minute)

	require.NoError(t, job.MarkAsRunning(start, "4242"))
	assert.NotNil(t, job.StartTime)
	assert.Nil(t, job.EndTime)
	require.NotNil(t, job.ProcessHandle)
	assert.Equal(t, "4242", *job.ProcessHandle)

	end := start.Add(90 * time.Second)
	require.NoError(t, job.MarkAsCompleted(end, 0))
	require.NotNil(t, job.EndTime)
	assert.Equal(t, end, *job.EndTime)
	require.NotNil(t, job.DurationSeconds)
	assert.Equal(t, int64(90), *job.DurationSeconds)
	assert.Nil(t, job.ProcessHandle)
	assert.Equal(t, float64(100), job.ProgressPercent)

	assert.Error(t, job.MarkAsFailed(end, nil, "late"))
	assert.Equal(t, model.StatusCompleted, job.Status)
}

func TestMarkAsFailedAndCancelled(t *testing.T) {
	now := time.Now()

	failed := newPendingJob()
	require.NoError(t, failed.MarkAsRunning(now, ""))
	code := 2
	require.NoError(t, failed.MarkAsFailed(now, &code, "boom"))
	assert.Equal(t, "boom", *failed.ErrorMessage)
	assert.Equal(t, 2, *failed.ExitCode)
	assert.Nil(t, failed.ProcessHandle)

	cancelled := newPendingJob()
	assert.Error(t, cancelled.MarkAsCancelled(now, nil, ""), "pending jobs cannot be cancelled")
	require.NoError(t, cancelled.MarkAsRunning(now, ""))
	require.NoError(t, cancelled.MarkAsCancelled(now, nil, ""))
	assert.Nil(t, cancelled.ErrorMessage)
	assert.NotNil(t, cancelled.EndTime)
}

func TestApplyProgressClampsToKnownTotal(t *testing.T) {
	job := newPendingJob()

	job.ApplyProgress(model.Progress{ProcessedRows: 500})
	assert.False(t, job.RowCountKnown)
	assert.Equal(t, int64(500), job.ProcessedRows)

	job.ApplyProgress(model.Progress{TotalRows: 1000, Stage: "copying"})
	assert.True(t, job.RowCountKnown)
	assert.Equal(t, "copying", job.CurrentStage)

	job.ApplyProgress(model.Progress{ProcessedRows: 5000, Speed: 120})
	assert.Equal(t, int64(1000), job.ProcessedRows)
	assert.LessOrEqual(t, job.ProcessedRows, job.TotalRows)
	assert.Equal(t, float64(120), job.AvgSpeed)

	job.ApplyProgress(model.Progress{ProcessedRows: 10})
	assert.Equal(t, int64(1000), job.ProcessedRows, "processed rows never go backwards")
}

func TestApplyProgressDerivesRowsFromPercent(t *testing.T) {
	job := newPendingJob()
	job.ApplyProgress(model.Progress{TotalRows: 2000})
	job.ApplyProgress(model.Progress{Percent: 25})

	assert.Equal(t, int64(500), job.ProcessedRows)
	assert.Equal(t, float64(25), job.ProgressPercent)
}

func TestCloneIsDeep(t *testing.T) {
	job := newPendingJob()
	c := job.Clone()

	*c.OriginalDDL = "changed"
	c.Params.OtherParams["k"] = "changed"

	assert.Equal(t, "ADD COLUMN c INT", *job.OriginalDDL)
	assert.Equal(t, "v", job.Params.OtherParams["k"])
	assert.Nil(t, (*model.Job)(nil).Clone())
}

func TestCloneForRetryPreservesIntent(t *testing.T) {
	orig := newPendingJob()
	orig.GeneratedCommand = "pt-online-schema-change ..."
	now := time.Now()
	require.NoError(t, orig.MarkAsRunning(now, ""))
	require.NoError(t, orig.MarkAsFailed(now, nil, "boom"))
	before := orig.Clone()

	retry := orig.CloneForRetry("job-2", "bob", now)

	assert.Equal(t, "job-2", retry.ID)
	assert.Equal(t, model.StatusPending, retry.Status)
	assert.Equal(t, orig.Target(), retry.Target())
	assert.Equal(t, orig.DDLType, retry.DDLType)
	assert.Equal(t, *orig.OriginalDDL, *retry.OriginalDDL)
	assert.Equal(t, orig.Params, retry.Params)
	assert.Equal(t, orig.GeneratedCommand, retry.GeneratedCommand)
	assert.Equal(t, "job-1", *retry.RetryOf)
	assert.Nil(t, retry.StartTime)
	assert.Nil(t, retry.EndTime)
	assert.Nil(t, retry.ErrorMessage)
	assert.Equal(t, before, orig)
}

func TestExecutionParamsValueScan(t *testing.T) {
	p := model.ExecutionParams{ChunkSize: 2000, Charset: "utf8mb4", NoCheckAlter: true}
	v, err := p.Value()
	require.NoError(t, err)
	assert.Contains(t, v.(string), `"no_check_alter":true`)

	var back model.ExecutionParams
	require.NoError(t, back.Scan([]byte(v.(string))))
	assert.Equal(t, p, back)

	require.NoError(t, back.Scan(nil))
	assert.Equal(t, model.ExecutionParams{}, back)
	assert.Error(t, back.Scan(42))
}

func TestExecutionParamsWithDefaults(t *testing.T) {
	defaults := model.ExecutionParams{MaxLoad: "Threads_running=25", CriticalLoad: "Threads_running=50", Charset: "utf8mb4"}
	p := model.ExecutionParams{Charset: "latin1"}.WithDefaults(defaults)

	assert.Equal(t, "Threads_running=25", p.MaxLoad)
	assert.Equal(t, "Threads_running=50", p.CriticalLoad)
	assert.Equal(t, "latin1", p.Charset)
	assert.Equal(t, 0, p.ChunkSize)
}
