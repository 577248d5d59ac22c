package repository_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
	"github.com/tigerroll/mysqler/pkg/osc/core/domain/repository"
)

func TestPageNormalize(t *testing.T) {
	assert.Equal(t, repository.Page{Number: 1, Size: 20}, repository.Page{}.Normalize())
	assert.Equal(t, repository.Page{Number: 3, Size: 200}, repository.Page{Number: 3, Size: 5000}.Normalize())
	assert.Equal(t, 40, repository.Page{Number: 3, Size: 20}.Offset())
}

func TestMatchesFilter(t *testing.T) {
	now := time.Now()
	job := &model.Job{ID: "abc-123", ConnectionID: "c1", DatabaseName: "Shop", TableName: "orders", Status: model.StatusRunning, CreatedAt: now}

	assert.True(t, repository.MatchesFilter(job, repository.JobFilter{}))
	assert.True(t, repository.MatchesFilter(job, repository.JobFilter{Keyword: "shop"}))
	assert.True(t, repository.MatchesFilter(job, repository.JobFilter{Keyword: "ORD"}))
	assert.True(t, repository.MatchesFilter(job, repository.JobFilter{Keyword: "c-12"}))
	assert.False(t, repository.MatchesFilter(job, repository.JobFilter{Keyword: "users"}))
	assert.False(t, repository.MatchesFilter(job, repository.JobFilter{ConnectionID: "c2"}))
	assert.True(t, repository.MatchesFilter(job, repository.JobFilter{Statuses: []model.JobStatus{model.StatusPending, model.StatusRunning}}))
	assert.False(t, repository.MatchesFilter(job, repository.JobFilter{Statuses: []model.JobStatus{model.StatusFailed}}))

	later := now.Add(time.Hour)
	assert.False(t, repository.MatchesFilter(job, repository.JobFilter{CreatedFrom: &later}))
	earlier := now.Add(-time.Hour)
	assert.False(t, repository.MatchesFilter(job, repository.JobFilter{CreatedTo: &earlier}))
}

func TestSortJobsIsStable(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jobs := []*model.Job{
		{ID: "b", CreatedAt: t0},
		{ID: "c", CreatedAt: t0.Add(time.Second)},
		{ID: "a", CreatedAt: t0},
	}
	repository.SortJobs(jobs)
	assert.Equal(t, []string{"c", "a", "b"}, []string{jobs[0].ID, jobs[1].ID, jobs[2].ID})
}

func TestStatsSuccessRate(t *testing.T) {
	s := &repository.Stats{ByStatus: map[model.JobStatus]int64{
		model.StatusCompleted: 3,
		model.StatusFailed:    1,
		model.StatusRunning:   5,
	}}
	s.ComputeSuccessRate()
	assert.InDelta(t, 75.0, s.SuccessRate, 0.001)

	empty := &repository.Stats{ByStatus: map[model.JobStatus]int64{}}
	empty.ComputeSuccessRate()
	assert.Zero(t, empty.SuccessRate)
}
