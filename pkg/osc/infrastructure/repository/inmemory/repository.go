// Package inmemory provides a map-backed Job Store for tests and single-process runs where
// persistence is not required. Every read returns a clone.
package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
	repository "github.com/tigerroll/mysqler/pkg/osc/core/domain/repository"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/exception"
)

const module = "InMemoryJobRepository"

// InMemoryJobRepository holds jobs and their logs in maps.
type InMemoryJobRepository struct {
	jobs map[string]*model.Job
	logs map[string][]model.LogLine
	mu   sync.RWMutex
	now  func() time.Time
}

// NewInMemoryJobRepository creates an empty repository.
func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{
		jobs: make(map[string]*model.Job),
		logs: make(map[string][]model.LogLine),
		now:  time.Now,
	}
}

func (r *InMemoryJobRepository) Create(ctx context.Context, job *model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job.ID == "" {
		job.ID = model.NewID()
	}
	if _, exists := r.jobs[job.ID]; exists {
		return exception.NewStorageError(module, fmt.Sprintf("job %s already exists", job.ID), nil, false)
	}
	job.Status = model.StatusPending
	if job.CreatedAt.IsZero() {
		job.CreatedAt = r.now()
	}
	job.UpdatedAt = job.CreatedAt
	job.Version = 0
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *InMemoryJobRepository) Get(ctx context.Context, id string) (*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (r *InMemoryJobRepository) List(ctx context.Context, f repository.JobFilter, page repository.Page) (*repository.JobPage, error) {
	page = page.Normalize()

	r.mu.RLock()
	matched := make([]*model.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		if repository.MatchesFilter(job, f) {
			matched = append(matched, job.Clone())
		}
	}
	r.mu.RUnlock()

	repository.SortJobs(matched)
	total := int64(len(matched))
	start := page.Offset()
	if start > len(matched) {
		start = len(matched)
	}
	end := start + page.Size
	if end > len(matched) {
		end = len(matched)
	}
	return &repository.JobPage{Items: matched[start:end], Total: total, Page: page.Number, Size: page.Size}, nil
}

// Update mutates a clone so a failing mutator leaves the stored job untouched.
func (r *InMemoryJobRepository) Update(ctx context.Context, id string, mutate repository.JobMutator) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.jobs[id]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	job := stored.Clone()
	if err := mutate(job); err != nil {
		return nil, err
	}
	job.ID = id
	job.CreatedAt = stored.CreatedAt
	job.Version = stored.Version + 1
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = r.now()
	}
	r.jobs[id] = job
	return job.Clone(), nil
}

func (r *InMemoryJobRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return repository.ErrJobNotFound
	}
	if job.Status == model.StatusRunning {
		return exception.NewConflictError(module, id, fmt.Sprintf("job %s is running and cannot be deleted", id))
	}
	delete(r.jobs, id)
	delete(r.logs, id)
	return nil
}

func (r *InMemoryJobRepository) AppendLog(ctx context.Context, id string, line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[id]; !ok {
		return repository.ErrJobNotFound
	}
	seq := int64(len(r.logs[id]) + 1)
	r.logs[id] = append(r.logs[id], model.LogLine{Seq: seq, Line: line, CreatedAt: r.now()})
	return nil
}

func (r *InMemoryJobRepository) Logs(ctx context.Context, id string, afterSeq int64, limit int) ([]model.LogLine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.logs[id]
	if afterSeq < 0 {
		afterSeq = 0
	}
	if afterSeq >= int64(len(all)) {
		return []model.LogLine{}, nil
	}
	// seq n lives at index n-1.
	out := all[afterSeq:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return append([]model.LogLine(nil), out...), nil
}

func (r *InMemoryJobRepository) FindByStatus(ctx context.Context, status model.JobStatus) ([]*model.Job, error) {
	r.mu.RLock()
	var jobs []*model.Job
	for _, job := range r.jobs {
		if job.Status == status {
			jobs = append(jobs, job.Clone())
		}
	}
	r.mu.RUnlock()

	repository.SortJobs(jobs)
	return jobs, nil
}

func (r *InMemoryJobRepository) Stats(ctx context.Context, f repository.StatsFilter) (*repository.Stats, error) {
	filter := repository.JobFilter{ConnectionID: f.ConnectionID, CreatedFrom: f.CreatedFrom, CreatedTo: f.CreatedTo}
	stats := &repository.Stats{ByStatus: make(map[model.JobStatus]int64, len(model.AllStatuses))}
	for _, s := range model.AllStatuses {
		stats.ByStatus[s] = 0
	}

	var durationSum, durationCount int64
	r.mu.RLock()
	for _, job := range r.jobs {
		if !repository.MatchesFilter(job, filter) {
			continue
		}
		stats.Total++
		stats.ByStatus[job.Status]++
		if job.Status == model.StatusCompleted && job.DurationSeconds != nil {
			durationSum += *job.DurationSeconds
			durationCount++
		}
	}
	r.mu.RUnlock()

	if durationCount > 0 {
		stats.AvgDurationSeconds = float64(durationSum) / float64(durationCount)
	}
	stats.ComputeSuccessRate()
	return stats, nil
}

// Close holds no external resources.
func (r *InMemoryJobRepository) Close() error {
	return nil
}

var _ repository.JobRepository = (*InMemoryJobRepository)(nil)
