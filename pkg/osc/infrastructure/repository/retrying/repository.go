// Package retrying decorates a JobRepository with bounded retries of transient storage failures.
package retrying

import (
	"context"

	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
	repository "github.com/tigerroll/mysqler/pkg/osc/core/domain/repository"
	"github.com/tigerroll/mysqler/pkg/osc/core/metrics"
	"github.com/tigerroll/mysqler/pkg/osc/core/retry"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/exception"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/logger"
)

// Repository retries operations of the wrapped store according to policy.
// Update re-reads the job on every attempt, so mutators must only depend on the job they receive.
type Repository struct {
	inner    repository.JobRepository
	policy   retry.RetryPolicy
	recorder metrics.MetricRecorder
}

// New wraps inner. A nil recorder disables retry metrics.
func New(inner repository.JobRepository, policy retry.RetryPolicy, recorder metrics.MetricRecorder) *Repository {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	return &Repository{inner: inner, policy: policy, recorder: recorder}
}

func (r *Repository) do(ctx context.Context, op string, fn func() error) error {
	return retry.Do(ctx, r.policy, fn, func(attempt int, err error) {
		logger.Warnf("JobStore: %s failed (attempt %d/%d), retrying: %v", op, attempt, r.policy.GetMaxAttempts(), err)
		reason := string(exception.KindOf(err))
		if exception.IsOptimisticLockingFailure(err) {
			reason = "optimistic_lock"
		}
		r.recorder.RecordStoreRetry(ctx, op, reason)
	})
}

func (r *Repository) Create(ctx context.Context, job *model.Job) error {
	return r.do(ctx, "create", func() error { return r.inner.Create(ctx, job) })
}

func (r *Repository) Get(ctx context.Context, id string) (job *model.Job, err error) {
	err = r.do(ctx, "get", func() error {
		job, err = r.inner.Get(ctx, id)
		return err
	})
	return job, err
}

func (r *Repository) List(ctx context.Context, f repository.JobFilter, page repository.Page) (res *repository.JobPage, err error) {
	err = r.do(ctx, "list", func() error {
		res, err = r.inner.List(ctx, f, page)
		return err
	})
	return res, err
}

func (r *Repository) Update(ctx context.Context, id string, mutate repository.JobMutator) (job *model.Job, err error) {
	err = r.do(ctx, "update", func() error {
		job, err = r.inner.Update(ctx, id, mutate)
		return err
	})
	return job, err
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.do(ctx, "delete", func() error { return r.inner.Delete(ctx, id) })
}

func (r *Repository) AppendLog(ctx context.Context, id string, line string) error {
	return r.do(ctx, "append_log", func() error { return r.inner.AppendLog(ctx, id, line) })
}

func (r *Repository) Logs(ctx context.Context, id string, afterSeq int64, limit int) (lines []model.LogLine, err error) {
	err = r.do(ctx, "logs", func() error {
		lines, err = r.inner.Logs(ctx, id, afterSeq, limit)
		return err
	})
	return lines, err
}

func (r *Repository) FindByStatus(ctx context.Context, status model.JobStatus) (jobs []*model.Job, err error) {
	err = r.do(ctx, "find_by_status", func() error {
		jobs, err = r.inner.FindByStatus(ctx, status)
		return err
	})
	return jobs, err
}

func (r *Repository) Stats(ctx context.Context, f repository.StatsFilter) (stats *repository.Stats, err error) {
	err = r.do(ctx, "stats", func() error {
		stats, err = r.inner.Stats(ctx, f)
		return err
	})
	return stats, err
}

func (r *Repository) Close() error {
	return r.inner.Close()
}

var _ repository.JobRepository = (*Repository)(nil)
