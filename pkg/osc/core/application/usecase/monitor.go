package usecase

import (
	"context"
	"time"

	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/exception"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/logger"
)

// monitor consumes the subprocess output of one job until it exits, then records the outcome.
// It is the only publisher of the job's progress and log events, which keeps them in order.
func (c *ExecutionController) monitor(job *model.Job, r *run) {
	defer c.wg.Done()
	defer close(r.done)

	ctx, end := c.tracer.StartJobSpan(context.Background(), job)
	defer end()

	local := job.Clone()
	var lastFlush time.Time

	flush := func() {
		snap := local.Snapshot()
		updated, err := c.store.Update(ctx, job.ID, func(j *model.Job) error {
			if j.Status != model.StatusRunning {
				return nil
			}
			j.ApplyProgress(snap)
			j.UpdatedAt = c.now()
			return nil
		})
		if err != nil {
			logger.Warnf("ExecutionController: progress of job %s not persisted: %v", job.ID, err)
			return
		}
		lastFlush = time.Now()
		c.recorder.RecordProgress(ctx, updated)
	}

	for ev := range r.handle.Events() {
		if err := c.store.AppendLog(ctx, job.ID, ev.Line); err != nil {
			logger.Warnf("ExecutionController: log line of job %s not persisted: %v", job.ID, err)
		}
		c.broadcaster.Publish(model.Event{Type: model.EventLog, JobID: job.ID, Line: ev.Line})

		if !ev.Parsed {
			continue
		}
		local.ApplyProgress(ev.Progress)
		snap := local.Snapshot()
		c.broadcaster.Publish(model.Event{Type: model.EventProgress, JobID: job.ID, Status: model.StatusRunning, Progress: &snap})
		if time.Since(lastFlush) >= c.flushInterval {
			flush()
		}
	}

	result := r.handle.Wait()
	exitCode := result.ExitCode

	unlock := c.locks.Lock(job.ID)
	cancelled := r.cancelRequested.Load()
	final := local.Snapshot()
	finished, err := c.store.Update(ctx, job.ID, func(j *model.Job) error {
		j.ApplyProgress(final)
		now := c.now()
		switch {
		case cancelled:
			return j.MarkAsCancelled(now, &exitCode, r.cancelReason())
		case exitCode == 0 && result.Err == nil:
			return j.MarkAsCompleted(now, exitCode)
		default:
			perr := exception.NewProcessError(moduleName, exitCode, result.Tail, result.Err)
			return j.MarkAsFailed(now, &exitCode, perr.Message)
		}
	})

	c.runsMu.Lock()
	delete(c.runs, job.ID)
	c.runsMu.Unlock()
	c.targets.Release(r.target, job.ID)
	unlock()

	if err != nil {
		// Left running in the store; Reconcile fails it on the next start.
		logger.Errorf("ExecutionController: outcome of job %s not persisted (exit %d): %v", job.ID, exitCode, err)
		c.tracer.RecordError(ctx, moduleName, err)
		return
	}
	if finished.Status == model.StatusFailed {
		c.tracer.RecordError(ctx, moduleName, exception.NewProcessError(moduleName, exitCode, result.Tail, result.Err))
	}
	logger.Infof("ExecutionController: Job finished (ID: %s, Status: %s, ExitCode: %d)", job.ID, finished.Status, exitCode)
	c.finished(ctx, finished)
}
