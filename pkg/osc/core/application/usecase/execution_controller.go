// Package usecase holds the execution controller: the component that owns the lifecycle of schema
// change jobs, admits them against their target table, and drives the supervised subprocess.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/mysqler/pkg/osc/core/application/port"
	"github.com/tigerroll/mysqler/pkg/osc/core/command"
	"github.com/tigerroll/mysqler/pkg/osc/core/config"
	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
	"github.com/tigerroll/mysqler/pkg/osc/core/domain/repository"
	"github.com/tigerroll/mysqler/pkg/osc/core/metrics"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/exception"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/logger"
)

const moduleName = "controller"

const (
	// OrphanedMessage is recorded on running jobs found without a live process at startup.
	OrphanedMessage = "orphaned on restart"
	// ShutdownMessage is recorded on jobs cancelled because the service stopped.
	ShutdownMessage = "cancelled by service shutdown"

	stopReason   = "stopped by user"
	cancelReason = "cancelled by user"
)

// run tracks one live subprocess and its monitor.
type run struct {
	jobID  string
	target model.TargetKey
	handle port.ProcessHandle
	done   chan struct{}

	cancelRequested atomic.Bool
	reasonMu        sync.Mutex
	reason          string
}

func (r *run) requestCancel(reason string) {
	r.reasonMu.Lock()
	if !r.cancelRequested.Load() {
		r.reason = reason
	}
	r.reasonMu.Unlock()
	r.cancelRequested.Store(true)
}

func (r *run) cancelReason() string {
	r.reasonMu.Lock()
	defer r.reasonMu.Unlock()
	return r.reason
}

// Dependencies groups the collaborators of ExecutionController.
// Inspector and Analyzer are optional; Listeners may be empty.
type Dependencies struct {
	Store       repository.JobRepository
	Builder     *command.Builder
	Resolver    port.ConnectionResolver
	Inspector   port.TableInspector
	Analyzer    port.RiskAnalyzer
	Supervisor  port.Supervisor
	Broadcaster port.Broadcaster
	Listeners   []port.JobListener
	Recorder    metrics.MetricRecorder
	Tracer      metrics.Tracer
}

// ExecutionController owns job lifecycle commands and the monitors of running jobs.
type ExecutionController struct {
	store       repository.JobRepository
	builder     *command.Builder
	resolver    port.ConnectionResolver
	inspector   port.TableInspector
	analyzer    port.RiskAnalyzer
	supervisor  port.Supervisor
	broadcaster port.Broadcaster
	listeners   []port.JobListener
	recorder    metrics.MetricRecorder
	tracer      metrics.Tracer

	locks   *JobLocks
	targets *ActiveTargets

	runsMu sync.Mutex
	runs   map[string]*run
	wg     sync.WaitGroup

	flushInterval time.Duration
	gracePeriod   time.Duration
	stopMargin    time.Duration

	now func() time.Time
}

// NewExecutionController creates a controller.
func NewExecutionController(deps Dependencies, ctrl *config.ControllerConfig, sup *config.SupervisorConfig) *ExecutionController {
	recorder := deps.Recorder
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	c := &ExecutionController{
		store:         deps.Store,
		builder:       deps.Builder,
		resolver:      deps.Resolver,
		inspector:     deps.Inspector,
		analyzer:      deps.Analyzer,
		supervisor:    deps.Supervisor,
		broadcaster:   deps.Broadcaster,
		listeners:     deps.Listeners,
		recorder:      recorder,
		tracer:        tracer,
		locks:         NewJobLocks(),
		runs:          make(map[string]*run),
		flushInterval: time.Second,
		gracePeriod:   30 * time.Second,
		stopMargin:    5 * time.Second,
		now:           func() time.Time { return time.Now().UTC() },
	}
	if ctrl != nil {
		if ctrl.ProgressFlushInterval >= 0 {
			c.flushInterval = ctrl.ProgressFlushInterval
		}
		if ctrl.StopWaitMargin > 0 {
			c.stopMargin = ctrl.StopWaitMargin
		}
	}
	if sup != nil && sup.GracePeriod > 0 {
		c.gracePeriod = sup.GracePeriod
	}
	limit := 0
	if ctrl != nil {
		limit = ctrl.MaxConcurrent
	}
	c.targets = NewActiveTargets(limit)
	return c
}

// Preview validates req and renders its command without creating a job.
func (c *ExecutionController) Preview(ctx context.Context, req CreateRequest) (*PreviewResult, error) {
	ctx, end := c.tracer.StartCommandSpan(ctx, "preview", "")
	defer end()

	res, stats, err := c.build(ctx, req)
	if err != nil {
		c.tracer.RecordError(ctx, moduleName, err)
		return nil, err
	}
	if c.analyzer != nil {
		extra, err := c.analyzer.Analyze(ctx, req.target(), req.intent())
		if err != nil {
			logger.Warnf("ExecutionController: risk analyzer failed for %s, using built-in annotations: %v", req.target(), err)
		} else {
			res.Risk = res.Risk.Merge(extra)
		}
	}
	out := &PreviewResult{
		Result:        res,
		ConnectionID:  req.ConnectionID,
		DatabaseName:  req.DatabaseName,
		TableName:     req.TableName,
		TotalRows:     stats.Rows,
		RowCountKnown: stats.Known,
	}
	if holder, ok := c.targets.Holder(req.target()); ok {
		out.ActiveJobID = holder
	}
	return out, nil
}

// Create validates req and stores a new pending job.
func (c *ExecutionController) Create(ctx context.Context, req CreateRequest, createdBy string) (*model.Job, error) {
	ctx, end := c.tracer.StartCommandSpan(ctx, "create", "")
	defer end()

	res, stats, err := c.build(ctx, req)
	if err != nil {
		c.tracer.RecordError(ctx, moduleName, err)
		return nil, err
	}
	now := c.now()
	job := &model.Job{
		ID:               model.NewID(),
		ConnectionID:     req.ConnectionID,
		DatabaseName:     req.DatabaseName,
		TableName:        req.TableName,
		DDLType:          req.DDLType,
		OriginalDDL:      req.OriginalDDL,
		GeneratedCommand: res.Preview,
		Params:           res.Params,
		Status:           model.StatusPending,
		TotalRows:        stats.Rows,
		RowCountKnown:    stats.Known,
		CreatedAt:        now,
		UpdatedAt:        now,
		CreatedBy:        createdBy,
	}
	if err := c.store.Create(ctx, job); err != nil {
		c.tracer.RecordError(ctx, moduleName, err)
		return nil, err
	}
	logger.Infof("ExecutionController: Job created (ID: %s, Target: %s, Type: %s, By: %s)", job.ID, job.Target(), job.DDLType, createdBy)
	c.publishStatus(job, "")
	return job, nil
}

// build resolves the connection, estimates the table size and renders the command.
func (c *ExecutionController) build(ctx context.Context, req CreateRequest) (*command.Result, port.TableStats, error) {
	var stats port.TableStats
	if req.ConnectionID == "" {
		return nil, stats, exception.NewValidationError(moduleName, "connection_id", "connection id is required")
	}
	conn, err := c.resolver.Resolve(ctx, req.ConnectionID)
	if err != nil {
		if exception.IsNotFound(err) {
			return nil, stats, exception.NewValidationErrorf(moduleName, "connection_id", "unknown connection %q", req.ConnectionID)
		}
		return nil, stats, err
	}
	if c.inspector != nil && req.DatabaseName != "" && req.TableName != "" {
		stats, err = c.inspector.Inspect(ctx, conn, req.DatabaseName, req.TableName)
		if err != nil {
			if exception.IsNotFound(err) {
				return nil, stats, exception.NewValidationErrorf(moduleName, "table_name", "table %s.%s does not exist", req.DatabaseName, req.TableName)
			}
			logger.Warnf("ExecutionController: row estimate unavailable for %s: %v", req.target(), err)
			stats = port.TableStats{}
		}
	}
	res, err := c.builder.Build(commandTarget(conn, req.DatabaseName, req.TableName, stats), req.intent(), req.Params)
	if err != nil {
		return nil, stats, err
	}
	return res, stats, nil
}

func commandTarget(conn *port.Connection, database, table string, stats port.TableStats) command.Target {
	return command.Target{
		Host:          conn.Host,
		Port:          conn.Port,
		User:          conn.User,
		Password:      conn.Password,
		Database:      database,
		Table:         table,
		EstimatedRows: stats.Rows,
		RowsKnown:     stats.Known,
	}
}

// Start admits a pending job against its target table and spawns its subprocess.
// A spawn failure is not an error of Start: the job is returned in failed state.
func (c *ExecutionController) Start(ctx context.Context, id string) (*model.Job, error) {
	ctx, end := c.tracer.StartCommandSpan(ctx, "start", id)
	defer end()

	unlock := c.locks.Lock(id)
	defer unlock()

	job, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != model.StatusPending {
		return nil, exception.NewInvalidStateError(moduleName, job.Status.String(),
			fmt.Sprintf("job %s cannot be started from status %s", id, job.Status))
	}

	target := job.Target()
	if holder, ok := c.targets.Acquire(target, id); !ok {
		if holder == "" {
			logger.Warnf("ExecutionController: Job %s rejected, %d jobs already running", id, c.targets.Len())
			return nil, exception.NewConflictError(moduleName, "",
				fmt.Sprintf("concurrent execution limit reached (%d running)", c.targets.Len()))
		}
		c.recorder.RecordAdmissionConflict(ctx, target)
		logger.Warnf("ExecutionController: Job %s rejected, target %s is held by job %s", id, target, holder)
		return nil, exception.NewConflictError(moduleName, holder,
			fmt.Sprintf("job %s is already running against %s", holder, target))
	}

	// The stored command is the masked preview; the executable one is rebuilt from the same inputs.
	res, conn, err := c.executableCommand(ctx, job)
	if err != nil {
		c.targets.Release(target, id)
		return nil, err
	}

	logger.Infof("ExecutionController: Launching Job (ID: %s, Target: %s)", id, target)
	job, err = c.store.Update(ctx, id, func(j *model.Job) error {
		return j.MarkAsRunning(c.now(), "")
	})
	if err != nil {
		c.targets.Release(target, id)
		return nil, err
	}
	c.publishStatus(job, "")

	spec := port.ProcessSpec{JobID: id, Command: res.Command, Password: conn.Password, Host: conn.Host}
	handle, spawnErr := c.supervisor.Spawn(ctx, spec)
	if spawnErr != nil {
		logger.Errorf("ExecutionController: Job %s failed to spawn: %v", id, spawnErr)
		c.tracer.RecordError(ctx, moduleName, spawnErr)
		failed, err := c.store.Update(ctx, id, func(j *model.Job) error {
			return j.MarkAsFailed(c.now(), nil, exception.ExtractErrorMessage(spawnErr))
		})
		c.targets.Release(target, id)
		if err != nil {
			return nil, multierror.Append(spawnErr, err)
		}
		c.finished(ctx, failed)
		return failed, nil
	}

	handleID := handle.ID()
	job = job.Clone()
	job.ProcessHandle = &handleID
	if updated, err := c.store.Update(ctx, id, func(j *model.Job) error {
		j.ProcessHandle = &handleID
		return nil
	}); err != nil {
		// The process is already running; the monitor will finalize the job from its exit.
		logger.Warnf("ExecutionController: could not record process handle of job %s: %v", id, err)
	} else {
		job = updated
	}

	started := job.Clone()
	for _, l := range c.listeners {
		l.OnJobStarted(ctx, started)
	}
	c.supervise(started, target, handle)
	return job, nil
}

// supervise registers a live process and starts its monitor.
func (c *ExecutionController) supervise(job *model.Job, target model.TargetKey, handle port.ProcessHandle) {
	r := &run{jobID: job.ID, target: target, handle: handle, done: make(chan struct{})}
	c.runsMu.Lock()
	c.runs[job.ID] = r
	c.runsMu.Unlock()

	c.wg.Add(1)
	go c.monitor(job, r)
}

func (c *ExecutionController) executableCommand(ctx context.Context, job *model.Job) (*command.Result, *port.Connection, error) {
	conn, err := c.resolver.Resolve(ctx, job.ConnectionID)
	if err != nil {
		if exception.IsNotFound(err) {
			return nil, nil, exception.NewValidationErrorf(moduleName, "connection_id", "unknown connection %q", job.ConnectionID)
		}
		return nil, nil, err
	}
	stats := port.TableStats{Rows: job.TotalRows, Known: job.RowCountKnown}
	intent := command.Intent{Type: job.DDLType, OriginalDDL: job.OriginalDDL}
	res, err := c.builder.Build(commandTarget(conn, job.DatabaseName, job.TableName, stats), intent, job.Params)
	if err != nil {
		return nil, nil, err
	}
	return res, conn, nil
}

// Stop interrupts a running job and lets the tool clean up before it is killed.
func (c *ExecutionController) Stop(ctx context.Context, id string) (*model.Job, error) {
	return c.halt(ctx, id, true, stopReason)
}

// Cancel kills a running job immediately.
func (c *ExecutionController) Cancel(ctx context.Context, id string) (*model.Job, error) {
	return c.halt(ctx, id, false, cancelReason)
}

func (c *ExecutionController) halt(ctx context.Context, id string, graceful bool, reason string) (*model.Job, error) {
	name := "cancel"
	if graceful {
		name = "stop"
	}
	ctx, end := c.tracer.StartCommandSpan(ctx, name, id)
	defer end()

	unlock := c.locks.Lock(id)
	job, err := c.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, err
	}
	if job.Status != model.StatusRunning {
		unlock()
		return nil, exception.NewInvalidStateError(moduleName, job.Status.String(),
			fmt.Sprintf("job %s cannot be stopped from status %s", id, job.Status))
	}

	r := c.liveRun(id)
	if r == nil {
		// Running in the store but not supervised here, e.g. left over from another process.
		job, err = c.store.Update(ctx, id, func(j *model.Job) error {
			return j.MarkAsCancelled(c.now(), nil, reason)
		})
		unlock()
		if err != nil {
			return nil, err
		}
		c.targets.Release(job.Target(), id)
		c.finished(ctx, job)
		return job, nil
	}

	r.requestCancel(reason)
	logger.Infof("ExecutionController: Stopping Job (ID: %s, Graceful: %t)", id, graceful)
	stopErr := r.handle.Stop(graceful)
	unlock()
	if stopErr != nil {
		logger.Warnf("ExecutionController: signalling job %s failed: %v", id, stopErr)
	}

	wait := c.stopMargin
	if graceful {
		wait += c.gracePeriod
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-r.done:
	case <-timer.C:
		logger.Warnf("ExecutionController: Job %s did not finish within %s of being stopped", id, wait)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c.Get(ctx, id)
}

// Retry creates a new pending job from a terminal one. The original job is not modified.
func (c *ExecutionController) Retry(ctx context.Context, id, createdBy string) (*model.Job, error) {
	ctx, end := c.tracer.StartCommandSpan(ctx, "retry", id)
	defer end()

	unlock := c.locks.Lock(id)
	defer unlock()

	job, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.Status.IsTerminal() {
		return nil, exception.NewInvalidStateError(moduleName, job.Status.String(),
			fmt.Sprintf("job %s cannot be retried from status %s", id, job.Status))
	}
	retry := job.CloneForRetry(model.NewID(), createdBy, c.now())
	if err := c.store.Create(ctx, retry); err != nil {
		return nil, err
	}
	logger.Infof("ExecutionController: Job %s created as retry of %s", retry.ID, id)
	c.publishStatus(retry, "")
	return retry, nil
}

// Delete removes a job that is not running.
func (c *ExecutionController) Delete(ctx context.Context, id string) error {
	unlock := c.locks.Lock(id)
	defer unlock()

	job, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status == model.StatusRunning {
		return exception.NewConflictError(moduleName, id, fmt.Sprintf("job %s is running", id))
	}
	if err := c.store.Delete(ctx, id); err != nil {
		return err
	}
	logger.Infof("ExecutionController: Job %s deleted", id)
	return nil
}

// Get returns a job or a NotFound error.
func (c *ExecutionController) Get(ctx context.Context, id string) (*model.Job, error) {
	job, err := c.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return nil, exception.NewNotFoundError(moduleName, fmt.Sprintf("job %s not found", id), err)
		}
		return nil, err
	}
	return job, nil
}

// Logs returns the output lines of a job after afterSeq.
func (c *ExecutionController) Logs(ctx context.Context, id string, afterSeq int64, limit int) ([]model.LogLine, error) {
	if _, err := c.Get(ctx, id); err != nil {
		return nil, err
	}
	return c.store.Logs(ctx, id, afterSeq, limit)
}

// List returns one page of jobs.
func (c *ExecutionController) List(ctx context.Context, filter repository.JobFilter, page repository.Page) (*repository.JobPage, error) {
	return c.store.List(ctx, filter, page)
}

// ListRunning returns every job in running state.
func (c *ExecutionController) ListRunning(ctx context.Context) ([]*model.Job, error) {
	return c.store.FindByStatus(ctx, model.StatusRunning)
}

// Stats aggregates job outcomes.
func (c *ExecutionController) Stats(ctx context.Context, filter repository.StatsFilter) (*repository.Stats, error) {
	return c.store.Stats(ctx, filter)
}

// Subscribe opens an event stream for one job or for repository-wide AllJobs.
func (c *ExecutionController) Subscribe(ctx context.Context, jobID string) (port.Subscription, error) {
	if jobID != port.AllJobs {
		if _, err := c.Get(ctx, jobID); err != nil {
			return nil, err
		}
	}
	return c.broadcaster.Subscribe(jobID)
}

// Reconcile settles running jobs that are not supervised by this controller. A job whose process
// is still alive is adopted: its target stays held and a monitor records its exit. The rest are failed.
// It runs at startup, when nothing is supervised yet.
func (c *ExecutionController) Reconcile(ctx context.Context) error {
	jobs, err := c.store.FindByStatus(ctx, model.StatusRunning)
	if err != nil {
		return err
	}
	var merr *multierror.Error
	adopted := 0
	for _, job := range jobs {
		if c.liveRun(job.ID) != nil {
			continue
		}
		unlock := c.locks.Lock(job.ID)
		if c.adopt(job) {
			unlock()
			adopted++
			continue
		}
		failed, err := c.store.Update(ctx, job.ID, func(j *model.Job) error {
			if j.Status != model.StatusRunning {
				return nil
			}
			return j.MarkAsFailed(c.now(), nil, OrphanedMessage)
		})
		unlock()
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("reconcile job %s: %w", job.ID, err))
			continue
		}
		logger.Warnf("ExecutionController: Job %s marked failed, %s", job.ID, OrphanedMessage)
		c.finished(ctx, failed)
	}
	if len(jobs) > 0 {
		logger.Infof("ExecutionController: reconciled %d running job(s), %d adopted", len(jobs), adopted)
	}
	return merr.ErrorOrNil()
}

// adopt resumes supervision of job when its recorded process is still alive.
func (c *ExecutionController) adopt(job *model.Job) bool {
	if job.ProcessHandle == nil || *job.ProcessHandle == "" {
		return false
	}
	handle, ok := c.supervisor.Adopt(job.ID, *job.ProcessHandle)
	if !ok {
		return false
	}
	target := job.Target()
	if holder := c.targets.Hold(target, job.ID); holder != "" {
		logger.Warnf("ExecutionController: adopted job %s shares target %s with job %s", job.ID, target, holder)
	}
	logger.Warnf("ExecutionController: Job %s still has a live process (%s), resuming supervision", job.ID, handle.ID())
	c.supervise(job, target, handle)
	return true
}

// Shutdown stops every supervised job and waits for their monitors until ctx expires.
// Jobs still alive at the deadline are killed.
func (c *ExecutionController) Shutdown(ctx context.Context) error {
	c.runsMu.Lock()
	live := make([]*run, 0, len(c.runs))
	for _, r := range c.runs {
		live = append(live, r)
	}
	c.runsMu.Unlock()

	var merr *multierror.Error
	for _, r := range live {
		r.requestCancel(ShutdownMessage)
		if err := r.handle.Stop(true); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("stop job %s: %w", r.jobID, err))
		}
	}
	if len(live) > 0 {
		logger.Infof("ExecutionController: waiting for %d running job(s) to stop", len(live))
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		for _, r := range live {
			if r.handle.IsAlive() {
				_ = r.handle.Stop(false)
			}
		}
		merr = multierror.Append(merr, fmt.Errorf("shutdown: %w", ctx.Err()))
	}
	return merr.ErrorOrNil()
}

// RunningCount returns the number of jobs supervised by this controller.
func (c *ExecutionController) RunningCount() int {
	c.runsMu.Lock()
	defer c.runsMu.Unlock()
	return len(c.runs)
}

func (c *ExecutionController) liveRun(id string) *run {
	c.runsMu.Lock()
	defer c.runsMu.Unlock()
	return c.runs[id]
}

func (c *ExecutionController) publishStatus(job *model.Job, message string) {
	if message == "" && job.ErrorMessage != nil {
		message = *job.ErrorMessage
	}
	p := job.Snapshot()
	c.broadcaster.Publish(model.Event{
		Type:     model.EventStatus,
		JobID:    job.ID,
		Status:   job.Status,
		Progress: &p,
		Message:  message,
	})
}

// finished announces a terminal job to subscribers and listeners.
func (c *ExecutionController) finished(ctx context.Context, job *model.Job) {
	c.publishStatus(job, "")
	for _, l := range c.listeners {
		l.OnJobFinished(ctx, job.Clone())
	}
}
