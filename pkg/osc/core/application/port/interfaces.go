// Package port defines the collaborators the execution controller depends on.
// Infrastructure packages implement them; tests substitute fakes.
package port

import (
	"context"

	"github.com/tigerroll/mysqler/pkg/osc/core/command"
	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
)

// Connection is everything needed to reach a target MySQL server.
type Connection struct {
	ID       string `json:"id" yaml:"id"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"-" yaml:"password"`
	Charset  string `json:"charset" yaml:"charset"`
}

// ConnectionResolver returns connection details for a connection id.
type ConnectionResolver interface {
	// Resolve returns a NotFound error for unknown ids.
	Resolve(ctx context.Context, id string) (*Connection, error)
}

// TableStats is a row estimate for a target table.
type TableStats struct {
	Rows      int64
	Known     bool
	Engine    string
	DataBytes int64
}

// TableInspector estimates the size of a target table. Optional.
type TableInspector interface {
	Inspect(ctx context.Context, conn *Connection, database, table string) (TableStats, error)
}

// RiskAnalyzer supplies advisory annotations. Optional; failures are ignored by the controller.
type RiskAnalyzer interface {
	Analyze(ctx context.Context, target model.TargetKey, intent command.Intent) (command.RiskAnnotations, error)
}

// ProcessSpec describes one subprocess to supervise.
type ProcessSpec struct {
	JobID   string
	Command string
	// Password is the secret embedded in Command; runners may move it into the environment.
	Password string
	Host     string
	Env      map[string]string
}

// ProcessResult is reported once the subprocess has exited.
type ProcessResult struct {
	ExitCode int
	Tail     []string
	// Err is set when the process could not be waited on or did not exit normally.
	Err error
	// Signaled reports termination by a signal sent through Stop.
	Signaled bool
}

// ProcessHandle controls a running subprocess.
type ProcessHandle interface {
	// ID is the pid or container name.
	ID() string
	// Events yields parsed output lines and is closed after the process exits.
	Events() <-chan model.ProgressEvent
	// Wait blocks until the process has exited and all output has been read.
	Wait() ProcessResult
	// Stop interrupts the process; graceful escalates to a kill after the grace period.
	Stop(graceful bool) error
	IsAlive() bool
}

// Supervisor spawns subprocesses.
type Supervisor interface {
	Spawn(ctx context.Context, spec ProcessSpec) (ProcessHandle, error)
	// Adopt reattaches to a process started before a restart, identified by its handle id.
	// ok is false when that process is no longer alive. Adopted handles carry no output and
	// report an unknown exit code.
	Adopt(jobID, handleID string) (handle ProcessHandle, ok bool)
}

// AllJobs subscribes to events of every job.
const AllJobs = "all"

// Subscription is a live stream of events.
type Subscription interface {
	C() <-chan model.Event
	Close()
}

// Broadcaster fans out job events without blocking publishers.
type Broadcaster interface {
	Publish(event model.Event)
	// Subscribe to one job id or to AllJobs.
	Subscribe(jobID string) (Subscription, error)
}

// JobListener observes lifecycle milestones.
type JobListener interface {
	OnJobStarted(ctx context.Context, job *model.Job)
	OnJobFinished(ctx context.Context, job *model.Job)
}
