// Package model defines the Job record of an online schema change and its lifecycle rules.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a Job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []JobStatus{StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled}

// String returns the string representation of the JobStatus.
func (s JobStatus) String() string {
	return string(s)
}

// IsValid reports whether s is a known status.
func (s JobStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further automatic transition is possible.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ParseStatus converts s into a JobStatus.
func ParseStatus(s string) (JobStatus, error) {
	st := JobStatus(s)
	if !st.IsValid() {
		return "", fmt.Errorf("unknown job status: %q", s)
	}
	return st, nil
}

// DDLType tags the intent of a schema change.
type DDLType string

const (
	DDLFragment     DDLType = "fragment"
	DDLAddColumn    DDLType = "add_column"
	DDLModifyColumn DDLType = "modify_column"
	DDLDropColumn   DDLType = "drop_column"
	DDLAddIndex     DDLType = "add_index"
	DDLDropIndex    DDLType = "drop_index"
	DDLOther        DDLType = "other"
	DDLCustom       DDLType = "custom"
)

// IsValid reports whether t is a known DDL type.
func (t DDLType) IsValid() bool {
	switch t {
	case DDLFragment, DDLAddColumn, DDLModifyColumn, DDLDropColumn, DDLAddIndex, DDLDropIndex, DDLOther, DDLCustom:
		return true
	}
	return false
}

// TargetKey identifies the unit of mutual exclusion for running jobs.
type TargetKey struct {
	ConnectionID string
	Database     string
	Table        string
}

// String renders the key as connection/database.table.
func (k TargetKey) String() string {
	return fmt.Sprintf("%s/%s.%s", k.ConnectionID, k.Database, k.Table)
}

// Job is one schema-change execution attempt.
type Job struct {
	ID           string `json:"id"`
	ConnectionID string `json:"connection_id"`
	DatabaseName string `json:"database_name"`
	TableName    string `json:"table_name"`

	DDLType          DDLType         `json:"ddl_type"`
	OriginalDDL      *string         `json:"original_ddl,omitempty"`
	GeneratedCommand string          `json:"generated_command"`
	Params           ExecutionParams `json:"execution_params"`

	Status JobStatus `json:"status"`

	ProcessedRows   int64   `json:"processed_rows"`
	TotalRows       int64   `json:"total_rows"`
	RowCountKnown   bool    `json:"row_count_known"`
	AvgSpeed        float64 `json:"avg_speed"`
	ProgressPercent float64 `json:"progress_percent"`
	CurrentStage    string  `json:"current_stage,omitempty"`

	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationSeconds *int64     `json:"duration_seconds,omitempty"`

	CreatedBy    string  `json:"created_by"`
	ErrorMessage *string `json:"error_message,omitempty"`
	ExitCode     *int    `json:"exit_code,omitempty"`
	RetryOf      *string `json:"retry_of,omitempty"`

	ProcessHandle *string `json:"process_handle,omitempty"`

	// Version is the optimistic locking counter maintained by the store.
	Version int `json:"-"`
}

// NewID generates a new job identifier.
func NewID() string {
	return uuid.New().String()
}

// Target returns the job's target triple.
func (j *Job) Target() TargetKey {
	return TargetKey{ConnectionID: j.ConnectionID, Database: j.DatabaseName, Table: j.TableName}
}

// validTransitions is the lifecycle table. Terminal states admit nothing; retry creates a new Job.
var validTransitions = map[JobStatus][]JobStatus{
	StatusPending: {StatusRunning},
	StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to JobStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionTo moves the job to status, maintaining the timing invariants:
// StartTime is set on entering running, EndTime and DurationSeconds on entering a terminal state.
func (j *Job) TransitionTo(status JobStatus, now time.Time) error {
	if !CanTransition(j.Status, status) {
		return fmt.Errorf("job %s: invalid state transition: %s -> %s", j.ID, j.Status, status)
	}
	j.Status = status
	j.UpdatedAt = now
	switch {
	case status == StatusRunning:
		t := now
		j.StartTime = &t
		j.EndTime = nil
		j.DurationSeconds = nil
	case status.IsTerminal():
		t := now
		j.EndTime = &t
		if j.StartTime != nil {
			d := int64(now.Sub(*j.StartTime).Seconds())
			if d < 0 {
				d = 0
			}
			j.DurationSeconds = &d
		}
		j.ProcessHandle = nil
	}
	return nil
}

// MarkAsRunning transitions a pending job to running.
func (j *Job) MarkAsRunning(now time.Time, handle string) error {
	if err := j.TransitionTo(StatusRunning, now); err != nil {
		return err
	}
	if handle != "" {
		j.ProcessHandle = &handle
	}
	j.ErrorMessage = nil
	j.ExitCode = nil
	return nil
}

// MarkAsCompleted transitions a running job to completed.
func (j *Job) MarkAsCompleted(now time.Time, exitCode int) error {
	if err := j.TransitionTo(StatusCompleted, now); err != nil {
		return err
	}
	j.ExitCode = &exitCode
	if j.RowCountKnown && j.TotalRows > 0 {
		j.ProcessedRows = j.TotalRows
	}
	j.ProgressPercent = 100
	return nil
}

// MarkAsFailed transitions a running job to failed with msg.
func (j *Job) MarkAsFailed(now time.Time, exitCode *int, msg string) error {
	if err := j.TransitionTo(StatusFailed, now); err != nil {
		return err
	}
	j.ExitCode = exitCode
	j.ErrorMessage = &msg
	return nil
}

// MarkAsCancelled transitions a running job to cancelled.
func (j *Job) MarkAsCancelled(now time.Time, exitCode *int, reason string) error {
	if err := j.TransitionTo(StatusCancelled, now); err != nil {
		return err
	}
	j.ExitCode = exitCode
	if reason != "" {
		j.ErrorMessage = &reason
	}
	return nil
}

// ApplyProgress folds a progress report into the job's counters.
// processed_rows never exceeds total_rows once the total is known.
func (j *Job) ApplyProgress(p Progress) {
	if p.TotalRows > 0 {
		j.TotalRows = p.TotalRows
		j.RowCountKnown = true
	}
	if p.ProcessedRows > j.ProcessedRows {
		j.ProcessedRows = p.ProcessedRows
	}
	if p.Percent > 0 {
		j.ProgressPercent = p.Percent
		if derived := int64(float64(j.TotalRows) * p.Percent / 100); j.RowCountKnown && derived > j.ProcessedRows {
			j.ProcessedRows = derived
		}
	}
	if j.RowCountKnown && j.ProcessedRows > j.TotalRows {
		j.ProcessedRows = j.TotalRows
	}
	if j.ProgressPercent > 100 {
		j.ProgressPercent = 100
	}
	if p.Speed > 0 {
		j.AvgSpeed = p.Speed
	}
	if p.Stage != "" {
		j.CurrentStage = p.Stage
	}
}

// Snapshot returns the job's progress counters.
func (j *Job) Snapshot() Progress {
	return Progress{
		ProcessedRows: j.ProcessedRows,
		TotalRows:     j.TotalRows,
		Percent:       j.ProgressPercent,
		Speed:         j.AvgSpeed,
		Stage:         j.CurrentStage,
	}
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.OriginalDDL = cloneString(j.OriginalDDL)
	c.ErrorMessage = cloneString(j.ErrorMessage)
	c.RetryOf = cloneString(j.RetryOf)
	c.ProcessHandle = cloneString(j.ProcessHandle)
	c.StartTime = cloneTime(j.StartTime)
	c.EndTime = cloneTime(j.EndTime)
	if j.DurationSeconds != nil {
		d := *j.DurationSeconds
		c.DurationSeconds = &d
	}
	if j.ExitCode != nil {
		e := *j.ExitCode
		c.ExitCode = &e
	}
	c.Params = j.Params.Clone()
	return &c
}

// CloneForRetry builds a new pending job with the same target, intent and parameters.
// The original job is not modified.
func (j *Job) CloneForRetry(id, createdBy string, now time.Time) *Job {
	orig := j.ID
	return &Job{
		ID:               id,
		ConnectionID:     j.ConnectionID,
		DatabaseName:     j.DatabaseName,
		TableName:        j.TableName,
		DDLType:          j.DDLType,
		OriginalDDL:      cloneString(j.OriginalDDL),
		GeneratedCommand: j.GeneratedCommand,
		Params:           j.Params.Clone(),
		Status:           StatusPending,
		TotalRows:        j.TotalRows,
		RowCountKnown:    j.RowCountKnown,
		CreatedAt:        now,
		UpdatedAt:        now,
		CreatedBy:        createdBy,
		RetryOf:          &orig,
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
