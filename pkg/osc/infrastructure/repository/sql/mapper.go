package sql

import (
	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
)

// Times are stored in UTC so range filters compare consistently on every dialect.

func fromDomainJob(j *model.Job) *JobEntity {
	if j == nil {
		return nil
	}
	c := j.Clone()
	e := &JobEntity{
		ID:               c.ID,
		ConnectionID:     c.ConnectionID,
		DatabaseName:     c.DatabaseName,
		Table:            c.TableName,
		DDLType:          string(c.DDLType),
		OriginalDDL:      c.OriginalDDL,
		GeneratedCommand: c.GeneratedCommand,
		ExecutionParams:  c.Params,
		Status:           string(c.Status),
		ProcessedRows:    c.ProcessedRows,
		TotalRows:        c.TotalRows,
		RowCountKnown:    c.RowCountKnown,
		AvgSpeed:         c.AvgSpeed,
		ProgressPercent:  c.ProgressPercent,
		CurrentStage:     c.CurrentStage,
		CreatedAt:        c.CreatedAt.UTC(),
		UpdatedAt:        c.UpdatedAt.UTC(),
		StartTime:        c.StartTime,
		EndTime:          c.EndTime,
		DurationSeconds:  c.DurationSeconds,
		CreatedBy:        c.CreatedBy,
		ErrorMessage:     c.ErrorMessage,
		ExitCode:         c.ExitCode,
		RetryOf:          c.RetryOf,
		ProcessHandle:    c.ProcessHandle,
		Version:          c.Version,
	}
	if e.StartTime != nil {
		t := e.StartTime.UTC()
		e.StartTime = &t
	}
	if e.EndTime != nil {
		t := e.EndTime.UTC()
		e.EndTime = &t
	}
	return e
}

func toDomainJob(e *JobEntity) *model.Job {
	if e == nil {
		return nil
	}
	return &model.Job{
		ID:               e.ID,
		ConnectionID:     e.ConnectionID,
		DatabaseName:     e.DatabaseName,
		TableName:        e.Table,
		DDLType:          model.DDLType(e.DDLType),
		OriginalDDL:      e.OriginalDDL,
		GeneratedCommand: e.GeneratedCommand,
		Params:           e.ExecutionParams,
		Status:           model.JobStatus(e.Status),
		ProcessedRows:    e.ProcessedRows,
		TotalRows:        e.TotalRows,
		RowCountKnown:    e.RowCountKnown,
		AvgSpeed:         e.AvgSpeed,
		ProgressPercent:  e.ProgressPercent,
		CurrentStage:     e.CurrentStage,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
		StartTime:        e.StartTime,
		EndTime:          e.EndTime,
		DurationSeconds:  e.DurationSeconds,
		CreatedBy:        e.CreatedBy,
		ErrorMessage:     e.ErrorMessage,
		ExitCode:         e.ExitCode,
		RetryOf:          e.RetryOf,
		ProcessHandle:    e.ProcessHandle,
		Version:          e.Version,
	}
}

func toDomainLogLine(e *JobLogEntity) model.LogLine {
	return model.LogLine{Seq: e.Seq, Line: e.Line, CreatedAt: e.CreatedAt}
}
