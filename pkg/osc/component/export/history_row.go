package export

import (
	"time"

	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
)

// HistoryRow is the Parquet schema of one exported job. Times are UTC milliseconds.
type HistoryRow struct {
	ID              string  `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ConnectionID    string  `parquet:"name=connection_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	DatabaseName    string  `parquet:"name=database_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	TableName       string  `parquet:"name=table_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	DDLType         string  `parquet:"name=ddl_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status          string  `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	DryRun          bool    `parquet:"name=dry_run, type=BOOLEAN"`
	ProcessedRows   int64   `parquet:"name=processed_rows, type=INT64"`
	TotalRows       int64   `parquet:"name=total_rows, type=INT64"`
	ProgressPercent float64 `parquet:"name=progress_percent, type=DOUBLE"`
	CreatedBy       string  `parquet:"name=created_by, type=BYTE_ARRAY, convertedtype=UTF8"`

	ExitCode        *int32  `parquet:"name=exit_code, type=INT32, repetitiontype=OPTIONAL"`
	DurationSeconds *int64  `parquet:"name=duration_seconds, type=INT64, repetitiontype=OPTIONAL"`
	ErrorMessage    *string `parquet:"name=error_message, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	RetryOf         *string `parquet:"name=retry_of, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`

	CreatedAt int64  `parquet:"name=created_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	StartTime *int64 `parquet:"name=start_time, type=INT64, convertedtype=TIMESTAMP_MILLIS, repetitiontype=OPTIONAL"`
	EndTime   *int64 `parquet:"name=end_time, type=INT64, convertedtype=TIMESTAMP_MILLIS, repetitiontype=OPTIONAL"`
}

// NewHistoryRow flattens job. The generated command is left out; it may be long and is not history.
func NewHistoryRow(job *model.Job) HistoryRow {
	row := HistoryRow{
		ID:              job.ID,
		ConnectionID:    job.ConnectionID,
		DatabaseName:    job.DatabaseName,
		TableName:       job.TableName,
		DDLType:         string(job.DDLType),
		Status:          job.Status.String(),
		DryRun:          job.Params.DryRun,
		ProcessedRows:   job.ProcessedRows,
		TotalRows:       job.TotalRows,
		ProgressPercent: job.ProgressPercent,
		CreatedBy:       job.CreatedBy,
		DurationSeconds: job.DurationSeconds,
		ErrorMessage:    job.ErrorMessage,
		RetryOf:         job.RetryOf,
		CreatedAt:       millis(job.CreatedAt),
		StartTime:       optionalMillis(job.StartTime),
		EndTime:         optionalMillis(job.EndTime),
	}
	if job.ExitCode != nil {
		code := int32(*job.ExitCode)
		row.ExitCode = &code
	}
	return row
}

func millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func optionalMillis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := millis(*t)
	return &v
}

// partitionKey groups rows Hive-style by creation day.
func partitionKey(job *model.Job) string {
	return "dt=" + job.CreatedAt.UTC().Format("2006-01-02")
}
