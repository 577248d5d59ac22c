package sql

import (
	"time"

	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
)

// JobEntity is the persisted form of a Job.
type JobEntity struct {
	ID               string                `gorm:"primaryKey"`
	ConnectionID     string
	DatabaseName     string
	Table            string                `gorm:"column:table_name"`
	DDLType          string                `gorm:"column:ddl_type"`
	OriginalDDL      *string               `gorm:"column:original_ddl"`
	GeneratedCommand string
	ExecutionParams  model.ExecutionParams `gorm:"column:execution_params"`
	Status           string
	ProcessedRows    int64
	TotalRows        int64
	RowCountKnown    bool
	AvgSpeed         float64
	ProgressPercent  float64
	CurrentStage     string
	CreatedAt        time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime:false"`
	StartTime        *time.Time
	EndTime          *time.Time
	DurationSeconds  *int64
	CreatedBy        string
	ErrorMessage     *string
	ExitCode         *int
	RetryOf          *string
	ProcessHandle    *string
	Version          int
}

func (JobEntity) TableName() string {
	return "osc_jobs"
}

// JobLogEntity is one line of a job's output.
type JobLogEntity struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	JobID     string
	Seq       int64
	Line      string
	CreatedAt time.Time `gorm:"autoCreateTime:false"`
}

func (JobLogEntity) TableName() string {
	return "osc_job_logs"
}
