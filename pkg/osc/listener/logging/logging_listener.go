package logging

import (
	"context"

	"github.com/tigerroll/mysqler/pkg/osc/core/application/port"
	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
	logger "github.com/tigerroll/mysqler/pkg/osc/support/util/logger"
)

type LoggingJobListener struct{}

func NewLoggingJobListener() *LoggingJobListener {
	return &LoggingJobListener{}
}

func (l *LoggingJobListener) OnJobStarted(ctx context.Context, job *model.Job) {
	handle := ""
	if job.ProcessHandle != nil {
		handle = *job.ProcessHandle
	}
	logger.Infof("JobListener: Started - ID: %s, Target: %s, Type: %s, Handle: %s, DryRun: %t",
		job.ID, job.Target(), job.DDLType, handle, job.Params.DryRun)
	logger.Debugf("JobListener: Command for %s:\n%s", job.ID, job.GeneratedCommand)
}

func (l *LoggingJobListener) OnJobFinished(ctx context.Context, job *model.Job) {
	var duration int64
	if job.DurationSeconds != nil {
		duration = *job.DurationSeconds
	}
	switch job.Status {
	case model.StatusCompleted:
		logger.Infof("JobListener: Finished - ID: %s, Status: %s, Rows: %d, Duration: %ds", job.ID, job.Status, job.ProcessedRows, duration)
	default:
		msg := ""
		if job.ErrorMessage != nil {
			msg = *job.ErrorMessage
		}
		logger.Warnf("JobListener: Finished - ID: %s, Status: %s, Duration: %ds, Error: %s", job.ID, job.Status, duration, msg)
	}
}

var _ port.JobListener = (*LoggingJobListener)(nil)
