package logging_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
	"github.com/tigerroll/mysqler/pkg/osc/listener/logging"
)

func TestLoggingListenerHandlesSparseJobs(t *testing.T) {
	l := logging.NewLoggingJobListener()
	msg := "process exited with code 1: boom"
	assert.NotPanics(t, func() {
		l.OnJobStarted(context.Background(), &model.Job{ID: "j1"})
		l.OnJobFinished(context.Background(), &model.Job{ID: "j1", Status: model.StatusFailed, ErrorMessage: &msg})
		l.OnJobFinished(context.Background(), &model.Job{ID: "j2", Status: model.StatusCompleted})
	})
}
