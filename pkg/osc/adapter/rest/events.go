package rest

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tigerroll/mysqler/pkg/osc/core/application/port"
	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
)

const heartbeatInterval = 15 * time.Second

// snapshotEvent describes the stored state of job as a status event.
func snapshotEvent(job *model.Job) model.Event {
	p := job.Snapshot()
	return model.Event{
		Type:      model.EventStatus,
		JobID:     job.ID,
		Status:    job.Status,
		Progress:  &p,
		Message:   "snapshot",
		Timestamp: job.UpdatedAt,
	}
}

// JobEvents streams one job as server-sent events. The first event is the stored state;
// the stream ends after a terminal status.
func (h *ExecutionHandler) JobEvents(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	// Subscribe before reading the snapshot so nothing between the two is missed.
	sub, err := h.service.Subscribe(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	defer sub.Close()

	job, err := h.service.Get(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	prepareStream(c)
	snap := snapshotEvent(job)
	c.SSEvent(string(snap.Type), snap)
	c.Writer.Flush()
	if job.Status.IsTerminal() {
		return
	}
	stream(c, sub, true)
}

// AllEvents streams every job. It opens with one snapshot per running job.
func (h *ExecutionHandler) AllEvents(c *gin.Context) {
	ctx := c.Request.Context()
	sub, err := h.service.Subscribe(ctx, port.AllJobs)
	if err != nil {
		fail(c, err)
		return
	}
	defer sub.Close()

	running, err := h.service.ListRunning(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	prepareStream(c)
	for _, job := range running {
		snap := snapshotEvent(job)
		c.SSEvent(string(snap.Type), snap)
	}
	c.Writer.Flush()
	stream(c, sub, false)
}

func prepareStream(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
}

func stream(c *gin.Context, sub port.Subscription, untilTerminal bool) {
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	ctx := c.Request.Context()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"time": time.Now().UTC()})
			return true
		case ev, open := <-sub.C():
			if !open {
				// Subscription closed.
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return !(untilTerminal && ev.IsTerminal())
		}
	})
}
