package rest

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/tigerroll/mysqler/pkg/osc/component/export"
	"github.com/tigerroll/mysqler/pkg/osc/core/application/port"
	"github.com/tigerroll/mysqler/pkg/osc/core/application/usecase"
	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
	"github.com/tigerroll/mysqler/pkg/osc/core/domain/repository"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/exception"
)

// ExecutionService is the part of the execution controller the handlers use.
type ExecutionService interface {
	Preview(ctx context.Context, req usecase.CreateRequest) (*usecase.PreviewResult, error)
	Create(ctx context.Context, req usecase.CreateRequest, createdBy string) (*model.Job, error)
	Start(ctx context.Context, id string) (*model.Job, error)
	Stop(ctx context.Context, id string) (*model.Job, error)
	Cancel(ctx context.Context, id string) (*model.Job, error)
	Retry(ctx context.Context, id, createdBy string) (*model.Job, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*model.Job, error)
	Logs(ctx context.Context, id string, afterSeq int64, limit int) ([]model.LogLine, error)
	List(ctx context.Context, filter repository.JobFilter, page repository.Page) (*repository.JobPage, error)
	ListRunning(ctx context.Context) ([]*model.Job, error)
	Stats(ctx context.Context, filter repository.StatsFilter) (*repository.Stats, error)
	Subscribe(ctx context.Context, jobID string) (port.Subscription, error)
}

// HistoryExporter writes job history to object storage.
type HistoryExporter interface {
	Export(ctx context.Context, filter repository.JobFilter) (*export.Result, error)
}

// ExecutionHandler serves /api/v1/executions.
type ExecutionHandler struct {
	service  ExecutionService
	exporter HistoryExporter
}

func NewExecutionHandler(service ExecutionService, exporter HistoryExporter) *ExecutionHandler {
	return &ExecutionHandler{service: service, exporter: exporter}
}

func (h *ExecutionHandler) bindCreateRequest(c *gin.Context) (usecase.CreateRequest, bool) {
	var req usecase.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request parameters: "+err.Error())
		return req, false
	}
	return req, true
}

func (h *ExecutionHandler) Preview(c *gin.Context) {
	req, valid := h.bindCreateRequest(c)
	if !valid {
		return
	}
	res, err := h.service.Preview(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Success", res)
}

func (h *ExecutionHandler) Create(c *gin.Context) {
	req, valid := h.bindCreateRequest(c)
	if !valid {
		return
	}
	job, err := h.service.Create(c.Request.Context(), req, user(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Execution created successfully", job)
}

func (h *ExecutionHandler) List(c *gin.Context) {
	filter, err := parseJobFilter(c)
	if err != nil {
		fail(c, err)
		return
	}
	page, err := h.service.List(c.Request.Context(), filter, parsePage(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Success", page)
}

func (h *ExecutionHandler) Running(c *gin.Context) {
	jobs, err := h.service.ListRunning(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Success", jobs)
}

func (h *ExecutionHandler) Stats(c *gin.Context) {
	filter, err := parseStatsFilter(c)
	if err != nil {
		fail(c, err)
		return
	}
	stats, err := h.service.Stats(c.Request.Context(), filter)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Success", stats)
}

func (h *ExecutionHandler) Get(c *gin.Context) {
	job, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Success", job)
}

// Logs returns persisted output. after_seq and limit page through long logs.
func (h *ExecutionHandler) Logs(c *gin.Context) {
	after, err := parseInt64(c, "after_seq")
	if err != nil {
		fail(c, err)
		return
	}
	limit, err := parseInt64(c, "limit")
	if err != nil {
		fail(c, err)
		return
	}
	lines, err := h.service.Logs(c.Request.Context(), c.Param("id"), after, int(limit))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Success", gin.H{"logs": lines})
}

func (h *ExecutionHandler) lifecycle(message string, op func(ctx context.Context, id string) (*model.Job, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := op(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, message, job)
	}
}

func (h *ExecutionHandler) Start(c *gin.Context) {
	h.lifecycle("Execution started", h.service.Start)(c)
}

func (h *ExecutionHandler) Stop(c *gin.Context) {
	h.lifecycle("Execution stopped", h.service.Stop)(c)
}

func (h *ExecutionHandler) Cancel(c *gin.Context) {
	h.lifecycle("Execution cancelled", h.service.Cancel)(c)
}

func (h *ExecutionHandler) Retry(c *gin.Context) {
	job, err := h.service.Retry(c.Request.Context(), c.Param("id"), user(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Execution retried successfully", job)
}

func (h *ExecutionHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, "Execution deleted", nil)
}

// Export writes the jobs matching the list filters to Parquet.
func (h *ExecutionHandler) Export(c *gin.Context) {
	if h.exporter == nil {
		fail(c, exception.NewValidationError(moduleName, "export", "history export is not configured"))
		return
	}
	filter, err := parseJobFilter(c)
	if err != nil {
		fail(c, err)
		return
	}
	res, err := h.exporter.Export(c.Request.Context(), filter)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Export finished", res)
}
