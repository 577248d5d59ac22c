// Package rest exposes the execution controller over HTTP with gin.
package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tigerroll/mysqler/pkg/osc/support/util/exception"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/logger"
)

// envelope is the body of every JSON response.
type envelope struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func ok(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, envelope{Code: http.StatusOK, Message: message, Data: data})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, envelope{Code: http.StatusBadRequest, Message: message})
}

// fail maps an engine error to a status code and a body that carries the details a client acts on.
func fail(c *gin.Context, err error) {
	status := StatusFor(err)
	body := gin.H{"code": status, "message": exception.ExtractErrorMessage(err), "data": nil}
	if oe, found := exception.As(err); found {
		body["kind"] = string(oe.Kind)
		switch oe.Kind {
		case exception.KindValidation:
			if oe.Field != "" {
				body["field"] = oe.Field
			}
		case exception.KindConflict:
			if oe.JobID != "" {
				body["conflict_job_id"] = oe.JobID
			}
		case exception.KindInvalidState:
			body["current_status"] = oe.Status
		case exception.KindStorage:
			body["retryable"] = oe.IsRetryable()
		}
	}
	if status >= http.StatusInternalServerError {
		logger.Errorf("HTTP: %s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatusJSON(status, body)
}

// StatusFor returns the HTTP status of err.
func StatusFor(err error) int {
	switch exception.KindOf(err) {
	case exception.KindValidation:
		return http.StatusBadRequest
	case exception.KindNotFound:
		return http.StatusNotFound
	case exception.KindConflict, exception.KindInvalidState:
		return http.StatusConflict
	case exception.KindStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
