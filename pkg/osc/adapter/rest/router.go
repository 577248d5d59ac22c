package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tigerroll/mysqler/pkg/osc/support/util/logger"
)

// NewRouter builds the gin engine. A nil gatherer leaves /metrics unregistered.
func NewRouter(h *ExecutionHandler, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1/executions")
	{
		v1.POST("/preview", h.Preview)
		v1.POST("", h.Create)
		v1.GET("", h.List)
		v1.GET("/running", h.Running)
		v1.GET("/stats", h.Stats)
		v1.GET("/events", h.AllEvents)
		v1.POST("/export", h.Export)
		v1.GET("/:id", h.Get)
		v1.GET("/:id/logs", h.Logs)
		v1.GET("/:id/events", h.JobEvents)
		v1.POST("/:id/start", h.Start)
		v1.POST("/:id/stop", h.Stop)
		v1.POST("/:id/cancel", h.Cancel)
		v1.POST("/:id/retry", h.Retry)
		v1.DELETE("/:id", h.Delete)
	}
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("HTTP: %s %s %d (%s, user %s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start), user(c))
	}
}
