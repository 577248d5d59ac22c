package rest

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/tigerroll/mysqler/pkg/osc/component/export"
	"github.com/tigerroll/mysqler/pkg/osc/core/application/usecase"
	"github.com/tigerroll/mysqler/pkg/osc/core/config"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/logger"
)

// ServerParams are the Fx inputs of NewServer. Gatherer is absent when metrics are disabled.
type ServerParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Config     *config.HTTPConfig
	Controller *usecase.ExecutionController
	Exporter   *export.HistoryExporter
	Gatherer   prometheus.Gatherer `optional:"true"`
}

// NewServer builds the HTTP server and binds its listener to the application lifecycle.
func NewServer(p ServerParams) *http.Server {
	if p.Config.Mode != "" {
		gin.SetMode(p.Config.Mode)
	}
	router := NewRouter(NewExecutionHandler(p.Controller, p.Exporter), p.Gatherer)
	// Event streams never end on their own; their contexts are cancelled once shutdown begins.
	base, cancelBase := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:        p.Config.Address,
		Handler:     router,
		BaseContext: func(net.Listener) context.Context { return base },
	}
	srv.RegisterOnShutdown(cancelBase)

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			logger.Infof("HTTP: Listening on %s", ln.Addr())
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Errorf("HTTP: server stopped: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if p.Config.ShutdownTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, p.Config.ShutdownTimeout)
				defer cancel()
			}
			logger.Infof("HTTP: Shutting down")
			return srv.Shutdown(ctx)
		},
	})
	return srv
}

// Module starts the HTTP server; fx.Invoke forces its construction.
var Module = fx.Options(
	fx.Provide(NewServer),
	fx.Invoke(func(*http.Server) {}),
)
