package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/container"
	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/handlers"
	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/routes"
	"github.com/stitchhq/canvas-engine/common/bootstrap"
	"github.com/stitchhq/canvas-engine/common/db"
	"github.com/stitchhq/canvas-engine/common/logger"
	"github.com/stitchhq/canvas-engine/common/server"
)

func main() {
	ctx := context.Background()

	// Bootstrap common components (config, logger, DB with schema, Redis)
	components, err := bootstrap.Setup(ctx, "canvas-engine",
		bootstrap.WithDBInitHook(func(d *db.DB) error {
			return d.Migrate(ctx)
		}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap canvas-engine: %v\n", err)
		os.Exit(1)
	}

	// The engine context bounds detached node goroutines; cancelling it on
	// shutdown stops the walker picking up new work while Drain waits for
	// in-flight handlers.
	engineCtx, stopEngine := context.WithCancel(ctx)
	defer stopEngine()

	serviceContainer := container.NewContainer(engineCtx, components)

	e := setupEcho(components.Logger)
	setupHealthCheck(e, components)
	registerRoutes(e, serviceContainer)

	srv := server.New("canvas-engine", components.Config.Service.Port, e, components.Logger)
	srv.OnShutdown(func(shutdownCtx context.Context) {
		stopEngine()
		if err := serviceContainer.Engine.Drain(shutdownCtx); err != nil {
			components.Logger.Warn("engine drain timed out", "error", err)
		}
		components.Shutdown(shutdownCtx)
	})

	if err := srv.Start(); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// setupEcho initializes the Echo server with middleware and the
// centralized error handler.
func setupEcho(log *logger.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handlers.ErrorHandler(log)

	e.Use(echomw.RequestID())
	e.Use(echomw.Recover())
	e.Use(requestLogger(log))
	e.Use(echomw.CORS())

	return e
}

// requestLogger logs each request through the structured logger.
func requestLogger(log *logger.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:    true,
		LogMethod:    true,
		LogURI:       true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			log.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"request_id", v.RequestID,
			)
			return nil
		},
	})
}

// setupHealthCheck registers the liveness endpoint: DB and Redis pings.
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(503, map[string]any{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return c.JSON(200, map[string]any{
			"status":  "healthy",
			"service": "canvas-engine",
		})
	})
}

// registerRoutes registers all application routes using the service
// container.
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterFlowRoutes(e, serviceContainer)
	routes.RegisterRunRoutes(e, serviceContainer)
	routes.RegisterEntityRoutes(e, serviceContainer)
	routes.RegisterWebhookRoutes(e, serviceContainer)
	routes.RegisterReplyRoutes(e, serviceContainer)
}
