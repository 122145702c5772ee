package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/container"
	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/handlers"
)

// RegisterRunRoutes registers run reads and the worker-facing callback and
// retry endpoints.
func RegisterRunRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewRunHandler(c)

	e.GET("/runs/:id", h.GetRun)
	e.GET("/flows/:id/runs", h.ListRuns)
	e.POST("/callback/:runId/:nodeId", h.Callback)
	e.POST("/retry/:runId/:nodeId", h.Retry)
}
