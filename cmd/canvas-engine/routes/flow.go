// Package routes binds the HTTP surface to its handlers.
package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/container"
	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/handlers"
)

// RegisterFlowRoutes registers canvas, version and manual-run routes.
func RegisterFlowRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewFlowHandler(c)

	flows := e.Group("/flows")
	{
		flows.POST("", h.CreateFlow)              // POST /flows
		flows.POST("/:id/run", h.StartRun)        // POST /flows/{id}/run
		flows.POST("/:id/versions", h.CreateVersion)
		flows.GET("/:id/versions", h.ListVersions)
		flows.GET("/:id/versions/:vid", h.GetVersion)
	}
}
