package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/container"
	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/handlers"
)

// RegisterEntityRoutes registers the entity read surface.
func RegisterEntityRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewEntityHandler(c)

	e.GET("/canvases/:id/entities", h.ListEntities)
	e.GET("/entities/:id", h.GetEntity)
	e.GET("/entities/:id/journey", h.GetJourney)
	e.PATCH("/entities/:id/metadata", h.MergeMetadata)
}
