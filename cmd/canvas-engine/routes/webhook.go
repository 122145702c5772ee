package routes

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/container"
	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/handlers"
	"github.com/stitchhq/canvas-engine/common/middleware"
)

// RegisterWebhookRoutes registers the public ingress endpoint and config
// registration. Rate limiting and the body cap guard only the ingress
// group; the rest of the surface is not internet-facing.
func RegisterWebhookRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewWebhookHandler(c)

	hooks := e.Group("/webhooks",
		middleware.WebhookRateLimit(c.Limiter),
		echomw.BodyLimit("1M"),
	)
	hooks.POST("/:slug", h.Receive)

	e.POST("/webhook-configs", h.CreateConfig)
	e.GET("/webhook-configs/:id/events", h.ListEvents)
}
