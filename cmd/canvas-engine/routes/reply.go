package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/container"
	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/handlers"
)

// RegisterReplyRoutes registers the email reply ingress.
func RegisterReplyRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewReplyHandler(c)

	e.POST("/replies/email", h.EmailReply)
}
