package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/container"
	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/service"
	"github.com/stitchhq/canvas-engine/common/bootstrap"
	"github.com/stitchhq/canvas-engine/common/errs"
)

// ReplyHandler routes inbound email replies to waiting UX nodes.
type ReplyHandler struct {
	components *bootstrap.Components
	replies    *service.ReplyService
}

// NewReplyHandler creates a new reply handler.
func NewReplyHandler(c *container.Container) *ReplyHandler {
	return &ReplyHandler{
		components: c.Components,
		replies:    c.ReplyService,
	}
}

// EmailReply resolves the sender's waiting node from a reply body.
// POST /replies/email
func (h *ReplyHandler) EmailReply(c echo.Context) error {
	var req struct {
		Email    string     `json:"email"`
		CanvasID *uuid.UUID `json:"canvas_id"`
		Body     string     `json:"body"`
	}
	if err := c.Bind(&req); err != nil {
		return errs.New(errs.KindValidation, "invalid request body")
	}

	result, err := h.replies.HandleEmail(c.Request().Context(), &service.EmailReply{
		Email:    req.Email,
		CanvasID: req.CanvasID,
		Body:     req.Body,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"runId":   result.RunID,
		"nodeId":  result.NodeID,
		"intent":  result.Intent,
	})
}
