package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/container"
	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/service"
	"github.com/stitchhq/canvas-engine/common/bootstrap"
	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/models"
)

// WebhookHandler handles ingress events and endpoint registration.
type WebhookHandler struct {
	components *bootstrap.Components
	webhooks   *service.WebhookService
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(c *container.Container) *WebhookHandler {
	return &WebhookHandler{
		components: c.Components,
		webhooks:   c.WebhookService,
	}
}

// Receive processes one inbound webhook. The raw body is read before any
// parsing because signature schemes sign the exact bytes.
// POST /webhooks/:slug
func (h *WebhookHandler) Receive(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return errs.New(errs.KindValidation, "failed to read request body")
	}

	result, err := h.webhooks.HandleEvent(c.Request().Context(), c.Param("slug"), c.Request().Header, body)
	if err != nil {
		return err
	}

	resp := map[string]any{
		"success":        true,
		"webhookEventId": result.EventID,
	}
	if result.EntityID != nil {
		resp["entityId"] = *result.EntityID
	}
	if result.RunID != nil {
		resp["runId"] = *result.RunID
	}
	return c.JSON(http.StatusOK, resp)
}

// CreateConfig registers an ingress endpoint.
// POST /webhook-configs
func (h *WebhookHandler) CreateConfig(c echo.Context) error {
	var req struct {
		CanvasID      uuid.UUID            `json:"canvas_id"`
		Name          string               `json:"name"`
		Source        string               `json:"source"`
		EndpointSlug  string               `json:"endpoint_slug"`
		Secret        string               `json:"secret"`
		WorkflowID    uuid.UUID            `json:"workflow_id"`
		EntryEdgeID   string               `json:"entry_edge_id"`
		EntityMapping models.EntityMapping `json:"entity_mapping"`
		IsActive      *bool                `json:"is_active"`
	}
	if err := c.Bind(&req); err != nil {
		return errs.New(errs.KindValidation, "invalid request body")
	}

	cfg := &models.WebhookConfig{
		CanvasID:      req.CanvasID,
		Name:          req.Name,
		Source:        models.WebhookSource(req.Source),
		EndpointSlug:  req.EndpointSlug,
		Secret:        req.Secret,
		WorkflowID:    req.WorkflowID,
		EntryEdgeID:   req.EntryEdgeID,
		EntityMapping: req.EntityMapping,
		IsActive:      req.IsActive == nil || *req.IsActive,
	}
	if err := h.webhooks.CreateConfig(c.Request().Context(), cfg); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, cfg)
}

// ListEvents returns an endpoint's recent delivery log, newest first.
// GET /webhook-configs/:id/events
func (h *WebhookHandler) ListEvents(c echo.Context) error {
	configID, err := parseUUID(c.Param("id"), "webhook config id")
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	events, err := h.webhooks.ListEvents(c.Request().Context(), configID, limit)
	if err != nil {
		return err
	}
	if events == nil {
		events = []*models.WebhookEvent{}
	}
	return c.JSON(http.StatusOK, map[string]any{"events": events})
}
