package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/container"
	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/service"
	"github.com/stitchhq/canvas-engine/common/bootstrap"
	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/models"
)

// FlowHandler handles canvas, version and manual-run requests.
type FlowHandler struct {
	components *bootstrap.Components
	flows      *service.FlowService
	versions   *service.VersionService
	runs       *service.RunService
}

// NewFlowHandler creates a new flow handler.
func NewFlowHandler(c *container.Container) *FlowHandler {
	return &FlowHandler{
		components: c.Components,
		flows:      c.FlowService,
		versions:   c.VersionService,
		runs:       c.RunService,
	}
}

// CreateFlow creates a canvas.
// POST /flows
func (h *FlowHandler) CreateFlow(c echo.Context) error {
	var req struct {
		Name       string     `json:"name"`
		CanvasType string     `json:"canvas_type"`
		ParentID   *uuid.UUID `json:"parent_id"`
	}
	if err := c.Bind(&req); err != nil {
		return errs.New(errs.KindValidation, "invalid request body")
	}

	flow, err := h.flows.CreateFlow(c.Request().Context(), req.Name, models.CanvasType(req.CanvasType), req.ParentID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{"flowId": flow.ID})
}

// StartRun starts a manual run, auto-versioning when the request carries a
// visual graph.
// POST /flows/:id/run
func (h *FlowHandler) StartRun(c echo.Context) error {
	flowID, err := parseUUID(c.Param("id"), "flow id")
	if err != nil {
		return err
	}

	var req struct {
		VisualGraph *models.VisualGraph `json:"visualGraph"`
		EntityID    *uuid.UUID          `json:"entityId"`
		Input       map[string]any      `json:"input"`
	}
	if err := c.Bind(&req); err != nil {
		return errs.New(errs.KindValidation, "invalid request body")
	}

	run, err := h.runs.Start(c.Request().Context(), flowID, &service.StartRunRequest{
		VisualGraph: req.VisualGraph,
		EntityID:    req.EntityID,
		Input:       req.Input,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"runId":     run.ID,
		"versionId": run.FlowVersionID,
		"status":    "started",
	})
}

// CreateVersion validates, compiles and saves a visual graph.
// POST /flows/:id/versions
func (h *FlowHandler) CreateVersion(c echo.Context) error {
	flowID, err := parseUUID(c.Param("id"), "flow id")
	if err != nil {
		return err
	}

	var req struct {
		VisualGraph   *models.VisualGraph `json:"visualGraph"`
		CommitMessage string              `json:"commitMessage"`
	}
	if err := c.Bind(&req); err != nil {
		return errs.New(errs.KindValidation, "invalid request body")
	}
	if req.VisualGraph == nil {
		return errs.New(errs.KindValidation, "visualGraph is required")
	}

	version, err := h.versions.CreateVersion(c.Request().Context(), flowID, req.VisualGraph, req.CommitMessage)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"versionId":      version.ID,
		"executionGraph": version.ExecutionGraph,
	})
}

// ListVersions lists a flow's version metadata without the graph blobs.
// GET /flows/:id/versions
func (h *FlowHandler) ListVersions(c echo.Context) error {
	flowID, err := parseUUID(c.Param("id"), "flow id")
	if err != nil {
		return err
	}

	metas, err := h.versions.ListVersions(c.Request().Context(), flowID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"versions": metas})
}

// GetVersion returns one full version.
// GET /flows/:id/versions/:vid
func (h *FlowHandler) GetVersion(c echo.Context) error {
	flowID, err := parseUUID(c.Param("id"), "flow id")
	if err != nil {
		return err
	}
	versionID, err := parseUUID(c.Param("vid"), "version id")
	if err != nil {
		return err
	}

	version, err := h.versions.GetVersion(c.Request().Context(), versionID)
	if err != nil {
		return err
	}
	if version.FlowID != flowID {
		return errs.NotFound("version", versionID.String())
	}
	return c.JSON(http.StatusOK, version)
}

// parseUUID rejects malformed path ids with a validation error naming the
// field.
func parseUUID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errs.Newf(errs.KindValidation, "invalid %s", field)
	}
	return id, nil
}
