package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/container"
	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/engine"
	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/service"
	"github.com/stitchhq/canvas-engine/common/bootstrap"
	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/models"
	"github.com/stitchhq/canvas-engine/common/signature"
)

// RunHandler handles run reads, worker callbacks and retries.
type RunHandler struct {
	components *bootstrap.Components
	runs       *service.RunService
}

// NewRunHandler creates a new run handler.
func NewRunHandler(c *container.Container) *RunHandler {
	return &RunHandler{
		components: c.Components,
		runs:       c.RunService,
	}
}

// GetRun returns a run with its full node states.
// GET /runs/:id
func (h *RunHandler) GetRun(c echo.Context) error {
	runID, err := parseUUID(c.Param("id"), "run id")
	if err != nil {
		return err
	}

	run, err := h.runs.GetRun(c.Request().Context(), runID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

// ListRuns returns a flow's recent runs, newest first. The limit query
// parameter caps the page; invalid values fall back to the default.
// GET /flows/:id/runs
func (h *RunHandler) ListRuns(c echo.Context) error {
	flowID, err := parseUUID(c.Param("id"), "flow id")
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	runs, err := h.runs.ListRuns(c.Request().Context(), flowID, limit)
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []*models.Run{}
	}
	return c.JSON(http.StatusOK, map[string]any{"runs": runs})
}

// Callback absorbs an async worker's result. With a callback secret
// configured, the sig query parameter must carry the HMAC the dispatcher
// signed the URL with.
// POST /callback/:runId/:nodeId
func (h *RunHandler) Callback(c echo.Context) error {
	runID, err := parseUUID(c.Param("runId"), "run id")
	if err != nil {
		return err
	}
	nodeID := c.Param("nodeId")

	if secret := h.components.Config.Engine.CallbackSecret; secret != "" {
		payload := []byte(runID.String() + "." + nodeID)
		if !signature.VerifyHex(secret, payload, c.QueryParam("sig")) {
			return errs.New(errs.KindAuth, "invalid callback signature")
		}
	}

	var req engine.CallbackRequest
	if err := c.Bind(&req); err != nil {
		return errs.New(errs.KindValidation, "invalid request body")
	}

	if _, err := h.runs.Callback(c.Request().Context(), runID, nodeID, &req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

// Retry resets a failed node and refires it.
// POST /retry/:runId/:nodeId
func (h *RunHandler) Retry(c echo.Context) error {
	runID, err := parseUUID(c.Param("runId"), "run id")
	if err != nil {
		return err
	}
	nodeID := c.Param("nodeId")

	run, err := h.runs.Retry(c.Request().Context(), runID, nodeID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"runId":   run.ID,
		"nodeId":  nodeID,
		"status":  run.Status,
	})
}
