package handlers

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/container"
	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/service"
	"github.com/stitchhq/canvas-engine/common/bootstrap"
	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/models"
)

// EntityHandler serves the entity read surface used by canvas viewers.
type EntityHandler struct {
	components *bootstrap.Components
	entities   *service.EntityService
}

// NewEntityHandler creates a new entity handler.
func NewEntityHandler(c *container.Container) *EntityHandler {
	return &EntityHandler{
		components: c.Components,
		entities:   c.EntityService,
	}
}

// ListEntities returns every entity on a canvas.
// GET /canvases/:id/entities
func (h *EntityHandler) ListEntities(c echo.Context) error {
	canvasID, err := parseUUID(c.Param("id"), "canvas id")
	if err != nil {
		return err
	}

	entities, err := h.entities.ListEntities(c.Request().Context(), canvasID)
	if err != nil {
		return err
	}
	if entities == nil {
		entities = []*models.Entity{}
	}
	return c.JSON(http.StatusOK, map[string]any{"entities": entities})
}

// GetEntity returns one entity.
// GET /entities/:id
func (h *EntityHandler) GetEntity(c echo.Context) error {
	entityID, err := parseUUID(c.Param("id"), "entity id")
	if err != nil {
		return err
	}

	entity, err := h.entities.GetEntity(c.Request().Context(), entityID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entity)
}

// GetJourney returns an entity's journey events, oldest first.
// GET /entities/:id/journey
func (h *EntityHandler) GetJourney(c echo.Context) error {
	entityID, err := parseUUID(c.Param("id"), "entity id")
	if err != nil {
		return err
	}

	events, err := h.entities.Journey(c.Request().Context(), entityID)
	if err != nil {
		return err
	}
	if events == nil {
		events = []models.JourneyEvent{}
	}
	return c.JSON(http.StatusOK, map[string]any{"journey": events})
}

// MergeMetadata applies an RFC 7386 merge patch to an entity's metadata.
// The body is the patch itself.
// PATCH /entities/:id/metadata
func (h *EntityHandler) MergeMetadata(c echo.Context) error {
	entityID, err := parseUUID(c.Param("id"), "entity id")
	if err != nil {
		return err
	}

	patch, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return errs.New(errs.KindValidation, "failed to read request body")
	}

	entity, err := h.entities.MergeMetadata(c.Request().Context(), entityID, patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entity)
}
