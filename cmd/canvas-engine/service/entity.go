package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/logger"
	"github.com/stitchhq/canvas-engine/common/models"
)

// EntityService serves the entity read surface: canvas rosters, single
// entities with their journey, and metadata annotation. The change feed
// only broadcasts entity ids; viewers come here for the rows.
type EntityService struct {
	flows    FlowStore
	entities EntityStore
	journeys JourneyStore
	log      *logger.Logger
}

// NewEntityService creates a new entity service.
func NewEntityService(flows FlowStore, entities EntityStore, journeys JourneyStore, log *logger.Logger) *EntityService {
	return &EntityService{
		flows:    flows,
		entities: entities,
		journeys: journeys,
		log:      log.WithComponent("entity_service"),
	}
}

// ListEntities reads every entity on a canvas, most recently updated first.
func (s *EntityService) ListEntities(ctx context.Context, canvasID uuid.UUID) ([]*models.Entity, error) {
	if _, err := s.flows.GetByID(ctx, canvasID); err != nil {
		return nil, err
	}
	return s.entities.ListByCanvas(ctx, canvasID)
}

// GetEntity reads one entity.
func (s *EntityService) GetEntity(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	return s.entities.GetByID(ctx, id)
}

// Journey reads an entity's journey events, oldest first.
func (s *EntityService) Journey(ctx context.Context, entityID uuid.UUID) ([]models.JourneyEvent, error) {
	if _, err := s.entities.GetByID(ctx, entityID); err != nil {
		return nil, err
	}
	return s.journeys.ListByEntity(ctx, entityID)
}

// MergeMetadata applies an RFC 7386 merge patch to an entity's metadata:
// keys set to null are deleted, everything else is merged in. Returns the
// refreshed entity.
func (s *EntityService) MergeMetadata(ctx context.Context, entityID uuid.UUID, patch []byte) (*models.Entity, error) {
	if len(patch) == 0 {
		return nil, errs.New(errs.KindValidation, "metadata patch is required")
	}
	if !json.Valid(patch) {
		return nil, errs.New(errs.KindValidation, "metadata patch must be valid JSON")
	}

	entity, err := s.entities.MergeMetadata(ctx, entityID, patch)
	if err != nil {
		return nil, err
	}

	s.log.Info("entity metadata merged", "entity_id", entityID)
	return entity, nil
}
