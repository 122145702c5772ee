package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/logger"
	"github.com/stitchhq/canvas-engine/common/models"
)

// FlowService manages canvas rows: top-level business model canvases and
// the workflows nested under them.
type FlowService struct {
	flows FlowStore
	log   *logger.Logger
}

// NewFlowService creates a new flow service.
func NewFlowService(flows FlowStore, log *logger.Logger) *FlowService {
	return &FlowService{
		flows: flows,
		log:   log.WithComponent("flow_service"),
	}
}

// CreateFlow creates a canvas. The type defaults to workflow; a BMC canvas
// cannot be nested under a parent.
func (s *FlowService) CreateFlow(ctx context.Context, name string, canvasType models.CanvasType, parentID *uuid.UUID) (*models.Flow, error) {
	if name == "" {
		return nil, errs.New(errs.KindValidation, "name is required")
	}
	if canvasType == "" {
		canvasType = models.CanvasTypeWorkflow
	}
	if canvasType != models.CanvasTypeBMC && canvasType != models.CanvasTypeWorkflow {
		return nil, errs.Newf(errs.KindValidation, "unknown canvas type %q", canvasType)
	}
	if canvasType == models.CanvasTypeBMC && parentID != nil {
		return nil, errs.New(errs.KindValidation, "a bmc canvas cannot have a parent")
	}
	if parentID != nil {
		if _, err := s.flows.GetByID(ctx, *parentID); err != nil {
			return nil, err
		}
	}

	flow := &models.Flow{
		Name:       name,
		CanvasType: canvasType,
		ParentID:   parentID,
	}
	if err := s.flows.Create(ctx, flow); err != nil {
		return nil, fmt.Errorf("failed to create flow: %w", err)
	}

	s.log.Info("flow created",
		"flow_id", flow.ID,
		"name", flow.Name,
		"canvas_type", flow.CanvasType,
	)
	return flow, nil
}

// GetFlow retrieves a canvas by id.
func (s *FlowService) GetFlow(ctx context.Context, id uuid.UUID) (*models.Flow, error) {
	return s.flows.GetByID(ctx, id)
}
