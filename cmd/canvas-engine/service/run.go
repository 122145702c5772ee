package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/engine"
	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/logger"
	"github.com/stitchhq/canvas-engine/common/models"
)

// RunService drives manual runs and the callback/retry surface.
type RunService struct {
	flows    FlowStore
	runs     RunStore
	entities EntityStore
	versions *VersionService
	engine   *engine.Engine
	log      *logger.Logger
}

// NewRunService creates a new run service.
func NewRunService(flows FlowStore, runs RunStore, entities EntityStore, versions *VersionService, eng *engine.Engine, log *logger.Logger) *RunService {
	return &RunService{
		flows:    flows,
		runs:     runs,
		entities: entities,
		versions: versions,
		engine:   eng,
		log:      log.WithComponent("run_service"),
	}
}

// StartRunRequest carries the optional parts of a manual start.
type StartRunRequest struct {
	// VisualGraph, when present, is auto-versioned before the run starts.
	VisualGraph *models.VisualGraph

	// EntityID binds the run to an entity.
	EntityID *uuid.UUID

	// Input seeds node inputs for the whole run.
	Input map[string]any
}

// Start launches a manual run of a flow. A request carrying a visual graph
// runs exactly what was sent (auto-versioned, content-deduplicated); one
// without runs the flow's current version.
func (s *RunService) Start(ctx context.Context, flowID uuid.UUID, req *StartRunRequest) (*models.Run, error) {
	if req == nil {
		req = &StartRunRequest{}
	}

	var version *models.FlowVersion
	var err error
	if req.VisualGraph != nil {
		version, err = s.versions.AutoVersionOnRun(ctx, flowID, req.VisualGraph)
		if err != nil {
			return nil, err
		}
	} else {
		flow, err := s.flows.GetByID(ctx, flowID)
		if err != nil {
			return nil, err
		}
		if flow.CurrentVersionID == nil {
			return nil, errs.New(errs.KindValidation, "flow has no versions; save a version or send visualGraph")
		}
		version, err = s.versions.GetVersion(ctx, *flow.CurrentVersionID)
		if err != nil {
			return nil, err
		}
	}

	if req.EntityID != nil {
		if _, err := s.entities.GetByID(ctx, *req.EntityID); err != nil {
			return nil, err
		}
	}

	run, err := s.engine.StartRun(ctx, version, engine.StartOpts{
		EntityID: req.EntityID,
		Trigger: models.Trigger{
			Type:      models.TriggerManual,
			Timestamp: time.Now().UTC(),
			Input:     req.Input,
		},
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("manual run started",
		"run_id", run.ID,
		"flow_id", flowID,
		"version_id", version.ID,
	)
	return run, nil
}

// GetRun reads a run with its full node states. Admin surface: no user
// visibility filtering.
func (s *RunService) GetRun(ctx context.Context, runID uuid.UUID) (*models.Run, error) {
	return s.runs.GetByID(ctx, runID)
}

const defaultRunListLimit = 50

// ListRuns reads recent runs of a flow, newest first. A non-positive limit
// gets the default page size.
func (s *RunService) ListRuns(ctx context.Context, flowID uuid.UUID, limit int) ([]*models.Run, error) {
	if _, err := s.flows.GetByID(ctx, flowID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultRunListLimit
	}
	return s.runs.ListByFlow(ctx, flowID, limit)
}

// Retry resets a failed node and refires it.
func (s *RunService) Retry(ctx context.Context, runID uuid.UUID, nodeID string) (*models.Run, error) {
	return s.engine.Retry(ctx, runID, nodeID)
}

// Callback absorbs an async worker's result report.
func (s *RunService) Callback(ctx context.Context, runID uuid.UUID, nodeID string, cb *engine.CallbackRequest) (*models.Run, error) {
	return s.engine.HandleCallback(ctx, runID, nodeID, cb)
}
