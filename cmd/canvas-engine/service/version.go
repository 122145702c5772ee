package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/graph"
	"github.com/stitchhq/canvas-engine/common/logger"
	"github.com/stitchhq/canvas-engine/common/models"
)

// VersionService compiles visual graphs into immutable versions and serves
// them back. Versions never change after creation, so reads go through an
// in-process cache keyed by version id.
type VersionService struct {
	flows    FlowStore
	versions VersionStore
	log      *logger.Logger

	mu    sync.RWMutex
	cache map[uuid.UUID]*models.FlowVersion
}

// NewVersionService creates a new version service.
func NewVersionService(flows FlowStore, versions VersionStore, log *logger.Logger) *VersionService {
	return &VersionService{
		flows:    flows,
		versions: versions,
		log:      log.WithComponent("version_service"),
		cache:    make(map[uuid.UUID]*models.FlowVersion),
	}
}

// CreateVersion validates and compiles a visual graph and persists it as the
// flow's new current version. Validation failures carry the ordered finding
// list in the error details.
func (s *VersionService) CreateVersion(ctx context.Context, flowID uuid.UUID, vg *models.VisualGraph, commitMessage string) (*models.FlowVersion, error) {
	if _, err := s.flows.GetByID(ctx, flowID); err != nil {
		return nil, err
	}
	return s.mint(ctx, flowID, vg, commitMessage)
}

// AutoVersionOnRun resolves the version for a manual run that carries its
// own visual graph. Content identical to an already-saved version of the
// flow reuses that version instead of minting a new row, so repeated runs
// from an unchanged canvas pin the same version id.
func (s *VersionService) AutoVersionOnRun(ctx context.Context, flowID uuid.UUID, vg *models.VisualGraph) (*models.FlowVersion, error) {
	if _, err := s.flows.GetByID(ctx, flowID); err != nil {
		return nil, err
	}

	hash, err := graph.ContentHash(vg)
	if err != nil {
		return nil, fmt.Errorf("failed to hash visual graph: %w", err)
	}
	existing, err := s.versions.FindByContentHash(ctx, flowID, hash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.log.Info("run reuses version with identical content",
			"flow_id", flowID,
			"version_id", existing.ID,
		)
		s.cacheStore(existing)
		return existing, nil
	}

	return s.mint(ctx, flowID, vg, "")
}

// mint compiles and persists a version. Callers have already checked that
// the flow exists.
func (s *VersionService) mint(ctx context.Context, flowID uuid.UUID, vg *models.VisualGraph, commitMessage string) (*models.FlowVersion, error) {
	eg, err := graph.Compile(vg)
	if err != nil {
		return nil, err
	}
	hash, err := graph.ContentHash(vg)
	if err != nil {
		return nil, fmt.Errorf("failed to hash visual graph: %w", err)
	}

	v := &models.FlowVersion{
		FlowID:         flowID,
		VisualGraph:    *vg,
		ExecutionGraph: *eg,
		ContentHash:    hash,
	}
	if commitMessage != "" {
		v.CommitMessage = &commitMessage
	}
	if err := s.versions.Create(ctx, v); err != nil {
		return nil, err
	}
	s.cacheStore(v)

	s.log.Info("version created",
		"flow_id", flowID,
		"version_id", v.ID,
		"nodes", len(eg.Nodes),
		"edges", len(eg.EdgeData),
	)
	return v, nil
}

// ListVersions returns a flow's version metadata, newest first, without the
// graph blobs.
func (s *VersionService) ListVersions(ctx context.Context, flowID uuid.UUID) ([]models.VersionMeta, error) {
	if _, err := s.flows.GetByID(ctx, flowID); err != nil {
		return nil, err
	}
	return s.versions.ListMeta(ctx, flowID)
}

// GetVersion retrieves a full version, serving repeated reads from cache.
func (s *VersionService) GetVersion(ctx context.Context, id uuid.UUID) (*models.FlowVersion, error) {
	s.mu.RLock()
	v, ok := s.cache[id]
	s.mu.RUnlock()
	if ok {
		return v, nil
	}

	v, err := s.versions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheStore(v)
	return v, nil
}

// GetByID is GetVersion under the name the engine's version store expects,
// so walker reads of pinned versions hit the cache.
func (s *VersionService) GetByID(ctx context.Context, id uuid.UUID) (*models.FlowVersion, error) {
	return s.GetVersion(ctx, id)
}

func (s *VersionService) cacheStore(v *models.FlowVersion) {
	s.mu.Lock()
	s.cache[v.ID] = v
	s.mu.Unlock()
}
