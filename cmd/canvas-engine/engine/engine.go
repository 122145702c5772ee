// Package engine walks compiled execution graphs. Each run pins a flow
// version; the engine advances node states through CAS writes, follows
// edges as nodes complete, dispatches async workers, and absorbs their
// callbacks. Node states are the single source of truth; the run-level
// status is derived from them and never consulted for control flow.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/logger"
	"github.com/stitchhq/canvas-engine/common/models"
	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/predicate"
)

// RunStore is the run persistence surface the engine drives. Node-state
// writes are CAS: they name the statuses they expect to replace and fail
// with a state conflict when the stored status has moved on.
type RunStore interface {
	Create(ctx context.Context, run *models.Run) error
	GetByID(ctx context.Context, runID uuid.UUID) (*models.Run, error)
	UpdateNodeState(ctx context.Context, runID uuid.UUID, nodeID string, expectFrom []models.NodeStatus, state models.NodeState) (*models.Run, error)
	UpdateNodeStates(ctx context.Context, runID uuid.UUID, patches []models.NodePatch) (*models.Run, error)
	UpdateStatus(ctx context.Context, runID uuid.UUID, status models.RunStatus) error
}

// EntityStore supplies entity context for predicates and applies
// repositioning movement.
type EntityStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Entity, error)
	ApplyMovement(ctx context.Context, entityID uuid.UUID, nodeID string, event models.JourneyEvent) error
}

// JourneyStore records journey events that do not reposition the entity.
type JourneyStore interface {
	Append(ctx context.Context, entityID uuid.UUID, event models.JourneyEvent) error
}

// VersionStore resolves the pinned version of a run.
type VersionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.FlowVersion, error)
}

// Engine executes runs against compiled graphs.
type Engine struct {
	runs     RunStore
	entities EntityStore
	journeys JourneyStore
	versions VersionStore

	evaluator  *predicate.Evaluator
	dispatcher WorkerDispatcher
	log        *logger.Logger

	// base owns detached node goroutines; cancelling it stops the engine
	// from picking up new work.
	base context.Context
	sem  chan struct{}
	wg   sync.WaitGroup
}

// Opts configures an Engine.
type Opts struct {
	Runs     RunStore
	Entities EntityStore
	Journeys JourneyStore
	Versions VersionStore

	Evaluator  *predicate.Evaluator
	Dispatcher WorkerDispatcher
	Logger     *logger.Logger

	// BaseContext bounds the lifetime of detached node goroutines.
	// Defaults to context.Background().
	BaseContext context.Context

	// MaxParallel caps concurrently executing node handlers across all
	// runs. Defaults to 8.
	MaxParallel int
}

// New creates an engine.
func New(opts *Opts) *Engine {
	base := opts.BaseContext
	if base == nil {
		base = context.Background()
	}
	maxParallel := opts.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 8
	}
	evaluator := opts.Evaluator
	if evaluator == nil {
		evaluator = predicate.NewEvaluator()
	}
	log := opts.Logger
	if log == nil {
		log = logger.New("info", "json")
	}

	return &Engine{
		runs:       opts.Runs,
		entities:   opts.Entities,
		journeys:   opts.Journeys,
		versions:   opts.Versions,
		evaluator:  evaluator,
		dispatcher: opts.Dispatcher,
		log:        log.WithComponent("engine"),
		base:       base,
		sem:        make(chan struct{}, maxParallel),
	}
}

// StartOpts configures a new run.
type StartOpts struct {
	// EntityID binds the run to an entity; predicates see its snapshot
	// and movement rules act on it.
	EntityID *uuid.UUID

	Trigger models.Trigger

	// StartNodeID overrides the compiled entry set with a single node,
	// used by webhook ingress to start at the configured entry edge's
	// target.
	StartNodeID string
}

// StartRun creates a run over the given version with every node pending,
// then fires the entry set. The returned run reflects the initial record;
// execution continues on detached goroutines.
func (e *Engine) StartRun(ctx context.Context, version *models.FlowVersion, opts StartOpts) (*models.Run, error) {
	graph := &version.ExecutionGraph

	starts := graph.EntryNodes
	if opts.StartNodeID != "" {
		if _, ok := graph.Nodes[opts.StartNodeID]; !ok {
			return nil, errs.NotFound("node", opts.StartNodeID)
		}
		starts = []string{opts.StartNodeID}
	}

	states := make(map[string]*models.NodeState, len(graph.Nodes))
	for id := range graph.Nodes {
		states[id] = &models.NodeState{Status: models.NodePending}
	}

	trigger := opts.Trigger
	if trigger.Timestamp.IsZero() {
		trigger.Timestamp = time.Now().UTC()
	}

	run := &models.Run{
		FlowID:        version.FlowID,
		FlowVersionID: version.ID,
		EntityID:      opts.EntityID,
		Trigger:       trigger,
		NodeStates:    states,
		Status:        models.RunRunning,
	}
	if err := e.runs.Create(ctx, run); err != nil {
		return nil, err
	}

	e.log.Info("run started",
		"run_id", run.ID,
		"flow_id", run.FlowID,
		"version_id", version.ID,
		"trigger", trigger.Type,
		"entry_nodes", starts)

	for _, nodeID := range starts {
		e.spawnFire(version, run.ID, nodeID)
	}
	return run, nil
}

// Retry resets a failed node to pending and fires it directly when its
// upstream edges allow, without re-walking from its predecessors. Sibling
// branches are untouched.
func (e *Engine) Retry(ctx context.Context, runID uuid.UUID, nodeID string) (*models.Run, error) {
	run, err := e.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	version, err := e.versions.GetByID(ctx, run.FlowVersionID)
	if err != nil {
		return nil, err
	}
	graph := &version.ExecutionGraph
	node, ok := graph.Nodes[nodeID]
	if !ok {
		return nil, errs.NotFound("node", nodeID)
	}
	if node.Type.Structural() {
		return nil, errs.Newf(errs.KindValidation, "node %s is structural and cannot be retried", nodeID)
	}
	if st := run.State(nodeID); st.Status != models.NodeFailed {
		return nil, errs.Newf(errs.KindValidation, "node %s is not failed (status %s)", nodeID, st.Status)
	}

	updated, err := e.runs.UpdateNodeState(ctx, runID, nodeID,
		[]models.NodeStatus{models.NodeFailed},
		models.NodeState{Status: models.NodePending})
	if err != nil {
		return nil, err
	}
	e.log.Info("node reset for retry", "run_id", runID, "node_id", nodeID)
	e.recomputeStatus(ctx, version, updated)

	if e.ready(graph, updated, nodeID, e.entitySnapshot(ctx, updated)) {
		e.spawnFire(version, runID, nodeID)
	} else {
		e.log.Info("retried node still gated by upstream", "run_id", runID, "node_id", nodeID)
	}
	return updated, nil
}

// ResolveWait completes a waiting UX node with the given resolution merged
// over its wait token, then resumes the walk from it.
func (e *Engine) ResolveWait(ctx context.Context, runID uuid.UUID, nodeID string, resolution map[string]any) (*models.Run, error) {
	run, err := e.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	version, err := e.versions.GetByID(ctx, run.FlowVersionID)
	if err != nil {
		return nil, err
	}
	node, ok := version.ExecutionGraph.Nodes[nodeID]
	if !ok {
		return nil, errs.NotFound("node", nodeID)
	}
	if node.Type != models.NodeTypeUX {
		return nil, errs.Newf(errs.KindValidation, "node %s is not a UX node", nodeID)
	}
	st := run.State(nodeID)
	if st.Status != models.NodeWaitingForUser {
		return nil, errs.StateConflict(nodeID, string(models.NodeWaitingForUser), string(st.Status))
	}

	// waiting_for_user resumes through running per the node state machine.
	if _, err := e.runs.UpdateNodeState(ctx, runID, nodeID,
		[]models.NodeStatus{models.NodeWaitingForUser},
		models.NodeState{Status: models.NodeRunning, Output: st.Output, StartedAt: st.StartedAt}); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	updated, err := e.runs.UpdateNodeState(ctx, runID, nodeID,
		[]models.NodeStatus{models.NodeRunning},
		models.NodeState{
			Status:     models.NodeCompleted,
			Output:     mergeOutput(st.Output, resolution),
			StartedAt:  st.StartedAt,
			FinishedAt: &now,
		})
	if err != nil {
		return nil, err
	}
	e.log.Info("wait resolved", "run_id", runID, "node_id", nodeID)
	e.recomputeStatus(ctx, version, updated)
	e.spawnWalk(version, updated, nodeID)
	return updated, nil
}

// Drain blocks until in-flight node goroutines finish or ctx expires.
func (e *Engine) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// spawn runs fn on a detached goroutine bounded by the parallelism
// semaphore. A panicking handler fails its node instead of taking the
// process down.
func (e *Engine) spawn(runID uuid.UUID, nodeID string, fn func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		select {
		case e.sem <- struct{}{}:
		case <-e.base.Done():
			return
		}
		defer func() { <-e.sem }()
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("node goroutine panicked", "run_id", runID, "node_id", nodeID, "panic", r)
				e.failNodeBestEffort(runID, nodeID, fmt.Sprintf("internal: %v", r))
			}
		}()
		fn(e.base)
	}()
}

func (e *Engine) spawnFire(version *models.FlowVersion, runID uuid.UUID, nodeID string) {
	e.spawn(runID, nodeID, func(ctx context.Context) {
		e.fire(ctx, version, runID, nodeID)
	})
}

func (e *Engine) spawnWalk(version *models.FlowVersion, run *models.Run, fromID string) {
	e.spawn(run.ID, fromID, func(ctx context.Context) {
		e.walk(ctx, version, run, fromID)
	})
}

// failNodeBestEffort marks a node failed after a panic. The node is most
// likely running; any other status makes this a no-op conflict.
func (e *Engine) failNodeBestEffort(runID uuid.UUID, nodeID string, msg string) {
	now := time.Now().UTC()
	_, err := e.runs.UpdateNodeState(e.base, runID, nodeID,
		[]models.NodeStatus{models.NodeRunning},
		models.NodeState{Status: models.NodeFailed, Error: msg, FinishedAt: &now})
	if err != nil && !errs.Is(err, errs.KindStateConflict) {
		e.log.Error("failed to record panic failure", "run_id", runID, "node_id", nodeID, "error", err)
	}
}

// recomputeStatus derives the run-level status from node states and
// persists it when it changed. Snapshots are monotonic: the last write in
// any interleaving sees all prior node transitions, so the stored status
// converges even when branches race.
func (e *Engine) recomputeStatus(ctx context.Context, version *models.FlowVersion, run *models.Run) {
	derived := deriveStatus(&version.ExecutionGraph, run)
	if derived == run.Status {
		return
	}
	if err := e.runs.UpdateStatus(ctx, run.ID, derived); err != nil {
		e.log.Error("failed to update run status", "run_id", run.ID, "status", derived, "error", err)
		return
	}
	e.log.Info("run status changed", "run_id", run.ID, "status", derived)
	run.Status = derived
}

// deriveStatus folds node states into the viewer-facing run status: any
// failure wins, then any wait, then completion once every terminal node
// settled.
func deriveStatus(graph *models.ExecutionGraph, run *models.Run) models.RunStatus {
	waiting := false
	for _, st := range run.NodeStates {
		if st == nil {
			continue
		}
		switch st.Status {
		case models.NodeFailed:
			return models.RunFailed
		case models.NodeWaitingForUser:
			waiting = true
		}
	}
	if waiting {
		return models.RunWaiting
	}
	if len(graph.TerminalNodes) > 0 {
		for _, id := range graph.TerminalNodes {
			if !run.State(id).Status.Terminal() {
				return models.RunRunning
			}
		}
		return models.RunCompleted
	}
	return models.RunRunning
}

// entitySnapshot loads the bound entity as the predicate context. Runs
// without an entity evaluate predicates against an empty object.
func (e *Engine) entitySnapshot(ctx context.Context, run *models.Run) map[string]any {
	if run.EntityID == nil {
		return nil
	}
	ent, err := e.entities.GetByID(ctx, *run.EntityID)
	if err != nil {
		e.log.Warn("failed to load entity for predicate context", "run_id", run.ID, "entity_id", run.EntityID, "error", err)
		return nil
	}
	meta := ent.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return map[string]any{
		"id":          ent.ID.String(),
		"name":        ent.Name,
		"email":       ent.Email,
		"entity_type": ent.EntityType,
		"metadata":    meta,
	}
}
