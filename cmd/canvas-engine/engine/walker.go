package engine

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/models"
)

// fire claims a pending node and hands it to its type handler. The CAS
// claim is the exactly-once gate: when two walkers race over a shared
// target, one claim lands and the other observes a state conflict.
func (e *Engine) fire(ctx context.Context, version *models.FlowVersion, runID uuid.UUID, nodeID string) {
	graph := &version.ExecutionGraph
	node, ok := graph.Nodes[nodeID]
	if !ok {
		e.log.Error("fire target missing from graph", "run_id", runID, "node_id", nodeID)
		return
	}
	if node.Type.Structural() {
		e.log.Debug("refusing to fire structural node", "run_id", runID, "node_id", nodeID, "type", node.Type)
		return
	}

	// Pre-claim snapshot: input staging reads upstream outputs from here.
	run, err := e.runs.GetByID(ctx, runID)
	if err != nil {
		e.log.Error("failed to load run for fire", "run_id", runID, "node_id", nodeID, "error", err)
		return
	}
	if st := run.State(nodeID); st.Status != models.NodePending {
		e.log.Debug("node no longer pending, skipping fire", "run_id", runID, "node_id", nodeID, "status", st.Status)
		return
	}

	switch node.Type {
	case models.NodeTypeWorker:
		e.fireWorker(ctx, version, run, node)
	case models.NodeTypeSplitter, models.NodeTypeCollector:
		e.fireJunction(ctx, version, run, node)
	case models.NodeTypeUX:
		e.fireUX(ctx, version, run, node)
	default:
		e.log.Warn("no handler for node type", "run_id", runID, "node_id", nodeID, "type", node.Type)
	}
}

// claim performs the pending→running CAS with the handler's initial
// state. A conflict means another goroutine fired the node first.
func (e *Engine) claim(ctx context.Context, runID uuid.UUID, nodeID string, state models.NodeState) (*models.Run, bool) {
	run, err := e.runs.UpdateNodeState(ctx, runID, nodeID, []models.NodeStatus{models.NodePending}, state)
	if err != nil {
		if errs.Is(err, errs.KindStateConflict) {
			e.log.Debug("node already claimed", "run_id", runID, "node_id", nodeID)
		} else {
			e.log.Error("failed to claim node", "run_id", runID, "node_id", nodeID, "error", err)
		}
		return nil, false
	}
	e.log.Info("node started", "run_id", runID, "node_id", nodeID)
	return run, true
}

// walk advances from a completed node across its outgoing edges. System
// edges fire their target unconditionally as a side-channel. Journey
// edges evaluate their predicate against the source output and entity
// snapshot; a false or erroring predicate starts skip propagation, a
// taken edge fires the target once every inbound journey edge allows it.
func (e *Engine) walk(ctx context.Context, version *models.FlowVersion, run *models.Run, fromID string) {
	graph := &version.ExecutionGraph
	from := run.State(fromID)
	if from.Status != models.NodeCompleted {
		return
	}
	targets := graph.Adjacency[fromID]
	if len(targets) == 0 {
		return
	}
	entity := e.entitySnapshot(ctx, run)

	for _, target := range targets {
		ed, ok := graph.Edge(fromID, target)
		if !ok {
			continue
		}
		if ed.Type == models.EdgeTypeSystem {
			e.log.Debug("firing system edge", "run_id", run.ID, "source", fromID, "target", target)
			e.spawnFire(version, run.ID, target)
			continue
		}
		if ed.Predicate != "" {
			pass, err := e.evaluator.Evaluate(ed.Predicate, from.Output, entity)
			if err != nil {
				e.log.Warn("edge predicate error, treating as not taken",
					"run_id", run.ID, "source", fromID, "target", target, "error", err)
			}
			if err != nil || !pass {
				run = e.skipCascade(ctx, version, run, fromID, target, entity)
				continue
			}
		}
		if e.ready(graph, run, target, entity) {
			e.spawnFire(version, run.ID, target)
		} else {
			e.log.Debug("target gated by fan-in", "run_id", run.ID, "source", fromID, "target", target)
		}
	}
}

// ready reports whether a node's inbound journey edges allow firing: no
// edge may still be undecided, and at least one must be satisfied. An
// edge is satisfied when its source completed and its predicate (if any)
// passes; it is waived when its source was skipped, is structural, or
// completed with a false predicate. The ≥1 rule makes an all-waived
// fan-in unreachable rather than vacuously ready.
func (e *Engine) ready(graph *models.ExecutionGraph, run *models.Run, nodeID string, entity map[string]any) bool {
	incoming := graph.JourneyIncoming(nodeID)
	if len(incoming) == 0 {
		return true
	}
	satisfied := 0
	for _, src := range incoming {
		if n, ok := graph.Nodes[src]; ok && n.Type.Structural() {
			continue
		}
		st := run.State(src)
		switch st.Status {
		case models.NodeCompleted:
			ed, _ := graph.Edge(src, nodeID)
			if ed.Predicate != "" {
				pass, err := e.evaluator.Evaluate(ed.Predicate, st.Output, entity)
				if err != nil || !pass {
					continue
				}
			}
			satisfied++
		case models.NodeSkipped:
			// waived
		default:
			return false
		}
	}
	return satisfied > 0
}

// skipCascade marks the subgraph behind a not-taken edge as skipped. The
// frontier grows from the edge target through journey successors and
// halts at collectors, structural nodes, non-pending nodes, and any node
// that still has a live or undecided inbound edge. The surviving
// frontier is then re-checked for readiness, since a waived edge can be
// exactly what a collector's fan-in was waiting on.
func (e *Engine) skipCascade(ctx context.Context, version *models.FlowVersion, run *models.Run, source, seedTarget string, entity map[string]any) *models.Run {
	graph := &version.ExecutionGraph
	deadEdge := map[string]bool{models.EdgeKey(source, seedTarget): true}
	skip := map[string]bool{}

	queue := []string{seedTarget}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if skip[id] {
			continue
		}
		node, ok := graph.Nodes[id]
		if !ok || node.Type == models.NodeTypeCollector || node.Type.Structural() {
			continue
		}
		if run.State(id).Status != models.NodePending {
			continue
		}
		if !e.incomingAllDead(graph, run, id, skip, deadEdge, entity) {
			continue
		}
		skip[id] = true
		for _, next := range graph.Adjacency[id] {
			if ed, ok := graph.Edge(id, next); ok && ed.Type.Journey() {
				queue = append(queue, next)
			}
		}
	}

	if len(skip) == 0 {
		if e.ready(graph, run, seedTarget, entity) {
			e.spawnFire(version, run.ID, seedTarget)
		}
		return run
	}

	ids := make([]string, 0, len(skip))
	for id := range skip {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	patches := make([]models.NodePatch, 0, len(ids))
	for _, id := range ids {
		patches = append(patches, models.NodePatch{
			NodeID: id,
			From:   models.NodePending,
			State:  models.NodeState{Status: models.NodeSkipped},
		})
	}
	updated, err := e.runs.UpdateNodeStates(ctx, run.ID, patches)
	if err != nil {
		// Lost a race with another walker over part of the frontier.
		e.log.Warn("skip propagation write failed", "run_id", run.ID, "source", source, "error", err)
		reloaded, gerr := e.runs.GetByID(ctx, run.ID)
		if gerr != nil {
			e.log.Error("failed to reload run after skip conflict", "run_id", run.ID, "error", gerr)
			return run
		}
		updated = reloaded
	}
	e.log.Info("skip propagated", "run_id", run.ID, "source", source, "skipped", ids)

	// Re-evaluate the nodes just past the skipped frontier.
	seen := map[string]bool{}
	for _, id := range ids {
		for _, next := range graph.Adjacency[id] {
			ed, ok := graph.Edge(id, next)
			if !ok || !ed.Type.Journey() {
				continue
			}
			if skip[next] || seen[next] {
				continue
			}
			seen[next] = true
			if e.ready(graph, updated, next, entity) {
				e.spawnFire(version, updated.ID, next)
			}
		}
	}
	if !skip[seedTarget] && !seen[seedTarget] && e.ready(graph, updated, seedTarget, entity) {
		e.spawnFire(version, updated.ID, seedTarget)
	}

	e.recomputeStatus(ctx, version, updated)
	return updated
}

// incomingAllDead reports whether every inbound journey edge of a node is
// provably dead: its source skipped (or queued to skip), structural, or
// completed with a predicate that does not pass. Any undecided source
// keeps the node alive.
func (e *Engine) incomingAllDead(graph *models.ExecutionGraph, run *models.Run, nodeID string, skip, deadEdge map[string]bool, entity map[string]any) bool {
	for _, src := range graph.JourneyIncoming(nodeID) {
		if deadEdge[models.EdgeKey(src, nodeID)] || skip[src] {
			continue
		}
		if n, ok := graph.Nodes[src]; ok && n.Type.Structural() {
			continue
		}
		st := run.State(src)
		switch st.Status {
		case models.NodeSkipped:
			// dead
		case models.NodeCompleted:
			ed, _ := graph.Edge(src, nodeID)
			if ed.Predicate == "" {
				return false
			}
			pass, err := e.evaluator.Evaluate(ed.Predicate, st.Output, entity)
			if err == nil && pass {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// completeNode records a node completion, applies movement, refreshes the
// run status, and walks onward. Movement runs before the walk so that
// downstream predicates observe the entity's new position.
func (e *Engine) completeNode(ctx context.Context, version *models.FlowVersion, run *models.Run, node models.ExecNode, output map[string]any) {
	now := time.Now().UTC()
	st := run.State(node.ID)
	updated, err := e.runs.UpdateNodeState(ctx, run.ID, node.ID,
		[]models.NodeStatus{models.NodeRunning},
		models.NodeState{
			Status:     models.NodeCompleted,
			Output:     output,
			StartedAt:  st.StartedAt,
			FinishedAt: &now,
		})
	if err != nil {
		e.log.Error("failed to record node completion", "run_id", run.ID, "node_id", node.ID, "error", err)
		return
	}
	e.log.Info("node completed", "run_id", run.ID, "node_id", node.ID)
	e.applyMovement(ctx, updated, node, true)
	e.recomputeStatus(ctx, version, updated)
	e.walk(ctx, version, updated, node.ID)
}

// failNode records a node failure and applies the failure movement rule.
// The staged output is kept for inspection and for the retry path.
func (e *Engine) failNode(ctx context.Context, version *models.FlowVersion, run *models.Run, node models.ExecNode, msg string) {
	now := time.Now().UTC()
	st := run.State(node.ID)
	updated, err := e.runs.UpdateNodeState(ctx, run.ID, node.ID,
		[]models.NodeStatus{models.NodeRunning},
		models.NodeState{
			Status:     models.NodeFailed,
			Output:     st.Output,
			Error:      msg,
			StartedAt:  st.StartedAt,
			FinishedAt: &now,
		})
	if err != nil {
		e.log.Error("failed to record node failure", "run_id", run.ID, "node_id", node.ID, "error", err)
		return
	}
	e.log.Warn("node failed", "run_id", run.ID, "node_id", node.ID, "error", msg)
	e.applyMovement(ctx, updated, node, false)
	e.recomputeStatus(ctx, version, updated)
}
