package engine

import (
	"context"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/models"
)

// CallbackRequest is the result an async worker reports back.
type CallbackRequest struct {
	Status string         `json:"status"`
	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// HandleCallback absorbs an async worker's result. A completed callback
// merges its output over the staged input, records the node completion,
// and resumes the walk; a failed callback records the failure. Workers
// retry deliveries, so a repeated completed callback whose output is
// already absorbed is acknowledged as a no-op, while a conflicting one is
// rejected with a state conflict.
func (e *Engine) HandleCallback(ctx context.Context, runID uuid.UUID, nodeID string, cb *CallbackRequest) (*models.Run, error) {
	status := models.NodeStatus(cb.Status)
	if status != models.NodeCompleted && status != models.NodeFailed {
		return nil, errs.Newf(errs.KindValidation, "callback status must be completed or failed, got %q", cb.Status)
	}
	if status == models.NodeFailed && cb.Error == "" {
		return nil, errs.New(errs.KindValidation, "failed callback requires an error message")
	}

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

	st := run.State(nodeID)
	if st.Status == models.NodeCompleted {
		if status == models.NodeCompleted && outputSubsumed(cb.Output, st.Output) {
			e.log.Info("duplicate callback ignored", "run_id", runID, "node_id", nodeID)
			return run, nil
		}
		return nil, errs.StateConflict(nodeID, string(models.NodeRunning), string(st.Status))
	}

	now := time.Now().UTC()
	if status == models.NodeCompleted {
		updated, err := e.runs.UpdateNodeState(ctx, runID, nodeID,
			[]models.NodeStatus{models.NodeRunning},
			models.NodeState{
				Status:     models.NodeCompleted,
				Output:     mergeOutput(st.Output, cb.Output),
				StartedAt:  st.StartedAt,
				FinishedAt: &now,
			})
		if err != nil {
			return nil, err
		}
		e.log.Info("worker callback completed node", "run_id", runID, "node_id", nodeID)
		e.applyMovement(ctx, updated, node, true)
		e.recomputeStatus(ctx, version, updated)
		e.spawnWalk(version, updated, nodeID)
		return updated, nil
	}

	updated, err := e.runs.UpdateNodeState(ctx, runID, nodeID,
		[]models.NodeStatus{models.NodeRunning},
		models.NodeState{
			Status:     models.NodeFailed,
			Output:     st.Output,
			Error:      cb.Error,
			StartedAt:  st.StartedAt,
			FinishedAt: &now,
		})
	if err != nil {
		return nil, err
	}
	e.log.Warn("worker callback failed node", "run_id", runID, "node_id", nodeID, "error", cb.Error)
	e.applyMovement(ctx, updated, node, false)
	e.recomputeStatus(ctx, version, updated)
	return updated, nil
}

// outputSubsumed reports whether every key of the callback output is
// already present with the same value in the stored output, which marks
// the callback as a retried delivery of an absorbed result.
func outputSubsumed(given, stored map[string]any) bool {
	for k, v := range given {
		if !reflect.DeepEqual(stored[k], v) {
			return false
		}
	}
	return true
}
