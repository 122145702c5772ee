package engine

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/models"
)

// fireWorker claims a worker node with its staged input already in the
// output slot, then either runs a built-in sync executor inline or
// dispatches to the configured URL and leaves completion to the callback.
func (e *Engine) fireWorker(ctx context.Context, version *models.FlowVersion, pre *models.Run, node models.ExecNode) {
	graph := &version.ExecutionGraph
	cfg := node.Data.Worker
	if cfg == nil {
		cfg = &models.WorkerConfig{}
	}

	// Staging the input into the output slot makes it visible mid-run and
	// lets async callbacks merge over it, so pass-through values survive
	// to downstream nodes.
	staged := collectInput(graph, pre, node)
	now := time.Now().UTC()
	run, ok := e.claim(ctx, pre.ID, node.ID, models.NodeState{
		Status:    models.NodeRunning,
		Output:    staged,
		StartedAt: &now,
	})
	if !ok {
		return
	}

	if cfg.Mode == models.WorkerModeAsync {
		req := &DispatchRequest{
			RunID:       run.ID.String(),
			NodeID:      node.ID,
			Input:       staged,
			Config:      node.Data.Config,
			CallbackURL: e.dispatcher.CallbackURL(run.ID, node.ID),
		}
		dctx := ctx
		if cfg.TimeoutSeconds > 0 {
			var cancel context.CancelFunc
			dctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.TimeoutSeconds)*time.Second)
			defer cancel()
		}
		if err := e.dispatcher.Dispatch(dctx, cfg.URL, req); err != nil {
			e.log.Error("worker dispatch failed", "run_id", run.ID, "node_id", node.ID, "url", cfg.URL, "error", err)
			e.failNode(ctx, version, run, node, err.Error())
			return
		}
		e.log.Info("worker dispatched", "run_id", run.ID, "node_id", node.ID, "url", cfg.URL)
		return
	}

	output, err := execSync(node, cfg.Kind, staged)
	if err != nil {
		e.failNode(ctx, version, run, node, err.Error())
		return
	}
	e.completeNode(ctx, version, run, node, output)
}

// fireJunction handles splitters and collectors: both complete
// immediately with the merge of their completed upstream outputs, in
// adjacency order with later sources winning key conflicts. A splitter
// thereby forwards upstream flags to its outgoing edge predicates; a
// collector joins its branches into one payload.
func (e *Engine) fireJunction(ctx context.Context, version *models.FlowVersion, pre *models.Run, node models.ExecNode) {
	now := time.Now().UTC()
	run, ok := e.claim(ctx, pre.ID, node.ID, models.NodeState{Status: models.NodeRunning, StartedAt: &now})
	if !ok {
		return
	}

	graph := &version.ExecutionGraph
	output := map[string]any{}
	for _, src := range graph.JourneyIncoming(node.ID) {
		st := run.State(src)
		if st.Status != models.NodeCompleted {
			continue
		}
		for k, v := range st.Output {
			output[k] = v
		}
	}
	e.completeNode(ctx, version, run, node, output)
}

// fireUX parks the node in waiting_for_user with a wait token in its
// output slot. The token carries what a reply handler needs to resolve
// the wait later.
func (e *Engine) fireUX(ctx context.Context, version *models.FlowVersion, pre *models.Run, node models.ExecNode) {
	now := time.Now().UTC()
	run, ok := e.claim(ctx, pre.ID, node.ID, models.NodeState{Status: models.NodeRunning, StartedAt: &now})
	if !ok {
		return
	}

	cfg := node.Data.UX
	if cfg == nil {
		cfg = &models.UXConfig{}
	}
	token := map[string]any{
		"run_id":  run.ID.String(),
		"node_id": node.ID,
	}
	if cfg.Message != "" {
		token["message"] = cfg.Message
	}

	st := run.State(node.ID)
	updated, err := e.runs.UpdateNodeState(ctx, run.ID, node.ID,
		[]models.NodeStatus{models.NodeRunning},
		models.NodeState{Status: models.NodeWaitingForUser, Output: token, StartedAt: st.StartedAt})
	if err != nil {
		e.log.Error("failed to park UX node", "run_id", run.ID, "node_id", node.ID, "error", err)
		return
	}
	e.log.Info("node waiting for user", "run_id", run.ID, "node_id", node.ID)
	e.recomputeStatus(ctx, version, updated)
}

// collectInput assembles a node's effective input: the run's trigger input
// as the base layer, completed upstream outputs merged over it in adjacency
// order, declared defaults filling absent keys, and the declared worker
// input overlaid last.
func collectInput(graph *models.ExecutionGraph, run *models.Run, node models.ExecNode) map[string]any {
	input := map[string]any{}
	for k, v := range run.Trigger.Input {
		input[k] = v
	}
	for _, src := range graph.JourneyIncoming(node.ID) {
		st := run.State(src)
		if st.Status != models.NodeCompleted {
			continue
		}
		for k, v := range st.Output {
			input[k] = v
		}
	}
	for k, v := range node.Data.Defaults {
		if _, ok := input[k]; !ok {
			input[k] = v
		}
	}
	if w := node.Data.Worker; w != nil {
		for k, v := range w.Input {
			input[k] = v
		}
	}
	return input
}

// execSync runs a built-in synchronous executor.
//
//	noop     passes the input through unchanged (the default)
//	merge    overlays config "values" onto the input
//	template renders config "template" into a "text" key
func execSync(node models.ExecNode, kind string, input map[string]any) (map[string]any, error) {
	switch kind {
	case "", "noop":
		return input, nil
	case "merge":
		out := cloneMap(input)
		if vals, ok := node.Data.Config["values"].(map[string]any); ok {
			for k, v := range vals {
				out[k] = v
			}
		}
		return out, nil
	case "template":
		tmpl, _ := node.Data.Config["template"].(string)
		out := cloneMap(input)
		out["text"] = renderTemplate(tmpl, input)
		return out, nil
	default:
		return nil, errs.Newf(errs.KindWorkerFailure, "unknown sync worker kind %q", kind)
	}
}

var templateRef = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// renderTemplate substitutes {{path}} references with values from the
// input, using gjson path syntax for nested lookups. Unresolvable
// references are left in place.
func renderTemplate(tmpl string, input map[string]any) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	data, err := json.Marshal(input)
	if err != nil {
		return tmpl
	}
	return templateRef.ReplaceAllStringFunc(tmpl, func(ref string) string {
		path := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(ref, "{{"), "}}"))
		if res := gjson.GetBytes(data, path); res.Exists() {
			return res.String()
		}
		return ref
	})
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// mergeOutput overlays new keys onto a stored output without mutating
// either map.
func mergeOutput(stored, given map[string]any) map[string]any {
	if len(given) == 0 {
		if stored == nil {
			return map[string]any{}
		}
		return stored
	}
	merged := make(map[string]any, len(stored)+len(given))
	for k, v := range stored {
		merged[k] = v
	}
	for k, v := range given {
		merged[k] = v
	}
	return merged
}
