package graph

import (
	"fmt"

	"github.com/stitchhq/canvas-engine/common/models"
)

// Validation error codes. Stable: clients match on these strings.
const (
	CodeDuplicateNodeID    = "duplicate_node_id"
	CodeUnknownNodeType    = "unknown_node_type"
	CodeDanglingEdgeSource = "dangling_edge_source"
	CodeDanglingEdgeTarget = "dangling_edge_target"
	CodeJourneyCycle       = "journey_cycle"
	CodeSplitterFanout     = "splitter_fanout"
	CodeCollectorFanin     = "collector_fanin"
	CodeMissingInput       = "missing_input"
)

// ValidationError is a single validator finding. Location is the id of the
// offending node, or "source→target" for edge findings.
type ValidationError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Location string `json:"location,omitempty"`
}

// Validate checks a visual graph against the rules enforced at version
// creation. A nil result means the graph is valid. Findings are ordered by
// rule, then by authored order, so the same graph always yields the same
// list.
func Validate(vg *models.VisualGraph) []ValidationError {
	var out []ValidationError

	// 1. Node ids are unique.
	nodeIDs := make(map[string]bool, len(vg.Nodes))
	for _, n := range vg.Nodes {
		if nodeIDs[n.ID] {
			out = append(out, ValidationError{
				Code:     CodeDuplicateNodeID,
				Message:  fmt.Sprintf("node id %q appears more than once", n.ID),
				Location: n.ID,
			})
			continue
		}
		nodeIDs[n.ID] = true
	}

	// 2. Every node type is registered.
	for _, n := range vg.Nodes {
		if !models.KnownNodeTypes[n.Type] {
			out = append(out, ValidationError{
				Code:     CodeUnknownNodeType,
				Message:  fmt.Sprintf("node %q has unknown type %q", n.ID, n.Type),
				Location: n.ID,
			})
		}
	}

	// 3. Every edge source resolves to a node in this graph.
	for _, e := range vg.Edges {
		if !nodeIDs[e.Source] {
			out = append(out, ValidationError{
				Code:     CodeDanglingEdgeSource,
				Message:  fmt.Sprintf("edge %q references missing source node %q", e.ID, e.Source),
				Location: models.EdgeKey(e.Source, e.Target),
			})
		}
	}

	// 4. Every edge target resolves to a node in this graph.
	for _, e := range vg.Edges {
		if !nodeIDs[e.Target] {
			out = append(out, ValidationError{
				Code:     CodeDanglingEdgeTarget,
				Message:  fmt.Sprintf("edge %q references missing target node %q", e.ID, e.Target),
				Location: models.EdgeKey(e.Source, e.Target),
			})
		}
	}

	// 5. The journey subgraph is a DAG. System edges may loop.
	out = append(out, journeyCycles(vg, nodeIDs)...)

	// 6-7. Splitters fan out, Collectors fan in.
	outDegree := make(map[string]int)
	inDegree := make(map[string]int)
	for _, e := range vg.Edges {
		if nodeIDs[e.Source] && nodeIDs[e.Target] {
			outDegree[e.Source]++
			inDegree[e.Target]++
		}
	}
	for _, n := range vg.Nodes {
		if n.Type == models.NodeTypeSplitter && outDegree[n.ID] < 2 {
			out = append(out, ValidationError{
				Code:     CodeSplitterFanout,
				Message:  fmt.Sprintf("splitter %q has %d outgoing edges, needs at least 2", n.ID, outDegree[n.ID]),
				Location: n.ID,
			})
		}
	}
	for _, n := range vg.Nodes {
		if n.Type == models.NodeTypeCollector && inDegree[n.ID] < 2 {
			out = append(out, ValidationError{
				Code:     CodeCollectorFanin,
				Message:  fmt.Sprintf("collector %q has %d incoming edges, needs at least 2", n.ID, inDegree[n.ID]),
				Location: n.ID,
			})
		}
	}

	// 8. Required inputs are produced upstream or defaulted.
	out = append(out, missingInputs(vg, nodeIDs)...)

	return out
}

const (
	colorWhite = iota
	colorGray
	colorBlack
)

// journeyCycles runs a three-color DFS over the journey-edge subgraph and
// reports one finding per back edge. Edges with unresolved endpoints are
// ignored here; rules 3-4 already reported them.
func journeyCycles(vg *models.VisualGraph, nodeIDs map[string]bool) []ValidationError {
	adj := make(map[string][]string)
	for _, e := range vg.Edges {
		if !e.Type.Journey() || !nodeIDs[e.Source] || !nodeIDs[e.Target] {
			continue
		}
		adj[e.Source] = append(adj[e.Source], e.Target)
	}

	color := make(map[string]int, len(vg.Nodes))
	var out []ValidationError

	var visit func(id string)
	visit = func(id string) {
		color[id] = colorGray
		for _, next := range adj[id] {
			switch color[next] {
			case colorWhite:
				visit(next)
			case colorGray:
				out = append(out, ValidationError{
					Code:     CodeJourneyCycle,
					Message:  fmt.Sprintf("journey edges form a cycle through %q", next),
					Location: models.EdgeKey(id, next),
				})
			}
		}
		color[id] = colorBlack
	}

	for _, n := range vg.Nodes {
		if color[n.ID] == colorWhite {
			visit(n.ID)
		}
	}
	return out
}

// missingInputs checks each node's declared required inputs against the
// output keys of its transitive journey predecessors and its own defaults.
// Satisfaction is transitive: Collector merges carry upstream outputs
// through intermediate nodes.
func missingInputs(vg *models.VisualGraph, nodeIDs map[string]bool) []ValidationError {
	preds := make(map[string][]string)
	for _, e := range vg.Edges {
		if !e.Type.Journey() || !nodeIDs[e.Source] || !nodeIDs[e.Target] {
			continue
		}
		preds[e.Target] = append(preds[e.Target], e.Source)
	}

	outputs := make(map[string]map[string]bool, len(vg.Nodes))
	for _, n := range vg.Nodes {
		if len(n.Data.Outputs) == 0 {
			continue
		}
		keys := make(map[string]bool, len(n.Data.Outputs))
		for _, k := range n.Data.Outputs {
			keys[k] = true
		}
		outputs[n.ID] = keys
	}

	var out []ValidationError
	for _, n := range vg.Nodes {
		if len(n.Data.Inputs) == 0 {
			continue
		}
		upstream := ancestorOutputs(n.ID, preds, outputs)
		for _, key := range n.Data.Inputs {
			if upstream[key] {
				continue
			}
			if _, ok := n.Data.Defaults[key]; ok {
				continue
			}
			out = append(out, ValidationError{
				Code:     CodeMissingInput,
				Message:  fmt.Sprintf("node %q requires input %q: no upstream output produces it and no default is set", n.ID, key),
				Location: n.ID,
			})
		}
	}
	return out
}

// ancestorOutputs collects the output keys of every transitive journey
// predecessor of a node.
func ancestorOutputs(id string, preds map[string][]string, outputs map[string]map[string]bool) map[string]bool {
	got := make(map[string]bool)
	seen := map[string]bool{id: true}
	queue := append([]string(nil), preds[id]...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		for k := range outputs[cur] {
			got[k] = true
		}
		queue = append(queue, preds[cur]...)
	}
	return got
}
