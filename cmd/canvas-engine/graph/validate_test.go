package graph

import (
	"testing"

	"github.com/stitchhq/canvas-engine/common/models"
)

func workerNode(id string) models.VisualNode {
	return models.VisualNode{ID: id, Type: models.NodeTypeWorker}
}

func journeyEdge(id, source, target string) models.VisualEdge {
	return models.VisualEdge{ID: id, Source: source, Target: target, Type: models.EdgeTypeJourney}
}

// TestValidate_ValidGraph checks that a well-formed splitter/collector
// diamond produces no findings.
func TestValidate_ValidGraph(t *testing.T) {
	vg := &models.VisualGraph{
		Nodes: []models.VisualNode{
			workerNode("start"),
			{ID: "split", Type: models.NodeTypeSplitter},
			workerNode("left"),
			workerNode("right"),
			{ID: "join", Type: models.NodeTypeCollector},
		},
		Edges: []models.VisualEdge{
			journeyEdge("e1", "start", "split"),
			journeyEdge("e2", "split", "left"),
			journeyEdge("e3", "split", "right"),
			journeyEdge("e4", "left", "join"),
			journeyEdge("e5", "right", "join"),
		},
	}

	if findings := Validate(vg); len(findings) != 0 {
		t.Errorf("Expected no findings, got %v", findings)
	}
}

// TestValidate_Findings exercises each rule in isolation.
func TestValidate_Findings(t *testing.T) {
	tests := []struct {
		name        string
		graph       *models.VisualGraph
		expectCode  string
		expectWhere string
	}{
		{
			name: "duplicate_node_id",
			graph: &models.VisualGraph{
				Nodes: []models.VisualNode{workerNode("a"), workerNode("a")},
			},
			expectCode:  CodeDuplicateNodeID,
			expectWhere: "a",
		},
		{
			name: "unknown_node_type",
			graph: &models.VisualGraph{
				Nodes: []models.VisualNode{{ID: "x", Type: "Teleporter"}},
			},
			expectCode:  CodeUnknownNodeType,
			expectWhere: "x",
		},
		{
			name: "dangling_edge_source",
			graph: &models.VisualGraph{
				Nodes: []models.VisualNode{workerNode("b")},
				Edges: []models.VisualEdge{journeyEdge("e1", "ghost", "b")},
			},
			expectCode:  CodeDanglingEdgeSource,
			expectWhere: models.EdgeKey("ghost", "b"),
		},
		{
			name: "dangling_edge_target",
			graph: &models.VisualGraph{
				Nodes: []models.VisualNode{workerNode("a")},
				Edges: []models.VisualEdge{journeyEdge("e1", "a", "ghost")},
			},
			expectCode:  CodeDanglingEdgeTarget,
			expectWhere: models.EdgeKey("a", "ghost"),
		},
		{
			name: "journey_cycle",
			graph: &models.VisualGraph{
				Nodes: []models.VisualNode{workerNode("a"), workerNode("b")},
				Edges: []models.VisualEdge{
					journeyEdge("e1", "a", "b"),
					journeyEdge("e2", "b", "a"),
				},
			},
			expectCode:  CodeJourneyCycle,
			expectWhere: models.EdgeKey("b", "a"),
		},
		{
			name: "splitter_fanout",
			graph: &models.VisualGraph{
				Nodes: []models.VisualNode{
					{ID: "split", Type: models.NodeTypeSplitter},
					workerNode("only"),
				},
				Edges: []models.VisualEdge{journeyEdge("e1", "split", "only")},
			},
			expectCode:  CodeSplitterFanout,
			expectWhere: "split",
		},
		{
			name: "collector_fanin",
			graph: &models.VisualGraph{
				Nodes: []models.VisualNode{
					workerNode("only"),
					{ID: "join", Type: models.NodeTypeCollector},
				},
				Edges: []models.VisualEdge{journeyEdge("e1", "only", "join")},
			},
			expectCode:  CodeCollectorFanin,
			expectWhere: "join",
		},
		{
			name: "missing_input",
			graph: &models.VisualGraph{
				Nodes: []models.VisualNode{
					workerNode("a"),
					{ID: "b", Type: models.NodeTypeWorker, Data: models.NodeData{Inputs: []string{"email"}}},
				},
				Edges: []models.VisualEdge{journeyEdge("e1", "a", "b")},
			},
			expectCode:  CodeMissingInput,
			expectWhere: "b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := Validate(tt.graph)
			if len(findings) == 0 {
				t.Fatalf("Expected a %s finding, got none", tt.expectCode)
			}
			found := false
			for _, f := range findings {
				if f.Code == tt.expectCode && f.Location == tt.expectWhere {
					found = true
				}
			}
			if !found {
				t.Errorf("Expected finding {code=%s, location=%s}, got %v", tt.expectCode, tt.expectWhere, findings)
			}
		})
	}
}

// TestValidate_SystemEdgeLoopAllowed checks that cycles through system
// edges pass while the same shape through journey edges fails.
func TestValidate_SystemEdgeLoopAllowed(t *testing.T) {
	nodes := []models.VisualNode{workerNode("a"), workerNode("b")}

	systemLoop := &models.VisualGraph{
		Nodes: nodes,
		Edges: []models.VisualEdge{
			journeyEdge("e1", "a", "b"),
			{ID: "e2", Source: "b", Target: "a", Type: models.EdgeTypeSystem},
		},
	}
	if findings := Validate(systemLoop); len(findings) != 0 {
		t.Errorf("System edge loop should be allowed, got %v", findings)
	}

	journeyLoop := &models.VisualGraph{
		Nodes: nodes,
		Edges: []models.VisualEdge{
			journeyEdge("e1", "a", "b"),
			journeyEdge("e2", "b", "a"),
		},
	}
	findings := Validate(journeyLoop)
	if len(findings) != 1 || findings[0].Code != CodeJourneyCycle {
		t.Errorf("Journey loop should yield one %s finding, got %v", CodeJourneyCycle, findings)
	}
}

// TestValidate_ConditionalEdgeGatesLikeJourney checks that conditional
// edges participate in cycle detection.
func TestValidate_ConditionalEdgeGatesLikeJourney(t *testing.T) {
	vg := &models.VisualGraph{
		Nodes: []models.VisualNode{workerNode("a"), workerNode("b")},
		Edges: []models.VisualEdge{
			journeyEdge("e1", "a", "b"),
			{ID: "e2", Source: "b", Target: "a", Type: models.EdgeTypeConditional, Predicate: "output.retry == true"},
		},
	}

	findings := Validate(vg)
	if len(findings) != 1 || findings[0].Code != CodeJourneyCycle {
		t.Errorf("Conditional loop should yield one %s finding, got %v", CodeJourneyCycle, findings)
	}
}

// TestValidate_InputSatisfaction covers the three ways a required input
// can be satisfied: direct upstream output, transitive upstream output,
// and a node-local default.
func TestValidate_InputSatisfaction(t *testing.T) {
	tests := []struct {
		name  string
		graph *models.VisualGraph
		valid bool
	}{
		{
			name: "satisfied_by_direct_upstream",
			graph: &models.VisualGraph{
				Nodes: []models.VisualNode{
					{ID: "a", Type: models.NodeTypeWorker, Data: models.NodeData{Outputs: []string{"email"}}},
					{ID: "b", Type: models.NodeTypeWorker, Data: models.NodeData{Inputs: []string{"email"}}},
				},
				Edges: []models.VisualEdge{journeyEdge("e1", "a", "b")},
			},
			valid: true,
		},
		{
			name: "satisfied_transitively",
			graph: &models.VisualGraph{
				Nodes: []models.VisualNode{
					{ID: "a", Type: models.NodeTypeWorker, Data: models.NodeData{Outputs: []string{"email"}}},
					workerNode("mid"),
					{ID: "b", Type: models.NodeTypeWorker, Data: models.NodeData{Inputs: []string{"email"}}},
				},
				Edges: []models.VisualEdge{
					journeyEdge("e1", "a", "mid"),
					journeyEdge("e2", "mid", "b"),
				},
			},
			valid: true,
		},
		{
			name: "satisfied_by_default",
			graph: &models.VisualGraph{
				Nodes: []models.VisualNode{
					{ID: "b", Type: models.NodeTypeWorker, Data: models.NodeData{
						Inputs:   []string{"plan"},
						Defaults: map[string]any{"plan": "starter"},
					}},
				},
			},
			valid: true,
		},
		{
			name: "unsatisfied",
			graph: &models.VisualGraph{
				Nodes: []models.VisualNode{
					{ID: "b", Type: models.NodeTypeWorker, Data: models.NodeData{Inputs: []string{"plan"}}},
				},
			},
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := Validate(tt.graph)
			if tt.valid && len(findings) != 0 {
				t.Errorf("Expected valid graph, got %v", findings)
			}
			if !tt.valid && len(findings) == 0 {
				t.Errorf("Expected a %s finding, got none", CodeMissingInput)
			}
		})
	}
}

// TestValidate_OrderIsDeterministic checks that findings come back
// rule-major, then in authored order.
func TestValidate_OrderIsDeterministic(t *testing.T) {
	vg := &models.VisualGraph{
		Nodes: []models.VisualNode{
			{ID: "x", Type: "Teleporter"},
			{ID: "split", Type: models.NodeTypeSplitter},
		},
		Edges: []models.VisualEdge{
			journeyEdge("e1", "ghost", "x"),
			journeyEdge("e2", "split", "x"),
		},
	}

	findings := Validate(vg)
	wantCodes := []string{CodeUnknownNodeType, CodeDanglingEdgeSource, CodeSplitterFanout}
	if len(findings) != len(wantCodes) {
		t.Fatalf("Expected %d findings, got %v", len(wantCodes), findings)
	}
	for i, code := range wantCodes {
		if findings[i].Code != code {
			t.Errorf("Finding %d: expected code %s, got %s", i, code, findings[i].Code)
		}
	}
}
