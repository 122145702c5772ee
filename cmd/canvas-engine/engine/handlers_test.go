package engine

import (
	"reflect"
	"testing"

	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/models"
)

func nodeState(status models.NodeStatus, output map[string]any) *models.NodeState {
	return &models.NodeState{Status: status, Output: output}
}

// TestCollectInput checks the staging order: upstream outputs in
// adjacency order, defaults for absent keys, declared input on top.
func TestCollectInput(t *testing.T) {
	eg := &models.ExecutionGraph{
		Nodes: map[string]models.ExecNode{
			"a": {ID: "a", Type: models.NodeTypeWorker},
			"b": {ID: "b", Type: models.NodeTypeWorker},
			"c": {ID: "c", Type: models.NodeTypeWorker},
		},
		Incoming: map[string][]string{"c": {"a", "b"}},
	}
	run := &models.Run{NodeStates: map[string]*models.NodeState{
		"a": nodeState(models.NodeCompleted, map[string]any{"x": 1, "shared": "a"}),
		"b": nodeState(models.NodeCompleted, map[string]any{"y": 2, "shared": "b"}),
	}}
	node := models.ExecNode{
		ID:   "c",
		Type: models.NodeTypeWorker,
		Data: models.NodeData{
			Defaults: map[string]any{"region": "eu", "x": 99},
			Worker:   &models.WorkerConfig{Input: map[string]any{"source": "crm"}},
		},
	}

	got := collectInput(eg, run, node)
	want := map[string]any{
		"x":      1,   // upstream beats the default
		"y":      2,
		"shared": "b", // later adjacency wins
		"region": "eu",
		"source": "crm",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("collectInput: got %v, want %v", got, want)
	}
}

// TestCollectInput_IgnoresUnfinishedUpstream checks that only completed
// predecessors contribute.
func TestCollectInput_IgnoresUnfinishedUpstream(t *testing.T) {
	eg := &models.ExecutionGraph{
		Incoming: map[string][]string{"c": {"a", "b"}},
	}
	run := &models.Run{NodeStates: map[string]*models.NodeState{
		"a": nodeState(models.NodeCompleted, map[string]any{"x": 1}),
		"b": nodeState(models.NodeRunning, map[string]any{"y": 2}),
	}}

	got := collectInput(eg, run, models.ExecNode{ID: "c", Type: models.NodeTypeWorker})
	if !reflect.DeepEqual(got, map[string]any{"x": 1}) {
		t.Errorf("collectInput: got %v, want only completed upstream", got)
	}
}

func TestExecSync(t *testing.T) {
	input := map[string]any{"name": "Ada", "plan": "pro"}

	t.Run("noop passes through", func(t *testing.T) {
		for _, kind := range []string{"", "noop"} {
			got, err := execSync(models.ExecNode{}, kind, input)
			if err != nil {
				t.Fatalf("execSync(%q) failed: %v", kind, err)
			}
			if !reflect.DeepEqual(got, input) {
				t.Errorf("execSync(%q): got %v, want input unchanged", kind, got)
			}
		}
	})

	t.Run("merge overlays config values", func(t *testing.T) {
		node := models.ExecNode{Data: models.NodeData{
			Config: map[string]any{"values": map[string]any{"plan": "enterprise", "seats": 10}},
		}}
		got, err := execSync(node, "merge", input)
		if err != nil {
			t.Fatalf("execSync(merge) failed: %v", err)
		}
		if got["plan"] != "enterprise" || got["seats"] != 10 || got["name"] != "Ada" {
			t.Errorf("execSync(merge): got %v", got)
		}
		if input["plan"] != "pro" {
			t.Error("execSync(merge) mutated its input")
		}
	})

	t.Run("template renders references", func(t *testing.T) {
		node := models.ExecNode{Data: models.NodeData{
			Config: map[string]any{"template": "Welcome {{name}}, you are on {{plan}}"},
		}}
		got, err := execSync(node, "template", input)
		if err != nil {
			t.Fatalf("execSync(template) failed: %v", err)
		}
		if got["text"] != "Welcome Ada, you are on pro" {
			t.Errorf("execSync(template): got text %q", got["text"])
		}
		if got["name"] != "Ada" {
			t.Error("execSync(template) dropped input keys")
		}
	})

	t.Run("unknown kind fails", func(t *testing.T) {
		_, err := execSync(models.ExecNode{}, "quantum", input)
		if !errs.Is(err, errs.KindWorkerFailure) {
			t.Errorf("execSync(quantum): expected worker_failure, got %v", err)
		}
	})
}

func TestRenderTemplate(t *testing.T) {
	input := map[string]any{
		"user":  map[string]any{"name": "Ada"},
		"count": 3,
	}

	cases := []struct {
		tmpl string
		want string
	}{
		{"no references here", "no references here"},
		{"hi {{user.name}}", "hi Ada"},
		{"{{count}} items", "3 items"},
		{"{{ user.name }} spaced", "Ada spaced"},
		{"unknown {{missing.path}} stays", "unknown {{missing.path}} stays"},
	}
	for _, c := range cases {
		if got := renderTemplate(c.tmpl, input); got != c.want {
			t.Errorf("renderTemplate(%q): got %q, want %q", c.tmpl, got, c.want)
		}
	}
}

func TestMergeOutput(t *testing.T) {
	stored := map[string]any{"a": 1, "b": 2}

	got := mergeOutput(stored, map[string]any{"b": 20, "c": 30})
	want := map[string]any{"a": 1, "b": 20, "c": 30}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("mergeOutput: got %v, want %v", got, want)
	}
	if stored["b"] != 2 {
		t.Error("mergeOutput mutated the stored map")
	}

	if got := mergeOutput(stored, nil); !reflect.DeepEqual(got, stored) {
		t.Errorf("mergeOutput with no new keys: got %v", got)
	}
	if got := mergeOutput(nil, nil); got == nil || len(got) != 0 {
		t.Errorf("mergeOutput(nil, nil): got %v, want empty map", got)
	}
}

func TestOutputSubsumed(t *testing.T) {
	stored := map[string]any{"a": 1.0, "nested": map[string]any{"k": "v"}}

	if !outputSubsumed(nil, stored) {
		t.Error("nil output must be subsumed")
	}
	if !outputSubsumed(map[string]any{"a": 1.0}, stored) {
		t.Error("subset must be subsumed")
	}
	if !outputSubsumed(map[string]any{"nested": map[string]any{"k": "v"}}, stored) {
		t.Error("deep-equal nested value must be subsumed")
	}
	if outputSubsumed(map[string]any{"a": 2.0}, stored) {
		t.Error("differing value must not be subsumed")
	}
	if outputSubsumed(map[string]any{"new": true}, stored) {
		t.Error("new key must not be subsumed")
	}
}

func TestDeriveStatus(t *testing.T) {
	eg := &models.ExecutionGraph{TerminalNodes: []string{"x", "y"}}

	cases := []struct {
		name   string
		states map[string]*models.NodeState
		want   models.RunStatus
	}{
		{
			name: "failure wins over wait",
			states: map[string]*models.NodeState{
				"x": nodeState(models.NodeFailed, nil),
				"y": nodeState(models.NodeWaitingForUser, nil),
			},
			want: models.RunFailed,
		},
		{
			name: "wait wins over progress",
			states: map[string]*models.NodeState{
				"x": nodeState(models.NodeWaitingForUser, nil),
				"y": nodeState(models.NodeRunning, nil),
			},
			want: models.RunWaiting,
		},
		{
			name: "completed when all terminals settled",
			states: map[string]*models.NodeState{
				"x": nodeState(models.NodeCompleted, nil),
				"y": nodeState(models.NodeSkipped, nil),
			},
			want: models.RunCompleted,
		},
		{
			name: "running while a terminal is open",
			states: map[string]*models.NodeState{
				"x": nodeState(models.NodeCompleted, nil),
				"y": nodeState(models.NodePending, nil),
			},
			want: models.RunRunning,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			run := &models.Run{NodeStates: c.states}
			if got := deriveStatus(eg, run); got != c.want {
				t.Errorf("deriveStatus: got %s, want %s", got, c.want)
			}
		})
	}

	// No terminal nodes compiled: the run never derives completed.
	run := &models.Run{NodeStates: map[string]*models.NodeState{"x": nodeState(models.NodeCompleted, nil)}}
	if got := deriveStatus(&models.ExecutionGraph{}, run); got != models.RunRunning {
		t.Errorf("deriveStatus without terminals: got %s, want running", got)
	}
}
