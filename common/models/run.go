package models

import (
	"time"

	"github.com/google/uuid"
)

// NodeStatus is the per-node execution status within a run.
type NodeStatus string

const (
	NodePending        NodeStatus = "pending"
	NodeRunning        NodeStatus = "running"
	NodeCompleted      NodeStatus = "completed"
	NodeFailed         NodeStatus = "failed"
	NodeWaitingForUser NodeStatus = "waiting_for_user"
	NodeSkipped        NodeStatus = "skipped"
)

// Terminal reports whether the status ends a node's participation in the
// walk (absent an explicit retry).
func (s NodeStatus) Terminal() bool {
	return s == NodeCompleted || s == NodeFailed || s == NodeSkipped
}

// permittedTransitions is the full node state machine. The atomic writers
// refuse anything outside this set.
var permittedTransitions = map[NodeStatus][]NodeStatus{
	NodePending:        {NodeRunning, NodeSkipped},
	NodeRunning:        {NodeCompleted, NodeFailed, NodeWaitingForUser},
	NodeWaitingForUser: {NodeRunning},
	NodeFailed:         {NodePending},
}

// CanTransition reports whether from→to is a permitted node transition.
func CanTransition(from, to NodeStatus) bool {
	for _, next := range permittedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RunStatus is the derived run-level status stored for viewers. It is never
// consulted for control flow; node states are authoritative.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunWaiting   RunStatus = "waiting"
)

// TriggerType identifies what started a run.
type TriggerType string

const (
	TriggerWebhook   TriggerType = "webhook"
	TriggerManual    TriggerType = "manual"
	TriggerScheduled TriggerType = "scheduled"
	TriggerDemo      TriggerType = "demo"
)

// Trigger records the provenance of a run.
type Trigger struct {
	Type      TriggerType `json:"type"`
	Source    string      `json:"source,omitempty"`
	EventID   string      `json:"event_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`

	// Input seeds node inputs for the whole run. Upstream outputs and
	// declared defaults layer over it.
	Input map[string]any `json:"input,omitempty"`
}

// NodeState is the execution state of one node within a run.
type NodeState struct {
	Status     NodeStatus     `json:"status"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// NodePatch is one element of a bulk node-state write.
type NodePatch struct {
	NodeID string
	From   NodeStatus
	State  NodeState
}

// Run is a single execution instance pinned to a version.
// Maps to: runs table
type Run struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	FlowID        uuid.UUID  `db:"flow_id" json:"flow_id"`
	FlowVersionID uuid.UUID  `db:"flow_version_id" json:"flow_version_id"`
	EntityID      *uuid.UUID `db:"entity_id" json:"entity_id,omitempty"`

	Trigger    Trigger               `db:"trigger" json:"trigger"`
	NodeStates map[string]*NodeState `db:"node_states" json:"node_states"`
	Status     RunStatus             `db:"status" json:"status"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// State returns the recorded state for a node, defaulting to pending for
// nodes the run has no entry for yet.
func (r *Run) State(nodeID string) NodeState {
	if s, ok := r.NodeStates[nodeID]; ok && s != nil {
		return *s
	}
	return NodeState{Status: NodePending}
}
