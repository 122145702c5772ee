package models

import (
	"time"

	"github.com/google/uuid"
)

// NodeType identifies a node's execution semantics. Structural types carry
// the canvas taxonomy only and are never fired.
type NodeType string

const (
	NodeTypeWorker         NodeType = "Worker"
	NodeTypeSplitter       NodeType = "Splitter"
	NodeTypeCollector      NodeType = "Collector"
	NodeTypeUX             NodeType = "UX"
	NodeTypeSection        NodeType = "Section"
	NodeTypeItem           NodeType = "Item"
	NodeTypeCostsSection   NodeType = "CostsSection"
	NodeTypeRevenueSection NodeType = "RevenueSection"
)

// KnownNodeTypes is the registered set accepted by the validator.
var KnownNodeTypes = map[NodeType]bool{
	NodeTypeWorker:         true,
	NodeTypeSplitter:       true,
	NodeTypeCollector:      true,
	NodeTypeUX:             true,
	NodeTypeSection:        true,
	NodeTypeItem:           true,
	NodeTypeCostsSection:   true,
	NodeTypeRevenueSection: true,
}

// Structural reports whether the type is canvas-structural (never fired).
func (t NodeType) Structural() bool {
	switch t {
	case NodeTypeSection, NodeTypeItem, NodeTypeCostsSection, NodeTypeRevenueSection:
		return true
	}
	return false
}

// EdgeType identifies how an edge participates in execution.
type EdgeType string

const (
	// EdgeTypeJourney gates execution order and entity movement.
	EdgeTypeJourney EdgeType = "journey"
	// EdgeTypeSystem is a side-channel: fired on completion, never gating.
	EdgeTypeSystem EdgeType = "system"
	// EdgeTypeConditional is a journey edge with a predicate.
	EdgeTypeConditional EdgeType = "conditional"
)

// Journey reports whether the edge gates execution (journey or conditional).
func (t EdgeType) Journey() bool {
	return t == EdgeTypeJourney || t == EdgeTypeConditional || t == ""
}

// WorkerMode selects synchronous inline execution or async dispatch.
type WorkerMode string

const (
	WorkerModeSync  WorkerMode = "sync"
	WorkerModeAsync WorkerMode = "async"
)

// WorkerConfig declares how a Worker node executes.
type WorkerConfig struct {
	Mode WorkerMode `json:"mode,omitempty"`

	// Kind selects a built-in executor for sync workers (noop, template, merge).
	Kind string `json:"kind,omitempty"`

	// URL receives the dispatch POST for async workers.
	URL string `json:"url,omitempty"`

	// Input is the declared pass-through input, stored into the node's
	// output slot at dispatch and merged under the callback output.
	Input map[string]any `json:"input,omitempty"`

	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// UXConfig declares how a UX node interprets external replies.
type UXConfig struct {
	Message string `json:"message,omitempty"`

	// Intents maps an intent name to the keywords that select it.
	Intents map[string][]string `json:"intents,omitempty"`

	DefaultIntent string `json:"defaultIntent,omitempty"`
}

// MovementRule declares where an entity goes after a worker outcome.
// MarkCurrentNode defaults to true when omitted; an explicit false records
// the journey event without repositioning the entity.
type MovementRule struct {
	TargetSectionID string `json:"targetSectionId"`
	MarkCurrentNode *bool  `json:"markCurrentNode,omitempty"`
	RecordJourneyAs string `json:"recordJourneyAs,omitempty"`
}

// Moves reports whether the rule repositions the entity.
func (m *MovementRule) Moves() bool {
	return m.MarkCurrentNode == nil || *m.MarkCurrentNode
}

// EntityMovement declares per-outcome movement for a Worker node.
type EntityMovement struct {
	OnSuccess *MovementRule `json:"onSuccess,omitempty"`
	OnFailure *MovementRule `json:"onFailure,omitempty"`
}

// NodeData is the authored payload carried by a node.
type NodeData struct {
	Label string `json:"label,omitempty"`

	Worker         *WorkerConfig   `json:"worker,omitempty"`
	UX             *UXConfig       `json:"ux,omitempty"`
	EntityMovement *EntityMovement `json:"entityMovement,omitempty"`

	// Inputs lists required input keys; Outputs lists produced keys;
	// Defaults supplies fallback values for unsatisfied inputs.
	Inputs   []string       `json:"inputs,omitempty"`
	Outputs  []string       `json:"outputs,omitempty"`
	Defaults map[string]any `json:"defaults,omitempty"`

	// Config carries free-form adapter/worker settings.
	Config map[string]any `json:"config,omitempty"`
}

// Position is a canvas coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// VisualNode is a node in authored form.
type VisualNode struct {
	ID       string         `json:"id"`
	Type     NodeType       `json:"type"`
	Position Position       `json:"position"`
	Style    map[string]any `json:"style,omitempty"`
	Data     NodeData       `json:"data"`
}

// VisualEdge is an edge in authored form. Type defaults to journey.
type VisualEdge struct {
	ID        string   `json:"id"`
	Source    string   `json:"source"`
	Target    string   `json:"target"`
	Type      EdgeType `json:"type,omitempty"`
	Predicate string   `json:"predicate,omitempty"`
	Label     string   `json:"label,omitempty"`
}

// VisualGraph is the authored form of a canvas.
type VisualGraph struct {
	Nodes []VisualNode `json:"nodes"`
	Edges []VisualEdge `json:"edges"`
}

// ExecNode is a node in compiled form.
type ExecNode struct {
	ID   string   `json:"id"`
	Type NodeType `json:"type"`
	Data NodeData `json:"data"`
}

// EdgeData carries the execution-relevant attributes of one edge.
type EdgeData struct {
	ID        string   `json:"id,omitempty"`
	Type      EdgeType `json:"type"`
	Predicate string   `json:"predicate,omitempty"`
	Label     string   `json:"label,omitempty"`
}

// EdgeKeySeparator joins source and target node ids into an edge key.
const EdgeKeySeparator = "→"

// EdgeKey builds the canonical edgeData key for a source/target pair.
func EdgeKey(source, target string) string {
	return source + EdgeKeySeparator + target
}

// ExecutionGraph is the compiled, immutable runtime form of a canvas.
// Adjacency order is the authored edge order and is the deterministic
// tie-break for fan-in and merge operations.
type ExecutionGraph struct {
	Nodes     map[string]ExecNode `json:"nodes"`
	Adjacency map[string][]string `json:"adjacency"`
	EdgeData  map[string]EdgeData `json:"edgeData"`

	EntryNodes    []string `json:"entryNodes"`
	TerminalNodes []string `json:"terminalNodes"`

	// Incoming maps node id to its journey-edge predecessors, adjacency order.
	Incoming map[string][]string `json:"incoming"`
}

// Edge returns the edge attributes for a source→target pair.
func (g *ExecutionGraph) Edge(source, target string) (EdgeData, bool) {
	ed, ok := g.EdgeData[EdgeKey(source, target)]
	return ed, ok
}

// JourneyIncoming returns the journey-edge predecessors of a node.
func (g *ExecutionGraph) JourneyIncoming(nodeID string) []string {
	return g.Incoming[nodeID]
}

// EdgeByID resolves an authored edge id to its key and attributes.
func (g *ExecutionGraph) EdgeByID(edgeID string) (string, EdgeData, bool) {
	for key, ed := range g.EdgeData {
		if ed.ID == edgeID {
			return key, ed, true
		}
	}
	return "", EdgeData{}, false
}

// FlowVersion is an immutable compiled snapshot of a flow.
// Maps to: flow_versions table
type FlowVersion struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	FlowID         uuid.UUID      `db:"flow_id" json:"flow_id"`
	VisualGraph    VisualGraph    `db:"visual_graph" json:"visual_graph"`
	ExecutionGraph ExecutionGraph `db:"execution_graph" json:"execution_graph"`
	CommitMessage  *string        `db:"commit_message" json:"commit_message,omitempty"`
	ContentHash    string         `db:"content_hash" json:"content_hash"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

// VersionMeta is the list form of a version: metadata without graph blobs.
type VersionMeta struct {
	ID            uuid.UUID `db:"id" json:"id"`
	FlowID        uuid.UUID `db:"flow_id" json:"flow_id"`
	CommitMessage *string   `db:"commit_message" json:"commit_message,omitempty"`
	ContentHash   string    `db:"content_hash" json:"content_hash"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
