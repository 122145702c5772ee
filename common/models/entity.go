package models

import (
	"time"

	"github.com/google/uuid"
)

// JourneyEventType classifies entity journey events.
type JourneyEventType string

const (
	JourneyEnteredNode   JourneyEventType = "entered_node"
	JourneyLeftNode      JourneyEventType = "left_node"
	JourneyOnEdge        JourneyEventType = "on_edge"
	JourneyArrivedVia    JourneyEventType = "arrived_via"
	JourneyMovedByWorker JourneyEventType = "moved_by_worker"
)

// JourneyEvent is one append-only step in an entity's journey.
// Maps to: journey_events table (and the entity's journey jsonb column)
type JourneyEvent struct {
	EventType JourneyEventType `db:"event_type" json:"event_type"`
	NodeID    string           `db:"node_id" json:"node_id,omitempty"`
	EdgeID    string           `db:"edge_id" json:"edge_id,omitempty"`
	Timestamp time.Time        `db:"ts" json:"timestamp"`
	Metadata  map[string]any   `db:"metadata" json:"metadata,omitempty"`
}

// Entity is a tracked identity positioned on a canvas. At most one of
// CurrentNodeID / CurrentEdgeID is set; EdgeProgress only accompanies an
// edge position.
// Maps to: stitch_entities table
type Entity struct {
	ID       uuid.UUID `db:"id" json:"id"`
	CanvasID uuid.UUID `db:"canvas_id" json:"canvas_id"`

	Name       string `db:"name" json:"name"`
	Email      string `db:"email" json:"email,omitempty"`
	Avatar     string `db:"avatar" json:"avatar,omitempty"`
	EntityType string `db:"entity_type" json:"entity_type"`

	CurrentNodeID *string  `db:"current_node_id" json:"current_node_id,omitempty"`
	CurrentEdgeID *string  `db:"current_edge_id" json:"current_edge_id,omitempty"`
	EdgeProgress  *float64 `db:"edge_progress" json:"edge_progress,omitempty"`

	Journey  []JourneyEvent `db:"journey" json:"journey"`
	Metadata map[string]any `db:"metadata" json:"metadata,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
