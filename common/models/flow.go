package models

import (
	"time"

	"github.com/google/uuid"
)

// CanvasType distinguishes top-level business model canvases from nested
// executable workflows.
type CanvasType string

const (
	CanvasTypeBMC      CanvasType = "bmc"
	CanvasTypeWorkflow CanvasType = "workflow"
)

// Flow represents a user-authored canvas.
// Maps to: flows table
type Flow struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	Name       string     `db:"name" json:"name"`
	CanvasType CanvasType `db:"canvas_type" json:"canvas_type"`

	// Self-referential: a workflow may be nested under a BMC canvas.
	ParentID *uuid.UUID `db:"parent_id" json:"parent_id,omitempty"`

	// Latest version created for this flow; absent until the first version.
	CurrentVersionID *uuid.UUID `db:"current_version_id" json:"current_version_id,omitempty"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}
