package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stitchhq/canvas-engine/common/db"
	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/models"
)

// FlowRepository handles database operations for flows (canvases and the
// workflows nested under them).
type FlowRepository struct {
	db *db.DB
}

// NewFlowRepository creates a new flow repository.
func NewFlowRepository(database *db.DB) *FlowRepository {
	return &FlowRepository{db: database}
}

// Create inserts a new flow and fills the generated id and created_at.
func (r *FlowRepository) Create(ctx context.Context, flow *models.Flow) error {
	query := `
		INSERT INTO flows (name, canvas_type, parent_id)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query, flow.Name, flow.CanvasType, flow.ParentID).
		Scan(&flow.ID, &flow.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create flow: %w", err)
	}

	return nil
}

// GetByID retrieves a flow. Soft-deleted flows are not returned.
func (r *FlowRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Flow, error) {
	query := `
		SELECT id, name, canvas_type, parent_id, current_version_id, created_at, deleted_at
		FROM flows
		WHERE id = $1 AND deleted_at IS NULL
	`

	flow := &models.Flow{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&flow.ID,
		&flow.Name,
		&flow.CanvasType,
		&flow.ParentID,
		&flow.CurrentVersionID,
		&flow.CreatedAt,
		&flow.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("flow", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flow: %w", err)
	}

	return flow, nil
}

