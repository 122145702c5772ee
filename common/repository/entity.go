package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stitchhq/canvas-engine/common/db"
	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/models"
)

// EntityRepository handles database operations for canvas entities.
type EntityRepository struct {
	db       *db.DB
	notifier ChangeNotifier
}

// NewEntityRepository creates a new entity repository.
func NewEntityRepository(database *db.DB, notifier ChangeNotifier) *EntityRepository {
	return &EntityRepository{db: database, notifier: notifier}
}

// Upsert inserts an entity, or merges into the existing row when the canvas
// already has one with the same email (case-insensitive). Merging fills
// blank identity fields without overwriting populated ones and unions
// metadata with the new keys winning. Entities without an email are never
// deduplicated. The model is refreshed from the stored row either way.
func (r *EntityRepository) Upsert(ctx context.Context, e *models.Entity) error {
	if e.EntityType == "" {
		e.EntityType = "lead"
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}

	query := `
		INSERT INTO stitch_entities (canvas_id, name, email, avatar, entity_type, metadata)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6::jsonb)
		ON CONFLICT (canvas_id, lower(email)) WHERE email IS NOT NULL AND email <> ''
		DO UPDATE SET
			name        = COALESCE(NULLIF(EXCLUDED.name, ''), stitch_entities.name),
			avatar      = COALESCE(NULLIF(EXCLUDED.avatar, ''), stitch_entities.avatar),
			entity_type = COALESCE(NULLIF(EXCLUDED.entity_type, ''), stitch_entities.entity_type),
			metadata    = stitch_entities.metadata || EXCLUDED.metadata,
			updated_at  = now()
		RETURNING id, canvas_id, name, COALESCE(email, ''), COALESCE(avatar, ''), entity_type,
		          current_node_id, current_edge_id, edge_progress, journey, metadata, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		e.CanvasID, e.Name, e.Email, e.Avatar, e.EntityType, e.Metadata,
	).Scan(
		&e.ID,
		&e.CanvasID,
		&e.Name,
		&e.Email,
		&e.Avatar,
		&e.EntityType,
		&e.CurrentNodeID,
		&e.CurrentEdgeID,
		&e.EdgeProgress,
		&e.Journey,
		&e.Metadata,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if pgErrCode(err) == pgCodeForeignKeyViolation {
		return errs.NotFound("canvas", e.CanvasID.String())
	}
	if err != nil {
		return fmt.Errorf("failed to upsert entity: %w", err)
	}

	r.notifier.EntityChanged(ctx, e.ID)
	return nil
}

// GetByID retrieves an entity by its ID.
func (r *EntityRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	query := `
		SELECT id, canvas_id, name, COALESCE(email, ''), COALESCE(avatar, ''), entity_type,
		       current_node_id, current_edge_id, edge_progress, journey, metadata, created_at, updated_at
		FROM stitch_entities
		WHERE id = $1
	`

	e := &models.Entity{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&e.ID,
		&e.CanvasID,
		&e.Name,
		&e.Email,
		&e.Avatar,
		&e.EntityType,
		&e.CurrentNodeID,
		&e.CurrentEdgeID,
		&e.EdgeProgress,
		&e.Journey,
		&e.Metadata,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("entity", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}

	return e, nil
}

// FindByEmail returns the most recently touched entity with the given email,
// or nil when none matches. Inbound replies carry only the sender's identity,
// so the lookup is global unless a canvas id narrows it.
func (r *EntityRepository) FindByEmail(ctx context.Context, email string, canvasID *uuid.UUID) (*models.Entity, error) {
	if email == "" {
		return nil, nil
	}

	query := `
		SELECT id, canvas_id, name, COALESCE(email, ''), COALESCE(avatar, ''), entity_type,
		       current_node_id, current_edge_id, edge_progress, journey, metadata, created_at, updated_at
		FROM stitch_entities
		WHERE lower(email) = lower($1)
		  AND ($2::uuid IS NULL OR canvas_id = $2)
		ORDER BY updated_at DESC
		LIMIT 1
	`

	e := &models.Entity{}
	err := r.db.QueryRow(ctx, query, email, canvasID).Scan(
		&e.ID,
		&e.CanvasID,
		&e.Name,
		&e.Email,
		&e.Avatar,
		&e.EntityType,
		&e.CurrentNodeID,
		&e.CurrentEdgeID,
		&e.EdgeProgress,
		&e.Journey,
		&e.Metadata,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find entity by email: %w", err)
	}

	return e, nil
}

// ApplyMovement repositions the entity onto a node and records the journey
// event in the same transaction. Any in-transit edge position is cleared;
// an entity is on a node or on an edge, never both.
func (r *EntityRepository) ApplyMovement(ctx context.Context, entityID uuid.UUID, nodeID string, event models.JourneyEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal journey event: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE stitch_entities
		SET current_node_id = $2,
		    current_edge_id = NULL,
		    edge_progress = NULL,
		    journey = journey || $3::jsonb,
		    updated_at = now()
		WHERE id = $1
	`

	tag, err := tx.Exec(ctx, query, entityID, nodeID, eventJSON)
	if err != nil {
		return fmt.Errorf("failed to apply movement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("entity", entityID.String())
	}

	insert := `
		INSERT INTO journey_events (entity_id, event_type, node_id, edge_id, ts, metadata)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6::jsonb)
	`

	_, err = tx.Exec(ctx, insert, entityID, event.EventType, event.NodeID, event.EdgeID, event.Timestamp, event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to record journey event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit movement: %w", err)
	}

	r.notifier.EntityChanged(ctx, entityID)
	return nil
}

// MergeMetadata applies an RFC 7386 merge patch to the entity's metadata
// under a row lock and returns the refreshed entity. Unlike Upsert's union,
// a merge patch can delete keys by setting them to null.
func (r *EntityRepository) MergeMetadata(ctx context.Context, entityID uuid.UUID, patch []byte) (*models.Entity, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var current []byte
	err = tx.QueryRow(ctx, `SELECT metadata FROM stitch_entities WHERE id = $1 FOR UPDATE`, entityID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("entity", entityID.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock entity: %w", err)
	}

	merged, err := jsonpatch.MergePatch(current, patch)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, "invalid metadata merge patch", err)
	}

	query := `
		UPDATE stitch_entities
		SET metadata = $2::jsonb, updated_at = now()
		WHERE id = $1
		RETURNING id, canvas_id, name, COALESCE(email, ''), COALESCE(avatar, ''), entity_type,
		          current_node_id, current_edge_id, edge_progress, journey, metadata, created_at, updated_at
	`

	e := &models.Entity{}
	err = tx.QueryRow(ctx, query, entityID, merged).Scan(
		&e.ID,
		&e.CanvasID,
		&e.Name,
		&e.Email,
		&e.Avatar,
		&e.EntityType,
		&e.CurrentNodeID,
		&e.CurrentEdgeID,
		&e.EdgeProgress,
		&e.Journey,
		&e.Metadata,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to merge metadata: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit metadata merge: %w", err)
	}

	r.notifier.EntityChanged(ctx, entityID)
	return e, nil
}

// ListByCanvas retrieves all entities on a canvas, most recently updated
// first.
func (r *EntityRepository) ListByCanvas(ctx context.Context, canvasID uuid.UUID) ([]*models.Entity, error) {
	query := `
		SELECT id, canvas_id, name, COALESCE(email, ''), COALESCE(avatar, ''), entity_type,
		       current_node_id, current_edge_id, edge_progress, journey, metadata, created_at, updated_at
		FROM stitch_entities
		WHERE canvas_id = $1
		ORDER BY updated_at DESC
	`

	rows, err := r.db.Query(ctx, query, canvasID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var entities []*models.Entity
	for rows.Next() {
		e := &models.Entity{}
		err := rows.Scan(
			&e.ID,
			&e.CanvasID,
			&e.Name,
			&e.Email,
			&e.Avatar,
			&e.EntityType,
			&e.CurrentNodeID,
			&e.CurrentEdgeID,
			&e.EdgeProgress,
			&e.Journey,
			&e.Metadata,
			&e.CreatedAt,
			&e.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}

	return entities, nil
}
