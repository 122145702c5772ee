package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stitchhq/canvas-engine/common/db"
	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/models"
)

// JourneyRepository handles the append-only journey event log. Events are
// written twice on purpose: to the journey_events table for querying and
// onto the owning entity's journey column so a single entity read renders
// the full path.
type JourneyRepository struct {
	db       *db.DB
	notifier ChangeNotifier
}

// NewJourneyRepository creates a new journey repository.
func NewJourneyRepository(database *db.DB, notifier ChangeNotifier) *JourneyRepository {
	return &JourneyRepository{db: database, notifier: notifier}
}

// Append records a journey event without touching the entity's position.
func (r *JourneyRepository) Append(ctx context.Context, entityID uuid.UUID, event models.JourneyEvent) error {
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

	update := `
		UPDATE stitch_entities
		SET journey = journey || $2::jsonb,
		    updated_at = now()
		WHERE id = $1
	`

	tag, err := tx.Exec(ctx, update, entityID, eventJSON)
	if err != nil {
		return fmt.Errorf("failed to extend entity journey: %w", err)
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
		return fmt.Errorf("failed to commit journey event: %w", err)
	}

	r.notifier.EntityChanged(ctx, entityID)
	return nil
}

// ListByEntity retrieves an entity's journey events oldest first.
func (r *JourneyRepository) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]models.JourneyEvent, error) {
	query := `
		SELECT event_type, COALESCE(node_id, ''), COALESCE(edge_id, ''), ts, metadata
		FROM journey_events
		WHERE entity_id = $1
		ORDER BY ts
	`

	rows, err := r.db.Query(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list journey events: %w", err)
	}
	defer rows.Close()

	var events []models.JourneyEvent
	for rows.Next() {
		var ev models.JourneyEvent
		if err := rows.Scan(&ev.EventType, &ev.NodeID, &ev.EdgeID, &ev.Timestamp, &ev.Metadata); err != nil {
			return nil, fmt.Errorf("failed to scan journey event: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journey events: %w", err)
	}

	return events, nil
}
