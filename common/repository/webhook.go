package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stitchhq/canvas-engine/common/db"
	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/models"
)

// WebhookRepository handles webhook endpoint configs and the audit log of
// received events.
type WebhookRepository struct {
	db *db.DB
}

// NewWebhookRepository creates a new webhook repository.
func NewWebhookRepository(database *db.DB) *WebhookRepository {
	return &WebhookRepository{db: database}
}

// CreateConfig registers an ingress endpoint. Slugs are globally unique;
// a collision is reported as a state conflict.
func (r *WebhookRepository) CreateConfig(ctx context.Context, cfg *models.WebhookConfig) error {
	if cfg.Source == "" {
		cfg.Source = models.SourceCustom
	}

	query := `
		INSERT INTO webhook_configs (canvas_id, name, source, endpoint_slug, secret, workflow_id, entry_edge_id, entity_mapping, is_active)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8::jsonb, $9)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query,
		cfg.CanvasID,
		cfg.Name,
		cfg.Source,
		cfg.EndpointSlug,
		cfg.Secret,
		cfg.WorkflowID,
		cfg.EntryEdgeID,
		cfg.EntityMapping,
		cfg.IsActive,
	).Scan(&cfg.ID, &cfg.CreatedAt)
	if pgErrCode(err) == pgCodeUniqueViolation {
		return errs.Newf(errs.KindStateConflict, "endpoint slug already in use: %s", cfg.EndpointSlug)
	}
	if pgErrCode(err) == pgCodeForeignKeyViolation {
		return errs.NotFound("flow", cfg.WorkflowID.String())
	}
	if err != nil {
		return fmt.Errorf("failed to create webhook config: %w", err)
	}

	return nil
}

// GetConfigBySlug resolves a public endpoint slug to its config. Inactive
// configs are returned; the caller decides how to respond to them.
func (r *WebhookRepository) GetConfigBySlug(ctx context.Context, slug string) (*models.WebhookConfig, error) {
	query := `
		SELECT id, canvas_id, name, source, endpoint_slug, COALESCE(secret, ''), workflow_id, entry_edge_id, entity_mapping, is_active, created_at
		FROM webhook_configs
		WHERE endpoint_slug = $1
	`

	cfg := &models.WebhookConfig{}
	err := r.db.QueryRow(ctx, query, slug).Scan(
		&cfg.ID,
		&cfg.CanvasID,
		&cfg.Name,
		&cfg.Source,
		&cfg.EndpointSlug,
		&cfg.Secret,
		&cfg.WorkflowID,
		&cfg.EntryEdgeID,
		&cfg.EntityMapping,
		&cfg.IsActive,
		&cfg.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("webhook endpoint", slug)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook config: %w", err)
	}

	return cfg, nil
}

// GetConfigByID retrieves a webhook config by its id.
func (r *WebhookRepository) GetConfigByID(ctx context.Context, id uuid.UUID) (*models.WebhookConfig, error) {
	query := `
		SELECT id, canvas_id, name, source, endpoint_slug, COALESCE(secret, ''), workflow_id, entry_edge_id, entity_mapping, is_active, created_at
		FROM webhook_configs
		WHERE id = $1
	`

	cfg := &models.WebhookConfig{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&cfg.ID,
		&cfg.CanvasID,
		&cfg.Name,
		&cfg.Source,
		&cfg.EndpointSlug,
		&cfg.Secret,
		&cfg.WorkflowID,
		&cfg.EntryEdgeID,
		&cfg.EntityMapping,
		&cfg.IsActive,
		&cfg.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("webhook config", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook config: %w", err)
	}

	return cfg, nil
}

// CreateEvent opens an audit record for a received webhook and fills the
// generated id and received_at.
func (r *WebhookRepository) CreateEvent(ctx context.Context, ev *models.WebhookEvent) error {
	if ev.Status == "" {
		ev.Status = models.WebhookPending
	}
	if len(ev.RawPayload) == 0 {
		ev.RawPayload = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO webhook_events (webhook_config_id, raw_payload, status, error)
		VALUES ($1, $2::jsonb, $3, NULLIF($4, ''))
		RETURNING id, received_at
	`

	err := r.db.QueryRow(ctx, query, ev.WebhookConfigID, ev.RawPayload, ev.Status, ev.Error).
		Scan(&ev.ID, &ev.ReceivedAt)
	if err != nil {
		return fmt.Errorf("failed to create webhook event: %w", err)
	}

	return nil
}

// UpdateEvent closes out an audit record with its processing outcome.
func (r *WebhookRepository) UpdateEvent(ctx context.Context, id uuid.UUID, status models.WebhookEventStatus, entityID, runID *uuid.UUID, errMsg string) error {
	query := `
		UPDATE webhook_events
		SET status = $2, entity_id = $3, run_id = $4, error = NULLIF($5, '')
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id, status, entityID, runID, errMsg)
	if err != nil {
		return fmt.Errorf("failed to update webhook event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("webhook event", id.String())
	}

	return nil
}

// ListEventsByConfig retrieves recent events for an endpoint, newest first.
func (r *WebhookRepository) ListEventsByConfig(ctx context.Context, configID uuid.UUID, limit int) ([]*models.WebhookEvent, error) {
	query := `
		SELECT id, webhook_config_id, received_at, raw_payload, status, entity_id, run_id, COALESCE(error, '')
		FROM webhook_events
		WHERE webhook_config_id = $1
		ORDER BY received_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, configID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook events: %w", err)
	}
	defer rows.Close()

	var events []*models.WebhookEvent
	for rows.Next() {
		ev := &models.WebhookEvent{}
		err := rows.Scan(
			&ev.ID,
			&ev.WebhookConfigID,
			&ev.ReceivedAt,
			&ev.RawPayload,
			&ev.Status,
			&ev.EntityID,
			&ev.RunID,
			&ev.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhook events: %w", err)
	}

	return events, nil
}
