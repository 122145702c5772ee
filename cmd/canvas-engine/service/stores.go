// Package service holds the application services behind the HTTP handlers:
// canvas and version management, manual run control, webhook ingress, and
// email reply resolution. Services orchestrate the repositories and the
// execution engine; they own no state of their own.
package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/stitchhq/canvas-engine/common/models"
)

// Store interfaces consumed by the services. common/repository satisfies
// them; tests substitute in-memory fakes.

// FlowStore persists canvases.
type FlowStore interface {
	Create(ctx context.Context, flow *models.Flow) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Flow, error)
}

// VersionStore persists immutable flow versions.
type VersionStore interface {
	Create(ctx context.Context, v *models.FlowVersion) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.FlowVersion, error)
	ListMeta(ctx context.Context, flowID uuid.UUID) ([]models.VersionMeta, error)
	FindByContentHash(ctx context.Context, flowID uuid.UUID, hash string) (*models.FlowVersion, error)
}

// RunStore reads runs for the admin surface and reply resolution.
type RunStore interface {
	GetByID(ctx context.Context, runID uuid.UUID) (*models.Run, error)
	ListByFlow(ctx context.Context, flowID uuid.UUID, limit int) ([]*models.Run, error)
	FindWaitingForEntity(ctx context.Context, entityID uuid.UUID) (*models.Run, error)
}

// EntityStore persists canvas entities.
type EntityStore interface {
	Upsert(ctx context.Context, e *models.Entity) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Entity, error)
	FindByEmail(ctx context.Context, email string, canvasID *uuid.UUID) (*models.Entity, error)
	ListByCanvas(ctx context.Context, canvasID uuid.UUID) ([]*models.Entity, error)
	MergeMetadata(ctx context.Context, entityID uuid.UUID, patch []byte) (*models.Entity, error)
}

// JourneyStore appends and reads journey events that do not reposition the
// entity.
type JourneyStore interface {
	Append(ctx context.Context, entityID uuid.UUID, event models.JourneyEvent) error
	ListByEntity(ctx context.Context, entityID uuid.UUID) ([]models.JourneyEvent, error)
}

// WebhookStore persists ingress configs and the received-event audit log.
type WebhookStore interface {
	CreateConfig(ctx context.Context, cfg *models.WebhookConfig) error
	GetConfigBySlug(ctx context.Context, slug string) (*models.WebhookConfig, error)
	GetConfigByID(ctx context.Context, id uuid.UUID) (*models.WebhookConfig, error)
	CreateEvent(ctx context.Context, ev *models.WebhookEvent) error
	UpdateEvent(ctx context.Context, id uuid.UUID, status models.WebhookEventStatus, entityID, runID *uuid.UUID, errMsg string) error
	ListEventsByConfig(ctx context.Context, configID uuid.UUID, limit int) ([]*models.WebhookEvent, error)
}
