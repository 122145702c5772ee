package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WebhookSource selects the adapter for an ingress endpoint.
type WebhookSource string

const (
	SourceStripe   WebhookSource = "stripe"
	SourceTypeform WebhookSource = "typeform"
	SourceCalendly WebhookSource = "calendly"
	SourceN8N      WebhookSource = "n8n"
	SourceCustom   WebhookSource = "custom"
)

// EntityMapping is the generic JSON-path extraction config. Each value is a
// gjson path evaluated against the raw payload; EntityType may also be a
// literal when it matches nothing in the payload.
type EntityMapping struct {
	Email      string            `json:"email,omitempty"`
	Name       string            `json:"name,omitempty"`
	EntityType string            `json:"entity_type,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// WebhookConfig binds a public endpoint slug to a workflow entry edge.
// Maps to: webhook_configs table
type WebhookConfig struct {
	ID       uuid.UUID `db:"id" json:"id"`
	CanvasID uuid.UUID `db:"canvas_id" json:"canvas_id"`
	Name     string    `db:"name" json:"name"`

	Source       WebhookSource `db:"source" json:"source"`
	EndpointSlug string        `db:"endpoint_slug" json:"endpoint_slug"`
	Secret       string        `db:"secret" json:"-"`

	WorkflowID    uuid.UUID     `db:"workflow_id" json:"workflow_id"`
	EntryEdgeID   string        `db:"entry_edge_id" json:"entry_edge_id"`
	EntityMapping EntityMapping `db:"entity_mapping" json:"entity_mapping"`

	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// WebhookEventStatus is the processing outcome recorded on the audit row.
type WebhookEventStatus string

const (
	WebhookPending          WebhookEventStatus = "pending"
	WebhookCompleted        WebhookEventStatus = "completed"
	WebhookFailed           WebhookEventStatus = "failed"
	WebhookSignatureInvalid WebhookEventStatus = "signature_invalid"
	WebhookConfigMissing    WebhookEventStatus = "config_missing"
)

// WebhookEvent is the append-only audit record of one received webhook.
// Maps to: webhook_events table
type WebhookEvent struct {
	ID              uuid.UUID          `db:"id" json:"id"`
	WebhookConfigID uuid.UUID          `db:"webhook_config_id" json:"webhook_config_id"`
	ReceivedAt      time.Time          `db:"received_at" json:"received_at"`
	RawPayload      json.RawMessage    `db:"raw_payload" json:"raw_payload,omitempty"`
	Status          WebhookEventStatus `db:"status" json:"status"`
	EntityID        *uuid.UUID         `db:"entity_id" json:"entity_id,omitempty"`
	RunID           *uuid.UUID         `db:"run_id" json:"run_id,omitempty"`
	Error           string             `db:"error" json:"error,omitempty"`
}
