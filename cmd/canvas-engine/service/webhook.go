package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/engine"
	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/webhooksrc"
	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/logger"
	"github.com/stitchhq/canvas-engine/common/models"
)

// WebhookService turns inbound webhooks into entities and runs. Every
// received event leaves an audit row whose status records how far the
// pipeline got.
type WebhookService struct {
	webhooks WebhookStore
	entities EntityStore
	journeys JourneyStore
	flows    FlowStore
	versions *VersionService
	engine   *engine.Engine
	registry *webhooksrc.Registry
	log      *logger.Logger
}

// WebhookServiceOpts carries the webhook service dependencies.
type WebhookServiceOpts struct {
	Webhooks WebhookStore
	Entities EntityStore
	Journeys JourneyStore
	Flows    FlowStore
	Versions *VersionService
	Engine   *engine.Engine
	Registry *webhooksrc.Registry
	Logger   *logger.Logger
}

// NewWebhookService creates a new webhook service.
func NewWebhookService(opts *WebhookServiceOpts) *WebhookService {
	registry := opts.Registry
	if registry == nil {
		registry = webhooksrc.NewRegistry(nil)
	}
	return &WebhookService{
		webhooks: opts.Webhooks,
		entities: opts.Entities,
		journeys: opts.Journeys,
		flows:    opts.Flows,
		versions: opts.Versions,
		engine:   opts.Engine,
		registry: registry,
		log:      opts.Logger.WithComponent("webhook_service"),
	}
}

// CreateConfig registers an ingress endpoint. When the bound workflow
// already has a current version, the entry edge is checked against it so a
// typo fails at registration instead of on the first event.
func (s *WebhookService) CreateConfig(ctx context.Context, cfg *models.WebhookConfig) error {
	if cfg.Name == "" {
		return errs.New(errs.KindValidation, "name is required")
	}
	if cfg.EndpointSlug == "" {
		return errs.New(errs.KindValidation, "endpoint_slug is required")
	}
	if cfg.EntryEdgeID == "" {
		return errs.New(errs.KindValidation, "entry_edge_id is required")
	}
	if cfg.CanvasID == uuid.Nil || cfg.WorkflowID == uuid.Nil {
		return errs.New(errs.KindValidation, "canvas_id and workflow_id are required")
	}

	workflow, err := s.flows.GetByID(ctx, cfg.WorkflowID)
	if err != nil {
		return err
	}
	if workflow.CurrentVersionID != nil {
		version, err := s.versions.GetVersion(ctx, *workflow.CurrentVersionID)
		if err != nil {
			return err
		}
		if _, _, ok := version.ExecutionGraph.EdgeByID(cfg.EntryEdgeID); !ok {
			return errs.Newf(errs.KindValidation, "entry edge %s not found in workflow's current version", cfg.EntryEdgeID)
		}
	}

	if err := s.webhooks.CreateConfig(ctx, cfg); err != nil {
		return err
	}

	s.log.Info("webhook config created",
		"config_id", cfg.ID,
		"slug", cfg.EndpointSlug,
		"source", cfg.Source,
		"workflow_id", cfg.WorkflowID,
	)
	return nil
}

const defaultEventListLimit = 50

// ListEvents reads an endpoint's recent delivery log, newest first. A
// non-positive limit gets the default page size.
func (s *WebhookService) ListEvents(ctx context.Context, configID uuid.UUID, limit int) ([]*models.WebhookEvent, error) {
	if _, err := s.webhooks.GetConfigByID(ctx, configID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultEventListLimit
	}
	return s.webhooks.ListEventsByConfig(ctx, configID, limit)
}

// IngressResult reports what a processed webhook produced.
type IngressResult struct {
	EventID  uuid.UUID
	EntityID *uuid.UUID
	RunID    *uuid.UUID
}

// HandleEvent processes one received webhook: verify, audit, extract the
// entity, and start the configured workflow at the entry edge's target.
// Unknown and inactive endpoints are indistinguishable to the caller.
func (s *WebhookService) HandleEvent(ctx context.Context, slug string, header http.Header, body []byte) (*IngressResult, error) {
	if !json.Valid(body) {
		return nil, errs.New(errs.KindValidation, "malformed JSON payload")
	}

	cfg, err := s.webhooks.GetConfigBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !cfg.IsActive {
		s.recordRejected(ctx, cfg.ID, body, models.WebhookConfigMissing, "endpoint disabled")
		return nil, errs.NotFound("webhook endpoint", slug)
	}

	adapter := s.registry.For(cfg.Source)

	if cfg.Secret != "" {
		if err := adapter.VerifySignature(header, body, cfg.Secret); err != nil {
			s.recordRejected(ctx, cfg.ID, body, models.WebhookSignatureInvalid, err.Error())
			s.log.Warn("webhook signature rejected", "slug", slug, "source", cfg.Source, "error", err)
			return nil, errs.Wrap(errs.KindAuth, "invalid signature", err)
		}
	}

	ev := &models.WebhookEvent{WebhookConfigID: cfg.ID, RawPayload: body}
	if err := s.webhooks.CreateEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("failed to record webhook event: %w", err)
	}
	result := &IngressResult{EventID: ev.ID}

	extracted := adapter.ExtractEntity(body)
	webhooksrc.ApplyMapping(body, cfg.EntityMapping, &extracted)

	// Events that never identify an entity still start a run; the run just
	// has nothing to move.
	if extracted.Email != "" {
		entity := &models.Entity{
			CanvasID:   cfg.CanvasID,
			Name:       extracted.Name,
			Email:      extracted.Email,
			EntityType: extracted.EntityType,
			Metadata:   extracted.Metadata,
		}
		if err := s.entities.Upsert(ctx, entity); err != nil {
			return result, s.fail(ctx, ev.ID, nil, "failed to upsert entity", err)
		}
		result.EntityID = &entity.ID

		arrival := models.JourneyEvent{
			EventType: models.JourneyArrivedVia,
			EdgeID:    cfg.EntryEdgeID,
			Timestamp: time.Now().UTC(),
			Metadata: map[string]any{
				"source":           string(cfg.Source),
				"webhook_event_id": ev.ID.String(),
			},
		}
		if err := s.journeys.Append(ctx, entity.ID, arrival); err != nil {
			return result, s.fail(ctx, ev.ID, result.EntityID, "failed to record arrival", err)
		}
	}

	workflow, err := s.flows.GetByID(ctx, cfg.WorkflowID)
	if err != nil {
		return result, s.fail(ctx, ev.ID, result.EntityID, "failed to load workflow", err)
	}
	if workflow.CurrentVersionID == nil {
		s.recordOutcome(ctx, ev.ID, models.WebhookConfigMissing, result.EntityID, nil, "workflow has no versions")
		return result, errs.New(errs.KindInternal, "workflow has no versions")
	}
	version, err := s.versions.GetVersion(ctx, *workflow.CurrentVersionID)
	if err != nil {
		return result, s.fail(ctx, ev.ID, result.EntityID, "failed to load workflow version", err)
	}

	key, _, ok := version.ExecutionGraph.EdgeByID(cfg.EntryEdgeID)
	if !ok {
		s.recordOutcome(ctx, ev.ID, models.WebhookConfigMissing, result.EntityID, nil, "entry edge not in current version")
		return result, errs.New(errs.KindInternal, "entry edge not in current version")
	}
	startNode := key[strings.Index(key, models.EdgeKeySeparator)+len(models.EdgeKeySeparator):]

	run, err := s.engine.StartRun(ctx, version, engine.StartOpts{
		EntityID: result.EntityID,
		Trigger: models.Trigger{
			Type:      models.TriggerWebhook,
			Source:    string(cfg.Source),
			EventID:   ev.ID.String(),
			Timestamp: ev.ReceivedAt,
		},
		StartNodeID: startNode,
	})
	if err != nil {
		return result, s.fail(ctx, ev.ID, result.EntityID, "failed to start run", err)
	}
	result.RunID = &run.ID

	s.recordOutcome(ctx, ev.ID, models.WebhookCompleted, result.EntityID, result.RunID, "")
	s.log.Info("webhook processed",
		"slug", slug,
		"source", cfg.Source,
		"event_id", ev.ID,
		"entity_id", result.EntityID,
		"run_id", run.ID,
	)
	return result, nil
}

// fail closes the audit row as failed and wraps the cause for the caller.
func (s *WebhookService) fail(ctx context.Context, eventID uuid.UUID, entityID *uuid.UUID, msg string, cause error) error {
	s.recordOutcome(ctx, eventID, models.WebhookFailed, entityID, nil, cause.Error())
	if errs.KindOf(cause) != errs.KindInternal {
		return cause
	}
	return errs.Wrap(errs.KindInternal, msg, cause)
}

// recordRejected audits an event that never reached the pending stage.
func (s *WebhookService) recordRejected(ctx context.Context, configID uuid.UUID, body []byte, status models.WebhookEventStatus, reason string) {
	ev := &models.WebhookEvent{WebhookConfigID: configID, RawPayload: body, Status: status, Error: reason}
	if err := s.webhooks.CreateEvent(ctx, ev); err != nil {
		s.log.Warn("failed to audit rejected webhook", "config_id", configID, "error", err)
	}
}

// recordOutcome updates the audit row, logging rather than failing the
// request when the write itself goes wrong.
func (s *WebhookService) recordOutcome(ctx context.Context, eventID uuid.UUID, status models.WebhookEventStatus, entityID, runID *uuid.UUID, errMsg string) {
	if err := s.webhooks.UpdateEvent(ctx, eventID, status, entityID, runID, errMsg); err != nil {
		s.log.Warn("failed to update webhook event", "event_id", eventID, "status", status, "error", err)
	}
}
