// Package container wires the repositories, engine and services once at
// boot. Handlers pull their dependencies from the container instead of
// constructing them.
package container

import (
	"context"

	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/engine"
	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/security"
	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/service"
	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/webhooksrc"
	"github.com/stitchhq/canvas-engine/common/bootstrap"
	"github.com/stitchhq/canvas-engine/common/ratelimit"
	"github.com/stitchhq/canvas-engine/common/repository"
)

// Container holds all initialized repositories and services (singleton
// pattern).
type Container struct {
	Components *bootstrap.Components

	// Notifier publishes advisory change events; Limiter guards the
	// webhook group. Both degrade to in-process behavior without Redis.
	Notifier repository.ChangeNotifier
	Limiter  ratelimit.Limiter

	// Repositories
	FlowRepo    *repository.FlowRepository
	VersionRepo *repository.VersionRepository
	RunRepo     *repository.RunRepository
	EntityRepo  *repository.EntityRepository
	JourneyRepo *repository.JourneyRepository
	WebhookRepo *repository.WebhookRepository

	// Execution
	Registry   *webhooksrc.Registry
	Dispatcher *engine.Dispatcher
	Engine     *engine.Engine

	// Services
	FlowService    *service.FlowService
	VersionService *service.VersionService
	RunService     *service.RunService
	EntityService  *service.EntityService
	WebhookService *service.WebhookService
	ReplyService   *service.ReplyService
}

// NewContainer initializes everything once, bottom-up. The context bounds
// the engine's detached node goroutines; cancel it to stop the walker
// picking up new work.
func NewContainer(ctx context.Context, components *bootstrap.Components) *Container {
	cfg := components.Config
	log := components.Logger

	// Change broadcasts and rate limiting ride on Redis when configured.
	var notifier repository.ChangeNotifier = repository.NopNotifier{}
	var limiter ratelimit.Limiter
	if components.Redis != nil {
		notifier = repository.NewRedisNotifier(components.Redis, log)
		limiter = ratelimit.NewRedisLimiter(components.Redis.GetUnderlying(), ratelimit.Opts{
			PerMinute: cfg.Webhook.RateLimitPerMin,
			Burst:     cfg.Webhook.RateBurst,
		}, log)
	} else {
		limiter = ratelimit.NewLocalLimiter(ratelimit.Opts{
			PerMinute: cfg.Webhook.RateLimitPerMin,
			Burst:     cfg.Webhook.RateBurst,
		}, log)
	}

	// Repositories
	flowRepo := repository.NewFlowRepository(components.DB)
	versionRepo := repository.NewVersionRepository(components.DB)
	runRepo := repository.NewRunRepository(components.DB, notifier)
	entityRepo := repository.NewEntityRepository(components.DB, notifier)
	journeyRepo := repository.NewJourneyRepository(components.DB, notifier)
	webhookRepo := repository.NewWebhookRepository(components.DB)

	// Worker dispatch
	policy := security.NewEgressPolicy()
	policy.AllowPrivate = cfg.Engine.DispatchAllowPrivate
	dispatcher := engine.NewDispatcher(&engine.DispatcherOpts{
		PublicBaseURL:  cfg.Engine.PublicBaseURL,
		CallbackSecret: cfg.Engine.CallbackSecret,
		Timeout:        cfg.Engine.DispatchTimeout,
		Retries:        cfg.Engine.DispatchRetries,
		Policy:         policy,
		Logger:         log,
	})

	// Services (bottom-up: the engine reads versions through the version
	// service so pinned-version lookups hit its cache)
	versionService := service.NewVersionService(flowRepo, versionRepo, log)

	eng := engine.New(&engine.Opts{
		Runs:        runRepo,
		Entities:    entityRepo,
		Journeys:    journeyRepo,
		Versions:    versionService,
		Dispatcher:  dispatcher,
		Logger:      log,
		BaseContext: ctx,
		MaxParallel: cfg.Engine.MaxParallel,
	})

	registry := webhooksrc.NewRegistry(&webhooksrc.RegistryOpts{
		SignatureTolerance: cfg.Webhook.StripeTolerance,
	})

	flowService := service.NewFlowService(flowRepo, log)
	runService := service.NewRunService(flowRepo, runRepo, entityRepo, versionService, eng, log)
	entityService := service.NewEntityService(flowRepo, entityRepo, journeyRepo, log)
	webhookService := service.NewWebhookService(&service.WebhookServiceOpts{
		Webhooks: webhookRepo,
		Entities: entityRepo,
		Journeys: journeyRepo,
		Flows:    flowRepo,
		Versions: versionService,
		Engine:   eng,
		Registry: registry,
		Logger:   log,
	})
	replyService := service.NewReplyService(entityRepo, runRepo, versionService, eng, log)

	return &Container{
		Components: components,

		Notifier: notifier,
		Limiter:  limiter,

		FlowRepo:    flowRepo,
		VersionRepo: versionRepo,
		RunRepo:     runRepo,
		EntityRepo:  entityRepo,
		JourneyRepo: journeyRepo,
		WebhookRepo: webhookRepo,

		Registry:   registry,
		Dispatcher: dispatcher,
		Engine:     eng,

		FlowService:    flowService,
		VersionService: versionService,
		RunService:     runService,
		EntityService:  entityService,
		WebhookService: webhookService,
		ReplyService:   replyService,
	}
}
