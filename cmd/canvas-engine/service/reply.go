package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/engine"
	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/logger"
	"github.com/stitchhq/canvas-engine/common/models"
)

// ReplyService resolves waiting UX nodes from inbound email replies. The
// sender's address locates the entity, the entity locates its waiting run,
// and the reply body is read against the UX node's intent keywords.
type ReplyService struct {
	entities EntityStore
	runs     RunStore
	versions *VersionService
	engine   *engine.Engine
	log      *logger.Logger
}

// NewReplyService creates a new reply service.
func NewReplyService(entities EntityStore, runs RunStore, versions *VersionService, eng *engine.Engine, log *logger.Logger) *ReplyService {
	return &ReplyService{
		entities: entities,
		runs:     runs,
		versions: versions,
		engine:   eng,
		log:      log.WithComponent("reply_service"),
	}
}

// EmailReply is one inbound reply.
type EmailReply struct {
	Email    string
	CanvasID *uuid.UUID
	Body     string
}

// ReplyResult reports which wait a reply resolved and how it was read.
type ReplyResult struct {
	RunID  uuid.UUID
	NodeID string
	Intent string
}

// HandleEmail routes a reply to the sender's most recent waiting run and
// completes the waiting node with the interpreted intent.
func (s *ReplyService) HandleEmail(ctx context.Context, reply *EmailReply) (*ReplyResult, error) {
	if reply.Email == "" {
		return nil, errs.New(errs.KindValidation, "email is required")
	}

	entity, err := s.entities.FindByEmail(ctx, reply.Email, reply.CanvasID)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, errs.NotFound("entity", reply.Email)
	}

	run, err := s.runs.FindWaitingForEntity(ctx, entity.ID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, errs.New(errs.KindNotFound, "no run awaiting a reply for this entity")
	}

	nodeID, ok := waitingNode(run)
	if !ok {
		return nil, errs.New(errs.KindNotFound, "no run awaiting a reply for this entity")
	}

	version, err := s.versions.GetVersion(ctx, run.FlowVersionID)
	if err != nil {
		return nil, err
	}
	node := version.ExecutionGraph.Nodes[nodeID]
	intent := resolveIntent(node.Data.UX, reply.Body)

	resolution := map[string]any{
		"intent":     intent,
		"reply":      reply.Body,
		"replied_at": time.Now().UTC().Format(time.RFC3339),
	}
	if _, err := s.engine.ResolveWait(ctx, run.ID, nodeID, resolution); err != nil {
		return nil, err
	}

	s.log.Info("reply resolved wait",
		"entity_id", entity.ID,
		"run_id", run.ID,
		"node_id", nodeID,
		"intent", intent,
	)
	return &ReplyResult{RunID: run.ID, NodeID: nodeID, Intent: intent}, nil
}

// waitingNode picks the run's waiting node: the one parked longest, node id
// as tie-break so concurrent readers agree.
func waitingNode(run *models.Run) (string, bool) {
	var picked string
	var pickedAt *time.Time
	for id, st := range run.NodeStates {
		if st == nil || st.Status != models.NodeWaitingForUser {
			continue
		}
		switch {
		case picked == "":
			picked, pickedAt = id, st.StartedAt
		case earlier(st.StartedAt, pickedAt):
			picked, pickedAt = id, st.StartedAt
		case sameTime(st.StartedAt, pickedAt) && id < picked:
			picked = id
		}
	}
	return picked, picked != ""
}

// earlier orders wait timestamps, treating an absent one as oldest.
func earlier(a, b *time.Time) bool {
	switch {
	case a == nil && b == nil:
		return false
	case a == nil:
		return true
	case b == nil:
		return false
	}
	return a.Before(*b)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// resolveIntent reads the reply body against the node's intent keywords.
// The first matching intent in name order wins; no match falls back to the
// declared default, then to "yes".
func resolveIntent(cfg *models.UXConfig, body string) string {
	lower := strings.ToLower(body)
	if cfg != nil {
		names := make([]string, 0, len(cfg.Intents))
		for name := range cfg.Intents {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			for _, keyword := range cfg.Intents[name] {
				if keyword != "" && strings.Contains(lower, strings.ToLower(keyword)) {
					return name
				}
			}
		}
		if cfg.DefaultIntent != "" {
			return cfg.DefaultIntent
		}
	}
	return "yes"
}
