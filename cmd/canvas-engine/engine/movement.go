package engine

import (
	"context"
	"time"

	"github.com/stitchhq/canvas-engine/common/models"
)

// applyMovement executes a worker node's movement rule for the given
// outcome: reposition the bound entity, or record a journey event only
// when the rule opts out of repositioning. Movement errors are logged and
// never fail the node; the workflow outcome stands.
func (e *Engine) applyMovement(ctx context.Context, run *models.Run, node models.ExecNode, success bool) {
	if node.Type != models.NodeTypeWorker || run.EntityID == nil {
		return
	}
	em := node.Data.EntityMovement
	if em == nil {
		return
	}
	rule := em.OnSuccess
	if !success {
		rule = em.OnFailure
	}
	if rule == nil || rule.TargetSectionID == "" {
		return
	}

	eventType := models.JourneyEventType(rule.RecordJourneyAs)
	if eventType == "" {
		eventType = models.JourneyMovedByWorker
	}
	event := models.JourneyEvent{
		EventType: eventType,
		NodeID:    rule.TargetSectionID,
		Timestamp: time.Now().UTC(),
		Metadata: map[string]any{
			"run_id":  run.ID.String(),
			"node_id": node.ID,
		},
	}

	log := e.log.WithRunID(run.ID.String()).WithEntityID(run.EntityID.String())

	var err error
	if rule.Moves() {
		err = e.entities.ApplyMovement(ctx, *run.EntityID, rule.TargetSectionID, event)
	} else {
		err = e.journeys.Append(ctx, *run.EntityID, event)
	}
	if err != nil {
		log.Error("entity movement failed",
			"node_id", node.ID,
			"target", rule.TargetSectionID,
			"error", err)
		return
	}
	log.Info("entity movement applied",
		"target", rule.TargetSectionID,
		"repositioned", rule.Moves())
}
