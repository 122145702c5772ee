package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/stitchhq/canvas-engine/common/logger"
	"github.com/stitchhq/canvas-engine/common/redis"
)

// Pub/sub channels for advisory row-change broadcasts. External viewers
// subscribe; the engine itself never consumes them.
const (
	RunsChannel     = "canvas.changes.runs"
	EntitiesChannel = "canvas.changes.entities"
)

// ChangeNotifier publishes advisory row-change events after committed
// writes. Delivery is best-effort; no reader may rely on it for
// correctness.
type ChangeNotifier interface {
	RunChanged(ctx context.Context, runID uuid.UUID)
	EntityChanged(ctx context.Context, entityID uuid.UUID)
}

// RedisNotifier broadcasts change events over Redis pub/sub.
type RedisNotifier struct {
	redis *redis.Client
	log   *logger.Logger
}

func NewRedisNotifier(client *redis.Client, log *logger.Logger) *RedisNotifier {
	return &RedisNotifier{redis: client, log: log}
}

func (n *RedisNotifier) RunChanged(ctx context.Context, runID uuid.UUID) {
	n.publish(ctx, RunsChannel, "runs", runID)
}

func (n *RedisNotifier) EntityChanged(ctx context.Context, entityID uuid.UUID) {
	n.publish(ctx, EntitiesChannel, "stitch_entities", entityID)
}

func (n *RedisNotifier) publish(ctx context.Context, channel, table string, id uuid.UUID) {
	msg, err := json.Marshal(map[string]any{
		"table": table,
		"id":    id,
		"ts":    time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := n.redis.PublishEvent(ctx, channel, string(msg)); err != nil {
		n.log.Debug("change broadcast dropped", "channel", channel)
	}
}

// NopNotifier is used when Redis is not configured.
type NopNotifier struct{}

func (NopNotifier) RunChanged(context.Context, uuid.UUID)    {}
func (NopNotifier) EntityChanged(context.Context, uuid.UUID) {}
