package main

import (
	"context"
	"log"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ChangeSubscriber listens to the engine's Redis change channels and
// forwards each notification to the Hub.
type ChangeSubscriber struct {
	redis *redis.Client
	hub   *Hub
}

// NewChangeSubscriber creates a new ChangeSubscriber instance
func NewChangeSubscriber(redisClient *redis.Client, hub *Hub) *ChangeSubscriber {
	return &ChangeSubscriber{
		redis: redisClient,
		hub:   hub,
	}
}

// Start begins listening to Redis PubSub channels
func (s *ChangeSubscriber) Start(ctx context.Context) {
	// Subscribe to pattern: canvas.changes.*
	// The engine publishes one channel per table (runs, entities)
	pubsub := s.redis.PSubscribe(ctx, "canvas.changes.*")
	defer pubsub.Close()

	log.Println("Change subscriber started, listening to: canvas.changes.*")

	// Wait for confirmation that subscription was successful
	_, err := pubsub.Receive(ctx)
	if err != nil {
		log.Fatalf("Failed to subscribe to Redis: %v", err)
	}

	log.Println("Redis subscription confirmed")

	// Listen for messages
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			log.Println("Change subscriber stopping")
			return

		case msg := <-ch:
			if msg == nil {
				continue
			}

			// Extract topic from channel name
			// Channel format: canvas.changes.{topic}
			topic := extractTopicFromChannel(msg.Channel)
			if topic == "" {
				log.Printf("Invalid channel format: %s", msg.Channel)
				continue
			}

			log.Printf("Received change for topic=%s, size=%d bytes", topic, len(msg.Payload))

			// Forward to hub
			s.hub.broadcast <- &Message{
				Topic: topic,
				Data:  []byte(msg.Payload),
			}
		}
	}
}

// extractTopicFromChannel extracts the topic from a channel name
// Example: "canvas.changes.runs" → "runs"
func extractTopicFromChannel(channel string) string {
	parts := strings.Split(channel, ".")
	if len(parts) != 3 || parts[0] != "canvas" || parts[1] != "changes" {
		return ""
	}
	return parts[2]
}
