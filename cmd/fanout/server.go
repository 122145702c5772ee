package main

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for now (TODO: Configure CORS properly in production)
		return true
	},
}

// validTopics are the change feeds the engine publishes.
var validTopics = map[string]bool{
	"runs":     true,
	"entities": true,
}

// Server handles WebSocket connections and the stats endpoint
type Server struct {
	hub *Hub
}

// NewServer creates a new Server instance
func NewServer(hub *Hub) *Server {
	return &Server{
		hub: hub,
	}
}

// HandleWebSocket handles WebSocket upgrade and registration
// URL: /ws?topic=runs
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Extract topic from query parameter
	topic := r.URL.Query().Get("topic")
	if !validTopics[topic] {
		http.Error(w, "topic query parameter must be one of: runs, entities", http.StatusBadRequest)
		return
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	// Create client
	client := NewClient(s.hub, conn, topic)

	// Register client with hub
	s.hub.register <- client

	log.Printf("New WebSocket connection: topic=%s, remote=%s", topic, r.RemoteAddr)

	// Start client goroutines
	go client.writePump()
	go client.readPump()
}

// HandleStats reports active viewer counts
// GET /api/stats
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"connections": s.hub.ConnectionCount(),
		"topics":      s.hub.TopicCounts(),
	})
}
