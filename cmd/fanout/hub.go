package main

import (
	"log"
	"sync"
)

// Hub tracks active WebSocket viewers per change topic and fans messages
// out to them.
type Hub struct {
	// Map: topic → viewers subscribed to it
	connections map[string][]*Client
	mutex       sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
}

// Message is one change event addressed to a topic's viewers.
type Message struct {
	Topic string
	Data  []byte
}

// NewHub creates a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string][]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	log.Println("Hub started")

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToTopic(message)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.connections[client.topic] = append(h.connections[client.topic], client)
	log.Printf("Viewer registered: topic=%s, total_for_topic=%d",
		client.topic, len(h.connections[client.topic]))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	clients := h.connections[client.topic]
	for i, c := range clients {
		if c == client {
			h.connections[client.topic] = append(clients[:i], clients[i+1:]...)
			close(client.send)

			if len(h.connections[client.topic]) == 0 {
				delete(h.connections, client.topic)
			}

			log.Printf("Viewer unregistered: topic=%s, remaining_for_topic=%d",
				client.topic, len(h.connections[client.topic]))
			break
		}
	}
}

// broadcastToTopic sends a message to every viewer of one topic.
func (h *Hub) broadcastToTopic(message *Message) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := h.connections[message.Topic]
	if len(clients) == 0 {
		return
	}

	for _, client := range clients {
		select {
		case client.send <- message.Data:
		default:
			// Viewer cannot keep up; drop the connection rather than the
			// whole hub loop.
			log.Printf("Viewer send buffer full, closing connection: topic=%s", client.topic)
			close(client.send)
		}
	}
}

// ConnectionCount returns the total number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	count := 0
	for _, clients := range h.connections {
		count += len(clients)
	}
	return count
}

// TopicCounts returns the number of viewers per topic.
func (h *Hub) TopicCounts() map[string]int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	counts := make(map[string]int, len(h.connections))
	for topic, clients := range h.connections {
		counts[topic] = len(clients)
	}
	return counts
}
