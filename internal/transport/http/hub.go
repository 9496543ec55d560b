package http

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"live-quiz-service/internal/metrics"
)

// envelope is the websocket frame format in both directions.
type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Hub groups sockets into rooms keyed by session pin. It implements
// app.Broadcaster; delivery is fire-and-forget.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	metrics *metrics.Metrics
	log     logrus.FieldLogger
}

func NewHub(m *metrics.Metrics, log logrus.FieldLogger) *Hub {
	return &Hub{
		rooms:   make(map[string]map[*Client]struct{}),
		metrics: m,
		log:     log,
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.room]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[c.room] = room
	}
	room[c] = struct{}{}
}

// unregister removes c and closes its send queue. It returns how many
// sockets of the same user remain in the room. It is safe to call twice.
func (h *Hub) unregister(c *Client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.room]
	if !ok {
		return 0
	}
	if _, ok := room[c]; ok {
		delete(room, c)
		close(c.send)
	}
	if len(room) == 0 {
		delete(h.rooms, c.room)
		return 0
	}
	remaining := 0
	for other := range room {
		if c.userID != "" && other.userID == c.userID {
			remaining++
		}
	}
	return remaining
}

// Emit encodes the event once and queues it on every socket in room.
// Sockets whose queue is full miss the event.
func (h *Hub) Emit(room, event string, payload any) error {
	data, err := json.Marshal(envelope{Type: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		select {
		case c.send <- data:
		default:
			h.metrics.Dropped()
			h.log.WithFields(logrus.Fields{"pin": room, "event": event, "user_id": c.userID}).Warn("client queue full, event dropped")
		}
	}
	return nil
}

// RoomSize counts the sockets currently in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
