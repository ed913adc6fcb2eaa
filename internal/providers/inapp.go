package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"notification-engine/internal/logging"
	"notification-engine/internal/models"
)

const (
	maxConnsPerUser = 10
	writeWait       = 5 * time.Second
)

// Event is the frame pushed to connected clients.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub tracks live WebSocket connections per user.
type Hub struct {
	connections map[string]map[*websocket.Conn]bool // userID -> set of connections
	mutex       sync.Mutex
	logger      *logging.Logger
}

func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		connections: make(map[string]map[*websocket.Conn]bool),
		logger:      logger,
	}
}

// AddConnection registers conn for userID. It reports false when the user is
// already at the connection cap.
func (h *Hub) AddConnection(userID string, conn *websocket.Conn) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, exists := h.connections[userID]; !exists {
		h.connections[userID] = make(map[*websocket.Conn]bool)
	}
	if len(h.connections[userID]) >= maxConnsPerUser {
		h.logger.Warnf("Max connections reached for user %s", userID)
		return false
	}
	h.connections[userID][conn] = true
	h.logger.Infof("Added WebSocket connection for user %s (total: %d)", userID, len(h.connections[userID]))
	return true
}

func (h *Hub) RemoveConnection(userID string, conn *websocket.Conn) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if conns, exists := h.connections[userID]; exists {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.connections, userID)
		}
		h.logger.Infof("Removed WebSocket connection for user %s (remaining: %d)", userID, len(conns))
	}
}

// Connected reports the number of live connections for userID.
func (h *Hub) Connected(userID string) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.connections[userID])
}

// PushToUser writes event to every connection of userID and returns how many
// accepted it. Broken connections are dropped.
func (h *Hub) PushToUser(userID string, event Event) (int, error) {
	message, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to encode %s event: %w", event.Type, err)
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	conns, exists := h.connections[userID]
	if !exists {
		return 0, nil
	}
	sent := 0
	for conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			h.logger.Errorf("Failed to send WebSocket message to user %s: %v", userID, err)
			_ = conn.Close()
			delete(conns, conn)
			continue
		}
		sent++
	}
	if len(conns) == 0 {
		delete(h.connections, userID)
	}
	return sent, nil
}

// InAppSender pushes InAppPayload through the hub. The notification row is
// the durable inbox entry, so an offline user still counts as delivered.
type InAppSender struct {
	hub *Hub
}

func NewInAppSender(hub *Hub) *InAppSender {
	return &InAppSender{hub: hub}
}

func (s *InAppSender) Send(_ context.Context, p models.Payload) (Outcome, error) {
	msg, ok := p.(models.InAppPayload)
	if !ok {
		return Outcome{}, unexpectedPayload(models.ChannelInApp, p)
	}
	kind := "notification"
	if msg.Reminder {
		kind = "reminder"
	}
	n, err := s.hub.PushToUser(msg.UserID, Event{Type: kind, Data: msg})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Recipients: n}, nil
}
