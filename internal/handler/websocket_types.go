// internal/handler/websocket_types.go
package handler

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"adc-service/internal/model"
)

// Client represents a WebSocket client
type Client struct {
	ID          string          `json:"id"`
	Connection  *websocket.Conn `json:"-"`
	Send        chan []byte     `json:"-"`
	Type        string          `json:"type"` // device, events
	DeviceID    *string         `json:"device_id,omitempty"`
	UserAgent   string          `json:"user_agent"`
	RemoteAddr  string          `json:"remote_addr"`
	ConnectedAt time.Time       `json:"connected_at"`

	subMu         sync.RWMutex
	subscriptions map[string]bool
}

// Subscribe limits delivery to the given event type. A client without
// subscriptions receives every event.
func (c *Client) Subscribe(topic string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.subscriptions == nil {
		c.subscriptions = make(map[string]bool)
	}
	c.subscriptions[topic] = true
}

// Unsubscribe removes a subscription
func (c *Client) Unsubscribe(topic string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	delete(c.subscriptions, topic)
}

// Wants reports whether event should be delivered to the client
func (c *Client) Wants(event model.DeviceEvent) bool {
	if c.DeviceID != nil && *c.DeviceID != event.DeviceID {
		return false
	}
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions) == 0 || c.subscriptions[string(event.EventType)]
}

// WebSocketMessage represents a WebSocket message
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// ConnectionManager manages WebSocket connections
type ConnectionManager struct {
	clients map[string]*Client
	mutex   sync.RWMutex
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		clients: make(map[string]*Client),
	}
}

// Register registers a new client
func (cm *ConnectionManager) Register(client *Client) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.clients[client.ID] = client
}

// Unregister removes a client and closes its send channel
func (cm *ConnectionManager) Unregister(client *Client) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if _, ok := cm.clients[client.ID]; ok {
		delete(cm.clients, client.ID)
		close(client.Send)
	}
}

// Deliver queues message for a single client. It reports false when the
// client is gone or its queue is full.
func (cm *ConnectionManager) Deliver(client *Client, message []byte) bool {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	if _, ok := cm.clients[client.ID]; !ok {
		return false
	}
	select {
	case client.Send <- message:
		return true
	default:
		return false
	}
}

// CloseAll unregisters every client
func (cm *ConnectionManager) CloseAll() {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	for id, client := range cm.clients {
		delete(cm.clients, id)
		close(client.Send)
	}
}

// Broadcast queues message for every client accepting event. It returns how
// many clients were skipped because their queue was full.
func (cm *ConnectionManager) Broadcast(event model.DeviceEvent, message []byte) int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	dropped := 0
	for _, client := range cm.clients {
		if !client.Wants(event) {
			continue
		}
		select {
		case client.Send <- message:
		default:
			dropped++
		}
	}
	return dropped
}

// GetStats returns connection statistics
func (cm *ConnectionManager) GetStats() *ConnectionStats {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	stats := &ConnectionStats{
		TotalConnections: len(cm.clients),
		ByType:           make(map[string]int),
		Clients:          make([]*Client, 0, len(cm.clients)),
	}

	for _, client := range cm.clients {
		stats.ByType[client.Type]++
		stats.Clients = append(stats.Clients, client)
	}

	return stats
}

// ConnectionStats represents connection statistics
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ByType           map[string]int `json:"by_type"`
	Clients          []*Client      `json:"clients"`
}
