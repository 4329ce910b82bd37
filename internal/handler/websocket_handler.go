// internal/handler/websocket_handler.go
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"adc-service/internal/events"
	"adc-service/internal/model"
	"adc-service/internal/service"
	"adc-service/internal/utils"
)

const (
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = 54 * time.Second
	wsWriteWait    = 10 * time.Second
	wsCommandLimit = 30 * time.Second
)

// WebSocketHandler streams device events to WebSocket clients
type WebSocketHandler struct {
	upgrader      websocket.Upgrader
	connections   *ConnectionManager
	deviceService *service.DeviceService
	events        <-chan model.DeviceEvent
	logger        *utils.ServiceLogger
}

// NewWebSocketHandler creates a new WebSocket handler subscribed to every
// event on eventBus. Events reach clients once Run is started.
func NewWebSocketHandler(deviceService *service.DeviceService, eventBus *events.EventBus, logger *zap.Logger) *WebSocketHandler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return &WebSocketHandler{
		upgrader:      upgrader,
		connections:   NewConnectionManager(),
		deviceService: deviceService,
		events:        eventBus.Subscribe(),
		logger:        utils.NewServiceLogger(logger, "websocket-handler"),
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/devices/:device_id", h.HandleDeviceConnection)
	router.GET("/events", h.HandleEventConnection)
	router.GET("/stats", h.GetConnectionStats)
}

// Run forwards bus events to clients until the bus closes the subscription
// or ctx is done. Every client is disconnected on return.
func (h *WebSocketHandler) Run(ctx context.Context) {
	defer h.connections.CloseAll()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-h.events:
			if !ok {
				return
			}
			h.BroadcastDeviceEvent(event)
		}
	}
}

// HandleDeviceConnection handles device-specific WebSocket connections
func (h *WebSocketHandler) HandleDeviceConnection(c *gin.Context) {
	deviceID := c.Param("device_id")
	if _, err := h.deviceService.GetDevice(deviceID); err != nil {
		utils.ErrorResponse(c, http.StatusNotFound, "Device not found", err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := h.newClient(c, conn, "device")
	client.DeviceID = &deviceID

	h.connections.Register(client)
	h.logger.Info("Device WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("device_id", deviceID),
		zap.String("remote_addr", client.RemoteAddr),
	)

	h.sendInitialDeviceStatus(client, deviceID)

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

// HandleEventConnection handles general event WebSocket connections. An
// optional event_type query parameter pre-subscribes the client.
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := h.newClient(c, conn, "events")
	for _, topic := range c.QueryArray("event_type") {
		client.Subscribe(topic)
	}

	h.connections.Register(client)
	h.logger.Info("Event WebSocket client connected",
		zap.String("client_id", client.ID),
	)

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

// GetConnectionStats returns connection statistics
func (h *WebSocketHandler) GetConnectionStats(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "WebSocket connection stats", h.connections.GetStats())
}

func (h *WebSocketHandler) newClient(c *gin.Context, conn *websocket.Conn, kind string) *Client {
	return &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, 256),
		Type:        kind,
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
	}
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer func() {
		h.connections.Unregister(client)
		client.Connection.Close()
	}()

	client.Connection.SetReadDeadline(time.Now().Add(wsPongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			return
		}

		var message WebSocketMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.sendError(client, "invalid message")
			continue
		}

		h.handleClientMessage(client, &message)
	}
}

// handleClientWrite handles writing messages to WebSocket client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClientMessage handles incoming client messages
func (h *WebSocketHandler) handleClientMessage(client *Client, message *WebSocketMessage) {
	switch message.Type {
	case "subscribe":
		if topic, ok := messageTopic(message); ok {
			client.Subscribe(topic)
			h.sendMessage(client, &WebSocketMessage{
				Type:      "subscription_confirmed",
				Data:      map[string]interface{}{"topic": topic},
				Timestamp: time.Now(),
				RequestID: message.RequestID,
			})
			return
		}
		h.sendError(client, "topic is required")
	case "unsubscribe":
		if topic, ok := messageTopic(message); ok {
			client.Unsubscribe(topic)
		}
	case "device_command":
		h.handleDeviceCommand(client, message)
	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "pong",
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})
	default:
		h.sendError(client, fmt.Sprintf("unknown message type: %s", message.Type))
	}
}

func messageTopic(message *WebSocketMessage) (string, bool) {
	data, ok := message.Data.(map[string]interface{})
	if !ok {
		return "", false
	}
	topic, ok := data["topic"].(string)
	return topic, ok && topic != ""
}

// handleDeviceCommand handles device command messages
func (h *WebSocketHandler) handleDeviceCommand(client *Client, message *WebSocketMessage) {
	if client.DeviceID == nil {
		h.sendError(client, "device_command only available on device connections")
		return
	}

	data, ok := message.Data.(map[string]interface{})
	if !ok {
		h.sendError(client, "invalid command data")
		return
	}

	command, ok := data["command"].(string)
	if !ok {
		h.sendError(client, "command is required")
		return
	}

	go h.executeDeviceCommand(client, *client.DeviceID, command, message.RequestID)
}

// executeDeviceCommand runs a read-only or stop command against the device
func (h *WebSocketHandler) executeDeviceCommand(client *Client, deviceID, command, requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), wsCommandLimit)
	defer cancel()

	var (
		err    error
		result interface{}
	)

	switch command {
	case "info":
		result, err = h.deviceService.GetInfo(ctx, deviceID, requestID)
	case "lan":
		result, err = h.deviceService.GetLANConfig(ctx, deviceID, requestID)
	case "stop":
		err = h.deviceService.StopDevice(ctx, deviceID, requestID)
	case "status":
		result, err = h.deviceService.GetDevice(deviceID)
	default:
		h.sendError(client, fmt.Sprintf("unknown command: %s", command))
		return
	}

	data := map[string]interface{}{
		"command": command,
		"success": err == nil,
		"result":  result,
	}
	if err != nil {
		data["error"] = err.Error()
		data["error_code"] = service.ErrorCode(err)
	}

	h.sendMessage(client, &WebSocketMessage{
		Type:      "command_response",
		Data:      data,
		Timestamp: time.Now(),
		RequestID: requestID,
	})
}

// sendInitialDeviceStatus sends the last known device state to client
func (h *WebSocketHandler) sendInitialDeviceStatus(client *Client, deviceID string) {
	device, err := h.deviceService.GetDevice(deviceID)
	if err != nil {
		h.sendError(client, fmt.Sprintf("failed to get device: %v", err))
		return
	}

	h.sendMessage(client, &WebSocketMessage{
		Type:      "initial_status",
		Data:      map[string]interface{}{"device": device},
		Timestamp: time.Now(),
	})
}

// sendMessage sends a message to a client
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	if !h.connections.Deliver(client, messageBytes) {
		h.logger.Debug("WebSocket message not delivered",
			zap.String("client_id", client.ID),
		)
	}
}

// sendError sends an error message to a client
func (h *WebSocketHandler) sendError(client *Client, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type:      "error",
		Data:      map[string]interface{}{"error": errorMsg},
		Timestamp: time.Now(),
	})
}

// BroadcastDeviceEvent broadcasts a device event to every interested client
func (h *WebSocketHandler) BroadcastDeviceEvent(event model.DeviceEvent) {
	messageBytes, err := json.Marshal(&WebSocketMessage{
		Type:      "device_event",
		Data:      event,
		Timestamp: time.Now(),
	})
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	if dropped := h.connections.Broadcast(event, messageBytes); dropped > 0 {
		h.logger.Warn("Client send channel full during broadcast",
			zap.String("event_type", string(event.EventType)),
			zap.Int("dropped", dropped),
		)
	}
}
