// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fleetiq/fleetiq/internal/logging"
	"github.com/fleetiq/fleetiq/internal/metrics"
	"github.com/fleetiq/fleetiq/internal/models"
)

// Message types pushed to dashboard clients.
const (
	MessageTypePing           = "ping"
	MessageTypePong           = "pong"
	MessageTypePositionUpdate = "position_update"
	MessageTypeMetricsUpdate  = "metrics_update"
	MessageTypeSessionHealth  = "session_health"
	MessageTypeSyncProgress   = "sync_progress"
	MessageTypeSyncCompleted  = "sync_completed"
)

// Message is the envelope for every WebSocket frame.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a hub. Run it with RunWithContext under the supervisor.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// RunWithContext runs the hub event loop until the context is canceled,
// then closes every client and returns ctx.Err().
//
// Selection is priority ordered (shutdown, then client lifecycle, then
// broadcasts) so client state is consistent before messages are fanned
// out; Go's select picks randomly among ready channels otherwise.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

// broadcastToClients fans a message out in client-id order. Sorting keeps
// delivery order reproducible; map iteration order is not.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
			metrics.WSMessagesSent.Inc()
		default:
			// Send buffer full: the client is too slow, drop it.
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		metrics.WSErrors.WithLabelValues("slow_client").Inc()
		close(client.send)
		delete(h.clients, client)
	}
	if len(toRemove) > 0 {
		metrics.WSConnections.Set(float64(len(h.clients)))
	}
}

func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	metrics.WSConnections.Set(0)
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", ctx.Err().Error()).
		Int("clients_closed", len(clients)).
		Msg("websocket hub stopped")
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// enqueue offers a message to the broadcast channel without blocking the
// producer; a full channel drops the message.
func (h *Hub) enqueue(message Message) {
	select {
	case h.broadcast <- message:
	default:
		metrics.WSErrors.WithLabelValues("broadcast_full").Inc()
		logging.Warn().Str("message_type", message.Type).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastPositions pushes a batch of updated device positions.
func (h *Hub) BroadcastPositions(positions []models.DevicePosition) {
	if len(positions) == 0 {
		return
	}
	h.enqueue(Message{Type: MessageTypePositionUpdate, Data: positions})
}

// BroadcastFleetMetrics pushes recomputed fleet counts.
func (h *Hub) BroadcastFleetMetrics(m *models.FleetMetrics) {
	h.enqueue(Message{Type: MessageTypeMetricsUpdate, Data: m})
}

// BroadcastSessionHealth pushes a vendor session health change.
func (h *Hub) BroadcastSessionHealth(health models.SessionHealth) {
	h.enqueue(Message{Type: MessageTypeSessionHealth, Data: health})
}

// BroadcastSyncProgress pushes a bulk sync progress snapshot.
func (h *Hub) BroadcastSyncProgress(op *models.SyncOperation) {
	h.enqueue(Message{Type: MessageTypeSyncProgress, Data: op})
}

// SyncCompletedData is the payload of a sync_completed message.
type SyncCompletedData struct {
	Timestamp   string `json:"timestamp"`
	OperationID string `json:"operation_id"`
	Processed   int    `json:"processed"`
	Succeeded   int    `json:"succeeded"`
	Failed      int    `json:"failed"`
	DurationMs  int64  `json:"duration_ms"`
}

// BroadcastSyncCompleted notifies clients that a bulk sync reached a
// terminal state.
func (h *Hub) BroadcastSyncCompleted(op *models.SyncOperation, duration time.Duration) {
	h.enqueue(Message{
		Type: MessageTypeSyncCompleted,
		Data: SyncCompletedData{
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
			OperationID: op.ID,
			Processed:   op.Processed,
			Succeeded:   op.Succeeded,
			Failed:      op.Failed,
			DurationMs:  duration.Milliseconds(),
		},
	})
}
