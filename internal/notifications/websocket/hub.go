package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	alarmapp "gasgrid-cloud/internal/alarms/application"
	devapp "gasgrid-cloud/internal/devices/application"
	"gasgrid-cloud/internal/observability/metrics"
	telemetryevents "gasgrid-cloud/internal/telemetry/application/events"
)

// Message type labels sent to subscribers.
const (
	MessageReading = "reading"
	MessageAlarm   = "alarm"
)

// Hub maintains the set of active subscribers and fans events out to
// them. It implements the alarm and device-status notifier interfaces
// so lifecycle events reach the dashboard without extra glue.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	logger     zerolog.Logger
	mu         sync.RWMutex
}

// NewHub constructs a hub. Run must be started for it to operate.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run loops until the context is cancelled. Slow subscribers whose
// send buffer is full are dropped rather than blocking the fan-out.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			close(h.done)
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			metrics.AddWSClients(1)
			h.logger.Debug().Str("remote", client.remoteAddr()).Msg("ws client registered")
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				metrics.AddWSClients(-1)
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					delete(h.clients, client)
					close(client.send)
					metrics.AddWSClients(-1)
					h.logger.Warn().Str("remote", client.remoteAddr()).Msg("slow ws client dropped")
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop hands a client back to Run for removal. After Run has returned
// nothing drains the unregister channel, so the send must not block a
// client goroutine past shutdown.
func (h *Hub) drop(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
		metrics.AddWSClients(-1)
	}
}

// Broadcast marshals and queues an envelope for all subscribers.
func (h *Hub) Broadcast(messageType string, payload any) {
	if h == nil {
		return
	}
	message, err := json.Marshal(map[string]any{"type": messageType, "payload": payload})
	if err != nil {
		h.logger.Error().Err(err).Str("type", messageType).Msg("ws marshal failed")
		return
	}
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn().Str("type", messageType).Msg("ws broadcast queue full, event dropped")
	}
}

// Notify implements alarmapp.AlarmNotifier.
func (h *Hub) Notify(_ context.Context, event alarmapp.AlarmEvent) {
	h.Broadcast(MessageAlarm, event)
}

// NotifyDeviceStatus implements devapp.StatusNotifier.
func (h *Hub) NotifyDeviceStatus(_ context.Context, event devapp.StatusEvent) {
	h.Broadcast(event.Type, event)
}

// BroadcastReading pushes an accepted reading to subscribers.
func (h *Hub) BroadcastReading(event telemetryevents.ReadingReceived) {
	h.Broadcast(MessageReading, event)
}
