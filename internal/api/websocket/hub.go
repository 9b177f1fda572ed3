package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/MothTrain/CambridgeSignallingMap/internal/types"
)

// SnapshotProvider supplies the full decoder state sent to new clients.
type SnapshotProvider interface {
	Snapshot() []types.Event
}

// Hub maintains active WebSocket clients and broadcasts messages
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Inbound messages to broadcast
	broadcast chan Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	mu sync.RWMutex

	logger    *zap.Logger
	validator *Validator

	// Per-client send buffer
	sendBuffer int

	// optional
	snapshots SnapshotProvider
}

type HubOption func(*Hub)

// WithBurstSize grows every buffer by n messages. A feed refresh decodes each
// mapped bit once, so n is normally the size of the mapping table.
func WithBurstSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = defaultSendBuffer + n
		}
	}
}

func NewHub(logger *zap.Logger, opts ...HubOption) (*Hub, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}

	h := &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     logger,
		validator:  validator,
		sendBuffer: defaultSendBuffer,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.broadcast = make(chan Message, 2*h.sendBuffer)

	return h, nil
}

func (h *Hub) SetSnapshotProvider(provider SnapshotProvider) {
	h.snapshots = provider
}

// Run starts the hub's main event loop. It returns when ctx is cancelled,
// after disconnecting every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket Hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket Hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("WebSocket client registered",
				zap.String("client_id", client.id.String()),
				zap.String("remote_addr", client.remoteAddr),
				zap.Int("total_clients", total))

			if h.snapshots != nil {
				h.sendTo(client, NewSnapshotMessage(h.snapshots.Snapshot()))
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("WebSocket client unregistered",
					zap.String("client_id", client.id.String()),
					zap.Int("total_clients", len(h.clients)))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.Error("Failed to marshal broadcast message",
					zap.Error(err))
				continue
			}

			h.mu.Lock()
			for client := range h.clients {
				if message.event != nil && !client.filter().Matches(*message.event) {
					continue
				}
				select {
				case client.send <- data:
				default:
					// Client send channel full - unregister slow/dead client
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("Client send buffer full, unregistering",
						zap.String("client_id", client.id.String()))
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) sendTo(client *Client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	select {
	case client.send <- data:
	default:
		h.logger.Warn("Client send buffer full, message dropped",
			zap.String("client_id", client.id.String()),
			zap.String("message_type", string(msg.Type)))
	}
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Hub broadcast channel full, message dropped",
			zap.String("message_type", string(msg.Type)))
	}
}

// BroadcastEvent sends ev to every client whose filter matches.
func (h *Hub) BroadcastEvent(ev types.Event) {
	h.Broadcast(NewEventMessage(ev))
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
