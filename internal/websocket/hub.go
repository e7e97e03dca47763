package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"licensecli/internal/auth"
	"licensecli/internal/infrastructure"
)

// Message types pushed to clients.
const (
	TypeConnection = "connection"
	TypeAuthState  = "auth:state"
	TypeGateStatus = "gate:status"
)

const broadcastBuffer = 64

// Message is the envelope for every pushed event.
type Message struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp"`
	TraceID   string `json:"trace_id,omitempty"`
}

// Hub fans events out to connected clients. It implements
// auth.AuthStateSink so authentication transitions reach every client.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	logger  *slog.Logger
	quit    chan struct{}
	done    chan struct{}
	running bool
	stop    sync.Once
}

// NewHub creates a hub. Call Start before serving clients.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     infrastructure.WithComponent(logger, "websocket.hub"),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the hub loop in the background. Repeated calls are no-ops.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
}

// Stop disconnects every client and ends the hub loop.
func (h *Hub) Stop() {
	h.stop.Do(func() {
		close(h.quit)
		h.mu.RLock()
		running := h.running
		h.mu.RUnlock()
		if running {
			<-h.done
		}
	})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			h.logger.Info("Hub shutting down")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()

			h.logger.Info("Client registered",
				slog.Int("total_clients", count),
				slog.String("client_id", c.id),
				slog.String("remote_addr", c.remoteAddr))

			if msg, err := encode(context.Background(), TypeConnection, map[string]string{
				"status":    "connected",
				"client_id": c.id,
			}); err == nil {
				select {
				case c.send <- msg:
				default:
				}
			}

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			count := len(h.clients)
			h.mu.Unlock()

			h.logger.Info("Client unregistered",
				slog.Int("total_clients", count),
				slog.String("client_id", c.id),
				slog.Duration("connection_duration", time.Since(c.connectedAt)))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
					h.logger.Warn("Client send buffer full, disconnecting",
						slog.String("client_id", c.id))
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues an event for every client. It never blocks; when the
// queue is full the event is dropped and logged.
func (h *Hub) Broadcast(ctx context.Context, msgType string, data any) {
	msg, err := encode(ctx, msgType, data)
	if err != nil {
		h.logger.ErrorContext(ctx, "Error marshaling message",
			slog.String("error", err.Error()),
			slog.String("message_type", msgType))
		return
	}

	select {
	case h.broadcast <- msg:
	case <-h.quit:
	default:
		h.logger.WarnContext(ctx, "Broadcast queue full, dropping message",
			slog.String("message_type", msgType))
	}
}

// OnAuthStateChanged implements auth.AuthStateSink. The token never
// leaves the process.
func (h *Hub) OnAuthStateChanged(ctx context.Context, st auth.AuthState) {
	sid := st.SessionID
	if len(sid) > 8 {
		sid = sid[:8] + "..."
	}
	h.Broadcast(ctx, TypeAuthState, map[string]any{
		"valid":      st.Valid,
		"session_id": sid,
	})
}

func encode(ctx context.Context, msgType string, data any) ([]byte, error) {
	return json.Marshal(Message{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		TraceID:   infrastructure.GetTraceID(ctx),
	})
}
