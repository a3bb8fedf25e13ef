package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"virtgate/internal/tasks"
)

// Message types sent to clients
const (
	TypeConnection = "connection"
	TypeTaskStatus = "task:status"
)

const broadcastBuffer = 256

// Observer records connection metrics
type Observer interface {
	ClientConnected(ctx context.Context)
	ClientDisconnected(ctx context.Context)
}

// Hub maintains the set of active clients and fans task events out to them.
// All client bookkeeping happens on the Run goroutine.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu       sync.RWMutex
	count    int
	running  bool
	quit     chan struct{}
	done     chan struct{}
	logger   *slog.Logger
	observer Observer

	messagesSent    int64
	messagesDropped int64
}

// NewHub creates a hub. It does nothing until Start is called.
func NewHub(logger *slog.Logger, observer Observer) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		observer:   observer,
	}
}

// Start runs the hub loop in its own goroutine
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.Run()
}

// Stop ends the hub loop and disconnects every client
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.quit)
	<-h.done
}

// Run is the hub's main loop
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.quit:
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.setCount(0)
			h.logger.Info("hub shutting down")
			return

		case client := <-h.register:
			h.clients[client] = true
			h.setCount(len(h.clients))
			ctx := client.context()

			h.logger.InfoContext(ctx, "client registered",
				slog.Int("total_clients", len(h.clients)),
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr))
			if h.observer != nil {
				h.observer.ClientConnected(ctx)
			}

			h.sendTo(client, h.connectionMessage(client))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; !ok {
				continue
			}
			h.drop(client)
			h.logger.InfoContext(client.context(), "client unregistered",
				slog.Int("total_clients", len(h.clients)),
				slog.String("client_id", client.id),
				slog.Duration("connection_duration", time.Since(client.connectedAt)))

		case message := <-h.broadcast:
			for client := range h.clients {
				if !h.sendTo(client, message) {
					h.drop(client)
					h.logger.WarnContext(client.context(), "client send buffer full, disconnecting",
						slog.String("client_id", client.id))
				}
			}
		}
	}
}

func (h *Hub) sendTo(client *Client, message []byte) bool {
	if message == nil {
		return true
	}
	select {
	case client.send <- message:
		h.mu.Lock()
		h.messagesSent++
		h.mu.Unlock()
		return true
	default:
		return false
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.setCount(len(h.clients))
	if h.observer != nil {
		h.observer.ClientDisconnected(client.context())
	}
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

func (h *Hub) connectionMessage(client *Client) []byte {
	data, err := json.Marshal(map[string]any{
		"type": TypeConnection,
		"data": map[string]any{
			"status":    "connected",
			"client_id": client.id,
		},
		"timestamp": time.Now().Format(time.RFC3339),
		"trace_id":  client.traceID,
	})
	if err != nil {
		h.logger.Error("error marshaling connection message", slog.String("error", err.Error()))
		return nil
	}
	return data
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// BroadcastTask sends a task status event to every client. Events are
// dropped rather than blocking the caller when the hub falls behind.
func (h *Hub) BroadcastTask(ctx context.Context, task tasks.Task) {
	message := map[string]any{
		"type":      TypeTaskStatus,
		"data":      task.Info(),
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		message["trace_id"] = reqID
	}

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.ErrorContext(ctx, "error marshaling task event", slog.String("error", err.Error()))
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.mu.Lock()
		h.messagesDropped++
		h.mu.Unlock()
		h.logger.WarnContext(ctx, "broadcast queue full, dropping task event",
			slog.String("task_id", task.ID),
			slog.Int("clients", h.ClientCount()))
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Stats returns hub counters for health reporting
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]any{
		"active_clients":   h.count,
		"messages_sent":    h.messagesSent,
		"messages_dropped": h.messagesDropped,
		"broadcast_queue":  len(h.broadcast),
	}
}

var _ tasks.Broadcaster = (*Hub)(nil)
