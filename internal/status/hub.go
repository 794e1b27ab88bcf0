package status

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nmxmxh/ringswap/internal/swap"
)

const (
	clientBuffer = 64
	writeWait    = 5 * time.Second
)

type client struct {
	conn   *websocket.Conn
	events chan swap.Event
}

// Hub fans swap events out to websocket subscribers. It implements
// swap.EventSink; slow subscribers miss events rather than stall a session.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	dropped uint64
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger.With("component", "events"),
	}
}

// Publish implements swap.EventSink.
func (h *Hub) Publish(ev swap.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.events <- ev:
		default:
			h.dropped++
		}
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many events slow subscribers missed.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// serve streams events to conn until the peer goes away or the hub closes.
func (h *Hub) serve(conn *websocket.Conn) {
	c := &client{conn: conn, events: make(chan swap.Event, clientBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("event subscriber connected", "remote", conn.RemoteAddr().String())

	// Subscribers only listen; reading detects the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		h.remove(c)
		_ = conn.Close()
		h.logger.Debug("event subscriber disconnected", "remote", conn.RemoteAddr().String())
	}()

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-c.events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("event write failed", "error", err)
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		close(c.events)
		delete(h.clients, c)
	}
}
