// Package hub fans finished tactile frames out to TCP clients.
package hub

import (
	"sync"

	"github.com/kstaniek/go-tactile-server/internal/logging"
	"github.com/kstaniek/go-tactile-server/internal/metrics"
	"github.com/kstaniek/go-tactile-server/internal/tactile"
)

type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

// Client receives frames on Out. Frames are shared between clients and must
// be treated as read-only.
type Client struct {
	Out       chan tactile.Frame
	Closed    chan struct{}
	closeOnce sync.Once
}

// NewClient allocates a client with an outbound buffer of n frames.
func NewClient(n int) *Client {
	return &Client{Out: make(chan tactile.Frame, n), Closed: make(chan struct{})}
}

// Close signals the client is closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	latest     tactile.Frame
	hasLatest  bool
	OutBufSize int
	Policy     BackpressurePolicy
	// PrimeLatest sends the most recent frame to a client as soon as it is added.
	PrimeLatest bool
}

// New creates a Hub with default settings.
func New() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// Add registers a client with the hub.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	prev := len(h.clients)
	h.clients[c] = struct{}{}
	cur := len(h.clients)
	latest, ok := h.latest, h.hasLatest && h.PrimeLatest
	h.mu.Unlock()
	metrics.SetHubClients(cur)
	if ok {
		select {
		case c.Out <- latest:
		default:
		}
	}
	if prev == 0 && cur == 1 {
		logging.L().Info("clients_first_connected")
	}
}

// Remove unregisters a client and updates metrics; safe to call multiple times.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	if existed {
		delete(h.clients, c)
	}
	cur := len(h.clients)
	h.mu.Unlock()
	c.Close()
	metrics.SetHubClients(cur)
	if existed && cur == 0 {
		logging.L().Info("clients_last_disconnected")
	}
}

// Broadcast sends a frame to all connected clients honoring the backpressure
// policy. It never blocks.
func (h *Hub) Broadcast(fr tactile.Frame) {
	h.mu.Lock()
	h.latest, h.hasLatest = fr, true
	h.mu.Unlock()
	for _, c := range h.Snapshot() {
		select {
		case c.Out <- fr:
		default:
			if h.Policy == PolicyKick {
				metrics.IncHubKick()
				c.Close() // signal writer to exit; server will Remove on disconnect
			} else {
				metrics.IncHubDrop()
			}
		}
	}
}

// Latest returns the most recently broadcast frame.
func (h *Hub) Latest() (tactile.Frame, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest, h.hasLatest
}

// Snapshot returns a slice copy of current clients (read-only use).
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	return clients
}

// Count returns the number of active clients.
func (h *Hub) Count() int { h.mu.RLock(); n := len(h.clients); h.mu.RUnlock(); return n }
