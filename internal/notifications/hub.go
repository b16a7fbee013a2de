package notifications

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"readaddicts/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	maxConnsPerUser = 12
	maxTotalConns   = 10000
)

var (
	ErrServerConnLimit = errors.New("server connection limit reached")
	ErrUserConnLimit   = errors.New("user connection limit reached")
	ErrHubClosed       = errors.New("hub is shut down")
)

// Hub maps userID to that user's live websocket clients on this instance.
type Hub struct {
	mu         sync.RWMutex
	conns      map[string]map[*Client]struct{}
	totalConns int
	closed     bool
	presence   *Presence
	log        *observability.WSLogger
}

// NewHub creates a hub backed by presence. A nil presence tracks local
// connections only.
func NewHub(presence *Presence) *Hub {
	if presence == nil {
		presence = NewPresence(nil, PresenceConfig{})
	}
	return &Hub{
		conns:    make(map[string]map[*Client]struct{}),
		presence: presence,
		log:      observability.NewWSLogger("message hub"),
	}
}

// Name returns a human-readable identifier for this hub.
func (h *Hub) Name() string { return "message hub" }

// Presence exposes the hub's presence tracker.
func (h *Hub) Presence() *Presence { return h.presence }

// Register adds a connection for userID. conn may be nil in tests.
func (h *Hub) Register(userID string, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	if h.totalConns >= maxTotalConns {
		h.mu.Unlock()
		return nil, ErrServerConnLimit
	}
	m, ok := h.conns[userID]
	if !ok {
		m = make(map[*Client]struct{})
		h.conns[userID] = m
	}
	if len(m) >= maxConnsPerUser {
		h.mu.Unlock()
		return nil, ErrUserConnLimit
	}

	client := newClient(h, conn, userID)
	client.OnActivity = func(uid string) {
		h.presence.Touch(context.Background(), uid)
	}
	m[client] = struct{}{}
	h.totalConns++
	userConns := len(m)
	h.mu.Unlock()

	observability.WebSocketConnectionsTotal.Inc()
	h.presence.Register(context.Background(), userID)
	h.log.LogConnect(context.Background(), userID, userConns)
	return client, nil
}

// UnregisterClient removes a client and closes its send buffer. Safe to call twice.
func (h *Hub) UnregisterClient(client *Client) {
	h.mu.Lock()
	removed := false
	if m, ok := h.conns[client.UserID]; ok {
		if _, exists := m[client]; exists {
			delete(m, client)
			close(client.Send)
			h.totalConns--
			removed = true
		}
		if len(m) == 0 {
			delete(h.conns, client.UserID)
		}
	}
	h.mu.Unlock()

	if removed {
		observability.WebSocketConnectionsTotal.Dec()
		h.presence.Unregister(context.Background(), client.UserID)
		h.log.LogDisconnect(context.Background(), client.UserID, "unregistered")
	}
}

// Broadcast queues message on every connection userID holds here. It returns
// how many connections accepted the frame.
func (h *Hub) Broadcast(userID string, message []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for c := range h.conns[userID] {
		if c.TrySend(message) {
			delivered++
		}
	}
	return delivered
}

// IsOnline reports whether userID is connected here or on another instance.
func (h *Hub) IsOnline(ctx context.Context, userID string) bool {
	return h.presence.IsOnline(ctx, userID)
}

// ConnectionCount returns the number of local connections for userID.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// StartWiring subscribes to the user notification channels and forwards each
// payload to the matching local connections.
func (h *Hub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartPatternSubscriber(ctx, func(channel, payload string) {
		userID, ok := userFromChannel(channel)
		if !ok {
			observability.GlobalLogger.Warn("invalid notification channel", slog.String("channel", channel))
			return
		}
		h.Broadcast(userID, []byte(payload))
	})
}

// Shutdown closes every connection and refuses new ones.
func (h *Hub) Shutdown(_ context.Context) error {
	h.presence.Stop()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	// WritePump owns the socket: closing Send makes it write the close
	// frame and tear the connection down.
	for _, clients := range h.conns {
		for client := range clients {
			close(client.Send)
		}
		observability.WebSocketConnectionsTotal.Sub(float64(len(clients)))
	}
	h.conns = make(map[string]map[*Client]struct{})
	h.totalConns = 0
	return nil
}
