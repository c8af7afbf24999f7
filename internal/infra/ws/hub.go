// Package ws is the WebSocket transport: it owns client connections, maps
// owners to connections and translates client commands into registry calls.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"quote_pulse/internal/broadcast"
	"quote_pulse/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 256
)

// SessionRegistry is the registry view used by the hub.
type SessionRegistry interface {
	Subscribe(owner domain.Owner, symbol string) bool
	Unsubscribe(owner domain.Owner, symbol string) bool
	JoinGroup(owner domain.Owner, group string) bool
	LeaveGroup(owner domain.Owner, group string) bool
	OnConnectionClosed(owner domain.Owner)
}

// WatchlistReplayer restores a user's persisted subscriptions on connect.
type WatchlistReplayer interface {
	Replay(ctx context.Context, userID string) ([]string, error)
}

// ReplayFunc adapts a function to WatchlistReplayer.
type ReplayFunc func(ctx context.Context, userID string) ([]string, error)

// Replay calls f(ctx, userID).
func (f ReplayFunc) Replay(ctx context.Context, userID string) ([]string, error) {
	return f(ctx, userID)
}

// ConnObserver tracks open connections.
type ConnObserver interface {
	IncrementConnections()
	DecrementConnections()
}

type nopConnObserver struct{}

func (nopConnObserver) IncrementConnections() {}
func (nopConnObserver) DecrementConnections() {}

var _ domain.Transport = (*Hub)(nil)

// Hub tracks live connections by id and by user.
type Hub struct {
	registry SessionRegistry
	replayer WatchlistReplayer
	obs      ConnObserver
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	conns  map[string]*client            // connID -> client
	users  map[string]map[string]*client // userID -> connID -> client
	closed bool
}

// NewHub creates a hub. replayer and obs may be nil.
func NewHub(registry SessionRegistry, replayer WatchlistReplayer, obs ConnObserver, allowedOrigins []string) *Hub {
	if obs == nil {
		obs = nopConnObserver{}
	}
	return &Hub{
		registry: registry,
		replayer: replayer,
		obs:      obs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		conns: make(map[string]*client),
		users: make(map[string]map[string]*client),
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// UserIDFromRequest extracts the caller's user id from the X-User-ID header or the user query parameter.
func UserIDFromRequest(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("user")
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", slog.Any("error", err))
		return
	}

	c := &client{
		id:     uuid.NewString(),
		userID: UserIDFromRequest(r),
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		hub:    h,
	}

	if !h.register(c) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "shutting down"))
		conn.Close()
		return
	}

	go c.writePump()
	h.onConnected(r.Context(), c)
	c.readPump()
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c.id] = c
	if c.userID != "" {
		if h.users[c.userID] == nil {
			h.users[c.userID] = make(map[string]*client)
		}
		h.users[c.userID][c.id] = c
	}
	h.obs.IncrementConnections()
	slog.Info("WebSocket client connected",
		slog.String("conn_id", c.id),
		slog.String("user_id", c.userID),
		slog.Int("total", len(h.conns)),
	)
	return true
}

// onConnected replays the user's watchlist and greets the client.
func (h *Hub) onConnected(ctx context.Context, c *client) {
	ack := broadcast.AckPayload{Action: "connected"}
	if c.userID != "" && h.replayer != nil {
		symbols, err := h.replayer.Replay(ctx, c.userID)
		if err != nil {
			slog.Warn("Watchlist replay failed", slog.String("user_id", c.userID), slog.Any("error", err))
		}
		ack.Symbols = symbols
	}
	c.reply(broadcast.TypeAck, ack)
}

// unregister removes c and tears down its registry memberships.
// The user owner is torn down only when the user's last connection closes.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c.id]; !ok {
		return
	}
	delete(h.conns, c.id)
	close(c.send)
	h.obs.DecrementConnections()

	h.registry.OnConnectionClosed(c.owner())
	if c.userID != "" {
		delete(h.users[c.userID], c.id)
		if len(h.users[c.userID]) == 0 {
			delete(h.users, c.userID)
			h.registry.OnConnectionClosed(domain.UserOwner(c.userID))
		}
	}

	slog.Info("WebSocket client disconnected",
		slog.String("conn_id", c.id),
		slog.String("user_id", c.userID),
		slog.Int("total", len(h.conns)),
	)
}

// SendToOwner queues msg for every connection of owner without blocking.
func (h *Hub) SendToOwner(_ context.Context, owner domain.Owner, msg []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var targets []*client
	switch {
	case owner.IsConn():
		if c, ok := h.conns[owner.ID()]; ok {
			targets = append(targets, c)
		}
	case owner.IsUser():
		for _, c := range h.users[owner.ID()] {
			targets = append(targets, c)
		}
	}
	if len(targets) == 0 {
		return domain.ErrNoConnection
	}

	var dropped bool
	for _, c := range targets {
		if !c.enqueue(msg) {
			dropped = true
		}
	}
	if dropped {
		return ErrSlowConsumer
	}
	return nil
}

// Subscribe subscribes owner to symbol only while owner has a live connection.
// Offline users get their watchlist replayed when they connect.
func (h *Hub) Subscribe(owner domain.Owner, symbol string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.onlineLocked(owner) {
		return false
	}
	return h.registry.Subscribe(owner, symbol)
}

// Unsubscribe removes the subscription whether or not owner is online.
func (h *Hub) Unsubscribe(owner domain.Owner, symbol string) bool {
	return h.registry.Unsubscribe(owner, symbol)
}

func (h *Hub) onlineLocked(owner domain.Owner) bool {
	switch {
	case owner.IsConn():
		_, ok := h.conns[owner.ID()]
		return ok
	case owner.IsUser():
		return len(h.users[owner.ID()]) > 0
	}
	return false
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close rejects new connections and closes every open one.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.conns))
	for _, c := range h.conns {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		c.conn.Close()
	}
}
