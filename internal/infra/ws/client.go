package ws

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"quote_pulse/internal/broadcast"
	"quote_pulse/internal/domain"

	"github.com/gorilla/websocket"
)

const maxSymbolsPerCommand = 50

// command is a client request, e.g.
//
//	{"action":"subscribe","symbols":["AAPL","MSFT"]}
//	{"action":"join","group":"popular"}
type command struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols,omitempty"`
	Group   string   `json:"group,omitempty"`
}

type client struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
}

// owner is the per-connection registry key. Group memberships always use it.
func (c *client) owner() domain.Owner {
	return domain.ConnOwner(c.id)
}

// subscriptionOwner is the key for symbol subscriptions: authenticated
// connections subscribe on behalf of their user.
func (c *client) subscriptionOwner() domain.Owner {
	if c.userID != "" {
		return domain.UserOwner(c.userID)
	}
	return c.owner()
}

// enqueue must be called with hub.mu held (read or write) so send is not closed concurrently.
func (c *client) enqueue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) reply(typ string, data any) {
	msg, err := broadcast.Encode(typ, data, time.Now().UTC())
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.conns[c.id]; ok {
		c.enqueue(msg)
	}
}

// writePump writes messages to the WebSocket connection
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads commands until the connection fails, then unregisters.
func (c *client) readPump() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("WebSocket read panic recovered", slog.String("conn_id", c.id), slog.Any("panic", r))
		}
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("WebSocket read error", slog.String("conn_id", c.id), slog.Any("error", err))
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.reply(broadcast.TypeError, broadcast.ErrorPayload{Message: "malformed command"})
			continue
		}
		c.handle(cmd)
	}
}

func (c *client) handle(cmd command) {
	reg := c.hub.registry
	cmd.Action = strings.ToLower(cmd.Action)

	switch cmd.Action {
	case "subscribe", "unsubscribe":
		symbols, err := normalizeSymbols(cmd.Symbols)
		if err != nil {
			c.reply(broadcast.TypeError, broadcast.ErrorPayload{Message: err.Error()})
			return
		}
		owner := c.subscriptionOwner()
		for _, sym := range symbols {
			if cmd.Action == "subscribe" {
				reg.Subscribe(owner, sym)
			} else {
				reg.Unsubscribe(owner, sym)
			}
		}
		c.reply(broadcast.TypeAck, broadcast.AckPayload{Action: cmd.Action, Symbols: symbols})

	case "join", "leave":
		if cmd.Group != domain.GroupPopular {
			c.reply(broadcast.TypeError, broadcast.ErrorPayload{Message: "unknown group: " + cmd.Group})
			return
		}
		if cmd.Action == "join" {
			reg.JoinGroup(c.owner(), cmd.Group)
		} else {
			reg.LeaveGroup(c.owner(), cmd.Group)
		}
		c.reply(broadcast.TypeAck, broadcast.AckPayload{Action: cmd.Action, Group: cmd.Group})

	case "ping":
		c.reply(broadcast.TypeAck, broadcast.AckPayload{Action: "pong"})

	default:
		c.reply(broadcast.TypeError, broadcast.ErrorPayload{Message: "unknown action: " + cmd.Action})
	}
}

func normalizeSymbols(in []string) ([]string, error) {
	if len(in) == 0 {
		return nil, errEmptySymbols
	}
	if len(in) > maxSymbolsPerCommand {
		return nil, errTooManySymbols
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		sym := domain.NormalizeSymbol(s)
		if err := domain.ValidateSymbol(sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, nil
}
