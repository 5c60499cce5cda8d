// Package wsapi implements the gateway's WebSocket surface (spec.md
// §6): the single `/api/ws` upgrade route that lets a client subscribe
// to Event Bus channels and receive them pushed as JSON frames.
//
// There is no hand-rolled precedent for this in the teacher repo — its
// own pkg/proxy/handlers/websocket.go is a 501 stub — so the
// connection lifecycle here follows the teacher's general handler
// idiom (a struct implementing http.Handler, an injected *slog.Logger,
// no package-level state) rather than any one adapted file.
package wsapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mercator-hq/gateway/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientFrame is an inbound client message: {"type":"subscribe",
// "channels":[...]} or {"type":"ping"}.
type clientFrame struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

// serverFrame is an outbound acknowledgement.
type serverFrame struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels,omitempty"`
}

// Handler upgrades /api/ws connections and bridges each one to the
// Event Bus for the lifetime of the socket.
type Handler struct {
	bus *events.Bus
	log *slog.Logger
}

// NewHandler builds a Handler bound to bus. All connections share the
// same bus but get their own Subscription, so one slow client never
// affects another (the bus's own non-blocking Publish already
// guarantees that at the fan-out layer).
func NewHandler(bus *events.Bus, log *slog.Logger) *Handler {
	return &Handler{bus: bus, log: log}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	c := &connection{
		conn:       conn,
		sub:        h.bus.Subscribe(),
		log:        h.log,
		send:       make(chan []byte, 64),
		subscribed: make(map[string]bool),
	}
	go c.writePump()
	c.readPump()
}

// connection owns one upgraded socket's read and write pumps. The two
// run as separate goroutines so a slow reader never blocks a pending
// write and vice versa; once the read pump observes the socket
// closing it closes the bus subscription, which ends the write pump.
type connection struct {
	conn *websocket.Conn
	sub  *events.Subscription
	log  *slog.Logger
	send chan []byte

	// subscribedMu guards subscribed: readPump writes it as
	// "subscribe" frames arrive, writePump reads it for every Event
	// Bus delivery, and the two run on separate goroutines.
	subscribedMu sync.RWMutex
	subscribed   map[string]bool
}

// readPump processes client frames (subscribe/ping) until the socket
// closes, then tears down the subscription so writePump can exit too.
func (c *connection) readPump() {
	defer func() {
		c.sub.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug("websocket closed unexpectedly", "error", err)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue // malformed frames are ignored, not fatal to the connection
		}

		switch frame.Type {
		case "subscribe":
			c.subscribedMu.Lock()
			for _, ch := range frame.Channels {
				c.subscribed[ch] = true
			}
			c.subscribedMu.Unlock()
			c.sendFrame(serverFrame{Type: "subscribed", Channels: frame.Channels})
		case "ping":
			c.sendFrame(serverFrame{Type: "pong"})
		}
	}
}

// writePump serializes every write to the socket (gorilla/websocket
// forbids concurrent writers) and multiplexes three sources: queued
// outbound frames, Event Bus deliveries, and the keepalive ping timer.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case b, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case evt, ok := <-c.sub.Events():
			if !ok {
				return
			}
			if !c.wantsEvent(evt) {
				continue
			}
			b, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
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

// wantsEvent reports whether evt matches a channel this connection
// subscribed to. A client that never subscribes to anything receives
// every event, matching the original system's default "firehose"
// behavior when `channels` is omitted.
func (c *connection) wantsEvent(evt events.Event) bool {
	c.subscribedMu.RLock()
	defer c.subscribedMu.RUnlock()
	if len(c.subscribed) == 0 {
		return true
	}
	return c.subscribed[evt.Type] || c.subscribed["*"]
}

func (c *connection) sendFrame(f serverFrame) {
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	default:
		// the outbound buffer is full; drop rather than block readPump
	}
}
