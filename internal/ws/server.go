package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/skytrack/skytrack/internal/logging"
	"github.com/skytrack/skytrack/internal/metrics"
	"github.com/skytrack/skytrack/internal/provider"
)

// clientCommand is what browsers send: room management only, data flows one
// way.
type clientCommand struct {
	Action string    `json:"action"` // "subscribe" | "unsubscribe"
	Bounds []float64 `json:"bounds,omitempty"`
	Room   string    `json:"room,omitempty"`
}

type serverAck struct {
	Type  string `json:"type"`
	Room  string `json:"room,omitempty"`
	Error string `json:"error,omitempty"`
}

// ServeHTTP upgrades the request and runs the connection until either side
// closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := Upgrade(w, r)
	if err != nil {
		logging.Debug("ws: upgrade", zap.Error(err))
		if err == errNotUpgrade {
			http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		}
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	metrics.WSClients.Inc()
	defer metrics.WSClients.Dec()
	defer h.remove(c)

	go h.writeLoop(c)
	h.readLoop(c, r)
}

// readLoop handles control frames and room commands; it owns the connection
// lifetime.
func (h *Hub) readLoop(c *client, r *http.Request) {
	for {
		opcode, payload, err := c.conn.ReadFrame()
		if err != nil {
			return
		}
		switch opcode {
		case opPing:
			c.conn.WritePong(payload)
		case opPong:
			// keepalive answered
		case opClose:
			return
		case opText:
			h.handleCommand(c, payload)
		}
	}
}

func (h *Hub) handleCommand(c *client, payload []byte) {
	var cmd clientCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		h.ack(c, serverAck{Type: "error", Error: "malformed command"})
		return
	}
	switch cmd.Action {
	case "subscribe":
		if len(cmd.Bounds) != 4 {
			h.ack(c, serverAck{Type: "error", Error: "bounds must be [latMin, lonMin, latMax, lonMax]"})
			return
		}
		b := provider.Bounds{
			LatMin: cmd.Bounds[0], LonMin: cmd.Bounds[1],
			LatMax: cmd.Bounds[2], LonMax: cmd.Bounds[3],
		}
		key, err := h.subscribe(c, b)
		if err != nil {
			h.ack(c, serverAck{Type: "error", Error: err.Error()})
			return
		}
		h.ack(c, serverAck{Type: "subscribed", Room: key})
	case "unsubscribe":
		h.unsubscribe(c, cmd.Room)
		h.ack(c, serverAck{Type: "unsubscribed", Room: cmd.Room})
	default:
		h.ack(c, serverAck{Type: "error", Error: "unknown action"})
	}
}

func (h *Hub) ack(c *client, a serverAck) {
	msg, _ := json.Marshal(a)
	select {
	case c.send <- msg:
	default:
	}
}

// writeLoop drains the send channel and keeps the connection alive.
func (h *Hub) writeLoop(c *client) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteText(msg); err != nil {
				h.remove(c)
				return
			}
		case <-ping.C:
			if err := c.conn.WritePing(); err != nil {
				h.remove(c)
				return
			}
		}
	}
}
