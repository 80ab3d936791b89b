package gateway

import (
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client is one renderer connection.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// unix nanos of the oldest gesture not yet answered by a frame
	gestureAt atomic.Int64
}

func newClient(conn *websocket.Conn, h *Hub) *Client {
	conn.EnableWriteCompression(true)
	return &Client{conn: conn, send: make(chan []byte, sendBuffer), hub: h}
}

// enqueue never blocks; a slow client loses frames instead of stalling the hub.
func (c *Client) enqueue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

func (c *Client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg GestureMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("invalid message: " + err.Error())
			continue
		}
		if msg.Type == "" && msg.Ping > 0 {
			c.pong(msg.Ping)
			continue
		}
		if err := c.apply(msg); err != nil {
			c.sendError(err.Error())
			continue
		}
		c.gestureAt.CompareAndSwap(0, time.Now().UnixNano())
	}
}

// apply forwards one gesture to the session.
func (c *Client) apply(msg GestureMsg) error {
	ctrl := c.hub.ctrl
	switch msg.Type {
	case GesturePanStart:
		ctrl.PanStart(msg.Pointer)
	case GesturePanMove:
		ctrl.PanMove(msg.DX)
	case GesturePanEnd:
		ctrl.PanEnd(msg.Velocity)
	case GestureZoom:
		ctrl.Zoom(msg.Direction, msg.X)
	case GestureHover:
		ctrl.Hover(msg.X, msg.Y)
	case GestureLeave:
		ctrl.Leave()
	case GestureResize:
		if msg.Width <= 0 || msg.Height <= 0 {
			return errBadResize
		}
		ctrl.Resize(msg.Width, msg.Height)
	default:
		return &unknownGestureError{msg.Type}
	}
	return nil
}

func (c *Client) pong(ping int64) {
	b, _ := json.Marshal(map[string]any{
		"type":      "pong",
		"ping":      ping,
		"server_ts": time.Now().UnixMilli(),
	})
	c.enqueue(b)
}

func (c *Client) sendError(msg string) {
	b, err := json.Marshal(ErrorResp{Type: "error", Error: msg})
	if err != nil {
		log.Printf("[gateway] marshal error reply: %v", err)
		return
	}
	c.enqueue(b)
}
