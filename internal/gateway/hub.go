// Package gateway is the renderer and control surface of the chart service.
//
// The Hub streams draw frames and trade records to websocket clients and
// feeds their pointer gestures back into the session. RegisterRoutes exposes
// the control endpoints under /api/v1.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"squeeze-chart/internal/metrics"
	"squeeze-chart/internal/model"
	"squeeze-chart/internal/session"
	"squeeze-chart/internal/simulator"
)

// Controller is the session surface the gateway drives.
type Controller interface {
	StartDetection(ctx context.Context) ([]model.Box, error)
	StopDetection()
	ToggleSignals() (bool, error)
	SimulatorConfig() simulator.Config
	ConfigureSimulator(cfg simulator.Config) simulator.Config
	StartSimulator() (string, error)
	StopSimulator()
	Status() session.Status
	DrawModel() (session.DrawModel, error)
	Trades() []model.TradeRecord

	PanStart(pointer string)
	PanMove(dx float64)
	PanEnd(velocity float64)
	Zoom(direction, anchorX float64)
	Hover(x, y float64)
	Leave()
	Resize(width, height float64)
}

const (
	kindDraw  = "draw"
	kindTrade = "trade"

	sendBuffer   = 64
	tradeHistory = 500
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Hub fans session output out to websocket clients.
// It implements model.DrawPublisher and model.TradeSink.
type Hub struct {
	ctrl    Controller
	metrics *metrics.Metrics

	mu       sync.RWMutex
	clients  map[*Client]struct{}
	seq      int64
	lastDraw []byte // envelope of the newest frame, sent to new clients

	trades  *ReplayBuffer
	Latency *LatencyTracker // gesture to next frame
	started time.Time
}

// NewHub creates a hub whose clients drive ctrl.
func NewHub(ctrl Controller, m *metrics.Metrics) *Hub {
	return &Hub{
		ctrl:    ctrl,
		metrics: m,
		clients: make(map[*Client]struct{}),
		trades:  NewReplayBuffer(tradeHistory),
		Latency: NewLatencyTracker(4096),
		started: time.Now(),
	}
}

// PublishDraw implements model.DrawPublisher.
func (h *Hub) PublishDraw(_ context.Context, data []byte) error {
	h.broadcast(kindDraw, data)
	return nil
}

// RecordTrade implements model.TradeSink.
func (h *Hub) RecordTrade(_ context.Context, rec model.TradeRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	h.broadcast(kindTrade, data)
	return nil
}

// envelope builds {"type":kind,"data":data,"seq":seq} without reflection.
func envelope(kind string, data []byte, seq int64) []byte {
	buf := make([]byte, 0, len(data)+48)
	buf = append(buf, `{"type":"`...)
	buf = append(buf, kind...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}

func (h *Hub) broadcast(kind string, data []byte) {
	h.mu.Lock()
	h.seq++
	seq := h.seq
	env := envelope(kind, data, seq)
	if kind == kindDraw {
		h.lastDraw = env
	}
	h.mu.Unlock()

	if kind == kindTrade {
		h.trades.Push(seq, env)
	}

	now := time.Now()
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.enqueue(env) {
			if h.metrics != nil {
				h.metrics.WSDroppedFrames.Inc()
			}
			continue
		}
		if kind == kindDraw {
			if at := c.gestureAt.Swap(0); at != 0 {
				h.Latency.Record(float64(now.UnixNano()-at) / 1e6)
			}
		}
	}
}

// ServeWS upgrades the request and registers the client. A client that
// reconnects with ?since=<seq> receives the trades it missed.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade error: %v", err)
		return
	}
	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)

	c := newClient(conn, h)
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	last := h.lastDraw
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(count))
	}
	log.Printf("[gateway] ws client connected (%d total)", count)

	for _, e := range h.trades.Since(since) {
		c.enqueue(e.Data)
	}
	if last != nil {
		c.enqueue(last)
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(count))
	}
	log.Printf("[gateway] ws client disconnected (%d left)", count)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.RUnlock()
	for _, conn := range conns {
		conn.Close()
	}
}
