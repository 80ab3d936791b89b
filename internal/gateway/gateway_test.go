package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"

	"squeeze-chart/internal/model"
	"squeeze-chart/internal/scheduler"
	"squeeze-chart/internal/session"
)

const hourMs = int64(time.Hour / time.Millisecond)

// squeeze: a climb into a flat run so detection finds exactly one box.
func squeeze() []model.Candle {
	base := int64(1_700_000_000_000)
	var out []model.Candle
	for i := 0; i < 60; i++ {
		c := 60 + 0.6*float64(i)
		out = append(out, model.Candle{Time: base + int64(i)*hourMs, Open: c - 0.3, High: c + 0.5, Low: c - 0.5, Close: c})
	}
	for i := 60; i < 100; i++ {
		out = append(out, model.Candle{Time: base + int64(i)*hourMs, Open: 100, High: 101, Low: 99, Close: 100})
	}
	return out
}

type fakeFeed struct{ symbol, period string }

func (f *fakeFeed) Select(symbol, period string) error {
	if period == "7m" {
		return model.ErrInvalidConfig
	}
	f.symbol, f.period = symbol, period
	return nil
}

func newTestServer(t *testing.T, secret string) (*httptest.Server, *session.Session, *Hub, *fakeFeed) {
	t.Helper()
	s := session.New(session.DefaultConfig(), scheduler.NewManual(time.UnixMilli(1_700_000_000_000)))
	t.Cleanup(s.Close)
	hub := NewHub(s, nil)
	feed := &fakeFeed{}
	mux := http.NewServeMux()
	RegisterRoutes(mux, Deps{Hub: hub, Feed: feed, TOTPSecret: secret})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)
	return srv, s, hub, feed
}

func do(t *testing.T, method, url, body string, hdr map[string]string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp.StatusCode, buf.Bytes()
}

func TestRoutes_ControlFlow(t *testing.T) {
	srv, s, _, feed := newTestServer(t, "")
	api := srv.URL + "/api/v1"

	if code, _ := do(t, "POST", api+"/detection/start", "", nil); code != http.StatusConflict {
		t.Fatalf("start on empty series: %d", code)
	}
	if code, _ := do(t, "POST", api+"/signals/toggle", "", nil); code != http.StatusConflict {
		t.Fatalf("toggle without detection: %d", code)
	}

	if err := s.SetSeries("BTCUSDT", "1h", squeeze()); err != nil {
		t.Fatal(err)
	}

	code, body := do(t, "POST", api+"/detection/start", "", nil)
	var det DetectionResp
	if code != http.StatusOK || json.Unmarshal(body, &det) != nil || det.Boxes != 1 || !det.Status.Detecting {
		t.Fatalf("detection/start = %d %s", code, body)
	}

	code, body = do(t, "POST", api+"/signals/toggle", "", nil)
	if code != http.StatusOK || !strings.Contains(string(body), `"signals_on":true`) {
		t.Fatalf("signals/toggle = %d %s", code, body)
	}

	code, body = do(t, "POST", api+"/simulator/config", `{"min_profit_pct": 50, "max_stop_pct": 1}`, nil)
	if code != http.StatusOK || !strings.Contains(string(body), `"min_profit_pct":5`) {
		t.Fatalf("simulator/config should clamp: %d %s", code, body)
	}
	if code, _ := do(t, "POST", api+"/simulator/config", `{`, nil); code != http.StatusBadRequest {
		t.Fatalf("bad config JSON: %d", code)
	}

	code, body = do(t, "POST", api+"/simulator/start", "", nil)
	if code != http.StatusOK || !strings.Contains(string(body), "run_id") {
		t.Fatalf("simulator/start = %d %s", code, body)
	}

	code, body = do(t, "GET", api+"/draw", "", nil)
	var dm session.DrawModel
	if code != http.StatusOK || json.Unmarshal(body, &dm) != nil || len(dm.Boxes) != 1 || !dm.Simulating {
		t.Fatalf("draw = %d %s", code, body)
	}

	if code, body := do(t, "GET", api+"/trades", "", nil); code != http.StatusOK || string(bytes.TrimSpace(body)) != "[]" {
		t.Fatalf("trades = %d %s", code, body)
	}

	code, body = do(t, "POST", api+"/detection/stop", "", nil)
	if code != http.StatusOK || !strings.Contains(string(body), `"detecting":false`) {
		t.Fatalf("detection/stop = %d %s", code, body)
	}
	if st := s.Status(); st.Simulating || st.SignalsOn {
		t.Fatalf("stop should clear simulator and signals: %+v", st)
	}

	if code, _ := do(t, "POST", api+"/feed/select", `{"symbol":"ETHUSDT","period":"7m"}`, nil); code != http.StatusBadRequest {
		t.Fatalf("bad period accepted: %d", code)
	}
	if code, _ := do(t, "POST", api+"/feed/select", `{"symbol":"ETHUSDT","period":"1d"}`, nil); code != http.StatusAccepted {
		t.Fatalf("select = %d", code)
	}
	if feed.symbol != "ETHUSDT" || feed.period != "1d" {
		t.Errorf("feed got %s %s", feed.symbol, feed.period)
	}

	if code, _ := do(t, "GET", api+"/detection/start", "", nil); code != http.StatusMethodNotAllowed {
		t.Errorf("GET on a control endpoint: %d", code)
	}
}

func TestRoutes_TOTPGuard(t *testing.T) {
	const secret = "JBSWY3DPEHPK3PXP"
	srv, _, _, _ := newTestServer(t, secret)
	url := srv.URL + "/api/v1/detection/stop"

	code, _ := do(t, "POST", url, "", nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("missing code: %d", code)
	}
	if code, _ := do(t, "POST", url, "", map[string]string{"X-TOTP": "000000"}); code != http.StatusUnauthorized {
		t.Fatalf("wrong code: %d", code)
	}

	pass, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if code, _ := do(t, "POST", url, "", map[string]string{"X-TOTP": pass}); code != http.StatusOK {
		t.Fatalf("valid code rejected: %d", code)
	}

	// Reads stay open.
	if code, _ := do(t, "GET", srv.URL+"/api/v1/status", "", nil); code != http.StatusOK {
		t.Fatalf("status behind guard: %d", code)
	}
}

type wsEnvelope struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Seq   int64           `json:"seq"`
	Error string          `json:"error"`
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) wsEnvelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env wsEnvelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_StreamsFramesAndTrades(t *testing.T) {
	srv, _, hub, _ := newTestServer(t, "")
	conn := dial(t, srv, "")
	waitFor(t, "client registration", func() bool { return hub.ClientCount() == 1 })

	ctx := context.Background()
	hub.PublishDraw(ctx, []byte(`{"version":7}`))
	env := read(t, conn)
	if env.Type != "draw" || env.Seq != 1 || string(env.Data) != `{"version":7}` {
		t.Fatalf("draw envelope = %+v", env)
	}

	hub.RecordTrade(ctx, model.TradeRecord{ID: "t1", Action: model.ActionBuy, Price: 99.1})
	env = read(t, conn)
	var rec model.TradeRecord
	if env.Type != "trade" || env.Seq != 2 || json.Unmarshal(env.Data, &rec) != nil || rec.ID != "t1" {
		t.Fatalf("trade envelope = %+v", env)
	}

	// A reconnecting client gets missed trades and the newest frame.
	hub.RecordTrade(ctx, model.TradeRecord{ID: "t2", Action: model.ActionSell})
	late := dial(t, srv, "?since=2")
	if env := read(t, late); env.Type != "trade" || env.Seq != 3 {
		t.Fatalf("replayed trade = %+v", env)
	}
	if env := read(t, late); env.Type != "draw" || env.Seq != 1 {
		t.Fatalf("initial frame = %+v", env)
	}
}

func TestHub_GesturesDriveSession(t *testing.T) {
	srv, s, hub, _ := newTestServer(t, "")
	if err := s.SetSeries("BTCUSDT", "1h", squeeze()); err != nil {
		t.Fatal(err)
	}
	conn := dial(t, srv, "")
	waitFor(t, "client registration", func() bool { return hub.ClientCount() == 1 })

	if err := conn.WriteJSON(GestureMsg{Type: GestureResize, Width: 800, Height: 400}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "resize", func() bool {
		dm, err := s.DrawModel()
		return err == nil && dm.Width == 800 && dm.Height == 400
	})

	if err := conn.WriteJSON(GestureMsg{Type: GestureHover, X: 400, Y: 100}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "crosshair", func() bool {
		dm, err := s.DrawModel()
		return err == nil && dm.Crosshair != nil
	})

	conn.WriteJSON(GestureMsg{Type: "SPIN"})
	if env := read(t, conn); env.Type != "error" || !strings.Contains(env.Error, "SPIN") {
		t.Fatalf("unknown gesture reply = %+v", env)
	}

	conn.WriteJSON(GestureMsg{Type: GestureResize})
	if env := read(t, conn); env.Type != "error" {
		t.Fatalf("zero resize reply = %+v", env)
	}

	// The next frame answers the pending gesture.
	hub.PublishDraw(context.Background(), []byte(`{}`))
	read(t, conn)
	if hub.Latency.Count() != 1 {
		t.Errorf("gesture latency samples = %d", hub.Latency.Count())
	}
}

func TestRoutes_SimulatorConfigKeepsTuning(t *testing.T) {
	cfg := session.DefaultConfig()
	cfg.Simulator.TolerancePct = 0.5
	cfg.Simulator.MinCandles = 30
	s := session.New(cfg, scheduler.NewManual(time.UnixMilli(1_700_000_000_000)))
	t.Cleanup(s.Close)
	mux := http.NewServeMux()
	RegisterRoutes(mux, Deps{Hub: NewHub(s, nil)})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	code, body := do(t, "POST", srv.URL+"/api/v1/simulator/config", `{"min_profit_pct": 2}`, nil)
	if code != http.StatusOK {
		t.Fatalf("simulator/config = %d %s", code, body)
	}
	got := s.SimulatorConfig()
	if got.MinProfitPct != 2 || got.TolerancePct != 0.5 || got.MinCandles != 30 {
		t.Errorf("tuned fields lost: %+v", got)
	}
}

type fakeFrames struct {
	frames map[string][]byte
	asked  string
}

func (f *fakeFrames) Latest(_ context.Context, symbol, kind string) ([]byte, error) {
	f.asked = symbol + ":" + kind
	return f.frames[symbol+":"+kind], nil
}

func TestRoutes_DrawFallsBackToCachedFrame(t *testing.T) {
	s := session.New(session.DefaultConfig(), scheduler.NewManual(time.UnixMilli(1_700_000_000_000)))
	t.Cleanup(s.Close)
	frames := &fakeFrames{frames: map[string][]byte{"BTCUSDT:draw": []byte(`{"version":42}`)}}
	mux := http.NewServeMux()
	RegisterRoutes(mux, Deps{Hub: NewHub(s, nil), Frames: frames})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	code, body := do(t, "GET", srv.URL+"/api/v1/draw", "", nil)
	if code != http.StatusOK || string(body) != `{"version":42}` {
		t.Fatalf("cached draw = %d %s", code, body)
	}
	if frames.asked != "BTCUSDT:draw" {
		t.Errorf("asked for %q", frames.asked)
	}

	delete(frames.frames, "BTCUSDT:draw")
	if code, _ := do(t, "GET", srv.URL+"/api/v1/draw", "", nil); code != http.StatusConflict {
		t.Errorf("no cached frame should report empty data, got %d", code)
	}

	if err := s.SetSeries("BTCUSDT", "1h", squeeze()); err != nil {
		t.Fatal(err)
	}
	frames.asked = ""
	code, body = do(t, "GET", srv.URL+"/api/v1/draw", "", nil)
	var dm session.DrawModel
	if code != http.StatusOK || json.Unmarshal(body, &dm) != nil || len(dm.Candles) == 0 {
		t.Fatalf("live draw = %d", code)
	}
	if frames.asked != "" {
		t.Error("cache consulted while the session has data")
	}
}
