package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/pquerna/otp/totp"

	"squeeze-chart/internal/model"
)

// Selector switches the live feed instrument (feed.Binance).
type Selector interface {
	Select(symbol, period string) error
}

// TradeHistory serves recent trades from a durable store.
type TradeHistory interface {
	Recent(ctx context.Context, limit int) ([]model.TradeRecord, error)
}

// FrameStore returns the last published payload of one kind for a symbol.
// redis.Publisher implements it.
type FrameStore interface {
	Latest(ctx context.Context, symbol, kind string) ([]byte, error)
}

// Deps are the collaborators of the REST surface. Nil fields disable the
// endpoints that need them.
type Deps struct {
	Hub        *Hub
	Feed       Selector
	History    TradeHistory
	Frames     FrameStore // serves /draw while the session has no candles
	Health     http.Handler
	TOTPSecret string // empty disables the control guard
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-TOTP")
}

// RegisterRoutes registers /ws and the /api/v1 endpoints on mux.
func RegisterRoutes(mux *http.ServeMux, d Deps) {
	h := d.Hub
	ctrl := h.ctrl
	guard := totpGuard(d.TOTPSecret)

	mux.HandleFunc("GET /ws", h.ServeWS)
	mux.HandleFunc("OPTIONS /api/v1/", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.Handle("POST /api/v1/detection/start", guard(func(w http.ResponseWriter, r *http.Request) {
		boxes, err := ctrl.StartDetection(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, DetectionResp{Boxes: len(boxes), Status: ctrl.Status()})
	}))

	mux.Handle("POST /api/v1/detection/stop", guard(func(w http.ResponseWriter, r *http.Request) {
		ctrl.StopDetection()
		writeJSON(w, http.StatusOK, ctrl.Status())
	}))

	mux.Handle("POST /api/v1/signals/toggle", guard(func(w http.ResponseWriter, r *http.Request) {
		on, err := ctrl.ToggleSignals()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"signals_on": on})
	}))

	mux.Handle("POST /api/v1/simulator/config", guard(func(w http.ResponseWriter, r *http.Request) {
		cfg := ctrl.SimulatorConfig()
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Error: "invalid JSON: " + err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, ctrl.ConfigureSimulator(cfg))
	}))

	mux.Handle("POST /api/v1/simulator/start", guard(func(w http.ResponseWriter, r *http.Request) {
		runID, err := ctrl.StartSimulator()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"run_id": runID})
	}))

	mux.Handle("POST /api/v1/simulator/stop", guard(func(w http.ResponseWriter, r *http.Request) {
		ctrl.StopSimulator()
		writeJSON(w, http.StatusOK, ctrl.Status())
	}))

	mux.Handle("POST /api/v1/feed/select", guard(func(w http.ResponseWriter, r *http.Request) {
		if d.Feed == nil {
			writeJSON(w, http.StatusNotImplemented, ErrorResp{Error: "no live feed"})
			return
		}
		var req SelectReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Error: "invalid JSON: " + err.Error()})
			return
		}
		if err := d.Feed.Select(req.Symbol, req.Period); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, req)
	}))

	mux.HandleFunc("GET /api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ctrl.Status())
	})

	mux.HandleFunc("GET /api/v1/draw", func(w http.ResponseWriter, r *http.Request) {
		dm, err := ctrl.DrawModel()
		if errors.Is(err, model.ErrEmptyData) && d.Frames != nil {
			if frame := lastFrame(r.Context(), d.Frames, ctrl.Status().Symbol); frame != nil {
				SetCORS(w)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Frame-Source", "cache")
				w.Write(frame)
				return
			}
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, dm)
	})

	mux.HandleFunc("GET /api/v1/trades", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 100
		}
		if d.History == nil {
			trades := ctrl.Trades()
			if trades == nil {
				trades = []model.TradeRecord{}
			}
			if len(trades) > limit {
				trades = trades[len(trades)-limit:]
			}
			writeJSON(w, http.StatusOK, trades)
			return
		}
		trades, err := d.History.Recent(r.Context(), limit)
		if err != nil {
			log.Printf("[gateway] trade history: %v", err)
			writeJSON(w, http.StatusInternalServerError, ErrorResp{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, trades)
	})

	mux.HandleFunc("GET /api/v1/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.Stats())
	})

	if d.Health != nil {
		mux.Handle("GET /api/v1/health", d.Health)
	}
}

func lastFrame(ctx context.Context, fs FrameStore, symbol string) []byte {
	frame, err := fs.Latest(ctx, symbol, kindDraw)
	if err != nil {
		log.Printf("[gateway] cached frame for %s: %v", symbol, err)
		return nil
	}
	return frame
}

// totpGuard requires a valid X-TOTP code on control endpoints when secret is set.
func totpGuard(secret string) func(http.HandlerFunc) http.Handler {
	return func(next http.HandlerFunc) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			SetCORS(w)
			if secret != "" && !totp.Validate(r.Header.Get("X-TOTP"), secret) {
				log.Printf("[gateway] rejected %s %s: bad TOTP", r.Method, r.URL.Path)
				writeJSON(w, http.StatusUnauthorized, ErrorResp{Error: "invalid or missing X-TOTP"})
				return
			}
			next(w, r)
		})
	}
}

// Stats is the /api/v1/stats payload.
type Stats struct {
	Clients      int     `json:"clients"`
	LatencyP50   float64 `json:"gesture_latency_p50_ms"`
	LatencyP95   float64 `json:"gesture_latency_p95_ms"`
	LatencyP99   float64 `json:"gesture_latency_p99_ms"`
	Goroutines   int     `json:"goroutines"`
	HeapAllocMB  float64 `json:"heap_alloc_mb"`
	GCRuns       uint32  `json:"gc_runs"`
	UptimeSec    int64   `json:"uptime_sec"`
	TradesBuffer int     `json:"trades_buffered"`
}

// Stats collects stream and runtime figures.
func (h *Hub) Stats() Stats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s := Stats{
		Clients:      h.ClientCount(),
		Goroutines:   runtime.NumGoroutine(),
		HeapAllocMB:  float64(ms.HeapAlloc) / (1 << 20),
		GCRuns:       ms.NumGC,
		UptimeSec:    int64(time.Since(h.started).Seconds()),
		TradesBuffer: h.trades.Len(),
	}
	s.LatencyP50, s.LatencyP95, s.LatencyP99 = h.Latency.Percentiles()
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[gateway] encode response: %v", err)
	}
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrEmptyData), errors.Is(err, model.ErrNotRunning):
		status = http.StatusConflict
	case errors.Is(err, model.ErrInvalidConfig), errors.Is(err, model.ErrDegenerateRange):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, ErrorResp{Error: err.Error()})
}
