package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the chart service.
// All helper methods are nil-safe so components run without metrics in tests.
type Metrics struct {
	// Periodic tasks
	TicksTotal   *prometheus.CounterVec   // labels: task
	TicksSkipped *prometheus.CounterVec   // labels: task, reason
	TickDur      *prometheus.HistogramVec // labels: task

	// Detection & lifecycle
	DetectionDur   prometheus.Histogram
	DetectionRuns  prometheus.Counter
	BoxesActive    prometheus.Gauge
	BoxesCompleted prometheus.Gauge
	BoxViolations  prometheus.Counter
	SignalsCurrent prometheus.Gauge

	// Simulator
	TradesTotal *prometheus.CounterVec // labels: action, reason
	SimBalance  prometheus.Gauge

	// Feed & series
	CandlesTotal    prometheus.Counter
	FeedErrors      prometheus.Counter
	FeedFetchDur    prometheus.Histogram
	RingBufOverflow prometheus.Counter
	CandleLag       prometheus.Gauge

	// Storage
	SQLiteCommitDur          prometheus.Histogram
	RedisWriteDur            prometheus.Histogram
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter

	// Renderer stream
	WSClients       prometheus.Gauge
	DrawPublishes   prometheus.Counter
	WSDroppedFrames prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg uses the Prometheus default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sda_ticks_total",
			Help: "Periodic task runs (by task)",
		}, []string{"task"}),
		TicksSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sda_ticks_skipped_total",
			Help: "Periodic task runs that did no work (by task, reason)",
		}, []string{"task", "reason"}),
		TickDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sda_tick_duration_seconds",
			Help:    "Periodic task latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"task"}),

		DetectionDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sda_detection_duration_seconds",
			Help:    "Consolidation detector run latency",
			Buckets: prometheus.DefBuckets,
		}),
		DetectionRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sda_detection_runs_total",
			Help: "Detector runs",
		}),
		BoxesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sda_boxes_active",
			Help: "Active consolidation boxes",
		}),
		BoxesCompleted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sda_boxes_completed",
			Help: "Completed consolidation boxes since detection started",
		}),
		BoxViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sda_box_violations_total",
			Help: "Closes outside an active box but inside its breakout band",
		}),
		SignalsCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sda_signals_current",
			Help: "Signals in the current signal set",
		}),

		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sda_sim_trades_total",
			Help: "Simulated trades (by action, reason)",
		}, []string{"action", "reason"}),
		SimBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sda_sim_balance",
			Help: "Simulator cash balance",
		}),

		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sda_candles_total",
			Help: "Candles accepted into the series",
		}),
		FeedErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sda_feed_errors_total",
			Help: "Failed feed fetches",
		}),
		FeedFetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sda_feed_fetch_duration_seconds",
			Help:    "Feed REST fetch latency",
			Buckets: prometheus.DefBuckets,
		}),
		RingBufOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sda_ringbuf_overflow_total",
			Help: "Ring buffer push overflows (dropped candles)",
		}),
		CandleLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sda_candle_lag_seconds",
			Help: "Lag between the newest candle open time and ingestion",
		}),

		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sda_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sda_redis_write_duration_seconds",
			Help:    "Redis publish latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sda_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sda_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sda_redis_buffered_writes_total",
			Help: "Redis publishes deferred or dropped while the circuit breaker was open",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sda_ws_clients",
			Help: "Connected renderer websocket clients",
		}),
		DrawPublishes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sda_draw_publishes_total",
			Help: "Draw model versions published",
		}),
		WSDroppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sda_ws_dropped_frames_total",
			Help: "Frames dropped for slow websocket clients",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.TicksSkipped,
		m.TickDur,
		m.DetectionDur,
		m.DetectionRuns,
		m.BoxesActive,
		m.BoxesCompleted,
		m.BoxViolations,
		m.SignalsCurrent,
		m.TradesTotal,
		m.SimBalance,
		m.CandlesTotal,
		m.FeedErrors,
		m.FeedFetchDur,
		m.RingBufOverflow,
		m.CandleLag,
		m.SQLiteCommitDur,
		m.RedisWriteDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.WSClients,
		m.DrawPublishes,
		m.WSDroppedFrames,
	)

	return m
}

// ObserveTick records one periodic task run.
func (m *Metrics) ObserveTick(task string, d time.Duration) {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues(task).Inc()
	m.TickDur.WithLabelValues(task).Observe(d.Seconds())
}

// SkipTick records a task run that did no work.
func (m *Metrics) SkipTick(task, reason string) {
	if m == nil {
		return
	}
	m.TicksSkipped.WithLabelValues(task, reason).Inc()
}

// ObserveDetection records one detector run.
func (m *Metrics) ObserveDetection(d time.Duration) {
	if m == nil {
		return
	}
	m.DetectionRuns.Inc()
	m.DetectionDur.Observe(d.Seconds())
}

// SetBoxes updates the box gauges.
func (m *Metrics) SetBoxes(active, completed, signals int) {
	if m == nil {
		return
	}
	m.BoxesActive.Set(float64(active))
	m.BoxesCompleted.Set(float64(completed))
	m.SignalsCurrent.Set(float64(signals))
}

func (m *Metrics) AddViolations(n int) {
	if m == nil || n == 0 {
		return
	}
	m.BoxViolations.Add(float64(n))
}

// ObserveTrade records a simulated trade and the resulting balance.
func (m *Metrics) ObserveTrade(action, reason string, balance float64) {
	if m == nil {
		return
	}
	m.TradesTotal.WithLabelValues(action, reason).Inc()
	m.SimBalance.Set(balance)
}

// ObserveCandles records n accepted candles and the lag of the newest one.
func (m *Metrics) ObserveCandles(n int, newest time.Time) {
	if m == nil || n == 0 {
		return
	}
	m.CandlesTotal.Add(float64(n))
	m.CandleLag.Set(time.Since(newest).Seconds())
}

func (m *Metrics) IncDrawPublishes() {
	if m == nil {
		return
	}
	m.DrawPublishes.Inc()
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected    bool      `json:"feed_connected"`
	LastCandleTime   time.Time `json:"last_candle_time"`
	RedisEnabled     bool      `json:"redis_enabled"`
	RedisConnected   bool      `json:"redis_connected"`
	SQLiteOK         bool      `json:"sqlite_ok"`
	DetectionRunning bool      `json:"detection_running"`
	SimulatorRunning bool      `json:"simulator_running"`
	Symbol           string    `json:"symbol"`
	Period           string    `json:"period"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastCandleTime(t time.Time) {
	h.mu.Lock()
	h.LastCandleTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetDetection(v bool) {
	h.mu.Lock()
	h.DetectionRunning = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSimulator(v bool) {
	h.mu.Lock()
	h.SimulatorRunning = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetInstrument(symbol, period string) {
	h.mu.Lock()
	h.Symbol, h.Period = symbol, period
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a ping and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// Report is the /healthz payload.
type Report struct {
	Status           string  `json:"status"`
	Uptime           string  `json:"uptime"`
	Symbol           string  `json:"symbol"`
	Period           string  `json:"period"`
	FeedConnected    bool    `json:"feed_connected"`
	LastCandleTime   string  `json:"last_candle_time"`
	CandleAge        string  `json:"candle_age"`
	DetectionRunning bool    `json:"detection_running"`
	SimulatorRunning bool    `json:"simulator_running"`
	RedisEnabled     bool    `json:"redis_enabled"`
	RedisConnected   bool    `json:"redis_connected"`
	RedisLatencyMs   float64 `json:"redis_latency_ms"`
	SQLiteOK         bool    `json:"sqlite_ok"`
	SQLiteLatencyMs  float64 `json:"sqlite_latency_ms"`
	LastCheckAt      string  `json:"last_check_at"`
}

// Report builds the current health report and its HTTP status code.
func (h *HealthStatus) Report() (Report, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK
	redisDown := h.RedisEnabled && !h.RedisConnected
	if !h.FeedConnected || !h.SQLiteOK || redisDown {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if !h.FeedConnected && !h.SQLiteOK {
		status = "unhealthy"
	}

	candleAge := ""
	if !h.LastCandleTime.IsZero() {
		candleAge = time.Since(h.LastCandleTime).Round(time.Millisecond).String()
	}

	return Report{
		Status:           status,
		Uptime:           time.Since(h.StartedAt).Round(time.Second).String(),
		Symbol:           h.Symbol,
		Period:           h.Period,
		FeedConnected:    h.FeedConnected,
		LastCandleTime:   h.LastCandleTime.Format(time.RFC3339),
		CandleAge:        candleAge,
		DetectionRunning: h.DetectionRunning,
		SimulatorRunning: h.SimulatorRunning,
		RedisEnabled:     h.RedisEnabled,
		RedisConnected:   h.RedisConnected,
		RedisLatencyMs:   h.RedisLatencyMs,
		SQLiteOK:         h.SQLiteOK,
		SQLiteLatencyMs:  h.SQLiteLatencyMs,
		LastCheckAt:      h.LastCheckAt.Format(time.RFC3339),
	}, code
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report, code := h.Report()
	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(report)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
