// Package session owns the chart state for one instrument and drives it from
// a scheduler.
//
// Every public method and every scheduled callback runs under one mutex, so a
// tick is atomic with respect to control calls and to the other ticks. Three
// periodic tasks exist: lifecycle (box tracking and signals), simulator, and
// render (animation stepping and draw model publication).
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"squeeze-chart/internal/metrics"
	"squeeze-chart/internal/model"
	"squeeze-chart/internal/ringbuf"
	"squeeze-chart/internal/scheduler"
	"squeeze-chart/internal/sda"
	"squeeze-chart/internal/series"
	"squeeze-chart/internal/simulator"
	"squeeze-chart/internal/trace"
	"squeeze-chart/internal/viewport"

	"go.opentelemetry.io/otel/attribute"
)

// Config is the per-session tuning.
type Config struct {
	Symbol string
	Period string

	Viewport     viewport.Config
	Detector     sda.DetectorConfig
	Tracker      sda.TrackerConfig
	Simulator    simulator.Config
	TolerancePct float64

	LifecycleInterval time.Duration
	SimulatorInterval time.Duration
	RenderFPS         int

	Width  float64
	Height float64
}

func DefaultConfig() Config {
	return Config{
		Symbol:            "BTCUSDT",
		Period:            "4h",
		Viewport:          viewport.DefaultConfig(),
		Detector:          sda.DefaultDetectorConfig(),
		Tracker:           sda.DefaultTrackerConfig(),
		Simulator:         simulator.DefaultConfig(),
		TolerancePct:      sda.DefaultTolerancePct,
		LifecycleInterval: time.Second,
		SimulatorInterval: 2 * time.Second,
		RenderFPS:         30,
		Width:             1200,
		Height:            600,
	}
}

// Option configures optional collaborators.
type Option func(*Session)

// WithRing makes every tick drain candles pushed by the feed goroutine.
func WithRing(r *ringbuf.Ring) Option { return func(s *Session) { s.ring = r } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Session) { s.metrics = m } }

func WithHealth(h *metrics.HealthStatus) Option { return func(s *Session) { s.health = h } }

// ArchiveFunc returns the archiver for one instrument.
type ArchiveFunc func(symbol, period string) model.CandleArchiver

// WithArchive hands every accepted candle to the archiver of the current instrument.
func WithArchive(fn ArchiveFunc) Option { return func(s *Session) { s.archive = fn } }

// WithTradeSink registers a consumer for simulator trade records.
func WithTradeSink(sink model.TradeSink) Option {
	return func(s *Session) { s.sinks = append(s.sinks, sink) }
}

// WithDrawPublisher registers a consumer for encoded draw models.
func WithDrawPublisher(p model.DrawPublisher) Option {
	return func(s *Session) { s.publishers = append(s.publishers, p) }
}

// AddDrawPublisher registers p on a constructed session. The gateway hub
// needs the session before it can be registered.
func (s *Session) AddDrawPublisher(p model.DrawPublisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishers = append(s.publishers, p)
}

// AddTradeSink registers sink, including on a simulator already running.
func (s *Session) AddTradeSink(sink model.TradeSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
	if s.sim != nil {
		s.sim.AddSink(sink)
	}
}

// Session is the single owner of series, viewport, boxes, signals and position.
type Session struct {
	mu sync.Mutex

	cfg   Config
	sched scheduler.Scheduler
	log   *slog.Logger

	store *series.Store
	ring    *ringbuf.Ring
	vp      *viewport.Controller
	archive ArchiveFunc

	detector  *sda.Detector
	tracker   *sda.Tracker
	detecting bool
	gen       uint64 // bumped on every detection start/stop; stale ticks compare against it
	signalsOn bool
	signals   []model.Signal

	simCfg     simulator.Config
	sim        *simulator.Simulator
	simulating bool

	sinks      []model.TradeSink
	publishers []model.DrawPublisher
	metrics    *metrics.Metrics
	health     *metrics.HealthStatus

	version   uint64
	published uint64
	overflow  uint64

	cancelLifecycle func()
	cancelSim       func()
	cancelRender    func()
	closed          bool
}

// New creates a session. Call Start to begin rendering.
func New(cfg Config, sched scheduler.Scheduler, opts ...Option) *Session {
	s := &Session{
		cfg:      cfg,
		sched:    sched,
		log:      slog.Default().With("component", "session", "symbol", cfg.Symbol, "period", cfg.Period),
		store:    series.New(),
		vp:       viewport.NewController(cfg.Viewport, cfg.Width, cfg.Height),
		detector: sda.NewDetector(cfg.Detector),
		tracker:  sda.NewTracker(cfg.Tracker),
		simCfg:   cfg.Simulator,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.bindArchive()
	if s.health != nil {
		s.health.SetInstrument(cfg.Symbol, cfg.Period)
	}
	return s
}

// Start schedules the render task.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.cancelRender != nil {
		return
	}
	fps := s.cfg.RenderFPS
	if fps <= 0 {
		fps = 30
	}
	s.cancelRender = s.sched.Every("render", time.Second/time.Duration(fps), s.renderTick)
}

// Close cancels every task. No callback runs after it returns.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.detecting, s.simulating = false, false
	s.gen++
	cancels := s.takeCancels(true)
	s.vp.Cancel()
	s.syncHealthLocked()
	s.mu.Unlock()

	for _, c := range cancels {
		c()
	}
}

func (s *Session) bindArchive() {
	if s.archive != nil {
		s.store.Archive = s.archive(s.cfg.Symbol, s.cfg.Period)
	}
}

// takeCancels detaches the task cancel funcs. They must be called after s.mu
// is released: Loop cancellation waits for a running callback, which may be
// blocked on s.mu.
func (s *Session) takeCancels(render bool) []func() {
	var out []func()
	if s.cancelLifecycle != nil {
		out = append(out, s.cancelLifecycle)
		s.cancelLifecycle = nil
	}
	if s.cancelSim != nil {
		out = append(out, s.cancelSim)
		s.cancelSim = nil
	}
	if render && s.cancelRender != nil {
		out = append(out, s.cancelRender)
		s.cancelRender = nil
	}
	return out
}

// SetSeries replaces the series after a full feed refresh. A different symbol
// or period stops detection and re-opens the viewport on the latest candles.
func (s *Session) SetSeries(symbol, period string, candles []model.Candle) error {
	if len(candles) == 0 {
		return model.ErrEmptyData
	}

	s.mu.Lock()
	var cancels []func()
	if symbol != s.cfg.Symbol || period != s.cfg.Period {
		s.log.Info("instrument changed", "new_symbol", symbol, "new_period", period)
		cancels = s.stopDetectionLocked()
		s.cfg.Symbol, s.cfg.Period = symbol, period
		s.log = slog.Default().With("component", "session", "symbol", symbol, "period", period)
		s.vp.Reset()
		s.bindArchive()
		if s.ring != nil {
			// Queued klines belong to the previous instrument.
			s.ring.Drain(func(model.Candle) {})
		}
		if s.health != nil {
			s.health.SetInstrument(symbol, period)
		}
	}
	s.store.Set(candles)
	err := s.vp.SetBounds(s.store.Snapshot())
	s.observeSeries(len(candles))
	s.version++
	s.syncHealthLocked()
	s.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	return err
}

// AppendCandle adds or replaces the newest candle.
func (s *Session) AppendCandle(c model.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Append(c); err != nil {
		return err
	}
	s.observeSeries(1)
	s.version++
	return s.vp.SetBounds(s.store.Snapshot())
}

// Ingest drains the feed ring into the series. Returns the number of
// candles accepted.
func (s *Session) Ingest() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ingestLocked()
}

func (s *Session) ingestLocked() int {
	if s.ring == nil {
		return 0
	}
	accepted := 0
	s.ring.Drain(func(c model.Candle) {
		if err := s.store.Append(c); err != nil {
			s.log.Debug("candle dropped", "error", err, "time", c.Time)
			return
		}
		accepted++
	})
	if of := s.ring.Overflow(); of > s.overflow {
		if s.metrics != nil {
			s.metrics.RingBufOverflow.Add(float64(of - s.overflow))
		}
		s.overflow = of
	}
	if accepted == 0 {
		return 0
	}
	s.observeSeries(accepted)
	s.version++
	if err := s.vp.SetBounds(s.store.Snapshot()); err != nil {
		s.log.Warn("viewport bounds", "error", err)
	}
	return accepted
}

func (s *Session) observeSeries(n int) {
	last, err := s.store.Last()
	if err != nil {
		return
	}
	s.metrics.ObserveCandles(n, last.Timestamp())
	if s.health != nil {
		s.health.SetLastCandleTime(last.Timestamp())
	}
}

// StartDetection runs the detector over the whole series and starts the
// lifecycle task. Calling it again re-runs detection.
func (s *Session) StartDetection(ctx context.Context) ([]model.Box, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("session closed")
	}

	s.ingestLocked()
	candles := s.store.Snapshot()
	if len(candles) == 0 {
		return nil, model.ErrEmptyData
	}

	_, span := trace.StartSpan(ctx, "sda.detect",
		attribute.String("symbol", s.cfg.Symbol),
		attribute.Int("candles", len(candles)))
	start := time.Now()
	boxes, err := s.detector.Detect(candles)
	span.SetAttributes(attribute.Int("boxes", len(boxes)))
	trace.Fail(span, err)
	span.End()
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	s.metrics.ObserveDetection(time.Since(start))

	s.tracker.Reset(boxes)
	s.signals = nil
	if s.signalsOn {
		s.signals = sda.GenerateSignals(s.tracker.All(), candles, s.cfg.TolerancePct)
	}
	s.metrics.SetBoxes(len(boxes), 0, len(s.signals))

	if !s.detecting {
		s.detecting = true
		s.gen++
		gen := s.gen
		s.cancelLifecycle = s.sched.Every("lifecycle", s.cfg.LifecycleInterval, func(now time.Time) {
			s.lifecycleTick(gen, now)
		})
	}
	s.version++
	s.log.Info("detection started", "boxes", len(boxes), "candles", len(candles), "took", time.Since(start))
	s.syncHealthLocked()
	return boxes, nil
}

// StopDetection cancels the lifecycle and simulator tasks, discards any
// animation and clears boxes and signals. The render task keeps running so the
// chart stays pannable; Close cancels all three.
func (s *Session) StopDetection() {
	s.mu.Lock()
	cancels := s.stopDetectionLocked()
	s.syncHealthLocked()
	s.mu.Unlock()

	for _, c := range cancels {
		c()
	}
}

func (s *Session) stopDetectionLocked() []func() {
	wasRunning := s.detecting
	s.detecting, s.simulating = false, false
	s.signalsOn = false
	s.gen++
	s.vp.Cancel()
	s.tracker.Reset(nil)
	s.signals = nil
	s.metrics.SetBoxes(0, 0, 0)
	s.version++
	if wasRunning {
		s.log.Info("detection stopped")
	}
	return s.takeCancels(false)
}

// ToggleSignals flips signal generation and returns the new state.
func (s *Session) ToggleSignals() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.detecting {
		return false, model.ErrNotRunning
	}
	s.signalsOn = !s.signalsOn
	if s.signalsOn {
		s.signals = sda.GenerateSignals(s.tracker.All(), s.store.Snapshot(), s.cfg.TolerancePct)
	} else {
		s.signals = nil
	}
	s.version++
	return s.signalsOn, nil
}

// ConfigureSimulator stores the bot settings for the next StartSimulator and
// returns the effective (clamped) values. A running simulation keeps its own.
func (s *Session) ConfigureSimulator(cfg simulator.Config) simulator.Config {
	eff, clamped := cfg.Clamp()
	if clamped {
		s.log.Warn("simulator config clamped", "error", model.ErrInvalidConfig, "requested", cfg, "effective", eff)
	}
	s.mu.Lock()
	s.simCfg = eff
	s.mu.Unlock()
	return eff
}

// SimulatorConfig returns the settings the next StartSimulator will use.
func (s *Session) SimulatorConfig() simulator.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.simCfg
}

// StartSimulator begins a fresh simulated run against the tracked boxes.
func (s *Session) StartSimulator() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.detecting {
		return "", model.ErrNotRunning
	}
	if s.simulating {
		return s.sim.RunID(), nil
	}

	s.sim = simulator.New(s.simCfg, s.cfg.Symbol)
	for _, sink := range s.sinks {
		s.sim.AddSink(sink)
	}
	s.simulating = true
	gen := s.gen
	s.cancelSim = s.sched.Every("simulator", s.cfg.SimulatorInterval, func(now time.Time) {
		s.simulatorTick(gen, now)
	})
	if s.metrics != nil {
		s.metrics.SimBalance.Set(s.sim.Position().Balance)
	}
	s.version++
	s.log.Info("simulator started", "run_id", s.sim.RunID(), "config", s.sim.Config())
	s.syncHealthLocked()
	return s.sim.RunID(), nil
}

// StopSimulator cancels the simulator task. The last run's position and
// history stay visible in the draw model.
func (s *Session) StopSimulator() {
	s.mu.Lock()
	if s.simulating {
		s.log.Info("simulator stopped", "run_id", s.sim.RunID())
	}
	s.simulating = false
	cancel := s.cancelSim
	s.cancelSim = nil
	s.version++
	s.syncHealthLocked()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Status is a compact view of the session flags.
type Status struct {
	Symbol     string `json:"symbol"`
	Period     string `json:"period"`
	Candles    int    `json:"candles"`
	Detecting  bool   `json:"detecting"`
	SignalsOn  bool   `json:"signals_on"`
	Simulating bool   `json:"simulating"`
	RunID      string `json:"run_id,omitempty"`
	Version    uint64 `json:"version"`
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Symbol:     s.cfg.Symbol,
		Period:     s.cfg.Period,
		Candles:    s.store.Len(),
		Detecting:  s.detecting,
		SignalsOn:  s.signalsOn,
		Simulating: s.simulating,
		Version:    s.version,
	}
	if s.sim != nil {
		st.RunID = s.sim.RunID()
	}
	return st
}

// Boxes returns active boxes followed by completed ones.
func (s *Session) Boxes() []model.Box {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.All()
}

// Signals returns the current signal set (nil while signals are off).
func (s *Session) Signals() []model.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Signal(nil), s.signals...)
}

// Trades returns the current (or last) simulator run's records.
func (s *Session) Trades() []model.TradeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sim == nil {
		return nil
	}
	return s.sim.History()
}

func (s *Session) syncHealthLocked() {
	if s.health == nil {
		return
	}
	s.health.SetDetection(s.detecting)
	s.health.SetSimulator(s.simulating)
}
