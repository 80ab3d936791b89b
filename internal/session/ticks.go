package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"squeeze-chart/internal/logger"
	"squeeze-chart/internal/model"
	"squeeze-chart/internal/sda"
	"squeeze-chart/internal/simulator"
	"squeeze-chart/internal/trace"
)

// lifecycleTick: ingest, box status updates, then signal regeneration.
// gen pins the tick to the detection run that scheduled it.
func (s *Session) lifecycleTick(gen uint64, now time.Time) {
	start := time.Now()
	ctx := logger.WithTickID(context.Background(), logger.GenerateTickID("lifecycle", now))

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.detecting || gen != s.gen {
		return
	}
	defer func() { s.metrics.ObserveTick("lifecycle", time.Since(start)) }()

	s.ingestLocked()
	candles := s.store.Snapshot()
	if len(candles) == 0 {
		s.metrics.SkipTick("lifecycle", "empty")
		return
	}

	ctx, span := trace.StartSpan(ctx, "sda.lifecycle", attribute.Int("candles", len(candles)))
	defer span.End()

	res, err := s.tracker.Update(candles, len(candles)-1)
	if err != nil {
		trace.Fail(span, err)
		s.metrics.SkipTick("lifecycle", "error")
		s.log.Warn("lifecycle update failed", append(logger.TickAttrs(ctx), "error", err)...)
		return
	}
	s.metrics.AddViolations(res.Violations)
	for _, b := range res.Completed {
		s.log.Info("box completed", append(logger.TickAttrs(ctx),
			"upper", b.Upper,
			"lower", b.Lower,
			"start", b.StartTime,
			"end", b.EndTime,
			"violations", b.ViolationCount,
			"price", res.Price)...)
	}

	if s.signalsOn {
		s.signals = sda.GenerateSignals(s.tracker.All(), candles, s.cfg.TolerancePct)
	}
	active := len(s.tracker.Active())
	completed := len(s.tracker.Completed())
	s.metrics.SetBoxes(active, completed, len(s.signals))
	span.SetAttributes(
		attribute.Int("active", active),
		attribute.Int("completed", completed),
		attribute.Bool("extended", res.Extended))

	if res.Violations > 0 || res.Extended || len(res.Completed) > 0 || s.signalsOn {
		s.version++
	}
}

// simulatorTick feeds the latest close and the newest active box to the bot.
func (s *Session) simulatorTick(gen uint64, now time.Time) {
	start := time.Now()
	ctx := logger.WithTickID(context.Background(), logger.GenerateTickID("simulator", now))

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.simulating || gen != s.gen {
		return
	}
	defer func() { s.metrics.ObserveTick("simulator", time.Since(start)) }()

	s.ingestLocked()
	ctx, span := trace.StartSpan(ctx, "sim.tick", attribute.String("run_id", s.sim.RunID()))
	defer span.End()

	rec, err := s.sim.Tick(ctx, now, s.store.Snapshot(), s.tracker.Latest())
	switch {
	case errors.Is(err, model.ErrEmptyData):
		s.metrics.SkipTick("simulator", "empty")
		return
	case errors.Is(err, simulator.ErrWarmup):
		s.metrics.SkipTick("simulator", "warmup")
		s.log.Debug("simulator warming up", append(logger.TickAttrs(ctx), "error", err)...)
		return
	case err != nil:
		trace.Fail(span, err)
		s.metrics.SkipTick("simulator", "error")
		s.log.Warn("simulator tick failed", append(logger.TickAttrs(ctx), "error", err)...)
		return
	}
	if rec == nil {
		return
	}
	span.SetAttributes(
		attribute.String("action", string(rec.Action)),
		attribute.String("reason", rec.Reason),
		attribute.Float64("price", rec.Price))
	s.metrics.ObserveTrade(string(rec.Action), rec.Reason, rec.Balance)
	s.version++
}

// renderTick steps the viewport animation and publishes the draw model when
// anything changed since the last publication.
func (s *Session) renderTick(now time.Time) {
	start := time.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.ingestLocked()
	if s.vp.Step(now) {
		s.version++
	}
	if s.version == s.published || len(s.publishers) == 0 {
		s.mu.Unlock()
		return
	}
	dm, err := s.drawModelLocked()
	if err != nil {
		s.published = s.version
		s.mu.Unlock()
		s.metrics.SkipTick("render", reasonFor(err))
		return
	}
	s.published = dm.Version
	publishers := s.publishers
	s.mu.Unlock()

	data, err := json.Marshal(dm)
	if err != nil {
		s.log.Error("draw model encode failed", "error", err)
		return
	}
	ctx := context.Background()
	for _, p := range publishers {
		if err := p.PublishDraw(ctx, data); err != nil {
			s.log.Debug("draw publish failed", "error", err)
		}
	}
	s.metrics.IncDrawPublishes()
	s.metrics.ObserveTick("render", time.Since(start))
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, model.ErrEmptyData):
		return "empty"
	case errors.Is(err, model.ErrDegenerateRange):
		return "degenerate"
	default:
		return "error"
	}
}
