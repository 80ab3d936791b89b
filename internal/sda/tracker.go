package sda

import (
	"fmt"

	"squeeze-chart/internal/model"
	"squeeze-chart/internal/series"
)

// TrackerConfig parameterises the box lifecycle.
type TrackerConfig struct {
	BreakoutPct   float64 `yaml:"breakout_pct"`   // band beyond the edges that ends a box at once
	MaxViolations int     `yaml:"max_violations"` // closes outside the box tolerated before completion
	ExtendCandles int     `yaml:"extend_candles"`
}

func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{BreakoutPct: 10, MaxViolations: 10, ExtendCandles: 10}
}

func (c TrackerConfig) Validate() error {
	switch {
	case c.BreakoutPct <= 0:
		return fmt.Errorf("tracker breakout_pct %v must be > 0", c.BreakoutPct)
	case c.MaxViolations < 0:
		return fmt.Errorf("tracker max_violations %d must be >= 0", c.MaxViolations)
	case c.ExtendCandles < 0:
		return fmt.Errorf("tracker extend_candles %d must be >= 0", c.ExtendCandles)
	}
	return nil
}

// TickResult summarises one lifecycle update.
type TickResult struct {
	Price      float64     // close used for the update
	Completed  []model.Box // boxes that completed on this tick
	Violations int         // violation increments on this tick
	Extended   bool        // newest active box had its end pushed forward
}

// Tracker owns the box set between detection runs. Active boxes are kept in
// start-time order; completed boxes are append-only and unique by (start, end).
type Tracker struct {
	cfg       TrackerConfig
	active    []model.Box
	completed []model.Box
	seen      map[model.BoxKey]struct{}
}

func NewTracker(cfg TrackerConfig) *Tracker {
	return &Tracker{cfg: cfg, seen: make(map[model.BoxKey]struct{})}
}

// Reset replaces the active set with a fresh detection result and clears the
// completed set.
func (t *Tracker) Reset(boxes []model.Box) {
	t.active = append([]model.Box(nil), boxes...)
	t.completed = nil
	t.seen = make(map[model.BoxKey]struct{})
}

// Update applies the close of candles[latestIdx] to every active box.
//
// Price beyond the breakout band completes a box; price outside the box but
// inside the band counts a violation, and more than MaxViolations completes it.
// The newest active box is then stretched to ExtendCandles candles past
// latestIdx while price sits inside it. latestIdx < len(candles)-1 lets a
// replay track a cursor inside a fully known history.
func (t *Tracker) Update(candles []model.Candle, latestIdx int) (TickResult, error) {
	if len(candles) == 0 {
		return TickResult{}, model.ErrEmptyData
	}
	if latestIdx < 0 || latestIdx >= len(candles) {
		return TickResult{}, fmt.Errorf("latest index %d out of range [0,%d)", latestIdx, len(candles))
	}

	price := candles[latestIdx].Close
	res := TickResult{Price: price}
	upperBand := 1 + t.cfg.BreakoutPct/100
	lowerBand := 1 - t.cfg.BreakoutPct/100

	for i := range t.active {
		b := &t.active[i]
		switch {
		case price > b.Upper*upperBand || price < b.Lower*lowerBand:
			b.Status = model.BoxCompleted
		case !b.Contains(price):
			b.ViolationCount++
			res.Violations++
			if b.ViolationCount > t.cfg.MaxViolations {
				b.Status = model.BoxCompleted
			}
		}
	}

	if n := len(t.active); n > 0 {
		newest := &t.active[n-1]
		if newest.Status == model.BoxActive && newest.Contains(price) {
			if end := t.extensionTarget(candles, latestIdx); end > newest.EndTime {
				newest.EndTime = end
				res.Extended = true
			}
		}
	}

	kept := t.active[:0]
	for _, b := range t.active {
		if b.Status == model.BoxActive {
			kept = append(kept, b)
			continue
		}
		res.Completed = append(res.Completed, b)
		if _, dup := t.seen[b.Key()]; dup {
			continue
		}
		t.seen[b.Key()] = struct{}{}
		t.completed = append(t.completed, b)
	}
	t.active = kept
	return res, nil
}

// extensionTarget is the time ExtendCandles candles past latestIdx, projected
// with the average interval when the series does not reach that far.
func (t *Tracker) extensionTarget(candles []model.Candle, latestIdx int) int64 {
	ahead := latestIdx + t.cfg.ExtendCandles
	if ahead < len(candles) {
		return candles[ahead].Time
	}
	interval := series.AverageInterval(candles[:latestIdx+1])
	return candles[latestIdx].Time + int64(interval*float64(t.cfg.ExtendCandles))
}

// Active returns a copy of the active boxes in start-time order.
func (t *Tracker) Active() []model.Box {
	return append([]model.Box(nil), t.active...)
}

// Completed returns a copy of the completed boxes in completion order.
func (t *Tracker) Completed() []model.Box {
	return append([]model.Box(nil), t.completed...)
}

// All returns active boxes followed by completed ones.
func (t *Tracker) All() []model.Box {
	out := make([]model.Box, 0, len(t.active)+len(t.completed))
	out = append(out, t.active...)
	return append(out, t.completed...)
}

// Latest returns the newest active box, or nil when none is active.
func (t *Tracker) Latest() *model.Box {
	if len(t.active) == 0 {
		return nil
	}
	b := t.active[len(t.active)-1]
	return &b
}
