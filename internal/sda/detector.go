// Package sda implements the Squeeze Detection Algorithm: finding price
// consolidation boxes in a candle series, tracking their lifecycle as new prices
// arrive, and deriving edge-touch signals from them.
//
// Everything here is pure computation over candle slices. Nothing mutates the
// candles it is given and nothing does I/O.
package sda

import (
	"fmt"
	"math"
	"sort"

	"squeeze-chart/internal/model"
)

// DetectorConfig parameterises the box search. Percentages are in percent (5 == 5%).
type DetectorConfig struct {
	MinWindow         int     `yaml:"min_window"`
	MaxWindow         int     `yaml:"max_window"`
	WindowStep        int     `yaml:"window_step"`
	RangeThresholdPct float64 `yaml:"range_threshold_pct"`
	MinInRangeRatio   float64 `yaml:"min_in_range_ratio"`
	MaxDistancePct    float64 `yaml:"max_distance_pct"`

	// InnerBandPct shrinks the band used for the in-range count by this share
	// of the window height from each edge. 0 counts against the window's own
	// extremes, where every candle qualifies.
	InnerBandPct float64 `yaml:"inner_band_pct"`
}

// DefaultDetectorConfig returns the reference settings.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		MinWindow:         20,
		MaxWindow:         50,
		WindowStep:        5,
		RangeThresholdPct: 5,
		MinInRangeRatio:   0.8,
		MaxDistancePct:    20,
		InnerBandPct:      0,
	}
}

func (c DetectorConfig) Validate() error {
	switch {
	case c.MinWindow < 2:
		return fmt.Errorf("detector min_window %d must be >= 2", c.MinWindow)
	case c.MaxWindow < c.MinWindow:
		return fmt.Errorf("detector max_window %d < min_window %d", c.MaxWindow, c.MinWindow)
	case c.WindowStep < 1:
		return fmt.Errorf("detector window_step %d must be >= 1", c.WindowStep)
	case c.RangeThresholdPct <= 0:
		return fmt.Errorf("detector range_threshold_pct %v must be > 0", c.RangeThresholdPct)
	case c.MinInRangeRatio < 0 || c.MinInRangeRatio > 1:
		return fmt.Errorf("detector min_in_range_ratio %v must be in [0,1]", c.MinInRangeRatio)
	case c.InnerBandPct < 0 || c.InnerBandPct >= 50:
		return fmt.Errorf("detector inner_band_pct %v must be in [0,50)", c.InnerBandPct)
	}
	return nil
}

// Detector finds consolidation boxes.
type Detector struct {
	cfg DetectorConfig
}

func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Detect scans every window size over the whole series and returns the
// resolved, time-disjoint set of Active boxes ordered by start time.
// Current price is the close of the last candle.
func (d *Detector) Detect(candles []model.Candle) ([]model.Box, error) {
	if len(candles) == 0 {
		return nil, model.ErrEmptyData
	}
	price := candles[len(candles)-1].Close
	if price <= 0 {
		return nil, nil
	}

	var candidates []model.Box
	for w := d.cfg.MinWindow; w <= d.cfg.MaxWindow; w += d.cfg.WindowStep {
		if w > len(candles) {
			break
		}
		candidates = d.scan(candles, w, price, candidates)
	}
	return resolveOverlaps(candidates), nil
}

// scan slides a window of w candles over the series. Window extremes come from
// monotonic deques so each window size costs O(n) before the in-range count.
func (d *Detector) scan(candles []model.Candle, w int, price float64, out []model.Box) []model.Box {
	var maxQ, minQ deque
	for i := range candles {
		for maxQ.len() > 0 && candles[maxQ.back()].High <= candles[i].High {
			maxQ.popBack()
		}
		maxQ.push(i)
		for minQ.len() > 0 && candles[minQ.back()].Low >= candles[i].Low {
			minQ.popBack()
		}
		minQ.push(i)

		start := i - w + 1
		if start < 0 {
			continue
		}
		for maxQ.front() < start {
			maxQ.popFront()
		}
		for minQ.front() < start {
			minQ.popFront()
		}

		high := candles[maxQ.front()].High
		low := candles[minQ.front()].Low
		if low <= 0 {
			continue
		}
		if (high-low)/low*100 > d.cfg.RangeThresholdPct {
			continue
		}

		inRange := d.inRange(candles[start:i+1], high, low)
		if float64(inRange)/float64(w) < d.cfg.MinInRangeRatio {
			continue
		}

		dist := math.Min(math.Abs(price-high), math.Abs(price-low)) / price * 100
		if dist > d.cfg.MaxDistancePct {
			continue
		}

		out = append(out, model.Box{
			Upper:      high,
			Lower:      low,
			StartTime:  candles[start].Time,
			EndTime:    candles[i].Time,
			TouchCount: inRange,
			Status:     model.BoxActive,
		})
	}
	return out
}

func (d *Detector) inRange(window []model.Candle, high, low float64) int {
	if d.cfg.InnerBandPct == 0 {
		return len(window)
	}
	shrink := (high - low) * d.cfg.InnerBandPct / 100
	top, bottom := high-shrink, low+shrink
	n := 0
	for i := range window {
		if window[i].High <= top && window[i].Low >= bottom {
			n++
		}
	}
	return n
}

// resolveOverlaps sorts by start time and sweeps: a candidate overlapping the
// last accepted box replaces it when longer, or equally long with more
// touches; otherwise it is dropped. Accepted boxes are disjoint and sorted, so
// a candidate can only ever overlap the last one.
func resolveOverlaps(candidates []model.Box) []model.Box {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].StartTime < candidates[j].StartTime
	})

	var out []model.Box
	for _, b := range candidates {
		if len(out) == 0 {
			out = append(out, b)
			continue
		}
		last := &out[len(out)-1]
		if !b.Overlaps(last) {
			out = append(out, b)
			continue
		}
		bl, ll := b.Duration(), last.Duration()
		if bl > ll || (bl == ll && b.TouchCount > last.TouchCount) {
			*last = b
		}
	}
	return out
}

// deque is an index queue backed by a slice; popFront advances a head offset.
type deque struct {
	buf  []int
	head int
}

func (q *deque) len() int { return len(q.buf) - q.head }
func (q *deque) push(i int) { q.buf = append(q.buf, i) }
func (q *deque) front() int { return q.buf[q.head] }
func (q *deque) back() int { return q.buf[len(q.buf)-1] }
func (q *deque) popFront() { q.head++ }
func (q *deque) popBack() { q.buf = q.buf[:len(q.buf)-1] }
