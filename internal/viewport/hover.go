package viewport

import (
	"math"

	"squeeze-chart/internal/model"
)

// Crosshair is the pointer position translated into data space, plus the candle
// under it when one is close enough.
type Crosshair struct {
	X      float64       `json:"x"`
	Y      float64       `json:"y"`
	Time   float64       `json:"time"`
	Price  float64       `json:"price"`
	Candle *model.Candle `json:"candle,omitempty"`
}

// Hover records the pointer position over the surface.
func (c *Controller) Hover(x, y float64) { c.hover = &pointerPos{x: x, y: y} }

// Leave clears the pointer position.
func (c *Controller) Leave() { c.hover = nil }

// Crosshair resolves the recorded pointer against m and the visible candles.
// Returns nil when the pointer has left the surface.
func (c *Controller) Crosshair(m Mapper, candles []model.Candle) *Crosshair {
	if c.hover == nil {
		return nil
	}
	ch := &Crosshair{
		X:     c.hover.x,
		Y:     c.hover.y,
		Time:  m.ToTime(c.hover.x),
		Price: m.ToPrice(c.hover.y),
	}
	if i, ok := NearestCandle(candles, m.Window, ch.Time); ok {
		cc := candles[i]
		ch.Candle = &cc
	}
	return ch
}

// NearestCandle finds the visible candle closest to t. It only matches within
// half an estimated candle width (visible width / visible count).
func NearestCandle(candles []model.Candle, window model.TimeRange, t float64) (int, bool) {
	lo, hi := VisibleSlice(candles, window)
	if hi <= lo {
		return 0, false
	}
	best, bestDiff := -1, math.Inf(1)
	for i := lo; i < hi; i++ {
		if d := math.Abs(float64(candles[i].Time) - t); d < bestDiff {
			best, bestDiff = i, d
		}
	}
	est := window.Width() / float64(hi-lo)
	if bestDiff < est/2 {
		return best, true
	}
	return 0, false
}
