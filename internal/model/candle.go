package model

import "time"

// Candle is one OHLCV bucket of the charted series.
// Time is the bucket open time in Unix milliseconds, as delivered by the feed.
type Candle struct {
	Time   int64   `json:"time"` // ms since epoch
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Timestamp returns the candle open time as a UTC time.Time.
func (c *Candle) Timestamp() time.Time {
	return time.UnixMilli(c.Time).UTC()
}

// TimeRange is a half-open interval of chart time in milliseconds.
// Float64 is used so animated and zoomed windows can sit between candles.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Width returns End - Start.
func (r TimeRange) Width() float64 { return r.End - r.Start }

// PriceRange is the vertical extent mapped onto the candle pane.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Height returns Max - Min.
func (r PriceRange) Height() float64 { return r.Max - r.Min }

// Viewport is a read-only snapshot of the visible time window.
type Viewport struct {
	VisibleStart float64 `json:"visible_start"`
	VisibleEnd   float64 `json:"visible_end"`
	ZoomLevel    float64 `json:"zoom_level"` // total range / visible range
}
