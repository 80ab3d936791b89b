package model

// SignalType is the side of a touch signal.
type SignalType string

const (
	SignalBuy  SignalType = "BUY"  // low touched the box floor
	SignalSell SignalType = "SELL" // high touched the box ceiling
)

// Signal marks a candle whose high or low came within tolerance of a box edge.
// Signals are derived data and are regenerated wholesale from boxes + candles.
type Signal struct {
	Type  SignalType `json:"type"`
	Time  int64      `json:"time"` // candle time, ms
	Price float64    `json:"price"`
}
