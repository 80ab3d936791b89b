package sda

import (
	"math"

	"squeeze-chart/internal/model"
	"squeeze-chart/internal/series"
)

// DefaultTolerancePct is the edge-touch tolerance shared by signals and the simulator.
const DefaultTolerancePct = 0.3

// Touches reports whether price lies within tolPct percent of edge.
func Touches(price, edge, tolPct float64) bool {
	return math.Abs(price-edge) <= edge*tolPct/100
}

// GenerateSignals emits a Sell for every candle inside a box whose high touches
// the upper edge and a Buy for every candle whose low touches the lower edge.
// Boxes are walked in the given order; a candle touching both edges yields
// Sell then Buy. Nothing is deduplicated.
func GenerateSignals(boxes []model.Box, candles []model.Candle, tolPct float64) []model.Signal {
	var out []model.Signal
	for bi := range boxes {
		b := &boxes[bi]
		for i := series.IndexAtOrAfter(candles, b.StartTime); i < len(candles) && candles[i].Time <= b.EndTime; i++ {
			c := &candles[i]
			if Touches(c.High, b.Upper, tolPct) {
				out = append(out, model.Signal{Type: model.SignalSell, Time: c.Time, Price: c.High})
			}
			if Touches(c.Low, b.Lower, tolPct) {
				out = append(out, model.Signal{Type: model.SignalBuy, Time: c.Time, Price: c.Low})
			}
		}
	}
	return out
}
