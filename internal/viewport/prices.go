package viewport

import (
	"math"
	"sort"

	"squeeze-chart/internal/model"
)

// VisibleSlice returns the [lo, hi) index range of candles whose time lies in window.
// candles must be sorted by time.
func VisibleSlice(candles []model.Candle, window model.TimeRange) (lo, hi int) {
	lo = sort.Search(len(candles), func(i int) bool { return float64(candles[i].Time) >= window.Start })
	hi = sort.Search(len(candles), func(i int) bool { return float64(candles[i].Time) > window.End })
	return lo, hi
}

// PriceRangeFor returns min low / max high of candles, padded by pad × height on
// both sides. A flat series is widened by ±1% of its price (±1 at zero) so the
// mapper never sees a degenerate range.
func PriceRangeFor(candles []model.Candle, pad float64) (model.PriceRange, error) {
	if len(candles) == 0 {
		return model.PriceRange{}, model.ErrEmptyData
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := range candles {
		lo = math.Min(lo, candles[i].Low)
		hi = math.Max(hi, candles[i].High)
	}
	h := hi - lo
	if h <= 0 {
		d := math.Abs(hi) * 0.01
		if d == 0 {
			d = 1
		}
		return model.PriceRange{Min: lo - d, Max: hi + d}, nil
	}
	return model.PriceRange{Min: lo - h*pad, Max: hi + h*pad}, nil
}
