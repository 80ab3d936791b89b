package viewport

import (
	"math"
	"strconv"
	"time"
)

// Tick is one axis gridline with its pixel position and label.
type Tick struct {
	Pos   float64 `json:"pos"`
	Value float64 `json:"value"`
	Label string  `json:"label"`
}

// maxTicks bounds the gridline loops against pathological ranges.
const maxTicks = 500

// PriceStep picks a "nice" gridline spacing (1/2/5/10 × 10^k) for a price range.
// Pricier instruments get more divisions.
func PriceStep(priceRange, minPrice float64) float64 {
	if priceRange <= 0 {
		return 0
	}
	var divisions float64
	switch {
	case minPrice > 10000:
		divisions = 20
	case minPrice > 1000:
		divisions = 15
	case minPrice > 100:
		divisions = 12
	default:
		divisions = 10
	}

	raw := priceRange / divisions
	mag := math.Pow(10, math.Floor(math.Log10(raw)))
	norm := raw / mag

	var step float64
	switch {
	case norm < 1.2:
		step = 1
	case norm < 2.5:
		step = 2
	case norm < 7:
		step = 5
	default:
		step = 10
	}
	return step * mag
}

// TimeStep picks the time gridline spacing in ms for a visible duration.
func TimeStep(visibleMs float64) float64 {
	const (
		minute = float64(time.Minute / time.Millisecond)
		hour   = 60 * minute
		day    = 24 * hour
	)
	switch {
	case visibleMs < 2*hour:
		return 15 * minute
	case visibleMs < 8*hour:
		return hour
	case visibleMs < 3*day:
		return 6 * hour
	case visibleMs < 10*day:
		return day
	case visibleMs < 30*day:
		return 7 * day
	default:
		return 30 * day
	}
}

// PriceTicks returns the horizontal gridlines for the mapper's price range.
func PriceTicks(m Mapper) []Tick {
	step := PriceStep(m.Prices.Height(), m.Prices.Min)
	if step <= 0 {
		return nil
	}
	var out []Tick
	for p := math.Ceil(m.Prices.Min/step) * step; p <= m.Prices.Max && len(out) < maxTicks; p += step {
		out = append(out, Tick{
			Pos:   m.ToPixelY(p),
			Value: p,
			Label: strconv.FormatFloat(p, 'f', 2, 64),
		})
	}
	return out
}

// TimeTicks returns the vertical gridlines inside the mapper's window.
func TimeTicks(m Mapper) []Tick {
	step := TimeStep(m.Window.Width())
	layout := "15:04"
	if step >= float64(24*time.Hour/time.Millisecond) {
		layout = "Jan 2"
	}
	var out []Tick
	for t := math.Ceil(m.Window.Start/step) * step; t <= m.Window.End && len(out) < maxTicks; t += step {
		x := m.ToPixelX(t)
		if x < 0 || x > m.Width {
			continue
		}
		out = append(out, Tick{
			Pos:   x,
			Value: t,
			Label: time.UnixMilli(int64(t)).UTC().Format(layout),
		})
	}
	return out
}
