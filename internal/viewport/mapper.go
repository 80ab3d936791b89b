// Package viewport maps chart data (time, price) onto a drawing surface and owns
// the visible time window: pan, anchored zoom, eased animation and inertia.
//
// Nothing here draws. The session turns viewport state into a draw model and the
// gateway ships it to whatever renderer is attached.
package viewport

import (
	"fmt"

	"squeeze-chart/internal/model"
)

// Mapper is a pure linear transform between data space and pixel space.
// X grows with time; Y is inverted so pixel 0 is the top of the pane (max price).
// Values outside the window extrapolate linearly.
type Mapper struct {
	Window model.TimeRange
	Prices model.PriceRange
	Width  float64
	Height float64
}

// NewMapper validates the ranges and surface. Zero or negative extents yield
// model.ErrDegenerateRange.
func NewMapper(window model.TimeRange, prices model.PriceRange, width, height float64) (Mapper, error) {
	if window.Width() <= 0 {
		return Mapper{}, fmt.Errorf("time window [%v, %v]: %w", window.Start, window.End, model.ErrDegenerateRange)
	}
	if prices.Height() <= 0 {
		return Mapper{}, fmt.Errorf("price range [%v, %v]: %w", prices.Min, prices.Max, model.ErrDegenerateRange)
	}
	if width <= 0 || height <= 0 {
		return Mapper{}, fmt.Errorf("surface %vx%v: %w", width, height, model.ErrDegenerateRange)
	}
	return Mapper{Window: window, Prices: prices, Width: width, Height: height}, nil
}

func (m Mapper) ToPixelX(t float64) float64 {
	return (t - m.Window.Start) / m.Window.Width() * m.Width
}

func (m Mapper) ToTime(x float64) float64 {
	return m.Window.Start + x/m.Width*m.Window.Width()
}

func (m Mapper) ToPixelY(price float64) float64 {
	return m.Height - (price-m.Prices.Min)/m.Prices.Height()*m.Height
}

func (m Mapper) ToPrice(y float64) float64 {
	return m.Prices.Max - y/m.Height*m.Prices.Height()
}
