package viewport

import (
	"fmt"
	"math"
	"time"

	"squeeze-chart/internal/model"
	"squeeze-chart/internal/series"
)

// Pointer is the kind of device driving a pan gesture. Touch gets a longer,
// stronger inertial glide than mouse.
type Pointer int

const (
	PointerMouse Pointer = iota
	PointerTouch
)

// ParsePointer maps "touch" to PointerTouch; anything else is a mouse.
func ParsePointer(s string) Pointer {
	if s == "touch" {
		return PointerTouch
	}
	return PointerMouse
}

// Config holds the viewport tuning knobs.
type Config struct {
	ZoomStep        float64       `yaml:"zoom_step"`            // width change per wheel notch
	MinVisibleFrac  float64       `yaml:"min_visible_fraction"` // narrowest window as a fraction of the data range
	InitialCandles  int           `yaml:"initial_candles"`
	RightPadCandles int           `yaml:"right_pad_candles"`    // bounds extension past the last candle, 0 clamps to the series
	InertiaMinPx    float64       `yaml:"inertia_min_px"`
	MouseInertia    float64       `yaml:"mouse_inertia"`
	TouchInertia    float64       `yaml:"touch_inertia"`
	MouseDuration   time.Duration `yaml:"mouse_duration"`
	TouchDuration   time.Duration `yaml:"touch_duration"`
	MinDuration     time.Duration `yaml:"min_duration"`
	BoundaryScale   float64       `yaml:"boundary_scale"`
	BoundaryTolMs   float64       `yaml:"boundary_tolerance_ms"`
	AnimDistancePx  float64       `yaml:"anim_distance_px"` // travel that earns the full duration
	PaneRatio       float64       `yaml:"pane_ratio"`       // candle pane share of the surface height
	PricePadding    float64       `yaml:"price_padding"`
}

// DefaultConfig returns the stock chart behaviour.
func DefaultConfig() Config {
	return Config{
		ZoomStep:        0.2,
		MinVisibleFrac:  0.01,
		InitialCandles:  100,
		RightPadCandles: 0,
		InertiaMinPx:    5,
		MouseInertia:    0.5,
		TouchInertia:    0.8,
		MouseDuration:   300 * time.Millisecond,
		TouchDuration:   400 * time.Millisecond,
		MinDuration:     100 * time.Millisecond,
		BoundaryScale:   1.5,
		BoundaryTolMs:   1,
		AnimDistancePx:  200,
		PaneRatio:       0.75,
		PricePadding:    0.02,
	}
}

// Validate rejects settings the controller cannot work with.
func (c Config) Validate() error {
	switch {
	case c.ZoomStep <= 0 || c.ZoomStep >= 1:
		return fmt.Errorf("viewport zoom_step %v must be in (0,1)", c.ZoomStep)
	case c.MinVisibleFrac <= 0 || c.MinVisibleFrac > 1:
		return fmt.Errorf("viewport min_visible_fraction %v must be in (0,1]", c.MinVisibleFrac)
	case c.InitialCandles < 1:
		return fmt.Errorf("viewport initial_candles %d must be >= 1", c.InitialCandles)
	case c.RightPadCandles < 0:
		return fmt.Errorf("viewport right_pad_candles %d must be >= 0", c.RightPadCandles)
	case c.PaneRatio <= 0 || c.PaneRatio > 1:
		return fmt.Errorf("viewport pane_ratio %v must be in (0,1]", c.PaneRatio)
	case c.AnimDistancePx <= 0:
		return fmt.Errorf("viewport anim_distance_px %v must be > 0", c.AnimDistancePx)
	}
	return nil
}

// Controller owns the visible time window. It is not safe for concurrent use;
// the session serialises every call.
type Controller struct {
	cfg Config

	bounds  model.TimeRange // series range plus any configured right padding
	visible model.TimeRange
	hasData bool

	width  float64
	height float64

	anim *animation

	panning   bool
	pointer   Pointer
	lastDelta float64

	hover *pointerPos
}

type pointerPos struct{ x, y float64 }

// NewController creates a controller for a surface of the given size.
func NewController(cfg Config, width, height float64) *Controller {
	return &Controller{cfg: cfg, width: width, height: height}
}

// SetBounds recomputes the data range from the series. The first call (or the
// first after Reset) opens on the last InitialCandles candles; later calls keep
// the current window and only re-clamp it.
func (c *Controller) SetBounds(candles []model.Candle) error {
	if len(candles) == 0 {
		return model.ErrEmptyData
	}
	interval := series.AverageInterval(candles)
	if interval <= 0 {
		interval = float64(time.Minute.Milliseconds())
	}
	first := float64(candles[0].Time)
	last := float64(candles[len(candles)-1].Time)
	end := last + float64(c.cfg.RightPadCandles)*interval
	if end <= first {
		end = first + interval
	}
	c.bounds = model.TimeRange{Start: first, End: end}

	if !c.hasData {
		startIdx := len(candles) - c.cfg.InitialCandles
		if startIdx < 0 {
			startIdx = 0
		}
		c.visible = model.TimeRange{Start: float64(candles[startIdx].Time), End: end}
		if c.visible.Width() <= 0 {
			c.visible = c.bounds
		}
		c.hasData = true
		return nil
	}
	if c.anim == nil {
		c.visible = c.clamp(c.visible)
	}
	return nil
}

// Reset forgets the current window so the next SetBounds re-opens on the latest candles.
func (c *Controller) Reset() {
	c.hasData = false
	c.anim = nil
	c.panning = false
	c.lastDelta = 0
}

// clamp fits r inside the data bounds, sliding it rather than shrinking it
// unless it is wider than the whole range.
func (c *Controller) clamp(r model.TimeRange) model.TimeRange {
	total := c.bounds.Width()
	w := r.Width()
	if w >= total {
		return c.bounds
	}
	if r.Start < c.bounds.Start {
		return model.TimeRange{Start: c.bounds.Start, End: c.bounds.Start + w}
	}
	if r.End > c.bounds.End {
		return model.TimeRange{Start: c.bounds.End - w, End: c.bounds.End}
	}
	return r
}

func (c *Controller) ready() bool {
	return c.hasData && c.width > 0 && c.visible.Width() > 0
}

// Pan shifts the window by dx pixels. Dragging right (dx > 0) reveals older data.
func (c *Controller) Pan(dx float64) {
	c.anim = nil
	if !c.ready() || dx == 0 {
		return
	}
	shift := -dx * c.visible.Width() / c.width
	c.visible = c.clamp(model.TimeRange{Start: c.visible.Start + shift, End: c.visible.End + shift})
}

// OnPanStart begins a drag. Any running animation is dropped.
func (c *Controller) OnPanStart(p Pointer) {
	c.anim = nil
	c.panning = true
	c.pointer = p
	c.lastDelta = 0
}

// OnPanMove applies one drag step and remembers it as the release velocity.
func (c *Controller) OnPanMove(dx float64) {
	if !c.panning {
		c.OnPanStart(PointerMouse)
	}
	c.lastDelta = dx
	c.Pan(dx)
}

// OnPanEnd finishes a drag. A release faster than InertiaMinPx px per move
// glides on. velocity 0 falls back to the last recorded move.
func (c *Controller) OnPanEnd(velocity float64) {
	if !c.panning {
		return
	}
	c.panning = false
	v := velocity
	if v == 0 {
		v = c.lastDelta
	}
	c.lastDelta = 0
	if math.Abs(v) <= c.cfg.InertiaMinPx || !c.ready() {
		return
	}

	factor, dur := c.cfg.MouseInertia, c.cfg.MouseDuration
	if c.pointer == PointerTouch {
		factor, dur = c.cfg.TouchInertia, c.cfg.TouchDuration
	}
	shift := -(v * factor) * c.visible.Width() / c.width
	target := c.clamp(model.TimeRange{Start: c.visible.Start + shift, End: c.visible.End + shift})
	c.Animate(target.Start, target.End, dur)
}

// Zoom resizes the window around anchorX. direction > 0 (wheel down) widens
// the window, direction < 0 narrows it. The time under the anchor stays put
// unless the window has to slide back inside the data bounds.
func (c *Controller) Zoom(direction, anchorX float64) {
	c.anim = nil
	if !c.ready() || direction == 0 {
		return
	}
	w := c.visible.Width()
	anchor := c.visible.Start + anchorX/c.width*w

	factor := 1 - c.cfg.ZoomStep
	if direction > 0 {
		factor = 1 + c.cfg.ZoomStep
	}
	total := c.bounds.Width()
	newW := math.Max(w*factor, total*c.cfg.MinVisibleFrac)
	if newW >= total {
		c.visible = c.bounds
		return
	}

	ratio := (anchor - c.visible.Start) / w
	start := anchor - ratio*newW
	c.visible = c.clamp(model.TimeRange{Start: start, End: start + newW})
}

// Animate starts an eased transition towards [targetStart, targetEnd].
// maxDur is stretched by BoundaryScale when the target rests on a data edge;
// the effective duration scales with the pixel distance travelled.
func (c *Controller) Animate(targetStart, targetEnd float64, maxDur time.Duration) {
	c.anim = nil
	to := model.TimeRange{Start: targetStart, End: targetEnd}
	if to.Width() <= 0 || !c.ready() {
		return
	}
	distMs := math.Max(math.Abs(to.Start-c.visible.Start), math.Abs(to.End-c.visible.End))
	if distMs == 0 {
		return
	}

	ease := Easing(EaseOutCubic)
	dur := maxDur
	if c.atBoundary(to) {
		ease = EaseOutQuint
		dur = time.Duration(float64(dur) * c.cfg.BoundaryScale)
	}
	distPx := distMs * c.width / c.visible.Width()
	c.anim = &animation{
		from:     c.visible,
		to:       to,
		duration: adaptiveDuration(dur, c.cfg.MinDuration, distPx, c.cfg.AnimDistancePx),
		ease:     ease,
	}
}

func (c *Controller) atBoundary(r model.TimeRange) bool {
	return r.Start <= c.bounds.Start+c.cfg.BoundaryTolMs || r.End >= c.bounds.End-c.cfg.BoundaryTolMs
}

func adaptiveDuration(maxDur, minDur time.Duration, distPx, fullPx float64) time.Duration {
	d := time.Duration(float64(maxDur) * distPx / fullPx)
	if d < minDur {
		d = minDur
	}
	if d > maxDur {
		d = maxDur
	}
	return d
}

// Step advances a running animation to now. Returns true when the window moved.
func (c *Controller) Step(now time.Time) bool {
	if c.anim == nil {
		return false
	}
	r, done := c.anim.at(now)
	c.visible = r
	if done {
		c.anim = nil
		c.visible = c.clamp(c.visible)
	}
	return true
}

// Cancel drops any running animation, leaving the window where it is.
func (c *Controller) Cancel() { c.anim = nil }

// Animating reports whether an animation is in flight.
func (c *Controller) Animating() bool { return c.anim != nil }

// Resize updates the surface size. Non-positive sizes are ignored.
func (c *Controller) Resize(width, height float64) {
	if width <= 0 || height <= 0 {
		return
	}
	c.width, c.height = width, height
}

func (c *Controller) Size() (width, height float64) { return c.width, c.height }

func (c *Controller) Visible() model.TimeRange { return c.visible }

func (c *Controller) Bounds() model.TimeRange { return c.bounds }

func (c *Controller) Config() Config { return c.cfg }

// ZoomLevel returns total range / visible range.
func (c *Controller) ZoomLevel() float64 {
	if c.visible.Width() <= 0 {
		return 1
	}
	return c.bounds.Width() / c.visible.Width()
}

// Snapshot returns the read-only viewport state.
func (c *Controller) Snapshot() model.Viewport {
	return model.Viewport{
		VisibleStart: c.visible.Start,
		VisibleEnd:   c.visible.End,
		ZoomLevel:    c.ZoomLevel(),
	}
}

// Mapper builds the candle-pane mapper for the given price range.
func (c *Controller) Mapper(prices model.PriceRange) (Mapper, error) {
	return NewMapper(c.visible, prices, c.width, c.height*c.cfg.PaneRatio)
}
