package viewport

import (
	"errors"
	"math"
	"testing"
	"time"

	"squeeze-chart/internal/model"
)

const (
	base = int64(1_700_000_000_000)
	hour = int64(time.Hour / time.Millisecond)
)

func hourly(n int) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		p := 100 + float64(i%10)
		out[i] = model.Candle{Time: base + int64(i)*hour, Open: p, High: p + 1, Low: p - 1, Close: p}
	}
	return out
}

func at(h float64) float64 { return float64(base) + h*float64(hour) }

func near(a, b float64) bool { return math.Abs(a-b) < 1 }

// newTestController opens on 200 hourly candles with a 990px surface, so the
// initial window is 99h wide and 1px == 0.1h.
func newTestController(t *testing.T) *Controller {
	t.Helper()
	c := NewController(DefaultConfig(), 990, 400)
	if err := c.SetBounds(hourly(200)); err != nil {
		t.Fatalf("SetBounds: %v", err)
	}
	return c
}

func TestMapper_RoundTrip(t *testing.T) {
	m, err := NewMapper(model.TimeRange{Start: 1000, End: 2000}, model.PriceRange{Min: 50, Max: 150}, 500, 200)
	if err != nil {
		t.Fatalf("NewMapper: %v", err)
	}
	if x := m.ToPixelX(1500); x != 250 {
		t.Errorf("ToPixelX(1500) = %v, want 250", x)
	}
	if y := m.ToPixelY(150); y != 0 {
		t.Errorf("max price should map to top, got y=%v", y)
	}
	if y := m.ToPixelY(50); y != 200 {
		t.Errorf("min price should map to bottom, got y=%v", y)
	}
	if x := m.ToPixelX(500); x != -250 {
		t.Errorf("expected extrapolation to -250, got %v", x)
	}
	for _, ts := range []float64{900, 1000, 1234.5, 2000, 2600} {
		if got := m.ToTime(m.ToPixelX(ts)); math.Abs(got-ts) > 1e-9 {
			t.Errorf("time round trip %v -> %v", ts, got)
		}
	}
	for _, p := range []float64{40, 50, 99.9, 150} {
		if got := m.ToPrice(m.ToPixelY(p)); math.Abs(got-p) > 1e-9 {
			t.Errorf("price round trip %v -> %v", p, got)
		}
	}
}

func TestMapper_Degenerate(t *testing.T) {
	cases := []struct {
		name   string
		window model.TimeRange
		prices model.PriceRange
		w, h   float64
	}{
		{"zero time", model.TimeRange{Start: 5, End: 5}, model.PriceRange{Min: 1, Max: 2}, 10, 10},
		{"flat price", model.TimeRange{Start: 0, End: 5}, model.PriceRange{Min: 2, Max: 2}, 10, 10},
		{"zero width", model.TimeRange{Start: 0, End: 5}, model.PriceRange{Min: 1, Max: 2}, 0, 10},
	}
	for _, tc := range cases {
		if _, err := NewMapper(tc.window, tc.prices, tc.w, tc.h); !errors.Is(err, model.ErrDegenerateRange) {
			t.Errorf("%s: expected ErrDegenerateRange, got %v", tc.name, err)
		}
	}
}

func TestController_InitialWindow(t *testing.T) {
	c := newTestController(t)

	b := c.Bounds()
	if !near(b.Start, at(0)) || !near(b.End, at(199)) {
		t.Fatalf("bounds = [%v, %v], want [%v, %v]", b.Start, b.End, at(0), at(199))
	}
	v := c.Visible()
	if !near(v.Start, at(100)) || !near(v.End, at(199)) {
		t.Fatalf("visible = [%v, %v], want the last 100 candles", v.Start, v.End)
	}
	if z := c.ZoomLevel(); math.Abs(z-199.0/99.0) > 1e-9 {
		t.Errorf("zoom level = %v", z)
	}

	if err := NewController(DefaultConfig(), 10, 10).SetBounds(nil); !errors.Is(err, model.ErrEmptyData) {
		t.Errorf("expected ErrEmptyData, got %v", err)
	}
}

func TestController_SetBoundsKeepsWindow(t *testing.T) {
	c := newTestController(t)
	c.Pan(500)
	before := c.Visible()

	if err := c.SetBounds(hourly(201)); err != nil {
		t.Fatal(err)
	}
	if c.Visible() != before {
		t.Errorf("window moved on append: %v -> %v", before, c.Visible())
	}

	c.Reset()
	if err := c.SetBounds(hourly(201)); err != nil {
		t.Fatal(err)
	}
	if !near(c.Visible().Start, at(101)) {
		t.Errorf("reset should reopen on the latest candles, start=%v", c.Visible().Start)
	}
}

func TestController_Pan(t *testing.T) {
	cases := []struct {
		name       string
		dx         float64
		start, end float64 // hours
	}{
		{"drag right shows older", 100, 90, 189},
		{"drag left clamps at end", -1000, 100, 199},
		{"drag far right clamps at start", 20000, 0, 99},
	}
	for _, tc := range cases {
		c := newTestController(t)
		c.Pan(tc.dx)
		v := c.Visible()
		if !near(v.Start, at(tc.start)) || !near(v.End, at(tc.end)) {
			t.Errorf("%s: visible = [%vh, %vh], want [%vh, %vh]", tc.name,
				(v.Start-float64(base))/float64(hour), (v.End-float64(base))/float64(hour), tc.start, tc.end)
		}
		if !near(v.Width(), at(99)-at(0)) {
			t.Errorf("%s: pan changed width to %v", tc.name, v.Width())
		}
	}
}

func TestController_ZoomKeepsAnchor(t *testing.T) {
	c := newTestController(t)
	c.Pan(500) // [50h, 149h], away from both edges

	m, _ := NewMapper(c.Visible(), model.PriceRange{Min: 0, Max: 1}, 990, 300)
	anchor := m.ToTime(300)

	c.Zoom(-1, 300)
	v := c.Visible()
	if !near(v.Width(), 0.8*float64(99*hour)) {
		t.Fatalf("zoom in width = %v, want 80%% of 99h", v.Width())
	}
	m2, _ := NewMapper(v, model.PriceRange{Min: 0, Max: 1}, 990, 300)
	if got := m2.ToTime(300); !near(got, anchor) {
		t.Errorf("anchor drifted: %v -> %v", anchor, got)
	}
}

func TestController_ZoomLimits(t *testing.T) {
	c := newTestController(t)
	total := c.Bounds().Width()

	for i := 0; i < 50; i++ {
		c.Zoom(-1, 545)
	}
	if !near(c.Visible().Width(), total*0.01) {
		t.Errorf("min width = %v, want %v", c.Visible().Width(), total*0.01)
	}

	for i := 0; i < 50; i++ {
		c.Zoom(1, 545)
	}
	if c.Visible() != c.Bounds() {
		t.Errorf("max zoom out should show everything, got %v", c.Visible())
	}
	if c.ZoomLevel() != 1 {
		t.Errorf("zoom level = %v, want 1", c.ZoomLevel())
	}
}

func TestController_StaysInsideSeries(t *testing.T) {
	c := newTestController(t)
	first, last := at(0), at(199)

	c.Pan(-5000)
	for i := 0; i < 5; i++ {
		c.Zoom(1, 500)
	}
	v := c.Visible()
	if v.Start < first || v.End > last {
		t.Fatalf("visible [%vh, %vh] leaves the series [0h, 199h]",
			(v.Start-float64(base))/float64(hour), (v.End-float64(base))/float64(hour))
	}
	for i := 0; i < 50; i++ {
		c.Zoom(1, 500)
	}
	if v := c.Visible(); !near(v.Start, first) || !near(v.End, last) {
		t.Errorf("full zoom out = %v, want the series range", v)
	}
	if c.ZoomLevel() != 1 {
		t.Errorf("zoom level = %v, want 1", c.ZoomLevel())
	}

	c.Pan(20000)
	c.Pan(-20000)
	if v := c.Visible(); v.Start < first || v.End > last {
		t.Errorf("pan at full zoom out moved to %v", v)
	}
}

func TestController_RightPadding(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RightPadCandles = 10
	c := NewController(cfg, 990, 400)
	if err := c.SetBounds(hourly(200)); err != nil {
		t.Fatal(err)
	}
	if b := c.Bounds(); !near(b.End, at(209)) {
		t.Errorf("padded bounds end = %vh, want 209h", (b.End-float64(base))/float64(hour))
	}
	c.Pan(-1000)
	if v := c.Visible(); !near(v.End, at(209)) {
		t.Errorf("pan should reach the padded end, got %vh", (v.End-float64(base))/float64(hour))
	}
}

func TestController_PanInverse(t *testing.T) {
	cases := []struct {
		name string
		dx   float64
	}{
		{"small right", 7},
		{"small left", -7},
		{"half window right", 495},
		{"half window left", -300},
		{"fractional", 12.34},
	}
	for _, tc := range cases {
		c := newTestController(t)
		c.Pan(500) // [50h, 149h], 50h from the start and the end
		before := c.Visible()
		c.Pan(tc.dx)
		c.Pan(-tc.dx)
		after := c.Visible()
		if !near(after.Start, before.Start) || !near(after.End, before.End) {
			t.Errorf("%s: %v -> %v", tc.name, before, after)
		}
	}
}

func TestController_Inertia(t *testing.T) {
	c := newTestController(t)
	c.Pan(500) // [50h, 149h]

	// slow release: no glide
	c.OnPanStart(PointerMouse)
	c.OnPanMove(3)
	c.OnPanEnd(0)
	if c.Animating() {
		t.Fatal("release under threshold should not animate")
	}

	c.Pan(-3) // back to [50h, 149h]
	c.OnPanStart(PointerMouse)
	c.OnPanMove(40) // [46h, 145h]
	c.OnPanEnd(0)
	if !c.Animating() {
		t.Fatal("expected inertia animation")
	}

	// 2h glide is 20px: adaptive duration clamps to the 100ms floor
	t0 := time.Unix(0, 0)
	c.Step(t0)
	if !near(c.Visible().Start, at(46)) {
		t.Fatalf("first step should start at the origin, got %v", c.Visible().Start)
	}
	c.Step(t0.Add(50 * time.Millisecond))
	if !near(c.Visible().Start, at(46-2*0.875)) {
		t.Errorf("cubic midpoint = %vh", (c.Visible().Start-float64(base))/float64(hour))
	}
	c.Step(t0.Add(100 * time.Millisecond))
	if c.Animating() {
		t.Error("animation should be done")
	}
	if !near(c.Visible().Start, at(44)) || !near(c.Visible().End, at(143)) {
		t.Errorf("final window = %v", c.Visible())
	}
}

func TestController_TouchInertiaStronger(t *testing.T) {
	c := newTestController(t)
	c.Pan(500)
	c.OnPanStart(PointerTouch)
	c.OnPanMove(40) // [46h, 145h]
	c.OnPanEnd(0)

	t0 := time.Unix(0, 0)
	c.Step(t0)
	c.Step(t0.Add(time.Second))
	if !near(c.Visible().Start, at(46-3.2)) {
		t.Errorf("touch glide ended at %vh, want 42.8h", (c.Visible().Start-float64(base))/float64(hour))
	}
}

func TestController_BoundaryAnimation(t *testing.T) {
	c := newTestController(t)
	c.Pan(540) // [46h, 145h]

	c.Animate(at(0), at(99), 300*time.Millisecond)
	if c.anim == nil {
		t.Fatal("expected animation")
	}
	if c.anim.duration != 450*time.Millisecond {
		t.Errorf("boundary duration = %v, want 450ms", c.anim.duration)
	}

	t0 := time.Unix(0, 0)
	c.Step(t0)
	c.Step(t0.Add(225 * time.Millisecond))
	want := 46 - 46*(1-math.Pow(0.5, 5))
	if !near(c.Visible().Start, at(want)) {
		t.Errorf("quintic midpoint = %vh, want %vh", (c.Visible().Start-float64(base))/float64(hour), want)
	}
}

func TestController_GestureCancelsAnimation(t *testing.T) {
	c := newTestController(t)
	c.Pan(500)
	c.Animate(at(0), at(99), 300*time.Millisecond)

	c.Step(time.Unix(0, 0))
	c.Step(time.Unix(0, 0).Add(50 * time.Millisecond))
	mid := c.Visible()

	c.OnPanStart(PointerMouse)
	if c.Animating() {
		t.Fatal("pan start must cancel the animation")
	}
	if c.Step(time.Unix(1, 0)) {
		t.Error("cancelled animation should not move the window")
	}
	if c.Visible() != mid {
		t.Errorf("window changed after cancel: %v -> %v", mid, c.Visible())
	}
}

func TestAdaptiveDuration(t *testing.T) {
	cases := []struct {
		dist float64
		want time.Duration
	}{
		{0, 100 * time.Millisecond},
		{100, 150 * time.Millisecond},
		{200, 300 * time.Millisecond},
		{5000, 300 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := adaptiveDuration(300*time.Millisecond, 100*time.Millisecond, tc.dist, 200); got != tc.want {
			t.Errorf("dist %v: got %v, want %v", tc.dist, got, tc.want)
		}
	}
}

func TestPriceStep(t *testing.T) {
	cases := []struct {
		rng, min, want float64
	}{
		{1000, 20000, 50}, // 1000/20 = 50
		{10, 50, 1},       // 10/10 = 1
		{300, 2000, 20},   // 300/15 = 20
		{36, 150, 5},      // 36/12 = 3 -> 5
		{0, 10, 0},
	}
	for _, tc := range cases {
		if got := PriceStep(tc.rng, tc.min); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("PriceStep(%v, %v) = %v, want %v", tc.rng, tc.min, got, tc.want)
		}
	}
}

func TestTimeStep(t *testing.T) {
	h := float64(hour)
	cases := []struct {
		visible, want float64
	}{
		{h, 0.25 * h},
		{5 * h, h},
		{48 * h, 6 * h},
		{5 * 24 * h, 24 * h},
		{20 * 24 * h, 7 * 24 * h},
		{90 * 24 * h, 30 * 24 * h},
	}
	for _, tc := range cases {
		if got := TimeStep(tc.visible); got != tc.want {
			t.Errorf("TimeStep(%v) = %v, want %v", tc.visible, got, tc.want)
		}
	}
}

func TestPriceTicks(t *testing.T) {
	m, _ := NewMapper(model.TimeRange{Start: 0, End: 1}, model.PriceRange{Min: 95, Max: 105}, 100, 100)
	ticks := PriceTicks(m)
	if len(ticks) != 11 {
		t.Fatalf("expected 11 ticks at step 1, got %d", len(ticks))
	}
	if ticks[0].Value != 95 || ticks[0].Pos != 100 || ticks[0].Label != "95.00" {
		t.Errorf("first tick = %+v", ticks[0])
	}
}

func TestPriceRangeFor(t *testing.T) {
	r, err := PriceRangeFor([]model.Candle{{Low: 90, High: 100}, {Low: 95, High: 110}}, 0.02)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(r.Min-89.6) > 1e-9 || math.Abs(r.Max-110.4) > 1e-9 {
		t.Errorf("padded range = %+v", r)
	}

	flat, _ := PriceRangeFor([]model.Candle{{Low: 50, High: 50}}, 0.02)
	if flat.Height() <= 0 {
		t.Errorf("flat series must not produce a degenerate range: %+v", flat)
	}

	if _, err := PriceRangeFor(nil, 0.02); !errors.Is(err, model.ErrEmptyData) {
		t.Errorf("expected ErrEmptyData, got %v", err)
	}
}

func TestNearestCandle(t *testing.T) {
	candles := hourly(10)
	window := model.TimeRange{Start: at(0), End: at(10)} // est width 1h

	if i, ok := NearestCandle(candles, window, at(3.2)); !ok || i != 3 {
		t.Errorf("expected candle 3, got %d ok=%v", i, ok)
	}
	if _, ok := NearestCandle(candles, window, at(9.6)); ok {
		t.Error("0.6h from the last candle is outside half a candle width")
	}
	if _, ok := NearestCandle(candles, model.TimeRange{Start: at(20), End: at(30)}, at(25)); ok {
		t.Error("no visible candles should not match")
	}
}

func TestController_Crosshair(t *testing.T) {
	c := newTestController(t)
	candles := hourly(200)
	m, err := c.Mapper(model.PriceRange{Min: 90, Max: 120})
	if err != nil {
		t.Fatal(err)
	}
	if c.Crosshair(m, candles) != nil {
		t.Fatal("no hover yet")
	}

	c.Hover(10, 0) // 1h into the window, top of the pane
	ch := c.Crosshair(m, candles)
	if ch == nil || ch.Candle == nil {
		t.Fatalf("expected hovered candle, got %+v", ch)
	}
	if ch.Candle.Time != base+101*hour {
		t.Errorf("hovered candle time = %d", ch.Candle.Time)
	}
	if ch.Price != 120 {
		t.Errorf("top of pane should read max price, got %v", ch.Price)
	}

	c.Leave()
	if c.Crosshair(m, candles) != nil {
		t.Error("leave should clear the crosshair")
	}
}
