package sda

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"

	"squeeze-chart/internal/model"
)

const h = int64(3_600_000)

func candle(i int, high, low, close float64) model.Candle {
	return model.Candle{Time: int64(i) * h, Open: close, High: high, Low: low, Close: close}
}

// squeezeThenTrend builds 30 candles in a 99..101 band followed by 10 candles
// climbing step per candle.
func squeezeThenTrend(step float64) []model.Candle {
	var out []model.Candle
	for i := 0; i < 30; i++ {
		out = append(out, candle(i, 101, 99, 100))
	}
	for i := 30; i < 40; i++ {
		c := 100 + float64(i-29)*step
		out = append(out, candle(i, c+0.5, c-0.5, c))
	}
	return out
}

func TestDetect_SingleSqueeze(t *testing.T) {
	boxes, err := NewDetector(DefaultDetectorConfig()).Detect(squeezeThenTrend(1.5))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(boxes) != 1 {
		t.Fatalf("expected 1 box, got %d: %+v", len(boxes), boxes)
	}
	b := boxes[0]
	if b.Upper != 101 || b.Lower != 99 {
		t.Errorf("edges = %v/%v, want 101/99", b.Upper, b.Lower)
	}
	if b.StartTime != 0 || b.EndTime != 29*h {
		t.Errorf("span = [%d, %d], want [0, %d]", b.StartTime, b.EndTime, 29*h)
	}
	if b.TouchCount != 30 || b.Status != model.BoxActive || b.ViolationCount != 0 {
		t.Errorf("unexpected box state %+v", b)
	}
}

func TestDetect_Filters(t *testing.T) {
	wide := make([]model.Candle, 60)
	for i := range wide {
		wide[i] = candle(i, 105, 95, 100)
	}

	cases := []struct {
		name    string
		candles []model.Candle
	}{
		{"far from current price", squeezeThenTrend(3)}, // close 130, nearest edge 22% away
		{"range too wide", wide},
		{"shorter than min window", squeezeThenTrend(1.5)[:19]},
	}
	for _, tc := range cases {
		boxes, err := NewDetector(DefaultDetectorConfig()).Detect(tc.candles)
		if err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if len(boxes) != 0 {
			t.Errorf("%s: expected no boxes, got %+v", tc.name, boxes)
		}
	}
}

func TestDetect_Empty(t *testing.T) {
	if _, err := NewDetector(DefaultDetectorConfig()).Detect(nil); !errors.Is(err, model.ErrEmptyData) {
		t.Fatalf("expected ErrEmptyData, got %v", err)
	}
}

func TestDetect_InnerBand(t *testing.T) {
	var candles []model.Candle
	for i := 0; i < 20; i++ {
		if i%4 == 0 {
			candles = append(candles, candle(i, 102, 98, 100)) // 5 outliers
		} else {
			candles = append(candles, candle(i, 100.5, 99.5, 100))
		}
	}

	cfg := DefaultDetectorConfig()
	cfg.MinWindow, cfg.MaxWindow = 20, 20

	boxes, _ := NewDetector(cfg).Detect(candles)
	if len(boxes) != 1 {
		t.Fatalf("own-extremes count should accept the window, got %d boxes", len(boxes))
	}

	cfg.InnerBandPct = 10 // band 98.4..101.6 leaves 15 of 20 inside
	boxes, _ = NewDetector(cfg).Detect(candles)
	if len(boxes) != 0 {
		t.Fatalf("inner band should reject the window, got %+v", boxes)
	}
}

func TestDetect_DisjointAndDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	candles := make([]model.Candle, 600)
	p := 100.0
	for i := range candles {
		p += (rng.Float64() - 0.5) * 0.8
		candles[i] = candle(i, p+rng.Float64()*0.3, p-rng.Float64()*0.3, p)
	}

	d := NewDetector(DefaultDetectorConfig())
	first, err := d.Detect(candles)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) == 0 {
		t.Fatal("expected some boxes on a quiet random walk")
	}
	for i := range first {
		for j := i + 1; j < len(first); j++ {
			if first[i].Overlaps(&first[j]) {
				t.Fatalf("boxes %d and %d overlap: %+v %+v", i, j, first[i], first[j])
			}
		}
		if i > 0 && first[i].StartTime <= first[i-1].StartTime {
			t.Fatalf("boxes not ordered by start at %d", i)
		}
	}

	second, _ := d.Detect(candles)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("detection is not deterministic")
	}
}

func TestResolveOverlaps(t *testing.T) {
	box := func(s, e int64, tc int) model.Box {
		return model.Box{StartTime: s, EndTime: e, TouchCount: tc}
	}
	cases := []struct {
		name string
		in   []model.Box
		want []model.Box
	}{
		{"disjoint kept", []model.Box{box(20, 30, 1), box(0, 10, 1)}, []model.Box{box(0, 10, 1), box(20, 30, 1)}},
		{"longer wins", []model.Box{box(0, 10, 9), box(5, 30, 1)}, []model.Box{box(5, 30, 1)}},
		{"tie goes to touches", []model.Box{box(0, 10, 5), box(5, 15, 8)}, []model.Box{box(5, 15, 8)}},
		{"full tie keeps earlier", []model.Box{box(0, 10, 5), box(5, 15, 5)}, []model.Box{box(0, 10, 5)}},
		{"chain", []model.Box{box(0, 10, 1), box(5, 30, 1), box(20, 25, 1), box(31, 40, 1)},
			[]model.Box{box(5, 30, 1), box(31, 40, 1)}},
	}
	for _, tc := range cases {
		if got := resolveOverlaps(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("%s: got %+v, want %+v", tc.name, got, tc.want)
		}
	}
}

func flat(n int, close float64) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		out[i] = candle(i, close, close, close)
	}
	return out
}

func TestTracker_Breakout(t *testing.T) {
	cases := []struct {
		name  string
		price float64
		want  model.BoxStatus
	}{
		{"inside", 95, model.BoxActive},
		{"violation only", 105, model.BoxActive},
		{"breakout up", 111, model.BoxCompleted},
		{"breakdown", 80, model.BoxCompleted},
	}
	for _, tc := range cases {
		tr := NewTracker(DefaultTrackerConfig())
		tr.Reset([]model.Box{{Upper: 100, Lower: 90, StartTime: 0, EndTime: 5 * h}})
		res, err := tr.Update(flat(10, tc.price), 9)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		all := tr.All()
		if len(all) != 1 || all[0].Status != tc.want {
			t.Errorf("%s: got %+v, want status %v", tc.name, all, tc.want)
		}
		if (tc.want == model.BoxCompleted) != (len(res.Completed) == 1) {
			t.Errorf("%s: completed on tick = %d", tc.name, len(res.Completed))
		}
	}
}

func TestTracker_Violations(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	tr.Reset([]model.Box{{Upper: 100, Lower: 90, StartTime: 0, EndTime: 5 * h}})
	candles := flat(10, 101)

	for i := 1; i <= 10; i++ {
		if _, err := tr.Update(candles, 9); err != nil {
			t.Fatal(err)
		}
	}
	if len(tr.Active()) != 1 || tr.Active()[0].ViolationCount != 10 {
		t.Fatalf("after 10 violations box should still be active: %+v", tr.All())
	}

	res, _ := tr.Update(candles, 9)
	if len(res.Completed) != 1 || len(tr.Active()) != 0 || len(tr.Completed()) != 1 {
		t.Fatalf("11th violation should complete the box: %+v", tr.All())
	}

	// completed boxes never come back, even when price returns inside
	tr.Update(flat(10, 95), 9)
	if len(tr.Active()) != 0 || tr.Completed()[0].Status != model.BoxCompleted {
		t.Fatalf("completed box reactivated: %+v", tr.All())
	}
}

func TestTracker_Extension(t *testing.T) {
	cases := []struct {
		name      string
		latestIdx int
		boxEnd    int64
		wantEnd   int64
		extended  bool
	}{
		{"future candle known", 20, 29 * h, 30 * h, true},
		{"projected past series end", 39, 29 * h, 49 * h, true},
		{"never backwards", 5, 29 * h, 29 * h, false},
	}
	for _, tc := range cases {
		tr := NewTracker(DefaultTrackerConfig())
		tr.Reset([]model.Box{
			{Upper: 101, Lower: 99, StartTime: 0, EndTime: 3 * h},
			{Upper: 101, Lower: 99, StartTime: 10 * h, EndTime: tc.boxEnd},
		})
		res, err := tr.Update(flat(40, 100), tc.latestIdx)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		active := tr.Active()
		if active[1].EndTime != tc.wantEnd || res.Extended != tc.extended {
			t.Errorf("%s: end=%d extended=%v, want %d/%v", tc.name, active[1].EndTime, res.Extended, tc.wantEnd, tc.extended)
		}
		if active[0].EndTime != 3*h {
			t.Errorf("%s: older box must not be extended", tc.name)
		}
	}
}

func TestTracker_NoExtensionOutsideBand(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	tr.Reset([]model.Box{
		{Upper: 106, Lower: 99, StartTime: 0, EndTime: 3 * h},
		{Upper: 101, Lower: 99, StartTime: 10 * h, EndTime: 20 * h},
	})
	// inside the first box, outside the newest one
	res, _ := tr.Update(flat(40, 104), 39)
	if res.Extended {
		t.Fatal("newest box should only extend while price is inside it")
	}
	for _, b := range tr.Active() {
		if b.StartTime == 0 && b.EndTime != 3*h {
			t.Errorf("older box extended: %+v", b)
		}
	}
}

func TestTracker_CompletedUnique(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	b := model.Box{Upper: 100, Lower: 90, StartTime: 0, EndTime: 5 * h}
	tr.Reset([]model.Box{b, b})
	tr.Update(flat(10, 200), 9)
	if n := len(tr.Completed()); n != 1 {
		t.Fatalf("expected 1 completed box, got %d", n)
	}
}

func TestTracker_Errors(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	if _, err := tr.Update(nil, 0); !errors.Is(err, model.ErrEmptyData) {
		t.Errorf("expected ErrEmptyData, got %v", err)
	}
	if _, err := tr.Update(flat(3, 1), 3); err == nil {
		t.Error("expected index error")
	}
	if tr.Latest() != nil {
		t.Error("no active box expected")
	}
}

func TestGenerateSignals(t *testing.T) {
	box := model.Box{Upper: 100, Lower: 90, StartTime: 1 * h, EndTime: 4 * h}
	candles := []model.Candle{
		candle(0, 100.1, 90, 95), // before the box
		candle(1, 100.2, 95, 97), // sell touch, 0.2% above
		candle(2, 102, 95, 97),   // 2% above: nothing
		candle(3, 100, 90.1, 95), // both edges
		candle(4, 99, 90.2, 95),  // buy touch
		candle(5, 100, 90, 95),   // after the box
	}

	got := GenerateSignals([]model.Box{box}, candles, DefaultTolerancePct)
	want := []model.Signal{
		{Type: model.SignalSell, Time: 1 * h, Price: 100.2},
		{Type: model.SignalSell, Time: 3 * h, Price: 100},
		{Type: model.SignalBuy, Time: 3 * h, Price: 90.1},
		{Type: model.SignalBuy, Time: 4 * h, Price: 90.2},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("signals:\n got %+v\nwant %+v", got, want)
	}

	if s := GenerateSignals(nil, candles, DefaultTolerancePct); len(s) != 0 {
		t.Errorf("no boxes should give no signals, got %+v", s)
	}
}
