package viewport

import (
	"math"
	"time"

	"squeeze-chart/internal/model"
)

// Easing maps linear progress in [0,1] to eased progress in [0,1].
type Easing func(p float64) float64

// EaseOutCubic decelerates towards the target.
func EaseOutCubic(p float64) float64 { return 1 - math.Pow(1-p, 3) }

// EaseOutQuint is a softer stop, used when the target rests on a data boundary.
func EaseOutQuint(p float64) float64 { return 1 - math.Pow(1-p, 5) }

// animation is an in-flight transition of the visible window.
// started is zero until the first Step, which stamps it.
type animation struct {
	from     model.TimeRange
	to       model.TimeRange
	duration time.Duration
	ease     Easing
	started  time.Time
}

// at returns the interpolated window for now and whether the animation finished.
func (a *animation) at(now time.Time) (model.TimeRange, bool) {
	if a.started.IsZero() {
		a.started = now
	}
	elapsed := now.Sub(a.started)
	if a.duration <= 0 || elapsed >= a.duration {
		return a.to, true
	}
	p := a.ease(float64(elapsed) / float64(a.duration))
	return model.TimeRange{
		Start: a.from.Start + (a.to.Start-a.from.Start)*p,
		End:   a.from.End + (a.to.End-a.from.End)*p,
	}, false
}
