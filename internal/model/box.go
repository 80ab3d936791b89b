package model

import (
	"encoding/json"
	"fmt"
)

// BoxStatus is the lifecycle state of a consolidation box.
// Active -> Completed is one-way.
type BoxStatus int

const (
	BoxActive BoxStatus = iota
	BoxCompleted
)

func (s BoxStatus) String() string {
	switch s {
	case BoxActive:
		return "active"
	case BoxCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the status as its string form.
func (s BoxStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the string form produced by MarshalJSON.
func (s *BoxStatus) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v {
	case "active":
		*s = BoxActive
	case "completed":
		*s = BoxCompleted
	default:
		return fmt.Errorf("unknown box status %q", v)
	}
	return nil
}

// Box is a consolidation ("squeeze") box: a price band held over a time interval.
type Box struct {
	Upper          float64   `json:"upper"`
	Lower          float64   `json:"lower"`
	StartTime      int64     `json:"start_time"` // ms
	EndTime        int64     `json:"end_time"`   // ms
	TouchCount     int       `json:"touch_count"`
	ViolationCount int       `json:"violation_count"`
	Status         BoxStatus `json:"status"`
}

// BoxKey identifies a box by its time span. Used to keep the completed set free of duplicates.
type BoxKey struct {
	Start int64
	End   int64
}

// Key returns the (StartTime, EndTime) identity of the box.
func (b *Box) Key() BoxKey {
	return BoxKey{Start: b.StartTime, End: b.EndTime}
}

// Duration returns EndTime - StartTime in ms.
func (b *Box) Duration() int64 {
	return b.EndTime - b.StartTime
}

// Overlaps reports whether the two boxes share any instant, endpoints included.
func (b *Box) Overlaps(o *Box) bool {
	return !(b.EndTime < o.StartTime || o.EndTime < b.StartTime)
}

// Contains reports whether price lies inside [Lower, Upper].
func (b *Box) Contains(price float64) bool {
	return price >= b.Lower && price <= b.Upper
}
