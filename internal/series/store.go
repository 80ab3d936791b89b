// Package series holds the ordered candle history the whole core reads from.
//
// The store has a single owner (the feed consumer running on the session loop).
// Candles are only appended or replaced wholesale; readers get a snapshot slice
// that is never written to again, so they can keep it across ticks.
package series

import (
	"fmt"
	"sort"

	"squeeze-chart/internal/model"
)

// Store is the append-only candle history.
type Store struct {
	candles []model.Candle

	// Archive, if set, is handed every newly accepted candle.
	Archive model.CandleArchiver
}

// New creates an empty store.
func New() *Store {
	return &Store{}
}

// Set replaces the whole series. Input is sorted by time and duplicate
// timestamps collapse to the last occurrence.
func (s *Store) Set(candles []model.Candle) {
	cp := make([]model.Candle, len(candles))
	copy(cp, candles)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].Time < cp[j].Time })

	out := cp[:0]
	for _, c := range cp {
		if n := len(out); n > 0 && out[n-1].Time == c.Time {
			out[n-1] = c
			continue
		}
		out = append(out, c)
	}
	// Fresh backing array: old snapshots stay valid.
	s.candles = out
	if s.Archive != nil {
		for _, c := range out {
			s.Archive.ArchiveCandle(c)
		}
	}
}

// Append adds a candle to the tail. A candle with the same time as the tail
// replaces it (the feed re-sends the forming candle until it closes).
func (s *Store) Append(c model.Candle) error {
	n := len(s.candles)
	switch {
	case n == 0 || c.Time > s.candles[n-1].Time:
		// Copy-on-append keeps previously returned snapshots immutable.
		next := make([]model.Candle, n, n+1+n/4)
		copy(next, s.candles)
		s.candles = append(next, c)
	case c.Time == s.candles[n-1].Time:
		next := make([]model.Candle, n)
		copy(next, s.candles)
		next[n-1] = c
		s.candles = next
	default:
		return fmt.Errorf("append %d after %d: %w", c.Time, s.candles[n-1].Time, model.ErrOutOfOrder)
	}
	if s.Archive != nil {
		s.Archive.ArchiveCandle(c)
	}
	return nil
}

// Snapshot returns the current series. Callers must not modify it.
func (s *Store) Snapshot() []model.Candle {
	return s.candles
}

// Len returns the number of candles.
func (s *Store) Len() int {
	return len(s.candles)
}

// Last returns the newest candle.
func (s *Store) Last() (model.Candle, error) {
	if len(s.candles) == 0 {
		return model.Candle{}, model.ErrEmptyData
	}
	return s.candles[len(s.candles)-1], nil
}

// Range returns the first and last candle times.
func (s *Store) Range() (first, last int64, err error) {
	if len(s.candles) == 0 {
		return 0, 0, model.ErrEmptyData
	}
	return s.candles[0].Time, s.candles[len(s.candles)-1].Time, nil
}

// AverageInterval returns the mean spacing of the series in ms, 0 with fewer than 2 candles.
func (s *Store) AverageInterval() float64 {
	return AverageInterval(s.candles)
}

// AverageInterval returns the mean spacing between consecutive candles in ms.
func AverageInterval(candles []model.Candle) float64 {
	n := len(candles)
	if n < 2 {
		return 0
	}
	return float64(candles[n-1].Time-candles[0].Time) / float64(n-1)
}

// IndexAtOrAfter returns the index of the first candle with Time >= ts,
// or len(candles) if there is none.
func IndexAtOrAfter(candles []model.Candle, ts int64) int {
	return sort.Search(len(candles), func(i int) bool { return candles[i].Time >= ts })
}
