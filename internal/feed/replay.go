package feed

import (
	"context"
	"log"
	"sort"
	"time"

	"squeeze-chart/internal/model"
)

// CandleSource reads archived candles (the SQLite reader in production).
type CandleSource interface {
	ReadCandles(symbol, period string, fromTS int64) ([]model.Candle, error)
}

// Replayer plays archived candles back in time order at a configurable speed.
type Replayer struct {
	src CandleSource
}

// NewReplayer creates a Replayer over src.
func NewReplayer(src CandleSource) *Replayer {
	return &Replayer{src: src}
}

// Run emits every candle of the instrument with time >= fromTS (ms) to emit.
// speed controls the playback rate: 1.0 = real-time, 10.0 = 10x, 0 = as fast as possible.
// An emit error stops the replay and is returned.
func (r *Replayer) Run(ctx context.Context, symbol, period string, fromTS int64, speed float64, emit func(model.Candle) error) (int, error) {
	candles, err := r.src.ReadCandles(symbol, period, fromTS)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		log.Printf("[replay] no candles found for %s %s", symbol, period)
		return 0, nil
	}
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Time < candles[j].Time })

	log.Printf("[replay] loaded %d candles for %s %s, speed=%.1fx", len(candles), symbol, period, speed)

	var prevTS int64
	emitted := 0
	for i, c := range candles {
		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d candles", emitted)
			return emitted, ctx.Err()
		default:
		}

		// Simulate time gaps between candles
		if speed > 0 && i > 0 {
			if gap := time.Duration(c.Time-prevTS) * time.Millisecond; gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				// Cap max sleep to avoid very long waits
				if scaled > 5*time.Second {
					scaled = 5 * time.Second
				}
				select {
				case <-ctx.Done():
					return emitted, ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prevTS = c.Time

		if err := emit(c); err != nil {
			return emitted, err
		}
		emitted++
	}

	log.Printf("[replay] completed: %d candles replayed", emitted)
	return emitted, nil
}
