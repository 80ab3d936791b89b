package model

import "errors"

var (
	// ErrEmptyData is reported when an operation needs candles and none are loaded.
	ErrEmptyData = errors.New("no candle data")

	// ErrDegenerateRange is reported for zero-width time or price ranges.
	ErrDegenerateRange = errors.New("degenerate range")

	// ErrInvalidConfig marks simulator settings that had to be clamped.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrOutOfOrder is returned when a candle older than the series tail is appended.
	ErrOutOfOrder = errors.New("candle out of order")

	// ErrNotRunning is returned by controls that require detection to be running.
	ErrNotRunning = errors.New("detection not running")
)
