package sqlite

import (
	"database/sql"
	"fmt"
	"log"

	"squeeze-chart/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to the candle archive for backtests.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadCandles returns the archived candles of one instrument with time >= fromTS (ms),
// ordered by time ascending for correct replay order.
func (r *Reader) ReadCandles(symbol, period string, fromTS int64) ([]model.Candle, error) {
	rows, err := r.db.Query(`
		SELECT ts, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND period = ? AND ts >= ?
		ORDER BY ts ASC
	`, symbol, period, fromTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var vol sql.NullFloat64
		if err := rows.Scan(&c.Time, &c.Open, &c.High, &c.Low, &c.Close, &vol); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		c.Volume = vol.Float64
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// Instrument is one archived symbol/period pair.
type Instrument struct {
	Symbol  string
	Period  string
	Candles int
	First   int64
	Last    int64
}

// Instruments lists what the archive holds.
func (r *Reader) Instruments() ([]Instrument, error) {
	rows, err := r.db.Query(`
		SELECT symbol, period, COUNT(*), MIN(ts), MAX(ts)
		FROM candles
		GROUP BY symbol, period
		ORDER BY symbol, period
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query instruments: %w", err)
	}
	defer rows.Close()

	var out []Instrument
	for rows.Next() {
		var in Instrument
		if err := rows.Scan(&in.Symbol, &in.Period, &in.Candles, &in.First, &in.Last); err != nil {
			return nil, fmt.Errorf("sqlite scan instruments: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
