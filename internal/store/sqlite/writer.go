package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"squeeze-chart/internal/metrics"
	"squeeze-chart/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
	defaultQueueSize  = 4096
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath  string // path to SQLite database file, e.g. "data/candles.db"
	Metrics *metrics.Metrics
}

// row is one archived candle with its instrument.
type row struct {
	symbol string
	period string
	candle model.Candle
}

// Writer is a single-goroutine SQLite writer with transaction batching.
// Candles are queued by ArchiveCandle and written by Run.
type Writer struct {
	db      *sql.DB
	queue   chan row
	dropped atomic.Uint64
	metrics *metrics.Metrics
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db, queue: make(chan row, defaultQueueSize), metrics: cfg.Metrics}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol  TEXT    NOT NULL,
			period  TEXT    NOT NULL,
			ts      INTEGER NOT NULL,
			open    REAL    NOT NULL,
			high    REAL    NOT NULL,
			low     REAL    NOT NULL,
			close   REAL    NOT NULL,
			volume  REAL,
			PRIMARY KEY (symbol, period, ts)
		);
	`)
	return err
}

// Archive returns a model.CandleArchiver bound to one instrument.
func (w *Writer) Archive(symbol, period string) model.CandleArchiver {
	return &archive{w: w, symbol: symbol, period: period}
}

type archive struct {
	w      *Writer
	symbol string
	period string
}

// ArchiveCandle queues c without blocking; a full queue drops it.
func (a *archive) ArchiveCandle(c model.Candle) {
	select {
	case a.w.queue <- row{symbol: a.symbol, period: a.period, candle: c}:
	default:
		if n := a.w.dropped.Add(1); n%1000 == 1 {
			log.Printf("[sqlite] archive queue full, dropped %d candles so far", n)
		}
	}
}

// Dropped returns how many candles were dropped on a full queue.
func (w *Writer) Dropped() uint64 { return w.dropped.Load() }

// Run drains the archive queue and inserts candles in batched transactions.
// Flushes every batchSize candles OR every flushDelay, whichever first.
// Blocks until ctx is cancelled.
func (w *Writer) Run(ctx context.Context) {
	batch := make([]row, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertBatch(batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else if w.metrics != nil {
			w.metrics.SQLiteCommitDur.Observe(time.Since(start).Seconds())
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// Drain what is already queued.
			for {
				select {
				case r := <-w.queue:
					batch = append(batch, r)
					if len(batch) >= defaultBatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}

		case r := <-w.queue:
			batch = append(batch, r)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertBatch inserts a batch of candles in a single transaction. A candle
// already stored for the same instrument and time is replaced.
func (w *Writer) insertBatch(rows []row) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO candles (symbol, period, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		c := r.candle
		_, err := stmt.Exec(r.symbol, r.period, c.Time, c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// GetLastTimestamp returns the last stored candle time (ms) for an instrument.
// Returns 0 if no candles exist.
func (w *Writer) GetLastTimestamp(symbol, period string) (int64, error) {
	var ts sql.NullInt64
	err := w.db.QueryRow(
		`SELECT MAX(ts) FROM candles WHERE symbol = ? AND period = ?`,
		symbol, period,
	).Scan(&ts)
	if err != nil {
		return 0, err
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
