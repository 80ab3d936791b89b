package simulator

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"squeeze-chart/internal/model"
)

// Journal persists simulator trade records to SQLite for audit and later
// analysis. It is write-mostly: nothing reads it back to restore a run.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS sim_trades (
		id          TEXT PRIMARY KEY,
		run_id      TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		action      TEXT NOT NULL,
		price       REAL NOT NULL,
		balance     REAL NOT NULL,
		reason      TEXT,
		traded_at   DATETIME NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_sim_trades_run ON sim_trades(run_id);
	CREATE INDEX IF NOT EXISTS idx_sim_trades_traded_at ON sim_trades(traded_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened trade journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// RecordTrade implements model.TradeSink.
func (j *Journal) RecordTrade(ctx context.Context, rec model.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO sim_trades (id, run_id, symbol, action, price, balance, reason, traded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.RunID,
		rec.Symbol,
		string(rec.Action),
		rec.Price,
		rec.Balance,
		rec.Reason,
		rec.Time.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Recent returns the last limit trades, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]model.TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, run_id, symbol, action, price, balance, reason, traded_at
		 FROM sim_trades ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.TradeRecord
	for rows.Next() {
		var (
			t      model.TradeRecord
			action string
			reason sql.NullString
			ts     string
		)
		if err := rows.Scan(&t.ID, &t.RunID, &t.Symbol, &action, &t.Price, &t.Balance, &reason, &ts); err != nil {
			continue
		}
		t.Action = model.TradeAction(action)
		t.Reason = reason.String
		t.Time, _ = time.Parse(time.RFC3339Nano, ts)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
