package redis

import (
	"sync"

	"squeeze-chart/internal/model"
)

// tradeBacklog holds trades while the breaker is open. When full the oldest
// entry is dropped.
type tradeBacklog struct {
	mu    sync.Mutex
	items []model.TradeRecord
	max   int
}

func newTradeBacklog(max int) *tradeBacklog {
	if max <= 0 {
		max = defaultBacklogSize
	}
	return &tradeBacklog{max: max}
}

// push appends rec and reports whether an older entry was dropped.
func (b *tradeBacklog) push(rec model.TradeRecord) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	dropped := false
	if len(b.items) >= b.max {
		b.items = b.items[1:]
		dropped = true
	}
	b.items = append(b.items, rec)
	return dropped
}

// take empties the backlog and returns its contents.
func (b *tradeBacklog) take() []model.TradeRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	return out
}

// requeue puts unflushed trades back in front of anything pushed meanwhile.
func (b *tradeBacklog) requeue(recs []model.TradeRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	merged := append(append([]model.TradeRecord(nil), recs...), b.items...)
	if over := len(merged) - b.max; over > 0 {
		merged = merged[over:]
	}
	b.items = merged
}

func (b *tradeBacklog) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
