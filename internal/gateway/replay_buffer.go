package gateway

import "sync"

type replayEntry struct {
	Seq  int64
	Data []byte // envelope
}

// ReplayBuffer keeps the last N trade envelopes so a reconnecting renderer
// can catch up on what it missed.
type ReplayBuffer struct {
	mu   sync.RWMutex
	ring []replayEntry
	next int
	n    int
}

// NewReplayBuffer creates a buffer holding capacity envelopes.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = tradeHistory
	}
	return &ReplayBuffer{ring: make([]replayEntry, capacity)}
}

// Push stores an envelope, evicting the oldest once full. Seqs must increase.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.ring[rb.next] = replayEntry{Seq: seq, Data: data}
	rb.next = (rb.next + 1) % len(rb.ring)
	if rb.n < len(rb.ring) {
		rb.n++
	}
}

// Since returns the entries with Seq > seq, oldest first.
func (rb *ReplayBuffer) Since(seq int64) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	var out []replayEntry
	start := (rb.next - rb.n + len(rb.ring)) % len(rb.ring)
	for i := 0; i < rb.n; i++ {
		e := rb.ring[(start+i)%len(rb.ring)]
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of stored entries.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.n
}
