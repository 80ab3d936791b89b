// Package scheduler runs periodic tasks one at a time.
//
// Loop drives tasks from a single goroutine on the wall clock. Manual is the
// deterministic stand-in used by tests and backtests: nothing fires until
// Advance is called.
package scheduler

import (
	"log"
	"sort"
	"sync"
	"time"
)

// Scheduler registers periodic tasks. Tasks registered on one scheduler never
// run concurrently with each other or with themselves.
type Scheduler interface {
	// Every runs fn every interval, first after one interval has elapsed.
	// cancel is idempotent; once it returns fn will not be started again.
	Every(name string, interval time.Duration, fn func(now time.Time)) (cancel func())

	// Stop cancels every task and waits for a running one to finish.
	Stop()
}

type task struct {
	name      string
	interval  time.Duration
	fn        func(time.Time)
	next      time.Time
	seq       int
	cancelled bool
	running   bool
}

// dueOrder sorts by due time, then registration order.
func dueOrder(ts []*task) {
	sort.SliceStable(ts, func(i, j int) bool {
		if !ts[i].next.Equal(ts[j].next) {
			return ts[i].next.Before(ts[j].next)
		}
		return ts[i].seq < ts[j].seq
	})
}

// Loop is the wall-clock scheduler. A single goroutine sleeps until the
// earliest due task and runs due tasks back to back. A task that overruns its
// interval skips the ticks it missed instead of queueing them.
type Loop struct {
	mu      sync.Mutex
	idle    *sync.Cond
	tasks   []*task
	seq     int
	stopped bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewLoop starts the scheduler goroutine.
func NewLoop() *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	l.idle = sync.NewCond(&l.mu)
	go l.run()
	return l
}

func (l *Loop) Every(name string, interval time.Duration, fn func(now time.Time)) func() {
	l.mu.Lock()
	if l.stopped || interval <= 0 {
		l.mu.Unlock()
		return func() {}
	}
	l.seq++
	t := &task{name: name, interval: interval, fn: fn, seq: l.seq, next: time.Now().Add(interval)}
	l.tasks = append(l.tasks, t)
	l.mu.Unlock()

	l.poke()
	return func() { l.cancel(t) }
}

// cancel removes t and waits for an in-flight run of it to return.
// It must not be called from t's own callback.
func (l *Loop) cancel(t *task) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t.cancelled = true
	for i, x := range l.tasks {
		if x == t {
			l.tasks = append(l.tasks[:i], l.tasks[i+1:]...)
			break
		}
	}
	for t.running {
		l.idle.Wait()
	}
}

func (l *Loop) poke() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Stop cancels all tasks and waits for the loop goroutine to exit.
// It must not be called from a task callback.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.stopped = true
	for _, t := range l.tasks {
		t.cancelled = true
	}
	l.tasks = nil
	l.mu.Unlock()

	close(l.stop)
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		resetTimer(timer, l.untilNext())
		select {
		case <-l.stop:
			return
		case <-l.wake:
		case <-timer.C:
			l.fireDue()
		}
	}
}

func (l *Loop) untilNext() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.tasks) == 0 {
		return time.Hour
	}
	next := l.tasks[0].next
	for _, t := range l.tasks[1:] {
		if t.next.Before(next) {
			next = t.next
		}
	}
	d := time.Until(next)
	if d < 0 {
		d = 0
	}
	return d
}

func (l *Loop) fireDue() {
	l.mu.Lock()
	now := time.Now()
	var due []*task
	for _, t := range l.tasks {
		if !t.next.After(now) {
			due = append(due, t)
		}
	}
	dueOrder(due)

	for _, t := range due {
		if t.cancelled || l.stopped {
			continue
		}
		t.running = true
		l.mu.Unlock()

		t.fn(now)

		l.mu.Lock()
		t.running = false
		l.idle.Broadcast()

		after := time.Now()
		skipped := 0
		t.next = t.next.Add(t.interval)
		for !t.next.After(after) {
			t.next = t.next.Add(t.interval)
			skipped++
		}
		if skipped > 0 {
			log.Printf("[scheduler] task %s overran, skipped %d tick(s)", t.name, skipped)
		}
	}
	l.mu.Unlock()
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// Manual is a scheduler driven by Advance. Callbacks run on the caller's
// goroutine and may register or cancel tasks.
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	tasks []*task
	seq   int
}

// NewManual creates a manual scheduler whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Every(name string, interval time.Duration, fn func(now time.Time)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if interval <= 0 {
		return func() {}
	}
	m.seq++
	t := &task{name: name, interval: interval, fn: fn, seq: m.seq, next: m.now.Add(interval)}
	m.tasks = append(m.tasks, t)
	return func() { m.cancel(t) }
}

func (m *Manual) cancel(t *task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.cancelled = true
	for i, x := range m.tasks {
		if x == t {
			m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
			return
		}
	}
}

// Advance moves the clock forward by d, firing every due task in due-time
// order (registration order on ties). Each firing sees the clock at its due time.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	for {
		var next *task
		for _, t := range m.tasks {
			if t.next.After(target) {
				continue
			}
			if next == nil || t.next.Before(next.next) || (t.next.Equal(next.next) && t.seq < next.seq) {
				next = t
			}
		}
		if next == nil {
			break
		}
		m.now = next.next
		next.next = next.next.Add(next.interval)
		fn, now := next.fn, m.now

		m.mu.Unlock()
		fn(now)
		m.mu.Lock()
	}
	m.now = target
	m.mu.Unlock()
}

// Now returns the manual clock.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Pending returns the number of registered tasks.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

func (m *Manual) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		t.cancelled = true
	}
	m.tasks = nil
}
