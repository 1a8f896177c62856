// Package clock abstracts the timers that drive polling so that the
// coordinator's schedule can be stepped deterministically in tests.
package clock

import (
	"container/heap"
	"sync"
	"time"
)

// Clock is the subset of the time package the poll loop depends on
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration

	// AfterFunc calls f once d has elapsed, on a goroutine of the clock's choosing
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer cancels a call scheduled with AfterFunc. Stop reports whether the
// call was still pending.
type Timer interface {
	Stop() bool
}

// RealClock is the wall clock
type RealClock struct{}

// NewRealClock returns a clock backed by the time package
func NewRealClock() *RealClock {
	return &RealClock{}
}

// Now returns the current local time
func (RealClock) Now() time.Time { return time.Now() }

// Since returns the time elapsed since t
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

// AfterFunc wraps time.AfterFunc
func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// MockClock only moves when told to. Due timers run synchronously inside
// Advance, earliest deadline first; ties run in scheduling order.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	pending timerQueue
	seq     uint64
}

// NewMockClock returns a mock clock stopped at start
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

// Now returns the mock time
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Since returns the mock time elapsed since t
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// AfterFunc schedules f to run during the Advance that reaches now+d
func (c *MockClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	t := &mockTimer{clock: c, at: c.now.Add(d), seq: c.seq, f: f}
	heap.Push(&c.pending, t)
	return t
}

// Pending returns the number of timers that have neither fired nor been stopped
func (c *MockClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.Len()
}

// Advance moves time forward by d and runs every timer that came due.
// Timers scheduled while those run wait for a later Advance.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*mockTimer
	for c.pending.Len() > 0 && !c.pending[0].at.After(c.now) {
		due = append(due, heap.Pop(&c.pending).(*mockTimer))
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

// Set jumps to t. Moving forward behaves like Advance; moving backward
// runs nothing.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	delta := t.Sub(c.now)
	if delta <= 0 {
		c.now = t
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.Advance(delta)
}

type mockTimer struct {
	clock *MockClock
	at    time.Time
	seq   uint64
	f     func()
	index int // position in the queue, -1 once popped or removed
}

// Stop removes the timer from the queue if it has not fired yet
func (t *mockTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.index < 0 {
		return false
	}
	heap.Remove(&c.pending, t.index)
	return true
}

// timerQueue is a min-heap of timers by deadline
type timerQueue []*mockTimer

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}

func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *timerQueue) Push(x any) {
	t := x.(*mockTimer)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}
