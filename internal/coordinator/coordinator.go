// Package coordinator polls a device through a Fetcher, keeps the latest
// snapshot, and fans every refresh out to registered listeners.
//
// One fetch serves any number of readers: Current is a lock-free load of an
// immutable state record that only Refresh replaces. Refreshes are
// single-flight, so overlapping callers share one Fetcher invocation.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tailwind/internal/clock"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const refreshKey = "refresh"

// Fetcher obtains a fresh snapshot from the device
type Fetcher[T any] interface {
	Fetch(ctx context.Context) (*Snapshot[T], error)
}

// FetcherFunc adapts a function to the Fetcher interface
type FetcherFunc[T any] func(ctx context.Context) (*Snapshot[T], error)

// Fetch calls f(ctx)
func (f FetcherFunc[T]) Fetch(ctx context.Context) (*Snapshot[T], error) {
	return f(ctx)
}

// Update is delivered to listeners after every refresh, successful or not
type Update[T any] struct {
	// Snapshot is the usable cached snapshot, nil while unavailable
	Snapshot *Snapshot[T]
	// Err is the error of the refresh that triggered this update
	Err                 error
	Available           bool
	ConsecutiveFailures int
}

// Listener receives refresh notifications. It must return promptly.
type Listener[T any] func(Update[T])

// Subscription represents an active listener registration
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	once    sync.Once
	release func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.release)
}

type listenerEntry[T any] struct {
	id uint64
	fn Listener[T]
}

// state is replaced wholesale on every refresh and never mutated
type state[T any] struct {
	snapshot    *Snapshot[T]
	tripped     bool
	failures    int
	lastSuccess time.Time
	lastErr     error
}

// Status summarises the coordinator for diagnostics
type Status struct {
	Name                string    `json:"name"`
	DeviceID            string    `json:"device_id,omitempty"`
	Available           bool      `json:"available"`
	Entities            int       `json:"entities"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastSuccess         time.Time `json:"last_success"`
	LastError           string    `json:"last_error,omitempty"`
	Polling             bool      `json:"polling"`
	// Waiters counts callers blocked in Refresh, sharing at most one fetch
	Waiters int `json:"waiters"`
}

// Coordinator owns the polling loop and the cached snapshot
type Coordinator[T any] struct {
	fetcher Fetcher[T]
	cfg     Config
	clock   clock.Clock
	logger  *zap.Logger

	current atomic.Pointer[state[T]]
	group   singleflight.Group
	waiters atomic.Int32

	// fetchCtx parents every fetch. Shutdown leaves it alone so an in-flight
	// fetch can finish; its result is discarded instead.
	fetchCtx context.Context

	listenersMu sync.RWMutex
	listeners   []listenerEntry[T]
	nextID      uint64

	timerMu sync.Mutex
	timer   clock.Timer
	polling bool
	closed  atomic.Bool
}

// New creates a coordinator. A nil clock uses the real clock and a nil
// logger discards output.
func New[T any](fetcher Fetcher[T], cfg Config, clk clock.Clock, logger *zap.Logger) (*Coordinator[T], error) {
	if fetcher == nil {
		return nil, fmt.Errorf("%w: fetcher cannot be nil", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = DefaultConfig().Name
	}
	if clk == nil {
		clk = clock.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Coordinator[T]{
		fetcher:  fetcher,
		cfg:      cfg,
		clock:    clk,
		logger:   logger.Named("coordinator").With(zap.String("coordinator", cfg.Name)),
		fetchCtx: context.Background(),
	}
	c.current.Store(&state[T]{})
	return c, nil
}

// Config returns the settings the coordinator was built with
func (c *Coordinator[T]) Config() Config {
	return c.cfg
}

// Refresh fetches a new snapshot. If a refresh is already running the caller
// joins it and receives its result. ctx only bounds how long this caller
// waits; the fetch itself is bounded by FetchTimeout.
func (c *Coordinator[T]) Refresh(ctx context.Context) (*Snapshot[T], error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	ch := c.group.DoChan(refreshKey, func() (interface{}, error) {
		return c.refresh()
	})
	c.waiters.Add(1)
	defer c.waiters.Add(-1)

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot[T]), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FirstRefresh performs the setup-time refresh. Entities are discovered from
// its snapshot, so a failure here means setup cannot proceed.
func (c *Coordinator[T]) FirstRefresh(ctx context.Context) error {
	if _, err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	return nil
}

func (c *Coordinator[T]) refresh() (*Snapshot[T], error) {
	ctx, cancel := context.WithTimeout(c.fetchCtx, c.cfg.FetchTimeout)
	defer cancel()

	started := c.clock.Now()
	snapshot, err := c.fetch(ctx)

	if c.closed.Load() {
		c.logger.Debug("Discarding refresh result after shutdown")
		return nil, ErrClosed
	}

	prev := c.current.Load()

	if err != nil {
		err = fmt.Errorf("%w: %w", ErrFetchFailed, err)
		next := &state[T]{
			snapshot:    prev.snapshot,
			failures:    prev.failures + 1,
			lastSuccess: prev.lastSuccess,
			lastErr:     err,
		}
		next.tripped = next.failures >= c.cfg.FailureThreshold
		c.current.Store(next)
		c.logFailure(next)
		c.notify(c.updateFor(next, err))
		return nil, err
	}

	next := &state[T]{
		snapshot:    snapshot,
		lastSuccess: c.clock.Now(),
	}
	c.current.Store(next)

	if prev.tripped {
		c.logger.Info("Coordinator recovered",
			zap.Int("failed_refreshes", prev.failures))
	}
	c.logger.Debug("Refresh complete",
		zap.String("device_id", snapshot.DeviceID),
		zap.Int("entities", snapshot.Len()),
		zap.Duration("took", c.clock.Since(started)))

	c.notify(c.updateFor(next, nil))
	return snapshot, nil
}

// fetch calls the Fetcher, turning a panic or an empty result into an error
func (c *Coordinator[T]) fetch(ctx context.Context) (snapshot *Snapshot[T], err error) {
	defer func() {
		if r := recover(); r != nil {
			snapshot, err = nil, fmt.Errorf("fetcher panicked: %v", r)
		}
	}()

	snapshot, err = c.fetcher.Fetch(ctx)
	if err == nil && snapshot == nil {
		err = errors.New("fetcher returned no snapshot")
	}
	return snapshot, err
}

// logFailure keeps repeated failures quiet: one error when the threshold
// trips, debug output otherwise.
func (c *Coordinator[T]) logFailure(st *state[T]) {
	if st.failures == c.cfg.FailureThreshold {
		c.logger.Error("Coordinator unavailable after consecutive fetch failures",
			zap.Int("failures", st.failures),
			zap.Error(st.lastErr))
		return
	}

	c.logger.Debug("Fetch failed",
		zap.Int("failures", st.failures),
		zap.Int("threshold", c.cfg.FailureThreshold),
		zap.Error(st.lastErr))
}

// Current returns the latest usable snapshot. Otherwise the error matches
// ErrUnavailable and wraps the last fetch error, if there is one.
func (c *Coordinator[T]) Current() (*Snapshot[T], error) {
	st := c.current.Load()
	if !c.usable(st) {
		if st.lastErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, st.lastErr)
		}
		return nil, ErrUnavailable
	}
	return st.snapshot, nil
}

func (c *Coordinator[T]) usable(st *state[T]) bool {
	if st.snapshot == nil || st.tripped {
		return false
	}
	if st.lastErr != nil && c.cfg.StaleAfter > 0 && c.clock.Since(st.lastSuccess) > c.cfg.StaleAfter {
		return false
	}
	return true
}

func (c *Coordinator[T]) updateFor(st *state[T], err error) Update[T] {
	update := Update[T]{
		Err:                 err,
		ConsecutiveFailures: st.failures,
	}
	if c.usable(st) {
		update.Snapshot = st.snapshot
		update.Available = true
	}
	return update
}

// Subscribe registers a listener that is called after every refresh
func (c *Coordinator[T]) Subscribe(listener Listener[T]) Subscription {
	c.listenersMu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, listenerEntry[T]{id: id, fn: listener})
	c.listenersMu.Unlock()

	return &subscription{release: func() { c.unsubscribe(id) }}
}

func (c *Coordinator[T]) unsubscribe(id uint64) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	for i, entry := range c.listeners {
		if entry.id == id {
			c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
			return
		}
	}
}

// ListenerCount returns the number of registered listeners
func (c *Coordinator[T]) ListenerCount() int {
	c.listenersMu.RLock()
	defer c.listenersMu.RUnlock()
	return len(c.listeners)
}

// notify calls each listener in registration order on the refreshing goroutine
func (c *Coordinator[T]) notify(update Update[T]) {
	c.listenersMu.RLock()
	listeners := make([]listenerEntry[T], len(c.listeners))
	copy(listeners, c.listeners)
	c.listenersMu.RUnlock()

	for _, entry := range listeners {
		if c.closed.Load() {
			return
		}
		c.dispatch(entry, update)
	}
}

// dispatch runs one listener, waiting at most ListenerTimeout for it.
// A listener that overruns keeps running but no longer holds up the others.
func (c *Coordinator[T]) dispatch(entry listenerEntry[T], update Update[T]) {
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("Listener panicked",
					zap.Uint64("listener", entry.id),
					zap.Any("panic", r))
			}
		}()
		entry.fn(update)
	}()

	timeout := time.NewTimer(c.cfg.ListenerTimeout)
	defer timeout.Stop()

	select {
	case <-done:
	case <-timeout.C:
		c.logger.Warn("Listener exceeded notification timeout",
			zap.Uint64("listener", entry.id),
			zap.Duration("timeout", c.cfg.ListenerTimeout))
	}
}

// Start begins polling every Interval. The next poll is scheduled only once
// the previous one has finished.
func (c *Coordinator[T]) Start() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	if c.polling || c.closed.Load() {
		return
	}

	c.polling = true
	c.timer = c.clock.AfterFunc(c.cfg.Interval, c.poll)

	c.logger.Info("Polling started",
		zap.Duration("interval", c.cfg.Interval),
		zap.Int("failure_threshold", c.cfg.FailureThreshold))
}

func (c *Coordinator[T]) poll() {
	// Failures are logged and counted by refresh; the loop keeps going.
	_, _ = c.Refresh(context.Background())

	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	if !c.polling || c.closed.Load() {
		return
	}
	c.timer = c.clock.AfterFunc(c.cfg.Interval, c.poll)
}

// Shutdown stops polling and drops all listeners. A fetch already in flight
// is allowed to finish but its result is discarded.
func (c *Coordinator[T]) Shutdown() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	c.timerMu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.polling = false
	c.timerMu.Unlock()

	c.listenersMu.Lock()
	c.listeners = nil
	c.listenersMu.Unlock()

	c.logger.Info("Coordinator shut down")
}

// Status returns a point-in-time summary
func (c *Coordinator[T]) Status() Status {
	st := c.current.Load()

	c.timerMu.Lock()
	polling := c.polling
	c.timerMu.Unlock()

	status := Status{
		Name:                c.cfg.Name,
		Available:           c.usable(st),
		ConsecutiveFailures: st.failures,
		LastSuccess:         st.lastSuccess,
		Polling:             polling,
		Waiters:             int(c.waiters.Load()),
	}
	if st.snapshot != nil {
		status.DeviceID = st.snapshot.DeviceID
		status.Entities = st.snapshot.Len()
	}
	if st.lastErr != nil {
		status.LastError = st.lastErr.Error()
	}
	return status
}
