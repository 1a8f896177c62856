package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tailwind/internal/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type door struct {
	LockedOut bool
}

var errDeviceOffline = errors.New("device offline")

// scriptedFetcher returns queued results in order, repeating the last one
type scriptedFetcher struct {
	mu      sync.Mutex
	results []scriptedResult
	calls   atomic.Int32
}

type scriptedResult struct {
	snapshot *Snapshot[door]
	err      error
}

func (f *scriptedFetcher) push(snapshot *Snapshot[door], err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, scriptedResult{snapshot: snapshot, err: err})
}

func (f *scriptedFetcher) Fetch(ctx context.Context) (*Snapshot[door], error) {
	f.calls.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.results) == 0 {
		return nil, errDeviceOffline
	}
	res := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return res.snapshot, res.err
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Name = "test"
	cfg.ListenerTimeout = 200 * time.Millisecond
	return cfg
}

func snapshotOf(deviceID string, doors map[string]door) *Snapshot[door] {
	return NewSnapshot(deviceID, doors, time.Time{})
}

func newTestCoordinator(t *testing.T, fetcher Fetcher[door], cfg Config, clk clock.Clock) *Coordinator[door] {
	t.Helper()
	c, err := New(fetcher, cfg, clk, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)
	return c
}

func TestNew_Validation(t *testing.T) {
	fetcher := &scriptedFetcher{}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "zero interval", mutate: func(c *Config) { c.Interval = 0 }},
		{name: "zero fetch timeout", mutate: func(c *Config) { c.FetchTimeout = 0 }},
		{name: "zero threshold", mutate: func(c *Config) { c.FailureThreshold = 0 }},
		{name: "negative stale", mutate: func(c *Config) { c.StaleAfter = -time.Second }},
		{name: "zero listener timeout", mutate: func(c *Config) { c.ListenerTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			_, err := New[door](fetcher, cfg, nil, nil)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	t.Run("nil fetcher", func(t *testing.T) {
		_, err := New[door](nil, DefaultConfig(), nil, nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestCoordinator_CurrentBeforeFirstFetch(t *testing.T) {
	c := newTestCoordinator(t, &scriptedFetcher{}, testConfig(), nil)

	snapshot, err := c.Current()
	assert.Nil(t, snapshot)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, c.Status().Available)
}

func TestCoordinator_RefreshReplacesSnapshot(t *testing.T) {
	fetcher := &scriptedFetcher{}
	first := snapshotOf("dev1", map[string]door{"door1": {LockedOut: false}})
	second := snapshotOf("dev1", map[string]door{"door1": {LockedOut: true}})
	fetcher.push(first, nil)
	fetcher.push(second, nil)

	c := newTestCoordinator(t, fetcher, testConfig(), nil)

	got, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, got)

	current, err := c.Current()
	require.NoError(t, err)
	assert.Same(t, first, current)

	_, err = c.Refresh(context.Background())
	require.NoError(t, err)

	current, err = c.Current()
	require.NoError(t, err)
	assert.Same(t, second, current)

	// The earlier snapshot was replaced, not mutated
	state, ok := first.Entity("door1")
	require.True(t, ok)
	assert.False(t, state.LockedOut)
}

func TestCoordinator_SingleFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	snapshot := snapshotOf("dev1", map[string]door{"door1": {}})

	fetcher := FetcherFunc[door](func(ctx context.Context) (*Snapshot[door], error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return snapshot, nil
	})

	c := newTestCoordinator(t, fetcher, testConfig(), nil)

	var wg sync.WaitGroup
	results := make([]*Snapshot[door], 2)
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = c.Refresh(context.Background())
	}()
	<-started

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = c.Refresh(context.Background())
	}()

	require.Eventually(t, func() bool { return c.Status().Waiters == 2 },
		time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Same(t, results[0], results[1])
	assert.Same(t, snapshot, results[0])
}

func TestCoordinator_RefreshCallerContext(t *testing.T) {
	release := make(chan struct{})
	fetcher := FetcherFunc[door](func(ctx context.Context) (*Snapshot[door], error) {
		<-release
		return snapshotOf("dev1", nil), nil
	})
	c := newTestCoordinator(t, fetcher, testConfig(), nil)
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Refresh(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCoordinator_FailureThreshold(t *testing.T) {
	fetcher := &scriptedFetcher{}
	good := snapshotOf("dev1", map[string]door{"door1": {}})
	fetcher.push(good, nil)
	fetcher.push(nil, errDeviceOffline)
	fetcher.push(nil, errDeviceOffline)
	fetcher.push(nil, errDeviceOffline)
	recovered := snapshotOf("dev1", map[string]door{"door1": {LockedOut: true}})
	fetcher.push(recovered, nil)

	c := newTestCoordinator(t, fetcher, testConfig(), nil)

	var mu sync.Mutex
	var updates []Update[door]
	c.Subscribe(func(u Update[door]) {
		mu.Lock()
		updates = append(updates, u)
		mu.Unlock()
	})

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		_, err = c.Refresh(context.Background())
		assert.ErrorIs(t, err, ErrFetchFailed)
		assert.ErrorIs(t, err, errDeviceOffline)

		current, err := c.Current()
		require.NoError(t, err, "below threshold the cached snapshot is still served")
		assert.Same(t, good, current)
		assert.Equal(t, i, c.Status().ConsecutiveFailures)
	}

	_, err = c.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrFetchFailed)

	_, err = c.Current()
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, c.Status().Available)

	_, err = c.Refresh(context.Background())
	require.NoError(t, err)

	current, err := c.Current()
	require.NoError(t, err)
	assert.Same(t, recovered, current)
	assert.Equal(t, 0, c.Status().ConsecutiveFailures)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, updates, 5, "listeners hear about every refresh")
	assert.True(t, updates[0].Available)
	assert.True(t, updates[1].Available)
	assert.Error(t, updates[1].Err)
	assert.True(t, updates[2].Available)
	assert.False(t, updates[3].Available)
	assert.Nil(t, updates[3].Snapshot)
	assert.Equal(t, 3, updates[3].ConsecutiveFailures)
	assert.True(t, updates[4].Available)
	assert.NoError(t, updates[4].Err)
}

func TestCoordinator_CurrentKeepsFailureCause(t *testing.T) {
	fetcher := &scriptedFetcher{}
	fetcher.push(snapshotOf("dev1", map[string]door{"door1": {}}), nil)
	fetcher.push(nil, errDeviceOffline)

	cfg := testConfig()
	cfg.FailureThreshold = 1
	c := newTestCoordinator(t, fetcher, cfg, nil)

	_, err := c.Current()
	assert.Equal(t, ErrUnavailable, err, "nothing fetched yet, nothing to wrap")

	require.NoError(t, c.FirstRefresh(context.Background()))
	_, err = c.Refresh(context.Background())
	require.Error(t, err)

	_, err = c.Current()
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.ErrorIs(t, err, errDeviceOffline)
	assert.Contains(t, err.Error(), "device offline")
}

func TestCoordinator_FailuresWithoutAnySnapshot(t *testing.T) {
	c := newTestCoordinator(t, &scriptedFetcher{}, testConfig(), nil)

	err := c.FirstRefresh(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, err, ErrFetchFailed)

	_, err = c.Current()
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCoordinator_StaleAfter(t *testing.T) {
	mockClock := clock.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	fetcher := &scriptedFetcher{}
	fetcher.push(snapshotOf("dev1", map[string]door{"door1": {}}), nil)
	fetcher.push(nil, errDeviceOffline)

	cfg := testConfig()
	cfg.FailureThreshold = 10
	cfg.StaleAfter = time.Minute
	c := newTestCoordinator(t, fetcher, cfg, mockClock)

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	// Old snapshot but last refresh succeeded: still served
	mockClock.Advance(2 * time.Minute)
	_, err = c.Current()
	require.NoError(t, err)

	_, err = c.Refresh(context.Background())
	require.Error(t, err)

	_, err = c.Current()
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCoordinator_FetcherPanicIsFailure(t *testing.T) {
	fetcher := FetcherFunc[door](func(ctx context.Context) (*Snapshot[door], error) {
		panic("malformed payload")
	})
	c := newTestCoordinator(t, fetcher, testConfig(), nil)

	_, err := c.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.Contains(t, err.Error(), "malformed payload")
}

func TestCoordinator_NilSnapshotIsFailure(t *testing.T) {
	fetcher := FetcherFunc[door](func(ctx context.Context) (*Snapshot[door], error) {
		return nil, nil
	})
	c := newTestCoordinator(t, fetcher, testConfig(), nil)

	_, err := c.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestCoordinator_Unsubscribe(t *testing.T) {
	fetcher := &scriptedFetcher{}
	fetcher.push(snapshotOf("dev1", nil), nil)
	c := newTestCoordinator(t, fetcher, testConfig(), nil)

	var calls atomic.Int32
	sub := c.Subscribe(func(Update[door]) { calls.Add(1) })
	other := c.Subscribe(func(Update[door]) {})
	assert.Equal(t, 2, c.ListenerCount())

	_, _ = c.Refresh(context.Background())
	assert.Equal(t, int32(1), calls.Load())

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, 1, c.ListenerCount())

	_, _ = c.Refresh(context.Background())
	assert.Equal(t, int32(1), calls.Load())

	other.Unsubscribe()
	assert.Equal(t, 0, c.ListenerCount())
}

func TestCoordinator_SlowListenerDoesNotStallRefresh(t *testing.T) {
	fetcher := &scriptedFetcher{}
	fetcher.push(snapshotOf("dev1", nil), nil)

	cfg := testConfig()
	cfg.ListenerTimeout = 20 * time.Millisecond
	c := newTestCoordinator(t, fetcher, cfg, nil)

	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	var fastCalled atomic.Bool
	c.Subscribe(func(Update[door]) { <-block })
	c.Subscribe(func(Update[door]) { fastCalled.Store(true) })

	done := make(chan error, 1)
	go func() {
		_, err := c.Refresh(context.Background())
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("refresh stalled behind a blocked listener")
	}
	assert.True(t, fastCalled.Load())
}

func TestCoordinator_ListenerPanicIsContained(t *testing.T) {
	fetcher := &scriptedFetcher{}
	fetcher.push(snapshotOf("dev1", nil), nil)
	c := newTestCoordinator(t, fetcher, testConfig(), nil)

	var after atomic.Bool
	c.Subscribe(func(Update[door]) { panic("listener bug") })
	c.Subscribe(func(Update[door]) { after.Store(true) })

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, after.Load())
}

func TestCoordinator_Polling(t *testing.T) {
	mockClock := clock.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	fetcher := &scriptedFetcher{}
	fetcher.push(snapshotOf("dev1", nil), nil)

	cfg := testConfig()
	cfg.Interval = 30 * time.Second
	c := newTestCoordinator(t, fetcher, cfg, mockClock)

	c.Start()
	c.Start()
	assert.True(t, c.Status().Polling)
	assert.Equal(t, 1, mockClock.Pending())

	mockClock.Advance(29 * time.Second)
	assert.Equal(t, int32(0), fetcher.calls.Load())

	mockClock.Advance(time.Second)
	assert.Equal(t, int32(1), fetcher.calls.Load())
	assert.Equal(t, 1, mockClock.Pending(), "next poll scheduled after the refresh")

	mockClock.Advance(30 * time.Second)
	assert.Equal(t, int32(2), fetcher.calls.Load())

	c.Shutdown()
	assert.False(t, c.Status().Polling)
	assert.Equal(t, 0, mockClock.Pending())

	mockClock.Advance(time.Hour)
	assert.Equal(t, int32(2), fetcher.calls.Load())

	_, err := c.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCoordinator_PollingSurvivesFailures(t *testing.T) {
	mockClock := clock.NewMockClock(time.Unix(0, 0))
	fetcher := &scriptedFetcher{}
	fetcher.push(nil, errDeviceOffline)

	cfg := testConfig()
	c := newTestCoordinator(t, fetcher, cfg, mockClock)
	c.Start()

	for i := 0; i < 5; i++ {
		mockClock.Advance(cfg.Interval)
	}

	assert.Equal(t, int32(5), fetcher.calls.Load())
	assert.Equal(t, 5, c.Status().ConsecutiveFailures)
	assert.True(t, c.Status().Polling)
}

func TestCoordinator_ShutdownDiscardsInFlightResult(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	fetcher := FetcherFunc[door](func(ctx context.Context) (*Snapshot[door], error) {
		close(started)
		<-release
		return snapshotOf("dev1", map[string]door{"door1": {}}), nil
	})

	c := newTestCoordinator(t, fetcher, testConfig(), nil)

	var notified atomic.Bool
	c.Subscribe(func(Update[door]) { notified.Store(true) })

	done := make(chan error, 1)
	go func() {
		_, err := c.Refresh(context.Background())
		done <- err
	}()

	<-started
	c.Shutdown()
	close(release)

	assert.ErrorIs(t, <-done, ErrClosed)
	assert.False(t, notified.Load())

	_, err := c.Current()
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCoordinator_Status(t *testing.T) {
	fetcher := &scriptedFetcher{}
	fetcher.push(snapshotOf("dev1", map[string]door{"door1": {}, "door2": {}}), nil)
	fetcher.push(nil, errDeviceOffline)

	c := newTestCoordinator(t, fetcher, testConfig(), nil)
	require.NoError(t, c.FirstRefresh(context.Background()))

	status := c.Status()
	assert.Equal(t, "test", status.Name)
	assert.Equal(t, "dev1", status.DeviceID)
	assert.Equal(t, 2, status.Entities)
	assert.True(t, status.Available)
	assert.Empty(t, status.LastError)
	assert.False(t, status.LastSuccess.IsZero())

	_, _ = c.Refresh(context.Background())
	status = c.Status()
	assert.Equal(t, 1, status.ConsecutiveFailures)
	assert.Contains(t, status.LastError, "device offline")
	assert.Zero(t, status.Waiters)
}

func TestSnapshot_CopiesEntities(t *testing.T) {
	doors := map[string]door{"b": {}, "a": {LockedOut: true}}
	snapshot := NewSnapshot("dev1", doors, time.Time{})

	doors["c"] = door{}
	delete(doors, "a")

	assert.Equal(t, []string{"a", "b"}, snapshot.EntityIDs())
	assert.Equal(t, 2, snapshot.Len())

	state, ok := snapshot.Entity("a")
	require.True(t, ok)
	assert.True(t, state.LockedOut)

	_, ok = snapshot.Entity("c")
	assert.False(t, ok)
}
