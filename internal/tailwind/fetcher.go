package tailwind

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"tailwind/internal/clock"
	"tailwind/internal/coordinator"

	"go.uber.org/zap"
)

var (
	// ErrInvalidStatus is returned for status documents that cannot be used
	ErrInvalidStatus = errors.New("tailwind: invalid status document")

	// ErrNoStatus is returned by MockFetcher before a status has been set
	ErrNoStatus = errors.New("tailwind: no status available")
)

// FileFetcher reads a controller status document from disk on every fetch.
// It lets the coordinator replay captured payloads or follow a file kept
// current by an external transport.
type FileFetcher struct {
	path   string
	clock  clock.Clock
	logger *zap.Logger
}

// NewFileFetcher creates a fetcher for the document at path
func NewFileFetcher(path string, clk clock.Clock, logger *zap.Logger) *FileFetcher {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileFetcher{
		path:   path,
		clock:  clk,
		logger: logger.Named("tailwind"),
	}
}

// Path returns the status document location
func (f *FileFetcher) Path() string {
	return f.path
}

// Fetch implements coordinator.Fetcher
func (f *FileFetcher) Fetch(ctx context.Context) (*coordinator.Snapshot[Door], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read status %s: %w", f.path, err)
	}

	status, err := ParseStatus(data)
	if err != nil {
		return nil, fmt.Errorf("parse status %s: %w", f.path, err)
	}

	f.logger.Debug("Status loaded",
		zap.String("path", f.path),
		zap.String("device_id", status.DeviceID),
		zap.Int("doors", len(status.Doors)))

	return status.Snapshot(f.clock.Now()), nil
}

// MockFetcher implements coordinator.Fetcher for tests
type MockFetcher struct {
	mu     sync.Mutex
	status *Status
	err    error
	calls  int
}

// NewMockFetcher creates a mock fetcher with no status
func NewMockFetcher() *MockFetcher {
	return &MockFetcher{}
}

// SetStatus makes subsequent fetches succeed with status
func (m *MockFetcher) SetStatus(status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doors := make(map[string]Door, len(status.Doors))
	for id, door := range status.Doors {
		door.ID = id
		doors[id] = door
	}
	status.Doors = doors

	m.status = &status
	m.err = nil
}

// SetError makes subsequent fetches fail with err
func (m *MockFetcher) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Fetch has been called
func (m *MockFetcher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Fetch implements coordinator.Fetcher
func (m *MockFetcher) Fetch(ctx context.Context) (*coordinator.Snapshot[Door], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if m.status == nil {
		return nil, ErrNoStatus
	}
	return m.status.Snapshot(time.Time{}), nil
}
