package coordinator

import (
	"fmt"
	"time"
)

// Config controls polling and availability for a Coordinator
type Config struct {
	// Name identifies the coordinator in logs
	Name string

	// Interval between the end of one poll and the start of the next
	Interval time.Duration

	// FetchTimeout bounds a single Fetcher call
	FetchTimeout time.Duration

	// FailureThreshold is the number of consecutive failed refreshes after
	// which the coordinator reports itself unavailable
	FailureThreshold int

	// StaleAfter makes the cached snapshot unavailable once it is older than
	// this and the last refresh failed. Zero disables the check.
	StaleAfter time.Duration

	// ListenerTimeout bounds how long one listener may hold up notification
	ListenerTimeout time.Duration
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() Config {
	return Config{
		Name:             "coordinator",
		Interval:         30 * time.Second,
		FetchTimeout:     10 * time.Second,
		FailureThreshold: 3,
		ListenerTimeout:  2 * time.Second,
	}
}

// Validate reports the first invalid setting
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %v", ErrInvalidConfig, c.Interval)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("%w: fetch timeout must be positive, got %v", ErrInvalidConfig, c.FetchTimeout)
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("%w: failure threshold must be at least 1, got %d", ErrInvalidConfig, c.FailureThreshold)
	}
	if c.StaleAfter < 0 {
		return fmt.Errorf("%w: stale_after cannot be negative", ErrInvalidConfig)
	}
	if c.ListenerTimeout <= 0 {
		return fmt.Errorf("%w: listener timeout must be positive, got %v", ErrInvalidConfig, c.ListenerTimeout)
	}
	return nil
}
