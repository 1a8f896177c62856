package coordinator

import (
	"sort"
	"time"
)

// Snapshot is the device state returned by one successful fetch.
// It is never modified after construction; a newer poll produces a new Snapshot.
type Snapshot[T any] struct {
	DeviceID  string
	FetchedAt time.Time

	entities map[string]T
}

// NewSnapshot builds a snapshot, copying entities so later changes to the
// caller's map cannot leak into readers.
func NewSnapshot[T any](deviceID string, entities map[string]T, fetchedAt time.Time) *Snapshot[T] {
	copied := make(map[string]T, len(entities))
	for id, state := range entities {
		copied[id] = state
	}

	return &Snapshot[T]{
		DeviceID:  deviceID,
		FetchedAt: fetchedAt,
		entities:  copied,
	}
}

// Entity returns the state recorded for entityID
func (s *Snapshot[T]) Entity(entityID string) (T, bool) {
	state, ok := s.entities[entityID]
	return state, ok
}

// EntityIDs returns the ids of all sub-entities, sorted
func (s *Snapshot[T]) EntityIDs() []string {
	ids := make([]string, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of sub-entities
func (s *Snapshot[T]) Len() int {
	return len(s.entities)
}
