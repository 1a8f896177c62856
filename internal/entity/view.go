package entity

import (
	"fmt"
	"sync"

	"tailwind/internal/coordinator"

	"go.uber.org/zap"
)

// State is the lifecycle state of a View
type State int

const (
	// StateUnknown means no value has been reported yet
	StateUnknown State = iota
	StateAvailable
	StateUnavailable
	// StateDestroyed is terminal
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StateUnavailable:
		return "unavailable"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Change is emitted to observers when a view's reported value changes
type Change[V comparable] struct {
	UniqueID string
	State    State
	Value    V
	Err      error
}

type observerEntry[V comparable] struct {
	id uint64
	fn func(Change[V])
}

// View projects one sub-entity of the coordinator's snapshot through a descriptor
type View[T any, V comparable] struct {
	source     Source[T]
	descriptor Descriptor[T, V]
	entityID   string
	uniqueID   string
	logger     *zap.Logger

	// syncMu serialises evaluate-and-emit so observers see changes in order
	syncMu sync.Mutex

	mu        sync.Mutex
	state     State
	value     V
	err       error
	observers []observerEntry[V]
	nextID    uint64
	sub       coordinator.Subscription
}

// NewView binds descriptor to entityID. The source must already hold a
// snapshot: the unique id is derived from its device id.
func NewView[T any, V comparable](source Source[T], descriptor Descriptor[T, V], entityID string, logger *zap.Logger) (*View[T, V], error) {
	snapshot, err := source.Current()
	if err != nil {
		return nil, fmt.Errorf("create entity %s/%s: %w", entityID, descriptor.Key, err)
	}
	return newView(source, descriptor, snapshot.DeviceID, entityID, logger)
}

func newView[T any, V comparable](source Source[T], descriptor Descriptor[T, V], deviceID, entityID string, logger *zap.Logger) (*View[T, V], error) {
	if err := descriptor.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	uniqueID := UniqueID(deviceID, entityID, descriptor.Key)
	v := &View[T, V]{
		source:     source,
		descriptor: descriptor,
		entityID:   entityID,
		uniqueID:   uniqueID,
		logger:     logger.Named("entity").With(zap.String("unique_id", uniqueID)),
	}

	v.sub = source.Subscribe(func(coordinator.Update[T]) {
		v.Sync()
	})

	return v, nil
}

// UniqueID returns the platform-wide id, deviceID-entityID-key
func (v *View[T, V]) UniqueID() string { return v.uniqueID }

// EntityID returns the id of the sub-entity within the snapshot
func (v *View[T, V]) EntityID() string { return v.entityID }

// Key returns the descriptor key
func (v *View[T, V]) Key() string { return v.descriptor.Key }

// Category returns the descriptor category
func (v *View[T, V]) Category() Category { return v.descriptor.Category }

// Descriptor returns the descriptor the view projects through
func (v *View[T, V]) Descriptor() Descriptor[T, V] { return v.descriptor }

// Value reads through the coordinator's current snapshot. It returns an
// error matching ErrUnavailable when the coordinator has no usable data, the
// entity is missing, or the projection fails.
func (v *View[T, V]) Value() (V, error) {
	var zero V

	snapshot, err := v.source.Current()
	if err != nil {
		return zero, err
	}

	state, ok := snapshot.Entity(v.entityID)
	if !ok {
		return zero, &MissingEntityError{EntityID: v.entityID}
	}

	return v.project(state)
}

func (v *View[T, V]) project(state T) (value V, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero V
			value, err = zero, fmt.Errorf("%w: %s: %v", ErrProjectionFailed, v.uniqueID, r)
		}
	}()

	return v.descriptor.Project(state), nil
}

// State returns the lifecycle state as of the last Sync
func (v *View[T, V]) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Last returns the most recently reported change
func (v *View[T, V]) Last() Change[V] {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Change[V]{UniqueID: v.uniqueID, State: v.state, Value: v.value, Err: v.err}
}

// OnChange registers an observer. Observers run on the refreshing goroutine
// and must not call Sync or Close.
func (v *View[T, V]) OnChange(fn func(Change[V])) Subscription {
	v.mu.Lock()
	v.nextID++
	id := v.nextID
	if v.state != StateDestroyed {
		v.observers = append(v.observers, observerEntry[V]{id: id, fn: fn})
	}
	v.mu.Unlock()

	return &observerSubscription{release: func() { v.removeObserver(id) }}
}

type observerSubscription struct {
	once    sync.Once
	release func()
}

func (s *observerSubscription) Unsubscribe() {
	s.once.Do(s.release)
}

func (v *View[T, V]) removeObserver(id uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for i, entry := range v.observers {
		if entry.id == id {
			v.observers = append(v.observers[:i:i], v.observers[i+1:]...)
			return
		}
	}
}

// Sync re-evaluates the view and notifies observers if the state or value
// differs from what was last reported.
func (v *View[T, V]) Sync() {
	v.syncMu.Lock()
	defer v.syncMu.Unlock()

	value, err := v.Value()
	next := StateAvailable
	if err != nil {
		next = StateUnavailable
	}

	v.mu.Lock()
	if v.state == StateDestroyed || (v.state == next && v.value == value) {
		v.mu.Unlock()
		return
	}
	prev := v.state
	v.state, v.value, v.err = next, value, err
	observers := make([]observerEntry[V], len(v.observers))
	copy(observers, v.observers)
	v.mu.Unlock()

	switch {
	case next == StateUnavailable:
		v.logger.Debug("Entity unavailable", zap.Error(err))
	case prev == StateUnavailable:
		v.logger.Debug("Entity available again", zap.Any("value", value))
	}

	v.emit(observers, Change[V]{UniqueID: v.uniqueID, State: next, Value: value, Err: err})
}

// Close detaches the view from the coordinator. It emits one final
// StateDestroyed change and is a no-op afterwards.
func (v *View[T, V]) Close() {
	v.syncMu.Lock()
	defer v.syncMu.Unlock()

	v.mu.Lock()
	if v.state == StateDestroyed {
		v.mu.Unlock()
		return
	}
	var zero V
	v.state, v.value, v.err = StateDestroyed, zero, ErrDestroyed
	observers := v.observers
	v.observers = nil
	sub := v.sub
	v.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}

	v.emit(observers, Change[V]{UniqueID: v.uniqueID, State: StateDestroyed, Err: ErrDestroyed})
}

func (v *View[T, V]) emit(observers []observerEntry[V], change Change[V]) {
	for _, entry := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					v.logger.Error("Entity observer panicked", zap.Any("panic", r))
				}
			}()
			entry.fn(change)
		}()
	}
}
