package entity

import (
	"fmt"

	"tailwind/internal/coordinator"

	"go.uber.org/zap"
)

// Setup creates one view per descriptor and entity id found in the source's
// current snapshot, ordered by descriptor then entity id. Descriptor keys
// must be unique so that no two views share a unique id.
func Setup[T any, V comparable](source Source[T], descriptors []Descriptor[T, V], logger *zap.Logger) ([]*View[T, V], error) {
	snapshot, err := source.Current()
	if err != nil {
		return nil, fmt.Errorf("set up entities: %w", err)
	}
	return SetupFrom(source, snapshot, descriptors, logger)
}

// SetupFrom is Setup with entities discovered from snapshot instead of the
// source's current one. Callers that derive more from the snapshot use it to
// stay consistent with a refresh landing mid-setup.
func SetupFrom[T any, V comparable](source Source[T], snapshot *coordinator.Snapshot[T], descriptors []Descriptor[T, V], logger *zap.Logger) ([]*View[T, V], error) {
	if snapshot == nil {
		return nil, fmt.Errorf("set up entities: %w", ErrUnavailable)
	}

	seen := make(map[string]struct{}, len(descriptors))
	for _, d := range descriptors {
		if err := d.validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[d.Key]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, d.Key)
		}
		seen[d.Key] = struct{}{}
	}

	entityIDs := snapshot.EntityIDs()
	views := make([]*View[T, V], 0, len(descriptors)*len(entityIDs))

	for _, d := range descriptors {
		for _, entityID := range entityIDs {
			view, err := newView(source, d, snapshot.DeviceID, entityID, logger)
			if err != nil {
				for _, created := range views {
					created.Close()
				}
				return nil, err
			}
			views = append(views, view)
		}
	}

	return views, nil
}
