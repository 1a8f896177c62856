// Package entity binds declarative descriptors to a coordinator's cached
// snapshot. A View never performs I/O: it projects the state of one
// sub-entity through its descriptor whenever the coordinator refreshes.
package entity

import (
	"fmt"

	"tailwind/internal/coordinator"
)

// Category classifies an entity for the host platform
type Category int

const (
	CategoryNone Category = iota
	CategoryDiagnostic
	CategoryConfig
)

func (c Category) String() string {
	switch c {
	case CategoryDiagnostic:
		return "diagnostic"
	case CategoryConfig:
		return "config"
	default:
		return ""
	}
}

// Descriptor describes one derived value of an entity type.
//
// Project must be pure and total: it is called for every bound view on every
// refresh, and fields missing from the device payload arrive as zero values.
type Descriptor[T any, V comparable] struct {
	Key            string
	TranslationKey string
	Icon           string
	Category       Category
	Project        func(T) V
}

func (d Descriptor[T, V]) validate() error {
	if d.Key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidDescriptor)
	}
	if d.Project == nil {
		return fmt.Errorf("%w: %s: projection cannot be nil", ErrInvalidDescriptor, d.Key)
	}
	return nil
}

// Source is the read side of a coordinator
type Source[T any] interface {
	Current() (*coordinator.Snapshot[T], error)
	Subscribe(listener coordinator.Listener[T]) coordinator.Subscription
}

// Subscription releases an observer registration
type Subscription = coordinator.Subscription

// UniqueID builds the platform-wide id of an entity
func UniqueID(deviceID, entityID, key string) string {
	return deviceID + "-" + entityID + "-" + key
}
