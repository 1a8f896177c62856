// Package platform defines the surface through which entities are exposed to
// the host platform, and the registry that sets entity platforms up.
// Platforms register themselves from init() functions; the application
// calls SetupAll once the coordinator holds its first snapshot.
package platform

import "tailwind/internal/entity"

// Subscription releases an OnChange registration
type Subscription = entity.Subscription

// DeviceInfo links an entity to the device it belongs to
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

// EntityState is the host-facing rendering of an entity at one point in time
type EntityState struct {
	UniqueID       string     `json:"unique_id"`
	Platform       string     `json:"platform"`
	Key            string     `json:"key"`
	EntityID       string     `json:"entity_id"`
	Name           string     `json:"name"`
	TranslationKey string     `json:"translation_key,omitempty"`
	Icon           string     `json:"icon,omitempty"`
	Category       string     `json:"category,omitempty"`
	State          string     `json:"state"`
	Value          any        `json:"value"`
	Error          string     `json:"error,omitempty"`
	Device         DeviceInfo `json:"device"`
}

// Available reports whether the entity currently has a value
func (s EntityState) Available() bool {
	return s.State == entity.StateAvailable.String()
}

// Entity is what the host platform needs from every exposed entity
type Entity interface {
	// UniqueID is stable across restarts and unique among all entities
	UniqueID() string

	// Platform names the entity platform, e.g. "binary_sensor"
	Platform() string

	Category() entity.Category

	// Value reads the current value through the coordinator's cache.
	// The error matches entity.ErrUnavailable when there is none.
	Value() (any, error)

	// State returns the last reported state
	State() EntityState

	// OnChange registers fn to be called whenever the reported state changes
	OnChange(fn func(EntityState)) Subscription

	// Sync re-evaluates the entity and reports a change if there is one
	Sync()

	// Close detaches the entity from the coordinator
	Close()
}
