package platform

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// DefaultOrder is used when a platform does not specify one
const DefaultOrder = 50

var (
	ErrInvalidPlatform   = errors.New("platform: invalid registration")
	ErrDuplicatePlatform = errors.New("platform: already registered")
	ErrDuplicateUniqueID = errors.New("platform: duplicate unique id")
	ErrSetupFailed       = errors.New("platform: setup failed")
)

// SetupFunc creates the entities of one platform
type SetupFunc func(ctx *Context) ([]Entity, error)

// PlatformInfo contains metadata about a registered platform
type PlatformInfo struct {
	// Name is the unique identifier for the platform, e.g. "binary_sensor"
	Name string

	// Description is a human-readable description of the platform
	Description string

	// Order specifies the setup order. Lower values are set up first.
	Order int

	// Setup creates the platform's entities
	Setup SetupFunc
}

// Registry manages platform registration and setup
type Registry struct {
	mu        sync.RWMutex
	platforms map[string]PlatformInfo
}

// NewRegistry creates a new platform registry
func NewRegistry() *Registry {
	return &Registry{
		platforms: make(map[string]PlatformInfo),
	}
}

// Register adds a platform to the registry
func (r *Registry) Register(info PlatformInfo) error {
	if info.Name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidPlatform)
	}
	if info.Setup == nil {
		return fmt.Errorf("%w: %s: setup cannot be nil", ErrInvalidPlatform, info.Name)
	}
	if info.Order == 0 {
		info.Order = DefaultOrder
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.platforms[info.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePlatform, info.Name)
	}
	r.platforms[info.Name] = info
	return nil
}

// Get returns platform info by name, or nil if not registered
func (r *Registry) Get(name string) *PlatformInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.platforms[name]
	if !ok {
		return nil
	}
	return &info
}

// List returns all registered platforms sorted by order, then name
func (r *Registry) List() []PlatformInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]PlatformInfo, 0, len(r.platforms))
	for _, info := range r.platforms {
		result = append(result, info)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Order != result[j].Order {
			return result[i].Order < result[j].Order
		}
		return result[i].Name < result[j].Name
	})
	return result
}

// Names returns the names of all registered platforms in setup order
func (r *Registry) Names() []string {
	platforms := r.List()
	names := make([]string, len(platforms))
	for i, info := range platforms {
		names[i] = info.Name
	}
	return names
}

// SetupAll sets up every platform in order and reports each entity's
// initial state. Unique ids must not collide across platforms; on any
// error the entities created so far are closed.
func (r *Registry) SetupAll(ctx *Context) ([]Entity, error) {
	logger := ctx.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var result []Entity
	seen := make(map[string]string)

	fail := func(err error) ([]Entity, error) {
		for i := len(result) - 1; i >= 0; i-- {
			result[i].Close()
		}
		return nil, err
	}

	for _, info := range r.List() {
		entities, err := info.Setup(ctx)
		if err != nil {
			return fail(fmt.Errorf("%w: %s: %w", ErrSetupFailed, info.Name, err))
		}

		for _, e := range entities {
			if owner, dup := seen[e.UniqueID()]; dup {
				for _, created := range entities {
					created.Close()
				}
				return fail(fmt.Errorf("%w: %s (platforms %s and %s)",
					ErrDuplicateUniqueID, e.UniqueID(), owner, info.Name))
			}
			seen[e.UniqueID()] = info.Name
		}
		result = append(result, entities...)

		logger.Info("Platform set up",
			zap.String("platform", info.Name),
			zap.Int("entities", len(entities)))
	}

	for _, e := range result {
		e.Sync()
	}
	return result, nil
}

// Clear removes all registered platforms. Useful for testing.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.platforms = make(map[string]PlatformInfo)
}

// Global registry instance
var globalRegistry = NewRegistry()

// Register adds a platform to the global registry.
// This is typically called from init() functions in platform packages.
func Register(info PlatformInfo) error {
	return globalRegistry.Register(info)
}

// Get returns platform info from the global registry
func Get(name string) *PlatformInfo {
	return globalRegistry.Get(name)
}

// List returns all platforms from the global registry
func List() []PlatformInfo {
	return globalRegistry.List()
}

// Names returns all platform names from the global registry
func Names() []string {
	return globalRegistry.Names()
}

// SetupAll sets up all platforms from the global registry
func SetupAll(ctx *Context) ([]Entity, error) {
	return globalRegistry.SetupAll(ctx)
}

// ClearGlobal clears the global registry. Useful for testing.
func ClearGlobal() {
	globalRegistry.Clear()
}
