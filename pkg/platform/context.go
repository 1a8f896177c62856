package platform

import (
	"tailwind/internal/entity"
	"tailwind/internal/tailwind"

	"go.uber.org/zap"
)

// Context provides dependencies to platforms during setup
type Context struct {
	// Doors is the coordinator holding the controller's door snapshot.
	// Platforms discover doors from its current snapshot.
	Doors entity.Source[tailwind.Door]

	// Logger is a structured logger for the platform to use.
	// Platforms should use logger.Named("platformname") for namespacing.
	Logger *zap.Logger
}

// NewContext creates a new platform context
func NewContext(doors entity.Source[tailwind.Door], logger *zap.Logger) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{
		Doors:  doors,
		Logger: logger,
	}
}
