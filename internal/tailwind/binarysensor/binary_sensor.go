// Package binarysensor provides the Tailwind door binary sensors.
package binarysensor

import (
	"fmt"
	"strings"

	"tailwind/internal/entity"
	"tailwind/internal/tailwind"
	"tailwind/pkg/platform"

	"go.uber.org/zap"
)

// Descriptions lists the binary sensors created for every door
var Descriptions = []entity.Descriptor[tailwind.Door, bool]{
	{
		Key:            "locked_out",
		TranslationKey: "operational_status",
		Category:       entity.CategoryDiagnostic,
		Icon:           "mdi:garage-alert",
		// On means the door operates normally
		Project: func(door tailwind.Door) bool {
			return !bool(door.LockedOut)
		},
	},
}

func init() {
	if err := platform.Register(platform.PlatformInfo{
		Name:        platform.BinarySensor,
		Description: "Tailwind door diagnostics",
		Order:       10,
		Setup:       setupPlatform,
	}); err != nil {
		panic(err)
	}
}

// Setup creates one view per description and door in the source's current
// snapshot.
func Setup(source entity.Source[tailwind.Door], logger *zap.Logger) ([]*entity.View[tailwind.Door, bool], error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return entity.Setup(source, Descriptions, logger.Named(platform.BinarySensor))
}

func setupPlatform(ctx *platform.Context) ([]platform.Entity, error) {
	if ctx.Doors == nil {
		return nil, fmt.Errorf("%w: no door source", platform.ErrSetupFailed)
	}

	snapshot, err := ctx.Doors.Current()
	if err != nil {
		return nil, err
	}

	logger := ctx.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// Views and device info both come from this one snapshot
	views, err := entity.SetupFrom(ctx.Doors, snapshot, Descriptions, logger.Named(platform.BinarySensor))
	if err != nil {
		return nil, err
	}

	entities := make([]platform.Entity, 0, len(views))
	for _, view := range views {
		door, _ := snapshot.Entity(view.EntityID())
		device := doorDevice(snapshot.DeviceID, door)
		entities = append(entities, platform.NewBinarySensor(view, entityName(view.Descriptor()), device))
	}
	return entities, nil
}

func doorDevice(deviceID string, door tailwind.Door) platform.DeviceInfo {
	return platform.DeviceInfo{
		Identifiers:  []string{deviceID + "-" + door.ID},
		Name:         door.Name(),
		Manufacturer: tailwind.Manufacturer,
		ViaDevice:    deviceID,
	}
}

// entityName turns a translation key into a display name,
// e.g. "operational_status" becomes "Operational status"
func entityName(d entity.Descriptor[tailwind.Door, bool]) string {
	key := d.TranslationKey
	if key == "" {
		key = d.Key
	}
	name := strings.ReplaceAll(key, "_", " ")
	if name == "" {
		return ""
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
