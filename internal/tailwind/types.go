// Package tailwind models the state reported by a Tailwind garage door
// controller and converts it into coordinator snapshots.
package tailwind

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tailwind/internal/coordinator"

	"gopkg.in/yaml.v3"
)

// Manufacturer is reported in device linkage metadata
const Manufacturer = "Tailwind"

// DoorState is the position reported for a door
type DoorState string

const (
	DoorOpen   DoorState = "open"
	DoorClosed DoorState = "close"
)

// Flag is a device boolean that may be encoded as 0/1, true/false or yes/no.
// Anything unrecognised decodes as false.
type Flag bool

func parseFlag(raw string) Flag {
	raw = strings.TrimSpace(strings.ToLower(raw))
	switch raw {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return Flag(b)
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return Flag(n != 0)
	}
	return false
}

// UnmarshalYAML implements yaml.Unmarshaler
func (f *Flag) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		*f = false
		return nil
	}
	*f = parseFlag(node.Value)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler
func (f *Flag) UnmarshalJSON(data []byte) error {
	*f = parseFlag(strings.Trim(string(data), `"`))
	return nil
}

// Door is the state of one door attached to the controller
type Door struct {
	ID        string    `yaml:"-" json:"door_id"`
	Index     int       `yaml:"index" json:"index"`
	State     DoorState `yaml:"status" json:"status"`
	Disabled  Flag      `yaml:"disabled" json:"disabled"`
	LockedOut Flag      `yaml:"lockup" json:"lockup"`
}

// Name is the display name used for the door's device, e.g. "Door 1"
func (d Door) Name() string {
	return fmt.Sprintf("Door %d", d.Index+1)
}

// Status is a full controller status document
type Status struct {
	DeviceID        string          `yaml:"dev_id" json:"dev_id"`
	Product         string          `yaml:"product" json:"product"`
	FirmwareVersion string          `yaml:"fw_ver" json:"fw_ver"`
	ProtocolVersion string          `yaml:"proto_ver" json:"proto_ver"`
	Doors           map[string]Door `yaml:"data" json:"data"`
}

// ParseStatus decodes a status document: the controller's JSON payload, or
// the same fields written as YAML. In JSON a repeated key keeps its last value.
func ParseStatus(data []byte) (*Status, error) {
	var status Status
	if err := decodeStatus(data, &status); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidStatus, err)
	}
	if status.DeviceID == "" {
		return nil, fmt.Errorf("%w: missing dev_id", ErrInvalidStatus)
	}

	for id, door := range status.Doors {
		door.ID = id
		status.Doors[id] = door
	}
	return &status, nil
}

func decodeStatus(data []byte, status *Status) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		return json.Unmarshal(trimmed, status)
	}
	return yaml.Unmarshal(data, status)
}

// Snapshot converts the status into an immutable coordinator snapshot
func (s *Status) Snapshot(fetchedAt time.Time) *coordinator.Snapshot[Door] {
	return coordinator.NewSnapshot(s.DeviceID, s.Doors, fetchedAt)
}
