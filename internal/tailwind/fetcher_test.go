package tailwind

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tailwind/internal/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const controllerPayload = `{
  "result": "OK",
  "product": "iQ3",
  "dev_id": "_3c_e9_0e_6d_21_84_",
  "proto_ver": "0.1",
  "door_num": 2,
  "fw_ver": "10.10",
  "data": {
    "door1": {"index": 0, "status": "close", "lockup": 0, "disabled": 0},
    "door2": {"index": 1, "status": "open", "lockup": 1, "disabled": 0}
  }
}`

func writeStatus(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "status.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestParseStatus_ControllerJSON(t *testing.T) {
	status, err := ParseStatus([]byte(controllerPayload))
	require.NoError(t, err)

	assert.Equal(t, "_3c_e9_0e_6d_21_84_", status.DeviceID)
	assert.Equal(t, "iQ3", status.Product)
	assert.Equal(t, "10.10", status.FirmwareVersion)
	require.Len(t, status.Doors, 2)

	door1 := status.Doors["door1"]
	assert.Equal(t, "door1", door1.ID)
	assert.Equal(t, DoorClosed, door1.State)
	assert.False(t, bool(door1.LockedOut))
	assert.Equal(t, "Door 1", door1.Name())

	door2 := status.Doors["door2"]
	assert.Equal(t, DoorOpen, door2.State)
	assert.True(t, bool(door2.LockedOut))
	assert.Equal(t, "Door 2", door2.Name())
}

func TestParseStatus_YAMLAndMissingFields(t *testing.T) {
	doc := `dev_id: dev1
data:
  door1:
    index: 0
  door2:
    lockup: "true"
    disabled: yes
`
	status, err := ParseStatus([]byte(doc))
	require.NoError(t, err)

	assert.False(t, bool(status.Doors["door1"].LockedOut), "missing lockup decodes as false")
	assert.True(t, bool(status.Doors["door2"].LockedOut))
	assert.True(t, bool(status.Doors["door2"].Disabled))
}

func TestParseStatus_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "not a document", doc: "data: [unterminated"},
		{name: "missing device id", doc: `{"data": {}}`},
		{name: "truncated json", doc: `{"dev_id": "dev1", "data": {`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStatus([]byte(tt.doc))
			assert.ErrorIs(t, err, ErrInvalidStatus)
		})
	}
}

func TestParseStatus_JSONFlagsAndRepeatedKeys(t *testing.T) {
	doc := `{
  "dev_id": "dev1",
  "data": {
    "door1": {"index": 0, "lockup": 0, "lockup": "1", "disabled": "no"}
  }
}`
	status, err := ParseStatus([]byte(doc))
	require.NoError(t, err)

	door := status.Doors["door1"]
	assert.Equal(t, "door1", door.ID)
	assert.True(t, bool(door.LockedOut), "last lockup wins")
	assert.False(t, bool(door.Disabled))
}

func TestFlag_UnmarshalJSON(t *testing.T) {
	var door struct {
		LockedOut Flag `json:"lockup"`
		Disabled  Flag `json:"disabled"`
		Other     Flag `json:"other"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"lockup": 1, "disabled": "true", "other": "garbage"}`), &door))

	assert.True(t, bool(door.LockedOut))
	assert.True(t, bool(door.Disabled))
	assert.False(t, bool(door.Other))
}

func TestFileFetcher_Fetch(t *testing.T) {
	dir := t.TempDir()
	path := writeStatus(t, dir, controllerPayload)

	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	fetcher := NewFileFetcher(path, clock.NewMockClock(now), zap.NewNop())
	assert.Equal(t, path, fetcher.Path())

	snapshot, err := fetcher.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "_3c_e9_0e_6d_21_84_", snapshot.DeviceID)
	assert.Equal(t, now, snapshot.FetchedAt)
	assert.Equal(t, []string{"door1", "door2"}, snapshot.EntityIDs())

	// Every fetch reads the file again and yields a new snapshot
	writeStatus(t, dir, `{"dev_id": "_3c_e9_0e_6d_21_84_", "data": {"door1": {"lockup": 1}}}`)
	next, err := fetcher.Fetch(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, snapshot, next)
	assert.Equal(t, []string{"door1"}, next.EntityIDs())

	door, ok := next.Entity("door1")
	require.True(t, ok)
	assert.True(t, bool(door.LockedOut))
}

func TestFileFetcher_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		fetcher := NewFileFetcher(filepath.Join(t.TempDir(), "absent.json"), nil, nil)
		_, err := fetcher.Fetch(context.Background())
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("invalid document", func(t *testing.T) {
		path := writeStatus(t, t.TempDir(), `{"data": {}}`)
		fetcher := NewFileFetcher(path, nil, nil)
		_, err := fetcher.Fetch(context.Background())
		assert.ErrorIs(t, err, ErrInvalidStatus)
	})

	t.Run("cancelled context", func(t *testing.T) {
		path := writeStatus(t, t.TempDir(), controllerPayload)
		fetcher := NewFileFetcher(path, nil, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := fetcher.Fetch(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMockFetcher(t *testing.T) {
	m := NewMockFetcher()

	_, err := m.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNoStatus)

	m.SetStatus(Status{DeviceID: "dev1", Doors: map[string]Door{"door1": {Index: 0}}})
	snapshot, err := m.Fetch(context.Background())
	require.NoError(t, err)

	door, ok := snapshot.Entity("door1")
	require.True(t, ok)
	assert.Equal(t, "door1", door.ID)

	boom := errors.New("boom")
	m.SetError(boom)
	_, err = m.Fetch(context.Background())
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, 3, m.Calls())
}
