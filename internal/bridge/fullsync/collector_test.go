package fullsync_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nautilink/helm-bridge/internal/bridge/fullsync"
)

type fakeHub struct {
	areas, devices, entities, states, services json.RawMessage
	areasErr, devicesErr, entitiesErr, statesErr, servicesErr error
}

func (f *fakeHub) GetAreas(context.Context) (json.RawMessage, error)    { return f.areas, f.areasErr }
func (f *fakeHub) GetDevices(context.Context) (json.RawMessage, error)  { return f.devices, f.devicesErr }
func (f *fakeHub) GetEntities(context.Context) (json.RawMessage, error) { return f.entities, f.entitiesErr }
func (f *fakeHub) GetStates(context.Context) (json.RawMessage, error)   { return f.states, f.statesErr }
func (f *fakeHub) GetServices(context.Context) (json.RawMessage, error) { return f.services, f.servicesErr }

func TestCollect_JoinsEntityRegistryWithStates(t *testing.T) {
	hub := &fakeHub{
		areas:   json.RawMessage(`[{"area_id":"kitchen","name":"Kitchen"}]`),
		devices: json.RawMessage(`[{"id":"dev1"}]`),
		entities: json.RawMessage(`[
			{"entity_id":"light.kitchen","device_id":"dev1","area_id":"kitchen"}
		]`),
		states: json.RawMessage(`[
			{"entity_id":"light.kitchen","state":"on","attributes":{"brightness":200}}
		]`),
		services: json.RawMessage(`{"light":{"turn_on":{},"turn_off":{}}}`),
	}

	data := fullsync.Collect(context.Background(), hub)

	require.Len(t, data.Entities, 1)
	assert.Equal(t, "light.kitchen", data.Entities[0].EntityID)
	assert.Equal(t, "dev1", data.Entities[0].DeviceID)
	assert.Equal(t, "kitchen", data.Entities[0].AreaID)
	assert.Equal(t, "on", data.Entities[0].State)

	require.Len(t, data.Services, 1)
	assert.Equal(t, "light", data.Services[0].Domain)
	assert.ElementsMatch(t, []string{"turn_on", "turn_off"}, data.Services[0].Services)

	require.Len(t, data.Areas, 1)
	require.Len(t, data.Devices, 1)
}

func TestCollect_ToleratesPartialFailure(t *testing.T) {
	hub := &fakeHub{
		areas:      json.RawMessage(`[]`),
		devicesErr: fmt.Errorf("hub unreachable"),
		entities:   json.RawMessage(`[]`),
		states:     json.RawMessage(`[{"entity_id":"sensor.temp","state":"21"}]`),
		services:   json.RawMessage(`{}`),
	}

	data := fullsync.Collect(context.Background(), hub)

	assert.Empty(t, data.Devices)
	require.Len(t, data.Entities, 1)
	assert.Equal(t, "sensor.temp", data.Entities[0].EntityID)
	assert.Empty(t, data.Entities[0].DeviceID)
}

func TestCollect_AllFailuresYieldEmptySnapshot(t *testing.T) {
	hub := &fakeHub{
		areasErr:    fmt.Errorf("x"),
		devicesErr:  fmt.Errorf("x"),
		entitiesErr: fmt.Errorf("x"),
		statesErr:   fmt.Errorf("x"),
		servicesErr: fmt.Errorf("x"),
	}

	data := fullsync.Collect(context.Background(), hub)

	assert.Empty(t, data.Areas)
	assert.Empty(t, data.Devices)
	assert.Empty(t, data.Entities)
	assert.Empty(t, data.Services)
}
