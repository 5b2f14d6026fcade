package hubclient

import (
	"context"
	"encoding/json"
	"fmt"
)

// GetConfig fetches the hub's top-level configuration, including its
// version string (used for the full-sync hubVersion field).
func (c *Client) GetConfig(ctx context.Context) (json.RawMessage, error) {
	return c.sendCommand(ctx, "get_config", nil)
}

// GetAreas fetches the area registry.
func (c *Client) GetAreas(ctx context.Context) (json.RawMessage, error) {
	return c.sendCommand(ctx, "config/area_registry/list", nil)
}

// GetDevices fetches the device registry.
func (c *Client) GetDevices(ctx context.Context) (json.RawMessage, error) {
	return c.sendCommand(ctx, "config/device_registry/list", nil)
}

// GetEntities fetches the entity registry.
func (c *Client) GetEntities(ctx context.Context) (json.RawMessage, error) {
	return c.sendCommand(ctx, "config/entity_registry/list", nil)
}

// GetStates fetches the current state of every entity.
func (c *Client) GetStates(ctx context.Context) (json.RawMessage, error) {
	return c.sendCommand(ctx, "get_states", nil)
}

// GetServices fetches the services map, keyed by domain then service
// name.
func (c *Client) GetServices(ctx context.Context) (json.RawMessage, error) {
	return c.sendCommand(ctx, "get_services", nil)
}

// CallService invokes domain.service with the given service data and
// returns the hub's raw response, per spec.md §4.3's exposed RPC list.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) (json.RawMessage, error) {
	if domain == "" || service == "" {
		return nil, fmt.Errorf("hubclient: callService requires domain and service")
	}
	return c.sendCommand(ctx, "call_service", map[string]any{
		"domain":       domain,
		"service":      service,
		"service_data": data,
	})
}
