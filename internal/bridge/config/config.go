// Package config loads the bridge's immutable runtime configuration
// from the environment (spec.md §6), falling back to the documented
// defaults for anything unset.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/nautilink/helm-bridge/internal/id"
)

// ProtocolVersion is the wire protocol version reported in
// authenticate and heartbeat frames.
const ProtocolVersion = "1"

// defaults mirrors the Environment table in spec.md §6.
var defaults = map[string]any{
	"ha_url":          "http://supervisor/core",
	"cloud_url":       "https://helm.replit.app",
	"credential_path": "/data/credentials.json",
	"health_port":     "8099",
	"heartbeat_ms":    "60000",
}

// Config is immutable for the lifetime of the process (spec.md §3).
type Config struct {
	HubURL         string
	HubToken       string
	CloudURL       string
	BridgeID       string
	CredentialPath string
	HealthPort     int
	HeartbeatMs    int

	BridgeVersion   string
	ProtocolVersion string
}

// Load reads configuration from the process environment. bridgeVersion
// is the build-time version string baked into the binary; it has no
// environment variable of its own. Load fails fast if no hub token is
// configured — a fatal configuration error per spec.md §7.1.
func Load(bridgeVersion string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	hubURL := firstNonEmpty(k.String("ha_url"), k.String("supervisor_url"), defaults["ha_url"].(string))
	hubToken := firstNonEmpty(k.String("ha_token"), k.String("supervisor_token"))
	if hubToken == "" {
		return nil, fmt.Errorf("config: HA_TOKEN or SUPERVISOR_TOKEN is required")
	}

	bridgeID := k.String("bridge_id")
	if bridgeID == "" {
		bridgeID = "helm-bridge-" + id.GenerateBridgeID(8)
	}

	healthPort, err := strconv.Atoi(k.String("health_port"))
	if err != nil {
		return nil, fmt.Errorf("config: HEALTH_PORT: %w", err)
	}

	heartbeatMs, err := strconv.Atoi(k.String("heartbeat_ms"))
	if err != nil {
		return nil, fmt.Errorf("config: HEARTBEAT_MS: %w", err)
	}

	return &Config{
		HubURL:          strings.TrimSuffix(hubURL, "/"),
		HubToken:        hubToken,
		CloudURL:        strings.TrimSuffix(k.String("cloud_url"), "/"),
		BridgeID:        bridgeID,
		CredentialPath:  k.String("credential_path"),
		HealthPort:      healthPort,
		HeartbeatMs:     heartbeatMs,
		BridgeVersion:   bridgeVersion,
		ProtocolVersion: ProtocolVersion,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
