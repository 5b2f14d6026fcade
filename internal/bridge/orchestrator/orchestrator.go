// Package orchestrator wires the bridge's components together and
// runs the startup and graceful-shutdown sequences (spec.md §4.9).
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nautilink/helm-bridge/internal/bridge/batcher"
	"github.com/nautilink/helm-bridge/internal/bridge/cloudclient"
	"github.com/nautilink/helm-bridge/internal/bridge/config"
	"github.com/nautilink/helm-bridge/internal/bridge/credential"
	"github.com/nautilink/helm-bridge/internal/bridge/executor"
	"github.com/nautilink/helm-bridge/internal/bridge/fullsync"
	"github.com/nautilink/helm-bridge/internal/bridge/hubclient"
	"github.com/nautilink/helm-bridge/internal/bridge/pairing"
	"github.com/nautilink/helm-bridge/internal/bridge/protocol"
	"github.com/nautilink/helm-bridge/internal/logging"
	"github.com/nautilink/helm-bridge/internal/util/timefmt"
)

// Bridge owns every long-lived component and implements
// cloudclient.BridgeInfo so the cloud session can report liveness
// without importing this package (which would be a cycle).
type Bridge struct {
	cfg *config.Config

	hub   *hubclient.Client
	cloud *cloudclient.Client
	creds *credential.Store
	batch *batcher.Batcher

	hubVersion  atomic.Value // string
	entityCount atomic.Int64
	startedAt   time.Time
}

// New constructs a Bridge from loaded configuration but does not start
// any network activity; call Run for that.
func New(cfg *config.Config) *Bridge {
	b := &Bridge{
		cfg:       cfg,
		creds:     credential.New(cfg.CredentialPath),
		startedAt: time.Now(),
	}
	b.hubVersion.Store("")
	return b
}

// BridgeID, BridgeVersion, ProtocolVersion, HubVersion, HubConnected,
// LastEventAt and EntityCount implement cloudclient.BridgeInfo.
func (b *Bridge) BridgeID() string        { return b.cfg.BridgeID }
func (b *Bridge) BridgeVersion() string   { return b.cfg.BridgeVersion }
func (b *Bridge) ProtocolVersion() string { return b.cfg.ProtocolVersion }
func (b *Bridge) HubVersion() string      { v, _ := b.hubVersion.Load().(string); return v }
func (b *Bridge) HubConnected() bool {
	return b.hub != nil && hubAuthenticated(b.hub.State())
}

// hubAuthenticated reports whether s is one of the hub session's
// authenticated states; StateTerminal is not.
func hubAuthenticated(s hubclient.State) bool {
	return s == hubclient.StateAuthenticated || s == hubclient.StateSubscribed
}
func (b *Bridge) LastEventAt() time.Time {
	if b.batch == nil {
		return time.Time{}
	}
	return b.batch.LastEventTime()
}
func (b *Bridge) EntityCount() int { return int(b.entityCount.Load()) }

// Run executes the full startup sequence and then blocks until a
// termination signal arrives, performing a graceful shutdown before
// returning.
func Run(ctx context.Context, cfg *config.Config) error {
	logging.PrintBanner(cfg.BridgeVersion, cfg.BridgeID, cfg.HubURL, cfg.CloudURL)

	b := New(cfg)

	// Step 2: verify hub reachability and step 3: cache hub version,
	// via a cheap one-shot getConfig call before the long-lived
	// session is established.
	if err := b.probeHub(ctx); err != nil {
		return fmt.Errorf("orchestrator: hub unreachable: %w", err)
	}

	if _, err := b.creds.Load(); err != nil {
		slog.Warn("orchestrator: credential load failed, starting unpaired", "error", err)
	}

	b.hub = hubclient.New(cfg.HubURL, cfg.HubToken)
	b.cloud = cloudclient.New(cloudclient.Config{
		CloudURL:          cfg.CloudURL,
		Credentials:       b.creds,
		HeartbeatInterval: time.Duration(cfg.HeartbeatMs) * time.Millisecond,
		Executor:          executor.New(b.hub, fullSyncAdapter{b}),
		FullSync:          fullSyncAdapter{b},
		Info:              b,
	})
	b.batch = batcher.New(b.cloud)

	hubCtx, cancelHub := context.WithCancel(ctx)
	defer cancelHub()
	go b.hub.Run(hubCtx)

	// Step 4: load the initial states once connected (the entity
	// registry is not loaded here). Failure is non-fatal.
	b.loadInitialRegistry(ctx)
	go b.forwardHubEvents(ctx)

	cloudCtx, cancelCloud := context.WithCancel(ctx)
	defer cancelCloud()

	// Step 5: start the cloud session directly if already paired,
	// otherwise run the pairing coordinator first.
	coordinator := pairing.New(cfg.CloudURL, cfg.BridgeID, cfg.BridgeVersion, b.HubVersion(), b.creds)
	if err := coordinator.Ensure(cloudCtx, b.cloud); err != nil {
		slog.Error("orchestrator: pairing failed", "error", err)
	}

	b.awaitShutdownSignal(ctx)

	slog.Info("orchestrator: shutting down")
	b.batch.Flush()
	b.cloud.Disconnect()
	b.hub.Disconnect()
	return nil
}

// probeHub performs the cheap liveness check of spec.md §4.9 step 2
// over the hub session's own RPC surface: a short-lived connection
// whose sole purpose is to confirm reachability and read the version
// before the long-lived session takes over.
func (b *Bridge) probeHub(ctx context.Context) error {
	probe := hubclient.New(b.cfg.HubURL, b.cfg.HubToken)
	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	connected := make(chan error, 1)
	go func() {
		done := make(chan struct{})
		go func() {
			probe.Run(probeCtx)
			close(done)
		}()
		select {
		case <-probeCtx.Done():
			connected <- probeCtx.Err()
		case <-pollAuthenticated(probeCtx, probe):
			connected <- nil
		case <-done:
			connected <- fmt.Errorf("hub session ended before authenticating")
		}
	}()

	if err := <-connected; err != nil {
		return err
	}

	raw, err := probe.GetConfig(probeCtx)
	if err == nil {
		var cfg struct {
			Version string `json:"version"`
		}
		if jsonErr := unmarshalVersion(raw, &cfg); jsonErr == nil {
			b.hubVersion.Store(cfg.Version)
		}
	}
	probe.Disconnect()
	return nil
}

func pollAuthenticated(ctx context.Context, c *hubclient.Client) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if hubAuthenticated(c.State()) {
					close(ch)
					return
				}
			}
		}
	}()
	return ch
}

func unmarshalVersion(raw json.RawMessage, v any) error {
	return json.Unmarshal(raw, v)
}

// loadInitialRegistry loads the initial states once the hub session
// authenticates, purely to populate the entity count reported in
// heartbeats. The entity registry is not loaded. Failure is logged and
// non-fatal, leaving the entity count at zero.
func (b *Bridge) loadInitialRegistry(ctx context.Context) {
	waitCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	select {
	case <-waitCtx.Done():
		slog.Warn("orchestrator: hub session did not authenticate in time, entity count set to zero")
		return
	case <-pollAuthenticated(waitCtx, b.hub):
	}

	raw, err := b.hub.GetStates(ctx)
	if err != nil {
		slog.Warn("orchestrator: initial getStates failed", "error", err)
		return
	}
	var states []json.RawMessage
	if err := json.Unmarshal(raw, &states); err != nil {
		slog.Warn("orchestrator: malformed initial states", "error", err)
		return
	}
	b.entityCount.Store(int64(len(states)))
}

// forwardHubEvents drains hub state_changed events into the batcher
// for the lifetime of ctx.
func (b *Bridge) forwardHubEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.hub.Events:
			if !ok {
				return
			}
			b.batch.Append(protocol.BatchEvent{
				EntityID:  evt.EntityID,
				NewState:  rawToState(evt.NewState),
				OldState:  rawToState(evt.OldState),
				Timestamp: timefmt.Format(time.Now()),
			})
		}
	}
}

// hubWireState matches Home Assistant's state_changed payload shape,
// which uses snake_case keys distinct from the camelCase protocol.State
// sent on to the cloud.
type hubWireState struct {
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged string         `json:"last_changed"`
	LastUpdated string         `json:"last_updated"`
}

func rawToState(raw json.RawMessage) *protocol.State {
	if len(raw) == 0 {
		return nil
	}
	var w hubWireState
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil
	}
	return &protocol.State{
		State:       w.State,
		Attributes:  w.Attributes,
		LastChanged: w.LastChanged,
		LastUpdated: w.LastUpdated,
	}
}

// awaitShutdownSignal blocks until SIGINT/SIGTERM arrives or ctx is
// cancelled. helm-bridge does not support SIGHUP-triggered config
// reload: configuration is immutable for the process lifetime
// (spec.md §3), so reload is out of scope rather than silently
// unimplemented.
func (b *Bridge) awaitShutdownSignal(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
	case <-sigCh:
	}
}

// fullSyncAdapter adapts Bridge to both executor.FullSyncTrigger and
// cloudclient.FullSyncCollector: TriggerFullSync delegates to the cloud
// session, and Collect runs the fullsync package's collection function
// against the hub session.
type fullSyncAdapter struct{ b *Bridge }

func (a fullSyncAdapter) TriggerFullSync(ctx context.Context) {
	a.b.cloud.TriggerFullSync(ctx)
}

func (a fullSyncAdapter) Collect(ctx context.Context) protocol.FullSyncData {
	return fullsync.Collect(ctx, a.b.hub)
}
