// Package cloudclient maintains the bridge's authenticated WebSocket
// session to the cloud, sends heartbeats, receives commands, and
// exposes outbound helpers used by the rest of the bridge (spec.md
// §4.6).
package cloudclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"

	"github.com/nautilink/helm-bridge/internal/bridge/credential"
	"github.com/nautilink/helm-bridge/internal/bridge/protocol"
	"github.com/nautilink/helm-bridge/internal/logging"
	"github.com/nautilink/helm-bridge/internal/metrics"
	"github.com/nautilink/helm-bridge/internal/util/timefmt"
)

// State is a position in the cloud session's connection lifecycle
// (spec.md §4.6): idle (unpaired) → connecting → awaiting_auth →
// authenticated → (disconnected|revoked).
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingAuth
	StateAuthenticated
	StateDisconnected
	StateRevoked
)

const (
	maxAttempts     = 10
	handshakeWindow = 10 * time.Second
)

// Executor runs a dispatched command and returns its result.
type Executor interface {
	Execute(ctx context.Context, cmd *protocol.CommandFrame) *protocol.CommandResultFrame
}

// FullSyncCollector produces the payload of a full_sync frame.
type FullSyncCollector interface {
	Collect(ctx context.Context) protocol.FullSyncData
}

// BridgeInfo supplies the identifying and liveness fields the cloud
// session needs for authenticate and heartbeat frames, without this
// package importing the orchestrator or config packages directly.
type BridgeInfo interface {
	BridgeID() string
	BridgeVersion() string
	ProtocolVersion() string
	HubVersion() string
	HubConnected() bool
	LastEventAt() time.Time
	EntityCount() int
}

// Client is the cloud session manager.
type Client struct {
	cloudURL          string
	creds             *credential.Store
	heartbeatInterval time.Duration
	executor          Executor
	fullSync          FullSyncCollector
	info              BridgeInfo

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	writeMu sync.Mutex

	shouldReconnect atomic.Bool
	reconnectCount  atomic.Int64
	startedAt       time.Time
	closeOnce       sync.Once
	stopped         chan struct{}
}

// Config bundles Client's constructor dependencies.
type Config struct {
	CloudURL          string
	Credentials       *credential.Store
	HeartbeatInterval time.Duration
	Executor          Executor
	FullSync          FullSyncCollector
	Info              BridgeInfo
}

// New creates a cloud Client. Run is a no-op until the credential
// store is paired.
func New(cfg Config) *Client {
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Client{
		cloudURL:          strings.TrimSuffix(cfg.CloudURL, "/"),
		creds:             cfg.Credentials,
		heartbeatInterval: interval,
		executor:          cfg.Executor,
		fullSync:          cfg.FullSync,
		info:              cfg.Info,
		startedAt:         time.Now(),
		stopped:           make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Authenticated reports whether the session is ready to carry
// outbound frames (state_batch, full_sync, command results).
func (c *Client) Authenticated() bool {
	return c.State() == StateAuthenticated
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	metrics.SetCloudState(s == StateAuthenticated)
}

func (c *Client) wsURL() (string, error) {
	u, err := url.Parse(c.cloudURL)
	if err != nil {
		return "", fmt.Errorf("cloudclient: parse url %q: %w", c.cloudURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("cloudclient: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/bridge"
	return u.String(), nil
}

// Run connects and maintains the session until ctx is cancelled, the
// credential is cleared (revocation), or the attempt budget is
// exhausted. Run returns immediately, without connecting, if the
// bridge is not yet paired (spec.md §4.6 "Connect() no-op if
// unpaired").
func (c *Client) Run(ctx context.Context) {
	if !c.creds.IsPaired() {
		slog.Info("cloud session: not paired, skipping connect")
		return
	}

	c.shouldReconnect.Store(true)
	bo := newDefaultBackoff()
	attempts := 0
	onAuthenticated := func() {
		attempts = 0
		bo.Reset()
	}

	for c.shouldReconnect.Load() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !c.creds.IsPaired() {
			slog.Info("cloud session: credential cleared, stopping")
			return
		}

		err := c.connectOnce(ctx, onAuthenticated)
		if ctx.Err() != nil {
			return
		}
		if err == errRevoked {
			c.setState(StateRevoked)
			return
		}

		attempts++
		if attempts >= maxAttempts {
			slog.Error("cloud session: exhausted reconnect attempts, giving up", "attempts", attempts)
			c.setState(StateDisconnected)
			return
		}

		metrics.CloudReconnectAttempts.Inc()
		c.reconnectCount.Add(1)
		next := bo.NextBackOff()
		slog.Warn("cloud session: disconnected, reconnecting", "error", err, "backoff", next, "attempt", attempts)

		select {
		case <-ctx.Done():
			return
		case <-time.After(next):
		}
	}
}

func newDefaultBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 60 * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

var errRevoked = fmt.Errorf("cloudclient: credential revoked")

func (c *Client) connectOnce(ctx context.Context, onAuthenticated func()) error {
	c.setState(StateConnecting)

	wsURL, err := c.wsURL()
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, handshakeWindow)
	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("cloudclient: dial: %w", err)
	}
	defer func() { _ = conn.CloseNow() }()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	c.setState(StateAwaitingAuth)

	creds := c.creds.Current()
	if creds == nil {
		return fmt.Errorf("cloudclient: credential disappeared mid-connect")
	}

	authCtx, authCancel := context.WithTimeout(ctx, handshakeWindow)
	err = c.writeFrame(authCtx, conn, protocol.NewAuthenticate(creds.BridgeID, creds.BridgeCredential, c.info.ProtocolVersion()))
	authCancel()
	if err != nil {
		return fmt.Errorf("cloudclient: send authenticate: %w", err)
	}

	var authResult protocol.AuthResultFrame
	authCtx2, authCancel2 := context.WithTimeout(ctx, handshakeWindow)
	err = readInto(authCtx2, conn, &authResult)
	authCancel2()
	if err != nil {
		return fmt.Errorf("cloudclient: read auth_result: %w", err)
	}

	if !authResult.Success {
		if isRevocation(authResult.Error) {
			slog.Warn("cloud session: credential revoked or invalid, clearing and requiring re-pairing", "error", authResult.Error)
			if clearErr := c.creds.Clear(); clearErr != nil {
				slog.Error("cloud session: clear credential", "error", clearErr)
			}
			c.shouldReconnect.Store(false)
			return errRevoked
		}
		return fmt.Errorf("cloudclient: auth failed: %s", authResult.Error)
	}

	c.setState(StateAuthenticated)
	onAuthenticated()
	slog.Info("cloud session: authenticated", "tenant_id", authResult.TenantID)

	var wg sync.WaitGroup
	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.heartbeatLoop(heartbeatCtx)
	}()

	readErr := c.readLoop(ctx, conn)
	stopHeartbeat()
	wg.Wait()

	c.setState(StateDisconnected)
	return readErr
}

func isRevocation(errText string) bool {
	lower := strings.ToLower(errText)
	return strings.Contains(lower, "revoked") || strings.Contains(lower, "invalid")
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sendHeartbeat(ctx)
		}
	}
}

func (c *Client) sendHeartbeat(ctx context.Context) {
	creds := c.creds.Current()
	if creds == nil {
		return
	}
	lastEvent := c.info.LastEventAt()
	var lastEventAt string
	if !lastEvent.IsZero() {
		lastEventAt = timefmt.Format(lastEvent)
	}

	frame := protocol.NewHeartbeat(protocol.HeartbeatParams{
		BridgeID:        creds.BridgeID,
		Timestamp:       timefmt.Format(time.Now()),
		BridgeVersion:   c.info.BridgeVersion(),
		ProtocolVersion: c.info.ProtocolVersion(),
		HubVersion:      c.info.HubVersion(),
		HubConnected:    c.info.HubConnected(),
		CloudConnected:  true,
		LastEventAt:     lastEventAt,
		EntityCount:     c.info.EntityCount(),
		ReconnectCount:  int(c.reconnectCount.Load()),
		UptimeSeconds:   int64(time.Since(c.startedAt).Seconds()),
	})
	if err := c.send(ctx, frame); err != nil {
		slog.Warn("cloud session: heartbeat send failed", "error", err)
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			slog.Debug("cloud session: undecodable frame", "error", err)
			continue
		}

		switch m := msg.(type) {
		case *protocol.CommandFrame:
			c.handleCommand(ctx, m)
		case *protocol.RequestFullSyncFrame:
			c.TriggerFullSync(ctx)
		case *protocol.RequestHeartbeatFrame:
			c.sendHeartbeat(ctx)
		case *protocol.RequestLogsFrame:
			c.handleRequestLogs(ctx)
		case *protocol.DisconnectFrame:
			c.handleDisconnect(m)
			return fmt.Errorf("cloudclient: disconnected by cloud: %s", m.Reason)
		default:
			slog.Debug("cloud session: unhandled frame type", "type", fmt.Sprintf("%T", m))
		}
	}
}

func (c *Client) handleCommand(ctx context.Context, cmd *protocol.CommandFrame) {
	if cmd.RequiresAck {
		ack := protocol.NewCommandAck(cmd.CmdID, timefmt.Format(time.Now()))
		if err := c.send(ctx, ack); err != nil {
			slog.Warn("cloud session: send command_ack failed", "cmd_id", cmd.CmdID, "error", err)
		}
	}

	result := c.executor.Execute(ctx, cmd)
	if err := c.send(ctx, result); err != nil {
		slog.Warn("cloud session: send command_result failed", "cmd_id", cmd.CmdID, "error", err)
	}
}

func (c *Client) handleDisconnect(m *protocol.DisconnectFrame) {
	c.shouldReconnect.Store(false)
	if m.Reason == protocol.ReasonUserDisconnected || m.Reason == protocol.ReasonUserReset {
		if err := c.creds.Clear(); err != nil {
			slog.Error("cloud session: clear credential on disconnect", "error", err)
		}
	}
}

// TriggerFullSync satisfies executor.FullSyncTrigger, and is also
// invoked directly from readLoop on an inbound request_full_sync.
func (c *Client) TriggerFullSync(ctx context.Context) {
	data := c.fullSync.Collect(ctx)
	frame := protocol.NewFullSync(timefmt.Format(time.Now()), c.info.HubVersion(), data)
	if err := c.send(ctx, frame); err != nil {
		slog.Warn("cloud session: sendFullSync failed", "error", err)
	}
}

// SendStateBatch implements batcher.CloudSession.
func (c *Client) SendStateBatch(frame *protocol.StateBatchFrame) {
	if err := c.send(context.Background(), frame); err != nil {
		slog.Warn("cloud session: sendStateBatch failed", "error", err)
	}
}

func (c *Client) handleRequestLogs(ctx context.Context) {
	snapshot := logging.Logs.Snapshot()
	compressed, tag := protocol.CompressLogs(snapshot)
	frame := protocol.NewBridgeLogs(tag, compressed, timefmt.Format(time.Now()))
	if err := c.send(ctx, frame); err != nil {
		slog.Warn("cloud session: sendBridgeLogs failed", "error", err)
	}
}

func (c *Client) send(ctx context.Context, frame any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil // no-op if the socket is closed, per spec.md §4.6.
	}
	return c.writeFrame(ctx, conn, frame)
}

// Done is closed once Disconnect has run, so the orchestrator can wait
// for a clean shutdown before exiting.
func (c *Client) Done() <-chan struct{} {
	return c.stopped
}

// Disconnect stops reconnecting and closes the socket, per spec.md
// §4.6's disconnect handling.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		c.shouldReconnect.Store(false)
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "bridge shutting down")
		}
		close(c.stopped)
	})
}

// writeFrame serializes a single encoded write at a time across the
// socket: the heartbeat loop, readLoop's command/full-sync/log
// handlers, and the batcher's flush all reach this through send, and
// coder/websocket.Conn permits only one concurrent writer (spec.md
// §5 "Exactly one writer to the cloud socket at a time").
func (c *Client) writeFrame(ctx context.Context, conn *websocket.Conn, frame any) error {
	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.Write(ctx, websocket.MessageText, data)
}

func readInto(ctx context.Context, conn *websocket.Conn, v any) error {
	typ, data, err := conn.Read(ctx)
	if err != nil {
		return err
	}
	if typ != websocket.MessageText {
		return fmt.Errorf("cloudclient: expected text frame, got %v", typ)
	}
	return json.Unmarshal(data, v)
}
