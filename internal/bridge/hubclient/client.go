// Package hubclient maintains the bridge's authenticated WebSocket
// session to the local hub (Home Assistant or its Supervisor-embedded
// core), multiplexing RPCs over it and delivering state-change events
// to the rest of the bridge (spec.md §4.3).
package hubclient

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

	"github.com/nautilink/helm-bridge/internal/metrics"
)

// State is a position in the hub session's connection lifecycle
// (spec.md §4.3): disconnected → connecting → awaiting_auth →
// authenticated → subscribed → (disconnected|terminal).
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingAuth
	StateAuthenticated
	StateSubscribed
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingAuth:
		return "awaiting_auth"
	case StateAuthenticated:
		return "authenticated"
	case StateSubscribed:
		return "subscribed"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

const (
	requestTimeout  = 30 * time.Second
	maxAttempts     = 10
	resetThreshold  = 30 * time.Second
	handshakeWindow = 10 * time.Second
)

// StateChangedEvent is delivered on the Events channel whenever the hub
// emits a state_changed event (spec.md §4.3).
type StateChangedEvent struct {
	EntityID string          `json:"entity_id"`
	OldState json.RawMessage `json:"old_state"`
	NewState json.RawMessage `json:"new_state"`
}

type pendingRequest struct {
	result chan rpcResult
}

type rpcResult struct {
	data json.RawMessage
	err  error
}

// Client is a single authenticated session to the hub. One Client
// handles one connection at a time; Run owns the reconnect loop.
type Client struct {
	rawURL string
	token  string

	// Events carries state_changed payloads. Buffered so the read loop
	// never blocks on a slow consumer; the state batcher drains it
	// promptly in practice (spec.md §4.4).
	Events chan StateChangedEvent

	// AuthFailed is closed exactly once if the hub rejects the
	// configured token (auth_invalid). No further connects are
	// attempted once this fires.
	AuthFailed chan struct{}
	authOnce   sync.Once

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	pending map[int64]*pendingRequest
	nextID  atomic.Int64
	writeMu sync.Mutex

	shouldReconnect atomic.Bool
	closeOnce       sync.Once
	stopped         chan struct{}
}

// New creates a hub Client for hubURL (http/https, transformed to
// ws/wss internally) authenticating with token.
func New(hubURL, token string) *Client {
	return &Client{
		rawURL:          hubURL,
		token:           token,
		Events:          make(chan StateChangedEvent, 256),
		AuthFailed:      make(chan struct{}),
		pending:         make(map[int64]*pendingRequest),
		shouldReconnect: atomic.Bool{},
		stopped:         make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	metrics.SetHubState(s == StateAuthenticated || s == StateSubscribed)
}

// resolveURL transforms rawURL per spec.md §4.3: http/https → ws/wss,
// then appends /websocket for a Supervisor-embedded core endpoint
// (host contains the literal "supervisor/core") or /api/websocket
// otherwise.
func resolveURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("hubclient: parse url %q: %w", rawURL, err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already a websocket scheme
	default:
		return "", fmt.Errorf("hubclient: unsupported scheme %q", u.Scheme)
	}

	if strings.Contains(rawURL, "supervisor/core") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/websocket"
	} else {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/api/websocket"
	}

	return u.String(), nil
}

// Run connects and maintains the session until ctx is cancelled or the
// attempt budget is exhausted, applying the reconnect policy described
// in spec.md §4.3 and grounded on the teacher's cenkalti/backoff usage.
func (c *Client) Run(ctx context.Context) {
	c.shouldReconnect.Store(true)

	bo := newDefaultBackoff()
	attempts := 0

	for c.shouldReconnect.Load() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		err := c.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == errAuthInvalid {
			c.authOnce.Do(func() { close(c.AuthFailed) })
			c.setState(StateTerminal)
			return
		}

		attempts++
		if time.Since(start) >= resetThreshold {
			attempts = 0
			bo.Reset()
		}
		if attempts >= maxAttempts {
			slog.Error("hub session: exhausted reconnect attempts, giving up", "attempts", attempts)
			c.setState(StateTerminal)
			return
		}

		metrics.HubReconnectAttempts.Inc()
		next := bo.NextBackOff()
		slog.Warn("hub session: disconnected, reconnecting", "error", err, "backoff", next, "attempt", attempts)

		select {
		case <-ctx.Done():
			return
		case <-time.After(next):
		}
	}
}

// newDefaultBackoff mirrors the teacher's worker reconnect policy,
// narrowed to spec.md §4.3's 1s→30s cap.
func newDefaultBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 30 * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

var errAuthInvalid = fmt.Errorf("hubclient: auth_invalid")

// connectOnce dials, authenticates, subscribes, and runs the read loop
// until the connection ends. It always returns a non-nil error saying
// why the session ended, including when ctx was cancelled.
func (c *Client) connectOnce(ctx context.Context) error {
	c.setState(StateConnecting)

	wsURL, err := resolveURL(c.rawURL)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, handshakeWindow)
	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("hubclient: dial: %w", err)
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

	if err := c.handshake(ctx, conn); err != nil {
		if err == errAuthInvalid {
			return errAuthInvalid
		}
		return err
	}

	c.setState(StateSubscribed)
	slog.Info("hub session: authenticated and subscribed", "url", wsURL)

	err = c.readLoop(ctx, conn)
	c.failAllPending(fmt.Errorf("hubclient: session closed: %w", err))
	c.setState(StateDisconnected)
	return err
}

type envelope struct {
	Type      string          `json:"type"`
	ID        int64           `json:"id,omitempty"`
	Success   bool            `json:"success,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Message   string          `json:"message,omitempty"`
	EventType string          `json:"event_type,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
}

func (c *Client) handshake(ctx context.Context, conn *websocket.Conn) error {
	handshakeCtx, cancel := context.WithTimeout(ctx, handshakeWindow)
	defer cancel()

	c.setState(StateAwaitingAuth)

	var required envelope
	if err := readJSON(handshakeCtx, conn, &required); err != nil {
		return fmt.Errorf("hubclient: read auth_required: %w", err)
	}
	if required.Type != "auth_required" {
		return fmt.Errorf("hubclient: expected auth_required, got %q", required.Type)
	}

	auth := map[string]string{"type": "auth", "access_token": c.token}
	if err := c.writeJSON(handshakeCtx, conn, auth); err != nil {
		return fmt.Errorf("hubclient: send auth: %w", err)
	}

	var result envelope
	if err := readJSON(handshakeCtx, conn, &result); err != nil {
		return fmt.Errorf("hubclient: read auth result: %w", err)
	}
	switch result.Type {
	case "auth_ok":
		c.setState(StateAuthenticated)
	case "auth_invalid":
		return errAuthInvalid
	default:
		return fmt.Errorf("hubclient: unexpected auth response %q", result.Type)
	}

	sub := map[string]any{
		"id":         c.nextID.Add(1),
		"type":       "subscribe_events",
		"event_type": "state_changed",
	}
	if err := c.writeJSON(handshakeCtx, conn, sub); err != nil {
		return fmt.Errorf("hubclient: subscribe_events: %w", err)
	}
	// The subscription's own result frame is consumed by readLoop like
	// any other RPC result; we don't wait on it here because its id
	// was assigned via nextID and nothing is waiting in pending for it.

	return nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var env envelope
		if err := readJSON(ctx, conn, &env); err != nil {
			return err
		}

		switch env.Type {
		case "result":
			c.resolvePending(env)
		case "event":
			if env.EventType == "state_changed" {
				var evt StateChangedEvent
				if err := json.Unmarshal(env.Event, &evt); err != nil {
					slog.Warn("hub session: malformed state_changed event", "error", err)
					continue
				}
				select {
				case c.Events <- evt:
				default:
					slog.Warn("hub session: event channel full, dropping state_changed", "entity_id", evt.EntityID)
				}
			}
		case "pong":
			// ignore
		default:
			slog.Debug("hub session: unhandled frame", "type", env.Type)
		}
	}
}

func (c *Client) resolvePending(env envelope) {
	c.mu.Lock()
	req, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if env.Success {
		req.result <- rpcResult{data: env.Result}
	} else {
		req.result <- rpcResult{err: fmt.Errorf("hubclient: command failed: %s", env.Message)}
	}
}

func (c *Client) failAllPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]*pendingRequest)
	c.mu.Unlock()

	for _, req := range pending {
		req.result <- rpcResult{err: err}
	}
}

// sendCommand implements the RPC multiplexer described in spec.md
// §4.3: assign the next id, register a waiter with a 30s deadline,
// write the frame, and resolve from the matching result frame.
func (c *Client) sendCommand(ctx context.Context, msgType string, data map[string]any) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("hubclient: not connected")
	}

	id := c.nextID.Add(1)
	req := &pendingRequest{result: make(chan rpcResult, 1)}
	c.pending[id] = req
	c.mu.Unlock()

	metrics.HubPendingRequests.Inc()
	defer metrics.HubPendingRequests.Dec()

	frame := map[string]any{"id": id, "type": msgType}
	for k, v := range data {
		frame[k] = v
	}

	if err := c.writeJSON(ctx, conn, frame); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		metrics.HubRPCResultsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("hubclient: write command %s: %w", msgType, err)
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()

	select {
	case res := <-req.result:
		if res.err != nil {
			metrics.HubRPCResultsTotal.WithLabelValues("error").Inc()
			return nil, res.err
		}
		metrics.HubRPCResultsTotal.WithLabelValues("success").Inc()
		return res.data, nil
	case <-timer.C:
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		metrics.HubRPCResultsTotal.WithLabelValues("timeout").Inc()
		return nil, fmt.Errorf("hubclient: command timeout")
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Done is closed once Disconnect has run.
func (c *Client) Done() <-chan struct{} {
	return c.stopped
}

// Disconnect implements spec.md §4.3's shutdown semantics: stop
// reconnecting, close the socket, and fail all outstanding waiters.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		c.shouldReconnect.Store(false)
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "bridge shutting down")
		}
		c.failAllPending(fmt.Errorf("hubclient: disconnected"))
		close(c.stopped)
	})
}

func readJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	typ, data, err := conn.Read(ctx)
	if err != nil {
		return err
	}
	if typ != websocket.MessageText {
		return fmt.Errorf("hubclient: expected text frame, got %v", typ)
	}
	return json.Unmarshal(data, v)
}

// writeJSON serializes a single write at a time across the socket:
// fullsync.Collect fires five sendCommand RPCs concurrently against
// the same conn, and coder/websocket.Conn permits only one concurrent
// writer (spec.md §5 "Exactly one writer to the hub socket at a
// time").
func (c *Client) writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.Write(ctx, websocket.MessageText, data)
}
