package hubclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveURL(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"http core", "http://homeassistant.local:8123", "ws://homeassistant.local:8123/api/websocket"},
		{"https core", "https://homeassistant.local:8123", "wss://homeassistant.local:8123/api/websocket"},
		{"supervisor core", "http://supervisor/core", "ws://supervisor/core/websocket"},
		{"trailing slash", "http://homeassistant.local/", "ws://homeassistant.local/api/websocket"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolveURL(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolveURL_RejectsUnsupportedScheme(t *testing.T) {
	_, err := resolveURL("ftp://example.com")
	assert.Error(t, err)
}

// fakeHub is a minimal hub server speaking just enough of the protocol
// to exercise the handshake, one RPC round trip, and a state_changed
// event push, mirroring the teacher's server-side websocket handler
// shape in internal/hub/service/ws_watch_events.go but from the client's
// point of view.
func fakeHub(t *testing.T, token string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.CloseNow() }()
		ctx := r.Context()

		write := func(v any) error {
			data, _ := json.Marshal(v)
			return conn.Write(ctx, websocket.MessageText, data)
		}
		read := func(v any) error {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return err
			}
			return json.Unmarshal(data, v)
		}

		require.NoError(t, write(map[string]any{"type": "auth_required"}))

		var authMsg map[string]string
		require.NoError(t, read(&authMsg))
		if authMsg["access_token"] != token {
			_ = write(map[string]any{"type": "auth_invalid"})
			return
		}
		require.NoError(t, write(map[string]any{"type": "auth_ok"}))

		var sub map[string]any
		require.NoError(t, read(&sub))
		assert.Equal(t, "subscribe_events", sub["type"])

		// Push one state_changed event unprompted.
		require.NoError(t, write(map[string]any{
			"type":       "event",
			"event_type": "state_changed",
			"event": map[string]any{
				"entity_id": "light.kitchen",
				"new_state": map[string]any{"state": "on"},
			},
		}))

		// Serve exactly one RPC: echo back success with the request id.
		var cmd map[string]any
		require.NoError(t, read(&cmd))
		require.NoError(t, write(map[string]any{
			"type":    "result",
			"id":      cmd["id"],
			"success": true,
			"result":  map[string]any{"version": "2024.1.0"},
		}))

		<-ctx.Done()
	}))
}

func wsURLFromHTTP(t *testing.T, httpURL string) string {
	t.Helper()
	return "ws" + httpURL[len("http"):]
}

func TestConnectOnce_HandshakeEventAndRPC(t *testing.T) {
	const token = "secret-token"
	srv := fakeHub(t, token)
	defer srv.Close()

	c := New(wsURLFromHTTP(t, srv.URL), token)

	// The fake server has no path-based router, so resolveURL's
	// appended /api/websocket suffix is harmless.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.connectOnce(ctx) }()

	select {
	case evt := <-c.Events:
		assert.Equal(t, "light.kitchen", evt.EntityID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for state_changed event")
	}

	result, err := c.GetConfig(ctx)
	require.NoError(t, err)

	var parsed map[string]string
	require.NoError(t, json.Unmarshal(result, &parsed))
	assert.Equal(t, "2024.1.0", parsed["version"])

	cancel()
	<-done
}

func TestConnectOnce_AuthInvalid(t *testing.T) {
	srv := fakeHub(t, "expected-token")
	defer srv.Close()

	c := New(wsURLFromHTTP(t, srv.URL), "wrong-token")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := c.connectOnce(ctx)
	assert.Equal(t, errAuthInvalid, err)
}

func TestSendCommand_FailsWhenNotConnected(t *testing.T) {
	c := New("http://example.invalid", "token")
	_, err := c.sendCommand(context.Background(), "get_config", nil)
	assert.Error(t, err)
}

func TestDisconnect_FailsOutstandingWaiters(t *testing.T) {
	c := New("http://example.invalid", "token")
	req := &pendingRequest{result: make(chan rpcResult, 1)}
	c.pending[1] = req

	c.Disconnect()

	select {
	case res := <-req.result:
		assert.Error(t, res.err)
	default:
		t.Fatal("expected waiter to be failed on disconnect")
	}
	assert.Empty(t, c.pending)
}
