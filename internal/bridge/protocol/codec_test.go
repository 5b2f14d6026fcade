package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nautilink/helm-bridge/internal/bridge/protocol"
)

func TestDecode_AuthResult(t *testing.T) {
	raw := `{"type":"auth_result","success":true,"tenantId":"42"}`
	msg, err := protocol.Decode([]byte(raw))
	require.NoError(t, err)

	got, ok := msg.(*protocol.AuthResultFrame)
	require.True(t, ok)
	assert.True(t, got.Success)
	assert.Equal(t, "42", got.TenantID)
}

func TestDecode_AuthResult_Failure(t *testing.T) {
	raw := `{"type":"auth_result","success":false,"error":"Credential revoked"}`
	msg, err := protocol.Decode([]byte(raw))
	require.NoError(t, err)

	got, ok := msg.(*protocol.AuthResultFrame)
	require.True(t, ok)
	assert.False(t, got.Success)
	assert.Equal(t, "Credential revoked", got.Error)
}

func TestDecode_Command(t *testing.T) {
	raw := `{
		"type":"command",
		"cmdId":"11111111-1111-1111-1111-111111111111",
		"tenantId":"42",
		"issuedAt":"2026-01-01T00:00:00.000Z",
		"commandType":"ha_call_service",
		"payload":{"domain":"light","service":"turn_on","serviceData":{"entity_id":"light.kitchen"}},
		"requiresAck":true
	}`
	msg, err := protocol.Decode([]byte(raw))
	require.NoError(t, err)

	got, ok := msg.(*protocol.CommandFrame)
	require.True(t, ok)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", got.CmdID)
	assert.Equal(t, protocol.CommandHACallService, got.CommandType)
	assert.True(t, got.RequiresAck)
	assert.Equal(t, "light", got.Payload["domain"])
}

func TestDecode_Command_MissingCmdID(t *testing.T) {
	raw := `{"type":"command","commandType":"ha_call_service"}`
	_, err := protocol.Decode([]byte(raw))
	assert.Error(t, err)
}

func TestDecode_Command_MissingCommandType(t *testing.T) {
	raw := `{"type":"command","cmdId":"abc"}`
	_, err := protocol.Decode([]byte(raw))
	assert.Error(t, err)
}

func TestDecode_RequestFullSync(t *testing.T) {
	msg, err := protocol.Decode([]byte(`{"type":"request_full_sync"}`))
	require.NoError(t, err)
	_, ok := msg.(*protocol.RequestFullSyncFrame)
	assert.True(t, ok)
}

func TestDecode_RequestHeartbeat(t *testing.T) {
	msg, err := protocol.Decode([]byte(`{"type":"request_heartbeat"}`))
	require.NoError(t, err)
	_, ok := msg.(*protocol.RequestHeartbeatFrame)
	assert.True(t, ok)
}

func TestDecode_Disconnect(t *testing.T) {
	msg, err := protocol.Decode([]byte(`{"type":"disconnect","reason":"user_reset"}`))
	require.NoError(t, err)
	got, ok := msg.(*protocol.DisconnectFrame)
	require.True(t, ok)
	assert.Equal(t, protocol.ReasonUserReset, got.Reason)
}

func TestDecode_RequestLogs(t *testing.T) {
	msg, err := protocol.Decode([]byte(`{"type":"request_logs"}`))
	require.NoError(t, err)
	_, ok := msg.(*protocol.RequestLogsFrame)
	assert.True(t, ok)
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := protocol.Decode([]byte(`{"type":"something_new","x":1}`))
	require.Error(t, err)

	var unknown *protocol.ErrUnknownType
	assert.ErrorAs(t, err, &unknown)
	assert.Equal(t, "something_new", unknown.Type)
}

func TestDecode_MalformedJSON(t *testing.T) {
	_, err := protocol.Decode([]byte(`{not json`))
	assert.Error(t, err)
}

// Round-trip law: encode-then-decode of every outbound variant yields
// an equal value (modulo defaulted fields) when read back through the
// matching struct directly (these frames are never re-decoded by
// Decode, since Decode only handles cloud→bridge variants — the law
// is checked at the JSON level instead).
func TestEncodeRoundTrip_Authenticate(t *testing.T) {
	frame := protocol.NewAuthenticate("helm-bridge-abcd1234", "bc_deadbeef", "1")
	data, err := protocol.Encode(frame)
	require.NoError(t, err)

	var got protocol.AuthenticateFrame
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, *frame, got)
}

func TestEncodeRoundTrip_StateBatch(t *testing.T) {
	events := []protocol.BatchEvent{
		{EntityID: "light.kitchen", NewState: &protocol.State{State: "on"}, Timestamp: "2026-01-01T00:00:00.000Z"},
	}
	frame := protocol.NewStateBatch("batch-1", events)
	data, err := protocol.Encode(frame)
	require.NoError(t, err)

	var got protocol.StateBatchFrame
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, *frame, got)
	assert.False(t, got.IsOverflow)
}

func TestNewStateBatch_NilEventsBecomesEmptySlice(t *testing.T) {
	frame := protocol.NewStateBatch("batch-1", nil)
	assert.NotNil(t, frame.Events)
	assert.Empty(t, frame.Events)

	data, err := protocol.Encode(frame)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"events":[]`)
}

func TestEncodeRoundTrip_CommandResult_Completed(t *testing.T) {
	frame := protocol.NewCommandCompleted("cmd-1", map[string]any{"haResponse": map[string]any{"ok": true}})
	data, err := protocol.Encode(frame)
	require.NoError(t, err)

	var got protocol.CommandResultFrame
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "completed", got.Status)
	assert.Nil(t, got.Error)
}

func TestEncodeRoundTrip_CommandResult_Failed(t *testing.T) {
	frame := protocol.NewCommandFailed("cmd-1", protocol.ErrCodeExecutionFailed, "boom")
	data, err := protocol.Encode(frame)
	require.NoError(t, err)

	var got protocol.CommandResultFrame
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "failed", got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "EXECUTION_FAILED", got.Error.Code)
}

func TestNewCommandAck_AlwaysAcknowledged(t *testing.T) {
	frame := protocol.NewCommandAck("cmd-1", "2026-01-01T00:00:00.000Z")
	assert.Equal(t, "acknowledged", frame.Status)
	assert.Equal(t, protocol.TypeCommandAck, frame.Type)
}

func TestEncodeRoundTrip_Heartbeat(t *testing.T) {
	frame := protocol.NewHeartbeat(protocol.HeartbeatParams{
		BridgeID:        "helm-bridge-abcd1234",
		Timestamp:       "2026-01-01T00:00:00.000Z",
		BridgeVersion:   "1.0.0",
		ProtocolVersion: "1",
		HubVersion:      "2025.1.0",
		HubConnected:    true,
		CloudConnected:  true,
		EntityCount:     42,
		ReconnectCount:  3,
		UptimeSeconds:   3600,
	})
	data, err := protocol.Encode(frame)
	require.NoError(t, err)

	var got protocol.HeartbeatFrame
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, *frame, got)
}
