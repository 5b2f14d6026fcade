package protocol

// AuthenticateFrame is the bridge's opening frame on the cloud socket.
type AuthenticateFrame struct {
	Type             string `json:"type"`
	BridgeID         string `json:"bridgeId"`
	BridgeCredential string `json:"bridgeCredential"`
	ProtocolVersion  string `json:"protocolVersion"`
}

// NewAuthenticate builds an authenticate frame.
func NewAuthenticate(bridgeID, credential, protocolVersion string) *AuthenticateFrame {
	return &AuthenticateFrame{
		Type:             TypeAuthenticate,
		BridgeID:         bridgeID,
		BridgeCredential: credential,
		ProtocolVersion:  protocolVersion,
	}
}

// HeartbeatFrame reports bridge liveness and connection health.
type HeartbeatFrame struct {
	Type            string `json:"type"`
	BridgeID        string `json:"bridgeId"`
	Timestamp       string `json:"timestamp"`
	BridgeVersion   string `json:"bridgeVersion"`
	ProtocolVersion string `json:"protocolVersion"`
	HubVersion      string `json:"hubVersion"`
	HubConnected    bool   `json:"hubConnected"`
	CloudConnected  bool   `json:"cloudConnected"`
	LastEventAt     string `json:"lastEventAt,omitempty"`
	EntityCount     int    `json:"entityCount"`
	ReconnectCount  int    `json:"reconnectCount"`
	UptimeSeconds   int64  `json:"uptimeSeconds"`
}

// HeartbeatParams bundles the fields NewHeartbeat needs, avoiding an
// unwieldy positional constructor for an eleven-field frame.
type HeartbeatParams struct {
	BridgeID        string
	Timestamp       string
	BridgeVersion   string
	ProtocolVersion string
	HubVersion      string
	HubConnected    bool
	CloudConnected  bool
	LastEventAt     string
	EntityCount     int
	ReconnectCount  int
	UptimeSeconds   int64
}

// NewHeartbeat builds a heartbeat frame.
func NewHeartbeat(p HeartbeatParams) *HeartbeatFrame {
	return &HeartbeatFrame{
		Type:            TypeHeartbeat,
		BridgeID:        p.BridgeID,
		Timestamp:       p.Timestamp,
		BridgeVersion:   p.BridgeVersion,
		ProtocolVersion: p.ProtocolVersion,
		HubVersion:      p.HubVersion,
		HubConnected:    p.HubConnected,
		CloudConnected:  p.CloudConnected,
		LastEventAt:     p.LastEventAt,
		EntityCount:     p.EntityCount,
		ReconnectCount:  p.ReconnectCount,
		UptimeSeconds:   p.UptimeSeconds,
	}
}

// FullSyncFrame carries a complete snapshot of the hub's topology.
type FullSyncFrame struct {
	Type       string       `json:"type"`
	SyncedAt   string       `json:"syncedAt"`
	HubVersion string       `json:"hubVersion"`
	Data       FullSyncData `json:"data"`
}

// NewFullSync builds a full_sync frame.
func NewFullSync(syncedAt, hubVersion string, data FullSyncData) *FullSyncFrame {
	return &FullSyncFrame{
		Type:       TypeFullSync,
		SyncedAt:   syncedAt,
		HubVersion: hubVersion,
		Data:       data,
	}
}

// StateBatchFrame carries a contiguous group of coalesced state
// changes. IsOverflow is reserved (spec.md §9 Open Question) and is
// always false from NewStateBatch.
type StateBatchFrame struct {
	Type       string       `json:"type"`
	BatchID    string       `json:"batchId"`
	IsOverflow bool         `json:"isOverflow"`
	Events     []BatchEvent `json:"events"`
}

// NewStateBatch builds a state_batch frame. events is never nil in
// the returned frame — flushing an empty buffer does not call this
// constructor at all (see batcher.Batcher).
func NewStateBatch(batchID string, events []BatchEvent) *StateBatchFrame {
	if events == nil {
		events = []BatchEvent{}
	}
	return &StateBatchFrame{
		Type:       TypeStateBatch,
		BatchID:    batchID,
		IsOverflow: false,
		Events:     events,
	}
}

// SyncStatusFrame is defined by the schema but never emitted by any
// in-scope operation (spec.md §9 Open Question). The constructor
// exists so the variant is a complete, valid shape if a future
// component needs it.
type SyncStatusFrame struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// NewSyncStatus builds a sync_status frame.
func NewSyncStatus(status string) *SyncStatusFrame {
	return &SyncStatusFrame{Type: TypeSyncStatus, Status: status}
}

// CommandAckFrame acknowledges receipt of a command that requested one.
type CommandAckFrame struct {
	Type       string `json:"type"`
	CmdID      string `json:"cmdId"`
	Status     string `json:"status"`
	ReceivedAt string `json:"receivedAt"`
}

// NewCommandAck builds a command_ack frame.
func NewCommandAck(cmdID, receivedAt string) *CommandAckFrame {
	return &CommandAckFrame{
		Type:       TypeCommandAck,
		CmdID:      cmdID,
		Status:     string(StatusAcknowledged),
		ReceivedAt: receivedAt,
	}
}

// CommandResultFrame reports the outcome of a dispatched command.
type CommandResultFrame struct {
	Type   string        `json:"type"`
	CmdID  string        `json:"cmdId"`
	Status string        `json:"status"`
	Result any           `json:"result,omitempty"`
	Error  *CommandError `json:"error,omitempty"`
}

// NewCommandCompleted builds a completed command_result frame.
func NewCommandCompleted(cmdID string, result any) *CommandResultFrame {
	return &CommandResultFrame{
		Type:   TypeCommandResult,
		CmdID:  cmdID,
		Status: string(StatusCompleted),
		Result: result,
	}
}

// NewCommandFailed builds a failed command_result frame.
func NewCommandFailed(cmdID, code, message string) *CommandResultFrame {
	return &CommandResultFrame{
		Type:   TypeCommandResult,
		CmdID:  cmdID,
		Status: string(StatusFailed),
		Error:  &CommandError{Code: code, Message: message},
	}
}

// NewCommandExpired builds an expired command_result frame.
func NewCommandExpired(cmdID string) *CommandResultFrame {
	return &CommandResultFrame{
		Type:   TypeCommandResult,
		CmdID:  cmdID,
		Status: string(StatusExpired),
	}
}

// ErrorFrame reports a bridge-side protocol or processing error.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// NewError builds an error frame.
func NewError(code, message string) *ErrorFrame {
	return &ErrorFrame{Type: TypeError, Code: code, Message: message}
}

// BridgeLogsFrame carries a compressed bundle of recent log lines in
// response to request_logs.
type BridgeLogsFrame struct {
	Type        string `json:"type"`
	Compression string `json:"compression"`
	Data        []byte `json:"data"` // encoding/json base64-encodes []byte automatically
	RequestedAt string `json:"requestedAt"`
}

// NewBridgeLogs builds a bridge_logs frame.
func NewBridgeLogs(compression string, data []byte, requestedAt string) *BridgeLogsFrame {
	return &BridgeLogsFrame{
		Type:        TypeBridgeLogs,
		Compression: compression,
		Data:        data,
		RequestedAt: requestedAt,
	}
}

// AuthResultFrame is the cloud's reply to an authenticate frame.
type AuthResultFrame struct {
	Type     string `json:"type"`
	Success  bool   `json:"success"`
	TenantID string `json:"tenantId,omitempty"`
	Error    string `json:"error,omitempty"`
}

// CommandFrame is an inbound command dispatch request from the cloud.
type CommandFrame struct {
	Type        string         `json:"type"`
	CmdID       string         `json:"cmdId"`
	TenantID    string         `json:"tenantId"`
	IssuedAt    string         `json:"issuedAt"`
	CommandType CommandType    `json:"commandType"`
	Payload     map[string]any `json:"payload"`
	RequiresAck bool           `json:"requiresAck"`
	TTLMs       *int64         `json:"ttlMs,omitempty"`
}

// RequestFullSyncFrame asks the bridge to emit a full_sync frame.
type RequestFullSyncFrame struct {
	Type string `json:"type"`
}

// RequestHeartbeatFrame asks the bridge to emit a heartbeat immediately.
type RequestHeartbeatFrame struct {
	Type string `json:"type"`
}

// DisconnectFrame tells the bridge to stop reconnecting and close.
type DisconnectFrame struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// Disconnect reasons that additionally clear the credential store.
const (
	ReasonUserDisconnected = "user_disconnected"
	ReasonUserReset        = "user_reset"
)

// RequestLogsFrame asks the bridge to emit a bridge_logs frame.
type RequestLogsFrame struct {
	Type string `json:"type"`
}
