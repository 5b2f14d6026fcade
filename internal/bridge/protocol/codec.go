package protocol

import (
	"encoding/json"
	"fmt"
)

// envelope is used only to extract the discriminating "type" field
// before dispatching to a type-specific unmarshal, mirroring the
// teacher's `switch payload := msg.GetPayload().(type)` oneof
// dispatch, translated from a protobuf oneof to a JSON string tag.
type envelope struct {
	Type string `json:"type"`
}

// ErrUnknownType is returned by Decode for a well-formed JSON object
// whose "type" field does not match any known cloud→bridge variant.
// Callers log and ignore it — it is never fatal (spec.md §4.1, §7.5).
type ErrUnknownType struct {
	Type string
}

func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("protocol: unknown message type %q", e.Type)
}

// Decode parses a cloud→bridge frame and returns the typed value for
// its declared "type". Supported return types:
//
//	*AuthResultFrame, *CommandFrame, *RequestFullSyncFrame,
//	*RequestHeartbeatFrame, *DisconnectFrame, *RequestLogsFrame
//
// An unrecognized type yields *ErrUnknownType; a malformed object
// yields the underlying json error. Neither is fatal to the caller.
func Decode(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: decode envelope: %w", err)
	}

	switch env.Type {
	case TypeAuthResult:
		var m AuthResultFrame
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("protocol: decode auth_result: %w", err)
		}
		return &m, nil

	case TypeCommand:
		var m CommandFrame
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("protocol: decode command: %w", err)
		}
		if err := validateCommand(&m); err != nil {
			return nil, err
		}
		return &m, nil

	case TypeRequestFullSync:
		var m RequestFullSyncFrame
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("protocol: decode request_full_sync: %w", err)
		}
		return &m, nil

	case TypeRequestHeartbeat:
		var m RequestHeartbeatFrame
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("protocol: decode request_heartbeat: %w", err)
		}
		return &m, nil

	case TypeDisconnect:
		var m DisconnectFrame
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("protocol: decode disconnect: %w", err)
		}
		return &m, nil

	case TypeRequestLogs:
		var m RequestLogsFrame
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("protocol: decode request_logs: %w", err)
		}
		return &m, nil

	default:
		return nil, &ErrUnknownType{Type: env.Type}
	}
}

// validateCommand is the codec's schema check for the one inbound
// variant with required sub-fields beyond "type": a command must name
// a cmdId and a commandType, and requiresAck is always meaningful
// (defaults to false via the zero value, which is valid).
func validateCommand(m *CommandFrame) error {
	if m.CmdID == "" {
		return fmt.Errorf("protocol: command: missing cmdId")
	}
	if m.CommandType == "" {
		return fmt.Errorf("protocol: command: missing commandType")
	}
	return nil
}

// Encode marshals any typed frame built by a New* constructor.
func Encode(frame any) ([]byte, error) {
	return json.Marshal(frame)
}
