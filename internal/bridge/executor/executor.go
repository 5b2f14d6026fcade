// Package executor dispatches cloud commands against the hub session
// and the full-sync collector, producing a command_result for each
// (spec.md §4.7).
package executor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nautilink/helm-bridge/internal/bridge/protocol"
	"github.com/nautilink/helm-bridge/internal/metrics"
	"github.com/nautilink/helm-bridge/internal/util/timefmt"
)

// HubSession is the subset of hubclient.Client the executor needs.
type HubSession interface {
	CallService(ctx context.Context, domain, service string, data map[string]any) (json.RawMessage, error)
}

// FullSyncTrigger requests that a full_sync be collected and sent,
// satisfied by the cloud session manager's TriggerFullSync.
type FullSyncTrigger interface {
	TriggerFullSync(ctx context.Context)
}

// Executor runs commands against hub and fullSync.
type Executor struct {
	hub      HubSession
	fullSync FullSyncTrigger
}

// New creates an Executor.
func New(hub HubSession, fullSync FullSyncTrigger) *Executor {
	return &Executor{hub: hub, fullSync: fullSync}
}

// Execute dispatches cmd and returns the command_result frame to send
// back to the cloud. It never returns an error itself — every outcome,
// including an unrecognized commandType, is represented in the
// returned frame per spec.md §4.7.
func (e *Executor) Execute(ctx context.Context, cmd *protocol.CommandFrame) *protocol.CommandResultFrame {
	if expired(cmd) {
		metrics.CommandsTotal.WithLabelValues(string(cmd.CommandType), "expired").Inc()
		return protocol.NewCommandExpired(cmd.CmdID)
	}

	switch cmd.CommandType {
	case protocol.CommandHACallService:
		return e.executeCallService(ctx, cmd)
	case protocol.CommandHAFullResync:
		e.fullSync.TriggerFullSync(ctx)
		metrics.CommandsTotal.WithLabelValues(string(cmd.CommandType), "completed").Inc()
		return protocol.NewCommandCompleted(cmd.CmdID, map[string]any{"triggered": true})
	case protocol.CommandHARefreshEntity:
		return e.executeRefreshEntity(ctx, cmd)
	default:
		metrics.CommandsTotal.WithLabelValues(string(cmd.CommandType), "unknown").Inc()
		return protocol.NewCommandFailed(cmd.CmdID, protocol.ErrCodeUnknownCommand, "unrecognized commandType: "+string(cmd.CommandType))
	}
}

func (e *Executor) executeCallService(ctx context.Context, cmd *protocol.CommandFrame) *protocol.CommandResultFrame {
	domain, _ := cmd.Payload["domain"].(string)
	service, _ := cmd.Payload["service"].(string)
	serviceData, _ := cmd.Payload["serviceData"].(map[string]any)

	result, err := e.hub.CallService(ctx, domain, service, serviceData)
	if err != nil {
		metrics.CommandsTotal.WithLabelValues(string(cmd.CommandType), "failed").Inc()
		return protocol.NewCommandFailed(cmd.CmdID, protocol.ErrCodeExecutionFailed, err.Error())
	}

	metrics.CommandsTotal.WithLabelValues(string(cmd.CommandType), "completed").Inc()
	return protocol.NewCommandCompleted(cmd.CmdID, map[string]any{"haResponse": json.RawMessage(result)})
}

// executeRefreshEntity re-invokes homeassistant.update_entity for a
// single entity, reusing the same callService path as ha_call_service.
func (e *Executor) executeRefreshEntity(ctx context.Context, cmd *protocol.CommandFrame) *protocol.CommandResultFrame {
	entityID, _ := cmd.Payload["entityId"].(string)
	if entityID == "" {
		metrics.CommandsTotal.WithLabelValues(string(cmd.CommandType), "failed").Inc()
		return protocol.NewCommandFailed(cmd.CmdID, protocol.ErrCodeExecutionFailed, "missing entityId")
	}

	_, err := e.hub.CallService(ctx, "homeassistant", "update_entity", map[string]any{"entity_id": entityID})
	if err != nil {
		metrics.CommandsTotal.WithLabelValues(string(cmd.CommandType), "failed").Inc()
		return protocol.NewCommandFailed(cmd.CmdID, protocol.ErrCodeExecutionFailed, err.Error())
	}

	metrics.CommandsTotal.WithLabelValues(string(cmd.CommandType), "completed").Inc()
	return protocol.NewCommandCompleted(cmd.CmdID, map[string]any{"entityId": entityID})
}

// expired reports whether cmd carries a ttlMs that has elapsed since
// issuedAt. A malformed issuedAt is treated as not expired — the
// command still gets a chance to execute.
func expired(cmd *protocol.CommandFrame) bool {
	if cmd.TTLMs == nil {
		return false
	}
	issuedAt, err := timefmt.Parse(cmd.IssuedAt)
	if err != nil {
		return false
	}
	return time.Since(issuedAt) > time.Duration(*cmd.TTLMs)*time.Millisecond
}
