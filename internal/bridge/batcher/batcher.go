// Package batcher coalesces bursty hub state-change events into
// outbound state_batch frames (spec.md §4.4).
package batcher

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nautilink/helm-bridge/internal/bridge/protocol"
	"github.com/nautilink/helm-bridge/internal/id"
	"github.com/nautilink/helm-bridge/internal/metrics"
)

const flushDelay = 500 * time.Millisecond

// CloudSession is the subset of the cloud session manager the batcher
// needs: whether it's safe to send right now, and how to send.
type CloudSession interface {
	Authenticated() bool
	SendStateBatch(frame *protocol.StateBatchFrame)
}

// Batcher implements the debounce-with-flush algorithm of spec.md
// §4.4: appending an event never blocks, and at most one flush timer
// is armed at a time.
type Batcher struct {
	cloud CloudSession

	mu            sync.Mutex
	buffer        []protocol.BatchEvent
	timer         *time.Timer
	lastEventTime time.Time
}

// New creates a Batcher that flushes onto cloud.
func New(cloud CloudSession) *Batcher {
	return &Batcher{cloud: cloud}
}

// Append adds an event to the buffer, arming the flush timer if one
// isn't already running. Never blocks.
func (b *Batcher) Append(evt protocol.BatchEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buffer = append(b.buffer, evt)
	b.lastEventTime = time.Now()

	if b.timer == nil {
		b.timer = time.AfterFunc(flushDelay, b.flush)
	}
}

// LastEventTime reports when the most recent event was appended, so
// the cloud session's heartbeat can reflect hub activity.
func (b *Batcher) LastEventTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastEventTime
}

// flush is invoked by the timer. It atomically swaps the buffer for an
// empty one and emits a state_batch frame if the cloud session is
// authenticated; otherwise the batch is discarded (best-effort).
func (b *Batcher) flush() {
	b.mu.Lock()
	events := b.buffer
	b.buffer = nil
	b.timer = nil
	b.mu.Unlock()

	if len(events) == 0 {
		return
	}

	if !b.cloud.Authenticated() {
		slog.Debug("state batcher: cloud not authenticated, dropping batch", "events", len(events))
		metrics.StateBatchesDropped.Inc()
		return
	}

	b.cloud.SendStateBatch(protocol.NewStateBatch(id.New(), events))
	metrics.StateBatchesSent.Inc()
	metrics.StateBatchSize.Observe(float64(len(events)))
}

// Flush performs one final synchronous flush, used on shutdown so no
// buffered events are lost silently.
func (b *Batcher) Flush() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()
	b.flush()
}
