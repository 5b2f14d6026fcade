package logging

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
)

// ring is the shared, concurrency-safe state backing every RingBuffer
// derived from the same NewRingBuffer call. WithAttrs/WithGroup return
// a RingBuffer wrapping a different inner handler but pointing at the
// same *ring, so log lines recorded through any of them land in one
// buffer instead of diverging copies.
type ring struct {
	mu       sync.Mutex
	lines    [][]byte
	capacity int
	next     int
	filled   bool
}

// RingBuffer is a bounded, concurrency-safe buffer of recent log lines.
// It implements slog.Handler: each record is rendered into its own
// one-line text form (time, level, message, record attributes) for the
// buffer and is then passed on unchanged to an inner handler, so it can
// sit in front of the handler installed by Setup.
type RingBuffer struct {
	inner slog.Handler
	r     *ring
}

// NewRingBuffer wraps inner and retains up to capacity most-recent
// formatted log lines.
func NewRingBuffer(inner slog.Handler, capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{
		inner: inner,
		r:     &ring{lines: make([][]byte, capacity), capacity: capacity},
	}
}

func (r *RingBuffer) Enabled(ctx context.Context, level slog.Level) bool {
	return r.inner.Enabled(ctx, level)
}

func (r *RingBuffer) Handle(ctx context.Context, rec slog.Record) error {
	var buf bytes.Buffer
	buf.WriteString(rec.Time.Format("2006-01-02T15:04:05.000Z07:00"))
	buf.WriteByte(' ')
	buf.WriteString(rec.Level.String())
	buf.WriteByte(' ')
	buf.WriteString(rec.Message)
	rec.Attrs(func(a slog.Attr) bool {
		buf.WriteByte(' ')
		buf.WriteString(a.Key)
		buf.WriteByte('=')
		buf.WriteString(a.Value.String())
		return true
	})
	buf.WriteByte('\n')

	r.r.mu.Lock()
	r.r.lines[r.r.next] = buf.Bytes()
	r.r.next = (r.r.next + 1) % r.r.capacity
	if r.r.next == 0 {
		r.r.filled = true
	}
	r.r.mu.Unlock()

	return r.inner.Handle(ctx, rec)
}

func (r *RingBuffer) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &RingBuffer{inner: r.inner.WithAttrs(attrs), r: r.r}
}

func (r *RingBuffer) WithGroup(name string) slog.Handler {
	return &RingBuffer{inner: r.inner.WithGroup(name), r: r.r}
}

// Snapshot returns the retained lines in chronological order,
// concatenated into a single byte slice.
func (r *RingBuffer) Snapshot() []byte {
	r.r.mu.Lock()
	defer r.r.mu.Unlock()

	var out bytes.Buffer
	if r.r.filled {
		for i := r.r.next; i < r.r.capacity; i++ {
			out.Write(r.r.lines[i])
		}
	}
	for i := 0; i < r.r.next; i++ {
		out.Write(r.r.lines[i])
	}
	return out.Bytes()
}
