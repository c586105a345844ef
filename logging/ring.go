// Package logging wires log/slog with a process-wide ring buffer so the
// last activity of every call stays queryable over HTTP without keeping
// unbounded history.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

const DefaultRingSize = 2048

type Entry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Attrs   string    `json:"attrs,omitempty"`
}

// ringBuf is the shared bounded record store. Handlers derived with
// WithAttrs and WithGroup all append here.
type ringBuf struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

func (b *ringBuf) append(e Entry) {
	b.mu.Lock()
	b.entries[b.next] = e
	b.next = (b.next + 1) % len(b.entries)
	if b.next == 0 {
		b.full = true
	}
	b.mu.Unlock()
}

// RingHandler is a slog.Handler that appends every record to a bounded
// ring and forwards it to an inner handler.
type RingHandler struct {
	inner slog.Handler
	buf   *ringBuf
	attrs []slog.Attr
}

func NewRingHandler(inner slog.Handler, size int) *RingHandler {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &RingHandler{
		inner: inner,
		buf:   &ringBuf{entries: make([]Entry, size)},
	}
}

func (h *RingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *RingHandler) Handle(ctx context.Context, rec slog.Record) error {
	var sb strings.Builder
	for _, a := range h.attrs {
		fmt.Fprintf(&sb, "%s=%v ", a.Key, a.Value)
	}
	rec.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&sb, "%s=%v ", a.Key, a.Value)
		return true
	})

	h.buf.append(Entry{
		Time:    rec.Time,
		Level:   rec.Level.String(),
		Message: rec.Message,
		Attrs:   strings.TrimSpace(sb.String()),
	})

	return h.inner.Handle(ctx, rec)
}

func (h *RingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &RingHandler{
		inner: h.inner.WithAttrs(attrs),
		buf:   h.buf,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *RingHandler) WithGroup(name string) slog.Handler {
	return &RingHandler{
		inner: h.inner.WithGroup(name),
		buf:   h.buf,
		attrs: h.attrs,
	}
}

// Tail returns up to n most recent entries, oldest first.
func (h *RingHandler) Tail(n int) []Entry {
	b := h.buf
	b.mu.Lock()
	defer b.mu.Unlock()

	size := len(b.entries)
	count := b.next
	if b.full {
		count = size
	}
	if n <= 0 || n > count {
		n = count
	}

	out := make([]Entry, 0, n)
	start := b.next - n
	if start < 0 {
		start += size
	}
	for i := 0; i < n; i++ {
		out = append(out, b.entries[(start+i)%size])
	}
	return out
}

// Setup installs a ring-buffered slog logger as the process default and
// returns both the logger and the ring for the query endpoint.
func Setup(level slog.Level) (*slog.Logger, *RingHandler) {
	ring := NewRingHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}), DefaultRingSize)
	logger := slog.New(ring)
	slog.SetDefault(logger)
	return logger, ring
}
