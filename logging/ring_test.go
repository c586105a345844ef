package logging

import (
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRing(size int) (*slog.Logger, *RingHandler) {
	ring := NewRingHandler(slog.NewTextHandler(io.Discard, nil), size)
	return slog.New(ring), ring
}

func TestTailReturnsRecentOldestFirst(t *testing.T) {
	log, ring := newTestRing(16)

	log.Info("first")
	log.Warn("second")
	log.Error("third")

	entries := ring.Tail(0)
	require.Len(t, entries, 3)
	assert.Equal(t, "first", entries[0].Message)
	assert.Equal(t, "third", entries[2].Message)
	assert.Equal(t, "WARN", entries[1].Level)

	last := ring.Tail(2)
	require.Len(t, last, 2)
	assert.Equal(t, "second", last[0].Message)
	assert.Equal(t, "third", last[1].Message)
}

func TestRingBounded(t *testing.T) {
	log, ring := newTestRing(8)

	for i := 0; i < 20; i++ {
		log.Info(fmt.Sprintf("msg-%d", i))
	}

	entries := ring.Tail(0)
	require.Len(t, entries, 8)
	assert.Equal(t, "msg-12", entries[0].Message)
	assert.Equal(t, "msg-19", entries[7].Message)
}

func TestRingKeepsLoggerAttrs(t *testing.T) {
	log, ring := newTestRing(8)

	log.With("call_id", "c1").Info("registered", "direction", "inbound")

	entries := ring.Tail(1)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Attrs, "call_id=c1")
	assert.Contains(t, entries[0].Attrs, "direction=inbound")
}
