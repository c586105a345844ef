// Package audio implements the utterance capture side of the call's audio
// fork. The media plane duplicates a call's mixed mono audio to the
// capture endpoint over a local WebSocket; a ForkSession segments it into
// discrete utterances for the turn engine.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxbridge/phone-agent/types"
)

var (
	ErrUtteranceTimeout = errors.New("no utterance before timeout")
	ErrForkClosed       = errors.New("fork session closed")
)

const (
	// Endpointer tuning for 8 kHz telephone speech.
	speechRMSThreshold = 500.0
	trailingSilence    = 600 * time.Millisecond
	minSpeech          = 250 * time.Millisecond
	maxUtterance       = 15 * time.Second
)

// CaptureServer accepts forked call audio at GET /fork?call=<id>. The
// session controller registers an expectation first; the handshake
// completes when the first audio frame for that call arrives.
type CaptureServer struct {
	log        *slog.Logger
	sampleRate int
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	pending map[string]chan *ForkSession
	active  map[string]*ForkSession
}

func NewCaptureServer(log *slog.Logger, sampleRate int) *CaptureServer {
	if log == nil {
		log = slog.Default()
	}
	if sampleRate == 0 {
		sampleRate = 8000
	}
	return &CaptureServer{
		log:        log,
		sampleRate: sampleRate,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16384,
			WriteBufferSize: 16384,
		},
		pending: make(map[string]chan *ForkSession),
		active:  make(map[string]*ForkSession),
	}
}

// Expect registers interest in a capture session for callID and waits for
// its handshake, bounded by timeout. Exactly one fork session may be live
// per call.
func (s *CaptureServer) Expect(ctx context.Context, callID string, timeout time.Duration) (*ForkSession, error) {
	ch := make(chan *ForkSession, 1)

	s.mu.Lock()
	if _, dup := s.pending[callID]; dup {
		s.mu.Unlock()
		return nil, fmt.Errorf("capture already expected for call %s", callID)
	}
	if _, dup := s.active[callID]; dup {
		s.mu.Unlock()
		return nil, fmt.Errorf("capture already active for call %s", callID)
	}
	s.pending[callID] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, callID)
		s.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case fs := <-ch:
		return fs, nil
	case <-timer.C:
		return nil, fmt.Errorf("capture handshake for call %s: %w", callID, ErrUtteranceTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Handler serves the fork ingest endpoint.
func (s *CaptureServer) Handler() http.Handler {
	return http.HandlerFunc(s.serveFork)
}

func (s *CaptureServer) serveFork(w http.ResponseWriter, r *http.Request) {
	callID := r.URL.Query().Get("call")
	if callID == "" {
		http.Error(w, "missing call parameter", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("fork upgrade failed", "call_id", callID, "error", err)
		return
	}
	defer conn.Close()

	var fs *ForkSession
	for {
		msgType, frame, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.BinaryMessage || len(frame) == 0 {
			continue
		}

		if fs == nil {
			fs = s.completeHandshake(callID)
			if fs == nil {
				// Nobody is waiting for this call's audio.
				s.log.Warn("unexpected fork connection", "call_id", callID)
				return
			}
		}
		fs.ingest(frame)
	}

	if fs != nil {
		fs.closeOnce()
		s.mu.Lock()
		delete(s.active, callID)
		s.mu.Unlock()
		s.log.Info("fork stream ended", "call_id", callID)
	}
}

func (s *CaptureServer) completeHandshake(callID string) *ForkSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.pending[callID]
	if !ok {
		return nil
	}
	delete(s.pending, callID)

	fs := newForkSession(callID, s.sampleRate)
	s.active[callID] = fs
	select {
	case ch <- fs:
	default:
	}
	s.log.Info("capture handshake complete", "call_id", callID)
	return fs
}

// ForkSession buffers one call's forked audio into utterances. Capture is
// gated so only a single turn's speech is ever buffered; frames outside
// an enabled window are discarded.
type ForkSession struct {
	callID     string
	sampleRate int

	mu            sync.Mutex
	enabled       bool
	buf           []byte
	speechStarted bool
	startedAt     time.Time
	silentSamples int
	speechSamples int

	utterances chan types.Utterance
	closed     chan struct{}
	closeMu    sync.Once
}

func newForkSession(callID string, sampleRate int) *ForkSession {
	return &ForkSession{
		callID:     callID,
		sampleRate: sampleRate,
		utterances: make(chan types.Utterance, 2),
		closed:     make(chan struct{}),
	}
}

func (f *ForkSession) CallID() string { return f.callID }

// SetCaptureEnabled opens or closes the listening window. Idempotent.
// Closing the window discards any partial buffer so overlapping windows
// cannot smear speech across turns.
func (f *ForkSession) SetCaptureEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enabled == enabled {
		return
	}
	f.enabled = enabled
	if !enabled {
		f.resetLocked()
	}
}

func (f *ForkSession) CaptureEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

// WaitForUtterance returns the next complete utterance, or
// ErrUtteranceTimeout if the caller stays silent past timeout.
func (f *ForkSession) WaitForUtterance(ctx context.Context, timeout time.Duration) (*types.Utterance, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case utt := <-f.utterances:
		return &utt, nil
	case <-timer.C:
		return nil, ErrUtteranceTimeout
	case <-f.closed:
		return nil, ErrForkClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Closed is signalled when the fork stream goes away, normally at hangup.
func (f *ForkSession) Closed() <-chan struct{} {
	return f.closed
}

// ingest runs the energy endpointer over one audio frame. Durations are
// derived from sample counts, not wall clock, so segmentation does not
// depend on frame pacing.
func (f *ForkSession) ingest(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.enabled {
		return
	}

	samples := len(frame) / 2
	voiced := rmsEnergy(frame) >= speechRMSThreshold

	if voiced {
		if !f.speechStarted {
			f.speechStarted = true
			f.startedAt = time.Now()
		}
		f.buf = append(f.buf, frame...)
		f.speechSamples += samples
		f.silentSamples = 0
		if f.duration(f.speechSamples) >= maxUtterance {
			f.finalizeLocked()
		}
		return
	}

	if !f.speechStarted {
		return
	}

	// Keep trailing silence in the buffer; transcription handles it fine.
	f.buf = append(f.buf, frame...)
	f.silentSamples += samples
	if f.duration(f.silentSamples) >= trailingSilence {
		if f.duration(f.speechSamples) >= minSpeech {
			f.finalizeLocked()
		} else {
			// Too short to be speech, likely a click or breath.
			f.resetLocked()
		}
	}
}

func (f *ForkSession) duration(samples int) time.Duration {
	return time.Duration(samples) * time.Second / time.Duration(f.sampleRate)
}

func (f *ForkSession) finalizeLocked() {
	utt := types.Utterance{
		Audio:      f.buf,
		SampleRate: f.sampleRate,
		Start:      f.startedAt,
		End:        time.Now(),
	}
	f.resetLocked()
	select {
	case f.utterances <- utt:
	default:
		// Consumer is not keeping up; the window should have been closed.
	}
}

func (f *ForkSession) resetLocked() {
	f.buf = nil
	f.speechStarted = false
	f.silentSamples = 0
	f.speechSamples = 0
}

func (f *ForkSession) closeOnce() {
	f.closeMu.Do(func() { close(f.closed) })
}
