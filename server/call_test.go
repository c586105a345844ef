package server

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxbridge/phone-agent/ai"
	"github.com/voxbridge/phone-agent/audio"
	"github.com/voxbridge/phone-agent/config"
	"github.com/voxbridge/phone-agent/dialer"
	"github.com/voxbridge/phone-agent/engine"
	"github.com/voxbridge/phone-agent/session"
	"github.com/voxbridge/phone-agent/types"
)

// stepRecorder collects the teardown actions in the order they ran.
type stepRecorder struct {
	mu    sync.Mutex
	steps []string
}

func (r *stepRecorder) add(step string) {
	r.mu.Lock()
	r.steps = append(r.steps, step)
	r.mu.Unlock()
}

func (r *stepRecorder) index(step string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.steps {
		if s == step {
			return i
		}
	}
	return -1
}

// silenceReader feeds the fork pump a steady stream of silent PCM, like
// a connected caller who never speaks.
type silenceReader struct{}

func (silenceReader) Read(p []byte) (int, error) {
	time.Sleep(5 * time.Millisecond)
	n := 320
	if n > len(p) {
		n = len(p)
	}
	for i := 0; i < n; i++ {
		p[i] = 0
	}
	return n, nil
}

type sessionDialog struct {
	rec  *stepRecorder
	done chan struct{}
}

func newSessionDialog(rec *stepRecorder) *sessionDialog {
	return &sessionDialog{rec: rec, done: make(chan struct{})}
}

func (d *sessionDialog) ID() string          { return "sess-1" }
func (d *sessionDialog) RemoteParty() string { return "1001" }
func (d *sessionDialog) Play(ctx context.Context, r io.Reader, ct string) error {
	return nil
}
func (d *sessionDialog) AudioReader() (io.Reader, error) { return silenceReader{}, nil }
func (d *sessionDialog) Hangup(ctx context.Context) error {
	d.rec.add("dialog_hangup")
	return nil
}
func (d *sessionDialog) Done() <-chan struct{} { return d.done }
func (d *sessionDialog) Close() error {
	d.rec.add("media_close")
	return nil
}

type recordingBackend struct {
	rec *stepRecorder
}

func (b *recordingBackend) EndSession(ctx context.Context, callID string) error {
	b.rec.add("end_session")
	return nil
}

type recordingDialer struct {
	mu       sync.Mutex
	requests []dialer.Request
	result   *dialer.Result
}

func (d *recordingDialer) Dial(ctx context.Context, req dialer.Request) (*dialer.Result, error) {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()
	return d.result, nil
}

func (d *recordingDialer) dialed() []dialer.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dialer.Request{}, d.requests...)
}

type stubAI struct{}

func (stubAI) Query(ctx context.Context, prompt string, opts ai.QueryOptions) types.AIResult {
	return types.AIResult{Text: "VOICE_RESPONSE: Hi.", OK: true}
}

type stubSTT struct{}

func (stubSTT) Transcribe(ctx context.Context, pcm []byte, rate int) (string, error) {
	return "", nil
}

type stubTTS struct{}

func (stubTTS) Speak(ctx context.Context, text, voice string) (string, error) {
	return "spoken", nil
}

type stubPlayer struct{}

func (stubPlayer) PlayFile(ctx context.Context, d types.Dialog, name string) error { return nil }
func (stubPlayer) PlayURL(ctx context.Context, d types.Dialog, url string) error   { return nil }
func (stubPlayer) PlayFileBackground(ctx context.Context, d types.Dialog, name string) func() {
	return func() {}
}

func newSessionController(t *testing.T, rec *stepRecorder, out *recordingDialer) (*Controller, *session.Manager, func()) {
	t.Helper()

	capture := audio.NewCaptureServer(nil, 8000)
	srv := httptest.NewServer(capture.Handler())

	cfg := &config.Config{
		ForkTarget:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		CallbackDelayMs: 10,
	}

	bus := session.NewManager(nil)
	eng := engine.New(nil, stubAI{}, stubSTT{}, stubTTS{}, stubPlayer{}, bus, engine.Config{
		MaxTurns:         1,
		UtteranceTimeout: 30 * time.Millisecond,
	})

	ctrl := NewController(nil, cfg, nil, bus, capture, eng, &recordingBackend{rec: rec}, out)
	return ctrl, bus, srv.Close
}

func TestRunSessionTeardownOrder(t *testing.T) {
	rec := &stepRecorder{}
	ctrl, bus, stop := newSessionController(t, rec, &recordingDialer{})
	defer stop()

	dialog := newSessionDialog(rec)
	device := types.DeviceConfig{Name: "Assistant", Extension: "7000", Voice: "en-amy"}

	ctrl.RunSession(context.Background(), dialog, types.DirectionInbound, "1001", device, "hello")

	// Teardown ran every step, in order: backend session close, media
	// endpoint, signaling dialog.
	endSession := rec.index("end_session")
	mediaClose := rec.index("media_close")
	hangup := rec.index("dialog_hangup")
	require.GreaterOrEqual(t, endSession, 0)
	assert.Greater(t, mediaClose, endSession)
	assert.Greater(t, hangup, mediaClose)

	// The call is deregistered once the session is over.
	assert.Equal(t, 0, bus.Count())
}

func TestRunSessionRemoteHangupShortCircuits(t *testing.T) {
	rec := &stepRecorder{}
	ctrl, bus, stop := newSessionController(t, rec, &recordingDialer{})
	defer stop()

	dialog := newSessionDialog(rec)
	close(dialog.done) // remote already gone

	ctrl.RunSession(context.Background(), dialog, types.DirectionInbound, "1001", types.DeviceConfig{Name: "Assistant"}, "hello")

	assert.GreaterOrEqual(t, rec.index("dialog_hangup"), 0)
	assert.Equal(t, 0, bus.Count())
}

func TestCallbackDialsEndedCallIdentity(t *testing.T) {
	rec := &stepRecorder{}
	out := &recordingDialer{result: &dialer.Result{Outcome: types.OutcomeBusy}}
	ctrl, _, stop := newSessionController(t, rec, out)
	defer stop()

	device := types.DeviceConfig{Name: "Assistant", Extension: "7000", SIPUser: "7000", Voice: "en-amy"}
	ended := &types.CallSession{
		ID:             "sess-1",
		CallerID:       "1001",
		Device:         device,
		CallbackTarget: "+15551234567",
	}

	ctrl.scheduleCallback(context.Background(), ctrl.log, ended)

	require.Eventually(t, func() bool {
		return len(out.dialed()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	req := out.dialed()[0]
	assert.Equal(t, "+15551234567", req.To)
	require.NotNil(t, req.Device)
	assert.Equal(t, device, *req.Device)
	assert.Contains(t, req.Message, "Assistant")
	assert.Contains(t, req.Message, "calling you back")
}

func TestPlaceCallSurfacesFailedOutcome(t *testing.T) {
	rec := &stepRecorder{}
	out := &recordingDialer{result: &dialer.Result{
		Outcome: types.OutcomeNoRoute,
		Hint:    "missing outbound route",
	}}
	ctrl, bus, stop := newSessionController(t, rec, out)
	defer stop()

	device := types.DeviceConfig{Name: "Assistant", Extension: "7000"}
	outcome, hint := ctrl.PlaceCall(context.Background(), dialer.Request{To: "15550001111", Device: &device})

	assert.Equal(t, types.OutcomeNoRoute, outcome)
	assert.Equal(t, "missing outbound route", hint)
	assert.Equal(t, 0, bus.Count())
}
