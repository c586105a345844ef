package types

import (
	"context"
	"io"
	"sync/atomic"
	"time"
)

// Dialog is the narrow view of a signaling dialog plus its media session
// that the orchestration core is allowed to touch. The server package
// adapts diago inbound and outbound dialogs to it; tests use fakes.
type Dialog interface {
	ID() string
	RemoteParty() string
	// Play streams an audio payload to the caller and blocks until
	// playback finishes or ctx is cancelled.
	Play(ctx context.Context, audio io.Reader, contentType string) error
	// AudioReader exposes the caller's decoded audio stream for forking.
	AudioReader() (io.Reader, error)
	Hangup(ctx context.Context) error
	// Done is closed when the remote side hangs up or the dialog dies.
	Done() <-chan struct{}
	Close() error
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type CallState int

const (
	StateConnecting CallState = iota
	StateMediaEstablished
	StateListening
	StateCapturing
	StateThinking
	StateSpeaking
	StateCallbackPending
	StateEnding
	StateEnded
)

func (s CallState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateMediaEstablished:
		return "media_established"
	case StateListening:
		return "listening"
	case StateCapturing:
		return "capturing"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	case StateCallbackPending:
		return "callback_pending"
	case StateEnding:
		return "ending"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

// CallSession is owned by the goroutine running the call. The command
// bus holds a reference for listing, so the state and turn counter other
// goroutines read mid-call live behind atomic accessors.
type CallSession struct {
	ID        string
	Direction Direction
	CallerID  string
	Device    DeviceConfig
	Dialog    Dialog
	StartTime time.Time
	// CallbackTarget is set by the turn engine when the AI requests a
	// callback; the session machine dials it after teardown.
	CallbackTarget string
	Context        context.Context
	Cancel         context.CancelFunc

	state atomic.Int32
	turns atomic.Int32
}

func (c *CallSession) State() CallState     { return CallState(c.state.Load()) }
func (c *CallSession) SetState(s CallState) { c.state.Store(int32(s)) }

func (c *CallSession) Turns() int { return int(c.turns.Load()) }
func (c *CallSession) AddTurn()   { c.turns.Add(1) }

// DeviceConfig is the identity profile bound to an extension. Sessions
// take an immutable snapshot at connect time and never observe registry
// changes mid-call.
type DeviceConfig struct {
	Name        string `yaml:"name"`
	Extension   string `yaml:"extension"`
	SIPUser     string `yaml:"sip_user"`
	SIPPassword string `yaml:"sip_password"`
	Voice       string `yaml:"voice"`
	Prompt      string `yaml:"prompt"`
	Default     bool   `yaml:"default"`
}

// Utterance is one bounded segment of captured caller speech.
type Utterance struct {
	Audio      []byte
	SampleRate int
	Start      time.Time
	End        time.Time
}

// AIResult is the per-turn answer from the reasoning backend. OK is false
// when Text holds a spoken fallback instead of a real answer.
type AIResult struct {
	Text       string
	SessionID  string
	DurationMs int64
	OK         bool
}

type CommandType string

const (
	CommandSpeak  CommandType = "speak"
	CommandHangup CommandType = "hangup"
)

// Command is injected by an external controller against a live call.
// Delivered at most once.
type Command struct {
	Type CommandType `json:"type"`
	Text string      `json:"text,omitempty"`
}

// Outcome is the terminal classification of an outbound call attempt.
type Outcome string

const (
	OutcomeAnswered           Outcome = "answered"
	OutcomeBusy               Outcome = "busy"
	OutcomeNoAnswer           Outcome = "no_answer"
	OutcomeNotFound           Outcome = "not_found"
	OutcomeNoRoute            Outcome = "no_route_to_destination"
	OutcomeServiceUnavailable Outcome = "service_unavailable"
	OutcomeAuthFailed         Outcome = "auth_failed"
	OutcomeUnknownError       Outcome = "unknown_error"
)
