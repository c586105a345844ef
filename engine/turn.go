// Package engine runs the speak/listen loop for one connected call. The
// loop is strictly sequential: one capture window, one backend query, one
// playback at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/voxbridge/phone-agent/ai"
	"github.com/voxbridge/phone-agent/audio"
	"github.com/voxbridge/phone-agent/speech"
	"github.com/voxbridge/phone-agent/types"
)

const (
	DefaultMaxTurns         = 20
	defaultUtteranceTimeout = 30 * time.Second
	minTranscriptChars      = 2
)

const (
	lineReprompt     = "I didn't catch that. Could you say it again?"
	lineClarify      = "Sorry, I didn't quite get that. Could you rephrase?"
	lineFarewell     = "Alright, goodbye! Have a great day."
	lineClosing      = "We've been talking a while, so I'll let you go now. Goodbye!"
	lineFatalApology = "I'm sorry, I've run into a problem and have to hang up. Goodbye."
	lineSpeakAck     = "One of my operators asked me to tell you something."
	soundReadyCue    = "ready.wav"
	soundGotItCue    = "gotit.wav"
	soundHoldAudio   = "hold.wav"
)

var thinkingFillers = []string{
	"Let me think about that for a second.",
	"One moment.",
	"Hmm, good question, give me a moment.",
	"Let me check on that.",
}

// AIClient is the slice of the backend client the engine needs.
type AIClient interface {
	Query(ctx context.Context, prompt string, opts ai.QueryOptions) types.AIResult
}

// Capture is the per-call utterance capture handle.
type Capture interface {
	SetCaptureEnabled(enabled bool)
	WaitForUtterance(ctx context.Context, timeout time.Duration) (*types.Utterance, error)
	Closed() <-chan struct{}
}

// Player abstracts cue and speech playback into the call.
type Player interface {
	PlayFile(ctx context.Context, d types.Dialog, filename string) error
	PlayURL(ctx context.Context, d types.Dialog, urlOrPath string) error
	PlayFileBackground(ctx context.Context, d types.Dialog, filename string) func()
}

// CommandBus is the engine's view of the external command registry.
type CommandBus interface {
	WaitForCommand(ctx context.Context, callID string, timeout time.Duration) (*types.Command, error)
}

type Config struct {
	MaxTurns         int
	UtteranceTimeout time.Duration
	// QueryTimeout bounds each backend query; zero lets the client use
	// its own default.
	QueryTimeout time.Duration
}

type Engine struct {
	log    *slog.Logger
	ai     AIClient
	stt    speech.Transcriber
	tts    speech.Synthesizer
	player Player
	bus    CommandBus
	cfg    Config
}

func New(log *slog.Logger, aiClient AIClient, stt speech.Transcriber, tts speech.Synthesizer, player Player, bus CommandBus, cfg Config) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.UtteranceTimeout <= 0 {
		cfg.UtteranceTimeout = defaultUtteranceTimeout
	}
	return &Engine{log: log, ai: aiClient, stt: stt, tts: tts, player: player, bus: bus, cfg: cfg}
}

// Run drives the bounded conversation loop for an already-connected call.
// It returns when the conversation ends for any reason; teardown belongs
// to the caller. A callback request is left on call.CallbackTarget.
func (e *Engine) Run(ctx context.Context, call *types.CallSession, capture Capture) error {
	log := e.log.With("call_id", call.ID)

	err := e.runLoop(ctx, log, call, capture)
	if err != nil && ctx.Err() == nil && !errors.Is(err, audio.ErrForkClosed) {
		log.Error("turn loop failed", "error", err)
		// One best-effort apology before the caller tears the call down.
		e.speak(ctx, log, call, lineFatalApology)
		return err
	}
	return nil
}

func (e *Engine) runLoop(ctx context.Context, log *slog.Logger, call *types.CallSession, capture Capture) error {
	for call.Turns() < e.cfg.MaxTurns {
		if ctx.Err() != nil {
			return nil
		}

		done, err := e.runTurn(ctx, log, call, capture)
		if err != nil {
			return err
		}
		call.AddTurn()
		if done {
			return nil
		}

		stop, err := e.drainCommand(ctx, log, call)
		if err != nil || stop {
			return err
		}
	}

	log.Info("turn cap reached", "turns", call.Turns())
	e.speak(ctx, log, call, lineClosing)
	return nil
}

// runTurn executes one listen→transcribe→reason→speak cycle. done=true
// ends the conversation normally.
func (e *Engine) runTurn(ctx context.Context, log *slog.Logger, call *types.CallSession, capture Capture) (done bool, err error) {
	call.SetState(types.StateListening)
	if err := e.player.PlayFile(ctx, call.Dialog, soundReadyCue); err != nil && ctx.Err() == nil {
		log.Debug("ready cue failed", "error", err)
	}

	capture.SetCaptureEnabled(true)
	call.SetState(types.StateCapturing)
	utt, waitErr := capture.WaitForUtterance(ctx, e.cfg.UtteranceTimeout)
	capture.SetCaptureEnabled(false)

	if waitErr != nil {
		switch {
		case errors.Is(waitErr, audio.ErrUtteranceTimeout):
			log.Info("caller silent, re-prompting", "turn", call.Turns())
			e.speak(ctx, log, call, lineReprompt)
			return false, nil
		case errors.Is(waitErr, audio.ErrForkClosed), errors.Is(waitErr, context.Canceled):
			return true, nil
		default:
			return false, waitErr
		}
	}

	if err := e.player.PlayFile(ctx, call.Dialog, soundGotItCue); err != nil && ctx.Err() == nil {
		log.Debug("got-it cue failed", "error", err)
	}

	transcript, err := e.stt.Transcribe(ctx, utt.Audio, utt.SampleRate)
	if err != nil {
		log.Warn("transcription failed", "error", err)
		e.speak(ctx, log, call, lineClarify)
		return false, nil
	}
	transcript = strings.TrimSpace(transcript)
	if len(transcript) < minTranscriptChars {
		log.Info("transcript too short", "transcript", transcript)
		e.speak(ctx, log, call, lineClarify)
		return false, nil
	}
	log.Info("caller said", "transcript", transcript, "turn", call.Turns())

	if IsGoodbye(transcript) {
		e.speak(ctx, log, call, lineFarewell)
		return true, nil
	}

	e.speak(ctx, log, call, thinkingFillers[rand.Intn(len(thinkingFillers))])

	call.SetState(types.StateThinking)
	stopHold := e.player.PlayFileBackground(ctx, call.Dialog, soundHoldAudio)
	result := e.ai.Query(ctx, transcript+systemNote(call), ai.QueryOptions{
		CallID:       call.ID,
		DevicePrompt: call.Device.Prompt,
		Timeout:      e.cfg.QueryTimeout,
	})
	stopHold()

	log.Info("backend answered", "ok", result.OK, "duration_ms", result.DurationMs)

	if !result.OK {
		// Fallback lines are already spoken text, not a raw reply.
		e.speak(ctx, log, call, result.Text)
		return false, nil
	}

	e.speak(ctx, log, call, ExtractSpeakable(result.Text))

	if target, ok := FindCallback(result.Text); ok {
		log.Info("callback requested", "target", target)
		call.CallbackTarget = target
		call.SetState(types.StateCallbackPending)
		return true, nil
	}
	return false, nil
}

// Say renders and plays a single line outside the turn loop, for
// greetings and callback openings. Failures are logged and swallowed.
func (e *Engine) Say(ctx context.Context, call *types.CallSession, text string) {
	e.speak(ctx, e.log.With("call_id", call.ID), call, text)
}

// drainCommand delivers at most one externally-injected command between
// turns. stop=true ends the conversation.
func (e *Engine) drainCommand(ctx context.Context, log *slog.Logger, call *types.CallSession) (stop bool, err error) {
	if e.bus == nil {
		return false, nil
	}
	cmd, err := e.bus.WaitForCommand(ctx, call.ID, 0)
	if err != nil || cmd == nil {
		return false, nil
	}

	switch cmd.Type {
	case types.CommandSpeak:
		log.Info("injected speak command", "turn", call.Turns())
		e.speak(ctx, log, call, lineSpeakAck)
		e.speak(ctx, log, call, cmd.Text)
		return false, nil
	case types.CommandHangup:
		log.Info("injected hangup command")
		e.speak(ctx, log, call, lineFarewell)
		return true, nil
	default:
		log.Warn("unsupported command", "type", cmd.Type)
		return false, nil
	}
}

// speak renders text with the device voice and plays it. All failures are
// logged and swallowed; a lost line must not end the call.
func (e *Engine) speak(ctx context.Context, log *slog.Logger, call *types.CallSession, text string) {
	if text == "" || ctx.Err() != nil {
		return
	}
	call.SetState(types.StateSpeaking)

	url, err := e.tts.Speak(ctx, text, call.Device.Voice)
	if err != nil {
		log.Warn("speech synthesis failed", "error", err)
		return
	}
	if err := e.player.PlayURL(ctx, call.Dialog, url); err != nil && ctx.Err() == nil {
		log.Warn("speech playback failed", "error", err)
	}
}

func systemNote(call *types.CallSession) string {
	return fmt.Sprintf("\n\n[System note: you are on a phone call with %s. "+
		"Answer with a short spoken line after a %s marker. "+
		"If the caller asks to be called back at a number, include a line %s <number> in your reply.]",
		callerLabel(call), voiceMarker, callbackMarker)
}

func callerLabel(call *types.CallSession) string {
	if call.CallerID != "" && call.CallerID != "unknown" {
		return call.CallerID
	}
	return "an unidentified caller"
}
