package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxbridge/phone-agent/audio"
	"github.com/voxbridge/phone-agent/config"
	"github.com/voxbridge/phone-agent/dialer"
	"github.com/voxbridge/phone-agent/engine"
	"github.com/voxbridge/phone-agent/session"
	"github.com/voxbridge/phone-agent/types"
)

const (
	captureHandshakeTimeout = 10 * time.Second
	teardownStepTimeout     = 5 * time.Second
)

// Backend is the slice of the AI client the session machine needs.
type Backend interface {
	EndSession(ctx context.Context, callID string) error
}

// OutboundDialer places one outbound call attempt.
type OutboundDialer interface {
	Dial(ctx context.Context, req dialer.Request) (*dialer.Result, error)
}

// Controller owns the per-call lifecycle: it wires an answered dialog to
// the capture protocol and the turn engine, and runs teardown when the
// call ends for any reason.
type Controller struct {
	log     *slog.Logger
	cfg     *config.Config
	devices *config.DeviceRegistry
	bus     *session.Manager
	capture *audio.CaptureServer
	engine  *engine.Engine
	ai      Backend
	dialer  OutboundDialer
}

func NewController(log *slog.Logger, cfg *config.Config, devices *config.DeviceRegistry, bus *session.Manager, capture *audio.CaptureServer, eng *engine.Engine, backend Backend, d OutboundDialer) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		log:     log,
		cfg:     cfg,
		devices: devices,
		bus:     bus,
		capture: capture,
		engine:  eng,
		ai:      backend,
		dialer:  d,
	}
}

// RunSession runs one call from media establishment to teardown. It
// blocks until the call is fully over; the SIP serve loop gives each call
// its own goroutine. opening is spoken before the first turn.
func (c *Controller) RunSession(parentCtx context.Context, dialog types.Dialog, direction types.Direction, callerID string, device types.DeviceConfig, opening string) {
	callCtx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	call := &types.CallSession{
		ID:        dialog.ID(),
		Direction: direction,
		CallerID:  callerID,
		Device:    device,
		Dialog:    dialog,
		StartTime: time.Now(),
		Context:   callCtx,
		Cancel:    cancel,
	}
	log := c.log.With("call_id", call.ID, "direction", direction)

	c.bus.Register(call)
	log.Info("call started", "caller", callerID, "device", device.Name)

	// The signaling layer's hangup notification short-circuits every
	// in-flight wait in the loop below.
	go func() {
		select {
		case <-dialog.Done():
			log.Info("remote hangup")
			cancel()
		case <-callCtx.Done():
		}
	}()

	fork, pump := c.establishCapture(callCtx, log, call)

	if fork != nil {
		call.SetState(types.StateMediaEstablished)
		if opening != "" {
			c.engine.Say(callCtx, call, opening)
		}
		if err := c.engine.Run(callCtx, call, fork); err != nil {
			log.Error("conversation ended with error", "error", err)
		}
	}

	c.teardown(log, call, fork, pump)

	if call.CallbackTarget != "" {
		c.scheduleCallback(parentCtx, log, call)
	}
}

// establishCapture performs the audio fork handshake: register the
// expectation first, then start streaming the call's audio at it. Either
// half failing leaves the call without a listening path, which is fatal
// for the conversation but still goes through normal teardown.
func (c *Controller) establishCapture(ctx context.Context, log *slog.Logger, call *types.CallSession) (*audio.ForkSession, *audio.ForkPump) {
	type expectResult struct {
		fork *audio.ForkSession
		err  error
	}
	expectCh := make(chan expectResult, 1)
	go func() {
		fs, err := c.capture.Expect(ctx, call.ID, captureHandshakeTimeout)
		expectCh <- expectResult{fs, err}
	}()

	pump, err := audio.StartForkPump(ctx, log, call.Dialog, c.cfg.ForkTarget, call.ID)
	if err != nil {
		log.Error("audio fork failed", "error", err)
		<-expectCh
		return nil, nil
	}

	res := <-expectCh
	if res.err != nil {
		log.Error("capture handshake failed", "error", res.err)
		pump.Stop()
		return nil, nil
	}
	return res.fork, pump
}

// teardown runs the fixed cleanup sequence. Every step is independently
// best-effort; a failed step never blocks the next one.
func (c *Controller) teardown(log *slog.Logger, call *types.CallSession, fork *audio.ForkSession, pump *audio.ForkPump) {
	call.SetState(types.StateEnding)
	log.Info("tearing down call", "turns", call.Turns())

	if fork != nil {
		fork.SetCaptureEnabled(false)
	}
	if pump != nil {
		pump.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), teardownStepTimeout)
	defer cancel()

	if err := c.ai.EndSession(ctx, call.ID); err != nil {
		log.Debug("backend session close failed", "error", err)
	}
	if err := call.Dialog.Close(); err != nil {
		log.Debug("media close failed", "error", err)
	}
	if err := call.Dialog.Hangup(ctx); err != nil {
		log.Debug("dialog hangup failed", "error", err)
	}

	c.bus.Unregister(call.ID)
	call.SetState(types.StateEnded)
	log.Info("call ended", "duration", time.Since(call.StartTime).Round(time.Second))
}

// scheduleCallback places the outbound call the AI asked for during the
// ended conversation, using the same device identity, after a short
// settle delay. Runs detached so the ended call's goroutine can finish.
func (c *Controller) scheduleCallback(parentCtx context.Context, log *slog.Logger, ended *types.CallSession) {
	target := ended.CallbackTarget
	device := ended.Device
	delay := time.Duration(c.cfg.CallbackDelayMs) * time.Millisecond
	log.Info("scheduling callback", "target", target, "delay", delay)

	go func() {
		select {
		case <-time.After(delay):
		case <-parentCtx.Done():
			return
		}
		c.PlaceCall(parentCtx, dialer.Request{
			To:      target,
			Message: fmt.Sprintf("Hello, this is %s calling you back as requested.", deviceLabel(device)),
			Device:  &device,
		})
	}()
}

// PlaceCall dials out and, when answered, runs a full conversation
// session on the new call. Returns the attempt's outcome.
func (c *Controller) PlaceCall(parentCtx context.Context, req dialer.Request) (types.Outcome, string) {
	if req.Device == nil {
		d := c.devices.GetDefault()
		req.Device = &d
	}

	res, err := c.dialer.Dial(parentCtx, req)
	if err != nil {
		c.log.Error("dial rejected", "to", req.To, "error", err)
		return types.OutcomeUnknownError, ""
	}
	if res.Outcome != types.OutcomeAnswered {
		c.log.Warn("call attempt failed", "to", req.To, "outcome", res.Outcome, "hint", res.Hint)
		return res.Outcome, res.Hint
	}

	opening := req.Message
	if opening == "" {
		opening = fmt.Sprintf("Hello, this is %s.", deviceLabel(*req.Device))
	}
	// The session must outlive the request that originated it.
	go c.RunSession(context.WithoutCancel(parentCtx), res.Dialog, types.DirectionOutbound, req.To, *req.Device, opening)
	return types.OutcomeAnswered, ""
}

func deviceLabel(d types.DeviceConfig) string {
	if d.Name != "" {
		return d.Name
	}
	return "your assistant"
}
