// Package dialer places outbound calls. diago allocates the media
// session and local description before the INVITE goes out (early offer),
// so the far end can start media the moment it answers.
package dialer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/emiago/diago"
	"github.com/emiago/sipgo/sip"
	"github.com/voxbridge/phone-agent/types"
)

const defaultDialTimeout = 30 * time.Second

type Config struct {
	// OutboundHost is the SIP proxy or trunk all outbound INVITEs go to.
	OutboundHost string
	OutboundPort int
	// DialPrefix is prepended to the dialed number, e.g. a trunk access
	// code.
	DialPrefix  string
	DefaultUser string
	DefaultPass string
}

type Request struct {
	To             string
	Message        string
	CallerID       string
	TimeoutSeconds int
	Device         *types.DeviceConfig
}

type Result struct {
	Outcome   types.Outcome
	Dialog    types.Dialog
	IsRinging bool
	Hint      string
}

type Dialer struct {
	log *slog.Logger
	dg  *diago.Diago
	cfg Config
}

func New(log *slog.Logger, dg *diago.Diago, cfg Config) *Dialer {
	if log == nil {
		log = slog.Default()
	}
	return &Dialer{log: log, dg: dg, cfg: cfg}
}

// Dial places a call and waits for the answer, bounded by the request
// timeout. Failures come back as a classified Result, never retried.
func (d *Dialer) Dial(ctx context.Context, req Request) (*Result, error) {
	if req.To == "" {
		return nil, fmt.Errorf("no destination")
	}
	timeout := defaultDialTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	// The transport has its own ring timing; this wrapper guarantees
	// bounded call-setup latency regardless.
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	recipient := d.destinationURI(req.To)
	user, pass := d.credentials(req.Device)

	var ringing atomic.Bool
	var lastStatus atomic.Int32

	opts := diago.InviteOptions{
		Username: user,
		Password: pass,
		Headers:  d.identityHeaders(req),
		OnResponse: func(res *sip.Response) error {
			code := int(res.StatusCode)
			lastStatus.Store(int32(code))
			if code >= 180 && code < 190 {
				ringing.Store(true)
				d.log.Info("destination ringing", "to", recipient.User)
			}
			return nil
		},
	}

	d.log.Info("placing outbound call", "to", recipient.User, "host", recipient.Host)
	dialog, err := d.dg.Invite(ctx, recipient, opts)
	if err != nil {
		status := int(lastStatus.Load())
		if ctx.Err() == context.DeadlineExceeded {
			// Nobody answered inside the window.
			status = 408
		}
		outcome, hint := Classify(status, err.Error())
		d.log.Warn("outbound call failed",
			"to", recipient.User, "status", status, "outcome", outcome, "error", err)
		return &Result{Outcome: outcome, IsRinging: ringing.Load(), Hint: hint}, nil
	}

	wrapped := wrapClientDialog(dialog, req.To)

	// Independent hangup observer: if the remote party drops right after
	// answering, the media session must not leak while the turn engine is
	// still spinning up.
	go func() {
		<-wrapped.Done()
		dialog.Close()
	}()

	d.log.Info("outbound call answered", "to", recipient.User, "call_id", wrapped.ID())
	return &Result{Outcome: types.OutcomeAnswered, Dialog: wrapped, IsRinging: ringing.Load()}, nil
}

// destinationURI builds the request URI. A literal + is never forwarded;
// carriers reject it inside the user part.
func (d *Dialer) destinationURI(to string) sip.Uri {
	number := strings.TrimPrefix(strings.TrimSpace(to), "+")
	if d.cfg.DialPrefix != "" {
		number = d.cfg.DialPrefix + number
	}
	port := d.cfg.OutboundPort
	if port == 0 {
		port = 5060
	}
	return sip.Uri{User: number, Host: d.cfg.OutboundHost, Port: port}
}

func (d *Dialer) credentials(device *types.DeviceConfig) (string, string) {
	if device != nil && device.SIPUser != "" {
		return device.SIPUser, device.SIPPassword
	}
	return d.cfg.DefaultUser, d.cfg.DefaultPass
}

func (d *Dialer) identityHeaders(req Request) []sip.Header {
	var hdrs []sip.Header
	device := req.Device
	if device == nil {
		return hdrs
	}

	identity := fmt.Sprintf("<sip:%s@%s>", device.Extension, d.cfg.OutboundHost)
	if device.Name != "" {
		identity = fmt.Sprintf("%q %s", device.Name, identity)
	}
	hdrs = append(hdrs, sip.NewHeader("P-Asserted-Identity", identity))
	if req.CallerID != "" {
		hdrs = append(hdrs, sip.NewHeader("X-Caller-ID", req.CallerID))
	}
	return hdrs
}
