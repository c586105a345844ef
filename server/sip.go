package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/emiago/diago"
	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/voxbridge/phone-agent/config"
	"github.com/voxbridge/phone-agent/types"
)

// NewDiago builds the SIP user agent and transport from config. The same
// instance serves inbound calls and places outbound ones.
func NewDiago(cfg *config.Config) (*diago.Diago, error) {
	transport := diago.Transport{
		Transport: cfg.SIPProtocol,
		BindHost:  cfg.SIPListenAddress,
		BindPort:  cfg.SIPPort,
	}

	ua, err := sipgo.NewUA()
	if err != nil {
		return nil, fmt.Errorf("creating SIP user agent: %w", err)
	}

	return diago.NewDiago(ua, diago.WithTransport(transport)), nil
}

// Serve answers inbound calls until ctx is cancelled. Each call gets its
// own goroutine from the diago serve loop.
func (c *Controller) Serve(ctx context.Context, dg *diago.Diago) error {
	c.log.Info("SIP server listening",
		"protocol", c.cfg.SIPProtocol, "addr", c.cfg.SIPListenAddress, "port", c.cfg.SIPPort)

	return dg.Serve(ctx, func(inDialog *diago.DialogServerSession) {
		c.handleInbound(ctx, inDialog)
	})
}

func (c *Controller) handleInbound(ctx context.Context, inDialog *diago.DialogServerSession) {
	callerID := extractCallerPhone(inDialog.InviteRequest.Headers())
	dialed := dialedExtension(inDialog.InviteRequest)

	device, ok := c.devices.Get(dialed)
	if !ok {
		device = c.devices.GetDefault()
	}
	c.log.Info("inbound call", "caller", callerID, "dialed", dialed, "device", device.Name)

	// The media plane negotiates audio only; a video section left in the
	// offer makes it reject the whole call.
	if body := inDialog.InviteRequest.Body(); len(body) > 0 {
		inDialog.InviteRequest.SetBody(stripVideoSections(body))
	}

	if err := inDialog.Trying(); err != nil {
		c.log.Warn("sending 100 failed", "error", err)
		return
	}
	if err := inDialog.Answer(); err != nil {
		c.log.Error("answering call failed", "caller", callerID, "error", err)
		return
	}

	dialog := wrapServerDialog(inDialog, callerID)
	opening := fmt.Sprintf("Hello! This is %s. How can I help you?", deviceLabel(device))
	c.RunSession(ctx, dialog, types.DirectionInbound, callerID, device, opening)
}

// extractCallerPhone pulls the user part out of the From header.
func extractCallerPhone(headers []sip.Header) string {
	for _, header := range headers {
		if header.Name() != "From" {
			continue
		}
		from := header.Value()
		if i := strings.Index(from, "sip:"); i >= 0 {
			rest := from[i+len("sip:"):]
			if j := strings.IndexAny(rest, "@>;"); j >= 0 {
				rest = rest[:j]
			}
			if rest != "" {
				return rest
			}
		}
	}
	return "unknown"
}

func dialedExtension(req *sip.Request) string {
	if to := req.To(); to != nil {
		return to.Address.User
	}
	return ""
}
