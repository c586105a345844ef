package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxbridge/phone-agent/types"
)

// ForkPump duplicates a dialog's live audio to the capture endpoint
// without touching the primary call path. One pump per call.
type ForkPump struct {
	log    *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// StartForkPump dials the capture endpoint for callID and streams the
// dialog's audio to it until stopped or the stream ends.
func StartForkPump(ctx context.Context, log *slog.Logger, d types.Dialog, target, callID string) (*ForkPump, error) {
	if log == nil {
		log = slog.Default()
	}

	reader, err := d.AudioReader()
	if err != nil {
		return nil, fmt.Errorf("audio reader for call %s: %w", callID, err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, target+"?call="+callID, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing capture endpoint: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	p := &ForkPump{
		log:    log,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(p.done)
		defer conn.Close()

		buf := make([]byte, 1024)
		for {
			select {
			case <-pumpCtx.Done():
				return
			default:
			}

			n, err := reader.Read(buf)
			if err != nil {
				if err != io.EOF && pumpCtx.Err() == nil {
					log.Debug("fork pump read ended", "call_id", callID, "error", err)
				}
				return
			}
			if n == 0 {
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); err != nil {
				if pumpCtx.Err() == nil {
					log.Debug("fork pump write failed", "call_id", callID, "error", err)
				}
				return
			}
		}
	}()

	log.Info("audio fork started", "call_id", callID, "target", target)
	return p, nil
}

// Stop tears the fork down. Safe to call more than once.
func (p *ForkPump) Stop() {
	p.cancel()
	<-p.done
}
