package audio

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/voxbridge/phone-agent/types"
)

// Player plays sound cues and synthesized speech into a call.
type Player struct {
	log       *slog.Logger
	soundsDir string
	http      *http.Client
}

func NewPlayer(log *slog.Logger, soundsDir string) *Player {
	if log == nil {
		log = slog.Default()
	}
	return &Player{log: log, soundsDir: soundsDir, http: &http.Client{}}
}

// PlayFile plays a wav file from the sounds directory.
func (p *Player) PlayFile(ctx context.Context, d types.Dialog, filename string) error {
	f, err := os.Open(filepath.Join(p.soundsDir, filename))
	if err != nil {
		return fmt.Errorf("opening audio file %s: %w", filename, err)
	}
	defer f.Close()

	return d.Play(ctx, f, "audio/wav")
}

// PlayURL fetches a rendered speech file and plays it. Local paths are
// played directly.
func (p *Player) PlayURL(ctx context.Context, d types.Dialog, urlOrPath string) error {
	if len(urlOrPath) < 4 || urlOrPath[:4] != "http" {
		f, err := os.Open(urlOrPath)
		if err != nil {
			return fmt.Errorf("opening speech file %s: %w", urlOrPath, err)
		}
		defer f.Close()
		return d.Play(ctx, f, "audio/wav")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlOrPath, nil)
	if err != nil {
		return err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetching speech audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching speech audio: status %d", resp.StatusCode)
	}

	return d.Play(ctx, resp.Body, "audio/wav")
}

// PlayFileBackground starts hold audio and returns a stop function.
// Playback failures are logged, never surfaced; hold audio must not be
// able to break a turn.
func (p *Player) PlayFileBackground(ctx context.Context, d types.Dialog, filename string) func() {
	bgCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for bgCtx.Err() == nil {
			if err := p.PlayFile(bgCtx, d, filename); err != nil {
				if bgCtx.Err() == nil {
					p.log.Debug("hold audio failed", "file", filename, "error", err)
				}
				return
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
