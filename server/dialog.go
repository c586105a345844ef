package server

import (
	"context"
	"io"

	"github.com/emiago/diago"
	"github.com/google/uuid"

	"github.com/voxbridge/phone-agent/types"
)

// serverDialog adapts an answered diago inbound dialog to the narrow
// Dialog interface the orchestration core works against.
type serverDialog struct {
	id     string
	remote string
	sess   *diago.DialogServerSession
}

func wrapServerDialog(sess *diago.DialogServerSession, remote string) types.Dialog {
	return &serverDialog{
		id:     uuid.NewString(),
		remote: remote,
		sess:   sess,
	}
}

func (s *serverDialog) ID() string          { return s.id }
func (s *serverDialog) RemoteParty() string { return s.remote }

func (s *serverDialog) Play(ctx context.Context, audio io.Reader, contentType string) error {
	pb, err := s.sess.PlaybackCreate()
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		_, err := pb.Play(audio, contentType)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *serverDialog) AudioReader() (io.Reader, error) {
	r, err := s.sess.AudioReader()
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *serverDialog) Hangup(ctx context.Context) error {
	return s.sess.Hangup(ctx)
}

func (s *serverDialog) Done() <-chan struct{} {
	return s.sess.Context().Done()
}

func (s *serverDialog) Close() error {
	return s.sess.Close()
}
