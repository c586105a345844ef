package dialer

import (
	"context"
	"io"

	"github.com/emiago/diago"
	"github.com/google/uuid"

	"github.com/voxbridge/phone-agent/types"
)

// clientDialog adapts an answered diago outbound dialog to the narrow
// Dialog interface the orchestration core works against.
type clientDialog struct {
	id     string
	remote string
	sess   *diago.DialogClientSession
}

func wrapClientDialog(sess *diago.DialogClientSession, remote string) types.Dialog {
	return &clientDialog{
		id:     uuid.NewString(),
		remote: remote,
		sess:   sess,
	}
}

func (c *clientDialog) ID() string          { return c.id }
func (c *clientDialog) RemoteParty() string { return c.remote }

func (c *clientDialog) Play(ctx context.Context, audio io.Reader, contentType string) error {
	pb, err := c.sess.PlaybackCreate()
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

func (c *clientDialog) AudioReader() (io.Reader, error) {
	r, err := c.sess.AudioReader()
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (c *clientDialog) Hangup(ctx context.Context) error {
	return c.sess.Hangup(ctx)
}

func (c *clientDialog) Done() <-chan struct{} {
	return c.sess.Context().Done()
}

func (c *clientDialog) Close() error {
	return c.sess.Close()
}
