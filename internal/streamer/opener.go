package streamer

import (
	"context"
	"fmt"

	"streamlaunch/native/internal/domain"
	"streamlaunch/native/internal/logger"
)

// Opener implements domain.StreamOpener on top of a peer factory and the
// agent's signaling connection.
type Opener struct {
	// NewPeer builds a transport peer for opts.
	NewPeer func(opts domain.StreamOptions) (domain.Peer, error)
	// Signaler returns the connected agent signaler.
	Signaler func() (domain.Signaler, error)
	Log      *logger.Logger
}

// OpenStream creates a peer, attaches a Streamer to the signaler and joins
// the stream for requestID.
func (o *Opener) OpenStream(ctx context.Context, requestID string, opts domain.StreamOptions) (domain.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sig, err := o.Signaler()
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	peer, err := o.NewPeer(opts)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}

	s := New(peer, sig, o.Log)
	if err := s.Start(requestID); err != nil {
		s.Close()
		return nil, fmt.Errorf("start stream: %w", err)
	}
	return s, nil
}
