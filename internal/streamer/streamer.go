package streamer

import (
	"sync"

	"streamlaunch/native/internal/domain"
	"streamlaunch/native/internal/logger"
)

// statusBuffer bounds queued status transitions. When the reader falls
// behind, the oldest transition is dropped.
const statusBuffer = 16

var (
	_ domain.Handler = (*Streamer)(nil)
	_ domain.Stream  = (*Streamer)(nil)
)

// Streamer coordinates the signaling and WebRTC flows of one stream.
// It implements domain.Handler and domain.Stream.
type Streamer struct {
	peer     domain.Peer
	signal   domain.Signaler
	log      *logger.Logger
	messages *Messages

	mu        sync.Mutex
	status    chan domain.StreamerStatus
	connected bool
	closed    bool
}

// New creates a Streamer over peer and signal. Call Start to join.
func New(peer domain.Peer, signal domain.Signaler, log *logger.Logger) *Streamer {
	if log == nil {
		log = logger.Nop()
	}
	return &Streamer{
		peer:     peer,
		signal:   signal,
		log:      log.Component("streamer"),
		messages: &Messages{},
		status:   make(chan domain.StreamerStatus, statusBuffer),
	}
}

// Start wires the peer to the signaler and joins the stream for requestID.
func (s *Streamer) Start(requestID string) error {
	s.peer.SetOnStatus(s.emit)
	s.peer.SetOnICECandidate(s.signal.SendICECandidate)
	if err := s.peer.AddTransceivers(); err != nil {
		return err
	}
	s.signal.SetHandler(s)
	s.log.Info().Str("request", requestID).Msg("joining stream")
	s.signal.JoinStream(requestID)
	return nil
}

// Status implements domain.Stream.
func (s *Streamer) Status() <-chan domain.StreamerStatus { return s.status }

// Input implements domain.Stream.
func (s *Streamer) Input() domain.InputEmitter { return s.peer }

// Messages implements domain.Stream.
func (s *Streamer) Messages() domain.MessageChannel { return s.messages }

// Close leaves the stream, closes the peer and the status channel.
func (s *Streamer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.status)
	s.mu.Unlock()

	s.signal.LeaveStream()
	s.peer.Close()
}

// emit queues status without blocking; the caller may be the signal read loop.
func (s *Streamer) emit(status domain.StreamerStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if status == domain.StreamerConnected {
		s.connected = true
	}
	for {
		select {
		case s.status <- status:
			return
		default:
		}
		select {
		case dropped := <-s.status:
			s.log.Warn().Str("status", dropped.String()).Msg("status reader behind, dropping")
		default:
		}
	}
}

func (s *Streamer) OnPeerIn() {
	s.log.Info().Msg("worker peer in, creating offer")

	sdp, err := s.peer.CreateOffer()
	if err != nil {
		s.log.Error().Err(err).Msg("create offer")
		s.emit(domain.StreamerFailed)
		return
	}
	s.signal.SendSDPOffer(sdp)
}

func (s *Streamer) OnPeerOut() {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()

	if connected {
		s.log.Info().Msg("worker peer out, stream completed")
		s.emit(domain.StreamerCompleted)
		return
	}
	s.log.Info().Msg("worker peer out before connecting")
	s.emit(domain.StreamerDisconnected)
}

func (s *Streamer) OnWithdrawn(reason string) {
	s.log.Warn().Str("reason", reason).Msg("stream withdrawn")
	s.emit(domain.StreamerWithdrawn)
}

func (s *Streamer) OnMessage(msg string) {
	s.log.Info().Str("msg", msg).Msg("message")
	s.messages.Publish(msg)
}

func (s *Streamer) OnSDPAnswer(sdp domain.SDPPayload) {
	if err := s.peer.SetRemoteDescription(sdp); err != nil {
		s.log.Error().Err(err).Msg("set remote description")
		s.emit(domain.StreamerFailed)
	}
}

func (s *Streamer) OnRemoteICECandidate(candidate domain.ICECandidatePayload) {
	go func() {
		if err := s.peer.AddRemoteICECandidate(candidate); err != nil {
			s.log.Warn().Err(err).Msg("add remote ICE candidate")
		}
	}()
}
