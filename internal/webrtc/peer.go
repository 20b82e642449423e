package webrtc

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"streamlaunch/native/internal/domain"
	"streamlaunch/native/internal/logger"
)

// InputChannelLabel names the data channel carrying input events.
const InputChannelLabel = "input"

// Config describes one peer connection.
type Config struct {
	ICEServers []domain.ICEServer
	ForceRelay bool

	// Video receives the H264 track as an Annex-B byte stream.
	Video io.Writer
	// Audio receives the Opus track once armed.
	Audio *AudioSink

	Log          *logger.Logger
	PionLogLevel zerolog.Level
}

// Peer wraps a Pion PeerConnection and its input DataChannel.
type Peer struct {
	pc  *pion.PeerConnection
	dc  *pion.DataChannel
	log *logger.Logger

	video io.Writer
	audio *AudioSink

	mu            sync.Mutex
	onStatus      func(domain.StreamerStatus)
	remoteDescSet chan struct{}
	remoteOnce    sync.Once
}

// NewMediaEngine registers the codecs the client can receive.
func NewMediaEngine() (*pion.MediaEngine, error) {
	m := &pion.MediaEngine{}
	feedback := []pion.RTCPFeedback{{Type: "nack"}, {Type: "nack", Parameter: "pli"}}

	h264Codec := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:     pion.MimeTypeH264,
			ClockRate:    90000,
			SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			RTCPFeedback: feedback,
		},
		PayloadType: 102,
	}
	if err := m.RegisterCodec(h264Codec, pion.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register H264: %w", err)
	}

	opusCodec := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:    pion.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}
	if err := m.RegisterCodec(opusCodec, pion.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register Opus: %w", err)
	}
	return m, nil
}

// NewPeer creates a PeerConnection for cfg with NACK handling and the input
// DataChannel.
func NewPeer(cfg Config) (*Peer, error) {
	if cfg.Log == nil {
		cfg.Log = logger.Nop()
	}
	if cfg.Video == nil {
		cfg.Video = io.Discard
	}
	if cfg.Audio == nil {
		cfg.Audio = NewAudioSink("")
	}
	log := cfg.Log.Component("webrtc")

	m, err := NewMediaEngine()
	if err != nil {
		return nil, err
	}

	i := &interceptor.Registry{}
	generatorFactory, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack generator: %w", err)
	}
	i.Add(generatorFactory)
	responderFactory, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	i.Add(responderFactory)

	settings := pion.SettingEngine{LoggerFactory: logger.NewPionLogger(cfg.Log, cfg.PionLogLevel)}

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
		pion.WithSettingEngine(settings),
	)

	pc, err := api.NewPeerConnection(PeerConfiguration(cfg.ICEServers, cfg.ForceRelay))
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	dc, err := pc.CreateDataChannel(InputChannelLabel, nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}

	p := &Peer{
		pc:            pc,
		dc:            dc,
		log:           log,
		video:         cfg.Video,
		audio:         cfg.Audio,
		remoteDescSet: make(chan struct{}),
	}

	dc.OnOpen(func() { log.Debug().Msg("input channel opened") })
	dc.OnClose(func() { log.Debug().Msg("input channel closed") })

	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		log.Debug().Str("state", state.String()).Msg("ICE connection state")
	})
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		log.Info().Str("state", state.String()).Msg("peer connection state")
		status, ok := StatusFor(state)
		if !ok {
			return
		}
		p.mu.Lock()
		fn := p.onStatus
		p.mu.Unlock()
		if fn != nil {
			fn(status)
		}
	})
	pc.OnTrack(p.onTrack)

	return p, nil
}

// PeerConfiguration converts the platform ICE servers. Forcing relay
// restricts ICE to TURN candidates.
func PeerConfiguration(iceServers []domain.ICEServer, forceRelay bool) pion.Configuration {
	var servers []pion.ICEServer
	for _, s := range iceServers {
		servers = append(servers, pion.ICEServer{
			URLs:       append([]string(nil), s.URLs...),
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	conf := pion.Configuration{
		ICEServers:   servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	}
	if forceRelay {
		conf.ICETransportPolicy = pion.ICETransportPolicyRelay
	}
	return conf
}

// StatusFor maps a peer connection state onto a streamer status. A
// disconnected peer may still recover, so it reports Connecting.
func StatusFor(state pion.PeerConnectionState) (domain.StreamerStatus, bool) {
	switch state {
	case pion.PeerConnectionStateConnecting:
		return domain.StreamerConnecting, true
	case pion.PeerConnectionStateConnected:
		return domain.StreamerConnected, true
	case pion.PeerConnectionStateDisconnected:
		return domain.StreamerConnecting, true
	case pion.PeerConnectionStateFailed:
		return domain.StreamerFailed, true
	case pion.PeerConnectionStateClosed:
		return domain.StreamerCompleted, true
	default:
		return domain.StreamerNew, false
	}
}

// SetOnStatus registers the streamer status callback.
func (p *Peer) SetOnStatus(fn func(domain.StreamerStatus)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onStatus = fn
}

// AddTransceivers adds receive-only video and audio transceivers.
func (p *Peer) AddTransceivers() error {
	_, err := p.pc.AddTransceiverFromKind(pion.RTPCodecTypeVideo, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionRecvonly,
	})
	if err != nil {
		return fmt.Errorf("add video transceiver: %w", err)
	}

	_, err = p.pc.AddTransceiverFromKind(pion.RTPCodecTypeAudio, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionRecvonly,
	})
	if err != nil {
		return fmt.Errorf("add audio transceiver: %w", err)
	}

	return nil
}

func (p *Peer) onTrack(track *pion.TrackRemote, _ *pion.RTPReceiver) {
	codec := track.Codec()
	p.log.Info().
		Str("kind", track.Kind().String()).
		Str("codec", codec.MimeType).
		Uint8("pt", uint8(codec.PayloadType)).
		Msg("got track")

	if track.Kind() == pion.RTPCodecTypeVideo {
		go p.readVideoTrack(track)
	} else {
		go p.readAudioTrack(track)
	}
}

func (p *Peer) readVideoTrack(track *pion.TrackRemote) {
	depack := NewH264Depacketizer()
	out := &annexBWriter{w: p.video}

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			p.log.Debug().Err(err).Msg("video track ended")
			return
		}
		if err := out.WriteNALUs(depack.Depacketize(pkt.SequenceNumber, pkt.Payload)); err != nil {
			p.log.Warn().Err(err).Msg("write video")
			return
		}
	}
}

func (p *Peer) readAudioTrack(track *pion.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			p.log.Debug().Err(err).Msg("audio track ended")
			return
		}
		if err := p.audio.WriteRTP(pkt); err != nil {
			p.log.Warn().Err(err).Msg("write audio")
		}
	}
}

// SetOnICECandidate registers the callback for locally discovered ICE candidates.
func (p *Peer) SetOnICECandidate(send func(sdpMid string, sdpMLineIndex int, candidate string)) {
	p.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			p.log.Debug().Msg("ICE gathering complete")
			return
		}

		init := c.ToJSON()
		if isLoopback(init.Candidate) {
			return
		}

		sdpMid := ""
		if init.SDPMid != nil {
			sdpMid = *init.SDPMid
		}
		sdpMLineIndex := 0
		if init.SDPMLineIndex != nil {
			sdpMLineIndex = int(*init.SDPMLineIndex)
		}

		p.log.Debug().Str("candidate", init.Candidate).Msg("local ICE candidate")
		send(sdpMid, sdpMLineIndex, init.Candidate)
	})
}

// CreateOffer creates an SDP offer and sets it as the local description.
func (p *Peer) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}

	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	return offer.SDP, nil
}

// SetRemoteDescription sets the SDP answer and unblocks remote ICE candidate addition.
func (p *Peer) SetRemoteDescription(sdp domain.SDPPayload) error {
	answer := pion.SessionDescription{
		Type: pion.SDPTypeAnswer,
		SDP:  sdp.SDP,
	}

	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	p.remoteOnce.Do(func() { close(p.remoteDescSet) })
	return nil
}

// AddRemoteICECandidate waits for the remote description to be set, then adds the candidate.
func (p *Peer) AddRemoteICECandidate(candidate domain.ICECandidatePayload) error {
	<-p.remoteDescSet

	sdpMLineIndex := uint16(candidate.SDPMLineIndex)
	init := pion.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        &candidate.SDPMid,
		SDPMLineIndex: &sdpMLineIndex,
	}

	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// Emit sends an input event over the input DataChannel.
func (p *Peer) Emit(ev domain.InputEvent) error {
	if p.dc.ReadyState() != pion.DataChannelStateOpen {
		return fmt.Errorf("input channel %s: %w", p.dc.ReadyState(), domain.ErrNotConnected)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.dc.SendText(string(data))
}

// Close shuts down the DataChannel and PeerConnection. Pending remote
// candidates are released.
func (p *Peer) Close() {
	p.remoteOnce.Do(func() { close(p.remoteDescSet) })
	if p.dc != nil {
		p.dc.Close()
	}
	if p.pc != nil {
		p.pc.Close()
	}
}

func isLoopback(candidate string) bool {
	return strings.Contains(candidate, "127.0.0.1") || strings.Contains(candidate, "::1 ")
}
