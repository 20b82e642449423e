package webrtc

import (
	"fmt"
	"io"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// annexBWriter writes NAL units as an H264 Annex-B byte stream.
type annexBWriter struct {
	w io.Writer
}

func (a *annexBWriter) WriteNALUs(nalus [][]byte) error {
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		if _, err := a.w.Write(startCode); err != nil {
			return err
		}
		if _, err := a.w.Write(nalu); err != nil {
			return err
		}
	}
	return nil
}

// AudioSink writes the received Opus track into an Ogg file. Nothing is
// written until the sink is armed by the user's play action.
type AudioSink struct {
	path string

	mu    sync.Mutex
	armed bool
	ogg   *oggwriter.OggWriter
}

// NewAudioSink creates a sink writing to path. An empty path discards audio.
func NewAudioSink(path string) *AudioSink {
	return &AudioSink{path: path}
}

// Arm opens the output. Arming twice is a no-op.
func (s *AudioSink) Arm() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.armed {
		return nil
	}
	s.armed = true
	if s.path == "" {
		return nil
	}
	ogg, err := oggwriter.New(s.path, 48000, 2)
	if err != nil {
		return fmt.Errorf("open audio output: %w", err)
	}
	s.ogg = ogg
	return nil
}

// Armed reports whether Arm was called.
func (s *AudioSink) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// WriteRTP writes one Opus RTP packet. Packets before Arm are dropped.
func (s *AudioSink) WriteRTP(pkt *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ogg == nil {
		return nil
	}
	return s.ogg.WriteRTP(pkt)
}

// Close finalizes the Ogg stream.
func (s *AudioSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ogg == nil {
		return nil
	}
	err := s.ogg.Close()
	s.ogg = nil
	return err
}
