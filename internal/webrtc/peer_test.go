package webrtc

import (
	"bytes"
	"testing"

	pion "github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamlaunch/native/internal/domain"
)

func TestPeerConfiguration(t *testing.T) {
	servers := []domain.ICEServer{
		{URLs: []string{"stun:stun.example:3478"}},
		{URLs: []string{"turn:turn.example:3478"}, Username: "u", Credential: "c"},
	}

	conf := PeerConfiguration(servers, false)
	require.Len(t, conf.ICEServers, 2)
	assert.Equal(t, "u", conf.ICEServers[1].Username)
	assert.Equal(t, "c", conf.ICEServers[1].Credential)
	assert.Equal(t, pion.ICETransportPolicy(0), conf.ICETransportPolicy)

	relay := PeerConfiguration(servers, true)
	assert.Equal(t, pion.ICETransportPolicyRelay, relay.ICETransportPolicy)
}

func TestStatusFor(t *testing.T) {
	cases := map[pion.PeerConnectionState]domain.StreamerStatus{
		pion.PeerConnectionStateConnecting:   domain.StreamerConnecting,
		pion.PeerConnectionStateConnected:    domain.StreamerConnected,
		pion.PeerConnectionStateDisconnected: domain.StreamerConnecting,
		pion.PeerConnectionStateFailed:       domain.StreamerFailed,
		pion.PeerConnectionStateClosed:       domain.StreamerCompleted,
	}
	for state, want := range cases {
		got, ok := StatusFor(state)
		assert.True(t, ok, state.String())
		assert.Equal(t, want, got, state.String())
	}

	_, ok := StatusFor(pion.PeerConnectionStateNew)
	assert.False(t, ok)
}

func TestIsLoopback(t *testing.T) {
	assert.True(t, isLoopback("candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host"))
	assert.True(t, isLoopback("candidate:1 1 udp 2130706431 ::1 50000 typ host"))
	assert.False(t, isLoopback("candidate:1 1 udp 2130706431 192.168.1.4 50000 typ host"))
}

func TestPeer_OfferCarriesCodecs(t *testing.T) {
	p, err := NewPeer(Config{Video: &bytes.Buffer{}})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.AddTransceivers())
	sdp, err := p.CreateOffer()
	require.NoError(t, err)

	assert.Contains(t, sdp, "H264/90000")
	assert.Contains(t, sdp, "opus/48000/2")
	assert.Contains(t, sdp, "a=recvonly")
	assert.Contains(t, sdp, "webrtc-datachannel")
}

func TestPeer_EmitBeforeOpen(t *testing.T) {
	p, err := NewPeer(Config{})
	require.NoError(t, err)
	defer p.Close()

	err = p.Emit(domain.InputEvent{Type: domain.InputKeyDown, Key: "a"})
	require.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestPeer_CloseReleasesPendingCandidates(t *testing.T) {
	p, err := NewPeer(Config{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- p.AddRemoteICECandidate(domain.ICECandidatePayload{SDPMid: "0", Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"})
	}()
	p.Close()

	// the candidate is rejected by the closed connection, but the call returns
	<-done
}
