package domain

import "time"

// Credentials are the anonymous project credentials issued by the platform.
type Credentials struct {
	AccessToken string
	ExpiresAt   time.Time
}

// AgentInfo describes the connected platform agent and the ICE configuration
// the streaming transport must use.
type AgentInfo struct {
	ID           string      `json:"id"`
	SignalServer string      `json:"signalServer"`
	ICEServers   []ICEServer `json:"iceServers"`
}

// ICEServer holds STUN/TURN server configuration.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}
