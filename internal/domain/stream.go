package domain

// StreamerStatus is the state of the media transport to a worker.
type StreamerStatus int

const (
	// StreamerNew means no stream has been opened yet.
	StreamerNew StreamerStatus = iota
	StreamerDisconnected
	StreamerConnecting
	StreamerConnected
	StreamerCompleted
	StreamerFailed
	StreamerWithdrawn
	StreamerNotSupported
)

func (s StreamerStatus) String() string {
	switch s {
	case StreamerNew:
		return "new"
	case StreamerDisconnected:
		return "disconnected"
	case StreamerConnecting:
		return "connecting"
	case StreamerConnected:
		return "connected"
	case StreamerCompleted:
		return "completed"
	case StreamerFailed:
		return "failed"
	case StreamerWithdrawn:
		return "withdrawn"
	case StreamerNotSupported:
		return "not_supported"
	default:
		return "unknown"
	}
}

// Live reports whether media is flowing.
func (s StreamerStatus) Live() bool { return s == StreamerConnected || s == StreamerCompleted }

// StreamOptions configure the transport for one stream.
type StreamOptions struct {
	ForceRelay bool
	ICEServers []ICEServer
}

// InputEvent is a user input forwarded to the remote application.
type InputEvent struct {
	Type string `json:"type"`
	Key  string `json:"key,omitempty"`
	// Pointer flags mirror the client options so the remote side can
	// apply the same capture behavior.
	PointerLock bool `json:"pointerLock,omitempty"`
	NativeTouch bool `json:"nativeTouch,omitempty"`
}

// Input event types.
const (
	InputKeyDown = "keydown"
	InputKeyUp   = "keyup"
)
