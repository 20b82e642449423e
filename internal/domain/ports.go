package domain

import "context"

// Launcher queues launch requests on the platform.
type Launcher interface {
	// RequestLaunch submits a launch request for model. The returned channel
	// delivers status updates and is closed after a terminal status or when
	// ctx is done.
	RequestLaunch(ctx context.Context, model ModelDefinition, opts LaunchOptions) (<-chan LaunchStatusEvent, error)
}

// StreamOpener opens the media transport for a serviced launch request.
// An empty requestID joins the agent's local session.
type StreamOpener interface {
	OpenStream(ctx context.Context, requestID string, opts StreamOptions) (Stream, error)
}

// Disconnecter tears down the platform agent connection.
type Disconnecter interface {
	Disconnect()
}

// AudioArmer prepares audio playback. It must be called from the user's
// play action.
type AudioArmer interface {
	Arm() error
}

// Stream is an open transport to a worker.
type Stream interface {
	// Status delivers transport status transitions and is closed on Close.
	Status() <-chan StreamerStatus
	Input() InputEmitter
	Messages() MessageChannel
	Close()
}

// InputEmitter forwards user input to the remote application.
type InputEmitter interface {
	Emit(ev InputEvent) error
}

// MessageChannel carries application messages from the remote side.
type MessageChannel interface {
	// Subscribe registers fn for every message until unsubscribe is called.
	Subscribe(fn func(msg string)) (unsubscribe func())
}

// Signaler manages the agent websocket used for stream negotiation.
type Signaler interface {
	SetHandler(h Handler)
	JoinStream(requestID string)
	SendSDPOffer(sdp string)
	SendICECandidate(sdpMid string, sdpMLineIndex int, candidate string)
	LeaveStream()
}

// Handler receives signaling events for a stream.
type Handler interface {
	OnPeerIn()
	OnPeerOut()
	OnWithdrawn(reason string)
	OnMessage(msg string)
	OnSDPAnswer(sdp SDPPayload)
	OnRemoteICECandidate(candidate ICECandidatePayload)
}

// Peer manages the WebRTC peer connection.
type Peer interface {
	InputEmitter
	AddTransceivers() error
	SetOnICECandidate(send func(sdpMid string, sdpMLineIndex int, candidate string))
	SetOnStatus(fn func(status StreamerStatus))
	CreateOffer() (string, error)
	SetRemoteDescription(sdp SDPPayload) error
	AddRemoteICECandidate(candidate ICECandidatePayload) error
	Close()
}

// SessionClient is the platform session: anonymous authentication, the
// agent connection and the project's model list.
type SessionClient interface {
	Launcher
	Disconnecter
	Authenticate(ctx context.Context, projectID, environmentID string) (Credentials, error)
	Connect(ctx context.Context) (AgentInfo, error)
	ListModels(ctx context.Context) ([]ModelDefinition, error)
}
