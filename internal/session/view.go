// Package session decides which view a client shows and when it begins
// streaming, from configuration, model selection and platform status events.
package session

import (
	"streamlaunch/native/internal/config"
	"streamlaunch/native/internal/domain"
	"streamlaunch/native/internal/models"
)

// ViewState is the screen the client renders.
type ViewState int

const (
	ViewLaunchPrompt ViewState = iota
	ViewConfigError
	ViewModelUnavailable
	ViewLaunchError
	ViewDisconnected
	ViewFailed
	ViewWithdrawn
	ViewInitializing
	ViewNoModelsAvailable
	ViewEmbedded
)

func (v ViewState) String() string {
	switch v {
	case ViewLaunchPrompt:
		return "launch_prompt"
	case ViewConfigError:
		return "config_error"
	case ViewModelUnavailable:
		return "model_unavailable"
	case ViewLaunchError:
		return "launch_error"
	case ViewDisconnected:
		return "disconnected"
	case ViewFailed:
		return "failed"
	case ViewWithdrawn:
		return "withdrawn"
	case ViewInitializing:
		return "initializing"
	case ViewNoModelsAvailable:
		return "no_models_available"
	case ViewEmbedded:
		return "embedded"
	default:
		return "unknown"
	}
}

// Terminal reports whether the view ends the session.
func (v ViewState) Terminal() bool {
	switch v {
	case ViewConfigError, ViewModelUnavailable, ViewLaunchError, ViewDisconnected, ViewFailed, ViewWithdrawn:
		return true
	}
	return false
}

// Inputs is everything a view is computed from.
type Inputs struct {
	Options config.ClientOptions
	Models  models.Selection

	// Played is the play latch: set by the user's launch action, never reset.
	Played bool

	// AgentReady is set once the platform agent is connected.
	AgentReady bool

	// LaunchErr is the captured rejection of the queueing call.
	LaunchErr       error
	LaunchStatus    domain.LaunchStatus
	LaunchRequestID string

	Streamer domain.StreamerStatus
}

// Evaluate computes the view for in. The first matching rule wins.
//
// A transport failure outranks a launch queue failure: once a stream has
// failed the user sees the failure view, whatever the queue reported last.
// The queue failure in turn outranks a plain disconnect.
func Evaluate(in Inputs) ViewState {
	switch {
	case !in.Options.IsValid():
		return ViewConfigError
	case in.Models.Outcome() == models.Unavailable:
		return ViewModelUnavailable
	case in.LaunchErr != nil:
		return ViewLaunchError
	case in.Streamer == domain.StreamerFailed:
		return ViewFailed
	case in.LaunchStatus.Failed():
		return ViewLaunchError
	case in.Streamer == domain.StreamerDisconnected:
		return ViewDisconnected
	case in.Streamer == domain.StreamerWithdrawn:
		return ViewWithdrawn
	}

	if in.Played {
		return ViewEmbedded
	}
	if in.Options.IsLocal() && !in.AgentReady {
		return ViewInitializing
	}
	if !in.Options.IsLocal() {
		if !in.Models.Loaded() {
			return ViewInitializing
		}
		if in.Models.Count() == 0 {
			return ViewNoModelsAvailable
		}
	}
	return ViewLaunchPrompt
}

// Overlay is the loading layer drawn over the embedded stream.
type Overlay int

const (
	OverlayLoading Overlay = iota
	OverlayHidden
	OverlayNotSupported
	OverlayUnavailable
)

func (o Overlay) String() string {
	switch o {
	case OverlayLoading:
		return "loading"
	case OverlayHidden:
		return "hidden"
	case OverlayNotSupported:
		return "not_supported"
	case OverlayUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// OverlayFor computes the overlay shown inside ViewEmbedded. It is hidden
// once media flows.
//
// OverlayFor does not consult Evaluate, so it also answers for inputs that
// Evaluate routes to ViewLaunchError or ViewFailed. Those inputs yield
// OverlayUnavailable, which therefore never appears inside ViewEmbedded.
func OverlayFor(in Inputs) Overlay {
	switch {
	case in.Streamer.Live():
		return OverlayHidden
	case in.Streamer == domain.StreamerNotSupported:
		return OverlayNotSupported
	case in.LaunchStatus.Failed(), in.Streamer == domain.StreamerFailed:
		return OverlayUnavailable
	default:
		return OverlayLoading
	}
}
