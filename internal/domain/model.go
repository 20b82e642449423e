package domain

// ModelDefinition is one launchable application version of a project.
type ModelDefinition struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	// Active marks the primary version of the model.
	Active bool `json:"active"`
}

// LaunchOptions are per-request overrides for the launch queue.
type LaunchOptions struct {
	RegionOverride   string
	ProviderOverride string
}

// LaunchStatus is the state of a launch request in the platform queue.
type LaunchStatus int

const (
	LaunchNotStarted LaunchStatus = iota
	LaunchQueued
	LaunchReady
	LaunchUnavailable
	LaunchError
)

func (s LaunchStatus) String() string {
	switch s {
	case LaunchNotStarted:
		return "not_started"
	case LaunchQueued:
		return "queued"
	case LaunchReady:
		return "ready"
	case LaunchUnavailable:
		return "unavailable"
	case LaunchError:
		return "error"
	default:
		return "unknown"
	}
}

// Failed reports whether the queue gave up on the request.
func (s LaunchStatus) Failed() bool { return s == LaunchError || s == LaunchUnavailable }

// Terminal reports whether no further status follows s.
func (s LaunchStatus) Terminal() bool { return s == LaunchReady || s.Failed() }

// ParseLaunchStatus maps the platform wire value onto a LaunchStatus.
// Unknown values are treated as still queued.
func ParseLaunchStatus(v string) LaunchStatus {
	switch v {
	case "", "accepted", "requested", "queued", "pending":
		return LaunchQueued
	case "ready", "serviced":
		return LaunchReady
	case "unavailable":
		return LaunchUnavailable
	case "error", "cancelled", "canceled":
		return LaunchError
	default:
		return LaunchQueued
	}
}

// LaunchStatusEvent is one update of a launch request.
type LaunchStatusEvent struct {
	RequestID string
	Status    LaunchStatus
	Message   string
}
