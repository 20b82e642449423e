package config

import (
	"net/url"
	"strings"
)

// DefaultEndpoint is used when neither the query nor the static config name one.
const DefaultEndpoint = "https://api.pureweb.io"

// Launch types.
const (
	LaunchTypeQueued = "queued"
	LaunchTypeLocal  = "local"
)

// ClientOptions is the resolved client configuration. It is built once at
// startup and passed by value; nothing mutates it afterwards.
type ClientOptions struct {
	LaunchType string

	ProjectID     string
	ModelID       string
	Version       string
	EnvironmentID string
	Endpoint      string

	ForceRelay           bool
	UseNativeTouchEvents bool
	UsePointerLock       bool
	PointerLockRelease   bool

	RegionOverride                 string
	VirtualizationProviderOverride string

	Title       string
	Description string
}

// IsValid reports whether the options name both a project and a model.
func (o ClientOptions) IsValid() bool {
	return o.ProjectID != "" && o.ModelID != ""
}

// IsLocal reports whether the client joins a local session instead of
// queueing a launch request.
func (o ClientOptions) IsLocal() bool { return o.LaunchType == LaunchTypeLocal }

// Resolve merges query parameters over the static config. A non-empty query
// parameter wins, then the static value, then the hard default.
func Resolve(query url.Values, static StaticConfig) ClientOptions {
	opts := ClientOptions{
		LaunchType:    pick(query, "launchType", static.LaunchType),
		Endpoint:      pick(query, "endpoint", static.Endpoint),
		ProjectID:     pick(query, "projectId", static.ProjectID),
		ModelID:       pick(query, "modelId", static.ModelID),
		Version:       pick(query, "version", static.Version),
		EnvironmentID: pick(query, "environmentId", static.EnvironmentID),

		UsePointerLock:       flag(query, "usePointerLock", static.UsePointerLock, true),
		PointerLockRelease:   flag(query, "pointerLockRelease", static.PointerLockRelease, true),
		UseNativeTouchEvents: flag(query, "useNativeTouchEvents", static.UseNativeTouchEvents, false),
		ForceRelay:           query.Has("forceRelay"),

		RegionOverride:                 query.Get("regionOverride"),
		VirtualizationProviderOverride: query.Get("virtualizationProviderOverride"),

		Title:       static.Title,
		Description: static.Description,
	}
	if query.Get("collaboration") == "true" {
		opts.LaunchType = LaunchTypeLocal
	}
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	return opts
}

func pick(query url.Values, key, fallback string) string {
	if v := query.Get(key); v != "" {
		return v
	}
	return fallback
}

// flag resolves a tri-state boolean: an absent query key defers to the static
// value, a present one is true only for "true".
func flag(query url.Values, key string, static *bool, def bool) bool {
	if query.Has(key) {
		return query.Get(key) == "true"
	}
	if static != nil {
		return *static
	}
	return def
}

// ParseQuery accepts a full launch URL or a bare query string with or
// without the leading '?'.
func ParseQuery(raw string) (url.Values, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return url.Values{}, nil
	}
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, err
		}
		return u.Query(), nil
	}
	return url.ParseQuery(strings.TrimPrefix(raw, "?"))
}
