package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"streamlaunch/native/internal/domain"
	"streamlaunch/native/internal/logger"
	"streamlaunch/native/internal/signal"
)

const (
	// DefaultPollInterval is how often a queued launch request is polled.
	DefaultPollInterval = 2 * time.Second
	// maxPollFailures consecutive failed polls turn a request into an error.
	maxPollFailures     = 3
	disconnectTimeout   = 5 * time.Second
)

// APIError is returned for a non-2xx platform response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

type authRequest struct {
	ProjectID     string `json:"projectId"`
	EnvironmentID string `json:"environmentId,omitempty"`
}

type authResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"`
}

type agentResponse struct {
	ID                 string `json:"id"`
	SignalServer       string `json:"signalServer"`
	ServiceCredentials struct {
		ICEServers []domain.ICEServer `json:"iceServers"`
	} `json:"serviceCredentials"`
}

type launchRequest struct {
	ModelID                        string `json:"modelId"`
	Version                        string `json:"version,omitempty"`
	RegionOverride                 string `json:"regionOverride,omitempty"`
	VirtualizationProviderOverride string `json:"virtualizationProviderOverride,omitempty"`
}

type launchResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (r launchResponse) event() domain.LaunchStatusEvent {
	return domain.LaunchStatusEvent{RequestID: r.ID, Status: domain.ParseLaunchStatus(r.Status), Message: r.Message}
}

// Options configure a platform Client.
type Options struct {
	Endpoint     string
	HTTPClient   *http.Client
	PollInterval time.Duration
	Log          *logger.Logger
}

var _ domain.SessionClient = (*Client)(nil)

// Client is the platform session client: it authenticates anonymously,
// connects an agent, lists models and queues launch requests.
type Client struct {
	endpoint     string
	http         *http.Client
	pollInterval time.Duration
	root         *logger.Logger
	log          *logger.Logger

	mu           sync.Mutex
	projectID    string
	creds        domain.Credentials
	agent        domain.AgentInfo
	sig          *signal.Client
	disconnected bool
}

// NewClient creates a platform client.
func NewClient(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	return &Client{
		endpoint:     strings.TrimRight(opts.Endpoint, "/"),
		http:         opts.HTTPClient,
		pollInterval: opts.PollInterval,
		root:         opts.Log,
		log:          opts.Log.Component("platform"),
	}
}

// Authenticate obtains anonymous credentials for the project. Later calls
// are scoped to projectID.
func (c *Client) Authenticate(ctx context.Context, projectID, environmentID string) (domain.Credentials, error) {
	var resp authResponse
	req := authRequest{ProjectID: projectID, EnvironmentID: environmentID}
	if err := c.do(ctx, http.MethodPost, "/auth/anonymous", "", req, &resp); err != nil {
		return domain.Credentials{}, fmt.Errorf("authenticate: %w", err)
	}
	if resp.AccessToken == "" {
		return domain.Credentials{}, errors.New("authenticate: empty access token")
	}

	creds := domain.Credentials{AccessToken: resp.AccessToken}
	if resp.ExpiresIn > 0 {
		creds.ExpiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	c.mu.Lock()
	c.projectID = projectID
	c.creds = creds
	c.mu.Unlock()
	c.log.Info().Str("project", projectID).Msg("authenticated")
	return creds, nil
}

// Connect creates an agent and opens its signaling connection.
func (c *Client) Connect(ctx context.Context) (domain.AgentInfo, error) {
	_, token := c.session()
	if token == "" {
		return domain.AgentInfo{}, fmt.Errorf("connect: %w", domain.ErrNotConnected)
	}

	var resp agentResponse
	if err := c.do(ctx, http.MethodPost, "/agents", token, struct{}{}, &resp); err != nil {
		return domain.AgentInfo{}, fmt.Errorf("create agent: %w", err)
	}
	agent := domain.AgentInfo{
		ID:           resp.ID,
		SignalServer: resp.SignalServer,
		ICEServers:   resp.ServiceCredentials.ICEServers,
	}

	sig := signal.NewClient(agent, token, c.root)
	if err := sig.Connect(ctx); err != nil {
		return domain.AgentInfo{}, fmt.Errorf("connect agent: %w", err)
	}

	c.mu.Lock()
	c.agent = agent
	c.sig = sig
	c.mu.Unlock()
	c.log.Info().Str("agent", agent.ID).Msg("agent connected")
	return agent, nil
}

// Signal returns the agent's signaling connection.
func (c *Client) Signal() (domain.Signaler, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sig == nil || c.disconnected {
		return nil, domain.ErrNotConnected
	}
	return c.sig, nil
}

// ListModels fetches the project's model definitions.
func (c *Client) ListModels(ctx context.Context) ([]domain.ModelDefinition, error) {
	projectID, token := c.session()
	if token == "" {
		return nil, fmt.Errorf("list models: %w", domain.ErrNotConnected)
	}

	var list []domain.ModelDefinition
	path := "/projects/" + url.PathEscape(projectID) + "/models"
	if err := c.do(ctx, http.MethodGet, path, token, nil, &list); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	return list, nil
}

// RequestLaunch implements domain.Launcher. The request is polled until it
// reaches a terminal status or ctx is done.
func (c *Client) RequestLaunch(ctx context.Context, model domain.ModelDefinition, opts domain.LaunchOptions) (<-chan domain.LaunchStatusEvent, error) {
	projectID, token := c.session()
	if token == "" {
		return nil, fmt.Errorf("request launch: %w", domain.ErrNotConnected)
	}

	req := launchRequest{
		ModelID:                        model.ID,
		Version:                        model.Version,
		RegionOverride:                 opts.RegionOverride,
		VirtualizationProviderOverride: opts.ProviderOverride,
	}
	var resp launchResponse
	path := "/projects/" + url.PathEscape(projectID) + "/launchrequests"
	if err := c.do(ctx, http.MethodPost, path, token, req, &resp); err != nil {
		return nil, fmt.Errorf("request launch: %w", err)
	}
	if resp.ID == "" {
		return nil, errors.New("request launch: response has no id")
	}
	c.log.Info().Str("request", resp.ID).Str("model", model.ID).Str("status", resp.Status).Msg("launch requested")

	events := make(chan domain.LaunchStatusEvent, 1)
	go c.poll(ctx, token, resp, events)
	return events, nil
}

func (c *Client) poll(ctx context.Context, token string, first launchResponse, events chan<- domain.LaunchStatusEvent) {
	defer close(events)

	send := func(ev domain.LaunchStatusEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	last := first.event()
	if !send(last) || last.Status.Terminal() {
		return
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	path := "/launchrequests/" + url.PathEscape(first.ID)
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var resp launchResponse
		if err := c.do(ctx, http.MethodGet, path, token, nil, &resp); err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			c.log.Warn().Err(err).Int("failures", failures).Str("request", first.ID).Msg("poll launch request")
			if failures >= maxPollFailures {
				send(domain.LaunchStatusEvent{RequestID: first.ID, Status: domain.LaunchError, Message: err.Error()})
				return
			}
			continue
		}
		failures = 0
		if resp.ID == "" {
			resp.ID = first.ID
		}

		ev := resp.event()
		if ev.Status == last.Status && ev.Message == last.Message {
			continue
		}
		last = ev
		if !send(ev) || ev.Status.Terminal() {
			return
		}
	}
}

// Disconnect implements domain.Disconnecter. It ends the platform session
// after a transport failure: the agent is deleted and its signaling
// connection closed. Repeated calls are no-ops.
func (c *Client) Disconnect() {
	c.release("disconnected")
}

// Close releases the agent when the process exits. It does nothing when
// Disconnect already ran.
func (c *Client) Close() {
	c.release("released")
}

func (c *Client) release(reason string) {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return
	}
	c.disconnected = true
	sig := c.sig
	agent := c.agent
	token := c.creds.AccessToken
	c.mu.Unlock()

	if sig != nil {
		sig.Close()
	}
	if agent.ID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := c.do(ctx, http.MethodDelete, "/agents/"+url.PathEscape(agent.ID), token, nil, nil); err != nil {
		c.log.Warn().Err(err).Str("agent", agent.ID).Msg("delete agent")
		return
	}
	c.log.Info().Str("agent", agent.ID).Msg(reason)
}

func (c *Client) session() (projectID, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projectID, c.creds.AccessToken
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("create http request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	c.log.Debug().Str("method", method).Str("path", path).Msg(">>>")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
