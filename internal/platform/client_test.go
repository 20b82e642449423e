package platform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"streamlaunch/native/internal/domain"
)

// fakePlatform scripts the platform HTTP API and the agent websocket.
type fakePlatform struct {
	t   *testing.T
	srv *httptest.Server

	mu            sync.Mutex
	launchBody    launchRequest
	statuses      []string
	polls         int
	deletedAgents []string
	modelsStatus  int
}

func newFakePlatform(t *testing.T) *fakePlatform {
	f := &fakePlatform{t: t, modelsStatus: http.StatusOK}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/anonymous", func(w http.ResponseWriter, r *http.Request) {
		var req authRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.ProjectID != "p1" {
			http.Error(w, "unknown project", http.StatusNotFound)
			return
		}
		writeJSON(w, authResponse{AccessToken: "tok", ExpiresIn: 3600})
	})
	mux.HandleFunc("POST /agents", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		resp := agentResponse{ID: "agent-1", SignalServer: "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/signal"}
		resp.ServiceCredentials.ICEServers = []domain.ICEServer{{URLs: []string{"turn:turn.example:3478"}, Username: "u", Credential: "c"}}
		writeJSON(w, resp)
	})
	mux.HandleFunc("DELETE /agents/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.deletedAgents = append(f.deletedAgents, r.PathValue("id"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /projects/p1/models", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		status := f.modelsStatus
		f.mu.Unlock()
		if status != http.StatusOK {
			http.Error(w, "nope", status)
			return
		}
		writeJSON(w, []domain.ModelDefinition{{ID: "m1", Version: "v1", Active: true}, {ID: "m2", Version: "v2"}})
	})
	mux.HandleFunc("POST /projects/p1/launchrequests", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&f.launchBody)
		f.mu.Unlock()
		writeJSON(w, launchResponse{ID: "lr-1", Status: "queued"})
	})
	mux.HandleFunc("GET /launchrequests/lr-1", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		status := "queued"
		if f.polls < len(f.statuses) {
			status = f.statuses[f.polls]
		}
		f.polls++
		f.mu.Unlock()
		if status == "500" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		writeJSON(w, launchResponse{ID: "lr-1", Status: status})
	})
	mux.HandleFunc("/signal", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg["method"] == "AUTH" {
				_ = conn.WriteJSON(map[string]any{"method": "AUTH_RESPONSE", "code": 0})
			}
		}
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakePlatform) client() *Client {
	return NewClient(Options{
		Endpoint:     f.srv.URL + "/",
		PollInterval: 5 * time.Millisecond,
	})
}

func drain(t *testing.T, events <-chan domain.LaunchStatusEvent) []domain.LaunchStatus {
	t.Helper()
	var got []domain.LaunchStatus
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev.Status)
		case <-timeout:
			t.Fatal("launch events not closed")
			return got
		}
	}
}

func TestClient_ConnectAndDisconnect(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFakePlatform(t)
	c := f.client()
	ctx := context.Background()

	_, err := c.Signal()
	require.ErrorIs(t, err, domain.ErrNotConnected)

	creds, err := c.Authenticate(ctx, "p1", "")
	require.NoError(t, err)
	assert.Equal(t, "tok", creds.AccessToken)
	assert.False(t, creds.ExpiresAt.IsZero())

	agent, err := c.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", agent.ID)
	require.Len(t, agent.ICEServers, 1)
	assert.Equal(t, "u", agent.ICEServers[0].Username)

	sig, err := c.Signal()
	require.NoError(t, err)
	assert.NotNil(t, sig)

	c.Disconnect()
	c.Disconnect()

	_, err = c.Signal()
	require.ErrorIs(t, err, domain.ErrNotConnected)
	f.mu.Lock()
	assert.Equal(t, []string{"agent-1"}, f.deletedAgents)
	f.mu.Unlock()
	f.srv.Close()
}

func TestClient_CloseReleasesAgentOnce(t *testing.T) {
	f := newFakePlatform(t)
	ctx := context.Background()

	closed := f.client()
	_, err := closed.Authenticate(ctx, "p1", "")
	require.NoError(t, err)
	_, err = closed.Connect(ctx)
	require.NoError(t, err)
	closed.Close()
	closed.Close()

	disconnected := f.client()
	_, err = disconnected.Authenticate(ctx, "p1", "")
	require.NoError(t, err)
	_, err = disconnected.Connect(ctx)
	require.NoError(t, err)
	disconnected.Disconnect()
	disconnected.Close()

	f.mu.Lock()
	assert.Equal(t, []string{"agent-1", "agent-1"}, f.deletedAgents)
	f.mu.Unlock()

	_, err = closed.Signal()
	require.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestClient_CloseWithoutAgent(t *testing.T) {
	f := newFakePlatform(t)

	f.client().Close()

	f.mu.Lock()
	assert.Empty(t, f.deletedAgents)
	f.mu.Unlock()
}

func TestClient_AuthenticateError(t *testing.T) {
	f := newFakePlatform(t)
	c := NewClient(Options{Endpoint: f.srv.URL})

	_, err := c.Authenticate(context.Background(), "nope", "")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "unknown project")
}

func TestClient_ConnectRequiresCredentials(t *testing.T) {
	f := newFakePlatform(t)

	_, err := f.client().Connect(context.Background())
	require.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestClient_ListModels(t *testing.T) {
	f := newFakePlatform(t)
	c := f.client()

	_, err := c.ListModels(context.Background())
	require.ErrorIs(t, err, domain.ErrNotConnected)

	_, err = c.Authenticate(context.Background(), "p1", "")
	require.NoError(t, err)
	list, err := c.ListModels(context.Background())
	require.NoError(t, err)

	want := []domain.ModelDefinition{{ID: "m1", Version: "v1", Active: true}, {ID: "m2", Version: "v2"}}
	if diff := cmp.Diff(want, list); diff != "" {
		t.Errorf("models mismatch (-want +got):\n%s", diff)
	}

	f.mu.Lock()
	f.modelsStatus = http.StatusBadGateway
	f.mu.Unlock()
	_, err = c.ListModels(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestClient_RequestLaunchPollsUntilReady(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFakePlatform(t)
	f.statuses = []string{"queued", "queued", "ready"}
	c := f.client()
	_, err := c.Authenticate(context.Background(), "p1", "")
	require.NoError(t, err)

	events, err := c.RequestLaunch(context.Background(),
		domain.ModelDefinition{ID: "m1", Version: "v1"},
		domain.LaunchOptions{RegionOverride: "eu", ProviderOverride: "aws"})
	require.NoError(t, err)

	assert.Equal(t, []domain.LaunchStatus{domain.LaunchQueued, domain.LaunchReady}, drain(t, events))

	f.mu.Lock()
	assert.Equal(t, launchRequest{ModelID: "m1", Version: "v1", RegionOverride: "eu", VirtualizationProviderOverride: "aws"}, f.launchBody)
	f.mu.Unlock()
	f.srv.Close()
}

func TestClient_RequestLaunchCancelled(t *testing.T) {
	f := newFakePlatform(t)
	f.statuses = []string{"cancelled"}
	c := f.client()
	_, err := c.Authenticate(context.Background(), "p1", "")
	require.NoError(t, err)

	events, err := c.RequestLaunch(context.Background(), domain.ModelDefinition{ID: "m1"}, domain.LaunchOptions{})
	require.NoError(t, err)

	assert.Equal(t, []domain.LaunchStatus{domain.LaunchQueued, domain.LaunchError}, drain(t, events))
}

func TestClient_RequestLaunchPollFailures(t *testing.T) {
	f := newFakePlatform(t)
	f.statuses = []string{"500", "500", "500"}
	c := f.client()
	_, err := c.Authenticate(context.Background(), "p1", "")
	require.NoError(t, err)

	events, err := c.RequestLaunch(context.Background(), domain.ModelDefinition{ID: "m1"}, domain.LaunchOptions{})
	require.NoError(t, err)

	assert.Equal(t, []domain.LaunchStatus{domain.LaunchQueued, domain.LaunchError}, drain(t, events))
}

func TestClient_RequestLaunchStopsOnContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFakePlatform(t)
	c := f.client()
	_, err := c.Authenticate(context.Background(), "p1", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := c.RequestLaunch(ctx, domain.ModelDefinition{ID: "m1"}, domain.LaunchOptions{})
	require.NoError(t, err)
	<-events
	cancel()

	drain(t, events)
	f.srv.Close()
}

func TestClient_RequestLaunchNotAuthenticated(t *testing.T) {
	f := newFakePlatform(t)

	_, err := f.client().RequestLaunch(context.Background(), domain.ModelDefinition{ID: "m1"}, domain.LaunchOptions{})
	require.ErrorIs(t, err, domain.ErrNotConnected)
}
