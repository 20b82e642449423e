package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamlaunch/native/internal/config"
	"streamlaunch/native/internal/domain"
	"streamlaunch/native/internal/logger"
	"streamlaunch/native/internal/session"
	"streamlaunch/native/internal/support"
)

func TestRunHeadless_LaunchesLocalSession(t *testing.T) {
	opts := config.ClientOptions{LaunchType: config.LaunchTypeLocal, ProjectID: "p", ModelID: "m"}
	machine := session.New(opts, session.Deps{})
	defer machine.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runHeadless(ctx, machine, logger.Nop()) }()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, session.ViewInitializing, machine.View())

	machine.AgentConnected(domain.AgentInfo{ID: "agent-1"})
	require.Eventually(t, func() bool { return machine.View() == session.ViewEmbedded }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestRunHeadless_StopsOnTerminalView(t *testing.T) {
	machine := session.New(config.ClientOptions{}, session.Deps{})
	defer machine.Close()

	require.NoError(t, runHeadless(context.Background(), machine, logger.Nop()))
}

func TestOpenVideo(t *testing.T) {
	w, fd, err := openVideo("-")
	require.NoError(t, err)
	assert.Equal(t, os.Stdout.Fd(), fd)
	require.NoError(t, w.Close())

	path := filepath.Join(t.TempDir(), "out.h264")
	w, fd, err = openVideo(path)
	require.NoError(t, err)
	assert.Equal(t, support.NoFd, fd)
	_, err = w.Write([]byte{0, 0, 0, 1})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, data, 4)
}

type fakeSession struct {
	authErr error
	connErr error
	models  []domain.ModelDefinition
	listErr error

	connected bool
	listed    bool
}

func (f *fakeSession) RequestLaunch(context.Context, domain.ModelDefinition, domain.LaunchOptions) (<-chan domain.LaunchStatusEvent, error) {
	return nil, domain.ErrNotConnected
}

func (f *fakeSession) Disconnect() {}

func (f *fakeSession) Authenticate(context.Context, string, string) (domain.Credentials, error) {
	return domain.Credentials{AccessToken: "tok"}, f.authErr
}

func (f *fakeSession) Connect(context.Context) (domain.AgentInfo, error) {
	f.connected = true
	if f.connErr != nil {
		return domain.AgentInfo{}, f.connErr
	}
	return domain.AgentInfo{ID: "agent-1"}, nil
}

func (f *fakeSession) ListModels(context.Context) ([]domain.ModelDefinition, error) {
	f.listed = true
	return f.models, f.listErr
}

func TestInitialize(t *testing.T) {
	opts := config.ClientOptions{ProjectID: "p", ModelID: "m", LaunchType: config.LaunchTypeQueued}

	tests := []struct {
		name          string
		plat          *fakeSession
		wantView      session.ViewState
		wantAgent     bool
		wantConnected bool
		wantListed    bool
	}{
		{
			name:          "empty model list",
			plat:          &fakeSession{models: []domain.ModelDefinition{}},
			wantView:      session.ViewNoModelsAvailable,
			wantAgent:     true,
			wantConnected: true,
			wantListed:    true,
		},
		{
			name:     "authentication fails",
			plat:     &fakeSession{authErr: errors.New("401")},
			wantView: session.ViewInitializing,
		},
		{
			name:          "connect fails",
			plat:          &fakeSession{connErr: errors.New("503")},
			wantView:      session.ViewInitializing,
			wantConnected: true,
		},
		{
			name:          "list fails",
			plat:          &fakeSession{listErr: errors.New("500")},
			wantView:      session.ViewInitializing,
			wantAgent:     true,
			wantConnected: true,
			wantListed:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			machine := session.New(opts, session.Deps{})
			defer machine.Close()

			initialize(context.Background(), tt.plat, opts, machine, logger.Nop())

			snap := machine.Snapshot()
			assert.Equal(t, tt.wantView, snap.View)
			assert.Equal(t, tt.wantAgent, snap.Inputs.AgentReady)
			assert.Equal(t, tt.wantConnected, tt.plat.connected)
			assert.Equal(t, tt.wantListed, tt.plat.listed)
		})
	}
}
