package session

import (
	"context"
	"sync"

	"streamlaunch/native/internal/config"
	"streamlaunch/native/internal/domain"
	"streamlaunch/native/internal/logger"
	"streamlaunch/native/internal/metrics"
	"streamlaunch/native/internal/models"
)

// Deps are the collaborators a Machine drives.
type Deps struct {
	Launcher     domain.Launcher
	Streams      domain.StreamOpener
	Disconnecter domain.Disconnecter
	Audio        domain.AudioArmer
	Log          *logger.Logger
}

// Snapshot is a consistent copy of the machine's state.
type Snapshot struct {
	Inputs  Inputs
	View    ViewState
	Overlay Overlay
	Stream  domain.Stream
}

// Machine feeds platform events into Evaluate and issues the side effects
// that belong to state transitions.
//
// Every event runs under one lock and never blocks; collaborator calls are
// made after the lock is released, from the caller's goroutine or from a
// goroutine owned by the machine. Events arriving after Close are dropped.
type Machine struct {
	opts config.ClientOptions
	deps Deps
	log  *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	in            Inputs
	view          ViewState
	ice           []domain.ICEServer
	stream        domain.Stream
	streamStarted bool
	disconnected  bool
	closed        bool
	updates       chan struct{}
}

// New creates a machine for opts. The options are copied and never
// re-read from anywhere else.
func New(opts config.ClientOptions, deps Deps) *Machine {
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		opts:   opts,
		deps:   deps,
		log:    deps.Log.Component("session"),
		ctx:    ctx,
		cancel: cancel,
		in: Inputs{
			Options: opts,
			Models:  models.NewSelection(opts.ModelID, opts.Version),
		},
		updates: make(chan struct{}, 1),
	}
	m.view = Evaluate(m.in)
	metrics.ViewTransitions.WithLabelValues(m.view.String()).Inc()
	return m
}

// Updates is signalled after every state change. Signals coalesce; read
// Snapshot for the current state. The channel is closed by Close.
func (m *Machine) Updates() <-chan struct{} { return m.updates }

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{Inputs: m.in, View: m.view, Overlay: OverlayFor(m.in), Stream: m.stream}
}

// View returns the current view.
func (m *Machine) View() ViewState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view
}

// AgentConnected records the ICE servers the transport must use. No stream
// is opened before it arrives.
func (m *Machine) AgentConnected(agent domain.AgentInfo) {
	m.apply(func() []func() {
		m.ice = append([]domain.ICEServer(nil), agent.ICEServers...)
		m.in.AgentReady = true
		m.log.Info().Str("agent", agent.ID).Int("ice_servers", len(agent.ICEServers)).Msg("agent connected")
		return nil
	})
}

// ModelsLoaded applies the project's model list.
func (m *Machine) ModelsLoaded(list []domain.ModelDefinition) {
	m.apply(func() []func() {
		m.in.Models = m.in.Models.Apply(list)
		m.log.Debug().Int("models", len(list)).Str("selection", m.in.Models.Outcome().String()).Msg("models loaded")
		return nil
	})
}

// ModelsFailed records a failed model list fetch. The list stays pending,
// which keeps the client initializing.
func (m *Machine) ModelsFailed(err error) {
	m.log.Error().Err(err).Msg("initializing available models")
}

// LaunchStatusChanged applies a launch queue status update.
func (m *Machine) LaunchStatusChanged(ev domain.LaunchStatusEvent) {
	m.apply(func() []func() {
		m.in.LaunchStatus = ev.Status
		if ev.RequestID != "" {
			m.in.LaunchRequestID = ev.RequestID
		}
		m.log.Info().
			Str("launch", ev.Status.String()).
			Str("streamer", m.in.Streamer.String()).
			Str("msg", ev.Message).
			Msg("status")
		switch ev.Status {
		case domain.LaunchReady:
			metrics.LaunchRequests.WithLabelValues("ready").Inc()
		case domain.LaunchError, domain.LaunchUnavailable:
			metrics.LaunchRequests.WithLabelValues(ev.Status.String()).Inc()
		}
		return nil
	})
}

// LaunchRejected records that the queueing call itself failed.
func (m *Machine) LaunchRejected(err error) {
	m.apply(func() []func() {
		if m.in.LaunchErr == nil {
			m.in.LaunchErr = err
		}
		metrics.LaunchRequests.WithLabelValues("rejected").Inc()
		m.log.Error().Err(err).Msg("launch request rejected")
		return nil
	})
}

// StreamerStatusChanged applies a transport status update. The first
// transition into StreamerFailed disconnects the platform session.
func (m *Machine) StreamerStatusChanged(status domain.StreamerStatus) {
	m.apply(func() []func() {
		if status == m.in.Streamer {
			return nil
		}
		m.in.Streamer = status
		metrics.StreamerStatus.WithLabelValues(status.String()).Inc()
		m.log.Info().
			Str("launch", m.in.LaunchStatus.String()).
			Str("streamer", status.String()).
			Msg("status")

		if status != domain.StreamerFailed || m.disconnected {
			return nil
		}
		m.disconnected = true
		metrics.Disconnects.Inc()
		if m.deps.Disconnecter == nil {
			return nil
		}
		return []func(){m.deps.Disconnecter.Disconnect}
	})
}

// Launch is the user's play action. It arms audio before returning, so it
// must be called from the input handler, and queues a launch request unless
// the client joins a local session. Repeated calls are no-ops.
func (m *Machine) Launch() error {
	if !m.opts.IsValid() {
		return domain.ErrInvalidConfig
	}
	m.apply(func() []func() {
		if m.in.Played {
			return nil
		}
		m.in.Played = true
		m.log.Info().Str("launch_type", m.opts.LaunchType).Msg("launch")

		var effects []func()
		if m.deps.Audio != nil {
			effects = append(effects, m.armAudio)
		}
		if m.opts.IsLocal() {
			return effects
		}

		model, ok := m.in.Models.Model()
		if !ok {
			m.in.LaunchErr = domain.ErrNoModelSelected
			return effects
		}
		opts := domain.LaunchOptions{
			RegionOverride:   m.opts.RegionOverride,
			ProviderOverride: m.opts.VirtualizationProviderOverride,
		}
		m.in.LaunchStatus = domain.LaunchQueued
		return append(effects, m.spawn(func() { m.requestLaunch(model, opts) }))
	})
	return nil
}

// Close stops all pumps and closes an open stream.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	stream := m.stream
	m.cancel()
	close(m.updates)
	m.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
	m.wg.Wait()
}

// apply runs fn under the lock, re-evaluates the view, then runs the
// effects fn returned.
func (m *Machine) apply(fn func() []func()) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	effects := fn()
	effects = append(effects, m.settle()...)
	m.mu.Unlock()

	for _, effect := range effects {
		effect()
	}
}

// settle re-evaluates the view and decides whether streaming begins.
// It must be called with the lock held.
func (m *Machine) settle() []func() {
	if view := Evaluate(m.in); view != m.view {
		m.log.Info().Str("from", m.view.String()).Str("to", view.String()).Msg("view")
		metrics.ViewTransitions.WithLabelValues(view.String()).Inc()
		m.view = view
	}
	select {
	case m.updates <- struct{}{}:
	default:
	}

	if !m.shouldStream() {
		return nil
	}
	m.streamStarted = true
	requestID := m.in.LaunchRequestID
	if m.opts.IsLocal() {
		requestID = ""
	}
	opts := domain.StreamOptions{
		ForceRelay: m.opts.ForceRelay,
		ICEServers: append([]domain.ICEServer(nil), m.ice...),
	}
	return []func(){m.spawn(func() { m.openStream(requestID, opts) })}
}

func (m *Machine) shouldStream() bool {
	if m.streamStarted || !m.in.Played || !m.in.AgentReady || m.deps.Streams == nil {
		return false
	}
	if m.view != ViewEmbedded {
		return false
	}
	return m.opts.IsLocal() || m.in.LaunchStatus == domain.LaunchReady
}

// spawn wraps fn so it runs on a goroutine tracked by Close.
// It must be called with the lock held.
func (m *Machine) spawn(fn func()) func() {
	m.wg.Add(1)
	return func() {
		go func() {
			defer m.wg.Done()
			fn()
		}()
	}
}

func (m *Machine) armAudio() {
	if err := m.deps.Audio.Arm(); err != nil {
		m.log.Warn().Err(err).Msg("arm audio")
	}
}

func (m *Machine) requestLaunch(model domain.ModelDefinition, opts domain.LaunchOptions) {
	if m.deps.Launcher == nil {
		m.LaunchRejected(domain.ErrNotConnected)
		return
	}
	events, err := m.deps.Launcher.RequestLaunch(m.ctx, model, opts)
	if err != nil {
		if m.ctx.Err() == nil {
			m.LaunchRejected(err)
		}
		return
	}
	for {
		select {
		case <-m.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.LaunchStatusChanged(ev)
		}
	}
}

func (m *Machine) openStream(requestID string, opts domain.StreamOptions) {
	m.StreamerStatusChanged(domain.StreamerConnecting)
	stream, err := m.deps.Streams.OpenStream(m.ctx, requestID, opts)
	if err != nil {
		if m.ctx.Err() == nil {
			m.log.Error().Err(err).Msg("open stream")
			m.StreamerStatusChanged(domain.StreamerFailed)
		}
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		stream.Close()
		return
	}
	m.stream = stream
	m.mu.Unlock()

	for {
		select {
		case <-m.ctx.Done():
			return
		case status, ok := <-stream.Status():
			if !ok {
				return
			}
			m.StreamerStatusChanged(status)
		}
	}
}
