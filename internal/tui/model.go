// Package tui renders the session view state in the terminal.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"streamlaunch/native/internal/domain"
	"streamlaunch/native/internal/session"
)

const maxMessages = 5

// Machine is the part of session.Machine the UI drives.
type Machine interface {
	Snapshot() session.Snapshot
	Updates() <-chan struct{}
	Launch() error
}

// Idle receives input activity and streamer status for the idle timeout.
type Idle interface {
	Touch()
	SetStatus(status domain.StreamerStatus)
}

// Options configure the presentation.
type Options struct {
	Title       string
	Description string
	// Debug shows underlying launch errors instead of the schedule notice.
	Debug bool
	Idle  Idle
}

type updateMsg struct{}

type closedMsg struct{}

type appMessageMsg string

// IdleWarnMsg shows the idle banner with the time left before exit.
type IdleWarnMsg struct{ Left time.Duration }

// IdleResumeMsg clears the idle banner.
type IdleResumeMsg struct{}

type subscription struct {
	stream      domain.Stream
	unsubscribe func()
}

// Model is the bubbletea model for one client session.
type Model struct {
	machine Machine
	opts    Options
	th      theme

	snap     session.Snapshot
	err      error
	messages []string
	idleLeft time.Duration

	appMsgs chan string
	sub     *subscription
}

// New creates a Model over machine.
func New(machine Machine, opts Options) Model {
	return Model{
		machine: machine,
		opts:    opts,
		th:      defaultTheme(),
		snap:    machine.Snapshot(),
		appMsgs: make(chan string, 64),
		sub:     &subscription{},
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.machine.Updates()), waitForMessage(m.appMsgs))
}

func waitForUpdate(updates <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-updates; !ok {
			return closedMsg{}
		}
		return updateMsg{}
	}
}

func waitForMessage(msgs <-chan string) tea.Cmd {
	return func() tea.Msg {
		return appMessageMsg(<-msgs)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case updateMsg:
		m.refresh()
		return m, waitForUpdate(m.machine.Updates())

	case closedMsg:
		m.Close()
		return m, tea.Quit

	case appMessageMsg:
		m.messages = append(m.messages, string(msg))
		if len(m.messages) > maxMessages {
			m.messages = m.messages[len(m.messages)-maxMessages:]
		}
		return m, waitForMessage(m.appMsgs)

	case IdleWarnMsg:
		m.idleLeft = msg.Left
		return m, nil

	case IdleResumeMsg:
		m.idleLeft = 0
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) refresh() {
	m.snap = m.machine.Snapshot()
	if m.opts.Idle != nil {
		m.opts.Idle.SetStatus(m.snap.Inputs.Streamer)
	}

	stream := m.snap.Stream
	if stream == nil || stream == m.sub.stream {
		return
	}
	m.release()
	msgs := m.appMsgs
	m.sub.stream = stream
	m.sub.unsubscribe = stream.Messages().Subscribe(func(s string) {
		select {
		case msgs <- s:
		default:
		}
	})
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		m.Close()
		return m, tea.Quit
	}
	if m.opts.Idle != nil {
		m.opts.Idle.Touch()
	}
	m.idleLeft = 0

	switch m.snap.View {
	case session.ViewLaunchPrompt:
		switch msg.Type {
		case tea.KeyEnter, tea.KeySpace:
			m.err = m.machine.Launch()
			m.snap = m.machine.Snapshot()
			return m, nil
		}
	case session.ViewEmbedded:
		m.forward(msg)
		return m, nil
	}

	switch msg.String() {
	case "q", "esc":
		m.Close()
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) forward(msg tea.KeyMsg) {
	if m.snap.Stream == nil {
		return
	}
	opts := m.snap.Inputs.Options
	in := m.snap.Stream.Input()
	for _, typ := range []string{domain.InputKeyDown, domain.InputKeyUp} {
		ev := domain.InputEvent{
			Type:        typ,
			Key:         msg.String(),
			PointerLock: opts.UsePointerLock,
			NativeTouch: opts.UseNativeTouchEvents,
		}
		if err := in.Emit(ev); err != nil {
			m.err = err
			return
		}
	}
	m.err = nil
}

// Close releases the message subscription.
func (m Model) Close() {
	m.release()
}

func (m Model) release() {
	if m.sub.unsubscribe != nil {
		m.sub.unsubscribe()
	}
	m.sub.stream = nil
	m.sub.unsubscribe = nil
}

func (m Model) View() string {
	var body string
	switch m.snap.View {
	case session.ViewConfigError:
		body = m.th.Danger.Render("Your client has one or more configuration errors.") + "\n" +
			m.th.Muted.Render("Check the launch URL and client.json for a project and model id.")
	case session.ViewModelUnavailable:
		body = m.th.Danger.Render("The model that you have requested does not exist")
	case session.ViewLaunchError:
		body = m.th.Danger.Render(m.launchErrorText())
	case session.ViewDisconnected:
		body = m.th.Alert.Render("Disconnected from stream")
	case session.ViewFailed:
		body = m.th.Danger.Render("Failure during stream") + "\n" +
			m.th.Muted.Render("Please restart to request a new session")
	case session.ViewWithdrawn:
		body = m.th.Alert.Render("Streamer contribution withdrawn")
	case session.ViewInitializing:
		body = m.th.Muted.Render("Initializing...")
	case session.ViewNoModelsAvailable:
		body = m.th.Alert.Render("No models are currently available in this environment.")
	case session.ViewLaunchPrompt:
		body = m.launchView()
	case session.ViewEmbedded:
		body = m.embeddedView()
	}

	var sb strings.Builder
	sb.WriteString(m.th.Frame.Render(body))
	sb.WriteString("\n")
	if m.idleLeft > 0 {
		sb.WriteString(m.th.Alert.Render(fmt.Sprintf("You have been idle. The session ends in %s unless you press a key.", m.idleLeft)))
		sb.WriteString("\n")
	}
	if m.err != nil && m.snap.View != session.ViewLaunchError {
		sb.WriteString(m.th.Danger.Render("error: " + m.err.Error()))
		sb.WriteString("\n")
	}
	sb.WriteString(m.th.Muted.Render(m.footer()))
	return sb.String()
}

func (m Model) launchErrorText() string {
	if !m.opts.Debug {
		return "It appears the requested model is currently not online as per your set schedule. Please contact support if it should be available."
	}
	if err := m.snap.Inputs.LaunchErr; err != nil {
		return "There was an error with the launch request: " + err.Error()
	}
	return "There was an error with the launch request: " + m.snap.Inputs.LaunchStatus.String()
}

func (m Model) launchView() string {
	title := m.opts.Title
	if title == "" {
		title = "streamlaunch"
	}
	lines := []string{m.th.Header.Render(title)}
	if m.opts.Description != "" {
		lines = append(lines, m.opts.Description)
	}
	lines = append(lines, "", m.th.Accent.Render("[ enter ] play"))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) embeddedView() string {
	var lines []string
	switch m.snap.Overlay {
	case session.OverlayNotSupported:
		lines = append(lines, m.th.Danger.Render("Your client does not support the necessary WebRTC capabilities."))
	case session.OverlayLoading:
		lines = append(lines, m.th.Muted.Render("Please wait, your session is loading."))
	case session.OverlayHidden:
		lines = append(lines, m.th.Accent.Render("Streaming ("+m.snap.Inputs.Streamer.String()+")"))
	}
	for _, msg := range m.messages {
		lines = append(lines, m.th.Muted.Render("> "+msg))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) footer() string {
	switch m.snap.View {
	case session.ViewLaunchPrompt:
		return "enter: play  q: quit"
	case session.ViewEmbedded:
		return "keys are sent to the stream  ctrl+c: quit"
	default:
		return "q: quit"
	}
}
