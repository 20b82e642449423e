package idle

import (
	"context"
	"errors"
	"time"

	"streamlaunch/native/internal/domain"
	"streamlaunch/native/internal/logger"
)

const (
	DefaultWarnAfter = 300 * time.Second
	DefaultExitAfter = 120 * time.Second
)

// ErrExpired is returned by Run when the exit threshold passes.
var ErrExpired = errors.New("idle timeout expired")

// Options configure a Monitor. Zero thresholds take the defaults.
type Options struct {
	WarnAfter time.Duration
	ExitAfter time.Duration

	// OnWarn is called when the warning threshold passes, with the time
	// left before exit.
	OnWarn func(left time.Duration)
	// OnResume is called when input arrives after a warning.
	OnResume func()

	Log *logger.Logger
}

// Monitor watches for user input while a stream is connected. It warns after
// WarnAfter without input and expires ExitAfter later.
type Monitor struct {
	opts   Options
	log    *logger.Logger
	touch  chan struct{}
	status chan domain.StreamerStatus
}

// New creates a Monitor.
func New(opts Options) *Monitor {
	if opts.WarnAfter <= 0 {
		opts.WarnAfter = DefaultWarnAfter
	}
	if opts.ExitAfter <= 0 {
		opts.ExitAfter = DefaultExitAfter
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	return &Monitor{
		opts:   opts,
		log:    opts.Log.Component("idle"),
		touch:  make(chan struct{}, 1),
		status: make(chan domain.StreamerStatus, 1),
	}
}

// Touch records user input. It never blocks.
func (m *Monitor) Touch() {
	select {
	case m.touch <- struct{}{}:
	default:
	}
}

// SetStatus tells the monitor the current streamer status. Only a connected
// stream is timed. It never blocks; the latest status wins.
func (m *Monitor) SetStatus(status domain.StreamerStatus) {
	for {
		select {
		case m.status <- status:
			return
		default:
		}
		select {
		case <-m.status:
		default:
		}
	}
}

// Run times inactivity until ctx is done or the timeout expires.
func (m *Monitor) Run(ctx context.Context) error {
	var (
		timer  *time.Timer
		fire   <-chan time.Time
		active bool
		warned bool
	)
	reset := func(d time.Duration) {
		if timer != nil {
			timer.Stop()
		}
		timer, fire = nil, nil
		if active {
			timer = time.NewTimer(d)
			fire = timer.C
		}
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case status := <-m.status:
			connected := status == domain.StreamerConnected
			if connected == active {
				continue
			}
			active, warned = connected, false
			m.log.Debug().Bool("active", active).Msg("idle timer")
			reset(m.opts.WarnAfter)

		case <-m.touch:
			if warned {
				warned = false
				m.log.Info().Msg("activity resumed")
				if m.opts.OnResume != nil {
					m.opts.OnResume()
				}
			}
			reset(m.opts.WarnAfter)

		case <-fire:
			if !warned {
				warned = true
				m.log.Warn().Dur("exit_in", m.opts.ExitAfter).Msg("idle warning")
				if m.opts.OnWarn != nil {
					m.opts.OnWarn(m.opts.ExitAfter)
				}
				reset(m.opts.ExitAfter)
				continue
			}
			m.log.Warn().Msg("idle timeout")
			return ErrExpired
		}
	}
}
