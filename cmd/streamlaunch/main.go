package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"streamlaunch/native/internal/config"
	"streamlaunch/native/internal/domain"
	"streamlaunch/native/internal/idle"
	"streamlaunch/native/internal/logger"
	"streamlaunch/native/internal/metrics"
	"streamlaunch/native/internal/platform"
	"streamlaunch/native/internal/session"
	"streamlaunch/native/internal/streamer"
	"streamlaunch/native/internal/support"
	"streamlaunch/native/internal/tui"
	"streamlaunch/native/internal/webrtc"
)

var Version = "?"

const helpText = `streamlaunch - Launch and stream a hosted interactive model

Usage:
  streamlaunch [options] [launch-url]

The raw H264 stream is written to --video-out (stdout by default). The
terminal UI draws on stderr, so stdout must be piped when it is active.

Configuration is read from client.json (or --config) and overridden by the
launch URL query: launchType, projectId, modelId, version, environmentId,
endpoint, usePointerLock, pointerLockRelease, useNativeTouchEvents,
forceRelay, collaboration, regionOverride, virtualizationProviderOverride.
Static values can also be set with STREAMLAUNCH_<FIELD> variables or a .env file.

Examples:
  # Live playback
  streamlaunch --url '?projectId=p&modelId=m' | ffplay -f h264 -

  # Headless recording with audio
  streamlaunch --headless --url '?projectId=p&modelId=m' \
    --video-out out.h264 --audio-out out.ogg

Options:
`

type flags struct {
	url         string
	config      string
	videoOut    string
	audioOut    string
	logFile     string
	metricsAddr string
	debug       bool
	headless    bool
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.url, "url", "", "launch URL or query string")
	flag.StringVar(&f.config, "config", "", "static client config file (default client.json)")
	flag.StringVar(&f.videoOut, "video-out", "-", "H264 output file, - for stdout")
	flag.StringVar(&f.audioOut, "audio-out", "", "Ogg/Opus output file, empty discards audio")
	flag.StringVar(&f.logFile, "log-file", "streamlaunch.log", "log file used while the terminal UI is active")
	flag.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flag.BoolVar(&f.debug, "debug", false, "debug logging and detailed launch errors")
	flag.BoolVar(&f.headless, "headless", false, "no terminal UI; launch as soon as a model is selected")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, helpText)
		flag.PrintDefaults()
	}
	flag.Parse()
	return f
}

func main() {
	os.Exit(run(parseFlags()))
}

func run(f flags) int {
	log, closeLog, err := newLogger(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log: %v\n", err)
		return 1
	}
	defer closeLog()
	log.Info().Msgf("version %s", Version)

	static, err := config.LoadStatic(f.config)
	if err != nil {
		log.Error().Err(err).Msg("static config")
		return 1
	}
	raw := f.url
	if raw == "" && flag.NArg() > 0 {
		raw = flag.Arg(0)
	}
	query, err := config.ParseQuery(raw)
	if err != nil {
		log.Error().Err(err).Msg("launch url")
		return 2
	}
	opts := config.Resolve(query, static)
	log.Debug().Interface("options", opts).Msg("resolved")

	video, videoFd, err := openVideo(f.videoOut)
	if err != nil {
		log.Error().Err(err).Msg("video output")
		return 1
	}
	defer video.Close()

	if err := support.Check(support.Env{VideoFd: videoFd, Interactive: !f.headless}); err != nil {
		log.Error().Err(err).Msg("support check")
		fmt.Fprintln(os.Stderr, support.Message)
		return 1
	}

	audio := webrtc.NewAudioSink(f.audioOut)
	defer audio.Close()

	plat := platform.NewClient(platform.Options{Endpoint: opts.Endpoint, Log: log})
	defer plat.Close()

	pionLevel := zerolog.WarnLevel
	if f.debug {
		pionLevel = zerolog.DebugLevel
	}
	opener := &streamer.Opener{
		NewPeer: func(so domain.StreamOptions) (domain.Peer, error) {
			peer, err := webrtc.NewPeer(webrtc.Config{
				ICEServers:   so.ICEServers,
				ForceRelay:   so.ForceRelay,
				Video:        video,
				Audio:        audio,
				Log:          log,
				PionLogLevel: pionLevel,
			})
			if err != nil {
				return nil, err
			}
			return peer, nil
		},
		Signaler: plat.Signal,
		Log:      log,
	}

	machine := session.New(opts, session.Deps{
		Launcher:     plat,
		Streams:      opener,
		Disconnecter: plat,
		Audio:        audio,
		Log:          log,
	})
	defer machine.Close()

	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	if opts.IsValid() {
		g.Go(func() error {
			initialize(gctx, plat, opts, machine, log)
			return nil
		})
	}

	if f.metricsAddr != "" {
		srv := metrics.NewServer(f.metricsAddr, log)
		g.Go(func() error { return srv.Run(gctx) })
	}

	if f.headless {
		g.Go(func() error {
			defer cancel()
			return runHeadless(gctx, machine, log)
		})
	} else {
		var p *tea.Program
		monitor := idle.New(idle.Options{
			OnWarn:   func(left time.Duration) { p.Send(tui.IdleWarnMsg{Left: left}) },
			OnResume: func() { p.Send(tui.IdleResumeMsg{}) },
			Log:      log,
		})
		model := tui.New(machine, tui.Options{
			Title:       opts.Title,
			Description: opts.Description,
			Debug:       f.debug,
			Idle:        monitor,
		})
		p = tea.NewProgram(model, tea.WithOutput(os.Stderr), tea.WithAltScreen())

		g.Go(func() error {
			if err := monitor.Run(gctx); err != nil {
				log.Warn().Err(err).Msg("exiting")
				cancel()
			}
			return nil
		})
		g.Go(func() error {
			defer cancel()
			go func() {
				<-gctx.Done()
				p.Quit()
			}()
			final, err := p.Run()
			if m, ok := final.(tui.Model); ok {
				m.Close()
			}
			return err
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("exit")
		return 1
	}
	if view := machine.View(); view.Terminal() {
		log.Info().Str("view", view.String()).Msg("session ended")
	}
	return 0
}

// initialize authenticates, connects the agent and loads the project's
// models. Failures leave the client initializing.
func initialize(ctx context.Context, plat domain.SessionClient, opts config.ClientOptions, machine *session.Machine, log *logger.Logger) {
	if _, err := plat.Authenticate(ctx, opts.ProjectID, opts.EnvironmentID); err != nil {
		machine.ModelsFailed(err)
		return
	}
	agent, err := plat.Connect(ctx)
	if err != nil {
		machine.ModelsFailed(err)
		return
	}
	machine.AgentConnected(agent)

	list, err := plat.ListModels(ctx)
	if err != nil {
		machine.ModelsFailed(err)
		return
	}
	machine.ModelsLoaded(list)
	log.Debug().Int("models", len(list)).Msg("initialized")
}

// runHeadless plays as soon as the launch prompt is reachable and returns
// when the session ends.
func runHeadless(ctx context.Context, machine *session.Machine, log *logger.Logger) error {
	launched := false
	for {
		snap := machine.Snapshot()
		switch {
		case snap.View == session.ViewLaunchPrompt && !launched:
			launched = true
			if err := machine.Launch(); err != nil {
				return err
			}
			continue
		case snap.View.Terminal():
			log.Warn().Str("view", snap.View.String()).Msg("session ended")
			return nil
		case snap.View == session.ViewEmbedded && snap.Inputs.Streamer == domain.StreamerCompleted:
			log.Info().Msg("stream completed")
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-machine.Updates():
			if !ok {
				return nil
			}
		}
	}
}

func newLogger(f flags) (*logger.Logger, func(), error) {
	if f.headless || f.logFile == "" {
		return logger.NewConsole(f.debug, "sl", os.Stderr, false), func() {}, nil
	}
	file, err := os.OpenFile(f.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return logger.NewConsole(f.debug, "sl", file, true), func() { _ = file.Close() }, nil
}

func openVideo(path string) (io.WriteCloser, uintptr, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, os.Stdout.Fd(), nil
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, support.NoFd, err
	}
	return file, support.NoFd, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
