// Package metrics holds the client's Prometheus counters and the optional
// endpoint serving them.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"streamlaunch/native/internal/logger"
)

var (
	ViewTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamlaunch_view_transitions_total",
		Help: "Number of times the client entered a view.",
	}, []string{"view"})

	LaunchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamlaunch_launch_requests_total",
		Help: "Launch requests by outcome.",
	}, []string{"result"})

	StreamerStatus = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamlaunch_streamer_status_total",
		Help: "Streamer status transitions observed.",
	}, []string{"status"})

	Disconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamlaunch_disconnects_total",
		Help: "Disconnects issued after a transport failure.",
	})
)

// Server exposes /metrics on addr.
type Server struct {
	srv *http.Server
	log *logger.Logger
}

// NewServer creates a metrics server. Nothing listens until Run.
func NewServer(addr string, log *logger.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		srv: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		log: log.Component("metrics"),
	}
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.log.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
