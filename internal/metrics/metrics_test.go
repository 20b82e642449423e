package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"streamlaunch/native/internal/logger"
)

func TestViewTransitionsCounter(t *testing.T) {
	before := testutil.ToFloat64(ViewTransitions.WithLabelValues("embedded"))
	ViewTransitions.WithLabelValues("embedded").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ViewTransitions.WithLabelValues("embedded")))
}

func TestServer_StopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	s := NewServer("127.0.0.1:0", logger.Nop())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run() didn't return after cancel")
	}
}
