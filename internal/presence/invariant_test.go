//go:build !debug

package presence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatListener_SweepAfterStopIsRejected(t *testing.T) {
	h := startTracker(t, newFakeStore(), testConfig())
	h.heartbeat("n1")

	h.tracker.heartbeat.Stop()

	evicted, err := h.tracker.Sweep(context.Background())
	require.ErrorIs(t, err, ErrTrackerStopped)
	assert.Empty(t, evicted)

	// The violation is reported, not fatal: the registry is untouched.
	assert.Equal(t, DefaultLives, h.lives("n1"))
}

func TestHeartbeatListener_BindAfterStopIsRejected(t *testing.T) {
	h := startTracker(t, newFakeStore(), testConfig())
	h.tracker.heartbeat.Stop()

	conn, err := h.b.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	assert.ErrorIs(t, h.tracker.heartbeat.Bind(context.Background(), conn), ErrTrackerStopped)
}
