package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoller_InvokesCallback(t *testing.T) {
	p := NewPoller(10*time.Millisecond, nil)

	var ticks atomic.Int32
	p.SetPollCallback(func() { ticks.Add(1) })

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	assert.Eventually(t, func() bool {
		return ticks.Load() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestPoller_StopHaltsTicks(t *testing.T) {
	p := NewPoller(10*time.Millisecond, nil)

	var ticks atomic.Int32
	p.SetPollCallback(func() { ticks.Add(1) })

	require.NoError(t, p.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return ticks.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	p.Stop()
	seen := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, seen, ticks.Load())
}

func TestPoller_StartTwiceIsNoop(t *testing.T) {
	p := NewPoller(10*time.Millisecond, nil)
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Start(context.Background()))
	p.Stop()
}

func TestPoller_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPoller(10*time.Millisecond, nil)

	var ticks atomic.Int32
	p.SetPollCallback(func() { ticks.Add(1) })

	require.NoError(t, p.Start(ctx))
	cancel()

	time.Sleep(30 * time.Millisecond)
	seen := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, seen, ticks.Load())
}
