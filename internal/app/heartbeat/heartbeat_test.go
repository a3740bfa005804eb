package heartbeat

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottle_OnePerInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	th := NewThrottle(clock, 2*time.Second)

	ok, _ := th.Allow("p1")
	assert.True(t, ok)

	clock.Advance(500 * time.Millisecond)
	ok, wait := th.Allow("p1")
	assert.False(t, ok)
	assert.Equal(t, 1500*time.Millisecond, wait)

	ok, _ = th.Allow("p2")
	assert.True(t, ok, "participants are throttled independently")

	clock.Advance(1500 * time.Millisecond)
	ok, _ = th.Allow("p1")
	assert.True(t, ok)

	th.Forget("p1")
	ok, _ = th.Allow("p1")
	assert.True(t, ok)
}

func TestLoop_TicksUntilStopped(t *testing.T) {
	var ticks atomic.Int32
	l, err := NewLoop(clockwork.NewRealClock(), 10*time.Millisecond, func() { ticks.Add(1) })
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Shutdown() })

	require.NoError(t, l.Start())
	require.NoError(t, l.Start())
	assert.True(t, l.Running())
	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	l.Stop()
	assert.False(t, l.Running())
	time.Sleep(30 * time.Millisecond)
	stopped := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, ticks.Load())
}

func TestNewLoop_RejectsZeroInterval(t *testing.T) {
	_, err := NewLoop(clockwork.NewRealClock(), 0, func() {})
	assert.Error(t, err)
}
