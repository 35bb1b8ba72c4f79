package source

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManual_Step(t *testing.T) {
	m := NewManual()
	var ticks int

	assert.Equal(t, 0, m.Step(5), "not started")

	require.NoError(t, m.Start(time.Microsecond, func() { ticks++ }))
	assert.ErrorIs(t, m.Start(time.Microsecond, func() {}), ErrTimerRunning)
	assert.True(t, m.Running())
	assert.Equal(t, time.Microsecond, m.Period())

	assert.Equal(t, 5, m.Step(5))
	assert.Equal(t, 5, ticks)

	m.Stop()
	m.Wait()
	assert.Equal(t, 0, m.Step(5))
	assert.False(t, m.Running())
}

func TestManual_StopFromCallback(t *testing.T) {
	m := NewManual()
	var ticks int
	require.NoError(t, m.Start(time.Microsecond, func() {
		ticks++
		if ticks == 3 {
			m.Stop()
		}
	}))

	assert.Equal(t, 3, m.Step(10))
	assert.Equal(t, 3, ticks)
}

func TestManual_BadPeriod(t *testing.T) {
	assert.ErrorIs(t, NewManual().Start(0, func() {}), ErrBadPeriod)
	assert.ErrorIs(t, NewTicker().Start(-1, func() {}), ErrBadPeriod)
	assert.ErrorIs(t, (&Instant{}).Start(0, func() {}), ErrBadPeriod)
}

func TestTicker_BatchesShortPeriods(t *testing.T) {
	tk := NewTicker()
	var ticks atomic.Int64

	require.NoError(t, tk.Start(10*time.Microsecond, func() { ticks.Add(1) }))
	time.Sleep(50 * time.Millisecond)
	tk.Stop()
	tk.Wait()

	// 50 ms at 100 kHz is ~5000 ticks; allow for scheduling slack.
	assert.Greater(t, ticks.Load(), int64(1000))

	after := ticks.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, after, ticks.Load(), "no ticks after Stop")
}

func TestTicker_StopFromCallbackAndRestart(t *testing.T) {
	tk := NewTicker()
	var ticks atomic.Int64

	require.NoError(t, tk.Start(100*time.Microsecond, func() {
		if ticks.Add(1) == 10 {
			tk.Stop()
		}
	}))
	tk.Wait()
	assert.Equal(t, int64(10), ticks.Load())

	require.NoError(t, tk.Start(time.Millisecond, func() { ticks.Add(1) }))
	tk.Stop()
	tk.Wait()
}

func TestInstant_RunsUntilStopped(t *testing.T) {
	in := &Instant{}
	var ticks atomic.Int64

	require.NoError(t, in.Start(time.Second, func() {
		if ticks.Add(1) == 5000 {
			in.Stop()
		}
	}))
	in.Wait()
	assert.Equal(t, int64(5000), ticks.Load())
}

// fakeClock advances one microsecond every time the timer yields.
type fakeClock struct{ ns atomic.Int64 }

func (c *fakeClock) now() time.Duration    { return time.Duration(c.ns.Load()) }
func (c *fakeClock) yield()                { c.ns.Add(int64(time.Microsecond)) }
func (c *fakeClock) spend(d time.Duration) { c.ns.Add(int64(d)) }

func TestPaced_EvenSpacing(t *testing.T) {
	clk := &fakeClock{}
	p := &Paced{Now: clk.now, Yield: clk.yield}

	var stamps []time.Duration
	require.NoError(t, p.Start(10*time.Microsecond, func() {
		stamps = append(stamps, clk.now())
		if len(stamps) == 100 {
			p.Stop()
		}
	}))
	p.Wait()

	require.Len(t, stamps, 100)
	for i, at := range stamps {
		require.Equal(t, time.Duration(i)*10*time.Microsecond, at, "tick %d", i)
	}
	assert.Zero(t, p.Late())
}

func TestPaced_OverrunDoesNotBurst(t *testing.T) {
	clk := &fakeClock{}
	p := &Paced{Now: clk.now, Yield: clk.yield}
	const period = 10 * time.Microsecond

	var stamps []time.Duration
	require.NoError(t, p.Start(period, func() {
		stamps = append(stamps, clk.now())
		if len(stamps) == 4 {
			clk.spend(25 * time.Microsecond)
		}
		if len(stamps) == 20 {
			p.Stop()
		}
	}))
	p.Wait()

	require.Len(t, stamps, 20)
	for i := 1; i < len(stamps); i++ {
		assert.GreaterOrEqual(t, stamps[i]-stamps[i-1], period, "gap before tick %d", i)
	}
	assert.Equal(t, int64(1), p.Late())
}

func TestPaced_WallClock(t *testing.T) {
	p := &Paced{}
	const period = 50 * time.Microsecond
	var ticks atomic.Int64

	start := time.Now()
	require.NoError(t, p.Start(period, func() {
		if ticks.Add(1) == 20 {
			p.Stop()
		}
	}))
	p.Wait()

	assert.Equal(t, int64(20), ticks.Load())
	assert.GreaterOrEqual(t, time.Since(start), 19*period, "ticks are never early")
	assert.ErrorIs(t, (&Paced{}).Start(0, func() {}), ErrBadPeriod)
}
