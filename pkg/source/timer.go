package source

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrTimerRunning is returned when Start is called on a running timer.
	ErrTimerRunning = errors.New("timer already running")
	// ErrBadPeriod is returned for non-positive periods.
	ErrBadPeriod = errors.New("timer period must be > 0")
)

// Timer paces the sampling callback, standing in for a hardware timer
// interrupt. The callback must not block.
type Timer interface {
	// Start begins calling tick once per period.
	Start(period time.Duration, tick func()) error
	// Stop requests the timer to stop. It does not wait and is safe to call
	// from inside the callback; no tick starts after Stop returns.
	Stop()
	// Wait blocks until no callback is running. Must not be called from the callback.
	Wait()
}

// Ensure timers implement Timer.
var (
	_ Timer = (*Ticker)(nil)
	_ Timer = (*Instant)(nil)
	_ Timer = (*Manual)(nil)
	_ Timer = (*Paced)(nil)
)

// DefaultMinWake is the shortest sleep the Ticker uses between batches.
const DefaultMinWake = time.Millisecond

// Ticker drives the callback from a time.Ticker. Periods shorter than
// MinWake are emulated by running every tick that fell due since the last
// wakeup in one batch, so the number of ticks always matches elapsed time.
type Ticker struct {
	MinWake time.Duration

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	stopped atomic.Bool
}

// NewTicker creates a Ticker with the default wake granularity.
func NewTicker() *Ticker {
	return &Ticker{MinWake: DefaultMinWake}
}

// Start starts the tick loop in its own goroutine.
func (t *Ticker) Start(period time.Duration, tick func()) error {
	if period <= 0 {
		return ErrBadPeriod
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done != nil {
		select {
		case <-t.done:
		default:
			return ErrTimerRunning
		}
	}

	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	t.stopped.Store(false)

	go t.loop(period, tick, t.stop, t.done)
	return nil
}

func (t *Ticker) loop(period time.Duration, tick func(), stop, done chan struct{}) {
	defer close(done)

	wake := period
	minWake := t.MinWake
	if minWake <= 0 {
		minWake = DefaultMinWake
	}
	if wake < minWake {
		wake = minWake
	}

	tk := time.NewTicker(wake)
	defer tk.Stop()

	start := time.Now()
	var fired int64
	for {
		select {
		case <-stop:
			return
		case now := <-tk.C:
			due := int64(now.Sub(start) / period)
			for fired < due {
				if t.stopped.Load() {
					return
				}
				tick()
				fired++
			}
		}
	}
}

// Stop signals the loop to exit.
func (t *Ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil && t.stopped.CompareAndSwap(false, true) {
		close(t.stop)
	}
}

// Wait blocks until the loop goroutine has exited.
func (t *Ticker) Wait() {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Paced spins on a clock and starts every tick exactly one period after
// the previous deadline. It keeps a core busy for the whole capture and
// is the timer the device samples with. A tick that overruns a full
// period is counted in Late and the schedule restarts from the overrun.
type Paced struct {
	// Now returns a monotonic timestamp. Defaults to the time since Start.
	Now func() time.Duration
	// Yield runs between clock reads. Defaults to runtime.Gosched.
	Yield func()

	mu      sync.Mutex
	done    chan struct{}
	stopped atomic.Bool
	late    atomic.Int64
}

// Start starts the loop in its own goroutine. The first tick is due
// immediately.
func (t *Paced) Start(period time.Duration, tick func()) error {
	if period <= 0 {
		return ErrBadPeriod
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done != nil {
		select {
		case <-t.done:
		default:
			return ErrTimerRunning
		}
	}
	t.done = make(chan struct{})
	t.stopped.Store(false)
	t.late.Store(0)

	now := t.Now
	if now == nil {
		start := time.Now()
		now = func() time.Duration { return time.Since(start) }
	}
	yield := t.Yield
	if yield == nil {
		yield = runtime.Gosched
	}

	go t.loop(period, tick, now, yield, t.done)
	return nil
}

func (t *Paced) loop(period time.Duration, tick func(), now func() time.Duration, yield func(), done chan struct{}) {
	defer close(done)

	deadline := now()
	for {
		for now() < deadline {
			if t.stopped.Load() {
				return
			}
			yield()
		}
		if t.stopped.Load() {
			return
		}
		tick()

		deadline += period
		if at := now(); at-deadline >= period {
			t.late.Add(1)
			deadline = at
		}
	}
}

// Late returns how many ticks of the current run overran a period.
func (t *Paced) Late() int64 { return t.late.Load() }

// Stop signals the loop to exit.
func (t *Paced) Stop() { t.stopped.Store(true) }

// Wait blocks until the loop goroutine has exited.
func (t *Paced) Wait() {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Instant runs the callback back to back in its own goroutine, ignoring the
// period. Used to replay captures as fast as the host can go.
type Instant struct {
	mu      sync.Mutex
	done    chan struct{}
	stopped atomic.Bool
}

// Start starts the loop.
func (t *Instant) Start(period time.Duration, tick func()) error {
	if period <= 0 {
		return ErrBadPeriod
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done != nil {
		select {
		case <-t.done:
		default:
			return ErrTimerRunning
		}
	}
	t.done = make(chan struct{})
	t.stopped.Store(false)

	go func(done chan struct{}) {
		defer close(done)
		for i := 1; !t.stopped.Load(); i++ {
			tick()
			if i%1024 == 0 {
				runtime.Gosched()
			}
		}
	}(t.done)
	return nil
}

// Stop signals the loop to exit.
func (t *Instant) Stop() { t.stopped.Store(true) }

// Wait blocks until the loop goroutine has exited.
func (t *Instant) Wait() {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Manual is a timer driven explicitly by Step, for deterministic tests.
type Manual struct {
	tickMu  sync.Mutex // held while a tick runs
	mu      sync.Mutex
	tick    func()
	period  time.Duration
	running bool
	started chan struct{}
}

// NewManual creates a stopped manual timer.
func NewManual() *Manual {
	return &Manual{started: make(chan struct{}, 1)}
}

// Start arms the timer; ticks happen on Step.
func (m *Manual) Start(period time.Duration, tick func()) error {
	if period <= 0 {
		return ErrBadPeriod
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrTimerRunning
	}
	m.tick = tick
	m.period = period
	m.running = true
	select {
	case m.started <- struct{}{}:
	default:
	}
	return nil
}

// Started is signalled every time the timer is started.
func (m *Manual) Started() <-chan struct{} { return m.started }

// Step runs up to n ticks and returns how many ran. It stops early when
// the callback stops the timer.
func (m *Manual) Step(n int) int {
	ran := 0
	for ; ran < n; ran++ {
		m.tickMu.Lock()
		m.mu.Lock()
		if !m.running {
			m.mu.Unlock()
			m.tickMu.Unlock()
			break
		}
		tick := m.tick
		m.mu.Unlock()
		tick()
		m.tickMu.Unlock()
	}
	return ran
}

// Running reports whether the timer is started.
func (m *Manual) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Period returns the period passed to the last Start.
func (m *Manual) Period() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.period
}

// Stop stops the timer.
func (m *Manual) Stop() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

// Wait blocks until a tick running inside Step has returned.
func (m *Manual) Wait() {
	m.tickMu.Lock()
	m.tickMu.Unlock()
}
