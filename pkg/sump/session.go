// Package sump implements the device side of the SUMP/OLS-style capture
// protocol: command parsing, the session state machine and the capture
// run that streams frames while sampling continues.
package sump

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itohio/jlsump/pkg/capture"
	"github.com/itohio/jlsump/pkg/decimate"
	"github.com/itohio/jlsump/pkg/sample"
	"github.com/itohio/jlsump/pkg/source"
)

const (
	// DefaultIdentity is the ID response.
	DefaultIdentity = "Jumperless LA v1"
	// DefaultBaseClock is the clock SUMP dividers refer to.
	DefaultBaseClock = 100_000_000
	// DefaultRate is the sample rate used until SET_DIVIDER arrives.
	DefaultRate = 100_000
)

// Options configures a Session. Zero values select defaults.
type Options struct {
	Identity       string
	BaseClock      uint32
	DefaultRate    uint32
	RateLimit      uint32 // aggregate ADC rate, see decimate.DefaultADCRateLimit
	MaxRate        uint32 // fastest digital rate the timer paces evenly, 0 = unlimited
	Geometry       capture.Geometry
	FaultThreshold int
	Observer       Observer
}

func (o *Options) ensureDefaults() {
	if o.Identity == "" {
		o.Identity = DefaultIdentity
	}
	if o.BaseClock == 0 {
		o.BaseClock = DefaultBaseClock
	}
	if o.DefaultRate == 0 {
		o.DefaultRate = DefaultRate
	}
	if o.RateLimit == 0 {
		o.RateLimit = decimate.DefaultADCRateLimit
	}
	if o.Geometry == (capture.Geometry{}) {
		o.Geometry = capture.DefaultGeometry()
	}
	if o.FaultThreshold == 0 {
		o.FaultThreshold = source.DefaultFaultThreshold
	}
	if o.Observer == nil {
		o.Observer = NopObserver{}
	}
}

// Session is one protocol session. It is owned by the goroutine running
// Serve (or calling Exec); only a capture run touches the buffer
// concurrently, and configuration commands are refused while one is
// active.
type Session struct {
	opts    Options
	src     source.Source
	timer   source.Timer
	planner decimate.Planner
	buf     *capture.Buffer
	obs     Observer

	state atomic.Uint32

	ch    sample.Channels
	rate  uint32
	plan  decimate.Plan
	max   int
	count int // 0 means max

	w   *syncWriter
	run *run
}

// New creates an idle session sampling src paced by timer.
func New(src source.Source, timer source.Timer, opts Options) (*Session, error) {
	if src == nil || timer == nil {
		return nil, errors.New("sump: source and timer are required")
	}
	opts.ensureDefaults()
	if opts.MaxRate > 0 && opts.DefaultRate > opts.MaxRate {
		return nil, fmt.Errorf("sump: default rate %d above max rate %d", opts.DefaultRate, opts.MaxRate)
	}

	buf, err := capture.NewBuffer(opts.Geometry)
	if err != nil {
		return nil, fmt.Errorf("sump: %w", err)
	}

	s := &Session{
		opts:    opts,
		src:     src,
		timer:   timer,
		planner: decimate.NewPlanner(opts.RateLimit, opts.Geometry),
		buf:     buf,
		obs:     opts.Observer,
		rate:    opts.DefaultRate,
		w:       &syncWriter{w: io.Discard},
	}
	return s, nil
}

// State returns the current state. Safe for concurrent use.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(to State) {
	from := State(s.state.Swap(uint32(to)))
	if from != to {
		s.obs.StateChanged(from, to)
	}
}

// Channels returns the active channel configuration.
func (s *Session) Channels() sample.Channels { return s.ch }

// Plan returns the decimation plan of the current configuration.
func (s *Session) Plan() decimate.Plan { return s.plan }

// MaxSamples returns the capacity of the current configuration.
func (s *Session) MaxSamples() int { return s.max }

// SampleCount returns the number of samples the next run captures.
func (s *Session) SampleCount() int {
	if s.count == 0 {
		return s.max
	}
	return s.count
}

// Rate returns the requested sample rate.
func (s *Session) Rate() uint32 { return s.rate }

// Serve reads commands from rw and executes them until the context is
// cancelled or the stream ends. Responses and frames are written to rw.
// When rw implements io.Closer it is closed on cancellation to unblock
// the pending read.
func (s *Session) Serve(ctx context.Context, rw io.ReadWriter) error {
	s.Attach(rw)
	defer s.detach()

	stop := context.AfterFunc(ctx, func() {
		if c, ok := rw.(io.Closer); ok {
			c.Close()
		}
	})
	defer stop()

	for {
		cmd, err := ReadCommand(rw)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("sump: read command: %w", err)
		}
		if err := s.Exec(cmd); err != nil && errors.Is(err, errWrite) {
			return err
		}
	}
}

func (s *Session) detach() {
	if s.State().Running() || s.State() == Armed {
		s.stop()
		s.setState(Idle)
	}
	s.reap()
	s.Attach(io.Discard)
}

// Attach directs responses and frames to w.
func (s *Session) Attach(w io.Writer) {
	s.w.mu.Lock()
	s.w.w = w
	s.w.mu.Unlock()
}

var errWrite = errors.New("sump: write response")

// Exec executes one command and writes its response. The returned error
// describes a refused command; it has already been reported to the host.
func (s *Session) Exec(cmd Command) error {
	s.reap()

	err := s.exec(cmd)
	code := CodeOf(err)
	if errors.Is(err, errWrite) {
		code = ProtocolFault
	}
	s.obs.Command(cmd.Op, code)
	return err
}

func (s *Session) exec(cmd Command) error {
	switch cmd.Op {
	case OpReset:
		s.stop()
		s.ch = sample.Channels{}
		s.plan = decimate.Plan{}
		s.max = 0
		s.count = 0
		s.setState(Idle)
		return nil

	case OpID:
		return s.respond(OK, []byte(s.opts.Identity))

	case OpGetStatus:
		r := Report{
			State:      s.State(),
			Factor:     s.plan.Factor,
			MaxSamples: s.max,
			Count:      s.SampleCount(),
			Captured:   s.buf.Written(),
		}
		return s.respond(OK, r.Append(nil))

	case OpSetChannels:
		return s.setChannels(cmd)

	case OpSetDivider:
		return s.setDivider(cmd)

	case OpSetCount, OpSetReadCount:
		return s.setCount(cmd)

	case OpSetFlags:
		return nil

	case OpArm:
		if !s.configurable() {
			return s.refuse(StateError, "arm", nil)
		}
		s.buf.Reset()
		s.setState(Armed)
		return nil

	case OpRun:
		if s.State() != Armed {
			return s.refuse(StateError, "run", nil)
		}
		if err := s.start(); err != nil {
			return s.refuse(CodeOf(err), "run", err)
		}
		return nil

	case OpAbort:
		st := s.State()
		if st != Armed && !st.Running() {
			return s.refuse(StateError, "abort", nil)
		}
		n, answer := s.stop()
		s.setState(Idle)
		if !answer {
			// the fault status that ended the run answers the abort
			return nil
		}
		return s.respondCount(Aborted, n)

	default:
		if cmd.Op&0x80 != 0 {
			// long commands of the full SUMP set (triggers, flags) are accepted and ignored
			return nil
		}
		return s.refuse(ProtocolFault, OpName(cmd.Op), nil)
	}
}

// configurable reports whether configuration commands may change the
// session. A configuration survives a finished or aborted run, so Idle
// with channels set behaves like Configured.
func (s *Session) configurable() bool {
	switch s.State() {
	case Configured, Armed:
		return true
	case Idle:
		return !s.ch.IsZero()
	default:
		return false
	}
}

func (s *Session) setChannels(cmd Command) error {
	switch s.State() {
	case Idle, Configured:
	default:
		return s.refuse(StateError, "set channels", nil)
	}

	ch, err := cmd.Channels()
	if err != nil {
		return s.refuse(ConfigurationError, "set channels", err)
	}
	plan := s.planner.Plan(s.rate, ch.AnalogCount())
	max, err := s.buf.Configure(ch, plan.Factor)
	if err != nil {
		return s.refuse(ConfigurationError, "set channels", err)
	}

	s.ch = ch
	s.plan = plan
	s.max = max
	if s.count > max {
		s.count = max
	}
	s.setState(Configured)
	s.obs.Configured(ch, plan, max)

	// the host reads max_samples from here, so state is final before this write
	return s.respondCount(OK, max)
}

func (s *Session) setDivider(cmd Command) error {
	st := s.State()
	if st.Running() {
		return s.refuse(StateError, "set divider", nil)
	}

	rate := RateOf(s.opts.BaseClock, cmd.Divider())
	if rate == 0 {
		return s.refuse(ConfigurationError, "set divider", fmt.Errorf("divider %d above base clock", cmd.Divider()))
	}
	if s.opts.MaxRate > 0 && rate > s.opts.MaxRate {
		return s.refuse(ConfigurationError, "set divider", fmt.Errorf("rate %d above %d", rate, s.opts.MaxRate))
	}
	if s.ch.IsZero() {
		// no channels yet: remember the rate for the next SET_CHANNELS
		s.rate = rate
		return nil
	}

	plan := s.planner.Plan(rate, s.ch.AnalogCount())
	max, err := s.buf.Configure(s.ch, plan.Factor)
	if err != nil {
		return s.refuse(ConfigurationError, "set divider", err)
	}
	s.rate = rate
	s.plan = plan
	s.max = max
	if s.count > max {
		s.count = max
	}
	if st == Idle {
		s.setState(Configured)
	}
	s.obs.Configured(s.ch, plan, max)
	return nil
}

func (s *Session) setCount(cmd Command) error {
	if !s.configurable() {
		return s.refuse(StateError, "set sample count", nil)
	}

	n := cmd.ReadCount()
	if n <= 0 || n > s.max {
		return s.refuse(ConfigurationError, "set sample count",
			fmt.Errorf("%d samples, at most %d", n, s.max))
	}
	s.count = n
	if s.State() == Idle {
		s.setState(Configured)
	}
	return nil
}

// refuse reports a refused command to the host and returns the error.
func (s *Session) refuse(code Code, op string, cause error) error {
	e := newError(code, op, cause)
	if err := s.respond(code, nil); err != nil {
		return err
	}
	return e
}

func (s *Session) respond(code Code, payload []byte) error {
	var buf [3 + MaxStatusPayload]byte
	return s.w.write(AppendStatus(buf[:0], code, payload))
}

func (s *Session) respondCount(code Code, n int) error {
	var buf [7]byte
	return s.w.write(AppendCount(buf[:0], code, n))
}

// syncWriter serialises writes of the command loop and the drainer. Each
// write is a whole status packet or a run of whole frames.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) write(p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(p); err != nil {
		return fmt.Errorf("%w: %w", errWrite, err)
	}
	return nil
}

// period converts a sample rate to the timer period.
func period(rate uint32) time.Duration {
	if rate == 0 {
		return time.Second
	}
	p := time.Second / time.Duration(rate)
	if p <= 0 {
		p = 1
	}
	return p
}
