package sump

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/itohio/jlsump/pkg/capture"
	"github.com/itohio/jlsump/pkg/frame"
	"github.com/itohio/jlsump/pkg/sample"
	"github.com/itohio/jlsump/pkg/source"
)

// chunkSize is the size of frame batches handed to the transport.
const chunkSize = 4096

// run is one capture. The timer goroutine executes tick; the drainer
// goroutine encodes the halves tick hands off. Fields below the marker
// are owned by tick until sampled is closed.
type run struct {
	s      *Session
	buf    *capture.Buffer
	timer  source.Timer
	ch     sample.Channels
	count  int
	out    []byte

	stopped   atomic.Bool
	sampled   chan struct{} // closed by tick when sampling ends
	abort     chan struct{} // closed by the command loop
	abortOnce sync.Once
	report    sync.Once
	answered  atomic.Bool // a status ending the run has been claimed
	done      chan struct{} // closed when the drainer exits

	// owned by tick
	reader   *source.Reader
	cur      sample.Sample
	n        int
	finished bool
	err      error
}

func (s *Session) start() error {
	if s.ch.IsZero() {
		return newError(ConfigurationError, "run", sample.ErrNoChannels)
	}

	r := &run{
		s:       s,
		buf:     s.buf,
		timer:   s.timer,
		ch:      s.ch,
		count:   s.SampleCount(),
		out:     make([]byte, 0, chunkSize),
		reader:  source.NewReader(s.src, s.ch, s.opts.FaultThreshold),
		sampled: make(chan struct{}),
		abort:   make(chan struct{}),
		done:    make(chan struct{}),
	}

	// the previous run's last callback must have returned
	s.timer.Wait()

	s.run = r
	s.setState(Capturing)
	s.obs.CaptureStarted(r.ch, s.plan, r.count)

	go r.drain()

	if err := s.timer.Start(period(s.rate), r.tick); err != nil {
		r.cancel()
		<-r.done
		s.run = nil
		s.buf.Reset()
		s.setState(Armed)
		return newError(HardwareReadFault, "start timer", err)
	}
	return nil
}

// tick takes one sample. It runs in the timer callback and must neither
// block nor allocate.
func (r *run) tick() {
	if r.finished || r.stopped.Load() {
		return
	}
	if err := r.reader.Read(&r.cur, r.buf.NeedsAnalog()); err != nil {
		r.end(err)
		return
	}
	if err := r.buf.Write(r.cur); err != nil {
		r.end(err)
		return
	}
	r.n++
	if r.n >= r.count {
		r.buf.Flush()
		r.end(nil)
	}
}

func (r *run) end(err error) {
	r.finished = true
	r.err = err
	r.timer.Stop()
	close(r.sampled)
}

func (r *run) cancel() {
	r.abortOnce.Do(func() {
		r.stopped.Store(true)
		close(r.abort)
	})
}

// claim reserves the single status packet that ends a run. A fault
// reported by the drainer and an ABORT from the host race for it.
func (r *run) claim() bool {
	return r.answered.CompareAndSwap(false, true)
}

func (r *run) aborted() bool {
	select {
	case <-r.abort:
		return true
	default:
		return false
	}
}

func (r *run) drain() {
	defer close(r.done)

	for {
		select {
		case h := <-r.buf.Ready():
			if err := r.send(h); err != nil {
				r.fail(err)
				return
			}
		case <-r.sampled:
			r.finish()
			return
		case <-r.abort:
			return
		}
	}
}

// finish streams what is left once sampling has ended.
func (r *run) finish() {
	if r.err != nil {
		r.fail(r.err)
		return
	}

	r.s.setState(Draining)
rest:
	for {
		select {
		case h := <-r.buf.Ready():
			if err := r.send(h); err != nil {
				r.fail(err)
				return
			}
		default:
			break rest
		}
	}
	if r.aborted() {
		return
	}

	r.timer.Wait()
	r.s.setState(Idle)
	r.conclude(nil)
}

// fail ends the run on a sampling fault or a transport error and reports
// it to the host.
func (r *run) fail(err error) {
	if !r.claim() {
		return
	}
	r.stopped.Store(true)
	r.timer.Stop()
	r.timer.Wait()
	r.buf.Reset()

	r.s.setState(Idle)
	r.conclude(err)
	if !errors.Is(err, errWrite) {
		r.s.respondCount(CodeOf(err), r.n)
	}
}

// conclude reports the outcome of the run once.
func (r *run) conclude(err error) {
	r.report.Do(func() {
		r.s.obs.CaptureFinished(r.n, int(r.reader.Faults()), err)
	})
}

// send encodes half h in chunks of whole frames.
func (r *run) send(h int) error {
	size := frame.Size(r.ch)
	frames := 0
	for smp := range r.buf.DrainHalf(h) {
		if len(r.out)+size > cap(r.out) {
			if err := r.flush(); err != nil {
				return err
			}
			if r.aborted() {
				return nil
			}
		}
		r.out = frame.Append(r.out, smp, r.ch)
		frames++
	}
	r.buf.Release(h)
	if err := r.flush(); err != nil {
		return err
	}
	r.s.obs.FramesSent(frames)
	return nil
}

func (r *run) flush() error {
	if len(r.out) == 0 {
		return nil
	}
	err := r.s.w.write(r.out)
	r.out = r.out[:0]
	return err
}

// stop ends the active run, if any, and returns the samples it captured.
// answer is false when the run already reported a fault to the host.
// The buffer is left reset.
func (s *Session) stop() (n int, answer bool) {
	r := s.run
	if r == nil {
		s.buf.Reset()
		return 0, true
	}

	answer = r.claim()
	r.cancel()
	s.timer.Stop()
	s.timer.Wait()
	<-r.done
	r.conclude(Aborted)
	s.run = nil
	s.buf.Reset()
	return r.n, answer
}

// reap forgets a run whose drainer has finished.
func (s *Session) reap() {
	r := s.run
	if r == nil || s.State().Running() {
		return
	}
	<-r.done
	s.run = nil
}
