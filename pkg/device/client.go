// Package device talks to a capture device over the SUMP-style protocol.
package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/itohio/jlsump/pkg/frame"
	"github.com/itohio/jlsump/pkg/sample"
	"github.com/itohio/jlsump/pkg/sump"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotConnected is returned by requests on a closed device.
	ErrNotConnected = errors.New("not connected")
	// ErrAlreadyConnected is returned by Connect on an open device.
	ErrAlreadyConnected = errors.New("already connected")
	// ErrBusy is returned while a stream owns the connection.
	ErrBusy = errors.New("capture in progress")
)

// DefaultBufferSize is the default size of the stream sample channel.
const DefaultBufferSize = 1024

// Request describes a capture.
type Request struct {
	Channels sample.Channels
	Rate     uint32 // samples per second
	Count    int    // 0 = as many as fit
}

// Capture is a finished capture.
type Capture struct {
	Channels   sample.Channels
	Rate       uint32
	Factor     int
	MaxSamples int
	Samples    []sample.Sample
}

// client speaks the protocol over one connection. Requests are
// serialised; a stream holds the connection until it ends.
type client struct {
	log       logrus.FieldLogger
	baseClock uint32
	bufSize   int

	mu   sync.Mutex
	busy bool
	rw   io.ReadWriter
	r    *bufio.Reader
}

func newClient(rw io.ReadWriter, baseClock uint32, bufSize int, log logrus.FieldLogger) *client {
	if baseClock == 0 {
		baseClock = sump.DefaultBaseClock
	}
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &client{
		log:       log,
		baseClock: baseClock,
		bufSize:   bufSize,
		rw:        rw,
		r:         bufio.NewReader(rw),
	}
}

func (c *client) acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return ErrBusy
	}
	c.busy = true
	return nil
}

func (c *client) release() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

func (c *client) send(cmds ...sump.Command) error {
	var buf []byte
	for _, cmd := range cmds {
		buf = cmd.Append(buf)
	}
	if _, err := c.rw.Write(buf); err != nil {
		return fmt.Errorf("failed to send %s: %w", sump.OpName(cmds[0].Op), err)
	}
	return nil
}

// post writes cmds from its own goroutine. Devices answer SET_CHANNELS
// before the batch is fully consumed, so on unbuffered links the answers
// must be read while the write is still pending.
func (c *client) post(cmds ...sump.Command) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- c.send(cmds...)
	}()
	return done
}

func (c *client) status() (sump.Status, error) {
	st, err := sump.ReadStatus(c.r)
	if err != nil {
		return sump.Status{}, fmt.Errorf("failed to read status: %w", err)
	}
	return st, nil
}

// ID returns the device identity.
func (c *client) ID() (string, error) {
	if err := c.acquire(); err != nil {
		return "", err
	}
	defer c.release()

	if err := c.send(sump.NewCommand(sump.OpID)); err != nil {
		return "", err
	}
	st, err := c.status()
	if err != nil {
		return "", err
	}
	if err := st.Err(); err != nil {
		return "", fmt.Errorf("id: %w", err)
	}
	return string(st.Payload), nil
}

// Status returns the session report.
func (c *client) Status() (sump.Report, error) {
	if err := c.acquire(); err != nil {
		return sump.Report{}, err
	}
	defer c.release()

	if err := c.send(sump.NewCommand(sump.OpGetStatus)); err != nil {
		return sump.Report{}, err
	}
	return c.report()
}

// report reads statuses up to the GET_STATUS report and returns the first
// refusal among them.
func (c *client) report() (sump.Report, error) {
	var refused error
	for {
		st, err := c.status()
		if err != nil {
			return sump.Report{}, err
		}
		if st.Code != sump.OK {
			if refused == nil {
				refused = st.Code
			}
			continue
		}
		if len(st.Payload) != sump.ReportSize {
			continue
		}
		r, err := sump.ParseReport(st.Payload)
		if err != nil {
			return sump.Report{}, err
		}
		return r, refused
	}
}

// Configure resets the device and applies req. GET_STATUS closes the
// sequence so refusals of commands without a success response are seen.
func (c *client) Configure(req Request) (int, error) {
	if err := c.acquire(); err != nil {
		return 0, err
	}
	defer c.release()

	r, err := c.configure(req)
	return r.MaxSamples, err
}

func (c *client) configure(req Request) (sump.Report, error) {
	if err := req.Channels.Validate(); err != nil {
		return sump.Report{}, fmt.Errorf("configure: %w", err)
	}
	if req.Rate == 0 {
		req.Rate = sump.DefaultRate
	}

	cmds := []sump.Command{
		sump.NewCommand(sump.OpReset),
		sump.SetDivider(sump.DividerFor(c.baseClock, req.Rate)),
		sump.SetChannels(req.Channels),
	}
	if req.Count > 0 {
		cmds = append(cmds, sump.SetSampleCount(req.Count))
	}
	cmds = append(cmds, sump.NewCommand(sump.OpGetStatus))
	written := c.post(cmds...)

	r, err := c.report()
	if werr := <-written; werr != nil {
		return sump.Report{}, werr
	}
	if err != nil {
		return r, fmt.Errorf("configure %s: %w", req.Channels, err)
	}
	c.log.WithFields(logrus.Fields{
		"channels":    req.Channels.String(),
		"rate":        req.Rate,
		"factor":      r.Factor,
		"max_samples": r.MaxSamples,
		"count":       r.Count,
	}).Debug("Device configured")
	return r, nil
}

// Stream is a running capture. Samples is closed when the capture ends;
// Err reports why afterwards.
type Stream struct {
	Channels   sample.Channels
	Rate       uint32
	Factor     int
	MaxSamples int
	Count      int

	samples chan sample.Sample
	err     error
}

// Samples returns the decoded samples in capture order.
func (s *Stream) Samples() <-chan sample.Sample { return s.samples }

// Err returns the error that ended the stream, nil after a complete
// capture. Valid once Samples is closed.
func (s *Stream) Err() error { return s.err }

// Stream configures and starts a capture. Cancelling ctx aborts it on
// the device.
func (c *client) Stream(ctx context.Context, req Request) (*Stream, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}

	r, err := c.configure(req)
	if err != nil {
		c.release()
		return nil, err
	}
	if err := c.send(sump.NewCommand(sump.OpArm), sump.NewCommand(sump.OpRun)); err != nil {
		c.release()
		return nil, err
	}

	rate := req.Rate
	if rate == 0 {
		rate = sump.DefaultRate
	}
	s := &Stream{
		Channels:   req.Channels,
		Rate:       sump.RateOf(c.baseClock, sump.DividerFor(c.baseClock, rate)),
		Factor:     r.Factor,
		MaxSamples: r.MaxSamples,
		Count:      r.Count,
		samples:    make(chan sample.Sample, c.bufSize),
	}
	go c.receive(ctx, s)
	return s, nil
}

func (c *client) receive(ctx context.Context, s *Stream) {
	// release before close so the connection is free once Samples ends
	defer close(s.samples)
	defer c.release()

	aborted := make(chan error, 1)
	stop := context.AfterFunc(ctx, func() {
		aborted <- c.send(sump.NewCommand(sump.OpAbort))
	})

	dec := frame.NewDecoder(c.r, s.Channels)
	n := 0
	for n < s.Count {
		f, err := dec.Next()
		if err != nil {
			s.err = c.interrupted(err, n)
			break
		}
		select {
		case s.samples <- f.Sample(s.Channels):
		case <-ctx.Done():
			// keep draining until the device acknowledges the abort
		}
		n++
	}

	if !stop() {
		abortErr := <-aborted
		switch {
		case s.err == nil:
			// every frame arrived first; the abort is still answered
			if abortErr == nil {
				_, abortErr = c.status()
			}
			s.err = ctx.Err()
			if abortErr != nil {
				s.err = fmt.Errorf("%w: %w", s.err, abortErr)
			}
		case errors.Is(s.err, sump.Aborted):
			s.err = fmt.Errorf("%w: %w", ctx.Err(), s.err)
		}
	}

	entry := c.log.WithFields(logrus.Fields{"samples": n, "count": s.Count})
	if s.err != nil {
		entry.WithError(s.err).Warn("Capture ended early")
		return
	}
	entry.Debug("Capture complete")
}

// interrupted turns a decode failure into the status that caused it. A
// status packet in place of a frame shows up as an unknown marker whose
// header starts with the status marker.
func (c *client) interrupted(err error, n int) error {
	var pe *frame.ParseError
	if !errors.As(err, &pe) || pe.Header[0] != sump.StatusMarker {
		return fmt.Errorf("after %d samples: %w", n, err)
	}
	st, rerr := sump.ReadStatusBody(c.r, pe.Header[1], pe.Header[2])
	if rerr != nil {
		return fmt.Errorf("after %d samples: %w", n, rerr)
	}
	return &sump.Error{
		Code: st.Code,
		Op:   "capture",
		Msg:  fmt.Sprintf("%d of %d samples on device", st.Uint32(0), n),
	}
}

// Capture runs a capture to completion and returns all samples.
func (c *client) Capture(ctx context.Context, req Request) (*Capture, error) {
	s, err := c.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	capt := &Capture{
		Channels:   s.Channels,
		Rate:       s.Rate,
		Factor:     s.Factor,
		MaxSamples: s.MaxSamples,
		Samples:    make([]sample.Sample, 0, s.Count),
	}
	for smp := range s.Samples() {
		capt.Samples = append(capt.Samples, smp)
	}
	if err := s.Err(); err != nil {
		return capt, err
	}
	return capt, nil
}
