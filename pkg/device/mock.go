package device

import (
	"context"
	"errors"
	"sync"

	"github.com/itohio/jlsump/pkg/config"
	"github.com/itohio/jlsump/pkg/source"
	"github.com/itohio/jlsump/pkg/sump"
	"github.com/itohio/jlsump/pkg/transport"
	"github.com/sirupsen/logrus"
)

// Mock simulates a capture device for testing and development. It runs
// a real protocol session over an in-process pipe, sampling a simulated
// breadboard.
type Mock struct {
	cfg *config.Config
	log logrus.FieldLogger
	obs sump.Observer

	mu      sync.RWMutex
	host    transport.Port
	client  *client
	session *sump.Session
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewMock creates a new mocked device. A nil config selects
// config.Default(); obs may be nil.
func NewMock(cfg *config.Config, obs sump.Observer, log logrus.FieldLogger) *Mock {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Mock{cfg: cfg, obs: obs, log: log.WithField("device", "mock")}
}

// Connect starts the simulated device.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.host != nil {
		return ErrAlreadyConnected
	}

	var timer source.Timer = &source.Instant{}
	if m.cfg.Mock.Realtime {
		timer = source.NewTicker()
	}
	session, err := sump.New(source.NewMock(m.cfg.MockOptions()), timer, m.cfg.SessionOptions(m.obs))
	if err != nil {
		return err
	}

	host, dev := transport.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := session.Serve(ctx, dev); err != nil && !errors.Is(err, context.Canceled) {
			m.log.WithError(err).Warn("Session ended")
		}
	}()

	m.host = host
	m.session = session
	m.cancel = cancel
	m.done = done
	m.client = newClient(host, m.cfg.Session.BaseClock, DefaultBufferSize, m.log)
	return nil
}

// Close stops the simulated device.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.host == nil {
		return nil
	}
	m.cancel()
	m.host.Close()
	<-m.done

	m.host = nil
	m.client = nil
	m.session = nil
	return nil
}

// IsConnected returns whether the device is currently connected.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.host != nil
}

// State returns the state of the simulated session.
func (m *Mock) State() sump.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return sump.Idle
	}
	return m.session.State()
}

func (m *Mock) get() (*client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil, ErrNotConnected
	}
	return m.client, nil
}

// ID returns the device identity.
func (m *Mock) ID() (string, error) {
	c, err := m.get()
	if err != nil {
		return "", err
	}
	return c.ID()
}

// Status returns the session report of the device.
func (m *Mock) Status() (sump.Report, error) {
	c, err := m.get()
	if err != nil {
		return sump.Report{}, err
	}
	return c.Status()
}

// Configure applies req and returns the capacity of the configuration.
func (m *Mock) Configure(req Request) (int, error) {
	c, err := m.get()
	if err != nil {
		return 0, err
	}
	return c.Configure(req)
}

// Stream starts a capture.
func (m *Mock) Stream(ctx context.Context, req Request) (*Stream, error) {
	c, err := m.get()
	if err != nil {
		return nil, err
	}
	return c.Stream(ctx, req)
}

// Capture runs a capture to completion.
func (m *Mock) Capture(ctx context.Context, req Request) (*Capture, error) {
	c, err := m.get()
	if err != nil {
		return nil, err
	}
	return c.Capture(ctx, req)
}
