package device

import (
	"context"
	"sync"

	"github.com/itohio/jlsump/pkg/sump"
	"github.com/itohio/jlsump/pkg/transport"
	"github.com/sirupsen/logrus"
)

// Serial represents a connection to a capture device on a serial port.
type Serial struct {
	cfg       transport.Config
	baseClock uint32
	bufSize   int
	log       logrus.FieldLogger

	mu     sync.RWMutex
	port   transport.Port
	client *client
}

// New creates a new Serial device for the port. A zero base clock selects
// sump.DefaultBaseClock, a nil logger the standard logrus logger.
func New(cfg transport.Config, baseClock uint32, log logrus.FieldLogger) *Serial {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Serial{
		cfg:       cfg,
		baseClock: baseClock,
		bufSize:   DefaultBufferSize,
		log:       log.WithField("port", cfg.Name),
	}
}

// Connect opens the serial port.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.port != nil {
		return ErrAlreadyConnected
	}

	port, err := transport.Open(d.cfg)
	if err != nil {
		return err
	}
	d.port = port
	d.client = newClient(port, d.baseClock, d.bufSize, d.log)
	d.log.Info("Connected")
	return nil
}

// Close closes the serial port. A running stream ends with an error.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.port == nil {
		return nil
	}
	if err := d.port.Close(); err != nil {
		d.log.WithError(err).Warn("Error closing serial port")
	}
	d.port = nil
	d.client = nil
	return nil
}

// IsConnected returns whether the device is currently connected.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.port != nil
}

func (d *Serial) get() (*client, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.client == nil {
		return nil, ErrNotConnected
	}
	return d.client, nil
}

// ID returns the device identity.
func (d *Serial) ID() (string, error) {
	c, err := d.get()
	if err != nil {
		return "", err
	}
	return c.ID()
}

// Status returns the session report of the device.
func (d *Serial) Status() (sump.Report, error) {
	c, err := d.get()
	if err != nil {
		return sump.Report{}, err
	}
	return c.Status()
}

// Configure applies req and returns the capacity of the configuration.
func (d *Serial) Configure(req Request) (int, error) {
	c, err := d.get()
	if err != nil {
		return 0, err
	}
	return c.Configure(req)
}

// Stream starts a capture.
func (d *Serial) Stream(ctx context.Context, req Request) (*Stream, error) {
	c, err := d.get()
	if err != nil {
		return nil, err
	}
	return c.Stream(ctx, req)
}

// Capture runs a capture to completion.
func (d *Serial) Capture(ctx context.Context, req Request) (*Capture, error) {
	c, err := d.get()
	if err != nil {
		return nil, err
	}
	return c.Capture(ctx, req)
}
