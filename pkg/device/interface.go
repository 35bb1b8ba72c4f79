package device

import (
	"context"

	"github.com/itohio/jlsump/pkg/sump"
)

// Device defines the interface for capture devices (real or mocked).
type Device interface {
	Connect() error
	Close() error
	IsConnected() bool
	ID() (string, error)
	Status() (sump.Report, error)
	Configure(req Request) (maxSamples int, err error)
	Stream(ctx context.Context, req Request) (*Stream, error)
	Capture(ctx context.Context, req Request) (*Capture, error)
}

// Ensure Serial implements Device.
var _ Device = (*Serial)(nil)

// Ensure Mock implements Device.
var _ Device = (*Mock)(nil)
