// Package transport provides the byte streams the protocol runs over:
// serial ports for real hardware and an in-process pipe for the
// simulated device.
package transport

import (
	"fmt"
	"io"
	"net"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const (
	// DefaultBaudRate is used when the configuration leaves it empty. USB
	// CDC ports ignore it.
	DefaultBaudRate = 115200
	// DefaultReadTimeout bounds a single read so closing the port is noticed.
	DefaultReadTimeout = 100 * time.Millisecond
)

// Port is an open byte stream.
type Port interface {
	io.ReadWriteCloser
}

// Config describes a serial port.
type Config struct {
	Name        string
	BaudRate    int
	ReadTimeout time.Duration
}

// Info describes a serial port found on the host.
type Info struct {
	Name        string
	Description string
}

// Ports returns the serial ports available on the host. USB ports are
// described by their vendor and product IDs.
func Ports() ([]Info, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		names, lerr := serial.GetPortsList()
		if lerr != nil {
			return nil, fmt.Errorf("failed to list serial ports: %w", lerr)
		}
		result := make([]Info, 0, len(names))
		for _, name := range names {
			result = append(result, Info{Name: name})
		}
		return result, nil
	}

	result := make([]Info, 0, len(details))
	for _, d := range details {
		result = append(result, Info{Name: d.Name, Description: describe(d)})
	}
	return result, nil
}

func describe(d *enumerator.PortDetails) string {
	if !d.IsUSB {
		return ""
	}
	s := fmt.Sprintf("USB %s:%s", d.VID, d.PID)
	if d.Product != "" {
		s += " " + d.Product
	}
	if d.SerialNumber != "" {
		s += " (" + d.SerialNumber + ")"
	}
	return s
}

// Open opens a serial port in 8N1 mode.
func Open(cfg Config) (Port, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("serial port name is empty")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Name, err)
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", cfg.Name, err)
	}
	return &serialPort{Port: port}, nil
}

// serialPort turns the read timeouts of go.bug.st/serial, reported as
// zero-length reads, into blocking reads so callers can use io.ReadFull.
// A closed port fails the pending read, which ends the loop.
type serialPort struct {
	serial.Port
}

func (p *serialPort) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	for {
		n, err := p.Port.Read(b)
		if n > 0 || err != nil {
			return n, err
		}
	}
}

// Pipe returns both ends of a synchronous in-process stream.
func Pipe() (host, device Port) {
	return net.Pipe()
}
