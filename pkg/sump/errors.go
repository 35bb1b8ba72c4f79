package sump

import (
	"errors"
	"fmt"

	"github.com/itohio/jlsump/pkg/capture"
	"github.com/itohio/jlsump/pkg/sample"
	"github.com/itohio/jlsump/pkg/source"
)

// Code is the status code carried on the wire. It implements error so
// that a bare code can be returned and compared with errors.Is.
type Code uint8

const (
	OK                 Code = 0
	ConfigurationError Code = 1
	OverflowFault      Code = 2
	HardwareReadFault  Code = 3
	ProtocolFault      Code = 4
	StateError         Code = 5
	Aborted            Code = 6
)

func (c Code) Error() string {
	switch c {
	case OK:
		return "ok"
	case ConfigurationError:
		return "configuration error"
	case OverflowFault:
		return "overflow fault"
	case HardwareReadFault:
		return "hardware read fault"
	case ProtocolFault:
		return "protocol fault"
	case StateError:
		return "state error"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("status(%d)", uint8(c))
	}
}

func (c Code) String() string { return c.Error() }

// Error carries a code together with the operation and cause.
type Error struct {
	Code Code
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := e.Code.Error()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a bare Code target.
func (e *Error) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.Code
}

func newError(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf maps an error to its wire code. Errors of the lower packages are
// classified by their sentinels; anything else is a protocol fault.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}

	switch {
	case errors.Is(err, capture.ErrOverflow):
		return OverflowFault
	case errors.Is(err, source.ErrPersistentFault), errors.Is(err, source.ErrReadFailed):
		return HardwareReadFault
	case errors.Is(err, sample.ErrNoChannels), errors.Is(err, sample.ErrChannelRange),
		errors.Is(err, capture.ErrBadFactor), errors.Is(err, capture.ErrNotConfigured):
		return ConfigurationError
	default:
		return ProtocolFault
	}
}
