package sump

import "fmt"

// State is the protocol session state.
type State uint8

const (
	Idle State = iota
	Configured
	Armed
	Capturing
	Draining
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Configured:
		return "configured"
	case Armed:
		return "armed"
	case Capturing:
		return "capturing"
	case Draining:
		return "draining"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Running reports whether a capture run owns the buffer.
func (s State) Running() bool { return s == Capturing || s == Draining }
