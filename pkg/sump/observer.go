package sump

import (
	"github.com/itohio/jlsump/pkg/decimate"
	"github.com/itohio/jlsump/pkg/sample"
)

// Observer receives session events. Methods are called from the command
// loop and from the drainer goroutine and must not block.
type Observer interface {
	Command(op byte, code Code)
	StateChanged(from, to State)
	Configured(ch sample.Channels, plan decimate.Plan, maxSamples int)
	CaptureStarted(ch sample.Channels, plan decimate.Plan, count int)
	FramesSent(n int)
	CaptureFinished(samples, sourceFaults int, err error)
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) Command(byte, Code) {}
func (NopObserver) StateChanged(State, State) {}
func (NopObserver) Configured(sample.Channels, decimate.Plan, int) {}
func (NopObserver) CaptureStarted(sample.Channels, decimate.Plan, int) {}
func (NopObserver) FramesSent(int) {}
func (NopObserver) CaptureFinished(int, int, error) {}

var _ Observer = NopObserver{}
