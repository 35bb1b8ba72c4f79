package sump

import (
	"errors"
	"fmt"
	"testing"

	"github.com/itohio/jlsump/pkg/capture"
	"github.com/itohio/jlsump/pkg/frame"
	"github.com/itohio/jlsump/pkg/sample"
	"github.com/itohio/jlsump/pkg/source"
	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{name: "nil", err: nil, want: OK},
		{name: "bare code", err: Aborted, want: Aborted},
		{name: "wrapped code", err: fmt.Errorf("x: %w", StateError), want: StateError},
		{name: "session error", err: newError(ConfigurationError, "set channels", nil), want: ConfigurationError},
		{name: "overflow", err: fmt.Errorf("write: %w", capture.ErrOverflow), want: OverflowFault},
		{name: "persistent fault", err: source.ErrPersistentFault, want: HardwareReadFault},
		{name: "no channels", err: sample.ErrNoChannels, want: ConfigurationError},
		{name: "bad factor", err: capture.ErrBadFactor, want: ConfigurationError},
		{name: "parse error", err: frame.ErrUnknownMarker, want: ProtocolFault},
		{name: "other", err: errors.New("boom"), want: ProtocolFault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestError(t *testing.T) {
	cause := sample.ErrNoChannels
	err := newError(ConfigurationError, "set channels", cause)

	assert.ErrorIs(t, err, ConfigurationError)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, StateError)
	assert.Equal(t, "set channels: configuration error: no channels enabled", err.Error())
}
