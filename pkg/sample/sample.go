package sample

import (
	"errors"
	"fmt"
	"math/bits"
)

const (
	// DigitalChannels is the number of GPIO lines packed into the digital byte.
	DigitalChannels = 8
	// AnalogChannels is the number of analog inputs: ADC0-7, DAC0-1 and two INA219 V/I pairs.
	AnalogChannels = 14
	// MaxADC is the largest raw code a 12-bit converter produces.
	MaxADC = 4095

	digitalMaskLimit = 1<<DigitalChannels - 1
	analogMaskLimit  = 1<<AnalogChannels - 1
)

var (
	// ErrNoChannels is returned when neither digital nor analog channels are enabled.
	ErrNoChannels = errors.New("no channels enabled")
	// ErrChannelRange is returned when a mask has bits beyond the available channels.
	ErrChannelRange = errors.New("channel mask out of range")
)

// Sample is one time step: the digital byte plus the raw analog codes.
// Analog is indexed by channel number; only channels enabled in the
// capture's Channels are meaningful. Raw codes stay 12-bit (0-4095).
type Sample struct {
	Digital byte
	Analog  [AnalogChannels]uint16
}

// Channels is the channel configuration of a capture.
type Channels struct {
	Digital uint8  // bit n enables GPIO line n
	Analog  uint16 // bit n enables analog channel n
}

// FromMasks builds a Channels value from the 32-bit wire masks and validates it.
func FromMasks(digital, analog uint32) (Channels, error) {
	if digital > digitalMaskLimit {
		return Channels{}, fmt.Errorf("digital mask 0x%08x: %w", digital, ErrChannelRange)
	}
	if analog > analogMaskLimit {
		return Channels{}, fmt.Errorf("analog mask 0x%08x: %w", analog, ErrChannelRange)
	}
	ch := Channels{Digital: uint8(digital), Analog: uint16(analog)}
	if err := ch.Validate(); err != nil {
		return Channels{}, err
	}
	return ch, nil
}

// Validate checks that at least one channel is enabled and that the analog
// mask fits the available channels.
func (c Channels) Validate() error {
	if c.Analog > analogMaskLimit {
		return fmt.Errorf("analog mask 0x%04x: %w", c.Analog, ErrChannelRange)
	}
	if c.Digital == 0 && c.Analog == 0 {
		return ErrNoChannels
	}
	return nil
}

// IsZero reports whether no channel is enabled.
func (c Channels) IsZero() bool {
	return c.Digital == 0 && c.Analog == 0
}

// HasDigital reports whether any GPIO line is enabled.
func (c Channels) HasDigital() bool { return c.Digital != 0 }

// HasAnalog reports whether any analog channel is enabled.
func (c Channels) HasAnalog() bool { return c.Analog != 0 }

// AnalogCount returns the number of enabled analog channels.
func (c Channels) AnalogCount() int {
	return bits.OnesCount16(c.Analog)
}

// AnalogEnabled reports whether analog channel ch is enabled.
func (c Channels) AnalogEnabled(ch int) bool {
	return ch >= 0 && ch < AnalogChannels && c.Analog&(1<<ch) != 0
}

// AnalogList appends the enabled analog channel numbers in ascending order to dst.
func (c Channels) AnalogList(dst []int) []int {
	for m := c.Analog; m != 0; m &= m - 1 {
		dst = append(dst, bits.TrailingZeros16(m))
	}
	return dst
}

func (c Channels) String() string {
	return fmt.Sprintf("digital=0x%02x analog=0x%04x", c.Digital, c.Analog)
}
