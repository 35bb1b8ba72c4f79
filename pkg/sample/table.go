package sample

import (
	"fmt"

	"github.com/chewxy/math32"
)

// Range is the calibrated input range of an analog channel.
type Range uint8

const (
	// Bipolar8V is the +/-8 V front end used by most channels.
	Bipolar8V Range = iota
	// Unipolar5V is the 0-5 V front end (ADC4 on the reference board).
	Unipolar5V
)

const (
	bipolarSpan   = 18.28
	bipolarOffset = 8.0
	unipolarSpan  = 5.0
)

// Volts converts a raw 12-bit code to volts for this range.
func (r Range) Volts(raw uint16) float32 {
	switch r {
	case Unipolar5V:
		return float32(raw) * unipolarSpan / MaxADC
	default:
		return float32(raw)*bipolarSpan/MaxADC - bipolarOffset
	}
}

// Raw converts volts back to the nearest raw code, clamped to 0-4095.
func (r Range) Raw(volts float32) uint16 {
	var v float32
	switch r {
	case Unipolar5V:
		v = volts * MaxADC / unipolarSpan
	default:
		v = (volts + bipolarOffset) * MaxADC / bipolarSpan
	}
	v = math32.Round(v)
	if v < 0 {
		return 0
	}
	if v > MaxADC {
		return MaxADC
	}
	return uint16(v)
}

func (r Range) String() string {
	switch r {
	case Bipolar8V:
		return "bipolar_8v"
	case Unipolar5V:
		return "unipolar_5v"
	default:
		return fmt.Sprintf("range(%d)", uint8(r))
	}
}

// ParseRange parses the configuration name of a range.
func ParseRange(s string) (Range, error) {
	switch s {
	case "bipolar_8v", "":
		return Bipolar8V, nil
	case "unipolar_5v":
		return Unipolar5V, nil
	default:
		return 0, fmt.Errorf("unknown analog range %q", s)
	}
}

// ChannelInfo describes one analog channel.
type ChannelInfo struct {
	Name  string
	Range Range
}

// Table maps analog channel numbers to their physical signal.
type Table [AnalogChannels]ChannelInfo

// DefaultTable returns the reference board channel order.
func DefaultTable() Table {
	t := Table{
		{Name: "ADC0"}, {Name: "ADC1"}, {Name: "ADC2"}, {Name: "ADC3"},
		{Name: "ADC4", Range: Unipolar5V},
		{Name: "ADC5"}, {Name: "ADC6"}, {Name: "ADC7"},
		{Name: "DAC0"}, {Name: "DAC1"},
		{Name: "INA0_V"}, {Name: "INA0_I"},
		{Name: "INA1_V"}, {Name: "INA1_I"},
	}
	return t
}

// Volts converts the raw code of channel ch using its calibrated range.
func (t *Table) Volts(ch int, raw uint16) float32 {
	if ch < 0 || ch >= AnalogChannels {
		return 0
	}
	return t[ch].Range.Volts(raw)
}

// Lookup returns the channel number for a name.
func (t *Table) Lookup(name string) (int, bool) {
	for i, c := range t {
		if c.Name == name {
			return i, true
		}
	}
	return -1, false
}
