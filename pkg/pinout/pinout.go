// Package pinout maps analog channels to the converter inputs of the
// RP2040 on the reference board.
package pinout

import "github.com/itohio/jlsump/pkg/sample"

// ConverterInputs is the number of RP2040 ADC inputs, GPIO26 to GPIO29.
const ConverterInputs = 4

// Unwired marks a channel with no converter input. The DAC readback and
// INA219 channels sit behind I2C.
const Unwired = -1

// ADCInput is the converter input of every analog channel. The 0-5 V
// channel takes GPIO29, the input with the supply-side divider.
var ADCInput = [sample.AnalogChannels]int{
	0, 1, 2, Unwired,
	3,
	Unwired, Unwired, Unwired,
	Unwired, Unwired,
	Unwired, Unwired,
	Unwired, Unwired,
}

// Wired reports whether channel ch reaches a converter input.
func Wired(ch int) bool {
	return ch >= 0 && ch < sample.AnalogChannels && ADCInput[ch] != Unwired
}

// WiredChannels returns the channel mask of every wired channel.
func WiredChannels() uint16 {
	var m uint16
	for ch := range ADCInput {
		if Wired(ch) {
			m |= 1 << ch
		}
	}
	return m
}
