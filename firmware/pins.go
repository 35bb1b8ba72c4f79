//go:build tinygo

package main

import (
	"machine"

	"github.com/itohio/jlsump/pkg/pinout"
)

const (
	// ADC configuration
	ADC_REFERENCE_MV = 3300 // Reference voltage in millivolts (3.3V)
	ADC_RESOLUTION   = 12   // ADC resolution in bits (12-bit = 0-4095)

	// Host serial polling interval while waiting for command bytes
	SERIAL_POLL_INTERVAL_US = 50

	// Consecutive faulty samples before a capture is aborted
	FAULT_THRESHOLD = 16

	// Fastest digital rate the paced sampling loop keeps evenly spaced
	MAX_SAMPLE_RATE = 100_000
)

// Logic analyzer GPIO lines, bit n of the digital byte is gpioPins[n].
var gpioPins = [8]machine.Pin{
	machine.GPIO20, machine.GPIO21, machine.GPIO22, machine.GPIO23,
	machine.GPIO24, machine.GPIO25, machine.GPIO18, machine.GPIO19,
}

// RP2040 converter inputs in pinout.ADCInput order.
var converterPins = [pinout.ConverterInputs]machine.Pin{
	machine.ADC0, machine.ADC1, machine.ADC2, machine.ADC3,
}
