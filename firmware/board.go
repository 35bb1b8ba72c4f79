//go:build tinygo

package main

import (
	"machine"
	"time"

	"github.com/itohio/jlsump/pkg/pinout"
	"github.com/itohio/jlsump/pkg/sample"
	"github.com/itohio/jlsump/pkg/source"
)

// board samples the breadboard GPIO lines and converters.
type board struct {
	adc   [sample.AnalogChannels]machine.ADC
	wired [sample.AnalogChannels]bool
}

var _ source.Source = (*board)(nil)

func newBoard() *board {
	b := &board{}

	for _, p := range gpioPins {
		p.Configure(machine.PinConfig{Mode: machine.PinInput})
	}

	machine.InitADC()
	cfg := machine.ADCConfig{
		Reference:  ADC_REFERENCE_MV,
		Resolution: ADC_RESOLUTION,
	}
	for i, in := range pinout.ADCInput {
		if in == pinout.Unwired {
			continue
		}
		b.adc[i] = machine.ADC{Pin: converterPins[in]}
		b.adc[i].Configure(cfg)
		b.wired[i] = true
	}
	return b
}

func (b *board) ReadDigital() (byte, error) {
	var v byte
	for i, p := range gpioPins {
		if p.Get() {
			v |= 1 << i
		}
	}
	return v, nil
}

// ReadAnalog returns the 12-bit code. machine.ADC scales readings to 16 bits.
func (b *board) ReadAnalog(ch int) (uint16, error) {
	if ch < 0 || ch >= sample.AnalogChannels {
		return 0, source.ErrBadChannel
	}
	if !b.wired[ch] {
		return 0, source.ErrReadFailed
	}
	return b.adc[ch].Get() >> 4, nil
}

// usbSerial adapts the non-blocking USB CDC port to a blocking reader.
// Waiting sleeps so the sampling goroutine keeps running.
type usbSerial struct {
	port machine.Serialer
}

func (s usbSerial) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for s.port.Buffered() == 0 {
		time.Sleep(SERIAL_POLL_INTERVAL_US * time.Microsecond)
	}
	n := 0
	for n < len(p) && s.port.Buffered() > 0 {
		c, err := s.port.ReadByte()
		if err != nil {
			return n, err
		}
		p[n] = c
		n++
	}
	return n, nil
}

func (s usbSerial) Write(p []byte) (int, error) {
	return s.port.Write(p)
}
