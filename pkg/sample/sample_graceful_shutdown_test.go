package sample

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestConverter_GracefulShutdown tests that converter closes output channel
// when input channel is closed, after delivering every sample.
func TestConverter_GracefulShutdown(t *testing.T) {
	converter := NewConverter(DefaultTable(), Channels{Digital: 0xFF, Analog: 0x01}, 1000, 10)
	input := make(chan Sample, 10)
	output := converter(input)

	received := make(chan []Reading, 1)
	go func() {
		var got []Reading
		for r := range output {
			got = append(got, r)
		}
		received <- got
	}()

	numSamples := 5
	for i := 0; i < numSamples; i++ {
		s := Sample{Digital: byte(i)}
		s.Analog[0] = uint16(i * 100)
		input <- s
	}
	close(input)

	select {
	case got := <-received:
		assert.Len(t, got, numSamples)
		for i, r := range got {
			assert.Equal(t, i, r.Index)
			assert.Equal(t, byte(i), r.Digital)
			assert.Equal(t, time.Duration(i)*time.Millisecond, r.Offset)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Output channel did not close within timeout")
	}
}
