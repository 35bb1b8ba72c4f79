//go:build tinygo

//go:generate tinygo flash -target=pico

package main

import (
	"context"
	"machine"
	"time"

	"github.com/itohio/jlsump/pkg/source"
	"github.com/itohio/jlsump/pkg/sump"
)

func main() {
	serial := usbSerial{port: machine.Serial}

	// the sampler spins between ticks and yields to the serial and
	// drainer goroutines while it waits for the next deadline
	session, err := sump.New(newBoard(), &source.Paced{}, sump.Options{
		MaxRate:        MAX_SAMPLE_RATE,
		FaultThreshold: FAULT_THRESHOLD,
	})
	if err != nil {
		for {
			println("jlsump:", err.Error())
			time.Sleep(time.Second)
		}
	}

	// Serve only returns on a transport error; keep answering the host.
	for {
		if err := session.Serve(context.Background(), serial); err != nil {
			println("jlsump:", err.Error())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
