package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/itohio/jlsump/pkg/analyze"
	"github.com/itohio/jlsump/pkg/config"
	"github.com/itohio/jlsump/pkg/device"
	"github.com/itohio/jlsump/pkg/sample"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureOptions_Request(t *testing.T) {
	table := sample.DefaultTable()
	tests := []struct {
		name    string
		args    []string
		want    sample.Channels
		rate    uint32
		count   int
		wantErr bool
	}{
		{"defaults", nil, sample.Channels{Digital: 0xFF}, 100_000, 0, false},
		{"masks", []string{"--digital", "0x0F", "--analog", "0x3", "--rate", "250000", "-n", "500"}, sample.Channels{Digital: 0x0F, Analog: 0x03}, 250_000, 500, false},
		{"signals", []string{"--signal", "ADC4", "--signal", "INA0_V"}, sample.Channels{Digital: 0xFF, Analog: 1<<4 | 1<<10}, 100_000, 0, false},
		{"unknown signal", []string{"--signal", "nope"}, sample.Channels{}, 0, 0, true},
		{"no channels", []string{"--digital", "0"}, sample.Channels{}, 0, 0, true},
		{"bad format", []string{"--format", "xml"}, sample.Channels{}, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var o captureOptions
			fs := pflag.NewFlagSet("capture", pflag.ContinueOnError)
			o.bind(fs)
			require.NoError(t, fs.Parse(tt.args))

			req, err := o.request(fs, config.Default(), &table)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.Channels)
			assert.Equal(t, tt.rate, req.Rate)
			assert.Equal(t, tt.count, req.Count)
		})
	}
}

func TestWriteCSV(t *testing.T) {
	table := sample.DefaultTable()
	ch := sample.Channels{Digital: 0x05, Analog: 1 << 4}
	var readings []sample.Reading
	for i := range 3 {
		raw := sample.Sample{Digital: byte(i)}
		raw.Analog[4] = sample.MaxADC
		readings = append(readings, sample.Convert(&table, ch, 1000, i, raw))
	}

	var buf bytes.Buffer
	require.NoError(t, writeCSV(&buf, ch, &table, readings))
	assert.Equal(t, strings.Join([]string{
		"index,time_s,D0,D2,ADC4",
		"0,0.000000000,0,0,5.0000",
		"1,0.001000000,1,0,5.0000",
		"2,0.002000000,0,0,5.0000",
		"",
	}, "\n"), buf.String())
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSummary(&buf, analyze.Summary{
		Samples:  10,
		Lines:    []analyze.Line{{Line: 3, Edges: 4, Duty: 0.5, Frequency: 100, FirstEdge: -1}},
		Channels: []analyze.Channel{{Name: "ADC0", Max: 1.5}},
	}))
	out := buf.String()
	assert.Contains(t, out, "Samples:")
	assert.Contains(t, out, "D3")
	assert.Contains(t, out, "50.0%")
	assert.Contains(t, out, "ADC0")
}

func TestCapture_MockSummary(t *testing.T) {
	log, _ := test.NewNullLogger()
	cfg := config.Default()
	dev := device.NewMock(cfg, nil, log)
	require.NoError(t, dev.Connect())
	defer dev.Close()

	ch := sample.Channels{Digital: 0x01, Analog: 0x01}
	stream, err := dev.Stream(context.Background(), device.Request{Channels: ch, Rate: 1000, Count: 64})
	require.NoError(t, err)

	table := sample.DefaultTable()
	a := analyze.New(ch, &table)
	var updates []analyze.Summary
	a.OnUpdate(func(s analyze.Summary) { updates = append(updates, s) })

	convert := sample.NewConverter(table, ch, stream.Rate, 0)
	readings, s := collect(convert(stream.Samples()), a, stream.Count)
	require.NoError(t, stream.Err())

	require.Len(t, readings, 64)
	for i, r := range readings {
		assert.Equal(t, i, r.Index)
	}
	assert.Equal(t, 64, s.Samples)
	require.Len(t, s.Lines, 1)
	require.Len(t, s.Channels, 1)
	assert.Equal(t, "ADC0", s.Channels[0].Name)
	require.Len(t, updates, 1, "the summary is published once the stream ends")
	assert.Equal(t, s, updates[0])
}
