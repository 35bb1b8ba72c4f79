package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/itohio/jlsump/pkg/analyze"
	"github.com/itohio/jlsump/pkg/config"
	"github.com/itohio/jlsump/pkg/device"
	"github.com/itohio/jlsump/pkg/sample"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type captureOptions struct {
	rate    uint32
	samples int
	digital uint32
	analog  uint32
	signals []string
	format  string
	output  string
	points  int
	timeout time.Duration
}

func (o *captureOptions) bind(f *pflag.FlagSet) {
	f.Uint32VarP(&o.rate, "rate", "r", 0, "sample rate in Hz (default from config)")
	f.IntVarP(&o.samples, "samples", "n", 0, "samples to capture, 0 = as many as fit (default from config)")
	f.Uint32Var(&o.digital, "digital", 0, "GPIO line mask (default from config)")
	f.Uint32Var(&o.analog, "analog", 0, "analog channel mask (default from config)")
	f.StringSliceVar(&o.signals, "signal", nil, "analog channel by name, may be repeated")
	f.StringVarP(&o.format, "format", "f", "csv", "output format (csv, summary)")
	f.StringVarP(&o.output, "output", "o", "", "output file (default stdout)")
	f.IntVar(&o.points, "points", 0, "downsample CSV output to at most this many rows, 0 = all")
	f.DurationVar(&o.timeout, "timeout", 0, "abort the capture after this long, 0 = no limit")
}

var captureFlags captureOptions

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture samples and write CSV or a summary",
	Long: `capture configures the device, runs one capture and writes the decoded
samples as CSV (--format csv) or per-channel statistics (--format summary).

Channel masks accept hex (0xFF). Analog channels can also be selected by
name with --signal, e.g. --signal ADC0 --signal INA0_V.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := setupLogger(cfg.Log)

		table, err := cfg.Table()
		if err != nil {
			return err
		}
		req, err := captureFlags.request(cmd.Flags(), cfg, &table)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if captureFlags.output != "" && captureFlags.output != "-" {
			f, err := os.Create(captureFlags.output)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}

		dev, err := openDevice(cfg, log)
		if err != nil {
			return err
		}
		defer dev.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if captureFlags.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, captureFlags.timeout)
			defer cancel()
		}

		stream, err := dev.Stream(ctx, req)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"channels": stream.Channels.String(),
			"rate":     stream.Rate,
			"factor":   stream.Factor,
			"count":    stream.Count,
		}).Info("Capturing")

		analyzer := analyze.New(stream.Channels, &table)
		analyzer.OnUpdate(func(s analyze.Summary) {
			log.WithFields(logrus.Fields{
				"samples":  s.Samples,
				"duration": s.Duration,
			}).Info("Capture analyzed")
		})
		convert := sample.NewConverter(table, stream.Channels, stream.Rate, 0)
		readings, summary := collect(convert(stream.Samples()), analyzer, stream.Count)
		if err := stream.Err(); err != nil {
			return fmt.Errorf("capture: %w", err)
		}

		switch captureFlags.format {
		case "summary":
			return writeSummary(out, summary)
		default:
			readings = sample.Downsample(nil, readings, captureFlags.points)
			return writeCSV(out, stream.Channels, &table, readings)
		}
	},
}

func init() {
	captureFlags.bind(captureCmd.Flags())
}

// request merges the configured default capture with the flags.
func (o *captureOptions) request(flags *pflag.FlagSet, cfg *config.Config, table *sample.Table) (device.Request, error) {
	switch o.format {
	case "csv", "summary":
	default:
		return device.Request{}, fmt.Errorf("unknown format %q", o.format)
	}

	if flags.Changed("rate") {
		cfg.Capture.Rate = o.rate
	}
	if flags.Changed("samples") {
		cfg.Capture.Samples = o.samples
	}
	if flags.Changed("digital") {
		cfg.Capture.Digital = o.digital
	}
	if flags.Changed("analog") || flags.Changed("signal") {
		cfg.Capture.Analog = o.analog
	}
	for _, name := range o.signals {
		n, ok := table.Lookup(name)
		if !ok {
			return device.Request{}, fmt.Errorf("unknown signal %q", name)
		}
		cfg.Capture.Analog |= 1 << n
	}

	ch, err := cfg.CaptureChannels()
	if err != nil {
		return device.Request{}, err
	}
	return device.Request{Channels: ch, Rate: cfg.Capture.Rate, Count: cfg.Capture.Samples}, nil
}

// collect keeps every reading while the analyzer consumes the same
// readings on its own goroutine.
func collect(in <-chan sample.Reading, analyzer *analyze.Analyzer, hint int) ([]sample.Reading, analyze.Summary) {
	feed := make(chan sample.Reading, 256)
	done := make(chan analyze.Summary, 1)
	go func() {
		done <- analyzer.ProcessReadings(feed)
	}()

	readings := make([]sample.Reading, 0, hint)
	for r := range in {
		feed <- r
		readings = append(readings, r)
	}
	close(feed)
	return readings, <-done
}

func writeCSV(w io.Writer, ch sample.Channels, table *sample.Table, readings []sample.Reading) error {
	cw := csv.NewWriter(w)

	lines := make([]int, 0, sample.DigitalChannels)
	for i := range sample.DigitalChannels {
		if ch.Digital&(1<<i) != 0 {
			lines = append(lines, i)
		}
	}
	analog := ch.AnalogList(nil)

	header := []string{"index", "time_s"}
	for _, l := range lines {
		header = append(header, fmt.Sprintf("D%d", l))
	}
	for _, a := range analog {
		header = append(header, table[a].Name)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	row := make([]string, len(header))
	for _, r := range readings {
		row = row[:0]
		row = append(row, strconv.Itoa(r.Index), strconv.FormatFloat(r.Offset.Seconds(), 'f', 9, 64))
		for _, l := range lines {
			if r.Bit(l) {
				row = append(row, "1")
			} else {
				row = append(row, "0")
			}
		}
		for _, a := range analog {
			row = append(row, strconv.FormatFloat(float64(r.Volts[a]), 'f', 4, 32))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeSummary(w io.Writer, s analyze.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Samples:\t%d\n", s.Samples)
	fmt.Fprintf(tw, "Duration:\t%s\n", s.Duration)

	if len(s.Lines) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "LINE\tEDGES\tDUTY\tFREQUENCY\tFIRST EDGE")
		for _, l := range s.Lines {
			first := "-"
			if l.FirstEdge >= 0 {
				first = l.FirstEdge.String()
			}
			fmt.Fprintf(tw, "D%d\t%d\t%.1f%%\t%.1f Hz\t%s\n", l.Line, l.Edges, l.Duty*100, l.Frequency, first)
		}
	}
	if len(s.Channels) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "CHANNEL\tMIN\tMAX\tMEAN\tRMS")
		for _, c := range s.Channels {
			fmt.Fprintf(tw, "%s\t%.3f V\t%.3f V\t%.3f V\t%.3f V\n", c.Name, c.Min, c.Max, c.Mean, c.RMS)
		}
	}
	return tw.Flush()
}
