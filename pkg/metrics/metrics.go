// Package metrics exports capture session events as Prometheus metrics
// and structured log entries.
package metrics

import (
	"errors"
	"net/http"

	"github.com/itohio/jlsump/pkg/decimate"
	"github.com/itohio/jlsump/pkg/sample"
	"github.com/itohio/jlsump/pkg/sump"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "jlsump"

// Metrics implements sump.Observer.
type Metrics struct {
	log logrus.FieldLogger

	commands   *prometheus.CounterVec
	state      prometheus.Gauge
	factor     prometheus.Gauge
	maxSamples prometheus.Gauge
	started    prometheus.Counter
	finished   *prometheus.CounterVec
	samples    prometheus.Counter
	frames     prometheus.Counter
	faults     prometheus.Counter
}

var _ sump.Observer = (*Metrics)(nil)

// New creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, a nil log discards log entries.
func New(reg prometheus.Registerer, log logrus.FieldLogger) (*Metrics, error) {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}

	m := &Metrics{
		log: log,
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Host commands by opcode and status code.",
		}, []string{"command", "code"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Session state: 0 idle, 1 configured, 2 armed, 3 capturing, 4 draining.",
		}),
		factor: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "decimation_factor",
			Help:      "Analog decimation factor of the current configuration.",
		}),
		maxSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "max_samples",
			Help:      "Samples that fit the buffer with the current configuration.",
		}),
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_started_total",
			Help:      "Capture runs started.",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_finished_total",
			Help:      "Capture runs that ended, by status code.",
		}, []string{"code"}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_captured_total",
			Help:      "Samples written to the capture buffer.",
		}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames streamed to the host.",
		}),
		faults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_faults_total",
			Help:      "Failed GPIO and ADC reads replaced by held values.",
		}),
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.commands, m.state, m.factor, m.maxSamples,
		m.started, m.finished, m.samples, m.frames, m.faults,
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Command counts a host command.
func (m *Metrics) Command(op byte, code sump.Code) {
	m.commands.WithLabelValues(sump.OpName(op), code.String()).Inc()
	if code != sump.OK {
		m.log.WithFields(logrus.Fields{
			"command": sump.OpName(op),
			"code":    code.String(),
		}).Warn("Command refused")
	}
}

// StateChanged tracks the session state.
func (m *Metrics) StateChanged(from, to sump.State) {
	m.state.Set(float64(to))
	m.log.WithFields(logrus.Fields{
		"from":  from.String(),
		"state": to.String(),
	}).Debug("Session state changed")
}

// Configured records a new channel configuration.
func (m *Metrics) Configured(ch sample.Channels, plan decimate.Plan, maxSamples int) {
	m.factor.Set(float64(plan.Factor))
	m.maxSamples.Set(float64(maxSamples))

	entry := m.log.WithFields(logrus.Fields{
		"channels":    ch.String(),
		"plan":        plan.String(),
		"max_samples": maxSamples,
	})
	if plan.Clamped {
		entry.Warn("Analog rate exceeds the ADC limit; decimation clamped by buffer geometry")
		return
	}
	entry.Info("Channels configured")
}

// CaptureStarted counts a started run.
func (m *Metrics) CaptureStarted(ch sample.Channels, plan decimate.Plan, count int) {
	m.started.Inc()
	m.log.WithFields(logrus.Fields{
		"channels": ch.String(),
		"factor":   plan.Factor,
		"rate":     plan.DigitalRate,
		"count":    count,
	}).Info("Capture started")
}

// FramesSent counts streamed frames.
func (m *Metrics) FramesSent(n int) {
	m.frames.Add(float64(n))
}

// CaptureFinished records the outcome of a run.
func (m *Metrics) CaptureFinished(samples, sourceFaults int, err error) {
	code := sump.CodeOf(err)
	m.finished.WithLabelValues(code.String()).Inc()
	m.samples.Add(float64(samples))
	m.faults.Add(float64(sourceFaults))

	entry := m.log.WithFields(logrus.Fields{
		"samples": samples,
		"faults":  sourceFaults,
		"code":    code.String(),
	})
	switch {
	case err == nil:
		entry.Info("Capture complete")
	case errors.Is(err, sump.Aborted):
		entry.Info("Capture aborted")
	default:
		entry.WithError(err).Error("Capture failed")
	}
}
