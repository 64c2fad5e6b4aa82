package atc

import (
	"github.com/mastercactapus/gatc/halt"
	"github.com/mastercactapus/gatc/script"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the orchestrator's prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	sequences    *prometheus.CounterVec
	aborts       *prometheus.CounterVec
	halts        *prometheus.CounterVec
	commands     *prometheus.CounterVec
	calibrations *prometheus.CounterVec
	queueDepth   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sequences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatc",
			Name:      "sequences_started_total",
			Help:      "Tool change and automation sequences started, by entry state.",
		}, []string{"state"}),
		aborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatc",
			Name:      "sequences_aborted_total",
			Help:      "Sequences aborted before the script queue drained.",
		}, []string{"cause"}),
		halts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatc",
			Name:      "halts_total",
			Help:      "Machine halts observed, by reason.",
		}, []string{"reason"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatc",
			Name:      "script_commands_total",
			Help:      "Script commands replayed, by op.",
		}, []string{"op"}),
		calibrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatc",
			Name:      "calibrations_total",
			Help:      "Completed calibration computations, by kind.",
		}, []string{"kind"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gatc",
			Name:      "script_queue_depth",
			Help:      "Commands waiting in the script queue.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.sequences, m.aborts, m.halts, m.commands, m.calibrations, m.queueDepth)
	}
	return m
}

func (m *Metrics) sequenceStarted(s State) {
	if m == nil {
		return
	}
	m.sequences.WithLabelValues(s.String()).Inc()
}

func (m *Metrics) sequenceAborted(c abortCause) {
	if m == nil {
		return
	}
	m.aborts.WithLabelValues(c.String()).Inc()
}

func (m *Metrics) halted(r halt.Reason) {
	if m == nil {
		return
	}
	m.halts.WithLabelValues(r.String()).Inc()
}

func (m *Metrics) command(op script.Op) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(op.String()).Inc()
}

func (m *Metrics) calibrated(c script.Calc) {
	if m == nil {
		return
	}
	m.calibrations.WithLabelValues(c.String()).Inc()
}

func (m *Metrics) queued(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
