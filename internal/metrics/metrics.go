package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/charchat/internal/archive"
	"github.com/rickgao/charchat/internal/connection"
	"github.com/rickgao/charchat/internal/session"
)

const namespace = "charchat"

var (
	_ connection.Metrics = (*Metrics)(nil)
	_ session.Metrics    = (*Metrics)(nil)
	_ archive.Metrics    = (*Metrics)(nil)
)

// Metrics holds every collector. It satisfies connection.Metrics,
// session.Metrics and archive.Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Correlator
	commandsInFlight *prometheus.GaugeVec     // By channel
	commandsTotal    *prometheus.CounterVec   // By channel and outcome
	commandDuration  *prometheus.HistogramVec // By channel
	streamFrames     *prometheus.CounterVec   // By channel
	framesDropped    *prometheus.CounterVec   // By channel and reason

	// Supervisor
	sessionState     prometheus.Gauge
	reconnectsTotal  *prometheus.CounterVec // By outcome
	resurrectedTotal *prometheus.CounterVec // By status (ok/failed)

	// Archive
	turnsWritten prometheus.Counter
	turnsDropped prometheus.Counter
	flushErrors  prometheus.Counter
}

// New creates the collectors and registers them on a fresh registry
// together with the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		commandsInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "correlator",
			Name:      "commands_in_flight",
			Help:      "Commands awaiting a reply",
		}, []string{"channel"}),

		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "correlator",
			Name:      "commands_total",
			Help:      "Commands finished, by outcome",
		}, []string{"channel", "outcome"}),

		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "correlator",
			Name:      "command_duration_seconds",
			Help:      "Time from send to resolution",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"channel"}),

		streamFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "correlator",
			Name:      "stream_frames_total",
			Help:      "Intermediate frames forwarded to streaming sinks",
		}, []string{"channel"}),

		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "correlator",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames not delivered to any command",
		}, []string{"channel", "reason"}),

		sessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "state",
			Help:      "Channel state (0 disconnected, 1 connecting, 2 open)",
		}),

		reconnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "reconnects_total",
			Help:      "Reconnect cycles, by outcome",
		}, []string{"outcome"}),

		resurrectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "conversations_resurrected_total",
			Help:      "Active conversations refreshed after a channel open",
		}, []string{"status"}),

		turnsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "turns_written_total",
			Help:      "Turns written to the transcript archive",
		}),

		turnsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "turns_dropped_total",
			Help:      "Turns dropped because the archive buffer was full",
		}),

		flushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "flush_errors_total",
			Help:      "Failed archive batch writes",
		}),
	}

	m.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.commandsInFlight,
		m.commandsTotal,
		m.commandDuration,
		m.streamFrames,
		m.framesDropped,
		m.sessionState,
		m.reconnectsTotal,
		m.resurrectedTotal,
		m.turnsWritten,
		m.turnsDropped,
		m.flushErrors,
	)

	return m
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// CommandStarted implements connection.Metrics.
func (m *Metrics) CommandStarted(kind connection.Kind) {
	m.commandsInFlight.WithLabelValues(string(kind)).Inc()
}

// CommandFinished implements connection.Metrics.
func (m *Metrics) CommandFinished(kind connection.Kind, outcome string, elapsed time.Duration) {
	channel := string(kind)
	m.commandsInFlight.WithLabelValues(channel).Dec()
	m.commandsTotal.WithLabelValues(channel, outcome).Inc()
	m.commandDuration.WithLabelValues(channel).Observe(elapsed.Seconds())
}

// StreamFrame implements connection.Metrics.
func (m *Metrics) StreamFrame(kind connection.Kind) {
	m.streamFrames.WithLabelValues(string(kind)).Inc()
}

// FrameDropped implements connection.Metrics.
func (m *Metrics) FrameDropped(kind connection.Kind, reason string) {
	m.framesDropped.WithLabelValues(string(kind), reason).Inc()
}

// ReconnectFinished implements session.Metrics.
func (m *Metrics) ReconnectFinished(outcome string) {
	m.reconnectsTotal.WithLabelValues(outcome).Inc()
}

// ResurrectFinished implements session.Metrics.
func (m *Metrics) ResurrectFinished(total, failed int) {
	m.resurrectedTotal.WithLabelValues("ok").Add(float64(total - failed))
	m.resurrectedTotal.WithLabelValues("failed").Add(float64(failed))
}

// StateChanged implements session.Metrics.
func (m *Metrics) StateChanged(state session.State) {
	m.sessionState.Set(float64(state))
}

// TurnsWritten implements archive.Metrics.
func (m *Metrics) TurnsWritten(n int) {
	m.turnsWritten.Add(float64(n))
}

// TurnDropped implements archive.Metrics.
func (m *Metrics) TurnDropped() {
	m.turnsDropped.Inc()
}

// FlushFailed implements archive.Metrics.
func (m *Metrics) FlushFailed() {
	m.flushErrors.Inc()
}
