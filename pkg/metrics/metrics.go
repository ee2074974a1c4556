// Package metrics exposes Prometheus metrics for driver commands.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultOK              = "ok"
	ResultInvalidArgument = "invalid_argument"
	ResultLifecycle       = "lifecycle"
	ResultError           = "error"
)

type Metrics struct {
	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	SessionsActive  prometheus.Gauge
	PortsReserved   prometheus.Gauge
	StatsAttached   *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "trexshell",
				Name:      "commands_total",
				Help:      "Driver commands executed, by command and result",
			},
			[]string{"command", "result"},
		),
		CommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "trexshell",
				Name:      "command_duration_seconds",
				Help:      "Duration of driver commands",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"command"},
		),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trexshell",
			Name:      "sessions_active",
			Help:      "TRex sessions currently open",
		}),
		PortsReserved: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trexshell",
			Name:      "ports_reserved",
			Help:      "Ports reserved by the active session",
		}),
		StatsAttached: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "trexshell",
				Name:      "stats_attachments_total",
				Help:      "CSV statistics attached to reservations, by view",
			},
			[]string{"view"},
		),
	}
	reg.MustRegister(m.CommandsTotal, m.CommandDuration, m.SessionsActive, m.PortsReserved, m.StatsAttached)
	return m
}

// Observe records one command execution.
func (m *Metrics) Observe(command, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(command, result).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(d.Seconds())
}

func (m *Metrics) SessionOpened(ports int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(1)
	m.PortsReserved.Set(float64(ports))
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Set(0)
	m.PortsReserved.Set(0)
}

func (m *Metrics) Attached(view string) {
	if m == nil {
		return
	}
	m.StatsAttached.WithLabelValues(view).Inc()
}
