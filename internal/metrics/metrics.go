// Package metrics holds the Prometheus collectors for the device communication layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "pinelink"

// Registry is the dedicated registry served on the monitor's /metrics endpoint
var Registry = prometheus.NewRegistry()

var (
	// PollReadsTotal counts telemetry reads by result: ok, read_error, decode_error
	PollReadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_reads_total",
			Help:      "Telemetry characteristic reads by result.",
		},
		[]string{"result"},
	)

	// PollReadLatency observes the duration of telemetry reads
	PollReadLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_read_latency_seconds",
			Help:      "Latency of telemetry characteristic reads.",
			Buckets:   []float64{.01, .025, .05, .1, .2, .5, 1, 2.5, 5},
		},
	)

	// StreamLostTotal counts stream-lost escalations
	StreamLostTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_lost_total",
			Help:      "Telemetry streams stopped after consecutive read failures.",
		},
	)

	// ParameterWritesTotal counts setpoint writes by result: ok, rejected, not_connected, invalid
	ParameterWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parameter_writes_total",
			Help:      "Setpoint writes by result.",
		},
		[]string{"result"},
	)

	// ConnectionState is 1 for the current connection manager state and 0 for the others
	ConnectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current connection manager state (1 = active).",
		},
		[]string{"state"},
	)

	// Reading exposes the latest decoded telemetry values by field
	Reading = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reading",
			Help:      "Latest decoded telemetry value by field.",
		},
		[]string{"field"},
	)
)

func init() {
	Registry.MustRegister(
		PollReadsTotal,
		PollReadLatency,
		StreamLostTotal,
		ParameterWritesTotal,
		ConnectionState,
		Reading,
		collectors.NewGoCollector(),
	)
}

// SetState marks state as the active connection state
func SetState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		ConnectionState.WithLabelValues(s).Set(v)
	}
}
