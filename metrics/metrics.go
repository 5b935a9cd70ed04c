// Package metrics holds the prometheus collectors of a hermes node.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hermes"

var (
	Registry = prometheus.NewRegistry()

	Rounds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "rounds_total",
			Help:      "Gossip rounds run.",
		},
	)

	RoundDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "round_duration_seconds",
			Help:      "Time spent in one gossip round.",
			// 100us .. ~1.6s
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		},
	)

	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "messages_sent_total",
			Help:      "Gossip messages handed to the transport.",
		},
		[]string{"verb"},
	)

	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "messages_received_total",
			Help:      "Gossip messages received.",
		},
		[]string{"verb"},
	)

	SendErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "send_errors_total",
			Help:      "Gossip messages the transport failed to send.",
		},
		[]string{"verb"},
	)

	MessagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "messages_dropped_total",
			Help:      "Inbound messages or states ignored, by reason.",
		},
		[]string{"reason"},
	)

	MembershipEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "membership",
			Name:      "events_total",
			Help:      "Membership transitions observed, by kind.",
		},
		[]string{"event"},
	)

	Convictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "membership",
			Name:      "convictions_total",
			Help:      "Endpoints convicted by the failure detector.",
		},
	)

	Evictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "membership",
			Name:      "evictions_total",
			Help:      "Endpoints whose state was dropped.",
		},
	)

	LiveEndpoints        = endpointGauge("live_endpoints", "Endpoints believed up.")
	UnreachableEndpoints = endpointGauge("unreachable_endpoints", "Endpoints believed down.")
	QuarantinedEndpoints = endpointGauge("quarantined_endpoints", "Recently removed endpoints whose gossip is ignored.")
	KnownEndpoints       = endpointGauge("known_endpoints", "Endpoints with state, self included.")

	ReplicationRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "records_total",
			Help:      "Replication records applied, by operation.",
		},
		[]string{"op"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admin",
			Name:      "requests_total",
			Help:      "Admin HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "admin",
			Name:      "request_duration_seconds",
			Help:      "Latency of admin HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version).",
		},
		[]string{"version"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

// Several nodes may share one process (the interactive mode), so membership
// gauges carry the node they describe.
func endpointGauge(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "membership",
			Name:      name,
			Help:      help,
		},
		[]string{"node"},
	)
}

func init() {
	Registry.MustRegister(
		Rounds, RoundDuration,
		MessagesSent, MessagesReceived, SendErrors, MessagesDropped,
		MembershipEvents, Convictions, Evictions,
		LiveEndpoints, UnreachableEndpoints, QuarantinedEndpoints, KnownEndpoints,
		ReplicationRecords,
		RequestsTotal, RequestDuration,
		buildInfo, uptime,
	)
}

// Handler exposes the registry. Mount it with mux.Handle("/metrics", metrics.Handler()).
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func SetBuildInfo(version string) {
	buildInfo.WithLabelValues(version).Set(1)
}

// ForgetNode drops the membership gauges of a node that shut down.
func ForgetNode(node string) {
	LiveEndpoints.DeleteLabelValues(node)
	UnreachableEndpoints.DeleteLabelValues(node)
	QuarantinedEndpoints.DeleteLabelValues(node)
	KnownEndpoints.DeleteLabelValues(node)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps next to record admin metrics under op.
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(op, class).Inc()
		RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
