// Package metrics defines the Prometheus metric collectors used across the
// umrum binaries and the scrape endpoint that serves them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	BeaconRequestsTotal  *prometheus.CounterVec
	TrackerWritesTotal   *prometheus.CounterVec
	TrackerQueueDepth    prometheus.Gauge
	HostInfoReadsTotal   *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
	EventsPublishedTotal *prometheus.CounterVec
	ArchivedEventsTotal  *prometheus.CounterVec
}

// New creates all collectors and registers them with reg. Passing nil
// registers with the Prometheus default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		BeaconRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_requests_total",
				Help: "Beacon requests by action (ping, disconnect) and outcome.",
			},
			[]string{"action", "outcome"},
		),
		TrackerWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_writes_total",
				Help: "Tracking store writes by verb and result (ok, error, dropped).",
			},
			[]string{"verb", "result"},
		),
		TrackerQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracker_queue_depth",
				Help: "Page-view operations waiting for a tracker worker.",
			},
		),
		HostInfoReadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "host_info_reads_total",
				Help: "Host info reads by result (measured, never_measured, error).",
			},
			[]string{"result"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_events_published_total",
				Help: "Beacon events mirrored to Kafka by result (ok, error, dropped).",
			},
			[]string{"result"},
		),
		ArchivedEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archived_events_total",
				Help: "Beacon events consumed by the archiver by action and result.",
			},
			[]string{"action", "result"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.BeaconRequestsTotal,
		m.TrackerWritesTotal,
		m.TrackerQueueDepth,
		m.HostInfoReadsTotal,
		m.CircuitBreakerState,
		m.EventsPublishedTotal,
		m.ArchivedEventsTotal,
	)

	return m
}

// TrackerWrite counts one tracking-store write.
func (m *Metrics) TrackerWrite(verb, result string) {
	if m == nil {
		return
	}
	m.TrackerWritesTotal.WithLabelValues(verb, result).Inc()
}

// QueueDepth sets the tracker queue gauge.
func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.TrackerQueueDepth.Set(float64(n))
}

// HostInfoRead counts one host info read.
func (m *Metrics) HostInfoRead(result string) {
	if m == nil {
		return
	}
	m.HostInfoReadsTotal.WithLabelValues(result).Inc()
}

// Beacon counts one beacon request.
func (m *Metrics) Beacon(action, outcome string) {
	if m == nil {
		return
	}
	m.BeaconRequestsTotal.WithLabelValues(action, outcome).Inc()
}

// BreakerState records a circuit breaker transition.
func (m *Metrics) BreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// EventPublished counts one beacon event by publish result.
func (m *Metrics) EventPublished(result string) {
	m.EventsPublished(result, 1)
}

// EventsPublished counts n beacon events by publish result.
func (m *Metrics) EventsPublished(result string, n int) {
	if m == nil {
		return
	}
	m.EventsPublishedTotal.WithLabelValues(result).Add(float64(n))
}

// EventArchived counts one archived beacon event.
func (m *Metrics) EventArchived(action, result string) {
	if m == nil {
		return
	}
	m.ArchivedEventsTotal.WithLabelValues(action, result).Inc()
}
