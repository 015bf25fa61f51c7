package accel

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the prometheus collectors an endpoint registers:
// packets dropped per error-taxonomy reason, active sessions, the
// fallback-to-direct count, and per-session route RTT/jitter/loss
// gauges. Grounded in the pack's socket-level prometheus
// instrumentation (client_golang counters/gauges around a UDP data
// plane).
type Metrics struct {
	PacketsDropped   *prometheus.CounterVec
	SessionsActive   prometheus.Gauge
	FallbackToDirect prometheus.Counter
	RouteRTT         *prometheus.GaugeVec
	RouteJitter      *prometheus.GaugeVec
	RoutePacketLoss  *prometheus.GaugeVec
}

// NewMetrics registers a fresh Metrics set with reg. Pass a dedicated
// *prometheus.Registry in tests to avoid collisions with
// prometheus.DefaultRegisterer across parallel test processes.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accel",
			Name:      "packets_dropped_total",
			Help:      "Packets dropped by the filter gauntlet or codec, by reason.",
		}, []string{"reason"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "accel",
			Name:      "sessions_active",
			Help:      "Number of sessions currently open on this endpoint.",
		}),
		FallbackToDirect: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "accel",
			Name:      "fallback_to_direct_total",
			Help:      "Number of sessions that have fallen back to direct.",
		}),
		RouteRTT: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "accel",
			Name:      "route_rtt_milliseconds",
			Help:      "Most recently observed route RTT per session, in milliseconds.",
		}, []string{"session_id"}),
		RouteJitter: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "accel",
			Name:      "route_jitter_milliseconds",
			Help:      "Most recently observed route jitter per session, in milliseconds.",
		}, []string{"session_id"}),
		RoutePacketLoss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "accel",
			Name:      "route_packet_loss_percent",
			Help:      "Most recently observed route packet loss per session, in percent.",
		}, []string{"session_id"}),
	}

	reg.MustRegister(m.PacketsDropped, m.SessionsActive, m.FallbackToDirect,
		m.RouteRTT, m.RouteJitter, m.RoutePacketLoss)
	return m
}
