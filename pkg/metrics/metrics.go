// Package metrics exposes the prometheus collectors raknet-go uses to
// observe endpoint and session behavior: datagram throughput, loss and
// retransmission, and per-session RTT. Callers register a *Registry
// with their own prometheus.Registerer (or use the package default via
// Default()) and pass it down into endpoint.Endpoint and the session
// scheduler.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every collector raknet-go emits. Holding them on a
// struct instead of as package globals lets tests build an isolated
// Registry against a throwaway prometheus.Registry.
type Registry struct {
	DatagramsSent     prometheus.Counter
	DatagramsReceived prometheus.Counter
	BytesSent         prometheus.Counter
	BytesReceived     prometheus.Counter

	FramesRetransmitted prometheus.Counter
	AcksReceived        prometheus.Counter
	NacksReceived       prometheus.Counter
	AcksSent            prometheus.Counter
	NacksSent           prometheus.Counter

	SessionsActive  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsClosed  *prometheus.CounterVec

	HandshakeAttempts *prometheus.CounterVec

	RTT prometheus.Histogram
}

// New builds a Registry and registers every collector on reg.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		DatagramsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raknet", Name: "datagrams_sent_total",
			Help: "Datagrams written to the UDP socket.",
		}),
		DatagramsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raknet", Name: "datagrams_received_total",
			Help: "Datagrams read from the UDP socket.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raknet", Name: "bytes_sent_total",
			Help: "Bytes written to the UDP socket.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raknet", Name: "bytes_received_total",
			Help: "Bytes read from the UDP socket.",
		}),
		FramesRetransmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raknet", Name: "frames_retransmitted_total",
			Help: "Reliable frames resent after RTO expiry or a NACK.",
		}),
		AcksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raknet", Name: "acks_received_total",
			Help: "ACK datagrams received from peers.",
		}),
		NacksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raknet", Name: "nacks_received_total",
			Help: "NACK datagrams received from peers.",
		}),
		AcksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raknet", Name: "acks_sent_total",
			Help: "ACK datagrams sent to peers.",
		}),
		NacksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raknet", Name: "nacks_sent_total",
			Help: "NACK datagrams sent to peers.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "raknet", Name: "sessions_active",
			Help: "Sessions currently past the handshake and not yet closed.",
		}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raknet", Name: "sessions_created_total",
			Help: "Sessions that completed the offline handshake.",
		}),
		SessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raknet", Name: "sessions_closed_total",
			Help: "Sessions torn down, labeled by reason.",
		}, []string{"reason"}),
		HandshakeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raknet", Name: "handshake_attempts_total",
			Help: "Offline handshake attempts, labeled by outcome.",
		}, []string{"outcome"}),
		RTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "raknet", Name: "rtt_seconds",
			Help:    "Round-trip time samples, one per acknowledged datagram.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}

	reg.MustRegister(
		m.DatagramsSent, m.DatagramsReceived, m.BytesSent, m.BytesReceived,
		m.FramesRetransmitted, m.AcksReceived, m.NacksReceived, m.AcksSent, m.NacksSent,
		m.SessionsActive, m.SessionsCreated, m.SessionsClosed, m.HandshakeAttempts, m.RTT,
	)
	return m
}

var defaultRegistry = New(prometheus.DefaultRegisterer)

// Default returns the Registry bound to prometheus's default registerer.
func Default() *Registry { return defaultRegistry }
