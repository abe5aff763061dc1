// Package metrics exposes Prometheus collectors for the peer fleet and
// the bearer/plexer I/O path, mirroring the call-site pattern the
// teacher's network server used for its own peer-count gauge.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors groups every gauge/counter this module registers.
type Collectors struct {
	PeersByTier      *prometheus.GaugeVec
	BannedPeers      prometheus.Gauge
	SegmentsRead     prometheus.Counter
	SegmentsWritten  prometheus.Counter
	ProtocolViolations *prometheus.CounterVec
}

// NewCollectors builds and registers every collector against reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		PeersByTier: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ouroboros",
			Subsystem: "behavior",
			Name:      "peers",
			Help:      "Number of known peers by promotion tier.",
		}, []string{"tier"}),
		BannedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ouroboros",
			Subsystem: "behavior",
			Name:      "banned_peers",
			Help:      "Number of permanently banned peers.",
		}),
		SegmentsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ouroboros",
			Subsystem: "bearer",
			Name:      "segments_read_total",
			Help:      "Segments read across every peer bearer.",
		}),
		SegmentsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ouroboros",
			Subsystem: "bearer",
			Name:      "segments_written_total",
			Help:      "Segments written across every peer bearer.",
		}),
		ProtocolViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ouroboros",
			Subsystem: "behavior",
			Name:      "protocol_violations_total",
			Help:      "Protocol contract violations observed, by mini-protocol.",
		}, []string{"protocol"}),
	}
	reg.MustRegister(c.PeersByTier, c.BannedPeers, c.SegmentsRead, c.SegmentsWritten, c.ProtocolViolations)
	return c
}

// UpdatePeerTierMetric sets the gauge for one promotion tier.
func (c *Collectors) UpdatePeerTierMetric(tier string, count int) {
	c.PeersByTier.WithLabelValues(tier).Set(float64(count))
}
