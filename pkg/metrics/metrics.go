// Package metrics exposes the upload/download stack's Prometheus
// counters and histograms, grounded on the example pack's
// prometheus/client_golang exporter (registered collectors served over
// promhttp.Handler from a CLI's own HTTP mux).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every metric the upload/download stack records.
type Registry struct {
	PacketsSent    *prometheus.CounterVec
	PacketsRetried *prometheus.CounterVec
	BytesTransfered *prometheus.CounterVec
	Retransmits    *prometheus.CounterVec
	TransferLatency *prometheus.HistogramVec
	TransferFailures *prometheus.CounterVec
}

// New registers every metric against reg and returns the bundle. Pass
// prometheus.NewRegistry() for isolated tests, or
// prometheus.DefaultRegisterer for a running process.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		PacketsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fastdata",
			Name:      "packets_sent_total",
			Help:      "UDP packets sent, by protocol direction.",
		}, []string{"direction"}),
		PacketsRetried: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fastdata",
			Name:      "packets_retried_total",
			Help:      "Packets re-sent after a timeout or a missing-seq NACK.",
		}, []string{"direction"}),
		BytesTransfered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fastdata",
			Name:      "bytes_transferred_total",
			Help:      "Payload bytes successfully transferred, by protocol direction.",
		}, []string{"direction"}),
		Retransmits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fastdata",
			Name:      "retransmit_rounds_total",
			Help:      "Retransmit rounds issued after a missing-seq reply or receive timeout.",
		}, []string{"direction"}),
		TransferLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fastdata",
			Name:      "transfer_duration_seconds",
			Help:      "Wall-clock duration of one region upload or download.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"direction"}),
		TransferFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fastdata",
			Name:      "transfer_failures_total",
			Help:      "Transfers that exhausted their retry budget.",
		}, []string{"direction", "reason"}),
	}
}

// Handler returns the /metrics HTTP handler for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
