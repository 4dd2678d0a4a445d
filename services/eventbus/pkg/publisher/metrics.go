package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metrics = struct {
	Accepted  *prometheus.CounterVec
	Filtered  *prometheus.CounterVec
	Sent      *prometheus.CounterVec
	Batches   *prometheus.CounterVec
	Failures  *prometheus.CounterVec
	Retries   *prometheus.CounterVec
	Requeued  *prometheus.CounterVec
	Buffered  *prometheus.GaugeVec
	SendDelay *prometheus.HistogramVec
}{
	Accepted: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventbus", Subsystem: "publisher", Name: "records_accepted_total",
		Help: "Records appended to the publisher buffer",
	}, []string{"provider"}),
	Filtered: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventbus", Subsystem: "publisher", Name: "records_filtered_total",
		Help: "Records dropped by the kind allow-list",
	}, []string{"provider"}),
	Sent: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventbus", Subsystem: "publisher", Name: "records_sent_total",
		Help: "Records acknowledged by the sink",
	}, []string{"provider", "destination"}),
	Batches: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventbus", Subsystem: "publisher", Name: "batches_sent_total",
		Help: "Destination batches acknowledged by the sink",
	}, []string{"provider", "destination"}),
	Failures: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventbus", Subsystem: "publisher", Name: "send_failures_total",
		Help: "Destination batches that failed every attempt",
	}, []string{"provider", "destination"}),
	Retries: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventbus", Subsystem: "publisher", Name: "retries_total",
		Help: "Send attempts after a failed attempt",
	}, []string{"provider"}),
	Requeued: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventbus", Subsystem: "publisher", Name: "records_requeued_total",
		Help: "Records put back at the buffer front after a failed flush",
	}, []string{"provider"}),
	Buffered: promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "eventbus", Subsystem: "publisher", Name: "buffered_records",
		Help: "Records waiting in the publisher buffer",
	}, []string{"provider"}),
	SendDelay: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "eventbus", Subsystem: "publisher", Name: "send_latency_seconds",
		Help:    "Latency of successful Sink.Send calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"}),
}
