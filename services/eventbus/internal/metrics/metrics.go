// Package metrics holds the source-side counters of the eventbus service.
// Publisher and sink metrics live next to their packages.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// EventsTotal counts raw WebSocket messages by event type.
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventbus",
		Subsystem: "source",
		Name:      "events_total",
		Help:      "Raw messages received from the upstream WebSocket",
	}, []string{"type"})

	// NormalizedTotal counts domain events handed to the publisher hub.
	NormalizedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventbus",
		Subsystem: "source",
		Name:      "normalized_events_total",
		Help:      "Domain events published by kind",
	}, []string{"kind"})

	// ParseErrors counts messages that could not be normalized.
	ParseErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "eventbus",
		Subsystem: "source",
		Name:      "parse_errors_total",
		Help:      "Messages dropped because they failed to parse",
	})

	// BufferDrops counts messages dropped because the stream buffer was full.
	BufferDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "eventbus",
		Subsystem: "source",
		Name:      "buffer_drops_total",
		Help:      "Messages dropped because the stream buffer was full",
	})

	// Reconnects counts WebSocket reconnects.
	Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "eventbus",
		Subsystem: "source",
		Name:      "reconnects_total",
		Help:      "WebSocket reconnects",
	})
)

// Register registers all metrics. Without arguments it uses the default
// registerer. Subsequent calls are no-ops.
func Register(registerers ...prometheus.Registerer) {
	once.Do(func() {
		var reg prometheus.Registerer
		if len(registerers) > 0 && registerers[0] != nil {
			reg = registerers[0]
		} else {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(
			EventsTotal,
			NormalizedTotal,
			ParseErrors,
			BufferDrops,
			Reconnects,
		)
	})
}
