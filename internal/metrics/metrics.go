package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the daemon's Prometheus collectors.
type Metrics struct {
	Registry *prometheus.Registry

	FeedEvents    *prometheus.CounterVec
	FeedDrops     prometheus.Counter
	Commands      *prometheus.CounterVec
	CommandFails  *prometheus.CounterVec
	Conversations prometheus.Gauge
}

// New creates a metrics set backed by its own registry. droppedEvents
// reports the bus's cumulative drop count; nil disables that collector.
func New(droppedEvents func() uint64) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	if droppedEvents != nil {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "evoinbox_bus_dropped_events_total",
			Help: "Bus events discarded because a subscriber was full.",
		}, func() float64 { return float64(droppedEvents()) }))
	}

	return &Metrics{
		Registry: reg,
		FeedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "evoinbox_feed_events_total",
			Help: "Change-feed events processed, by table.",
		}, []string{"table"}),
		FeedDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "evoinbox_feed_events_discarded_total",
			Help: "Change-feed events discarded for instance mismatch.",
		}),
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "evoinbox_commands_total",
			Help: "Outbound gateway commands dispatched, by command.",
		}, []string{"command"}),
		CommandFails: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "evoinbox_command_failures_total",
			Help: "Outbound gateway commands that failed, by command.",
		}, []string{"command"}),
		Conversations: factory.NewGauge(prometheus.GaugeOpts{
			Name: "evoinbox_conversations",
			Help: "Conversations currently held in memory.",
		}),
	}
}
