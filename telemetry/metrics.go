package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gomesh",
			Name:      "messages_received_total",
			Help:      "Messages received from neighbours, by discriminant and routing class.",
		},
		[]string{"type", "routing"},
	)

	MessagesForwarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gomesh",
			Name:      "messages_forwarded_total",
			Help:      "Single messages forwarded toward another node.",
		},
	)

	MessagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gomesh",
			Name:      "messages_dropped_total",
			Help:      "Messages dropped instead of handled or forwarded.",
		},
		[]string{"reason"},
	)

	BroadcastsRelayed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gomesh",
			Name:      "broadcasts_relayed_total",
			Help:      "Broadcast messages re-flooded to neighbours.",
		},
	)

	TimeSyncRounds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gomesh",
			Name:      "time_sync_rounds_total",
			Help:      "Completed four-timestamp clock-offset rounds.",
		},
	)

	KnownNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gomesh",
			Name:      "known_nodes",
			Help:      "Nodes currently reachable through this node's subtrees.",
		},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "gomesh",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(MessagesReceived, MessagesForwarded, MessagesDropped,
		BroadcastsRelayed, TimeSyncRounds, KnownNodes, uptime)
}

// MetricsHandler exposes /metrics. Mount it with r.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
