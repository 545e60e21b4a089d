package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal tracks emitted events by kind (tob, trade).
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_feed_events_total",
		Help: "Total number of normalized feed events emitted",
	}, []string{"kind"})

	// ConnectsTotal tracks successful websocket connections.
	ConnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_feed_connects_total",
		Help: "Total number of successful feed connections",
	})

	// ReconnectsTotal tracks connection drops that triggered backoff.
	ReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_feed_reconnects_total",
		Help: "Total number of feed disconnects followed by reconnection",
	})

	// DroppedTotal tracks events dropped before delivery.
	DroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_feed_dropped_total",
		Help: "Total number of feed events dropped",
	}, []string{"reason"})

	// ParseFailuresTotal tracks frames the normalizer rejected.
	ParseFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_feed_parse_failures_total",
		Help: "Total number of unparseable feed frames",
	})
)
