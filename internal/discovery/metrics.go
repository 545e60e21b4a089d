package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MarketsFetchedTotal tracks markets returned by the markets API.
	MarketsFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_discovery_markets_fetched_total",
		Help: "Total number of markets fetched from the markets API",
	})

	// ScanDurationSeconds tracks full scan latency.
	ScanDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trader_discovery_scan_duration_seconds",
		Help:    "Duration of discovery scans",
		Buckets: prometheus.DefBuckets,
	})

	// ScanErrorsTotal tracks scan failures.
	ScanErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_discovery_scan_errors_total",
		Help: "Total number of discovery scan failures",
	})

	// EligibleMarkets tracks the size of the eligible set after the
	// latest scan.
	EligibleMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trader_discovery_eligible_markets",
		Help: "Eligible markets after the latest scan",
	})

	// WatchlistSize tracks the ranked watchlist size.
	WatchlistSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trader_discovery_watchlist_size",
		Help: "Markets on the ranked watchlist",
	})
)
