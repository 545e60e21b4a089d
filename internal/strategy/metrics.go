package strategy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QuotesPlacedTotal tracks market-maker quote placements by side.
	QuotesPlacedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_strategy_quotes_placed_total",
		Help: "Total number of market-maker quotes placed",
	}, []string{"side"})

	// SignalsTotal tracks cross-venue take signals by side.
	SignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_strategy_signals_total",
		Help: "Total number of cross-venue take signals acted on",
	}, []string{"side"})

	// ErrorsTotal tracks per-market strategy evaluation failures.
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_strategy_errors_total",
		Help: "Total number of strategy evaluation failures",
	}, []string{"strategy"})
)
