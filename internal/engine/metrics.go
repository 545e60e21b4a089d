package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsHandledTotal tracks feed events applied to shared state.
	EventsHandledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_engine_events_handled_total",
		Help: "Total number of feed events handled by the engine",
	}, []string{"kind"})

	// FillsAppliedTotal tracks fills folded into the portfolio.
	FillsAppliedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_engine_fills_applied_total",
		Help: "Total number of fills applied to the portfolio",
	})

	// UnwindOrdersTotal tracks flatten orders by trigger (age, cap).
	UnwindOrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_engine_unwind_orders_total",
		Help: "Total number of inventory unwind orders placed",
	}, []string{"reason"})

	// CloseBeforeEndTotal tracks end-of-market flatten orders.
	CloseBeforeEndTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_engine_close_before_end_total",
		Help: "Total number of end-of-market flatten orders placed",
	})
)
