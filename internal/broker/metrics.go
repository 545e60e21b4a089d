package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrdersPlacedTotal tracks orders accepted by a broker.
	OrdersPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_broker_orders_placed_total",
		Help: "Total number of orders placed",
	})

	// OrdersCancelledTotal tracks cancelled orders.
	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_broker_orders_cancelled_total",
		Help: "Total number of orders cancelled",
	})

	// FillsTotal tracks simulated fills by fill model.
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_broker_fills_total",
		Help: "Total number of simulated fills",
	}, []string{"model"})

	// FilledQtyTotal tracks total filled quantity.
	FilledQtyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_broker_filled_qty_total",
		Help: "Total filled quantity across all fills",
	})
)
