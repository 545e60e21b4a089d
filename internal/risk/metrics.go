package risk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RejectionsTotal tracks pre-trade rejections by reason.
	RejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_risk_rejections_total",
		Help: "Total number of pre-trade risk rejections",
	}, []string{"reason"})
)
