package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TapeAppendsTotal tracks tape records written.
	TapeAppendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_store_tape_appends_total",
		Help: "Total number of tape records appended",
	})

	// SnapshotWritesTotal tracks snapshot rows written by table.
	SnapshotWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_store_snapshot_writes_total",
		Help: "Total number of snapshot rows written",
	}, []string{"table"})

	// WriteErrorsTotal tracks failed store writes.
	WriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_store_write_errors_total",
		Help: "Total number of failed store writes",
	})
)
