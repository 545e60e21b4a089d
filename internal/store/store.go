// Package store persists markets, orders, fills, the market-data tape
// and periodic snapshots. SQLite is the primary backend; Postgres
// implements the same interface for shared deployments, and a console
// store covers scanner-only runs without a database.
package store

import (
	"context"
	"time"

	"polymarket-trader/pkg/types"
)

// PositionSnapshot is a point-in-time view of one market position.
type PositionSnapshot struct {
	TS            float64 `json:"ts"`
	MarketID      string  `json:"market_id"`
	EventID       string  `json:"event_id"`
	Position      float64 `json:"position"`
	AvgPrice      float64 `json:"avg_price"`
	MarkPrice     float64 `json:"mark_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	RealizedPnL   float64 `json:"realized_pnl"`
}

// PnLSnapshot is a point-in-time aggregate P&L across all markets.
type PnLSnapshot struct {
	TS              float64 `json:"ts"`
	TotalUnrealized float64 `json:"total_unrealized"`
	TotalRealized   float64 `json:"total_realized"`
	TotalPnL        float64 `json:"total_pnl"`
}

// QuoteSnapshot records the market maker's quoting decision for one
// market on one evaluation pass.
type QuoteSnapshot struct {
	TS         float64  `json:"ts"`
	MarketID   string   `json:"market_id"`
	EventID    string   `json:"event_id"`
	BestBid    *float64 `json:"best_bid,omitempty"`
	BestAsk    *float64 `json:"best_ask,omitempty"`
	Mid        float64  `json:"mid"`
	Fair       float64  `json:"fair"`
	FairSource string   `json:"fair_source"`
	InvQty     float64  `json:"inv_qty"`
	Width      float64  `json:"width"`
	Skew       float64  `json:"skew"`
	TargetBid  float64  `json:"target_bid"`
	TargetAsk  float64  `json:"target_ask"`
}

// ScannerSnapshot records one discovery pass.
type ScannerSnapshot struct {
	TS            float64 `json:"ts"`
	EligibleCount int     `json:"eligible_count"`
	TopCount      int     `json:"top_count"`
}

// WatchlistEntry is one ranked row of the current watchlist joined
// with market metadata.
type WatchlistEntry struct {
	Rank     int     `json:"rank"`
	MarketID string  `json:"market_id"`
	TS       float64 `json:"ts"`
	Question string  `json:"question"`
	EventID  string  `json:"event_id"`
}

// RuntimeStatus is the latest health line for one component, keyed by
// component name.
type RuntimeStatus struct {
	Component string  `json:"component"`
	TS        float64 `json:"ts"`
	Level     string  `json:"level"`
	Message   string  `json:"message"`
	Detail    string  `json:"detail,omitempty"`
}

// Store is the persistence contract. Implementations serialize writes
// internally; callers may use a Store from multiple goroutines.
type Store interface {
	// UpsertMarkets inserts or updates market metadata rows.
	UpsertMarkets(ctx context.Context, markets []types.MarketInfo) error

	// AppendTape appends one tape record in insertion order.
	AppendTape(ctx context.Context, rec *types.TapeRecord) error

	// InsertOrder persists a new order with its meta blob.
	InsertOrder(ctx context.Context, order *types.Order, meta map[string]any) error

	// UpdateOrderStatus updates an order's status; filledSize is
	// applied when non-nil.
	UpdateOrderStatus(ctx context.Context, orderID string, status types.OrderStatus, filledSize *float64) error

	// InsertFill persists an execution.
	InsertFill(ctx context.Context, fill *types.Fill) error

	// InsertPositionSnapshot appends a per-market position snapshot.
	InsertPositionSnapshot(ctx context.Context, snap *PositionSnapshot) error

	// InsertPnLSnapshot appends an aggregate P&L snapshot.
	InsertPnLSnapshot(ctx context.Context, snap *PnLSnapshot) error

	// InsertQuoteSnapshot appends a market-maker quote snapshot.
	InsertQuoteSnapshot(ctx context.Context, snap *QuoteSnapshot) error

	// InsertScannerSnapshot appends a discovery-pass snapshot.
	InsertScannerSnapshot(ctx context.Context, snap *ScannerSnapshot) error

	// ReplaceWatchlist transactionally swaps the ranked watchlist.
	ReplaceWatchlist(ctx context.Context, marketIDs []string, ts float64) error

	// UpsertRuntimeStatus updates a component's health line.
	UpsertRuntimeStatus(ctx context.Context, st *RuntimeStatus) error

	// RuntimeStatuses returns the latest health line per component.
	RuntimeStatuses(ctx context.Context) ([]RuntimeStatus, error)

	// LatestPositions returns the most recent snapshot per market.
	LatestPositions(ctx context.Context, limit int) ([]PositionSnapshot, error)

	// LatestPnL returns the most recent aggregate P&L snapshot, or
	// nil when no snapshot exists.
	LatestPnL(ctx context.Context) (*PnLSnapshot, error)

	// LatestTapeTS returns the max tape timestamp; ok is false on an
	// empty tape.
	LatestTapeTS(ctx context.Context) (ts float64, ok bool, err error)

	// Watchlist returns the current ranked watchlist.
	Watchlist(ctx context.Context, limit int) ([]WatchlistEntry, error)

	// IterTape streams tape records in (ts, insertion) order, bounded
	// by startTS/endTS when non-zero. fn returning an error stops the
	// iteration and propagates the error.
	IterTape(ctx context.Context, startTS, endTS float64, fn func(rec *types.TapeRecord) error) error

	// ClearTradingState removes orders, fills and position/P&L
	// snapshots. Markets and the tape survive.
	ClearTradingState(ctx context.Context) error

	// Close closes the storage connection.
	Close() error
}

func nowEpoch() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
