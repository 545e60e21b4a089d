package store

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"polymarket-trader/pkg/types"
)

// ConsoleStore implements Store without a database. Scanner results
// are pretty-printed; everything else is logged or kept in memory so
// reads still work within a single run. Intended for scanner-only
// sessions and tests.
type ConsoleStore struct {
	mu        sync.Mutex
	logger    *zap.Logger
	watchlist []WatchlistEntry
	markets   map[string]types.MarketInfo
	lastPnL   *PnLSnapshot
	positions map[string]PositionSnapshot
	statuses  map[string]RuntimeStatus
}

// NewConsoleStore creates a new console store.
func NewConsoleStore(logger *zap.Logger) *ConsoleStore {
	logger.Info("console-store-initialized")
	return &ConsoleStore{
		logger:    logger,
		markets:   make(map[string]types.MarketInfo),
		positions: make(map[string]PositionSnapshot),
		statuses:  make(map[string]RuntimeStatus),
	}
}

// UpsertMarkets keeps market metadata in memory for watchlist joins.
func (c *ConsoleStore) UpsertMarkets(ctx context.Context, markets []types.MarketInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range markets {
		c.markets[m.MarketID] = m
	}
	return nil
}

// AppendTape is a no-op; the console store does not record a tape.
func (c *ConsoleStore) AppendTape(ctx context.Context, rec *types.TapeRecord) error {
	return nil
}

// InsertOrder logs the order.
func (c *ConsoleStore) InsertOrder(ctx context.Context, order *types.Order, meta map[string]any) error {
	c.logger.Debug("order",
		zap.String("order-id", order.OrderID),
		zap.String("market-id", order.MarketID),
		zap.String("side", string(order.Side)),
		zap.Float64("price", order.Price),
		zap.Float64("size", order.Size))
	return nil
}

// UpdateOrderStatus is a no-op.
func (c *ConsoleStore) UpdateOrderStatus(ctx context.Context, orderID string, status types.OrderStatus, filledSize *float64) error {
	return nil
}

// InsertFill logs the fill.
func (c *ConsoleStore) InsertFill(ctx context.Context, fill *types.Fill) error {
	c.logger.Info("fill",
		zap.String("fill-id", fill.FillID),
		zap.String("market-id", fill.MarketID),
		zap.String("side", string(fill.Side)),
		zap.Float64("price", fill.Price),
		zap.Float64("size", fill.Size))
	return nil
}

// InsertPositionSnapshot keeps the latest snapshot per market.
func (c *ConsoleStore) InsertPositionSnapshot(ctx context.Context, snap *PositionSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positions[snap.MarketID] = *snap
	return nil
}

// InsertPnLSnapshot keeps the latest aggregate snapshot.
func (c *ConsoleStore) InsertPnLSnapshot(ctx context.Context, snap *PnLSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := *snap
	c.lastPnL = &s
	return nil
}

// InsertQuoteSnapshot is a no-op.
func (c *ConsoleStore) InsertQuoteSnapshot(ctx context.Context, snap *QuoteSnapshot) error {
	return nil
}

// InsertScannerSnapshot pretty-prints the scan result.
func (c *ConsoleStore) InsertScannerSnapshot(ctx context.Context, snap *ScannerSnapshot) error {
	fmt.Println("\n" + "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("🔎 MARKET SCAN\n")
	fmt.Printf("  Eligible: %d\n", snap.EligibleCount)
	fmt.Printf("  Watching: %d\n", snap.TopCount)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	return nil
}

// ReplaceWatchlist swaps the in-memory watchlist and prints it.
func (c *ConsoleStore) ReplaceWatchlist(ctx context.Context, marketIDs []string, ts float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.watchlist = c.watchlist[:0]
	for i, mid := range marketIDs {
		e := WatchlistEntry{Rank: i + 1, MarketID: mid, TS: ts}
		if m, ok := c.markets[mid]; ok {
			e.Question = m.Question
			e.EventID = m.EventID
		}
		c.watchlist = append(c.watchlist, e)
		fmt.Printf("  %2d. %s  %s\n", e.Rank, e.MarketID, e.Question)
	}
	return nil
}

// UpsertRuntimeStatus logs the component status line and keeps the
// latest per component.
func (c *ConsoleStore) UpsertRuntimeStatus(ctx context.Context, st *RuntimeStatus) error {
	c.logger.Debug("runtime-status",
		zap.String("component", st.Component),
		zap.String("level", st.Level),
		zap.String("message", st.Message))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[st.Component] = *st
	return nil
}

// RuntimeStatuses returns the in-memory component health lines.
func (c *ConsoleStore) RuntimeStatuses(ctx context.Context) ([]RuntimeStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]RuntimeStatus, 0, len(c.statuses))
	for _, st := range c.statuses {
		out = append(out, st)
	}
	return out, nil
}

// LatestPositions returns the in-memory snapshots.
func (c *ConsoleStore) LatestPositions(ctx context.Context, limit int) ([]PositionSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PositionSnapshot, 0, len(c.positions))
	for _, snap := range c.positions {
		if len(out) >= limit {
			break
		}
		out = append(out, snap)
	}
	return out, nil
}

// LatestPnL returns the in-memory aggregate snapshot.
func (c *ConsoleStore) LatestPnL(ctx context.Context) (*PnLSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastPnL == nil {
		return nil, nil
	}
	s := *c.lastPnL
	return &s, nil
}

// LatestTapeTS reports an empty tape.
func (c *ConsoleStore) LatestTapeTS(ctx context.Context) (float64, bool, error) {
	return 0, false, nil
}

// Watchlist returns the in-memory watchlist.
func (c *ConsoleStore) Watchlist(ctx context.Context, limit int) ([]WatchlistEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.watchlist)
	if limit < n {
		n = limit
	}
	out := make([]WatchlistEntry, n)
	copy(out, c.watchlist[:n])
	return out, nil
}

// IterTape iterates nothing; the console store keeps no tape.
func (c *ConsoleStore) IterTape(ctx context.Context, startTS, endTS float64, fn func(rec *types.TapeRecord) error) error {
	return nil
}

// ClearTradingState drops the in-memory snapshots.
func (c *ConsoleStore) ClearTradingState(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positions = make(map[string]PositionSnapshot)
	c.lastPnL = nil
	return nil
}

// Close is a no-op for console storage.
func (c *ConsoleStore) Close() error {
	c.logger.Info("closing-console-store")
	return nil
}
