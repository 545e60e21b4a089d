// Package engine owns the shared trading state and drives the loops:
// market scanning, feed consumption, strategy evaluation, telemetry
// snapshots and inventory unwind. Backtests replay the tape through
// the same event handlers.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"polymarket-trader/internal/broker"
	"polymarket-trader/internal/discovery"
	"polymarket-trader/internal/feed"
	"polymarket-trader/internal/odds"
	"polymarket-trader/internal/portfolio"
	"polymarket-trader/internal/risk"
	"polymarket-trader/internal/store"
	"polymarket-trader/internal/strategy"
	"polymarket-trader/pkg/clock"
	"polymarket-trader/pkg/config"
	"polymarket-trader/pkg/types"
)

const strategyInterval = 250 * time.Millisecond

// Engine coordinates the trading loops around one SharedState.
type Engine struct {
	cfg        *config.Config
	clock      clock.Clock
	store      store.Store
	broker     broker.Broker
	risk       *risk.Engine
	portfolio  *portfolio.Portfolio
	discovery  *discovery.Service
	feed       feed.Feed
	strategies []strategy.Strategy
	sctx       *strategy.Context
	logger     *zap.Logger

	state      *SharedState
	lastUnwind map[string]float64 // unwind loop only
	startTS    float64
}

// SharedState is the market view shared by the loops. All fields are
// guarded by mu.
type SharedState struct {
	mu         sync.RWMutex
	markets    map[string]types.MarketInfo
	ranked     []string
	tob        map[string]*types.TopOfBook
	lastTrade  map[string]*types.TradeTick
	lastBookTS float64
}

// NewSharedState creates an empty state.
func NewSharedState() *SharedState {
	return &SharedState{
		markets:   make(map[string]types.MarketInfo),
		tob:       make(map[string]*types.TopOfBook),
		lastTrade: make(map[string]*types.TradeTick),
	}
}

// Config holds the engine's collaborators.
type Config struct {
	Cfg        *config.Config
	Clock      clock.Clock
	Store      store.Store
	Broker     broker.Broker
	Risk       *risk.Engine
	Portfolio  *portfolio.Portfolio
	Odds       odds.Provider
	Discovery  *discovery.Service
	Feed       feed.Feed
	Strategies []strategy.Strategy
	Logger     *zap.Logger
}

// New creates the engine.
func New(cfg *Config) *Engine {
	e := &Engine{
		cfg:        cfg.Cfg,
		clock:      cfg.Clock,
		store:      cfg.Store,
		broker:     cfg.Broker,
		risk:       cfg.Risk,
		portfolio:  cfg.Portfolio,
		discovery:  cfg.Discovery,
		feed:       cfg.Feed,
		strategies: cfg.Strategies,
		logger:     cfg.Logger,
		state:      NewSharedState(),
		lastUnwind: make(map[string]float64),
	}
	e.sctx = &strategy.Context{
		Cfg:       cfg.Cfg,
		Clock:     cfg.Clock,
		Store:     cfg.Store,
		Broker:    cfg.Broker,
		Risk:      cfg.Risk,
		Portfolio: cfg.Portfolio,
		Odds:      cfg.Odds,
		Logger:    cfg.Logger,
	}
	return e
}

// Run executes the configured mode until ctx is cancelled (or, for
// backtests, until the tape is exhausted).
func (e *Engine) Run(ctx context.Context) error {
	e.startTS = e.clock.Now()

	if e.cfg.TradeMode == config.TradeModePaper && e.cfg.RunMode == config.RunModePaper {
		if err := e.rehydratePaperState(ctx); err != nil {
			return fmt.Errorf("rehydrate paper state: %w", err)
		}
	}

	e.setStatus(ctx, "engine", "ok", "starting", "mode="+e.cfg.RunMode)

	switch e.cfg.RunMode {
	case config.RunModeScanner:
		return e.scannerLoop(ctx)
	case config.RunModeBacktest:
		return e.runBacktest(ctx)
	case config.RunModePaper:
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return e.scannerLoop(gctx) })
		g.Go(func() error { return e.feedLoop(gctx) })
		g.Go(func() error { return e.strategyLoop(gctx) })
		g.Go(func() error { return e.snapshotLoop(gctx) })
		g.Go(func() error { return e.unwindLoop(gctx) })
		return g.Wait()
	default:
		return fmt.Errorf("unknown run mode %q", e.cfg.RunMode)
	}
}

// scannerLoop refreshes the ranked market set. A failed scan keeps the
// previous ranking until the next success.
func (e *Engine) scannerLoop(ctx context.Context) error {
	interval := time.Duration(e.cfg.MarketRefreshSecs) * time.Second

	for {
		top, eligible, err := e.discovery.Scan(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Error("scan-failed", zap.Error(err))
		} else {
			e.state.mu.Lock()
			e.state.markets = make(map[string]types.MarketInfo, len(eligible))
			for _, m := range eligible {
				e.state.markets[m.MarketID] = m
			}
			e.state.ranked = e.state.ranked[:0]
			for _, m := range top {
				e.state.ranked = append(e.state.ranked, m.MarketID)
			}
			e.state.mu.Unlock()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// subscriptions derives the feed subscription set from the ranking.
func (e *Engine) subscriptions() []feed.Subscription {
	e.state.mu.RLock()
	defer e.state.mu.RUnlock()

	subs := make([]feed.Subscription, 0, len(e.state.ranked))
	for _, mid := range e.state.ranked {
		sub := feed.Subscription{MarketID: mid}
		if m, ok := e.state.markets[mid]; ok {
			sub.AssetID = m.ClobTokenID
		}
		subs = append(subs, sub)
	}
	return subs
}

// feedLoop consumes normalized events until the feed channel closes.
func (e *Engine) feedLoop(ctx context.Context) error {
	events, err := e.feed.Events(ctx, e.subscriptions)
	if err != nil {
		return fmt.Errorf("start feed: %w", err)
	}

	for ev := range events {
		e.handleFeedEvent(ctx, ev)
	}
	return ctx.Err()
}

// handleFeedEvent updates SharedState and runs the fill simulation.
// The broker call completes before the next event is consumed, so a
// fill is always observed before the book moves again.
func (e *Engine) handleFeedEvent(ctx context.Context, ev feed.Event) {
	switch event := ev.(type) {
	case *feed.BookEvent:
		EventsHandledTotal.WithLabelValues(types.TapeKindTOB).Inc()

		tob := *event.TOB
		e.state.mu.Lock()
		e.state.tob[event.Market] = &tob
		e.state.lastBookTS = e.clock.Now()
		e.state.mu.Unlock()

		fills, err := e.broker.OnBook(ctx, event.Market, &tob)
		if err != nil {
			e.logger.Error("on-book-failed",
				zap.String("market-id", event.Market),
				zap.Error(err))
			return
		}
		e.applyFills(fills)

	case *feed.TradeEvent:
		EventsHandledTotal.WithLabelValues(types.TapeKindTrade).Inc()

		trade := *event.Trade
		e.state.mu.Lock()
		e.state.lastTrade[trade.MarketID] = &trade
		e.state.mu.Unlock()

		fills, err := e.broker.OnTrade(ctx, trade.MarketID, &trade)
		if err != nil {
			e.logger.Error("on-trade-failed",
				zap.String("market-id", trade.MarketID),
				zap.Error(err))
			return
		}
		e.applyFills(fills)
	}
}

func (e *Engine) applyFills(fills []*types.Fill) {
	for _, fill := range fills {
		e.state.mu.RLock()
		eventID := ""
		if m, ok := e.state.markets[fill.MarketID]; ok {
			eventID = m.EventID
		}
		e.state.mu.RUnlock()
		if eventID == "" {
			eventID = "event:" + fill.MarketID
		}

		before, _ := e.portfolio.Get(fill.MarketID)
		e.portfolio.ApplyFill(fill, eventID)
		after, _ := e.portfolio.Get(fill.MarketID)

		FillsAppliedTotal.Inc()
		e.logger.Info("fill-applied",
			zap.String("fill-id", fill.FillID),
			zap.String("market-id", fill.MarketID),
			zap.String("side", string(fill.Side)),
			zap.Float64("price", fill.Price),
			zap.Float64("size", fill.Size),
			zap.Float64("qty-before", before.Qty),
			zap.Float64("qty-after", after.Qty),
			zap.Float64("realized-delta", after.RealizedPnL-before.RealizedPnL))

		if before.Qty != 0 && after.Qty == 0 {
			e.logger.Info("position-flat",
				zap.String("market-id", fill.MarketID),
				zap.Float64("realized-pnl", after.RealizedPnL))
		}
	}
}

// strategyLoop evaluates every ranked market on a fixed cadence. A
// failing strategy on one market never stops the loop or affects the
// other markets.
func (e *Engine) strategyLoop(ctx context.Context) error {
	ticker := time.NewTicker(strategyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		e.runStrategiesOnce(ctx)
	}
}

func (e *Engine) runStrategiesOnce(ctx context.Context) {
	e.state.mu.RLock()
	ranked := make([]string, len(e.state.ranked))
	copy(ranked, e.state.ranked)
	e.state.mu.RUnlock()

	for _, marketID := range ranked {
		e.evaluateMarket(ctx, marketID)
	}
}

// evaluateMarket snapshots (market, TOB) under the lock, then runs the
// end-of-market close and each strategy without holding it.
func (e *Engine) evaluateMarket(ctx context.Context, marketID string) {
	e.state.mu.RLock()
	market, haveMarket := e.state.markets[marketID]
	var tob *types.TopOfBook
	if t, ok := e.state.tob[marketID]; ok {
		cp := *t
		tob = &cp
	}
	e.state.mu.RUnlock()

	if !haveMarket {
		market = types.MarketInfo{
			MarketID: marketID,
			Question: "tape:" + marketID,
			EventID:  "event:" + marketID,
			Active:   true,
		}
	}

	e.maybeCloseBeforeEnd(ctx, &market, tob)

	for _, s := range e.strategies {
		if err := s.OnMarket(ctx, e.sctx, &market, tob); err != nil {
			strategy.ErrorsTotal.WithLabelValues(s.Name()).Inc()
			e.logger.Error("strategy-failed",
				zap.String("strategy", s.Name()),
				zap.String("market-id", marketID),
				zap.Error(err))
		}
	}
}

// maybeCloseBeforeEnd flattens a position when the market is about to
// end, crossing the spread, gated by risk.
func (e *Engine) maybeCloseBeforeEnd(ctx context.Context, market *types.MarketInfo, tob *types.TopOfBook) {
	if market.EndTS <= 0 || tob == nil || !tob.TwoSided() {
		return
	}
	pos, ok := e.portfolio.Get(market.MarketID)
	if !ok || pos.Qty == 0 {
		return
	}
	if market.EndTS-e.clock.Now() > e.cfg.StopBeforeEndSecs {
		return
	}

	side, price := flattenOrder(pos.Qty, tob)
	size := abs(pos.Qty)

	res := e.risk.PreTradeCheck(market.MarketID, market.EventID, side, price, size, tob, e.portfolio)
	if !res.OK {
		return
	}

	_, err := e.broker.PlaceLimit(ctx, &types.OrderRequest{
		MarketID: market.MarketID,
		Side:     side,
		Price:    price,
		Size:     size,
		Meta:     map[string]any{"strategy": "risk_close_before_end"},
	})
	if err != nil {
		e.logger.Error("close-before-end-failed",
			zap.String("market-id", market.MarketID),
			zap.Error(err))
		return
	}
	CloseBeforeEndTotal.Inc()
	e.logger.Info("close-before-end-placed",
		zap.String("market-id", market.MarketID),
		zap.String("side", string(side)),
		zap.Float64("price", price),
		zap.Float64("size", size))
}

// snapshotLoop persists per-position and aggregate P&L telemetry.
func (e *Engine) snapshotLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		e.persistSnapshots(ctx)
	}
}

// persistSnapshots marks every position (mid, then any available side,
// then entry price) and writes position plus aggregate snapshots.
// Store failures here are telemetry failures: logged, never fatal.
func (e *Engine) persistSnapshots(ctx context.Context) {
	now := e.clock.Now()

	e.state.mu.RLock()
	tobs := make(map[string]*types.TopOfBook, len(e.state.tob))
	for k, v := range e.state.tob {
		cp := *v
		tobs[k] = &cp
	}
	e.state.mu.RUnlock()

	totalUnrealized := 0.0
	totalRealized := e.portfolio.TotalRealized()

	for _, pos := range e.portfolio.Positions() {
		mark := pos.AvgPrice
		if tob, ok := tobs[pos.MarketID]; ok {
			if m, ok := tob.Mid(); ok {
				mark = m
			}
		}
		e.portfolio.MarkPrice(pos.MarketID, mark)

		unrealized := (mark - pos.AvgPrice) * pos.Qty
		totalUnrealized += unrealized

		err := e.store.InsertPositionSnapshot(ctx, &store.PositionSnapshot{
			TS:            now,
			MarketID:      pos.MarketID,
			EventID:       pos.EventID,
			Position:      pos.Qty,
			AvgPrice:      pos.AvgPrice,
			MarkPrice:     mark,
			UnrealizedPnL: unrealized,
			RealizedPnL:   pos.RealizedPnL,
		})
		if err != nil {
			e.logger.Warn("position-snapshot-failed",
				zap.String("market-id", pos.MarketID),
				zap.Error(err))
		}
	}

	err := e.store.InsertPnLSnapshot(ctx, &store.PnLSnapshot{
		TS:              now,
		TotalUnrealized: totalUnrealized,
		TotalRealized:   totalRealized,
		TotalPnL:        totalUnrealized + totalRealized,
	})
	if err != nil {
		e.logger.Warn("pnl-snapshot-failed", zap.Error(err))
	}
}

// unwindLoop flattens aged positions and enforces the open-position
// cap. Errors are logged; the loop never exits on them.
func (e *Engine) unwindLoop(ctx context.Context) error {
	if e.cfg.MaxOpenPositions <= 0 && e.cfg.MaxPosAgeSecs <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	interval := time.Duration(e.cfg.UnwindIntervalSecs * float64(time.Second))
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		e.unwindOnce(ctx)
	}
}

type unwindCandidate struct {
	pos    portfolio.Position
	reason string
}

// unwindOnce selects positions past max age plus, when over the
// open-position cap, the oldest positions until back under it. Each
// candidate gets its resting orders cancelled and one crossing flatten
// order, risk-gated, throttled per market and capped per cycle.
func (e *Engine) unwindOnce(ctx context.Context) {
	maxOpen := e.cfg.MaxOpenPositions
	maxAge := e.cfg.MaxPosAgeSecs
	maxPerCycle := e.cfg.UnwindMaxMarketsPerCycle
	if maxPerCycle <= 0 {
		maxPerCycle = 2
	}

	now := e.clock.Now()

	e.state.mu.RLock()
	tobs := make(map[string]*types.TopOfBook, len(e.state.tob))
	for k, v := range e.state.tob {
		cp := *v
		tobs[k] = &cp
	}
	e.state.mu.RUnlock()

	var open []portfolio.Position
	for _, pos := range e.portfolio.Positions() {
		if pos.Qty != 0 {
			open = append(open, pos)
		}
	}
	if len(open) == 0 {
		return
	}

	age := func(pos *portfolio.Position) float64 {
		if pos.OpenedTS <= 0 {
			return 0
		}
		if now < pos.OpenedTS {
			return 0
		}
		return now - pos.OpenedTS
	}

	var candidates []unwindCandidate
	seen := make(map[string]bool)

	if maxAge > 0 {
		for _, pos := range open {
			if age(&pos) >= maxAge {
				candidates = append(candidates, unwindCandidate{pos: pos, reason: "age"})
				seen[pos.MarketID] = true
			}
		}
	}

	if maxOpen > 0 && len(open) > maxOpen {
		need := len(open) - maxOpen
		rest := make([]portfolio.Position, len(open))
		copy(rest, open)
		sort.SliceStable(rest, func(i, j int) bool {
			return age(&rest[i]) > age(&rest[j])
		})
		for _, pos := range rest {
			if need <= 0 {
				break
			}
			if seen[pos.MarketID] {
				continue
			}
			candidates = append(candidates, unwindCandidate{pos: pos, reason: "cap"})
			seen[pos.MarketID] = true
			need--
		}
	}

	if len(candidates) == 0 {
		return
	}

	// Repeated attempts on the same market wait at least 10s even when
	// the loop runs faster.
	minRepeat := e.cfg.UnwindIntervalSecs
	if minRepeat < 10.0 {
		minRepeat = 10.0
	}

	did := 0
	for _, cand := range candidates {
		if did >= maxPerCycle {
			break
		}
		marketID := cand.pos.MarketID
		if now-e.lastUnwind[marketID] < minRepeat {
			continue
		}

		tob := tobs[marketID]
		if tob == nil || !tob.TwoSided() {
			continue
		}

		side, price := flattenOrder(cand.pos.Qty, tob)
		size := abs(cand.pos.Qty)

		res := e.risk.PreTradeCheck(marketID, cand.pos.EventID, side, price, size, tob, e.portfolio)
		if !res.OK {
			continue
		}

		// Stop re-accumulating before flattening.
		if err := e.broker.CancelAllMarket(ctx, marketID); err != nil {
			e.logger.Warn("unwind-cancel-failed",
				zap.String("market-id", marketID),
				zap.Error(err))
		}

		_, err := e.broker.PlaceLimit(ctx, &types.OrderRequest{
			MarketID: marketID,
			Side:     side,
			Price:    price,
			Size:     size,
			Meta: map[string]any{
				"strategy":        "risk_inventory_unwind",
				"reason":          cand.reason,
				"opened_age_secs": age(&cand.pos),
				"open_count":      len(open),
			},
		})
		if err != nil {
			e.logger.Error("unwind-place-failed",
				zap.String("market-id", marketID),
				zap.Error(err))
			continue
		}

		e.lastUnwind[marketID] = now
		did++
		UnwindOrdersTotal.WithLabelValues(cand.reason).Inc()
		e.logger.Info("unwind-placed",
			zap.String("market-id", marketID),
			zap.String("side", string(side)),
			zap.Float64("price", price),
			zap.Float64("size", size),
			zap.String("reason", cand.reason),
			zap.Int("open-count", len(open)))
	}
}

// flattenOrder crosses the spread: longs sell at the bid, shorts buy
// at the ask.
func flattenOrder(qty float64, tob *types.TopOfBook) (types.Side, float64) {
	if qty > 0 {
		return types.SideSell, *tob.BestBid
	}
	return types.SideBuy, *tob.BestAsk
}

func (e *Engine) setStatus(ctx context.Context, component, level, message, detail string) {
	err := e.store.UpsertRuntimeStatus(ctx, &store.RuntimeStatus{
		Component: component,
		TS:        e.clock.Now(),
		Level:     level,
		Message:   message,
		Detail:    detail,
	})
	if err != nil {
		e.logger.Debug("runtime-status-failed", zap.Error(err))
	}
}

// Status reports run context for the HTTP status endpoint.
func (e *Engine) Status() (mode string, lastBookTS, uptimeSecs float64) {
	e.state.mu.RLock()
	lastBookTS = e.state.lastBookTS
	e.state.mu.RUnlock()
	return e.cfg.RunMode, lastBookTS, e.clock.Now() - e.startTS
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
