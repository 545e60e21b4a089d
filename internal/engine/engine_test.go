package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"polymarket-trader/internal/broker"
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

func baseConfig() *config.Config {
	return &config.Config{
		TradeMode:          config.TradeModePaper,
		RunMode:            config.RunModePaper,
		PaperFillModel:     config.FillModelOnBookCross,
		MarketRefreshSecs:  60,
		MaxPosPerMarket:    1000,
		MaxFeedLagSecs:     5,
		MaxSpread:          0.20,
		UnwindIntervalSecs: 10,
		StopBeforeEndSecs:  3600,
		BacktestSpeed:      1000,
	}
}

func newTestEngine(t *testing.T, cfg *config.Config, clk clock.Clock, st store.Store, strategies ...strategy.Strategy) *Engine {
	t.Helper()
	logger := zap.NewNop()

	if st == nil {
		st = store.NewConsoleStore(logger)
	}
	b, err := broker.NewPaperBroker(&broker.PaperConfig{
		FillModel: cfg.PaperFillModel,
		Store:     st,
		Clock:     clk,
		Logger:    logger,
	})
	require.NoError(t, err)

	return New(&Config{
		Cfg:        cfg,
		Clock:      clk,
		Store:      st,
		Broker:     b,
		Risk:       risk.New(&risk.Config{Cfg: cfg, Clock: clk, Logger: logger}),
		Portfolio:  portfolio.New(logger),
		Odds:       odds.Disabled{},
		Strategies: strategies,
		Logger:     logger,
	})
}

func bookAt(bid, ask, ts float64) *types.TopOfBook {
	return &types.TopOfBook{
		BestBid:     types.Float64Ptr(bid),
		BestBidSize: types.Float64Ptr(100),
		BestAsk:     types.Float64Ptr(ask),
		BestAskSize: types.Float64Ptr(100),
		TS:          ts,
	}
}

func TestEngine_FillAttribution(t *testing.T) {
	clk := clock.NewFake(1000)
	e := newTestEngine(t, baseConfig(), clk, nil)
	ctx := context.Background()

	e.state.markets["m1"] = types.MarketInfo{MarketID: "m1", EventID: "e1"}

	// A resting buy above the ask fills on the next book update.
	_, err := e.broker.PlaceLimit(ctx, &types.OrderRequest{
		MarketID: "m1", Side: types.SideBuy, Price: 0.50, Size: 10,
	})
	require.NoError(t, err)

	e.handleFeedEvent(ctx, &feed.BookEvent{Market: "m1", TOB: bookAt(0.44, 0.46, clk.Now())})

	pos, ok := e.portfolio.Get("m1")
	require.True(t, ok)
	require.Equal(t, 10.0, pos.Qty)
	require.Equal(t, "e1", pos.EventID)

	// Shared state reflects the book.
	e.state.mu.RLock()
	require.NotNil(t, e.state.tob["m1"])
	require.Equal(t, 0.46, *e.state.tob["m1"].BestAsk)
	e.state.mu.RUnlock()
}

func TestEngine_FillAttribution_UnknownMarket(t *testing.T) {
	clk := clock.NewFake(1000)
	e := newTestEngine(t, baseConfig(), clk, nil)
	ctx := context.Background()

	_, err := e.broker.PlaceLimit(ctx, &types.OrderRequest{
		MarketID: "m9", Side: types.SideBuy, Price: 0.50, Size: 5,
	})
	require.NoError(t, err)

	e.handleFeedEvent(ctx, &feed.BookEvent{Market: "m9", TOB: bookAt(0.40, 0.42, clk.Now())})

	pos, ok := e.portfolio.Get("m9")
	require.True(t, ok)
	require.Equal(t, "event:m9", pos.EventID)
}

func TestEngine_CloseBeforeEnd(t *testing.T) {
	clk := clock.NewFake(10000)
	e := newTestEngine(t, baseConfig(), clk, nil)
	ctx := context.Background()

	e.portfolio.ApplyFill(&types.Fill{
		FillID: "f1", MarketID: "m1", Side: types.SideBuy,
		Price: 0.50, Size: 10, TS: clk.Now(),
	}, "e1")

	tob := bookAt(0.48, 0.50, clk.Now())

	// Far from the end: nothing happens.
	farMarket := &types.MarketInfo{MarketID: "m1", EventID: "e1", EndTS: clk.Now() + 100000}
	e.maybeCloseBeforeEnd(ctx, farMarket, tob)
	require.Empty(t, e.broker.OpenOrders("m1"))

	// Inside the window: a crossing sell at the bid for the full size.
	nearMarket := &types.MarketInfo{MarketID: "m1", EventID: "e1", EndTS: clk.Now() + 600}
	e.maybeCloseBeforeEnd(ctx, nearMarket, tob)

	open := e.broker.OpenOrders("m1")
	require.Len(t, open, 1)
	require.Equal(t, types.SideSell, open[0].Side)
	require.Equal(t, 0.48, open[0].Price)
	require.Equal(t, 10.0, open[0].Size)
}

func TestEngine_UnwindAge(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxPosAgeSecs = 300
	clk := clock.NewFake(10000)
	e := newTestEngine(t, cfg, clk, nil)
	ctx := context.Background()

	e.portfolio.ApplyFill(&types.Fill{
		FillID: "f1", MarketID: "m1", Side: types.SideBuy,
		Price: 0.50, Size: 10, TS: clk.Now(),
	}, "e1")

	// Fresh position: no unwind.
	e.state.tob["m1"] = bookAt(0.49, 0.51, clk.Now())
	e.unwindOnce(ctx)
	require.Empty(t, e.broker.OpenOrders("m1"))

	clk.Advance(301)
	e.state.tob["m1"] = bookAt(0.49, 0.51, clk.Now())
	e.unwindOnce(ctx)

	open := e.broker.OpenOrders("m1")
	require.Len(t, open, 1)
	require.Equal(t, types.SideSell, open[0].Side)
	require.Equal(t, 0.49, open[0].Price)

	// Throttled: an immediate second pass places nothing new.
	e.unwindOnce(ctx)
	require.Len(t, e.broker.OpenOrders("m1"), 1)
}

func TestEngine_UnwindCapOldestFirst(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxOpenPositions = 1
	clk := clock.NewFake(10000)
	e := newTestEngine(t, cfg, clk, nil)
	ctx := context.Background()

	e.portfolio.ApplyFill(&types.Fill{
		FillID: "f1", MarketID: "old", Side: types.SideBuy,
		Price: 0.50, Size: 10, TS: 9000,
	}, "e1")
	e.portfolio.ApplyFill(&types.Fill{
		FillID: "f2", MarketID: "new", Side: types.SideBuy,
		Price: 0.50, Size: 10, TS: 9900,
	}, "e2")

	e.state.tob["old"] = bookAt(0.49, 0.51, clk.Now())
	e.state.tob["new"] = bookAt(0.49, 0.51, clk.Now())

	e.unwindOnce(ctx)

	require.Len(t, e.broker.OpenOrders("old"), 1)
	require.Empty(t, e.broker.OpenOrders("new"))
}

func TestEngine_UnwindCycleCap(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxPosAgeSecs = 100
	cfg.UnwindMaxMarketsPerCycle = 1
	clk := clock.NewFake(10000)
	e := newTestEngine(t, cfg, clk, nil)
	ctx := context.Background()

	for _, id := range []string{"m1", "m2", "m3"} {
		e.portfolio.ApplyFill(&types.Fill{
			FillID: "f-" + id, MarketID: id, Side: types.SideBuy,
			Price: 0.50, Size: 10, TS: 9000,
		}, "e-"+id)
		e.state.tob[id] = bookAt(0.49, 0.51, clk.Now())
	}

	e.unwindOnce(ctx)

	placed := 0
	for _, id := range []string{"m1", "m2", "m3"} {
		placed += len(e.broker.OpenOrders(id))
	}
	require.Equal(t, 1, placed)
}

func TestEngine_UnwindBypassesDailyLossLimit(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxPosAgeSecs = 100
	cfg.DailyLossLimit = 1
	clk := clock.NewFake(10000)
	e := newTestEngine(t, cfg, clk, nil)
	ctx := context.Background()

	// A realized loss past the limit must not stop the engine from
	// flattening what is still open.
	e.portfolio.ApplyFill(&types.Fill{
		FillID: "f1", MarketID: "m0", Side: types.SideBuy,
		Price: 0.50, Size: 10, TS: 8000,
	}, "e0")
	e.portfolio.ApplyFill(&types.Fill{
		FillID: "f2", MarketID: "m0", Side: types.SideSell,
		Price: 0.30, Size: 10, TS: 8001,
	}, "e0")
	e.portfolio.ApplyFill(&types.Fill{
		FillID: "f3", MarketID: "m1", Side: types.SideBuy,
		Price: 0.50, Size: 10, TS: 9000,
	}, "e1")
	e.state.tob["m1"] = bookAt(0.49, 0.51, clk.Now())

	e.unwindOnce(ctx)

	open := e.broker.OpenOrders("m1")
	require.Len(t, open, 1)
	require.Equal(t, types.SideSell, open[0].Side)
	require.Equal(t, 10.0, open[0].Size)
}

func TestEngine_UnwindSkipsOneSidedBook(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxPosAgeSecs = 100
	clk := clock.NewFake(10000)
	e := newTestEngine(t, cfg, clk, nil)
	ctx := context.Background()

	e.portfolio.ApplyFill(&types.Fill{
		FillID: "f1", MarketID: "m1", Side: types.SideBuy,
		Price: 0.50, Size: 10, TS: 9000,
	}, "e1")
	e.state.tob["m1"] = &types.TopOfBook{
		BestBid: types.Float64Ptr(0.49),
		TS:      clk.Now(),
	}

	e.unwindOnce(ctx)
	require.Empty(t, e.broker.OpenOrders("m1"))
}

func TestEngine_RehydrateRestoresPositions(t *testing.T) {
	logger := zap.NewNop()
	st, err := store.NewSQLiteStore(&store.SQLiteConfig{Path: ":memory:", Logger: logger})
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.InsertPositionSnapshot(ctx, &store.PositionSnapshot{
		TS: 500, MarketID: "m1", EventID: "e1",
		Position: 25, AvgPrice: 0.40, MarkPrice: 0.45, RealizedPnL: 1.5,
	}))
	require.NoError(t, st.InsertPositionSnapshot(ctx, &store.PositionSnapshot{
		TS: 500, MarketID: "m2", EventID: "e2",
		Position: 0, AvgPrice: 0, RealizedPnL: -2.0,
	}))
	require.NoError(t, st.InsertPositionSnapshot(ctx, &store.PositionSnapshot{
		TS: 500, MarketID: "m3", EventID: "e3",
		Position: 0, AvgPrice: 0, RealizedPnL: 0,
	}))

	cfg := baseConfig()
	cfg.PaperRehydrate = true
	clk := clock.NewFake(1000)
	e := newTestEngine(t, cfg, clk, st)

	require.NoError(t, e.rehydratePaperState(ctx))

	pos, ok := e.portfolio.Get("m1")
	require.True(t, ok)
	require.Equal(t, 25.0, pos.Qty)
	require.Equal(t, 0.40, pos.AvgPrice)
	require.Equal(t, 1.5, pos.RealizedPnL)
	// Age restarts at the restore time.
	require.Equal(t, 1000.0, pos.OpenedTS)

	flat, ok := e.portfolio.Get("m2")
	require.True(t, ok)
	require.Equal(t, 0.0, flat.Qty)
	require.Equal(t, -2.0, flat.RealizedPnL)
	require.Equal(t, 0.0, flat.OpenedTS)

	_, ok = e.portfolio.Get("m3")
	require.False(t, ok)
}

func TestEngine_ResetOnStartWipesState(t *testing.T) {
	logger := zap.NewNop()
	st, err := store.NewSQLiteStore(&store.SQLiteConfig{Path: ":memory:", Logger: logger})
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.InsertPositionSnapshot(ctx, &store.PositionSnapshot{
		TS: 500, MarketID: "m1", EventID: "e1", Position: 25, AvgPrice: 0.40,
	}))

	cfg := baseConfig()
	cfg.PaperResetOnStart = true
	cfg.PaperRehydrate = true
	clk := clock.NewFake(1000)
	e := newTestEngine(t, cfg, clk, st)

	require.NoError(t, e.rehydratePaperState(ctx))
	require.Empty(t, e.portfolio.Positions())

	snaps, err := st.LatestPositions(ctx, 100)
	require.NoError(t, err)
	require.Empty(t, snaps)
}

func TestEngine_SnapshotMarkLadder(t *testing.T) {
	logger := zap.NewNop()
	st, err := store.NewSQLiteStore(&store.SQLiteConfig{Path: ":memory:", Logger: logger})
	require.NoError(t, err)
	defer st.Close()

	clk := clock.NewFake(2000)
	e := newTestEngine(t, baseConfig(), clk, st)
	ctx := context.Background()

	e.portfolio.ApplyFill(&types.Fill{
		FillID: "f1", MarketID: "mid", Side: types.SideBuy,
		Price: 0.40, Size: 10, TS: clk.Now(),
	}, "e1")
	e.portfolio.ApplyFill(&types.Fill{
		FillID: "f2", MarketID: "nobook", Side: types.SideBuy,
		Price: 0.30, Size: 10, TS: clk.Now(),
	}, "e2")

	e.state.tob["mid"] = bookAt(0.48, 0.52, clk.Now())

	e.persistSnapshots(ctx)

	snaps, err := st.LatestPositions(ctx, 100)
	require.NoError(t, err)
	byMarket := make(map[string]store.PositionSnapshot, len(snaps))
	for _, s := range snaps {
		byMarket[s.MarketID] = s
	}

	// Two-sided book marks at mid.
	require.InDelta(t, 0.50, byMarket["mid"].MarkPrice, 1e-9)
	require.InDelta(t, 1.0, byMarket["mid"].UnrealizedPnL, 1e-9)

	// No book falls back to the entry price.
	require.InDelta(t, 0.30, byMarket["nobook"].MarkPrice, 1e-9)
	require.InDelta(t, 0.0, byMarket["nobook"].UnrealizedPnL, 1e-9)

	pnl, err := st.LatestPnL(ctx)
	require.NoError(t, err)
	require.NotNil(t, pnl)
	require.InDelta(t, 1.0, pnl.TotalUnrealized, 1e-9)
}

// buyOnce places one resting buy at the ask the first time it sees a
// two-sided book.
type buyOnce struct {
	placed bool
}

func (s *buyOnce) Name() string { return "buy_once" }

func (s *buyOnce) OnMarket(ctx context.Context, sctx *strategy.Context, market *types.MarketInfo, tob *types.TopOfBook) error {
	if s.placed || tob == nil || !tob.TwoSided() {
		return nil
	}
	res := sctx.Risk.PreTradeCheck(market.MarketID, market.EventID, types.SideBuy, *tob.BestAsk, 10, tob, sctx.Portfolio)
	if !res.OK {
		return nil
	}
	_, err := sctx.Broker.PlaceLimit(ctx, &types.OrderRequest{
		MarketID: market.MarketID, Side: types.SideBuy, Price: *tob.BestAsk, Size: 10,
	})
	if err != nil {
		return err
	}
	s.placed = true
	return nil
}

func TestEngine_BacktestReplay(t *testing.T) {
	logger := zap.NewNop()
	st, err := store.NewSQLiteStore(&store.SQLiteConfig{Path: ":memory:", Logger: logger})
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()

	// Three book records a second apart; the ask steps down so the
	// order placed after the first record crosses on the second.
	for i, ts := range []float64{5000, 5001, 5002} {
		tob := bookAt(0.44-float64(i)*0.01, 0.46-float64(i)*0.01, ts)
		payload, err := types.EncodeTOBPayload(tob)
		require.NoError(t, err)
		require.NoError(t, st.AppendTape(ctx, &types.TapeRecord{
			TS: ts, MarketID: "m1", Kind: types.TapeKindTOB, Payload: payload,
		}))
	}

	cfg := baseConfig()
	cfg.RunMode = config.RunModeBacktest
	cfg.BacktestSpeed = 10000
	clk := clock.NewFake(0)
	e := newTestEngine(t, cfg, clk, st, &buyOnce{})

	require.NoError(t, e.runBacktest(ctx))

	// The fill happened and domain time tracked the tape.
	pos, ok := e.portfolio.Get("m1")
	require.True(t, ok)
	require.Equal(t, 10.0, pos.Qty)
	require.Equal(t, 5002.0, clk.Now())

	// Tape-only markets get placeholder attribution.
	require.Equal(t, "event:m1", pos.EventID)

	snaps, err := st.LatestPositions(ctx, 100)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
}

// takeOnce places a single aggressive buy far above the book so the
// next update fills it at the prevailing ask.
type takeOnce struct {
	placed bool
}

func (s *takeOnce) Name() string { return "take_once" }

func (s *takeOnce) OnMarket(ctx context.Context, sctx *strategy.Context, market *types.MarketInfo, tob *types.TopOfBook) error {
	if s.placed || tob == nil || !tob.TwoSided() {
		return nil
	}
	res := sctx.Risk.PreTradeCheck(market.MarketID, market.EventID, types.SideBuy, 0.99, 10, tob, sctx.Portfolio)
	if !res.OK {
		return nil
	}
	_, err := sctx.Broker.PlaceLimit(ctx, &types.OrderRequest{
		MarketID: market.MarketID, Side: types.SideBuy, Price: 0.99, Size: 10,
	})
	if err != nil {
		return err
	}
	s.placed = true
	return nil
}

func TestEngine_TapeRoundTripDeterminism(t *testing.T) {
	logger := zap.NewNop()
	st, err := store.NewSQLiteStore(&store.SQLiteConfig{Path: ":memory:", Logger: logger})
	require.NoError(t, err)
	defer st.Close()

	// Record a live sim session onto the tape.
	recCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sim := feed.NewSimFeed(&feed.SimConfig{
		Store:  st,
		Clock:  clock.New(),
		Logger: logger,
		TickHz: 200,
		Seed:   11,
	})
	events, err := sim.Events(recCtx, func() []feed.Subscription {
		return []feed.Subscription{{MarketID: "m1"}}
	})
	require.NoError(t, err)

	books := 0
	for ev := range events {
		if _, ok := ev.(*feed.BookEvent); ok {
			books++
			if books == 20 {
				cancel()
			}
		}
	}
	require.GreaterOrEqual(t, books, 20)

	// Replay the recorded tape; the strategy and its fill write orders
	// back through the same store mid-iteration.
	replay := func() portfolio.Position {
		cfg := baseConfig()
		cfg.RunMode = config.RunModeBacktest
		cfg.BacktestSpeed = 100000
		clk := clock.NewFake(0)
		e := newTestEngine(t, cfg, clk, st, &takeOnce{})

		require.NoError(t, e.runBacktest(context.Background()))

		pos, ok := e.portfolio.Get("m1")
		require.True(t, ok)
		return pos
	}

	first := replay()
	require.Equal(t, 10.0, first.Qty)

	second := replay()
	require.Equal(t, first.Qty, second.Qty)
	require.Equal(t, first.AvgPrice, second.AvgPrice)
	require.Equal(t, first.RealizedPnL, second.RealizedPnL)
}

func TestEngine_BacktestRequiresFakeClock(t *testing.T) {
	cfg := baseConfig()
	cfg.RunMode = config.RunModeBacktest
	e := newTestEngine(t, cfg, clock.New(), nil)
	require.Error(t, e.runBacktest(context.Background()))
}
