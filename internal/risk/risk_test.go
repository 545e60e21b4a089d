package risk

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"polymarket-trader/internal/portfolio"
	"polymarket-trader/pkg/clock"
	"polymarket-trader/pkg/config"
	"polymarket-trader/pkg/types"
)

func baseConfig() *config.Config {
	return &config.Config{
		MaxPosPerMarket:  1000,
		MaxOpenPositions: 0,
		MaxEventExposure: 10000,
		DailyLossLimit:   10000,
		MaxFeedLagSecs:   5,
		MaxSpread:        0.20,
	}
}

func newEngine(cfg *config.Config, clk clock.Clock) *Engine {
	return New(&Config{Cfg: cfg, Clock: clk, Logger: zap.NewNop()})
}

func freshTOB(clk clock.Clock, bid, ask float64) *types.TopOfBook {
	return &types.TopOfBook{
		BestBid: types.Float64Ptr(bid),
		BestAsk: types.Float64Ptr(ask),
		TS:      clk.Now(),
	}
}

func TestPreTradeCheck_BadInputs(t *testing.T) {
	clk := clock.NewFake(1000)
	e := newEngine(baseConfig(), clk)
	pf := portfolio.New(zap.NewNop())
	tob := freshTOB(clk, 0.49, 0.51)

	tests := []struct {
		name   string
		price  float64
		size   float64
		reason string
	}{
		{"zero-size", 0.50, 0, ReasonBadSize},
		{"negative-size", 0.50, -1, ReasonBadSize},
		{"negative-price", -0.01, 10, ReasonBadPrice},
		{"price-above-one", 1.01, 10, ReasonBadPrice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.PreTradeCheck("m1", "e1", types.SideBuy, tt.price, tt.size, tob, pf)
			require.False(t, res.OK)
			require.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestPreTradeCheck_CircuitBreakers(t *testing.T) {
	clk := clock.NewFake(1000)
	e := newEngine(baseConfig(), clk)
	pf := portfolio.New(zap.NewNop())

	res := e.PreTradeCheck("m1", "e1", types.SideBuy, 0.5, 10, nil, pf)
	require.Equal(t, ReasonNoTopOfBook, res.Reason)

	stale := freshTOB(clk, 0.49, 0.51)
	clk.Advance(6)
	res = e.PreTradeCheck("m1", "e1", types.SideBuy, 0.5, 10, stale, pf)
	require.Equal(t, ReasonFeedLag, res.Reason)

	crossed := freshTOB(clk, 0.55, 0.50)
	res = e.PreTradeCheck("m1", "e1", types.SideBuy, 0.5, 10, crossed, pf)
	require.Equal(t, ReasonCrossedBook, res.Reason)

	wide := freshTOB(clk, 0.30, 0.60)
	res = e.PreTradeCheck("m1", "e1", types.SideBuy, 0.5, 10, wide, pf)
	require.Equal(t, ReasonSpreadTooWide, res.Reason)

	oneSided := &types.TopOfBook{BestBid: types.Float64Ptr(0.49), TS: clk.Now()}
	res = e.PreTradeCheck("m1", "e1", types.SideBuy, 0.5, 10, oneSided, pf)
	require.True(t, res.OK)
}

func TestPreTradeCheck_KillSwitchBlocksOpens(t *testing.T) {
	cfg := baseConfig()
	cfg.KillSwitch = true
	clk := clock.NewFake(1000)
	e := newEngine(cfg, clk)
	pf := portfolio.New(zap.NewNop())
	tob := freshTOB(clk, 0.49, 0.51)

	res := e.PreTradeCheck("m1", "e1", types.SideBuy, 0.50, 10, tob, pf)
	require.False(t, res.OK)
	require.Equal(t, ReasonKillSwitch, res.Reason)
}

func TestPreTradeCheck_KillSwitchAllowsReduceOnly(t *testing.T) {
	cfg := baseConfig()
	cfg.KillSwitch = true
	clk := clock.NewFake(1000)
	e := newEngine(cfg, clk)

	pf := portfolio.New(zap.NewNop())
	pf.ApplyFill(&types.Fill{MarketID: "m1", Side: types.SideBuy, Price: 0.40, Size: 10, TS: 900}, "e1")
	tob := freshTOB(clk, 0.49, 0.51)

	// Closing the long is reduce-only and bypasses the kill switch.
	res := e.PreTradeCheck("m1", "e1", types.SideSell, 0.49, 10, tob, pf)
	require.True(t, res.OK)

	// Over-closing flips the position and loses the bypass.
	res = e.PreTradeCheck("m1", "e1", types.SideSell, 0.49, 25, tob, pf)
	require.False(t, res.OK)
	require.Equal(t, ReasonKillSwitch, res.Reason)
}

func TestPreTradeCheck_MaxPosPerMarket(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxPosPerMarket = 10
	clk := clock.NewFake(1000)
	e := newEngine(cfg, clk)

	pf := portfolio.New(zap.NewNop())
	pf.ApplyFill(&types.Fill{MarketID: "m1", Side: types.SideBuy, Price: 0.40, Size: 10, TS: 900}, "e1")
	tob := freshTOB(clk, 0.49, 0.51)

	res := e.PreTradeCheck("m1", "e1", types.SideBuy, 0.50, 1, tob, pf)
	require.False(t, res.OK)
	require.Equal(t, ReasonMaxPosPerMarket, res.Reason)

	// Selling down is reduce-only and always allowed.
	res = e.PreTradeCheck("m1", "e1", types.SideSell, 0.49, 5, tob, pf)
	require.True(t, res.OK)
}

func TestPreTradeCheck_MaxOpenPositions(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxOpenPositions = 1
	clk := clock.NewFake(1000)
	e := newEngine(cfg, clk)

	pf := portfolio.New(zap.NewNop())
	pf.ApplyFill(&types.Fill{MarketID: "m1", Side: types.SideBuy, Price: 0.40, Size: 10, TS: 900}, "e1")
	tob := freshTOB(clk, 0.49, 0.51)

	// Opening a second market from flat hits the cap.
	res := e.PreTradeCheck("m2", "e2", types.SideBuy, 0.50, 10, tob, pf)
	require.False(t, res.OK)
	require.Equal(t, ReasonMaxOpenPositions, res.Reason)

	// Adding to the existing market does not.
	res = e.PreTradeCheck("m1", "e1", types.SideBuy, 0.50, 10, tob, pf)
	require.True(t, res.OK)
}

func TestPreTradeCheck_MaxEventExposure(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxEventExposure = 10
	clk := clock.NewFake(1000)
	e := newEngine(cfg, clk)

	pf := portfolio.New(zap.NewNop())
	pf.ApplyFill(&types.Fill{MarketID: "m1", Side: types.SideBuy, Price: 0.50, Size: 16, TS: 900}, "e1")
	tob := freshTOB(clk, 0.49, 0.51)

	// Existing exposure 8.0 + new 5.0 breaches the 10 cap.
	res := e.PreTradeCheck("m2", "e1", types.SideBuy, 0.50, 10, tob, pf)
	require.False(t, res.OK)
	require.Equal(t, ReasonMaxEventExposure, res.Reason)

	// Same order on an unrelated event passes.
	res = e.PreTradeCheck("m2", "e2", types.SideBuy, 0.50, 10, tob, pf)
	require.True(t, res.OK)
}

func TestPreTradeCheck_DailyLossLimit(t *testing.T) {
	cfg := baseConfig()
	cfg.DailyLossLimit = 1
	clk := clock.NewFake(1000)
	e := newEngine(cfg, clk)

	pf := portfolio.New(zap.NewNop())
	// Realize a 2.0 loss: buy 10 @ 0.50, sell 10 @ 0.30.
	pf.ApplyFill(&types.Fill{MarketID: "m1", Side: types.SideBuy, Price: 0.50, Size: 10, TS: 900}, "e1")
	pf.ApplyFill(&types.Fill{MarketID: "m1", Side: types.SideSell, Price: 0.30, Size: 10, TS: 901}, "e1")
	tob := freshTOB(clk, 0.49, 0.51)

	res := e.PreTradeCheck("m2", "e2", types.SideBuy, 0.50, 10, tob, pf)
	require.False(t, res.OK)
	require.Equal(t, ReasonDailyLossLimit, res.Reason)
}

func TestPreTradeCheck_DailyLossLimitAllowsReduceOnly(t *testing.T) {
	cfg := baseConfig()
	cfg.DailyLossLimit = 1
	clk := clock.NewFake(1000)
	e := newEngine(cfg, clk)

	pf := portfolio.New(zap.NewNop())
	// Realize a 2.0 loss, then hold a separate long that still needs
	// flattening once the breaker trips.
	pf.ApplyFill(&types.Fill{MarketID: "m1", Side: types.SideBuy, Price: 0.50, Size: 10, TS: 900}, "e1")
	pf.ApplyFill(&types.Fill{MarketID: "m1", Side: types.SideSell, Price: 0.30, Size: 10, TS: 901}, "e1")
	pf.ApplyFill(&types.Fill{MarketID: "m2", Side: types.SideBuy, Price: 0.50, Size: 10, TS: 902}, "e2")
	tob := freshTOB(clk, 0.49, 0.51)

	// Reducing and closing the long both pass despite the breached limit.
	res := e.PreTradeCheck("m2", "e2", types.SideSell, 0.49, 5, tob, pf)
	require.True(t, res.OK)
	res = e.PreTradeCheck("m2", "e2", types.SideSell, 0.49, 10, tob, pf)
	require.True(t, res.OK)

	// Opening and flipping still hit the limit.
	res = e.PreTradeCheck("m3", "e3", types.SideBuy, 0.50, 10, tob, pf)
	require.False(t, res.OK)
	require.Equal(t, ReasonDailyLossLimit, res.Reason)

	res = e.PreTradeCheck("m2", "e2", types.SideSell, 0.49, 25, tob, pf)
	require.False(t, res.OK)
	require.Equal(t, ReasonDailyLossLimit, res.Reason)
}

func TestRejectLogThrottle(t *testing.T) {
	clk := clock.NewFake(1000)
	cfg := baseConfig()
	cfg.KillSwitch = true
	e := newEngine(cfg, clk)
	pf := portfolio.New(zap.NewNop())
	tob := func() *types.TopOfBook { return freshTOB(clk, 0.49, 0.51) }

	// The decision is never throttled even when the log line is.
	for i := 0; i < 5; i++ {
		res := e.PreTradeCheck("m1", "e1", types.SideBuy, 0.50, 10, tob(), pf)
		require.False(t, res.OK)
		require.Equal(t, ReasonKillSwitch, res.Reason)
		clk.Advance(1)
	}

	// Only the first log within the window is recorded per key.
	e.mu.Lock()
	last := e.lastLog[throttleKey{marketID: "m1", side: types.SideBuy, reason: ReasonKillSwitch}]
	e.mu.Unlock()
	require.Equal(t, 1000.0, last)

	// Past the window the next rejection logs again.
	res := e.PreTradeCheck("m1", "e1", types.SideBuy, 0.50, 10, tob(), pf)
	require.False(t, res.OK)

	e.mu.Lock()
	last = e.lastLog[throttleKey{marketID: "m1", side: types.SideBuy, reason: ReasonKillSwitch}]
	e.mu.Unlock()
	require.Equal(t, 1005.0, last)
}
