// Package strategy holds the trading strategies. Each strategy is a
// pure-ish function of (market, TOB, portfolio, external fair) that
// emits order intents through the broker, gated by risk.
package strategy

import (
	"context"

	"go.uber.org/zap"

	"polymarket-trader/internal/broker"
	"polymarket-trader/internal/odds"
	"polymarket-trader/internal/portfolio"
	"polymarket-trader/internal/risk"
	"polymarket-trader/internal/store"
	"polymarket-trader/pkg/clock"
	"polymarket-trader/pkg/config"
	"polymarket-trader/pkg/types"
)

// Context carries the references a strategy needs. Strategies never
// retain these beyond one OnMarket call.
type Context struct {
	Cfg       *config.Config
	Clock     clock.Clock
	Store     store.Store
	Broker    broker.Broker
	Risk      *risk.Engine
	Portfolio *portfolio.Portfolio
	Odds      odds.Provider
	Logger    *zap.Logger
}

// Strategy is evaluated periodically per watched market. The engine
// snapshots (market, TOB) under the shared lock before calling in, so
// implementations must not reach back into shared state.
type Strategy interface {
	Name() string
	OnMarket(ctx context.Context, sctx *Context, market *types.MarketInfo, tob *types.TopOfBook) error
}
