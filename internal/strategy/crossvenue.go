package strategy

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"polymarket-trader/pkg/pricing"
	"polymarket-trader/pkg/types"
)

// CrossVenue takes liquidity when the book diverges from an external
// fair value by more than the configured cost buffers plus edge. At
// most one trade per market per cooldown window.
type CrossVenue struct {
	mu          sync.Mutex
	lastTradeTS map[string]float64
	logger      *zap.Logger
}

// NewCrossVenue creates the cross-venue taker strategy.
func NewCrossVenue(logger *zap.Logger) *CrossVenue {
	return &CrossVenue{
		lastTradeTS: make(map[string]float64),
		logger:      logger,
	}
}

// Name identifies the strategy in order meta and logs.
func (s *CrossVenue) Name() string { return "cross_venue_fv" }

// OnMarket compares the touch against buffered fair values and takes
// the profitable side if any.
func (s *CrossVenue) OnMarket(ctx context.Context, sctx *Context, market *types.MarketInfo, tob *types.TopOfBook) error {
	if tob == nil || !tob.TwoSided() {
		return nil
	}
	bestBid := *tob.BestBid
	bestAsk := *tob.BestAsk

	now := sctx.Clock.Now()
	s.mu.Lock()
	last := s.lastTradeTS[market.MarketID]
	s.mu.Unlock()
	if now-last < sctx.Cfg.MinTradeCooldownSecs {
		return nil
	}

	ext, err := sctx.Odds.FairProb(ctx, market)
	if err != nil {
		return fmt.Errorf("fetch external fair: %w", err)
	}
	fairPrice := pricing.ProbToPrice(ext.FairProb)

	buyFair, err := pricing.ApplyBuffers(fairPrice, sctx.Cfg.FeesBps, sctx.Cfg.SlippageBps, sctx.Cfg.LatencyBps, types.SideBuy)
	if err != nil {
		return err
	}
	sellFair, err := pricing.ApplyBuffers(fairPrice, sctx.Cfg.FeesBps, sctx.Cfg.SlippageBps, sctx.Cfg.LatencyBps, types.SideSell)
	if err != nil {
		return err
	}
	edge := sctx.Cfg.EdgeBuffer

	switch {
	case bestAsk < buyFair-edge:
		return s.take(ctx, sctx, market, tob, types.SideBuy, bestAsk, fairPrice, ext.Source, now)
	case bestBid > sellFair+edge:
		return s.take(ctx, sctx, market, tob, types.SideSell, bestBid, fairPrice, ext.Source, now)
	default:
		return nil
	}
}

func (s *CrossVenue) take(ctx context.Context, sctx *Context, market *types.MarketInfo, tob *types.TopOfBook, side types.Side, price, fairPrice float64, source string, now float64) error {
	size := sctx.Cfg.BaseOrderSize

	res := sctx.Risk.PreTradeCheck(market.MarketID, market.EventID, side, price, size, tob, sctx.Portfolio)
	if !res.OK {
		return nil
	}

	_, err := sctx.Broker.PlaceLimit(ctx, &types.OrderRequest{
		MarketID: market.MarketID,
		Side:     side,
		Price:    price,
		Size:     size,
		Meta: map[string]any{
			"strategy":   s.Name(),
			"fair_price": fairPrice,
			"source":     source,
		},
	})
	if err != nil {
		return fmt.Errorf("place %s order: %w", side, err)
	}

	s.mu.Lock()
	s.lastTradeTS[market.MarketID] = now
	s.mu.Unlock()

	SignalsTotal.WithLabelValues(string(side)).Inc()
	s.logger.Info("cross-venue-signal",
		zap.String("market-id", market.MarketID),
		zap.String("side", string(side)),
		zap.Float64("price", price),
		zap.Float64("fair-price", fairPrice),
		zap.String("source", source))
	return nil
}
