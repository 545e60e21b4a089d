package strategy

import (
	"context"
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"

	"polymarket-trader/internal/store"
	"polymarket-trader/pkg/pricing"
	"polymarket-trader/pkg/types"
)

// quoteState tracks the resting quote on one side of one market.
type quoteState struct {
	orderID  string
	placedTS float64
	price    float64
}

// MarketMaker quotes both sides of the book around a fair value,
// skewed against inventory. One resting order per side per market;
// quotes are cancel/replaced when stale or far from target.
type MarketMaker struct {
	mu     sync.Mutex
	bids   map[string]*quoteState
	asks   map[string]*quoteState
	logger *zap.Logger
}

// NewMarketMaker creates the market-making strategy.
func NewMarketMaker(logger *zap.Logger) *MarketMaker {
	return &MarketMaker{
		bids:   make(map[string]*quoteState),
		asks:   make(map[string]*quoteState),
		logger: logger,
	}
}

// Name identifies the strategy in order meta and logs.
func (s *MarketMaker) Name() string { return "market_making" }

// OnMarket computes target quotes for one market and reconciles the
// resting orders toward them.
func (s *MarketMaker) OnMarket(ctx context.Context, sctx *Context, market *types.MarketInfo, tob *types.TopOfBook) error {
	if tob == nil || !tob.TwoSided() {
		return nil
	}
	bestBid := *tob.BestBid
	bestAsk := *tob.BestAsk

	tick := sctx.Cfg.PriceTick
	if tick < 1e-6 || tick > 0.5 {
		tick = 0.001
	}

	mid := 0.5 * (bestBid + bestAsk)

	// Fair value: external model when trusted, book mid otherwise.
	// A mock external source is never trusted; its fair can be
	// unrelated to the live book and would park quotes far from the
	// touch.
	fair := mid
	fairSource := "book_mid"
	externalSource := ""
	if !sctx.Cfg.DisallowMockData {
		ext, err := sctx.Odds.FairProb(ctx, market)
		if err != nil {
			sctx.Logger.Warn("external-odds-unavailable",
				zap.String("market-id", market.MarketID),
				zap.Error(err))
		} else if strings.ToLower(ext.Source) != "mock" {
			fair = pricing.ProbToPrice(ext.FairProb)
			fairSource = ext.Source
			externalSource = ext.Source
		}
	}

	// Inventory skew pushes quotes away from the held direction.
	inv := 0.0
	if pos, ok := sctx.Portfolio.Get(market.MarketID); ok {
		inv = pos.Qty
	}
	maxPos := math.Max(1.0, sctx.Cfg.MaxPosPerMarket)
	invFrac := pricing.Clamp(inv/maxPos, -1.0, 1.0)

	spread := bestAsk - bestBid
	widthCap := math.Max(sctx.Cfg.MMQuoteWidth, 2.0*tick)
	width := math.Min(widthCap, math.Max(spread+2.0*tick, 6.0*tick))
	skew := -invFrac * sctx.Cfg.MMInventorySkew * width

	targetBid := pricing.Clamp(fair+skew-width/2.0, tick, 1.0-tick)
	targetAsk := pricing.Clamp(fair+skew+width/2.0, tick, 1.0-tick)

	// Join the touch unless inventory already leans that way.
	if sctx.Cfg.MMJoinTouch {
		if invFrac <= 0.25 {
			targetBid = math.Max(targetBid, bestBid)
		}
		if invFrac >= -0.25 {
			targetAsk = math.Min(targetAsk, bestAsk)
		}
	}

	// Maker only: never cross the live spread.
	targetBid = math.Min(targetBid, bestAsk-tick)
	targetAsk = math.Max(targetAsk, bestBid+tick)

	// Tick grid: bids floor, asks ceil.
	targetBid = math.Floor(targetBid/tick) * tick
	targetAsk = math.Ceil(targetAsk/tick) * tick

	// Rounding can re-cross on edge cases; reapply the constraints.
	targetBid = pricing.Clamp(targetBid, tick, 1.0-tick)
	targetAsk = pricing.Clamp(targetAsk, tick, 1.0-tick)
	targetBid = math.Min(targetBid, bestAsk-tick)
	targetAsk = math.Max(targetAsk, bestBid+tick)

	if targetBid >= targetAsk {
		return nil
	}

	now := sctx.Clock.Now()

	// Telemetry failures never break quoting.
	err := sctx.Store.InsertQuoteSnapshot(ctx, &store.QuoteSnapshot{
		TS:         now,
		MarketID:   market.MarketID,
		EventID:    market.EventID,
		BestBid:    types.Float64Ptr(bestBid),
		BestAsk:    types.Float64Ptr(bestAsk),
		Mid:        mid,
		Fair:       fair,
		FairSource: fairSource,
		InvQty:     inv,
		Width:      width,
		Skew:       skew,
		TargetBid:  targetBid,
		TargetAsk:  targetAsk,
	})
	if err != nil {
		sctx.Logger.Warn("quote-snapshot-failed",
			zap.String("market-id", market.MarketID),
			zap.Error(err))
	}

	meta := map[string]any{
		"strategy": s.Name(),
		"fair":     fair,
		"mid":      mid,
		"source":   fairSource,
	}
	if externalSource != "" {
		meta["external_source"] = externalSource
	}

	s.ensureQuote(ctx, sctx, market, tob, types.SideBuy, targetBid, now, meta)
	s.ensureQuote(ctx, sctx, market, tob, types.SideSell, targetAsk, now, meta)
	return nil
}

// ensureQuote reconciles the resting quote on one side toward the
// target: replace when missing, past its minimum life, or off target
// by at least the reprice threshold. A risk rejection cancels any
// existing quote on that side.
func (s *MarketMaker) ensureQuote(ctx context.Context, sctx *Context, market *types.MarketInfo, tob *types.TopOfBook, side types.Side, target, now float64, meta map[string]any) {
	s.mu.Lock()
	table := s.bids
	if side == types.SideSell {
		table = s.asks
	}
	cur := table[market.MarketID]
	s.mu.Unlock()

	threshold := math.Max(sctx.Cfg.MMRepriceThreshold, 1e-6)
	needsReplace := cur == nil ||
		now-cur.placedTS >= sctx.Cfg.MMMinQuoteLifeSecs ||
		math.Abs(cur.price-target) >= threshold
	if !needsReplace {
		return
	}

	size := sctx.Cfg.BaseOrderSize
	res := sctx.Risk.PreTradeCheck(market.MarketID, market.EventID, side, target, size, tob, sctx.Portfolio)
	if !res.OK {
		if cur != nil {
			if err := sctx.Broker.Cancel(ctx, cur.orderID); err != nil {
				sctx.Logger.Warn("quote-cancel-failed",
					zap.String("order-id", cur.orderID),
					zap.Error(err))
			}
			s.clearQuote(market.MarketID, side)
		}
		return
	}

	if cur != nil {
		if err := sctx.Broker.Cancel(ctx, cur.orderID); err != nil {
			sctx.Logger.Warn("quote-cancel-failed",
				zap.String("order-id", cur.orderID),
				zap.Error(err))
		}
		s.clearQuote(market.MarketID, side)
	}

	order, err := sctx.Broker.PlaceLimit(ctx, &types.OrderRequest{
		MarketID: market.MarketID,
		Side:     side,
		Price:    target,
		Size:     size,
		Meta:     meta,
	})
	if err != nil {
		sctx.Logger.Error("quote-place-failed",
			zap.String("market-id", market.MarketID),
			zap.String("side", string(side)),
			zap.Error(err))
		return
	}

	s.mu.Lock()
	table[market.MarketID] = &quoteState{orderID: order.OrderID, placedTS: now, price: target}
	s.mu.Unlock()

	QuotesPlacedTotal.WithLabelValues(string(side)).Inc()
	s.logger.Info("quote-placed",
		zap.String("market-id", market.MarketID),
		zap.String("side", string(side)),
		zap.Float64("price", target),
		zap.Float64("size", size),
		zap.String("order-id", order.OrderID))
}

func (s *MarketMaker) clearQuote(marketID string, side types.Side) {
	s.mu.Lock()
	if side == types.SideBuy {
		delete(s.bids, marketID)
	} else {
		delete(s.asks, marketID)
	}
	s.mu.Unlock()
}
