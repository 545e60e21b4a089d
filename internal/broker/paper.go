package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"polymarket-trader/internal/store"
	"polymarket-trader/pkg/clock"
	"polymarket-trader/pkg/config"
	"polymarket-trader/pkg/types"
)

// touchEps is the minimum touch move treated as "moved away" by the
// maker_touch model.
const touchEps = 1e-4

// PaperBroker simulates execution against observed book updates and
// trade prints. Fills are all-or-nothing for the order's remaining
// size.
type PaperBroker struct {
	fillModel   string
	minRestSecs float64
	store       store.Store
	clock       clock.Clock
	logger      *zap.Logger

	mu          sync.Mutex
	orders      map[string]*types.Order
	byMarket    map[string]map[string]struct{}
	metaByOrder map[string]map[string]any
	prevTOB     map[string]*types.TopOfBook
}

// PaperConfig holds paper broker configuration.
type PaperConfig struct {
	FillModel   string
	MinRestSecs float64
	Store       store.Store
	Clock       clock.Clock
	Logger      *zap.Logger
}

// NewPaperBroker creates a paper broker for the configured fill model.
func NewPaperBroker(cfg *PaperConfig) (*PaperBroker, error) {
	switch cfg.FillModel {
	case config.FillModelOnBookCross, config.FillModelMakerTouch, config.FillModelTradeThru:
	default:
		return nil, fmt.Errorf("unknown fill model %q", cfg.FillModel)
	}

	return &PaperBroker{
		fillModel:   cfg.FillModel,
		minRestSecs: cfg.MinRestSecs,
		store:       cfg.Store,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		orders:      make(map[string]*types.Order),
		byMarket:    make(map[string]map[string]struct{}),
		metaByOrder: make(map[string]map[string]any),
		prevTOB:     make(map[string]*types.TopOfBook),
	}, nil
}

// PlaceLimit books a new open order.
func (b *PaperBroker) PlaceLimit(ctx context.Context, req *types.OrderRequest) (*types.Order, error) {
	if !req.Side.Valid() {
		return nil, fmt.Errorf("invalid side %q", req.Side)
	}

	order := &types.Order{
		OrderID:   uuid.NewString(),
		MarketID:  req.MarketID,
		Side:      req.Side,
		Price:     req.Price,
		Size:      req.Size,
		CreatedTS: b.clock.Now(),
		Status:    types.OrderOpen,
	}

	meta := map[string]any{}
	for k, v := range req.Meta {
		meta[k] = v
	}

	b.mu.Lock()
	b.orders[order.OrderID] = order
	if b.byMarket[req.MarketID] == nil {
		b.byMarket[req.MarketID] = make(map[string]struct{})
	}
	b.byMarket[req.MarketID][order.OrderID] = struct{}{}
	b.metaByOrder[order.OrderID] = meta
	cp := *order
	b.mu.Unlock()

	err := b.store.InsertOrder(ctx, &cp, meta)
	if err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}

	OrdersPlacedTotal.Inc()
	b.logger.Info("order-placed",
		zap.String("order-id", cp.OrderID),
		zap.String("market-id", cp.MarketID),
		zap.String("side", string(cp.Side)),
		zap.Float64("price", cp.Price),
		zap.Float64("size", cp.Size))

	return &cp, nil
}

// Cancel transitions an open order to cancelled.
func (b *PaperBroker) Cancel(ctx context.Context, orderID string) error {
	b.mu.Lock()
	order, ok := b.orders[orderID]
	if !ok || order.Status != types.OrderOpen {
		b.mu.Unlock()
		return nil
	}
	order.Status = types.OrderCancelled
	b.mu.Unlock()

	err := b.store.UpdateOrderStatus(ctx, orderID, types.OrderCancelled, nil)
	if err != nil {
		return fmt.Errorf("persist cancel: %w", err)
	}

	OrdersCancelledTotal.Inc()
	b.logger.Info("order-cancelled", zap.String("order-id", orderID))
	return nil
}

// CancelAllMarket cancels every open order in a market.
func (b *PaperBroker) CancelAllMarket(ctx context.Context, marketID string) error {
	b.mu.Lock()
	oids := make([]string, 0, len(b.byMarket[marketID]))
	for oid := range b.byMarket[marketID] {
		oids = append(oids, oid)
	}
	b.mu.Unlock()

	for _, oid := range oids {
		err := b.Cancel(ctx, oid)
		if err != nil {
			return err
		}
	}
	return nil
}

// OpenOrders returns copies of the open orders for a market.
func (b *PaperBroker) OpenOrders(marketID string) []types.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []types.Order
	for oid := range b.byMarket[marketID] {
		order := b.orders[oid]
		if order != nil && order.Status == types.OrderOpen {
			out = append(out, *order)
		}
	}
	return out
}

// OnBook evaluates every open order in the market against a new book
// update. The trade_through model never fills here but still tracks
// the previous book for meta context.
func (b *PaperBroker) OnBook(ctx context.Context, marketID string, tob *types.TopOfBook) ([]*types.Fill, error) {
	now := b.clock.Now()

	b.mu.Lock()
	prev, hadPrev := b.prevTOB[marketID]
	cpTOB := *tob
	b.prevTOB[marketID] = &cpTOB

	var fills []*types.Fill
	if b.fillModel != config.FillModelTradeThru {
		for oid := range b.byMarket[marketID] {
			order := b.orders[oid]
			if order == nil || order.Status != types.OrderOpen {
				continue
			}
			if now-order.CreatedTS < b.minRestSecs {
				continue
			}

			fillPrice, ok := crossFillPrice(order, tob)
			if !ok && b.fillModel == config.FillModelMakerTouch && hadPrev {
				fillPrice, ok = touchFillPrice(order, prev, tob)
			}
			if !ok {
				continue
			}

			fills = append(fills, b.fillLocked(order, fillPrice, now, bookMeta(tob, fillModelOf(order, tob))))
		}
	}
	b.mu.Unlock()

	return b.persistFills(ctx, fills)
}

// OnTrade evaluates open orders against a trade print. Only the
// trade_through model fills on trades; the fill price is always the
// order's limit.
func (b *PaperBroker) OnTrade(ctx context.Context, marketID string, trade *types.TradeTick) ([]*types.Fill, error) {
	if b.fillModel != config.FillModelTradeThru {
		return nil, nil
	}
	now := b.clock.Now()

	b.mu.Lock()
	var fills []*types.Fill
	for oid := range b.byMarket[marketID] {
		order := b.orders[oid]
		if order == nil || order.Status != types.OrderOpen {
			continue
		}
		if now-order.CreatedTS < b.minRestSecs {
			continue
		}

		matched := (order.Side == types.SideBuy && trade.Side == types.SideSell && trade.Price <= order.Price) ||
			(order.Side == types.SideSell && trade.Side == types.SideBuy && trade.Price >= order.Price)
		if !matched {
			continue
		}

		meta := map[string]any{
			"fill_model":  config.FillModelTradeThru,
			"trade_price": trade.Price,
			"trade_size":  trade.Size,
			"trade_side":  string(trade.Side),
			"trade_ts":    trade.TS,
		}
		fills = append(fills, b.fillLocked(order, order.Price, now, meta))
	}
	b.mu.Unlock()

	return b.persistFills(ctx, fills)
}

// crossFillPrice returns the execution price when an order crosses the
// current book. Orders that strictly crossed pay the touch; orders
// exactly at the touch fill at their own limit, never better.
func crossFillPrice(order *types.Order, tob *types.TopOfBook) (float64, bool) {
	switch order.Side {
	case types.SideBuy:
		if tob.BestAsk == nil || *tob.BestAsk > order.Price {
			return 0, false
		}
		if order.Price > *tob.BestAsk {
			return *tob.BestAsk, true
		}
		return order.Price, true
	default:
		if tob.BestBid == nil || *tob.BestBid < order.Price {
			return 0, false
		}
		if order.Price < *tob.BestBid {
			return *tob.BestBid, true
		}
		return order.Price, true
	}
}

// touchFillPrice infers a passive fill: the order was resting at the
// previous best on its side and the touch moved away from it.
func touchFillPrice(order *types.Order, prev, cur *types.TopOfBook) (float64, bool) {
	switch order.Side {
	case types.SideBuy:
		if prev.BestBid == nil || cur.BestBid == nil {
			return 0, false
		}
		atTouch := abs(order.Price-*prev.BestBid) <= touchEps
		movedAway := *cur.BestBid < *prev.BestBid-touchEps
		if atTouch && movedAway {
			return order.Price, true
		}
	default:
		if prev.BestAsk == nil || cur.BestAsk == nil {
			return 0, false
		}
		atTouch := abs(order.Price-*prev.BestAsk) <= touchEps
		movedAway := *cur.BestAsk > *prev.BestAsk+touchEps
		if atTouch && movedAway {
			return order.Price, true
		}
	}
	return 0, false
}

// fillModelOf labels a book-driven fill: crossings are on_book_cross
// even when the broker runs maker_touch; pure touch fills are
// maker_touch.
func fillModelOf(order *types.Order, tob *types.TopOfBook) string {
	if _, crossed := crossFillPrice(order, tob); crossed {
		return config.FillModelOnBookCross
	}
	return config.FillModelMakerTouch
}

func bookMeta(tob *types.TopOfBook, model string) map[string]any {
	meta := map[string]any{
		"fill_model": model,
		"tob_ts":     tob.TS,
	}
	if tob.BestBid != nil {
		meta["tob_best_bid"] = *tob.BestBid
	}
	if tob.BestAsk != nil {
		meta["tob_best_ask"] = *tob.BestAsk
	}
	return meta
}

// fillLocked marks the order filled for its remaining size and builds
// the fill record. Caller holds the broker mutex.
func (b *PaperBroker) fillLocked(order *types.Order, price, ts float64, meta map[string]any) *types.Fill {
	for k, v := range b.metaByOrder[order.OrderID] {
		if _, taken := meta[k]; !taken {
			meta[k] = v
		}
	}

	fill := &types.Fill{
		FillID:   uuid.NewString(),
		OrderID:  order.OrderID,
		MarketID: order.MarketID,
		Side:     order.Side,
		Price:    price,
		Size:     order.Remaining(),
		TS:       ts,
		Meta:     meta,
	}

	order.FilledSize = order.Size
	order.Status = types.OrderFilled
	return fill
}

func (b *PaperBroker) persistFills(ctx context.Context, fills []*types.Fill) ([]*types.Fill, error) {
	for _, fill := range fills {
		filled := fill.Size
		err := b.store.UpdateOrderStatus(ctx, fill.OrderID, types.OrderFilled, &filled)
		if err != nil {
			return fills, fmt.Errorf("persist fill status: %w", err)
		}
		err = b.store.InsertFill(ctx, fill)
		if err != nil {
			return fills, fmt.Errorf("persist fill: %w", err)
		}

		model, _ := fill.Meta["fill_model"].(string)
		FillsTotal.WithLabelValues(model).Inc()
		FilledQtyTotal.Add(fill.Size)

		b.logger.Info("fill",
			zap.String("fill-id", fill.FillID),
			zap.String("order-id", fill.OrderID),
			zap.String("market-id", fill.MarketID),
			zap.String("side", string(fill.Side)),
			zap.Float64("price", fill.Price),
			zap.Float64("size", fill.Size),
			zap.String("model", model))
	}
	return fills, nil
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
