package broker

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"polymarket-trader/internal/store"
	"polymarket-trader/pkg/clock"
	"polymarket-trader/pkg/types"
)

// ShadowBroker records every order intent but never produces fills.
// Useful for watching what a strategy would do against live data
// without simulated executions polluting the P&L.
type ShadowBroker struct {
	store  store.Store
	clock  clock.Clock
	logger *zap.Logger

	mu       sync.Mutex
	orders   map[string]*types.Order
	byMarket map[string]map[string]struct{}
}

// ShadowConfig holds shadow broker configuration.
type ShadowConfig struct {
	Store  store.Store
	Clock  clock.Clock
	Logger *zap.Logger
}

// NewShadowBroker creates a shadow broker.
func NewShadowBroker(cfg *ShadowConfig) *ShadowBroker {
	return &ShadowBroker{
		store:    cfg.Store,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		orders:   make(map[string]*types.Order),
		byMarket: make(map[string]map[string]struct{}),
	}
}

// PlaceLimit records the order intent.
func (b *ShadowBroker) PlaceLimit(ctx context.Context, req *types.OrderRequest) (*types.Order, error) {
	order := &types.Order{
		OrderID:   uuid.NewString(),
		MarketID:  req.MarketID,
		Side:      req.Side,
		Price:     req.Price,
		Size:      req.Size,
		CreatedTS: b.clock.Now(),
		Status:    types.OrderOpen,
	}

	meta := map[string]any{"shadow": true}
	for k, v := range req.Meta {
		meta[k] = v
	}

	b.mu.Lock()
	b.orders[order.OrderID] = order
	if b.byMarket[req.MarketID] == nil {
		b.byMarket[req.MarketID] = make(map[string]struct{})
	}
	b.byMarket[req.MarketID][order.OrderID] = struct{}{}
	cp := *order
	b.mu.Unlock()

	err := b.store.InsertOrder(ctx, &cp, meta)
	if err != nil {
		return nil, err
	}

	OrdersPlacedTotal.Inc()
	b.logger.Info("order-placed-shadow",
		zap.String("order-id", cp.OrderID),
		zap.String("market-id", cp.MarketID),
		zap.String("side", string(cp.Side)),
		zap.Float64("price", cp.Price),
		zap.Float64("size", cp.Size))
	return &cp, nil
}

// Cancel transitions an open shadow order to cancelled.
func (b *ShadowBroker) Cancel(ctx context.Context, orderID string) error {
	b.mu.Lock()
	order, ok := b.orders[orderID]
	if !ok || order.Status != types.OrderOpen {
		b.mu.Unlock()
		return nil
	}
	order.Status = types.OrderCancelled
	b.mu.Unlock()

	return b.store.UpdateOrderStatus(ctx, orderID, types.OrderCancelled, nil)
}

// CancelAllMarket cancels every open shadow order in a market.
func (b *ShadowBroker) CancelAllMarket(ctx context.Context, marketID string) error {
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

// OnBook never fills in shadow mode.
func (b *ShadowBroker) OnBook(ctx context.Context, marketID string, tob *types.TopOfBook) ([]*types.Fill, error) {
	return nil, nil
}

// OnTrade never fills in shadow mode.
func (b *ShadowBroker) OnTrade(ctx context.Context, marketID string, trade *types.TradeTick) ([]*types.Fill, error) {
	return nil, nil
}

// OpenOrders returns copies of the open shadow orders for a market.
func (b *ShadowBroker) OpenOrders(marketID string) []types.Order {
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
