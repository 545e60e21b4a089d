// Package broker executes orders. The paper broker simulates fills
// against the live book under one of three fill models; the shadow
// broker records intents without filling; live execution is not
// implemented.
package broker

import (
	"context"

	"polymarket-trader/pkg/types"
)

// Broker is the execution contract shared by paper, shadow and live
// implementations.
type Broker interface {
	// PlaceLimit books a limit order and returns the tracked order.
	PlaceLimit(ctx context.Context, req *types.OrderRequest) (*types.Order, error)

	// Cancel transitions an open order to cancelled. Cancelling a
	// non-open order is a no-op.
	Cancel(ctx context.Context, orderID string) error

	// CancelAllMarket cancels every open order in a market.
	CancelAllMarket(ctx context.Context, marketID string) error

	// OnBook feeds a book update to the fill simulation and returns
	// any resulting fills.
	OnBook(ctx context.Context, marketID string, tob *types.TopOfBook) ([]*types.Fill, error)

	// OnTrade feeds a trade print to the fill simulation. Only the
	// trade_through model produces fills here.
	OnTrade(ctx context.Context, marketID string, trade *types.TradeTick) ([]*types.Fill, error)

	// OpenOrders returns copies of the open orders for a market.
	OpenOrders(marketID string) []types.Order
}
