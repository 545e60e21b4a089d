package broker

import (
	"context"
	"errors"

	"polymarket-trader/pkg/types"
)

// ErrLiveNotImplemented is returned by every live broker operation.
// Live order signing and submission are intentionally out of scope;
// run trade_mode=paper instead.
var ErrLiveNotImplemented = errors.New("live trading is not implemented")

// LiveBroker is a placeholder for real CLOB execution.
type LiveBroker struct{}

// NewLiveBroker creates the live broker stub.
func NewLiveBroker() *LiveBroker { return &LiveBroker{} }

func (b *LiveBroker) PlaceLimit(ctx context.Context, req *types.OrderRequest) (*types.Order, error) {
	return nil, ErrLiveNotImplemented
}

func (b *LiveBroker) Cancel(ctx context.Context, orderID string) error {
	return ErrLiveNotImplemented
}

func (b *LiveBroker) CancelAllMarket(ctx context.Context, marketID string) error {
	return ErrLiveNotImplemented
}

func (b *LiveBroker) OnBook(ctx context.Context, marketID string, tob *types.TopOfBook) ([]*types.Fill, error) {
	return nil, nil
}

func (b *LiveBroker) OnTrade(ctx context.Context, marketID string, trade *types.TradeTick) ([]*types.Fill, error) {
	return nil, nil
}

func (b *LiveBroker) OpenOrders(marketID string) []types.Order { return nil }
