// Package feed turns upstream market data into a normalized stream of
// book and trade events. Every event is appended to the tape so a
// session can later be replayed as a backtest.
package feed

import (
	"context"

	"polymarket-trader/pkg/types"
)

// Event is a normalized feed event. Concrete types are *BookEvent and
// *TradeEvent.
type Event interface {
	MarketID() string
	TS() float64
}

// BookEvent is a top-of-book observation for one market. It is emitted
// for every upstream book message, including ones where prices did not
// move; an unchanged book still proves the feed is alive.
type BookEvent struct {
	Market string
	TOB    *types.TopOfBook
}

// MarketID returns the market the book belongs to.
func (e *BookEvent) MarketID() string { return e.Market }

// TS returns the local observation time.
func (e *BookEvent) TS() float64 { return e.TOB.TS }

// TradeEvent is a trade print on one market.
type TradeEvent struct {
	Trade *types.TradeTick
}

// MarketID returns the market the trade printed on.
func (e *TradeEvent) MarketID() string { return e.Trade.MarketID }

// TS returns the trade timestamp.
func (e *TradeEvent) TS() float64 { return e.Trade.TS }

// Subscription names one market to stream. AssetID is the venue-side
// token identifier used by websocket market channels; the sim feed
// only needs MarketID.
type Subscription struct {
	MarketID string
	AssetID  string
}

// Feed is a source of normalized events. provider is re-evaluated as
// the watchlist changes; implementations pick up additions on their
// own cadence. The returned channel closes when ctx is cancelled.
type Feed interface {
	Events(ctx context.Context, provider func() []Subscription) (<-chan Event, error)
}

// tapeRecordFor serializes an event into its tape row.
func tapeRecordFor(ev Event) (*types.TapeRecord, error) {
	switch e := ev.(type) {
	case *BookEvent:
		payload, err := types.EncodeTOBPayload(e.TOB)
		if err != nil {
			return nil, err
		}
		return &types.TapeRecord{
			TS:       e.TOB.TS,
			MarketID: e.Market,
			Kind:     types.TapeKindTOB,
			Payload:  payload,
		}, nil
	case *TradeEvent:
		payload, err := types.EncodeTradePayload(e.Trade)
		if err != nil {
			return nil, err
		}
		return &types.TapeRecord{
			TS:       e.Trade.TS,
			MarketID: e.Trade.MarketID,
			Kind:     types.TapeKindTrade,
			Payload:  payload,
		}, nil
	default:
		return nil, nil
	}
}
