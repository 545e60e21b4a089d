// Package portfolio tracks positions, average entry prices and
// realized/unrealized P&L from the fill stream. The engine owns the
// only mutating path; strategies read copies.
package portfolio

import (
	"math"
	"sync"

	"go.uber.org/zap"

	"polymarket-trader/pkg/types"
)

// Position is the running state for one market.
type Position struct {
	MarketID    string  `json:"market_id"`
	EventID     string  `json:"event_id"`
	Qty         float64 `json:"qty"`
	AvgPrice    float64 `json:"avg_price"`
	RealizedPnL float64 `json:"realized_pnl"`
	OpenedTS    float64 `json:"opened_ts"`
	LastMark    float64 `json:"last_mark"`
}

// Portfolio is the set of positions keyed by market.
type Portfolio struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	positions map[string]*Position
}

// New creates an empty portfolio.
func New(logger *zap.Logger) *Portfolio {
	return &Portfolio{
		logger:    logger,
		positions: make(map[string]*Position),
	}
}

// Get returns a copy of the position for a market; ok is false when
// the market has never traded.
func (p *Portfolio) Get(marketID string) (Position, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pos, ok := p.positions[marketID]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all positions, including flat ones that
// carry realized P&L.
func (p *Portfolio) Positions() []Position {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out
}

// OpenCount returns the number of markets with a non-zero quantity.
func (p *Portfolio) OpenCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := 0
	for _, pos := range p.positions {
		if pos.Qty != 0 {
			n++
		}
	}
	return n
}

// Restore seeds a position from a persisted snapshot.
func (p *Portfolio) Restore(pos Position) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := pos
	p.positions[pos.MarketID] = &cp
}

// ApplyFill folds an execution into the position for its market.
// Extending a position blends the average price by absolute notional;
// reducing realizes P&L on the closed portion; crossing zero restarts
// the position at the fill price.
func (p *Portfolio) ApplyFill(fill *types.Fill, eventID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[fill.MarketID]
	if !ok {
		pos = &Position{MarketID: fill.MarketID, EventID: eventID}
		p.positions[fill.MarketID] = pos
	}
	if eventID != "" {
		pos.EventID = eventID
	}

	signed := fill.Side.Signed(fill.Size)
	newQty := pos.Qty + signed

	switch {
	case pos.Qty == 0 || sameSign(pos.Qty, signed):
		// Opening or extending: blend avg price by absolute notional.
		oldNotional := math.Abs(pos.Qty) * pos.AvgPrice
		addNotional := math.Abs(signed) * fill.Price
		totalQty := math.Abs(pos.Qty) + math.Abs(signed)
		if totalQty > 0 {
			pos.AvgPrice = (oldNotional + addNotional) / totalQty
		}
		if pos.Qty == 0 {
			pos.OpenedTS = fill.TS
		}
		pos.Qty = newQty

	default:
		// Reducing or flipping: realize on the closed portion.
		closed := math.Min(math.Abs(pos.Qty), math.Abs(signed))
		if pos.Qty > 0 {
			pos.RealizedPnL += (fill.Price - pos.AvgPrice) * closed
		} else {
			pos.RealizedPnL += (pos.AvgPrice - fill.Price) * closed
		}

		crossed := newQty != 0 && !sameSign(pos.Qty, newQty)
		pos.Qty = newQty
		if crossed {
			pos.AvgPrice = fill.Price
			pos.OpenedTS = fill.TS
		} else if pos.Qty == 0 {
			pos.AvgPrice = 0
			pos.OpenedTS = 0
		}
	}

	p.logger.Debug("fill-applied",
		zap.String("market-id", fill.MarketID),
		zap.String("side", string(fill.Side)),
		zap.Float64("price", fill.Price),
		zap.Float64("size", fill.Size),
		zap.Float64("qty", pos.Qty),
		zap.Float64("avg-price", pos.AvgPrice),
		zap.Float64("realized-pnl", pos.RealizedPnL))
}

// MarkPrice records the latest observable mark for a market, used by
// exposure checks when the book is one-sided or absent.
func (p *Portfolio) MarkPrice(marketID string, mark float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[marketID]
	if !ok {
		return
	}
	pos.LastMark = mark
}

// Unrealized values the open quantity against the top of book: mid
// when two-sided, the available side otherwise, zero with no book.
func (p *Portfolio) Unrealized(marketID string, tob *types.TopOfBook) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pos, ok := p.positions[marketID]
	if !ok || pos.Qty == 0 {
		return 0
	}
	if tob == nil {
		return 0
	}
	mark, ok := tob.Mid()
	if !ok {
		return 0
	}
	return (mark - pos.AvgPrice) * pos.Qty
}

// TotalRealized sums realized P&L across all positions.
func (p *Portfolio) TotalRealized() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	total := 0.0
	for _, pos := range p.positions {
		total += pos.RealizedPnL
	}
	return total
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
