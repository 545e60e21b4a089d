package types

// MarketInfo describes a tradable binary market as returned by discovery.
type MarketInfo struct {
	MarketID     string  `json:"market_id"`
	Question     string  `json:"question"`
	EventID      string  `json:"event_id"`
	Active       bool    `json:"active"`
	EndTS        float64 `json:"end_ts,omitempty"` // epoch seconds; 0 = unknown
	Volume24hUSD float64 `json:"volume_24h_usd"`
	LiquidityUSD float64 `json:"liquidity_usd"`

	// Optional CLOB identifiers used by the websocket market channel.
	// ConditionID is the CLOB condition id; ClobTokenID is the asset id
	// of the primary ("Yes") outcome token.
	ConditionID string `json:"condition_id,omitempty"`
	ClobTokenID string `json:"clob_token_id,omitempty"`
}

// TopOfBook is the best bid/ask of a market at a point in time.
// Either side may be absent (nil) on one-sided books.
// TS is the local observation time in epoch seconds, not the upstream
// exchange timestamp; the feed-lag circuit breaker depends on this.
type TopOfBook struct {
	BestBid     *float64 `json:"best_bid,omitempty"`
	BestBidSize *float64 `json:"best_bid_size,omitempty"`
	BestAsk     *float64 `json:"best_ask,omitempty"`
	BestAskSize *float64 `json:"best_ask_size,omitempty"`
	TS          float64  `json:"ts"`
}

// Mid returns the midpoint if both sides are present, otherwise the
// available side. ok is false on an empty book.
func (t *TopOfBook) Mid() (mid float64, ok bool) {
	switch {
	case t.BestBid != nil && t.BestAsk != nil:
		return 0.5 * (*t.BestBid + *t.BestAsk), true
	case t.BestBid != nil:
		return *t.BestBid, true
	case t.BestAsk != nil:
		return *t.BestAsk, true
	default:
		return 0, false
	}
}

// TwoSided reports whether both bid and ask are present.
func (t *TopOfBook) TwoSided() bool {
	return t.BestBid != nil && t.BestAsk != nil
}

// TradeTick is a single trade print observed on a market.
type TradeTick struct {
	MarketID string  `json:"market_id"`
	Price    float64 `json:"price"`
	Size     float64 `json:"size"`
	Side     Side    `json:"side"`
	TS       float64 `json:"ts"`
}

// Float64Ptr is a convenience for building optional TOB sides.
func Float64Ptr(v float64) *float64 { return &v }
