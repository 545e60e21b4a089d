package types

// Side is the direction of an order or trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether the side is one of the known constants.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// Signed converts a size into a signed quantity: positive for buys,
// negative for sells.
func (s Side) Signed(size float64) float64 {
	if s == SideSell {
		return -size
	}
	return size
}

// OrderStatus is the lifecycle state of an order. Transitions are
// monotonic: open may move to filled or cancelled and never back.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
	OrderRejected  OrderStatus = "rejected"
)

// OrderRequest is a limit order placement intent produced by a strategy.
type OrderRequest struct {
	MarketID string
	Side     Side
	Price    float64
	Size     float64
	Meta     map[string]any
}

// Order is a limit order tracked by the broker blotter.
type Order struct {
	OrderID    string      `json:"order_id"`
	MarketID   string      `json:"market_id"`
	Side       Side        `json:"side"`
	Price      float64     `json:"price"`
	Size       float64     `json:"size"`
	CreatedTS  float64     `json:"created_ts"`
	Status     OrderStatus `json:"status"`
	FilledSize float64     `json:"filled_size"`
}

// Remaining is the unfilled portion of the order.
func (o *Order) Remaining() float64 { return o.Size - o.FilledSize }

// Fill is an execution against an order. Meta carries the fill model
// and contextual TOB/trade fields for audit.
type Fill struct {
	FillID   string         `json:"fill_id"`
	OrderID  string         `json:"order_id"`
	MarketID string         `json:"market_id"`
	Side     Side           `json:"side"`
	Price    float64        `json:"price"`
	Size     float64        `json:"size"`
	TS       float64        `json:"ts"`
	Meta     map[string]any `json:"meta,omitempty"`
}
