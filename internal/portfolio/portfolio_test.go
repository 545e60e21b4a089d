package portfolio

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"polymarket-trader/pkg/types"
)

func buy(market string, price, size, ts float64) *types.Fill {
	return &types.Fill{MarketID: market, Side: types.SideBuy, Price: price, Size: size, TS: ts}
}

func sell(market string, price, size, ts float64) *types.Fill {
	return &types.Fill{MarketID: market, Side: types.SideSell, Price: price, Size: size, TS: ts}
}

func TestApplyFill_OpenAndExtend(t *testing.T) {
	p := New(zap.NewNop())

	p.ApplyFill(buy("m1", 0.40, 10, 100), "e1")
	pos, ok := p.Get("m1")
	require.True(t, ok)
	require.Equal(t, 10.0, pos.Qty)
	require.Equal(t, 0.40, pos.AvgPrice)
	require.Equal(t, 100.0, pos.OpenedTS)
	require.Equal(t, "e1", pos.EventID)

	// Extend: weighted average of absolute notionals.
	p.ApplyFill(buy("m1", 0.50, 10, 110), "e1")
	pos, _ = p.Get("m1")
	require.Equal(t, 20.0, pos.Qty)
	require.InDelta(t, 0.45, pos.AvgPrice, 1e-9)
	require.Equal(t, 100.0, pos.OpenedTS)
	require.Equal(t, 0.0, pos.RealizedPnL)
}

func TestApplyFill_ReduceRealizesLong(t *testing.T) {
	p := New(zap.NewNop())

	p.ApplyFill(buy("m1", 0.40, 10, 100), "e1")
	p.ApplyFill(sell("m1", 0.50, 4, 110), "e1")

	pos, _ := p.Get("m1")
	require.Equal(t, 6.0, pos.Qty)
	require.Equal(t, 0.40, pos.AvgPrice)
	require.InDelta(t, 0.4, pos.RealizedPnL, 1e-9)
}

func TestApplyFill_ReduceRealizesShort(t *testing.T) {
	p := New(zap.NewNop())

	p.ApplyFill(sell("m1", 0.60, 10, 100), "e1")
	p.ApplyFill(buy("m1", 0.50, 10, 110), "e1")

	pos, _ := p.Get("m1")
	require.Equal(t, 0.0, pos.Qty)
	require.InDelta(t, 1.0, pos.RealizedPnL, 1e-9)
	require.Equal(t, 0.0, pos.AvgPrice)
	require.Equal(t, 0.0, pos.OpenedTS)
}

func TestApplyFill_FlipResetsEntry(t *testing.T) {
	p := New(zap.NewNop())

	p.ApplyFill(buy("m1", 0.40, 10, 100), "e1")
	// Sell 15: closes 10 at 0.50 realizing 1.0, reopens short 5 at 0.50.
	p.ApplyFill(sell("m1", 0.50, 15, 120), "e1")

	pos, _ := p.Get("m1")
	require.Equal(t, -5.0, pos.Qty)
	require.Equal(t, 0.50, pos.AvgPrice)
	require.Equal(t, 120.0, pos.OpenedTS)
	require.InDelta(t, 1.0, pos.RealizedPnL, 1e-9)
}

func TestApplyFill_CashAccounting(t *testing.T) {
	// Buy and fully sell back: realized equals the cash difference.
	p := New(zap.NewNop())

	p.ApplyFill(buy("m1", 0.30, 20, 100), "e1")
	p.ApplyFill(buy("m1", 0.36, 10, 101), "e1")
	p.ApplyFill(sell("m1", 0.40, 30, 102), "e1")

	cashOut := 0.30*20 + 0.36*10
	cashIn := 0.40 * 30

	pos, _ := p.Get("m1")
	require.Equal(t, 0.0, pos.Qty)
	require.InDelta(t, cashIn-cashOut, pos.RealizedPnL, 1e-9)
	require.InDelta(t, cashIn-cashOut, p.TotalRealized(), 1e-9)
}

func TestUnrealized(t *testing.T) {
	p := New(zap.NewNop())
	p.ApplyFill(buy("m1", 0.40, 10, 100), "e1")

	tests := []struct {
		name string
		tob  *types.TopOfBook
		want float64
	}{
		{
			name: "two-sided-uses-mid",
			tob:  &types.TopOfBook{BestBid: types.Float64Ptr(0.48), BestAsk: types.Float64Ptr(0.52), TS: 1},
			want: (0.50 - 0.40) * 10,
		},
		{
			name: "bid-only",
			tob:  &types.TopOfBook{BestBid: types.Float64Ptr(0.45), TS: 1},
			want: (0.45 - 0.40) * 10,
		},
		{
			name: "empty-book",
			tob:  &types.TopOfBook{TS: 1},
			want: 0,
		},
		{
			name: "no-book",
			tob:  nil,
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.InDelta(t, tt.want, p.Unrealized("m1", tt.tob), 1e-9)
		})
	}

	require.Equal(t, 0.0, p.Unrealized("unknown", &types.TopOfBook{BestBid: types.Float64Ptr(0.5), TS: 1}))
}

func TestOpenCountAndRestore(t *testing.T) {
	p := New(zap.NewNop())
	require.Equal(t, 0, p.OpenCount())

	p.Restore(Position{MarketID: "m1", EventID: "e1", Qty: 10, AvgPrice: 0.4, OpenedTS: 50})
	p.Restore(Position{MarketID: "m2", EventID: "e2", Qty: 0, RealizedPnL: 1.5})

	require.Equal(t, 1, p.OpenCount())
	require.Len(t, p.Positions(), 2)
	require.InDelta(t, 1.5, p.TotalRealized(), 1e-9)

	pos, ok := p.Get("m1")
	require.True(t, ok)
	require.Equal(t, 10.0, pos.Qty)
}
