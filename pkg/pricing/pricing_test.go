package pricing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"polymarket-trader/pkg/types"
)

func TestAmericanToProb(t *testing.T) {
	tests := []struct {
		name string
		odds float64
		want float64
	}{
		{name: "positive-underdog", odds: 150, want: 0.4},
		{name: "negative-favorite", odds: -150, want: 0.6},
		{name: "even-money", odds: 100, want: 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AmericanToProb(tt.odds)
			require.NoError(t, err)
			require.InDelta(t, tt.want, got, 1e-9)
		})
	}

	_, err := AmericanToProb(0)
	require.Error(t, err)
}

func TestDecimalToProb(t *testing.T) {
	got, err := DecimalToProb(2.5)
	require.NoError(t, err)
	require.InDelta(t, 0.4, got, 1e-9)

	_, err = DecimalToProb(0)
	require.Error(t, err)
	_, err = DecimalToProb(-1)
	require.Error(t, err)
}

func TestApplyBuffers(t *testing.T) {
	tests := []struct {
		name  string
		price float64
		bps   [3]float64
		side  types.Side
		want  float64
	}{
		{name: "buy-subtracts", price: 0.60, bps: [3]float64{20, 10, 5}, side: types.SideBuy, want: 0.5965},
		{name: "sell-adds", price: 0.60, bps: [3]float64{20, 10, 5}, side: types.SideSell, want: 0.6035},
		{name: "buy-clamps-at-zero", price: 0.001, bps: [3]float64{100, 0, 0}, side: types.SideBuy, want: 0.0},
		{name: "sell-clamps-at-one", price: 0.999, bps: [3]float64{100, 0, 0}, side: types.SideSell, want: 1.0},
		{name: "zero-buffers-identity", price: 0.45, bps: [3]float64{0, 0, 0}, side: types.SideBuy, want: 0.45},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ApplyBuffers(tt.price, tt.bps[0], tt.bps[1], tt.bps[2], tt.side)
			require.NoError(t, err)
			require.InDelta(t, tt.want, got, 1e-9)
		})
	}

	_, err := ApplyBuffers(0.5, 0, 0, 0, types.Side("hold"))
	require.Error(t, err)
}

func TestClamp(t *testing.T) {
	require.Equal(t, 0.0, Clamp(-0.5, 0, 1))
	require.Equal(t, 1.0, Clamp(1.5, 0, 1))
	require.Equal(t, 0.42, Clamp(0.42, 0, 1))
}
