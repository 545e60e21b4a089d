// Package pricing holds the pure numeric helpers shared by strategies
// and risk: odds conversions, clamping, and bps buffer application.
package pricing

import (
	"fmt"

	"polymarket-trader/pkg/types"
)

// Clamp bounds x to [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// AmericanToProb converts American odds to implied probability without
// vig removal: +150 -> 0.4, -150 -> 0.6.
func AmericanToProb(odds float64) (float64, error) {
	if odds == 0 {
		return 0, fmt.Errorf("american odds cannot be 0")
	}
	if odds > 0 {
		return 100.0 / (odds + 100.0), nil
	}
	return -odds / (-odds + 100.0), nil
}

// DecimalToProb converts decimal odds to implied probability.
func DecimalToProb(odds float64) (float64, error) {
	if odds <= 0 {
		return 0, fmt.Errorf("decimal odds must be > 0, got %f", odds)
	}
	return 1.0 / odds, nil
}

// ProbToPrice maps a probability onto the [0,1] outcome price range.
func ProbToPrice(prob float64) float64 {
	return Clamp(prob, 0.0, 1.0)
}

// BpsToDecimal converts basis points to a decimal fraction.
func BpsToDecimal(bps float64) float64 {
	return bps / 10000.0
}

// ApplyBuffers returns a conservative fair price after cost buffers.
// Buys reduce the fair price (harder to justify buying); sells increase
// it. The result is clamped to [0,1].
func ApplyBuffers(price, feesBps, slippageBps, latencyBps float64, side types.Side) (float64, error) {
	buf := BpsToDecimal(feesBps + slippageBps + latencyBps)
	switch side {
	case types.SideBuy:
		return Clamp(price-buf, 0.0, 1.0), nil
	case types.SideSell:
		return Clamp(price+buf, 0.0, 1.0), nil
	default:
		return 0, fmt.Errorf("side must be buy|sell, got %q", side)
	}
}
