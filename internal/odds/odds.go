// Package odds supplies external reference fair probabilities for
// markets. The mock provider is deterministic per market so paper
// sessions are reproducible; real model integrations implement the
// same interface.
package odds

import (
	"context"
	"errors"
	"hash/fnv"
	"math/rand"
	"sync"

	"polymarket-trader/pkg/pricing"
	"polymarket-trader/pkg/types"
)

// Fair is an external reference probability with its source label.
type Fair struct {
	FairProb float64
	Source   string
}

// Provider returns the external fair probability for a market outcome.
type Provider interface {
	FairProb(ctx context.Context, market *types.MarketInfo) (Fair, error)
}

// ErrDisabled is returned by the disabled provider.
var ErrDisabled = errors.New("external odds provider is disabled")

// Disabled refuses every query. Used with DISALLOW_MOCK_DATA so no
// strategy accidentally consumes placeholder odds.
type Disabled struct{}

// FairProb always fails.
func (Disabled) FairProb(ctx context.Context, market *types.MarketInfo) (Fair, error) {
	return Fair{}, ErrDisabled
}

// Mock derives a pseudo fair from a hash of the market id plus a small
// amount of seeded noise, kept away from the extremes so strategies
// exercise both sides. Source is always "mock".
type Mock struct {
	noise float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewMock creates a mock provider with the given noise band and seed.
func NewMock(noise float64, seed int64) *Mock {
	return &Mock{
		noise: noise,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// FairProb returns the hashed base probability with seeded jitter.
func (m *Mock) FairProb(ctx context.Context, market *types.MarketInfo) (Fair, error) {
	h := fnv.New64a()
	h.Write([]byte(market.MarketID))
	base := float64(h.Sum64()%1000) / 1000.0
	base = 0.2 + 0.6*base

	m.mu.Lock()
	jitter := (m.rng.Float64()*2 - 1) * m.noise
	m.mu.Unlock()

	return Fair{
		FairProb: pricing.Clamp(base+jitter, 0.01, 0.99),
		Source:   "mock",
	}, nil
}

// Fixed returns the same probability for every market. Useful for
// deterministic backtests and tests.
type Fixed struct {
	Prob   float64
	Origin string
}

// FairProb returns the fixed probability.
func (f Fixed) FairProb(ctx context.Context, market *types.MarketInfo) (Fair, error) {
	return Fair{FairProb: f.Prob, Source: f.Origin}, nil
}
