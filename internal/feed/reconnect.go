package feed

import (
	"math/rand"
	"sync"
	"time"
)

// BackoffConfig holds the exponential backoff parameters for feed
// reconnection.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// JitterPercent spreads reconnect attempts: delay * (1 + rand(0, j)).
	JitterPercent float64
}

// Backoff produces reconnect delays growing exponentially up to a cap,
// with jitter so multiple workers don't herd-reconnect.
type Backoff struct {
	cfg     BackoffConfig
	mu      sync.Mutex
	current time.Duration
}

// NewBackoff creates a backoff starting at the initial delay.
func NewBackoff(cfg BackoffConfig) *Backoff {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2.0
	}
	if cfg.JitterPercent <= 0 {
		cfg.JitterPercent = 0.2
	}
	return &Backoff{cfg: cfg, current: cfg.InitialDelay}
}

// Next returns the jittered delay for the upcoming attempt and
// advances the schedule.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	jitter := rand.Float64() * b.cfg.JitterPercent
	delay := time.Duration(float64(b.current) * (1.0 + jitter))

	next := time.Duration(float64(b.current) * b.cfg.Multiplier)
	if next > b.cfg.MaxDelay {
		next = b.cfg.MaxDelay
	}
	b.current = next

	return delay
}

// Reset restores the initial delay after a successful connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.cfg.InitialDelay
}
