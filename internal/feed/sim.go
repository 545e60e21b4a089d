package feed

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"polymarket-trader/internal/store"
	"polymarket-trader/pkg/clock"
	"polymarket-trader/pkg/pricing"
	"polymarket-trader/pkg/types"
)

// SimFeed synthesizes top-of-book and trade events for the ranked
// markets with a seeded random walk. It is the default feed when no
// live endpoint is configured and makes paper sessions runnable
// end-to-end offline. Events are taped like live ones, so a sim
// session replays as a backtest.
type SimFeed struct {
	store  store.Store
	clock  clock.Clock
	logger *zap.Logger
	dt     time.Duration
	rng    *rand.Rand
	mids   map[string]float64
}

// SimConfig holds sim feed configuration.
type SimConfig struct {
	Store  store.Store
	Clock  clock.Clock
	Logger *zap.Logger
	TickHz float64
	Seed   int64
}

// NewSimFeed creates a sim feed.
func NewSimFeed(cfg *SimConfig) *SimFeed {
	tickHz := cfg.TickHz
	if tickHz <= 0 {
		tickHz = 5.0
	}
	return &SimFeed{
		store:  cfg.Store,
		clock:  cfg.Clock,
		logger: cfg.Logger,
		dt:     time.Duration(float64(time.Second) / tickHz),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		mids:   make(map[string]float64),
	}
}

// Events starts the generator. The channel closes when ctx is
// cancelled.
func (f *SimFeed) Events(ctx context.Context, provider func() []Subscription) (<-chan Event, error) {
	out := make(chan Event, 1024)
	go f.run(ctx, provider, out)
	return out, nil
}

func (f *SimFeed) run(ctx context.Context, provider func() []Subscription, out chan<- Event) {
	defer close(out)

	f.logger.Info("sim-feed-starting", zap.Duration("tick-interval", f.dt))

	ticker := time.NewTicker(f.dt)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("sim-feed-stopping")
			return
		case <-ticker.C:
		}

		subs := provider()
		if len(subs) == 0 {
			continue
		}

		// Touch a small random subset per tick so markets update at
		// staggered times like a real feed.
		k := 5
		if k > len(subs) {
			k = len(subs)
		}
		for _, idx := range f.rng.Perm(len(subs))[:k] {
			marketID := subs[idx].MarketID
			if marketID == "" {
				continue
			}
			f.tickMarket(ctx, marketID, out)
		}
	}
}

func (f *SimFeed) tickMarket(ctx context.Context, marketID string, out chan<- Event) {
	mid, ok := f.mids[marketID]
	if !ok {
		mid = 0.5 + f.uniform(-0.15, 0.15)
	}
	mid = pricing.Clamp(mid+f.uniform(-0.01, 0.01), 0.02, 0.98)
	f.mids[marketID] = mid

	spread := pricing.Clamp(math.Abs(f.rng.NormFloat64()*0.01+0.02), 0.005, 0.12)
	bestBid := pricing.Clamp(mid-spread/2.0, 0.01, 0.99)
	bestAsk := pricing.Clamp(mid+spread/2.0, 0.01, 0.99)

	now := f.clock.Now()
	tob := &types.TopOfBook{
		BestBid:     types.Float64Ptr(bestBid),
		BestBidSize: types.Float64Ptr(f.uniform(50, 300)),
		BestAsk:     types.Float64Ptr(bestAsk),
		BestAskSize: types.Float64Ptr(f.uniform(50, 300)),
		TS:          now,
	}
	f.emit(ctx, out, &BookEvent{Market: marketID, TOB: tob})

	// Occasional prints at the touch.
	if f.rng.Float64() < 0.3 {
		side := types.SideSell
		price := bestBid
		if f.rng.Float64() < 0.5 {
			side = types.SideBuy
			price = bestAsk
		}
		trade := &types.TradeTick{
			MarketID: marketID,
			Price:    price,
			Size:     f.uniform(5, 50),
			Side:     side,
			TS:       f.clock.Now(),
		}
		f.emit(ctx, out, &TradeEvent{Trade: trade})
	}
}

func (f *SimFeed) emit(ctx context.Context, out chan<- Event, ev Event) {
	if err := f.appendTape(ctx, ev); err != nil {
		f.logger.Warn("tape-append-failed",
			zap.String("market-id", ev.MarketID()),
			zap.Error(err))
	}

	switch ev.(type) {
	case *BookEvent:
		EventsTotal.WithLabelValues(types.TapeKindTOB).Inc()
	case *TradeEvent:
		EventsTotal.WithLabelValues(types.TapeKindTrade).Inc()
	}

	select {
	case out <- ev:
	case <-ctx.Done():
	}
}

func (f *SimFeed) appendTape(ctx context.Context, ev Event) error {
	rec, err := tapeRecordFor(ev)
	if err != nil || rec == nil {
		return err
	}
	return f.store.AppendTape(ctx, rec)
}

func (f *SimFeed) uniform(lo, hi float64) float64 {
	return lo + f.rng.Float64()*(hi-lo)
}
