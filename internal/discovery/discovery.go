// Package discovery finds eligible markets through a Gamma-style HTTP
// API and maintains the ranked watchlist the strategy loops trade.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"polymarket-trader/internal/store"
	"polymarket-trader/pkg/cache"
	"polymarket-trader/pkg/clock"
	"polymarket-trader/pkg/types"
)

// Fetcher fetches the current market universe.
type Fetcher interface {
	FetchMarkets(ctx context.Context, limit int) ([]types.MarketInfo, error)
}

// Service scans the market universe, ranks it, and persists the
// watchlist. The engine drives Scan on its refresh cadence.
type Service struct {
	fetcher    Fetcher
	cache      cache.Cache
	store      store.Store
	clock      clock.Clock
	fetchLimit int
	minVolume  float64
	minLiq     float64
	topN       int
	cacheTTL   time.Duration
	logger     *zap.Logger
}

// Config holds discovery service configuration.
type Config struct {
	Fetcher         Fetcher
	Cache           cache.Cache
	Store           store.Store
	Clock           clock.Clock
	FetchLimit      int
	Min24hVolumeUSD float64
	MinLiquidityUSD float64
	TopN            int
	CacheTTL        time.Duration
	Logger          *zap.Logger
}

// New creates a new discovery service.
func New(cfg *Config) *Service {
	fetchLimit := cfg.FetchLimit
	if fetchLimit <= 0 {
		fetchLimit = 500
	}
	return &Service{
		fetcher:    cfg.Fetcher,
		cache:      cfg.Cache,
		store:      cfg.Store,
		clock:      cfg.Clock,
		fetchLimit: fetchLimit,
		minVolume:  cfg.Min24hVolumeUSD,
		minLiq:     cfg.MinLiquidityUSD,
		topN:       cfg.TopN,
		cacheTTL:   cfg.CacheTTL,
		logger:     cfg.Logger,
	}
}

// Scan fetches the universe, ranks it, and persists markets, watchlist
// and a scanner snapshot. Returns the top-N markets and the full
// eligible set.
func (s *Service) Scan(ctx context.Context) (top, eligible []types.MarketInfo, err error) {
	start := time.Now()
	defer func() {
		ScanDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	markets, err := s.fetcher.FetchMarkets(ctx, s.fetchLimit)
	if err != nil {
		ScanErrorsTotal.Inc()
		return nil, nil, fmt.Errorf("fetch markets: %w", err)
	}
	MarketsFetchedTotal.Add(float64(len(markets)))

	top, eligible = RankAndFilter(markets, s.minVolume, s.minLiq, s.topN)
	EligibleMarkets.Set(float64(len(eligible)))
	WatchlistSize.Set(float64(len(top)))

	for i := range top {
		s.cacheMarket(&top[i])
	}

	now := s.clock.Now()
	if err := s.store.UpsertMarkets(ctx, eligible); err != nil {
		ScanErrorsTotal.Inc()
		return nil, nil, fmt.Errorf("upsert markets: %w", err)
	}

	ids := make([]string, 0, len(top))
	for i := range top {
		ids = append(ids, top[i].MarketID)
	}
	if err := s.store.ReplaceWatchlist(ctx, ids, now); err != nil {
		ScanErrorsTotal.Inc()
		return nil, nil, fmt.Errorf("replace watchlist: %w", err)
	}

	if err := s.store.InsertScannerSnapshot(ctx, &store.ScannerSnapshot{
		TS:            now,
		EligibleCount: len(eligible),
		TopCount:      len(top),
	}); err != nil {
		// Telemetry only.
		s.logger.Warn("scanner-snapshot-failed", zap.Error(err))
	}

	s.logger.Info("scan-complete",
		zap.Int("fetched", len(markets)),
		zap.Int("eligible", len(eligible)),
		zap.Int("top", len(top)),
		zap.Duration("duration", time.Since(start)))

	return top, eligible, nil
}

// RankAndFilter keeps active markets above the volume and liquidity
// floors, sorted by volume descending with liquidity as tiebreak.
// top is the first topN of eligible.
func RankAndFilter(markets []types.MarketInfo, minVol, minLiq float64, topN int) (top, eligible []types.MarketInfo) {
	eligible = make([]types.MarketInfo, 0, len(markets))
	for _, m := range markets {
		if m.Active && m.Volume24hUSD >= minVol && m.LiquidityUSD >= minLiq {
			eligible = append(eligible, m)
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Volume24hUSD != eligible[j].Volume24hUSD {
			return eligible[i].Volume24hUSD > eligible[j].Volume24hUSD
		}
		return eligible[i].LiquidityUSD > eligible[j].LiquidityUSD
	})

	if topN > len(eligible) {
		topN = len(eligible)
	}
	if topN < 0 {
		topN = 0
	}
	top = eligible[:topN]
	return top, eligible
}

// GetMarket retrieves a market from cache, or nil when absent.
func (s *Service) GetMarket(marketID string) *types.MarketInfo {
	if s.cache == nil {
		return nil
	}
	value, found := s.cache.Get(marketID)
	if !found {
		return nil
	}
	market, ok := value.(*types.MarketInfo)
	if !ok {
		s.logger.Warn("invalid-market-type-in-cache",
			zap.String("market-id", marketID))
		return nil
	}
	return market
}

func (s *Service) cacheMarket(market *types.MarketInfo) {
	if s.cache == nil {
		return
	}
	m := *market
	if !s.cache.Set(m.MarketID, &m, s.cacheTTL) {
		s.logger.Warn("failed-to-cache-market",
			zap.String("market-id", m.MarketID))
	}
}
