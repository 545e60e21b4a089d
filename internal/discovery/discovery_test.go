package discovery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"polymarket-trader/internal/store"
	"polymarket-trader/pkg/clock"
	"polymarket-trader/pkg/types"
)

func TestClient_FetchMarkets_DefensiveSchema(t *testing.T) {
	payload := `[
		{
			"id": 12345,
			"question": "Will it rain tomorrow?",
			"active": true,
			"conditionId": "0xabc",
			"clobTokenIds": "[\"111\", \"222\"]",
			"outcomes": "[\"No\", \"Yes\"]",
			"events": [{"id": 99}],
			"endDate": 1924905600000,
			"volume24hr": "150000.5",
			"liquidity": 42000
		},
		{
			"question": "row without any id is dropped"
		},
		{
			"id": "m-2",
			"title": "Fallback title",
			"active": false,
			"volume": 500,
			"liquidityNum": "300"
		},
		"not an object"
	]`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/markets", r.URL.Path)
		require.Equal(t, "true", r.URL.Query().Get("active"))
		require.Equal(t, "false", r.URL.Query().Get("closed"))
		require.Equal(t, "volume24hr", r.URL.Query().Get("order"))
		require.Equal(t, "250", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zap.NewNop())
	markets, err := c.FetchMarkets(context.Background(), 250)
	require.NoError(t, err)
	require.Len(t, markets, 2)

	m := markets[0]
	require.Equal(t, "12345", m.MarketID)
	require.Equal(t, "Will it rain tomorrow?", m.Question)
	require.Equal(t, "99", m.EventID)
	require.True(t, m.Active)
	require.Equal(t, 1924905600.0, m.EndTS)
	require.Equal(t, 150000.5, m.Volume24hUSD)
	require.Equal(t, 42000.0, m.LiquidityUSD)
	require.Equal(t, "0xabc", m.ConditionID)
	require.Equal(t, "222", m.ClobTokenID)

	m = markets[1]
	require.Equal(t, "m-2", m.MarketID)
	require.Equal(t, "Fallback title", m.Question)
	require.Equal(t, "event:m-2", m.EventID)
	require.False(t, m.Active)
	require.Equal(t, 500.0, m.Volume24hUSD)
	require.Equal(t, 300.0, m.LiquidityUSD)
	require.Empty(t, m.ClobTokenID)
}

func TestClient_FetchMarkets_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zap.NewNop())
	_, err := c.FetchMarkets(context.Background(), 10)
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}

func mkt(id string, active bool, vol, liq float64) types.MarketInfo {
	return types.MarketInfo{
		MarketID:     id,
		EventID:      "e-" + id,
		Active:       active,
		Volume24hUSD: vol,
		LiquidityUSD: liq,
	}
}

func TestRankAndFilter(t *testing.T) {
	universe := []types.MarketInfo{
		mkt("low-vol", true, 100, 9000),
		mkt("inactive", false, 90000, 9000),
		mkt("low-liq", true, 90000, 10),
		mkt("mid", true, 50000, 7000),
		mkt("big", true, 80000, 6000),
		mkt("tie-liq-high", true, 50000, 9000),
	}

	tests := []struct {
		name         string
		topN         int
		wantTop      []string
		wantEligible int
	}{
		{
			name:         "ranks-volume-desc-liquidity-tiebreak",
			topN:         10,
			wantTop:      []string{"big", "tie-liq-high", "mid"},
			wantEligible: 3,
		},
		{
			name:         "truncates-to-top-n",
			topN:         2,
			wantTop:      []string{"big", "tie-liq-high"},
			wantEligible: 3,
		},
		{
			name:         "zero-top-n",
			topN:         0,
			wantTop:      []string{},
			wantEligible: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			top, eligible := RankAndFilter(universe, 1000, 1000, tt.topN)
			require.Len(t, eligible, tt.wantEligible)
			got := make([]string, 0, len(top))
			for _, m := range top {
				got = append(got, m.MarketID)
			}
			require.Equal(t, tt.wantTop, got)
		})
	}
}

type stubFetcher struct {
	markets []types.MarketInfo
	err     error
}

func (f *stubFetcher) FetchMarkets(ctx context.Context, limit int) ([]types.MarketInfo, error) {
	return f.markets, f.err
}

type mapCache struct {
	m map[string]interface{}
}

func newMapCache() *mapCache { return &mapCache{m: make(map[string]interface{})} }

func (c *mapCache) Get(key string) (interface{}, bool) {
	v, ok := c.m[key]
	return v, ok
}
func (c *mapCache) Set(key string, value interface{}, ttl time.Duration) bool {
	c.m[key] = value
	return true
}
func (c *mapCache) Delete(key string) { delete(c.m, key) }
func (c *mapCache) Clear()            { c.m = make(map[string]interface{}) }
func (c *mapCache) Close()            {}

func TestService_Scan(t *testing.T) {
	logger := zap.NewNop()
	st := store.NewConsoleStore(logger)
	clk := clock.NewFake(5000)

	svc := New(&Config{
		Fetcher: &stubFetcher{markets: []types.MarketInfo{
			mkt("small", true, 30000, 8000),
			mkt("dust", true, 10, 10),
			mkt("huge", true, 90000, 8000),
		}},
		Cache:           newMapCache(),
		Store:           st,
		Clock:           clk,
		Min24hVolumeUSD: 20000,
		MinLiquidityUSD: 5000,
		TopN:            2,
		CacheTTL:        time.Minute,
		Logger:          logger,
	})

	top, eligible, err := svc.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, eligible, 2)
	require.Len(t, top, 2)
	require.Equal(t, "huge", top[0].MarketID)
	require.Equal(t, "small", top[1].MarketID)

	wl, err := st.Watchlist(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, wl, 2)
	require.Equal(t, 1, wl[0].Rank)
	require.Equal(t, "huge", wl[0].MarketID)
	require.Equal(t, "e-huge", wl[0].EventID)
	require.Equal(t, 5000.0, wl[0].TS)

	cached := svc.GetMarket("huge")
	require.NotNil(t, cached)
	require.Equal(t, 90000.0, cached.Volume24hUSD)
	require.Nil(t, svc.GetMarket("dust"))
}

func TestService_Scan_FetchError(t *testing.T) {
	logger := zap.NewNop()
	svc := New(&Config{
		Fetcher: &stubFetcher{err: errors.New("socket closed")},
		Store:   store.NewConsoleStore(logger),
		Clock:   clock.NewFake(0),
		Logger:  logger,
	})

	_, _, err := svc.Scan(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "fetch markets")
}
