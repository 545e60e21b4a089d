package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"polymarket-trader/pkg/types"
)

func newTestCache(t *testing.T) *RistrettoCache {
	t.Helper()
	c, err := NewRistrettoCache(&RistrettoConfig{
		NumCounters: 1000,
		MaxCost:     100,
		BufferItems: 64,
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c.(*RistrettoCache)
}

func TestRistrettoCache_SetGet(t *testing.T) {
	c := newTestCache(t)

	m := types.MarketInfo{MarketID: "m1", Question: "resolves yes?"}
	require.True(t, c.Set("market:m1", m, time.Minute))
	c.Wait()

	got, ok := c.Get("market:m1")
	require.True(t, ok)
	require.Equal(t, m, got.(types.MarketInfo))
}

func TestRistrettoCache_TTLExpiry(t *testing.T) {
	c := newTestCache(t)

	require.True(t, c.Set("market:m1", 1, 10*time.Millisecond))
	c.Wait()

	time.Sleep(50 * time.Millisecond)
	_, ok := c.Get("market:m1")
	require.False(t, ok)
}

func TestRistrettoCache_DeleteAndClear(t *testing.T) {
	c := newTestCache(t)

	require.True(t, c.Set("a", 1, time.Minute))
	require.True(t, c.Set("b", 2, time.Minute))
	c.Wait()

	c.Delete("a")
	_, ok := c.Get("a")
	require.False(t, ok)

	c.Clear()
	_, ok = c.Get("b")
	require.False(t, ok)
}
