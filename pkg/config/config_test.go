package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, TradeModePaper, cfg.TradeMode)
	require.Equal(t, RunModePaper, cfg.RunMode)
	require.Equal(t, ExecModePaper, cfg.ExecutionMode)
	require.Equal(t, FillModelOnBookCross, cfg.PaperFillModel)
	require.Equal(t, StorageSQLite, cfg.StorageMode)
	require.Equal(t, 20, cfg.TopNMarkets)
	require.Equal(t, 20000.0, cfg.Min24hVolumeUSD)
	require.Equal(t, 5.0, cfg.MaxFeedLagSecs)
	require.Equal(t, 50.0, cfg.BacktestSpeed)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RUN_MODE", "backtest")
	t.Setenv("PAPER_FILL_MODEL", "maker_touch")
	t.Setenv("TOP_N_MARKETS", "5")
	t.Setenv("MAX_POS_AGE_SECS", "900")
	t.Setenv("USE_LIVE_WS_FEED", "true")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, RunModeBacktest, cfg.RunMode)
	require.Equal(t, FillModelMakerTouch, cfg.PaperFillModel)
	require.Equal(t, 5, cfg.TopNMarkets)
	require.Equal(t, 900.0, cfg.MaxPosAgeSecs)
	require.True(t, cfg.UseLiveWSFeed)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "bad-trade-mode", mutate: func(c *Config) { c.TradeMode = "real" }},
		{name: "bad-run-mode", mutate: func(c *Config) { c.RunMode = "replay" }},
		{name: "bad-execution-mode", mutate: func(c *Config) { c.ExecutionMode = "dark" }},
		{name: "bad-fill-model", mutate: func(c *Config) { c.PaperFillModel = "always" }},
		{name: "bad-storage-mode", mutate: func(c *Config) { c.StorageMode = "csv" }},
		{name: "empty-sqlite-path", mutate: func(c *Config) { c.SQLitePath = "" }},
		{name: "zero-top-n", mutate: func(c *Config) { c.TopNMarkets = 0 }},
		{name: "zero-refresh", mutate: func(c *Config) { c.MarketRefreshSecs = 0 }},
		{name: "zero-backtest-speed", mutate: func(c *Config) { c.BacktestSpeed = 0 }},
		{name: "zero-feed-lag", mutate: func(c *Config) { c.MaxFeedLagSecs = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", ""} {
		logger, err := NewLogger(level)
		require.NoError(t, err)
		require.NotNil(t, logger)
	}

	_, err := NewLogger("chatty")
	require.Error(t, err)
}
