package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"polymarket-trader/internal/broker"
	"polymarket-trader/internal/discovery"
	"polymarket-trader/internal/engine"
	"polymarket-trader/internal/feed"
	"polymarket-trader/internal/odds"
	"polymarket-trader/internal/portfolio"
	"polymarket-trader/internal/risk"
	"polymarket-trader/internal/store"
	"polymarket-trader/internal/strategy"
	"polymarket-trader/pkg/cache"
	"polymarket-trader/pkg/clock"
	"polymarket-trader/pkg/config"
	"polymarket-trader/pkg/healthprobe"
	"polymarket-trader/pkg/httpserver"
)

//nolint:gochecknoglobals // Cobra boilerplate
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the trading agent",
	Long: `Starts the trading agent in the configured run mode:

  scanner   discover and rank markets, print the watchlist
  paper     full trading session against the live or simulated feed
  backtest  replay the persisted tape through the same strategies

The --mode flag overrides RUN_MODE from the environment.`,
	RunE: runAgent,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("mode", "m", "", "Run mode: scanner, paper or backtest (overrides RUN_MODE)")
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if mode, _ := cmd.Flags().GetString("mode"); mode != "" {
		cfg.RunMode = mode
		if err = cfg.Validate(); err != nil {
			return fmt.Errorf("validate config: %w", err)
		}
	}

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting",
		zap.String("run-mode", cfg.RunMode),
		zap.String("execution-mode", cfg.ExecutionMode),
		zap.String("fill-model", cfg.PaperFillModel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := newStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		_ = st.Close()
	}()

	var clk clock.Clock
	if cfg.RunMode == config.RunModeBacktest {
		// Backtests drive domain time from the tape.
		clk = clock.NewFake(0)
	} else {
		clk = clock.New()
	}

	marketCache, err := cache.NewRistrettoCache(&cache.RistrettoConfig{
		NumCounters: 10000,
		MaxCost:     1000,
		BufferItems: 64,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("create cache: %w", err)
	}

	disc := discovery.New(&discovery.Config{
		Fetcher:         discovery.NewClient(cfg.GammaURL, logger),
		Cache:           marketCache,
		Store:           st,
		Clock:           clk,
		Min24hVolumeUSD: cfg.Min24hVolumeUSD,
		MinLiquidityUSD: cfg.MinLiquidityUSD,
		TopN:            cfg.TopNMarkets,
		CacheTTL:        time.Duration(cfg.MarketRefreshSecs) * time.Second,
		Logger:          logger,
	})

	brk, err := newBroker(cfg, st, clk, logger)
	if err != nil {
		return fmt.Errorf("create broker: %w", err)
	}

	var provider odds.Provider
	if cfg.DisallowMockData {
		provider = odds.Disabled{}
	} else {
		provider = odds.NewMock(0.05, cfg.SimFeedSeed)
	}

	eng := engine.New(&engine.Config{
		Cfg:       cfg,
		Clock:     clk,
		Store:     st,
		Broker:    brk,
		Risk:      risk.New(&risk.Config{Cfg: cfg, Clock: clk, Logger: logger}),
		Portfolio: portfolio.New(logger),
		Odds:      provider,
		Discovery: disc,
		Feed:      newFeed(cfg, st, clk, logger),
		Strategies: []strategy.Strategy{
			strategy.NewMarketMaker(logger),
			strategy.NewCrossVenue(logger),
		},
		Logger: logger,
	})

	health := healthprobe.New(cfg.RunMode)
	server := httpserver.New(&httpserver.Config{
		Port:          cfg.HTTPPort,
		Logger:        logger,
		HealthChecker: health,
		Store:         st,
		Status:        eng.Status,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		health.SetReady(true)
		defer health.SetReady(false)

		err := eng.Run(gctx)
		if err != nil && gctx.Err() == nil {
			return fmt.Errorf("engine: %w", err)
		}
		// A finished backtest shuts the whole process down.
		stop()
		return nil
	})

	err = g.Wait()
	if err != nil && ctx.Err() == nil {
		return err
	}

	logger.Info("shutdown-complete")
	return nil
}

// newStore picks the persistence backend: scanner runs print to the
// console, trading runs use SQLite or Postgres per STORAGE_MODE.
func newStore(cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	if cfg.RunMode == config.RunModeScanner {
		return store.NewConsoleStore(logger), nil
	}

	switch cfg.StorageMode {
	case config.StoragePostgres:
		return store.NewPostgresStore(&store.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPass,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSL,
			Logger:   logger,
		})
	default:
		return store.NewSQLiteStore(&store.SQLiteConfig{
			Path:   cfg.SQLitePath,
			Logger: logger,
		})
	}
}

func newBroker(cfg *config.Config, st store.Store, clk clock.Clock, logger *zap.Logger) (broker.Broker, error) {
	if cfg.ExecutionMode == config.ExecModeShadow {
		return broker.NewShadowBroker(&broker.ShadowConfig{
			Store:  st,
			Clock:  clk,
			Logger: logger,
		}), nil
	}
	return broker.NewPaperBroker(&broker.PaperConfig{
		FillModel:   cfg.PaperFillModel,
		MinRestSecs: cfg.PaperMinRestSecs,
		Store:       st,
		Clock:       clk,
		Logger:      logger,
	})
}

func newFeed(cfg *config.Config, st store.Store, clk clock.Clock, logger *zap.Logger) feed.Feed {
	if cfg.UseLiveWSFeed {
		return feed.NewWSFeed(&feed.WSConfig{
			URL:   cfg.ClobWSURL,
			Store: st,
			Clock: clk,
			Backoff: feed.BackoffConfig{
				InitialDelay: cfg.WSReconnectInitialDelay,
				MaxDelay:     cfg.WSReconnectMaxDelay,
				Multiplier:   cfg.WSReconnectBackoffMult,
			},
			DialTimeout: cfg.WSDialTimeout,
			Logger:      logger,
		})
	}
	return feed.NewSimFeed(&feed.SimConfig{
		Store:  st,
		Clock:  clk,
		Logger: logger,
		TickHz: cfg.SimFeedTickHz,
		Seed:   cfg.SimFeedSeed,
	})
}
