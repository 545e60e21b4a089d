package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Run, trade and execution modes.
const (
	TradeModePaper = "paper"
	TradeModeLive  = "live"

	RunModeScanner  = "scanner"
	RunModePaper    = "paper"
	RunModeBacktest = "backtest"

	ExecModePaper  = "paper"
	ExecModeShadow = "shadow"
)

// Paper fill models.
const (
	FillModelOnBookCross = "on_book_cross"
	FillModelMakerTouch  = "maker_touch"
	FillModelTradeThru   = "trade_through"
)

// Storage backends.
const (
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	// Application
	LogLevel string
	HTTPPort string

	// Modes
	TradeMode     string // paper|live
	RunMode       string // scanner|paper|backtest
	ExecutionMode string // paper|shadow

	// Polymarket API
	GammaURL      string
	ClobWSURL     string
	UseLiveWSFeed bool

	// Market selection
	TopNMarkets       int
	Min24hVolumeUSD   float64
	MinLiquidityUSD   float64
	MarketRefreshSecs int

	// Strategy knobs
	EdgeBuffer           float64
	FeesBps              float64
	SlippageBps          float64
	LatencyBps           float64
	BaseOrderSize        float64
	MinTradeCooldownSecs float64

	MMQuoteWidth         float64
	MMInventorySkew      float64
	MMMinQuoteLifeSecs   float64
	MMMaxOrdersPerMarket int
	MMRepriceThreshold   float64
	MMJoinTouch          bool
	PriceTick            float64
	DisallowMockData     bool

	// Paper trading realism
	PaperFillModel    string
	PaperMinRestSecs  float64
	PaperResetOnStart bool
	PaperRehydrate    bool
	SimFeedTickHz     float64
	SimFeedSeed       int64

	// Risk
	MaxPosPerMarket          float64
	MaxOpenPositions         int
	MaxPosAgeSecs            float64
	UnwindIntervalSecs       float64
	UnwindMaxMarketsPerCycle int
	MaxEventExposure         float64
	DailyLossLimit           float64
	KillSwitch               bool
	StopBeforeEndSecs        float64

	// Circuit breaker
	MaxFeedLagSecs float64
	MaxSpread      float64

	// Backtest
	BacktestSpeed   float64
	BacktestStartTS float64
	BacktestEndTS   float64

	// Websocket feed
	WSDialTimeout           time.Duration
	WSReconnectInitialDelay time.Duration
	WSReconnectMaxDelay     time.Duration
	WSReconnectBackoffMult  float64

	// Storage
	StorageMode  string // sqlite|postgres
	SQLitePath   string
	PostgresHost string
	PostgresPort string
	PostgresUser string
	PostgresPass string
	PostgresDB   string
	PostgresSSL  string
}

// Load reads configuration from environment variables with defaults.
// A .env file in the working directory is honored but never overrides
// already-exported variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),

		TradeMode:     getEnvOrDefault("TRADE_MODE", TradeModePaper),
		RunMode:       getEnvOrDefault("RUN_MODE", RunModePaper),
		ExecutionMode: getEnvOrDefault("EXECUTION_MODE", ExecModePaper),

		GammaURL:      getEnvOrDefault("POLYMARKET_GAMMA_API_URL", "https://gamma-api.polymarket.com"),
		ClobWSURL:     getEnvOrDefault("POLYMARKET_WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market"),
		UseLiveWSFeed: getBoolOrDefault("USE_LIVE_WS_FEED", false),

		TopNMarkets:       getIntOrDefault("TOP_N_MARKETS", 20),
		Min24hVolumeUSD:   getFloat64OrDefault("MIN_24H_VOLUME_USD", 20000.0),
		MinLiquidityUSD:   getFloat64OrDefault("MIN_LIQUIDITY_USD", 5000.0),
		MarketRefreshSecs: getIntOrDefault("MARKET_REFRESH_SECS", 60),

		EdgeBuffer:           getFloat64OrDefault("EDGE_BUFFER", 0.01),
		FeesBps:              getFloat64OrDefault("FEES_BPS", 20.0),
		SlippageBps:          getFloat64OrDefault("SLIPPAGE_BPS", 10.0),
		LatencyBps:           getFloat64OrDefault("LATENCY_BPS", 5.0),
		BaseOrderSize:        getFloat64OrDefault("BASE_ORDER_SIZE", 10.0),
		MinTradeCooldownSecs: getFloat64OrDefault("MIN_TRADE_COOLDOWN_SECS", 5.0),

		MMQuoteWidth:         getFloat64OrDefault("MM_QUOTE_WIDTH", 0.02),
		MMInventorySkew:      getFloat64OrDefault("MM_INVENTORY_SKEW", 0.5),
		MMMinQuoteLifeSecs:   getFloat64OrDefault("MM_MIN_QUOTE_LIFE_SECS", 2.0),
		MMMaxOrdersPerMarket: getIntOrDefault("MM_MAX_ORDERS_PER_MARKET", 2),
		MMRepriceThreshold:   getFloat64OrDefault("MM_REPRICE_THRESHOLD", 0.001),
		MMJoinTouch:          getBoolOrDefault("MM_JOIN_TOUCH", true),
		PriceTick:            getFloat64OrDefault("PRICE_TICK", 0.001),
		DisallowMockData:     getBoolOrDefault("DISALLOW_MOCK_DATA", false),

		PaperFillModel:    getEnvOrDefault("PAPER_FILL_MODEL", FillModelOnBookCross),
		PaperMinRestSecs:  getFloat64OrDefault("PAPER_MIN_REST_SECS", 0.0),
		PaperResetOnStart: getBoolOrDefault("PAPER_RESET_ON_START", false),
		PaperRehydrate:    getBoolOrDefault("PAPER_REHYDRATE_PORTFOLIO", true),
		SimFeedTickHz:     getFloat64OrDefault("SIM_FEED_TICK_HZ", 5.0),
		SimFeedSeed:       int64(getIntOrDefault("SIM_FEED_SEED", 7)),

		MaxPosPerMarket:          getFloat64OrDefault("MAX_POS_PER_MARKET", 200.0),
		MaxOpenPositions:         getIntOrDefault("MAX_OPEN_POSITIONS", 0),
		MaxPosAgeSecs:            getFloat64OrDefault("MAX_POS_AGE_SECS", 0.0),
		UnwindIntervalSecs:       getFloat64OrDefault("UNWIND_INTERVAL_SECS", 10.0),
		UnwindMaxMarketsPerCycle: getIntOrDefault("UNWIND_MAX_MARKETS_PER_CYCLE", 2),
		MaxEventExposure:         getFloat64OrDefault("MAX_EVENT_EXPOSURE", 500.0),
		DailyLossLimit:           getFloat64OrDefault("DAILY_LOSS_LIMIT", 200.0),
		KillSwitch:               getBoolOrDefault("KILL_SWITCH", false),
		StopBeforeEndSecs:        getFloat64OrDefault("STOP_BEFORE_END_SECS", 3600.0),

		MaxFeedLagSecs: getFloat64OrDefault("MAX_FEED_LAG_SECS", 5.0),
		MaxSpread:      getFloat64OrDefault("MAX_SPREAD", 0.20),

		BacktestSpeed:   getFloat64OrDefault("BACKTEST_SPEED", 50.0),
		BacktestStartTS: getFloat64OrDefault("BACKTEST_START_TS", 0),
		BacktestEndTS:   getFloat64OrDefault("BACKTEST_END_TS", 0),

		WSDialTimeout:           getDurationOrDefault("WS_DIAL_TIMEOUT", 10*time.Second),
		WSReconnectInitialDelay: getDurationOrDefault("WS_RECONNECT_INITIAL_DELAY", 1*time.Second),
		WSReconnectMaxDelay:     getDurationOrDefault("WS_RECONNECT_MAX_DELAY", 30*time.Second),
		WSReconnectBackoffMult:  getFloat64OrDefault("WS_RECONNECT_BACKOFF_MULTIPLIER", 2.0),

		StorageMode:  getEnvOrDefault("STORAGE_MODE", StorageSQLite),
		SQLitePath:   getEnvOrDefault("SQLITE_PATH", "./data/polymarket_trader.sqlite"),
		PostgresHost: getEnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresPort: getEnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresUser: getEnvOrDefault("POSTGRES_USER", "polymarket"),
		PostgresPass: getEnvOrDefault("POSTGRES_PASSWORD", "polymarket123"),
		PostgresDB:   getEnvOrDefault("POSTGRES_DB", "polymarket_trader"),
		PostgresSSL:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
	}

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that configuration values are valid.
func (c *Config) Validate() error {
	if c.TradeMode != TradeModePaper && c.TradeMode != TradeModeLive {
		return fmt.Errorf("TRADE_MODE must be 'paper' or 'live', got %q", c.TradeMode)
	}

	if c.RunMode != RunModeScanner && c.RunMode != RunModePaper && c.RunMode != RunModeBacktest {
		return fmt.Errorf("RUN_MODE must be 'scanner', 'paper' or 'backtest', got %q", c.RunMode)
	}

	if c.ExecutionMode != ExecModePaper && c.ExecutionMode != ExecModeShadow {
		return fmt.Errorf("EXECUTION_MODE must be 'paper' or 'shadow', got %q", c.ExecutionMode)
	}

	switch c.PaperFillModel {
	case FillModelOnBookCross, FillModelMakerTouch, FillModelTradeThru:
	default:
		return fmt.Errorf("PAPER_FILL_MODEL must be 'on_book_cross', 'maker_touch' or 'trade_through', got %q", c.PaperFillModel)
	}

	if c.StorageMode != StorageSQLite && c.StorageMode != StoragePostgres {
		return fmt.Errorf("STORAGE_MODE must be 'sqlite' or 'postgres', got %q", c.StorageMode)
	}

	if c.StorageMode == StorageSQLite && c.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH cannot be empty")
	}

	if c.TopNMarkets <= 0 {
		return fmt.Errorf("TOP_N_MARKETS must be positive, got %d", c.TopNMarkets)
	}

	if c.MarketRefreshSecs <= 0 {
		return fmt.Errorf("MARKET_REFRESH_SECS must be positive, got %d", c.MarketRefreshSecs)
	}

	if c.BacktestSpeed <= 0 {
		return fmt.Errorf("BACKTEST_SPEED must be positive, got %f", c.BacktestSpeed)
	}

	if c.MaxFeedLagSecs <= 0 {
		return fmt.Errorf("MAX_FEED_LAG_SECS must be positive, got %f", c.MaxFeedLagSecs)
	}

	return nil
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatVal
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return boolVal
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}
