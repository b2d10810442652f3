package config

import (
	"time"

	"golang-options-engine/pkg/config"
)

// Engine holds the decision-engine tuning knobs.
type Engine struct {
	CycleSchedule            string        `mapstructure:"cycle_schedule"`
	MaxConcurrentEvaluations int           `mapstructure:"max_concurrent_evaluations"`
	CycleLockTTL             time.Duration `mapstructure:"cycle_lock_ttl"`
	QuoteTimeout             time.Duration `mapstructure:"quote_timeout"`
	SignalTimeout            time.Duration `mapstructure:"signal_timeout"`
	ChainTimeout             time.Duration `mapstructure:"chain_timeout"`
	OrderTimeout             time.Duration `mapstructure:"order_timeout"`
	DeltaTolerance           float64       `mapstructure:"delta_tolerance"`
	LiquidityWeight          float64       `mapstructure:"liquidity_weight"`
	SpreadWeight             float64       `mapstructure:"spread_weight"`
	ExecutorMaxAttempts      int           `mapstructure:"executor_max_attempts"`
	ExecutorInitialBackoff   time.Duration `mapstructure:"executor_initial_backoff"`
}

// MarketData holds the configuration for the market data gateway.
type MarketData struct {
	BaseURL             string        `mapstructure:"base_url"`
	MaxRequestPerMinute int           `mapstructure:"max_request_per_minute"`
	ExpirationsCacheTTL time.Duration `mapstructure:"expirations_cache_ttl"`
	ChainCacheTTL       time.Duration `mapstructure:"chain_cache_ttl"`
}

// Signals holds the configuration for the signal generator API.
type Signals struct {
	BaseURL             string `mapstructure:"base_url"`
	MaxRequestPerMinute int    `mapstructure:"max_request_per_minute"`
}

// Broker holds the configuration for the broker order API.
type Broker struct {
	BaseURL             string `mapstructure:"base_url"`
	APIKey              string `mapstructure:"api_key"`
	MaxRequestPerMinute int    `mapstructure:"max_request_per_minute"`
}

// Config holds the full configuration for the engine service.
type Config struct {
	App        config.App      `mapstructure:"app"`
	Logger     config.Logger   `mapstructure:"logger"`
	Database   config.Database `mapstructure:"database"`
	Redis      config.Redis    `mapstructure:"redis"`
	API        config.API      `mapstructure:"api"`
	Telegram   config.Telegram `mapstructure:"telegram"`
	Engine     Engine          `mapstructure:"engine"`
	MarketData MarketData      `mapstructure:"market_data"`
	Signals    Signals         `mapstructure:"signals"`
	Broker     Broker          `mapstructure:"broker"`
}

// Load loads the engine configuration from the given path.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := config.Load(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
