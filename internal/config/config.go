// Package config loads the agent's static configuration: defaults, an
// optional YAML file, an optional .env file, and environment overrides,
// in that order of increasing precedence. Configuration is read once at
// start and never reloaded.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the complete agent configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Feed      FeedConfig      `yaml:"feed"`
	Annotator AnnotatorConfig `yaml:"annotator"`
	Trading   TradingConfig   `yaml:"trading"`
}

// ServerConfig controls the HTTP API and the cycle scheduler.
type ServerConfig struct {
	Port            string        `yaml:"port"`
	AnalyzeInterval time.Duration `yaml:"analyze_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects the ledger backend. DatabaseURL wins over
// SQLitePath; with neither set the ledger is in-memory.
type StorageConfig struct {
	DatabaseURL string        `yaml:"database_url"`
	RedisURL    string        `yaml:"redis_url"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	SQLitePath  string        `yaml:"sqlite_path"`
}

// FeedConfig configures the Gamma market feed.
type FeedConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"`
	TrendingLimit int           `yaml:"trending_limit"`
	NewLimit      int           `yaml:"new_limit"`
}

// AnnotatorConfig configures trade commentary.
type AnnotatorConfig struct {
	OpenAIKey string        `yaml:"openai_api_key"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
}

// TradingConfig holds the static strategy thresholds.
type TradingConfig struct {
	InitialBalance  decimal.Decimal `yaml:"initial_balance"`
	MaxPositions    int             `yaml:"max_positions"`
	MaxNewPerCycle  int             `yaml:"max_new_per_cycle"`
	MaxPositionSize decimal.Decimal `yaml:"max_position_size"`
	MinTradeSize    decimal.Decimal `yaml:"min_trade_size"`
	SizeFractionMin decimal.Decimal `yaml:"size_fraction_min"`
	SizeFractionMax decimal.Decimal `yaml:"size_fraction_max"`
	AdmitProb       float64         `yaml:"admit_probability"`

	TakeProfitPct  decimal.Decimal `yaml:"take_profit_pct"`
	StopLossPct    decimal.Decimal `yaml:"stop_loss_pct"`
	NearResolution decimal.Decimal `yaml:"near_resolution_price"`
	LockInProb     float64         `yaml:"lock_in_probability"`

	MinPrice       decimal.Decimal `yaml:"min_price"`
	MaxPrice       decimal.Decimal `yaml:"max_price"`
	ScoreThreshold int             `yaml:"score_threshold"`

	RefreshConcurrency int `yaml:"refresh_concurrency"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			AnalyzeInterval: 2 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			CacheTTL: 30 * time.Second,
		},
		Feed: FeedConfig{
			BaseURL:       "https://gamma-api.polymarket.com",
			Timeout:       10 * time.Second,
			TrendingLimit: 30,
			NewLimit:      20,
		},
		Annotator: AnnotatorConfig{
			Model:   "gpt-4o-mini",
			Timeout: 15 * time.Second,
		},
		Trading: TradingConfig{
			InitialBalance:     decimal.NewFromInt(1500),
			MaxPositions:       10,
			MaxNewPerCycle:     2,
			MaxPositionSize:    decimal.NewFromInt(200),
			MinTradeSize:       decimal.NewFromInt(30),
			SizeFractionMin:    decimal.RequireFromString("0.05"),
			SizeFractionMax:    decimal.RequireFromString("0.10"),
			AdmitProb:          0.4,
			TakeProfitPct:      decimal.NewFromInt(30),
			StopLossPct:        decimal.NewFromInt(-25),
			NearResolution:     decimal.RequireFromString("0.90"),
			LockInProb:         0.05,
			MinPrice:           decimal.RequireFromString("0.05"),
			MaxPrice:           decimal.RequireFromString("0.95"),
			ScoreThreshold:     30,
			RefreshConcurrency: 8,
		},
	}
}

// Load builds the configuration. path is an optional YAML file. envFiles
// are dotenv files to load into the process environment; with none given
// ".env" in the working directory is tried. Missing dotenv files are not
// an error.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
		slog.Debug("no .env file found, using process environment")
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("PORT", &c.Server.Port)
	setString("DATABASE_URL", &c.Storage.DatabaseURL)
	setString("REDIS_URL", &c.Storage.RedisURL)
	setString("SQLITE_PATH", &c.Storage.SQLitePath)
	setString("GAMMA_API_URL", &c.Feed.BaseURL)
	setString("OPENAI_API_KEY", &c.Annotator.OpenAIKey)
	setString("OPENAI_MODEL", &c.Annotator.Model)

	if v := os.Getenv("ANALYZE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ANALYZE_INTERVAL: %w", err)
		}
		c.Server.AnalyzeInterval = d
	}
	if v := os.Getenv("INITIAL_BALANCE"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("INITIAL_BALANCE: %w", err)
		}
		c.Trading.InitialBalance = d
	}
	if v := os.Getenv("MAX_POSITIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_POSITIONS: %w", err)
		}
		c.Trading.MaxPositions = n
	}
	return nil
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	t := c.Trading
	one := decimal.NewFromInt(1)
	switch {
	case c.Server.Port == "":
		return fmt.Errorf("server.port is required")
	case c.Server.AnalyzeInterval < time.Second:
		return fmt.Errorf("server.analyze_interval must be at least 1s")
	case c.Feed.Timeout <= 0:
		return fmt.Errorf("feed.timeout must be positive")
	case !t.InitialBalance.IsPositive():
		return fmt.Errorf("trading.initial_balance must be positive")
	case t.MaxPositions < 1:
		return fmt.Errorf("trading.max_positions must be at least 1")
	case t.MaxNewPerCycle < 1:
		return fmt.Errorf("trading.max_new_per_cycle must be at least 1")
	case !t.MinTradeSize.IsPositive():
		return fmt.Errorf("trading.min_trade_size must be positive")
	case t.MaxPositionSize.LessThan(t.MinTradeSize):
		return fmt.Errorf("trading.max_position_size must be at least min_trade_size")
	case !t.SizeFractionMin.IsPositive() || t.SizeFractionMax.LessThan(t.SizeFractionMin) || t.SizeFractionMax.GreaterThan(one):
		return fmt.Errorf("trading.size_fraction_min/max must satisfy 0 < min <= max <= 1")
	case t.AdmitProb < 0 || t.AdmitProb > 1:
		return fmt.Errorf("trading.admit_probability must be between 0 and 1")
	case t.LockInProb < 0 || t.LockInProb > 1:
		return fmt.Errorf("trading.lock_in_probability must be between 0 and 1")
	case !t.TakeProfitPct.IsPositive():
		return fmt.Errorf("trading.take_profit_pct must be positive")
	case !t.StopLossPct.IsNegative():
		return fmt.Errorf("trading.stop_loss_pct must be negative")
	case t.NearResolution.IsNegative() || t.NearResolution.GreaterThan(one):
		return fmt.Errorf("trading.near_resolution_price must be within [0,1]")
	case t.MinPrice.IsNegative() || !t.MinPrice.LessThan(t.MaxPrice) || t.MaxPrice.GreaterThan(one):
		return fmt.Errorf("trading.min_price/max_price must satisfy 0 <= min < max <= 1")
	case t.ScoreThreshold < 0:
		return fmt.Errorf("trading.score_threshold must not be negative")
	}
	return nil
}
