package infra

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every runtime setting of the execution engine. Loaded from
// yaml, then overridden by environment variables.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Trading struct {
		Mode            string  `yaml:"mode"` // LIVE / PAPER / DEMO
		InitialEquity   float64 `yaml:"initial_equity"`
		AllowPyramiding bool    `yaml:"allow_pyramiding"`
	} `yaml:"trading"`

	Risk struct {
		MaxOpenPositions   int     `yaml:"max_open_positions"`
		MaxPositionSizePct float64 `yaml:"max_position_size_pct"`
		MaxDrawdownPct     float64 `yaml:"max_drawdown_pct"`
		MaxDailyLossPct    float64 `yaml:"max_daily_loss_pct"`
		BreakerCooldownMin int     `yaml:"breaker_cooldown_min"`
	} `yaml:"risk"`

	Monitor struct {
		TimeoutSec     int     `yaml:"timeout_sec"`
		MaxPolls       int     `yaml:"max_polls"`
		PollBurst      int     `yaml:"poll_burst"`
		PollsPerSecond float64 `yaml:"polls_per_second"`
	} `yaml:"monitor"`

	Feed struct {
		URL     string   `yaml:"url"`
		Symbols []string `yaml:"symbols"`
	} `yaml:"feed"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// DefaultConfig returns a runnable paper-mode configuration.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.App.Name = "strategy-engine"
	cfg.Trading.Mode = "PAPER"
	cfg.Trading.InitialEquity = 100000
	cfg.Risk.MaxOpenPositions = 10
	cfg.Risk.MaxPositionSizePct = 5.0
	cfg.Risk.MaxDrawdownPct = 10.0
	cfg.Risk.MaxDailyLossPct = 2.0
	cfg.Risk.BreakerCooldownMin = 60
	cfg.Monitor.TimeoutSec = 300
	cfg.Monitor.MaxPolls = 1000
	cfg.Monitor.PollBurst = 5
	cfg.Monitor.PollsPerSecond = 10
	cfg.Storage.Path = "engine.db"
	cfg.Metrics.Addr = "localhost:9090"
	cfg.Logging.Level = "info"
	return cfg
}

// LoadConfig reads the yaml file, applies .env and environment overrides,
// and validates the result.
func LoadConfig(path string) (*Config, error) {
	// Optional .env file; absence is not an error.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	switch c.Trading.Mode {
	case "LIVE", "PAPER", "DEMO":
	default:
		return fmt.Errorf("invalid trading mode: %s", c.Trading.Mode)
	}
	if c.Trading.InitialEquity <= 0 {
		return fmt.Errorf("initial equity must be positive")
	}
	if c.Risk.MaxOpenPositions <= 0 {
		return fmt.Errorf("max open positions must be positive")
	}
	if c.Monitor.TimeoutSec <= 0 {
		return fmt.Errorf("monitor timeout must be positive")
	}
	if c.Monitor.MaxPolls <= 0 {
		return fmt.Errorf("monitor max polls must be positive")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}
	return nil
}

// overrideWithEnv applies environment variables on top of file values.
// Environment always wins over the file.
func overrideWithEnv(cfg *Config) {
	if mode := os.Getenv("ENGINE_MODE"); mode != "" {
		cfg.Trading.Mode = mode
	}
	if eq := os.Getenv("ENGINE_INITIAL_EQUITY"); eq != "" {
		if f, err := strconv.ParseFloat(eq, 64); err == nil {
			cfg.Trading.InitialEquity = f
		}
	}
	if url := os.Getenv("ENGINE_FEED_URL"); url != "" {
		cfg.Feed.URL = url
	}
	if path := os.Getenv("ENGINE_DB_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if addr := os.Getenv("ENGINE_METRICS_ADDR"); addr != "" {
		cfg.Metrics.Addr = addr
	}
	if lvl := os.Getenv("ENGINE_LOG_LEVEL"); lvl != "" {
		cfg.Logging.Level = lvl
	}
}
