package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for orderbridge.
type Config struct {
	Storage    Storage          `yaml:"storage"`
	Server     Server           `yaml:"server"`
	Alpaca     Alpaca           `yaml:"alpaca"`
	Logging    Logging          `yaml:"logging"`
	Broker     BrokerConfig     `yaml:"broker"`
	Engine     EngineConfig     `yaml:"engine"`
	Trading    TradingConfig    `yaml:"trading"`
	Commission CommissionConfig `yaml:"commission"`
}

// Storage holds paths for the order journal.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds the notification stream listener.
type Server struct {
	Host     string `yaml:"host"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Addr returns host:grpc_port.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort)
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BrokerConfig selects the venue.
type BrokerConfig struct {
	Name         string  `yaml:"name"` // "alpaca" or "simulator"
	UsePositions bool    `yaml:"use_positions"`
	SimCash      float64 `yaml:"sim_cash"`
}

// EngineConfig tunes the order engine's workers and reconciliation.
type EngineConfig struct {
	AccountRefresh  time.Duration `yaml:"account_refresh"`
	AccountWait     time.Duration `yaml:"account_wait"`
	PendingTTL      time.Duration `yaml:"pending_ttl"`
	MaxPending      int           `yaml:"max_pending"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	SubmitRetries   int           `yaml:"submit_retries"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
}

// TradingConfig defines risk and execution parameters.
type TradingConfig struct {
	MaxPositionPct  float64 `yaml:"max_position_pct"`
	MaxDailyLossPct float64 `yaml:"max_daily_loss_pct"`
	PaperMode       bool    `yaml:"paper_mode"`
}

// CommissionConfig selects the per-fill fee schedule.
type CommissionConfig struct {
	Scheme    string  `yaml:"scheme"` // none, fixed, tiered
	Fee       float64 `yaml:"fee"`
	FreeAbove float64 `yaml:"free_above"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 9090
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Broker.Name == "" {
		cfg.Broker.Name = "alpaca"
	}
	if cfg.Alpaca.BaseURL == "" && cfg.Trading.PaperMode {
		cfg.Alpaca.BaseURL = "https://paper-api.alpaca.markets"
	}
	if cfg.Engine.AccountRefresh == 0 {
		cfg.Engine.AccountRefresh = 10 * time.Second
	}
	if cfg.Engine.AccountWait == 0 {
		cfg.Engine.AccountWait = 10 * time.Second
	}
	if cfg.Engine.PendingTTL == 0 {
		cfg.Engine.PendingTTL = 5 * time.Minute
	}
	if cfg.Engine.RetryBaseDelay == 0 {
		cfg.Engine.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.Commission.Scheme == "" {
		cfg.Commission.Scheme = "none"
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ORDERBRIDGE_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("ORDERBRIDGE_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("ORDERBRIDGE_BROKER"); v != "" {
		cfg.Broker.Name = v
	}
	if v := os.Getenv("ORDERBRIDGE_GRPC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.GRPCPort = port
		}
	}
	if v := os.Getenv("ORDERBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	// Standard Alpaca env vars take precedence; the SDK reads the same names.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
