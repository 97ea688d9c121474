package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type NetworkConfig struct {
	// RPC endpoint for the network
	RPC string `yaml:"rpc"`

	// AgentPay contract address
	Contract string `yaml:"contract"`

	// Decimals of the payment token; prices on chain are base units
	TokenDecimals int32 `yaml:"token_decimals"`

	// First block scanned for PaymentProcessed events
	StartBlock uint64 `yaml:"start_block"`

	// How often the log filter is polled
	PollInterval time.Duration `yaml:"poll_interval"`
}

type StorageConfig struct {
	// "redis" or "sql"
	Driver string `yaml:"driver"`

	// Bound on every store call
	OpTimeout time.Duration `yaml:"op_timeout"`

	SQL SQLConfig `yaml:"sql"`
}

type SQLConfig struct {
	// "postgres" or "sqlite"
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type EscrowConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type PaymentConfig struct {
	CallTimeout time.Duration `yaml:"call_timeout"`

	// 0 disables model caching
	ModelCacheTTL time.Duration `yaml:"model_cache_ttl"`

	// Local cache size in bytes when redis is not the store
	LocalCacheSize int `yaml:"local_cache_size"`
}

type LedgerConfig struct {
	PaymentTTL time.Duration `yaml:"payment_ttl"`
}

type HTTPConfig struct {
	Port      int     `yaml:"port"`
	Host      string  `yaml:"host"`
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

type PaywallConfig struct {
	Enabled   bool   `yaml:"enabled"`
	ModelID   string `yaml:"model_id"`
	Price     string `yaml:"price"`
	Recipient string `yaml:"recipient"`
	Network   string `yaml:"network"`
}

type MetricConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Networks map[string]*NetworkConfig `yaml:"networks"`
	Storage  StorageConfig             `yaml:"storage"`
	Redis    RedisConfig               `yaml:"redis"`
	Escrow   EscrowConfig              `yaml:"escrow"`
	Payment  PaymentConfig             `yaml:"payment"`
	Ledger   LedgerConfig              `yaml:"ledger"`
	HTTP     HTTPConfig                `yaml:"http"`
	Paywall  PaywallConfig             `yaml:"paywall"`
	Metric   MetricConfig              `yaml:"metric"`
	Logging  LogConfig                 `yaml:"logging"`
}

// LoadConfig loads the configuration from the given file path. ${VAR}
// references are expanded from the environment before parsing.
func LoadConfig(path string) (*Config, error) {
	log.Info().Str("path", path).Msg("loading config")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	content := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	for _, n := range cfg.Networks {
		if n != nil && n.TokenDecimals == 0 {
			n.TokenDecimals = DefaultTokenDecimals
		}
		if n != nil && n.PollInterval == 0 {
			n.PollInterval = DefaultPollInterval
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks fields that have no usable default.
func (c *Config) Validate() error {
	for name, n := range c.Networks {
		if n == nil {
			return fmt.Errorf("network %s: empty section", name)
		}
		if n.RPC == "" {
			return fmt.Errorf("network %s: rpc is required", name)
		}
		if !common.IsHexAddress(n.Contract) {
			return fmt.Errorf("network %s: invalid contract address %q", name, n.Contract)
		}
		if n.TokenDecimals < 0 || n.TokenDecimals > 36 {
			return fmt.Errorf("network %s: token_decimals out of range", name)
		}
	}
	switch c.Storage.Driver {
	case "redis":
	case "sql":
		if c.Storage.SQL.Driver != "postgres" && c.Storage.SQL.Driver != "sqlite" {
			return fmt.Errorf("storage.sql.driver must be postgres or sqlite, got %q", c.Storage.SQL.Driver)
		}
		if c.Storage.SQL.DSN == "" {
			return fmt.Errorf("storage.sql.dsn is required")
		}
	default:
		return fmt.Errorf("storage.driver must be redis or sql, got %q", c.Storage.Driver)
	}
	if c.Escrow.SweepInterval <= 0 {
		return fmt.Errorf("escrow.sweep_interval must be positive")
	}
	if c.Paywall.Enabled {
		if c.Paywall.ModelID == "" || c.Paywall.Price == "" {
			return fmt.Errorf("paywall requires model_id and price")
		}
		if _, ok := c.Networks[c.Paywall.Network]; !ok {
			return fmt.Errorf("paywall network %q is not configured", c.Paywall.Network)
		}
	}
	return nil
}

const (
	DefaultTokenDecimals int32 = 6
	DefaultPollInterval        = 2 * time.Second
)

func DefaultConfig() *Config {
	return &Config{
		Networks: map[string]*NetworkConfig{},
		Storage: StorageConfig{
			Driver:    "redis",
			OpTimeout: 5 * time.Second,
			SQL: SQLConfig{
				Driver:          "sqlite",
				DSN:             "file:agentpayy.db",
				MaxOpenConns:    20,
				MaxIdleConns:    5,
				ConnMaxLifetime: time.Hour,
			},
		},
		Redis: RedisConfig{
			Host:     "127.0.0.1",
			Port:     6379,
			PoolSize: 50,
		},
		Escrow: EscrowConfig{
			SweepInterval: 30 * time.Second,
		},
		Payment: PaymentConfig{
			CallTimeout:    10 * time.Second,
			ModelCacheTTL:  30 * time.Second,
			LocalCacheSize: 16 * 1024 * 1024,
		},
		Ledger: LedgerConfig{
			PaymentTTL: 90 * 24 * time.Hour,
		},
		HTTP: HTTPConfig{
			Port:      8080,
			Host:      "0.0.0.0",
			RateLimit: 20,
			RateBurst: 40,
		},
		Metric: MetricConfig{
			Port: 4014,
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
