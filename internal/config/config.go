// Package config loads service configuration from defaults, an optional
// YAML file, a .env file and EDUFUND_* environment variables, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"edufund/internal/distribution"
	"edufund/internal/escrow"
	"edufund/internal/solana"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EDUFUND_"

// Config holds all application configuration.
type Config struct {
	HTTP         HTTPConfig         `yaml:"http" envPrefix:"HTTP_"`
	Log          LogConfig          `yaml:"log" envPrefix:"LOG_"`
	Storage      StorageConfig      `yaml:"storage" envPrefix:"STORAGE_"`
	Ledger       LedgerConfig       `yaml:"ledger" envPrefix:"LEDGER_"`
	Distribution DistributionConfig `yaml:"distribution" envPrefix:"DISTRIBUTION_"`
	Fees         FeesConfig         `yaml:"fees" envPrefix:"FEES_"`
	Monitor      MonitorConfig      `yaml:"monitor" envPrefix:"MONITOR_"`
}

type HTTPConfig struct {
	Addr           string        `yaml:"addr" env:"ADDR"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"` // per caller, 0 disables
	RateLimitBurst int           `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	CORSOrigins    []string      `yaml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"` // text | json
}

type StorageConfig struct {
	Backend          string `yaml:"backend" env:"BACKEND"` // memory | postgres
	PostgresDSN      string `yaml:"postgres_dsn" env:"POSTGRES_DSN"`
	PostgresMaxConns int32  `yaml:"postgres_max_conns" env:"POSTGRES_MAX_CONNS"`
	Journal          string `yaml:"journal" env:"JOURNAL"` // memory | postgres | clickhouse
	ClickhouseDSN    string `yaml:"clickhouse_dsn" env:"CLICKHOUSE_DSN"`
	MigrateOnStart   bool   `yaml:"migrate_on_start" env:"MIGRATE_ON_START"`
}

type LedgerConfig struct {
	Kind                string        `yaml:"kind" env:"KIND"` // stub | solana | evm
	RPCEndpoint         string        `yaml:"rpc_endpoint" env:"RPC_ENDPOINT"`
	WSEndpoint          string        `yaml:"ws_endpoint" env:"WS_ENDPOINT"`
	VaultKey            string        `yaml:"vault_key" env:"VAULT_KEY"`         // solana: base58 secret key
	VaultAddress        string        `yaml:"vault_address" env:"VAULT_ADDRESS"` // evm and stub
	Commitment          string        `yaml:"commitment" env:"COMMITMENT"`
	RPS                 float64       `yaml:"rps" env:"RPS"`
	MaxRetries          int           `yaml:"max_retries" env:"MAX_RETRIES"`
	TransferTimeout     time.Duration `yaml:"transfer_timeout" env:"TRANSFER_TIMEOUT"`
	ConfirmTimeout      time.Duration `yaml:"confirm_timeout" env:"CONFIRM_TIMEOUT"`
	ConfirmPollInterval time.Duration `yaml:"confirm_poll_interval" env:"CONFIRM_POLL_INTERVAL"`
	StubBalance         string        `yaml:"stub_balance" env:"STUB_BALANCE"`
}

type DistributionConfig struct {
	FailurePolicy string        `yaml:"failure_policy" env:"FAILURE_POLICY"`
	LeaseTTL      time.Duration `yaml:"lease_ttl" env:"LEASE_TTL"`
	ShareDecimals int32         `yaml:"share_decimals" env:"SHARE_DECIMALS"`
}

type FeesConfig struct {
	PlatformFeeBps int64 `yaml:"platform_fee_bps" env:"PLATFORM_FEE_BPS"`
}

type MonitorConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Schedule string `yaml:"schedule" env:"SCHEDULE"`
}

// Default returns the configuration of a local single-process deployment:
// in-memory storage and the stub ledger.
func Default() *Config {
	dist := distribution.DefaultConfig()
	return &Config{
		HTTP: HTTPConfig{
			Addr:           ":8080",
			RateLimitRPS:   20,
			RateLimitBurst: 40,
			CORSOrigins:    []string{"*"},
			RequestTimeout: 2 * time.Minute,
			MaxBodyBytes:   1 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Backend:          "memory",
			PostgresMaxConns: 10,
			Journal:          "memory",
		},
		Ledger: LedgerConfig{
			Kind:                "stub",
			VaultAddress:        "vault",
			Commitment:          string(solana.CommitmentConfirmed),
			RPS:                 10,
			MaxRetries:          3,
			TransferTimeout:     dist.TransferTimeout,
			ConfirmTimeout:      60 * time.Second,
			ConfirmPollInterval: solana.DefaultPollInterval,
			StubBalance:         "1000000",
		},
		Distribution: DistributionConfig{
			FailurePolicy: string(dist.FailurePolicy),
			LeaseTTL:      dist.LeaseTTL,
			ShareDecimals: dist.ShareDecimals,
		},
		Fees: FeesConfig{
			PlatformFeeBps: 500,
		},
		Monitor: MonitorConfig{
			Enabled:  true,
			Schedule: escrow.DefaultSchedule,
		},
	}
}

// Load builds the configuration. path may be empty. A .env file in the
// working directory is loaded first without overriding variables that are
// already set.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown enum values and missing settings the selected
// backends need.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.HTTP.Addr == "" {
		add("http.addr is required")
	}
	if c.HTTP.RateLimitRPS < 0 || (c.HTTP.RateLimitRPS > 0 && c.HTTP.RateLimitBurst < 1) {
		add("http.rate_limit_burst must be at least 1 when rate limiting is enabled")
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		add("http.max_body_bytes must be positive")
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		add("log.format must be text or json, got %q", c.Log.Format)
	}

	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			add("storage.postgres_dsn is required for the postgres backend")
		}
	default:
		add("storage.backend must be memory or postgres, got %q", c.Storage.Backend)
	}
	switch c.Storage.Journal {
	case "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			add("storage.postgres_dsn is required for the postgres journal")
		}
	case "clickhouse":
		if c.Storage.ClickhouseDSN == "" {
			add("storage.clickhouse_dsn is required for the clickhouse journal")
		}
	default:
		add("storage.journal must be memory, postgres or clickhouse, got %q", c.Storage.Journal)
	}

	switch c.Ledger.Kind {
	case "stub":
		if _, err := decimal.NewFromString(c.Ledger.StubBalance); err != nil {
			add("ledger.stub_balance: %v", err)
		}
	case "solana":
		if c.Ledger.RPCEndpoint == "" {
			add("ledger.rpc_endpoint is required for solana")
		}
		if c.Ledger.VaultKey == "" {
			add("ledger.vault_key is required for solana")
		}
		if _, err := solana.ParseCommitment(c.Ledger.Commitment); err != nil {
			add("ledger.commitment: %v", err)
		}
	case "evm":
		if c.Ledger.RPCEndpoint == "" {
			add("ledger.rpc_endpoint is required for evm")
		}
		if c.Ledger.VaultAddress == "" {
			add("ledger.vault_address is required for evm")
		}
	default:
		add("ledger.kind must be stub, solana or evm, got %q", c.Ledger.Kind)
	}
	if c.Ledger.TransferTimeout <= 0 {
		add("ledger.transfer_timeout must be positive")
	}

	if _, err := distribution.ParseFailurePolicy(c.Distribution.FailurePolicy); err != nil {
		add("distribution.failure_policy: %v", err)
	}
	if c.Distribution.ShareDecimals < 0 || c.Distribution.ShareDecimals > 18 {
		add("distribution.share_decimals must be within [0, 18]")
	}
	if c.Distribution.LeaseTTL <= 0 {
		add("distribution.lease_ttl must be positive")
	}

	if c.Fees.PlatformFeeBps < 0 || c.Fees.PlatformFeeBps > 10_000 {
		add("fees.platform_fee_bps must be within [0, 10000]")
	}

	return errors.Join(errs...)
}

// DistributionEngineConfig maps the distribution and ledger sections onto
// the engine settings.
func (c *Config) DistributionEngineConfig() distribution.Config {
	policy, _ := distribution.ParseFailurePolicy(c.Distribution.FailurePolicy)
	return distribution.Config{
		FailurePolicy:   policy,
		LeaseTTL:        c.Distribution.LeaseTTL,
		TransferTimeout: c.Ledger.TransferTimeout,
		ShareDecimals:   c.Distribution.ShareDecimals,
	}
}
