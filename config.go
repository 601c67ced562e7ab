package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.yaml.in/yaml/v3"
)

const (
	RunModeOnce = "once"
	RunModeCron = "cron"
)

type Config struct {
	Environment string
	TZ          string
	RunMode     string
	WorkDir     string
	Store       StoreConfig
	Job         JobConfig
	Strategy    StrategyConfig
}

type StoreConfig struct {
	Driver string
	Path   string
}

type JobConfig struct {
	Name     string
	Schedule string
	// Command designates an external script to run instead of the built-in
	// strategy. Empty means the strategy is the job.
	Command string
	Args    []string
	// Timeout bounds a single invocation. Zero means no bound.
	Timeout time.Duration
	Secrets []SecretConfig
}

type SecretConfig struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

type StrategyConfig struct {
	CoinMarketCalBase   string
	CoinMarketCalAPIKey string
	BinanceURL          string
	TakeProfit          decimal.Decimal
	LookbackDays        int
	HoldDays            int
	PageLimit           int
}

// fileConfig is the shape of the optional lewis.yaml overlay. Values stay
// strings where the resolved Config uses richer types; Load parses them.
type fileConfig struct {
	Environment string `yaml:"environment"`
	TZ          string `yaml:"tz"`
	RunMode     string `yaml:"run_mode"`
	WorkDir     string `yaml:"work_dir"`
	Store       struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
	} `yaml:"store"`
	Job struct {
		Name     string         `yaml:"name"`
		Schedule string         `yaml:"schedule"`
		Command  string         `yaml:"command"`
		Args     []string       `yaml:"args"`
		Timeout  string         `yaml:"timeout"`
		Secrets  []SecretConfig `yaml:"secrets"`
	} `yaml:"job"`
	Strategy struct {
		CoinMarketCalBase string `yaml:"coinmarketcal_base"`
		BinanceURL        string `yaml:"binance_url"`
		TakeProfit        string `yaml:"take_profit"`
		LookbackDays      *int   `yaml:"lookback_days"`
		HoldDays          *int   `yaml:"hold_days"`
		PageLimit         *int   `yaml:"page_limit"`
	} `yaml:"strategy"`
}

func Load() (*Config, error) {
	// let's load the config from the .env file
	err := godotenv.Load()
	if err != nil {
		log.Printf("Error loading .env file: %v", err)
	}

	cfg := &Config{
		Environment: "development",
		TZ:          "Europe/Moscow",
		RunMode:     RunModeOnce,
		WorkDir:     ".",
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "lewis.db",
		},
		Job: JobConfig{
			Name:     "listing-strategy",
			Schedule: "0 0 9 * * *",
		},
		Strategy: StrategyConfig{
			CoinMarketCalBase: "https://developers.coinmarketcal.com/v1",
			BinanceURL:        "https://api.binance.com/api/v3/klines",
			TakeProfit:        decimal.RequireFromString("0.3"),
			LookbackDays:      7,
			HoldDays:          7,
			PageLimit:         75,
		},
	}

	path := os.Getenv("LEWIS_CONFIG")
	required := path != ""
	if path == "" {
		path = "lewis.yaml"
	}
	if err := applyFile(cfg, path, required); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFile overlays the yaml file at path. A missing file is skipped only
// when the operator did not name the path explicitly.
func applyFile(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setIf(&cfg.Environment, fc.Environment)
	setIf(&cfg.TZ, fc.TZ)
	setIf(&cfg.RunMode, fc.RunMode)
	setIf(&cfg.WorkDir, fc.WorkDir)
	setIf(&cfg.Store.Driver, fc.Store.Driver)
	setIf(&cfg.Store.Path, fc.Store.Path)
	setIf(&cfg.Job.Name, fc.Job.Name)
	setIf(&cfg.Job.Schedule, fc.Job.Schedule)
	setIf(&cfg.Job.Command, fc.Job.Command)
	if len(fc.Job.Args) > 0 {
		cfg.Job.Args = fc.Job.Args
	}
	if len(fc.Job.Secrets) > 0 {
		cfg.Job.Secrets = fc.Job.Secrets
	}
	if fc.Job.Timeout != "" {
		d, err := time.ParseDuration(fc.Job.Timeout)
		if err != nil {
			return fmt.Errorf("parse job.timeout %q: %w", fc.Job.Timeout, err)
		}
		cfg.Job.Timeout = d
	}
	setIf(&cfg.Strategy.CoinMarketCalBase, fc.Strategy.CoinMarketCalBase)
	setIf(&cfg.Strategy.BinanceURL, fc.Strategy.BinanceURL)
	if fc.Strategy.TakeProfit != "" {
		tp, err := decimal.NewFromString(fc.Strategy.TakeProfit)
		if err != nil {
			return fmt.Errorf("parse strategy.take_profit %q: %w", fc.Strategy.TakeProfit, err)
		}
		cfg.Strategy.TakeProfit = tp
	}
	if fc.Strategy.LookbackDays != nil {
		cfg.Strategy.LookbackDays = *fc.Strategy.LookbackDays
	}
	if fc.Strategy.HoldDays != nil {
		cfg.Strategy.HoldDays = *fc.Strategy.HoldDays
	}
	if fc.Strategy.PageLimit != nil {
		cfg.Strategy.PageLimit = *fc.Strategy.PageLimit
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.TZ = getEnv("TZ", cfg.TZ)
	cfg.RunMode = getEnv("RUN_MODE", cfg.RunMode)
	cfg.WorkDir = getEnv("WORK_DIR", cfg.WorkDir)
	cfg.Store.Driver = getEnv("STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.Path = getEnv("STORE_PATH", cfg.Store.Path)
	cfg.Job.Name = getEnv("JOB_NAME", cfg.Job.Name)
	cfg.Job.Schedule = getEnv("JOB_SCHEDULE", cfg.Job.Schedule)
	cfg.Job.Command = getEnv("JOB_COMMAND", cfg.Job.Command)
	if v := os.Getenv("JOB_ARGS"); v != "" {
		cfg.Job.Args = strings.Fields(v)
	}
	cfg.Strategy.CoinMarketCalBase = getEnv("COINMARKETCAL_BASE", cfg.Strategy.CoinMarketCalBase)
	cfg.Strategy.CoinMarketCalAPIKey = getEnv("COINMARKETCAL_API_KEY", cfg.Strategy.CoinMarketCalAPIKey)
	cfg.Strategy.BinanceURL = getEnv("BINANCE_URL", cfg.Strategy.BinanceURL)

	var err error
	if cfg.Job.Timeout, err = getEnvDuration("JOB_TIMEOUT", cfg.Job.Timeout); err != nil {
		return err
	}
	if cfg.Strategy.TakeProfit, err = getEnvDecimal("TAKE_PROFIT", cfg.Strategy.TakeProfit); err != nil {
		return err
	}
	if cfg.Strategy.LookbackDays, err = getEnvInt("LOOKBACK_DAYS", cfg.Strategy.LookbackDays); err != nil {
		return err
	}
	if cfg.Strategy.HoldDays, err = getEnvInt("HOLD_DAYS", cfg.Strategy.HoldDays); err != nil {
		return err
	}
	if cfg.Strategy.PageLimit, err = getEnvInt("PAGE_LIMIT", cfg.Strategy.PageLimit); err != nil {
		return err
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.RunMode {
	case RunModeOnce, RunModeCron:
	default:
		return fmt.Errorf("RUN_MODE must be %q or %q, got %q", RunModeOnce, RunModeCron, c.RunMode)
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("STORE_DRIVER must be sqlite or postgres, got %q", c.Store.Driver)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("STORE_PATH is required")
	}
	if c.TZ == "" {
		return fmt.Errorf("TZ is required")
	}
	if c.Job.Name == "" {
		return fmt.Errorf("JOB_NAME is required")
	}
	if c.RunMode == RunModeCron && c.Job.Schedule == "" {
		return fmt.Errorf("JOB_SCHEDULE is required in cron mode")
	}
	if c.Job.Timeout < 0 {
		return fmt.Errorf("JOB_TIMEOUT must not be negative")
	}
	if c.Job.Command == "" && c.Strategy.CoinMarketCalAPIKey == "" {
		return fmt.Errorf("COINMARKETCAL_API_KEY is required for the built-in strategy")
	}
	if !c.Strategy.TakeProfit.GreaterThan(decimal.NewFromInt(-1)) {
		return fmt.Errorf("TAKE_PROFIT must be greater than -1, got %s", c.Strategy.TakeProfit)
	}
	if c.Strategy.LookbackDays < 1 {
		return fmt.Errorf("LOOKBACK_DAYS must be at least 1")
	}
	if c.Strategy.HoldDays < 1 {
		return fmt.Errorf("HOLD_DAYS must be at least 1")
	}
	// The events API caps page size at 75; clamp like the upstream client.
	if c.Strategy.PageLimit < 1 {
		c.Strategy.PageLimit = 1
	}
	if c.Strategy.PageLimit > 75 {
		c.Strategy.PageLimit = 75
	}
	return nil
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", key, value, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", key, value, err)
	}
	return d, nil
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s %q: %w", key, value, err)
	}
	return d, nil
}
