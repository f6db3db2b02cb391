package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	App struct {
		LogLevel string `toml:"log_level"`
	} `toml:"app"`

	Symbols struct {
		List []string `toml:"list"`
	} `toml:"symbols"`

	Storage struct {
		Backend string `toml:"backend"`

		SQLite struct {
			Path string `toml:"path"`
		} `toml:"sqlite"`

		Postgres struct {
			DSN string `toml:"dsn"`
		} `toml:"postgres"`

		Redis struct {
			Addr      string `toml:"addr"`
			Password  string `toml:"password"`
			DB        int    `toml:"db"`
			KeyPrefix string `toml:"key_prefix"`
		} `toml:"redis"`
	} `toml:"storage"`

	Providers struct {
		Primary string `toml:"primary"`

		AlphaVantage struct {
			Enabled bool   `toml:"enabled"`
			APIKey  string `toml:"api_key"`
			BaseURL string `toml:"base_url"`
		} `toml:"alphavantage"`

		Yahoo struct {
			Enabled bool   `toml:"enabled"`
			BaseURL string `toml:"base_url"`
		} `toml:"yahoo"`
	} `toml:"providers"`

	Gateway struct {
		QuoteTTLSec      int `toml:"quote_ttl_sec"`
		SeriesTTLSec     int `toml:"series_ttl_sec"`
		MemoQuoteTTLSec  int `toml:"memo_quote_ttl_sec"`
		MemoSeriesTTLSec int `toml:"memo_series_ttl_sec"`

		Breaker struct {
			FailureThreshold int `toml:"failure_threshold"`
			RecoverySec      int `toml:"recovery_sec"`
			HalfOpenMaxCalls int `toml:"half_open_max_calls"`
		} `toml:"breaker"`
	} `toml:"gateway"`

	Cache struct {
		MaxAgeDays    int `toml:"max_age_days"`
		MaxPerNs      int `toml:"max_per_namespace"`
		SweepEveryMin int `toml:"sweep_every_min"`
	} `toml:"cache"`

	Executor struct {
		Enabled             bool    `toml:"enabled"`
		Mode                string  `toml:"mode"`
		AccountID           string  `toml:"account_id"`
		BaseSize            float64 `toml:"base_size"`
		MaxTradesPerDay     *int    `toml:"max_trades_per_day"` // nil = default, 0 = unlimited
		MinTradeIntervalSec int     `toml:"min_trade_interval_sec"`
		SymbolCooldownSec   int     `toml:"symbol_cooldown_sec"`
		StartingCash        float64 `toml:"starting_cash"`
		MaxPositionNotional float64 `toml:"max_position_notional"`
		MaxPositionQty      float64 `toml:"max_position_qty"`
	} `toml:"executor"`

	Runner struct {
		Enabled     bool   `toml:"enabled"`
		IntervalSec int    `toml:"interval_sec"`
		Strategy    string `toml:"strategy"`

		Params struct {
			Fast         int     `toml:"fast"`
			Slow         int     `toml:"slow"`
			RSIPeriod    int     `toml:"rsi_period"`
			RSILow       float64 `toml:"rsi_low"`
			RSIHigh      float64 `toml:"rsi_high"`
			RSIBuy       float64 `toml:"rsi_buy"`
			RSISell      float64 `toml:"rsi_sell"`
			MinBandwidth float64 `toml:"min_bandwidth"`
			BBWindow     int     `toml:"bb_window"`
		} `toml:"params"`
	} `toml:"runner"`

	Alerts struct {
		MinIntervalSec int `toml:"min_interval_sec"`
	} `toml:"alerts"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "sqlite"
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "stratwatch.db"
	}
	if cfg.Storage.Redis.KeyPrefix == "" {
		cfg.Storage.Redis.KeyPrefix = "stratwatch"
	}
	if cfg.Providers.AlphaVantage.BaseURL == "" {
		cfg.Providers.AlphaVantage.BaseURL = "https://www.alphavantage.co"
	}
	if cfg.Providers.Yahoo.BaseURL == "" {
		cfg.Providers.Yahoo.BaseURL = "https://query1.finance.yahoo.com"
	}
	if cfg.Providers.Primary == "" {
		cfg.Providers.Primary = "alphavantage"
	}
	if cfg.Gateway.QuoteTTLSec <= 0 {
		cfg.Gateway.QuoteTTLSec = 60
	}
	if cfg.Gateway.SeriesTTLSec <= 0 {
		cfg.Gateway.SeriesTTLSec = 300
	}
	if cfg.Gateway.MemoQuoteTTLSec <= 0 {
		cfg.Gateway.MemoQuoteTTLSec = 5
	}
	if cfg.Gateway.MemoSeriesTTLSec <= 0 {
		cfg.Gateway.MemoSeriesTTLSec = 10
	}
	if cfg.Gateway.Breaker.FailureThreshold <= 0 {
		cfg.Gateway.Breaker.FailureThreshold = 5
	}
	if cfg.Gateway.Breaker.RecoverySec <= 0 {
		cfg.Gateway.Breaker.RecoverySec = 30
	}
	if cfg.Gateway.Breaker.HalfOpenMaxCalls <= 0 {
		cfg.Gateway.Breaker.HalfOpenMaxCalls = 2
	}
	if cfg.Cache.MaxAgeDays <= 0 {
		cfg.Cache.MaxAgeDays = 14
	}
	if cfg.Cache.MaxPerNs <= 0 {
		cfg.Cache.MaxPerNs = 500
	}
	if cfg.Cache.SweepEveryMin <= 0 {
		cfg.Cache.SweepEveryMin = 60
	}
	if cfg.Executor.Mode == "" {
		cfg.Executor.Mode = "paper"
	}
	if cfg.Executor.BaseSize <= 0 {
		cfg.Executor.BaseSize = 1000
	}
	if cfg.Executor.MaxTradesPerDay == nil {
		n := 10
		cfg.Executor.MaxTradesPerDay = &n
	} else if *cfg.Executor.MaxTradesPerDay < 0 {
		*cfg.Executor.MaxTradesPerDay = 0
	}
	if cfg.Executor.MinTradeIntervalSec <= 0 {
		cfg.Executor.MinTradeIntervalSec = 60
	}
	if cfg.Executor.SymbolCooldownSec <= 0 {
		cfg.Executor.SymbolCooldownSec = 900
	}
	if cfg.Executor.StartingCash <= 0 {
		cfg.Executor.StartingCash = 100000
	}
	if cfg.Runner.IntervalSec <= 0 {
		cfg.Runner.IntervalSec = 300
	}
	if cfg.Runner.Strategy == "" {
		cfg.Runner.Strategy = "ma_cross"
	}
	if cfg.Alerts.MinIntervalSec <= 0 {
		cfg.Alerts.MinIntervalSec = 30
	}
}

func validate(cfg *Config) error {
	cfg.Symbols.List = normalizeSymbols(cfg.Symbols.List)
	if len(cfg.Symbols.List) == 0 {
		return errors.New("symbols.list is empty")
	}

	switch cfg.Storage.Backend {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(cfg.Storage.Postgres.DSN) == "" {
			return errors.New("storage.postgres.dsn empty but backend is postgres")
		}
	case "redis":
		if strings.TrimSpace(cfg.Storage.Redis.Addr) == "" {
			return errors.New("storage.redis.addr empty but backend is redis")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", cfg.Storage.Backend)
	}

	if cfg.Providers.AlphaVantage.Enabled && strings.TrimSpace(cfg.Providers.AlphaVantage.APIKey) == "" {
		return errors.New("providers.alphavantage.api_key empty but enabled")
	}
	if !cfg.Providers.AlphaVantage.Enabled && !cfg.Providers.Yahoo.Enabled {
		return errors.New("no market data provider enabled")
	}

	switch cfg.Providers.Primary {
	case "alphavantage", "yahoo":
	default:
		return fmt.Errorf("unknown providers.primary %q", cfg.Providers.Primary)
	}

	switch cfg.Executor.Mode {
	case "paper", "live":
	default:
		return fmt.Errorf("unknown executor.mode %q", cfg.Executor.Mode)
	}

	switch cfg.Runner.Strategy {
	case "ma_cross", "rsi", "confluence":
	default:
		return fmt.Errorf("unknown runner.strategy %q", cfg.Runner.Strategy)
	}
	return nil
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
