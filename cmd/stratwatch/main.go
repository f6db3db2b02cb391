package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"stratwatch/internal/application/port"
	"stratwatch/internal/application/usecase/runner"
	"stratwatch/internal/domain/service"
	"stratwatch/internal/domain/strategy"
	"stratwatch/internal/infrastructure/config"
	"stratwatch/internal/infrastructure/gateway"
	"stratwatch/internal/infrastructure/logger"
	"stratwatch/internal/infrastructure/provider/alphavantage"
	"stratwatch/internal/infrastructure/provider/yahoo"
	pgstore "stratwatch/internal/infrastructure/storage/postgres"
	redisstore "stratwatch/internal/infrastructure/storage/redis"
	sqlitestore "stratwatch/internal/infrastructure/storage/sqlite"
	"stratwatch/internal/interfaces/console"
)

// store is the persistence surface the app needs: cache plus ledger.
type store interface {
	port.CacheStore
	port.LedgerStore
}

func openStore(cfg *config.Config) (store, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		return pgstore.New(cfg.Storage.Postgres.DSN)
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		return redisstore.New(rdb, cfg.Storage.Redis.KeyPrefix), nil
	default:
		return sqlitestore.New(cfg.Storage.SQLite.Path)
	}
}

func main() {
	logger.Setup("info")

	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	logger.Setup(cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("open store failed")
	}
	defer db.Close()

	// providers (infrastructure -> application ports)
	var providers []port.Provider
	if cfg.Providers.AlphaVantage.Enabled {
		providers = append(providers, alphavantage.New(cfg.Providers.AlphaVantage.BaseURL, cfg.Providers.AlphaVantage.APIKey))
	} else {
		log.Warn().Msg("alphavantage disabled by config")
	}
	if cfg.Providers.Yahoo.Enabled {
		providers = append(providers, yahoo.New(cfg.Providers.Yahoo.BaseURL))
	} else {
		log.Warn().Msg("yahoo disabled by config")
	}

	gw, err := gateway.New(db, gateway.Config{
		QuoteTTL:           time.Duration(cfg.Gateway.QuoteTTLSec) * time.Second,
		SeriesTTL:          time.Duration(cfg.Gateway.SeriesTTLSec) * time.Second,
		MemoQuoteTTL:       time.Duration(cfg.Gateway.MemoQuoteTTLSec) * time.Second,
		MemoSeriesTTL:      time.Duration(cfg.Gateway.MemoSeriesTTLSec) * time.Second,
		BreakerFailures:    cfg.Gateway.Breaker.FailureThreshold,
		BreakerRecovery:    time.Duration(cfg.Gateway.Breaker.RecoverySec) * time.Second,
		BreakerHalfOpenMax: cfg.Gateway.Breaker.HalfOpenMaxCalls,
	}, providers...)
	if err != nil {
		log.Fatal().Err(err).Msg("gateway init failed")
	}
	if err := gw.SetPrimary(cfg.Providers.Primary); err != nil {
		log.Warn().Err(err).Msg("primary provider not enabled, using first")
	}

	exec, err := service.NewExecutor(ctx, service.ExecutorConfig{
		Enabled:             cfg.Executor.Enabled,
		Mode:                cfg.Executor.Mode,
		AccountID:           cfg.Executor.AccountID,
		BaseSize:            cfg.Executor.BaseSize,
		MaxTradesPerDay:     *cfg.Executor.MaxTradesPerDay,
		MinTradeInterval:    time.Duration(cfg.Executor.MinTradeIntervalSec) * time.Second,
		SymbolCooldown:      time.Duration(cfg.Executor.SymbolCooldownSec) * time.Second,
		StartingCash:        cfg.Executor.StartingCash,
		MaxPositionNotional: cfg.Executor.MaxPositionNotional,
		MaxPositionQty:      cfg.Executor.MaxPositionQty,
	}, gw.Quote, db)
	if err != nil {
		log.Fatal().Err(err).Msg("executor init failed")
	}

	svc := runner.NewService(runner.Config{
		Enabled:  cfg.Runner.Enabled,
		Interval: time.Duration(cfg.Runner.IntervalSec) * time.Second,
		Strategy: cfg.Runner.Strategy,
		Params: strategy.Params{
			Fast:         cfg.Runner.Params.Fast,
			Slow:         cfg.Runner.Params.Slow,
			RSIPeriod:    cfg.Runner.Params.RSIPeriod,
			RSILow:       cfg.Runner.Params.RSILow,
			RSIHigh:      cfg.Runner.Params.RSIHigh,
			RSIBuy:       cfg.Runner.Params.RSIBuy,
			RSISell:      cfg.Runner.Params.RSISell,
			MinBandwidth: cfg.Runner.Params.MinBandwidth,
			BBWindow:     cfg.Runner.Params.BBWindow,
		},
	}, runner.Deps{
		Series:   gw.Series,
		Universe: universeFunc(cfg.Symbols.List, exec),
		Sink:     console.NewSink(),
		Gate:     console.NewGate(time.Duration(cfg.Alerts.MinIntervalSec) * time.Second),
		OnSignal: exec.OnSignal,
		Status:   exec,
	})

	svc.Start(ctx)
	go housekeeping(ctx, db, cfg)

	log.Info().
		Str("config", *configPath).
		Str("backend", cfg.Storage.Backend).
		Str("primary", gw.Primary()).
		Int("symbols", len(cfg.Symbols.List)).
		Str("strategy", cfg.Runner.Strategy).
		Msg("stratwatch started")

	<-ctx.Done()
	svc.Stop()
}

// universeFunc merges the configured watchlist with currently held
// symbols so open positions keep getting evaluated for exits.
func universeFunc(watchlist []string, positions port.PositionReader) func() []string {
	return func() []string {
		out := make([]string, 0, len(watchlist))
		seen := map[string]struct{}{}
		for _, sym := range watchlist {
			seen[sym] = struct{}{}
			out = append(out, sym)
		}
		held, err := positions.Positions(context.Background())
		if err != nil {
			return out
		}
		for _, p := range held {
			if _, ok := seen[p.Symbol]; !ok {
				seen[p.Symbol] = struct{}{}
				out = append(out, p.Symbol)
			}
		}
		return out
	}
}

// housekeeping trims the persistent cache on an interval: expire old
// rows, cap per-namespace row counts, reclaim space.
func housekeeping(ctx context.Context, db store, cfg *config.Config) {
	interval := time.Duration(cfg.Cache.SweepEveryMin) * time.Minute
	maxAge := time.Duration(cfg.Cache.MaxAgeDays) * 24 * time.Hour
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		purged, err := db.PurgeOlderThan(ctx, maxAge)
		if err != nil {
			log.Warn().Err(err).Msg("cache purge failed")
			continue
		}
		for _, ns := range []string{"quote", "series"} {
			n, err := db.PurgeNamespaceOverflow(ctx, ns, cfg.Cache.MaxPerNs)
			if err != nil {
				log.Warn().Err(err).Str("namespace", ns).Msg("cache overflow purge failed")
				continue
			}
			purged += n
		}
		if purged > 0 {
			if err := db.Vacuum(ctx); err != nil {
				log.Warn().Err(err).Msg("vacuum failed")
			}
			log.Info().Int("purged", purged).Msg("cache sweep done")
		}
	}
}
