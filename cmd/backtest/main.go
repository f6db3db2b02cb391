package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"stratwatch/internal/application/port"
	"stratwatch/internal/domain"
	"stratwatch/internal/domain/backtest"
	"stratwatch/internal/domain/strategy"
	"stratwatch/internal/infrastructure/config"
	"stratwatch/internal/infrastructure/gateway"
	"stratwatch/internal/infrastructure/logger"
	"stratwatch/internal/infrastructure/provider/alphavantage"
	"stratwatch/internal/infrastructure/provider/yahoo"
	sqlitestore "stratwatch/internal/infrastructure/storage/sqlite"
)

func main() {
	logger.Setup("warn")

	csvPath := flag.String("csv", "", "CSV file with close prices (last column per row)")
	symbol := flag.String("symbol", "", "fetch daily closes for this symbol instead of reading a CSV")
	configPath := flag.String("config", "configs/config.toml", "config for provider access with -symbol")
	name := flag.String("strategy", "ma_cross", "ma_cross | rsi | confluence")
	fast := flag.Int("fast", 10, "fast MA window")
	slow := flag.Int("slow", 30, "slow MA window")
	rsiPeriod := flag.Int("rsi-period", 14, "RSI lookback")
	minBW := flag.Float64("min-bw", 0, "minimum Bollinger bandwidth percent, 0 disables the filter")
	bbWindow := flag.Int("bb-window", 20, "Bollinger window for the bandwidth filter")
	cash := flag.Float64("cash", 10000, "initial cash")
	asJSON := flag.Bool("json", false, "emit the result as JSON")
	flag.Parse()

	closes, err := loadCloses(*csvPath, *symbol, *configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	if len(closes) < 2 {
		fmt.Fprintln(os.Stderr, "error: not enough closes to backtest")
		os.Exit(1)
	}

	gen, err := strategy.New(*name, strategy.Params{
		Fast:         *fast,
		Slow:         *slow,
		RSIPeriod:    *rsiPeriod,
		MinBandwidth: *minBW,
		BBWindow:     *bbWindow,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	signals := gen.Generate(closes)
	result := backtest.Run(closes, signals, *cash)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}
	printReport(gen.Name(), len(closes), signals, result)
}

func loadCloses(csvPath, symbol, configPath string) ([]float64, error) {
	switch {
	case csvPath != "":
		return readCSVCloses(csvPath)
	case symbol != "":
		return fetchCloses(symbol, configPath)
	default:
		return nil, fmt.Errorf("one of -csv or -symbol is required")
	}
}

// readCSVCloses takes the last field of every row as a close price and
// skips rows that do not parse, so files with headers work unchanged.
func readCSVCloses(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	var closes []float64
	for _, rec := range records {
		if len(rec) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(rec[len(rec)-1], 64)
		if err != nil {
			continue
		}
		closes = append(closes, v)
	}
	return closes, nil
}

func fetchCloses(symbol, configPath string) ([]float64, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	db, err := sqlitestore.New(cfg.Storage.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	defer db.Close()

	var providers []port.Provider
	if cfg.Providers.AlphaVantage.Enabled {
		providers = append(providers, alphavantage.New(cfg.Providers.AlphaVantage.BaseURL, cfg.Providers.AlphaVantage.APIKey))
	}
	if cfg.Providers.Yahoo.Enabled {
		providers = append(providers, yahoo.New(cfg.Providers.Yahoo.BaseURL))
	}

	gw, err := gateway.New(db, gateway.Config{}, providers...)
	if err != nil {
		return nil, err
	}
	if err := gw.SetPrimary(cfg.Providers.Primary); err != nil {
		log.Warn().Err(err).Msg("primary provider not enabled, using first")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	series := gw.Series(ctx, symbol, domain.IntervalDaily, true)
	if !series.Valid() {
		return nil, fmt.Errorf("no data for %s", symbol)
	}
	return series.Closes(), nil
}

func printReport(name string, bars int, signals []domain.Signal, result backtest.Result) {
	fmt.Printf("strategy:      %s\n", name)
	fmt.Printf("bars:          %d\n", bars)
	fmt.Printf("signals:       %d\n", len(signals))
	fmt.Printf("round trips:   %d (win rate %.1f%%, avg %.2f%%)\n",
		result.TradeStats.Count, result.TradeStats.WinRate*100, result.TradeStats.AvgReturn*100)
	fmt.Printf("final equity:  %.2f\n", result.FinalEquity)
	fmt.Printf("total return:  %.2f%%\n", result.TotalReturn*100)
	fmt.Printf("annual return: %.2f%%\n", result.Metrics.AnnReturn*100)
	fmt.Printf("volatility:    %.2f%%\n", result.Metrics.AnnVol*100)
	fmt.Printf("sharpe:        %.2f\n", result.Metrics.Sharpe)
	fmt.Printf("max drawdown:  %.2f%% (bars %d..%d)\n",
		result.Metrics.MaxDrawdown*100, result.Metrics.MaxDrawdownStart, result.Metrics.MaxDrawdownEnd)
}
