package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratwatch/internal/domain"
)

func TestRunNoSignalsHoldsCash(t *testing.T) {
	closes := []float64{10, 11, 12, 13}
	res := Run(closes, nil, 10000)
	require.Len(t, res.EquityCurve, 4)
	assert.InDelta(t, 10000, res.FinalEquity, 1e-9)
	assert.InDelta(t, 0, res.TotalReturn, 1e-9)
	assert.Equal(t, 0, res.TradeStats.Count)
}

func TestRunBuyThenSell(t *testing.T) {
	closes := []float64{10, 10, 20, 20}
	sigs := []domain.Signal{
		{Index: 1, Kind: domain.SignalBuy},
		{Index: 2, Kind: domain.SignalSell},
	}
	res := Run(closes, sigs, 10000)
	// Buy 1000 shares at 10, sell at 20.
	assert.InDelta(t, 20000, res.FinalEquity, 1e-9)
	assert.InDelta(t, 1.0, res.TotalReturn, 1e-9)
	assert.Equal(t, 1, res.TradeStats.Count)
	assert.Equal(t, 1, res.TradeStats.Winners)
	assert.InDelta(t, 1.0, res.TradeStats.WinRate, 1e-9)
	assert.InDelta(t, 1.0, res.TradeStats.AvgReturn, 1e-9)
}

func TestRunIgnoresRedundantSignals(t *testing.T) {
	closes := []float64{10, 10, 10, 20}
	sigs := []domain.Signal{
		{Index: 0, Kind: domain.SignalSell}, // flat: no-op
		{Index: 1, Kind: domain.SignalBuy},
		{Index: 2, Kind: domain.SignalBuy}, // already long: no-op
	}
	res := Run(closes, sigs, 1000)
	assert.InDelta(t, 2000, res.FinalEquity, 1e-9)
}

func TestRunEquityMarkedToMarket(t *testing.T) {
	closes := []float64{10, 15, 5}
	sigs := []domain.Signal{{Index: 0, Kind: domain.SignalBuy}}
	res := Run(closes, sigs, 100)
	require.Len(t, res.EquityCurve, 3)
	assert.InDelta(t, 100, res.EquityCurve[0], 1e-9)
	assert.InDelta(t, 150, res.EquityCurve[1], 1e-9)
	assert.InDelta(t, 50, res.EquityCurve[2], 1e-9)
}

func TestEquityMetricsDrawdown(t *testing.T) {
	equity := []float64{100, 120, 60, 90, 130}
	m := equityMetrics(equity)
	assert.InDelta(t, -0.5, m.MaxDrawdown, 1e-9)
	assert.Equal(t, 1, m.MaxDrawdownStart)
	assert.Equal(t, 2, m.MaxDrawdownEnd)
	assert.Greater(t, m.AnnVol, 0.0)
}

func TestEquityMetricsShortCurve(t *testing.T) {
	m := equityMetrics([]float64{100})
	assert.Zero(t, m.AnnReturn)
	assert.Zero(t, m.AnnVol)
	assert.Zero(t, m.Sharpe)
	assert.Equal(t, -1, m.MaxDrawdownStart)
	assert.Equal(t, -1, m.MaxDrawdownEnd)
}

func TestRunSignalsOutOfOrder(t *testing.T) {
	closes := []float64{10, 10, 20, 20}
	sigs := []domain.Signal{
		{Index: 2, Kind: domain.SignalSell},
		{Index: 1, Kind: domain.SignalBuy},
	}
	res := Run(closes, sigs, 10000)
	assert.InDelta(t, 20000, res.FinalEquity, 1e-9)
}
