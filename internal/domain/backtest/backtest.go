// Package backtest replays signals over a close sequence and scores the
// resulting equity curve. Long-only, full-position entries, no fees.
package backtest

import (
	"math"
	"sort"

	"stratwatch/internal/domain"
)

const periodsPerYear = 252

// Metrics summarizes an equity curve. Drawdown bounds are -1 when no
// drawdown occurred.
type Metrics struct {
	AnnReturn        float64 `json:"ann_return"`
	AnnVol           float64 `json:"ann_vol"`
	Sharpe           float64 `json:"sharpe"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	MaxDrawdownStart int     `json:"max_drawdown_start"`
	MaxDrawdownEnd   int     `json:"max_drawdown_end"`
}

// TradeStats aggregates round trips paired as buy-then-sell.
type TradeStats struct {
	Count     int     `json:"count"`
	Winners   int     `json:"winners"`
	WinRate   float64 `json:"win_rate"`
	AvgReturn float64 `json:"avg_return"`
}

// Result is the full backtest report.
type Result struct {
	InitialCash float64         `json:"initial_cash"`
	FinalEquity float64         `json:"final_equity"`
	TotalReturn float64         `json:"total_return"`
	EquityCurve []float64       `json:"equity_curve"`
	Trades      []domain.Signal `json:"trades"`
	Metrics     Metrics         `json:"metrics"`
	TradeStats  TradeStats      `json:"trade_stats"`
}

// Run enters a full position on each buy signal and exits on each sell,
// both at the bar close. Signals are processed in index order; buys while
// holding and sells while flat are ignored.
func Run(closes []float64, signals []domain.Signal, initialCash float64) Result {
	sorted := make([]domain.Signal, len(signals))
	copy(sorted, signals)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	cash := initialCash
	qty := 0.0
	curve := make([]float64, 0, len(closes))
	si := 0
	for i, close := range closes {
		for si < len(sorted) && sorted[si].Index == i {
			s := sorted[si]
			si++
			if close <= 0 {
				continue
			}
			switch {
			case s.Kind == domain.SignalBuy && qty == 0:
				qty = cash / close
				cash -= qty * close
			case s.Kind == domain.SignalSell && qty > 0:
				cash += qty * close
				qty = 0
			}
		}
		curve = append(curve, cash+qty*close)
	}

	res := Result{
		InitialCash: initialCash,
		FinalEquity: initialCash,
		EquityCurve: curve,
		Trades:      sorted,
		Metrics:     equityMetrics(curve),
		TradeStats:  tradeStats(closes, sorted),
	}
	if len(curve) > 0 {
		res.FinalEquity = curve[len(curve)-1]
		if initialCash > 0 {
			res.TotalReturn = res.FinalEquity/initialCash - 1
		}
	}
	return res
}

func equityMetrics(equity []float64) Metrics {
	m := Metrics{MaxDrawdownStart: -1, MaxDrawdownEnd: -1}
	if len(equity) < 2 {
		return m
	}
	var rets []float64
	for i := 1; i < len(equity); i++ {
		if equity[i-1] <= 0 {
			continue
		}
		rets = append(rets, equity[i]/equity[i-1]-1)
	}
	total := 1.0
	if equity[0] > 0 {
		total = equity[len(equity)-1] / equity[0]
	}
	if total > 0 {
		n := len(rets)
		if n < 1 {
			n = 1
		}
		m.AnnReturn = math.Pow(total, float64(periodsPerYear)/float64(n)) - 1
	}
	if len(rets) >= 2 {
		mean := 0.0
		for _, r := range rets {
			mean += r
		}
		mean /= float64(len(rets))
		variance := 0.0
		for _, r := range rets {
			d := r - mean
			variance += d * d
		}
		variance /= float64(len(rets) - 1)
		m.AnnVol = math.Sqrt(variance) * math.Sqrt(periodsPerYear)
	}
	if m.AnnVol > 1e-12 {
		m.Sharpe = m.AnnReturn / m.AnnVol
	}

	peak := equity[0]
	curStart := 0
	for i, v := range equity {
		if v > peak {
			peak = v
			curStart = i
		}
		dd := 0.0
		if peak > 0 {
			dd = v/peak - 1
		}
		if dd < m.MaxDrawdown {
			m.MaxDrawdown = dd
			m.MaxDrawdownStart = curStart
			m.MaxDrawdownEnd = i
		}
	}
	return m
}

// tradeStats pairs each buy with the next sell at their signal closes.
func tradeStats(closes []float64, sorted []domain.Signal) TradeStats {
	var st TradeStats
	inPrice := math.NaN()
	var perTrade []float64
	for _, s := range sorted {
		if s.Index < 0 || s.Index >= len(closes) {
			continue
		}
		px := closes[s.Index]
		if px <= 0 {
			continue
		}
		switch {
		case s.Kind == domain.SignalBuy && math.IsNaN(inPrice):
			inPrice = px
		case s.Kind == domain.SignalSell && !math.IsNaN(inPrice):
			perTrade = append(perTrade, px/inPrice-1)
			inPrice = math.NaN()
		}
	}
	if len(perTrade) == 0 {
		return st
	}
	st.Count = len(perTrade)
	sum := 0.0
	for _, r := range perTrade {
		if r > 0 {
			st.Winners++
		}
		sum += r
	}
	st.WinRate = float64(st.Winners) / float64(st.Count)
	st.AvgReturn = sum / float64(st.Count)
	return st
}
