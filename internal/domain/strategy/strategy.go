// Package strategy contains the signal generators. Generators are pure:
// they read a close sequence and emit index-anchored signals.
package strategy

import (
	"fmt"

	"stratwatch/internal/domain"
	"stratwatch/internal/domain/indicator"
)

// Generator produces signals from a close-price sequence.
type Generator interface {
	Name() string
	Generate(closes []float64) []domain.Signal
}

// Params carries every tunable a generator can use. Zero values fall back
// to the documented defaults via Normalize.
type Params struct {
	Fast         int     `json:"fast"`
	Slow         int     `json:"slow"`
	RSIPeriod    int     `json:"rsi_period"`
	RSILow       float64 `json:"rsi_low"`
	RSIHigh      float64 `json:"rsi_high"`
	RSIBuy       float64 `json:"rsi_buy"`
	RSISell      float64 `json:"rsi_sell"`
	MinBandwidth float64 `json:"min_bandwidth"`
	BBWindow     int     `json:"bb_window"`
}

// Normalize fills unset fields with defaults.
func (p Params) Normalize() Params {
	if p.Fast == 0 {
		p.Fast = 10
	}
	if p.Slow == 0 {
		p.Slow = 30
	}
	if p.RSIPeriod == 0 {
		p.RSIPeriod = 14
	}
	if p.RSILow == 0 {
		p.RSILow = 30
	}
	if p.RSIHigh == 0 {
		p.RSIHigh = 70
	}
	if p.RSIBuy == 0 {
		p.RSIBuy = 55
	}
	if p.RSISell == 0 {
		p.RSISell = 45
	}
	if p.BBWindow == 0 {
		p.BBWindow = 20
	}
	return p
}

// New builds a generator by name: "ma_cross", "rsi" or "confluence".
func New(name string, p Params) (Generator, error) {
	p = p.Normalize()
	switch name {
	case "ma_cross":
		return NewMACross(p)
	case "rsi":
		return NewRSIReversion(p)
	case "confluence":
		return NewConfluence(p)
	}
	return nil, fmt.Errorf("unknown strategy %q", name)
}

// bandwidthFilter suppresses signals in quiet markets. It returns a
// per-index pass function; when minBW is zero every index passes.
func bandwidthFilter(closes []float64, minBW float64, bbWindow int) func(i int) bool {
	if minBW <= 0 {
		return func(int) bool { return true }
	}
	upper, mid, lower := indicator.Bollinger(closes, bbWindow, 2.0)
	return func(i int) bool {
		bw := indicator.Bandwidth(upper[i], mid[i], lower[i])
		return indicator.Defined(bw) && bw >= minBW
	}
}

func clamp01(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
