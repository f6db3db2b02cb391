package strategy

import (
	"fmt"

	"stratwatch/internal/domain"
	"stratwatch/internal/domain/indicator"
)

// RSIReversion buys oversold and sells overbought levels.
type RSIReversion struct {
	period   int
	low      float64
	high     float64
	minBW    float64
	bbWindow int
}

func NewRSIReversion(p Params) (*RSIReversion, error) {
	if p.RSILow >= p.RSIHigh {
		return nil, fmt.Errorf("rsi: low %.0f must be < high %.0f", p.RSILow, p.RSIHigh)
	}
	return &RSIReversion{
		period:   p.RSIPeriod,
		low:      p.RSILow,
		high:     p.RSIHigh,
		minBW:    p.MinBandwidth,
		bbWindow: p.BBWindow,
	}, nil
}

func (s *RSIReversion) Name() string { return "rsi" }

func (s *RSIReversion) Generate(closes []float64) []domain.Signal {
	r := indicator.RSI(closes, s.period)
	pass := bandwidthFilter(closes, s.minBW, s.bbWindow)

	var sigs []domain.Signal
	for i, v := range r {
		if !indicator.Defined(v) || !pass(i) {
			continue
		}
		switch {
		case v < s.low:
			conf := clamp01((s.low - v) / 20.0)
			sigs = append(sigs, domain.Signal{
				Index:      i,
				Kind:       domain.SignalBuy,
				Reason:     fmt.Sprintf("RSI %.1f < %.0f [conf %.0f%%]", v, s.low, conf*100),
				Confidence: conf,
			})
		case v > s.high:
			conf := clamp01((v - s.high) / 20.0)
			sigs = append(sigs, domain.Signal{
				Index:      i,
				Kind:       domain.SignalSell,
				Reason:     fmt.Sprintf("RSI %.1f > %.0f [conf %.0f%%]", v, s.high, conf*100),
				Confidence: conf,
			})
		}
	}
	return sigs
}
