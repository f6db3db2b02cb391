package strategy

import (
	"fmt"
	"math"

	"stratwatch/internal/domain"
	"stratwatch/internal/domain/indicator"
)

// Confluence fires only when an MA crossing is confirmed by both RSI and
// the MACD histogram: buy needs RSI >= rsiBuy with hist > 0, sell needs
// RSI <= rsiSell with hist < 0.
type Confluence struct {
	fast      int
	slow      int
	rsiPeriod int
	rsiBuy    float64
	rsiSell   float64
	minBW     float64
	bbWindow  int
}

func NewConfluence(p Params) (*Confluence, error) {
	if p.Fast >= p.Slow {
		return nil, fmt.Errorf("confluence: fast %d must be < slow %d", p.Fast, p.Slow)
	}
	if !(0 < p.RSISell && p.RSISell < p.RSIBuy && p.RSIBuy < 100) {
		return nil, fmt.Errorf("confluence: rsi thresholds invalid (sell %.0f, buy %.0f)", p.RSISell, p.RSIBuy)
	}
	return &Confluence{
		fast:      p.Fast,
		slow:      p.Slow,
		rsiPeriod: p.RSIPeriod,
		rsiBuy:    p.RSIBuy,
		rsiSell:   p.RSISell,
		minBW:     p.MinBandwidth,
		bbWindow:  p.BBWindow,
	}, nil
}

func (s *Confluence) Name() string { return "confluence" }

func (s *Confluence) Generate(closes []float64) []domain.Signal {
	fastMA := indicator.SMA(closes, s.fast)
	slowMA := indicator.SMA(closes, s.slow)
	r := indicator.RSI(closes, s.rsiPeriod)
	_, _, hist := indicator.MACD(closes, 12, 26, 9)
	pass := bandwidthFilter(closes, s.minBW, s.bbWindow)

	var sigs []domain.Signal
	prevDiff := math.NaN()
	for i := range closes {
		f, sl := fastMA[i], slowMA[i]
		if !indicator.Defined(f) || !indicator.Defined(sl) {
			continue
		}
		diff := f - sl
		if !pass(i) {
			prevDiff = diff
			continue
		}
		h, rv := hist[i], r[i]
		if indicator.Defined(prevDiff) && indicator.Defined(h) && indicator.Defined(rv) {
			switch {
			case prevDiff <= 0 && diff > 0 && rv >= s.rsiBuy && h > 0:
				conf := s.confidence(diff, sl, rv-s.rsiBuy)
				sigs = append(sigs, domain.Signal{
					Index:      i,
					Kind:       domain.SignalBuy,
					Reason:     fmt.Sprintf("Confluence: MA%d/%d up + RSI %.1f + MACD>0 [conf %.0f%%]", s.fast, s.slow, rv, conf*100),
					Confidence: conf,
				})
			case prevDiff >= 0 && diff < 0 && rv <= s.rsiSell && h < 0:
				conf := s.confidence(diff, sl, s.rsiSell-rv)
				sigs = append(sigs, domain.Signal{
					Index:      i,
					Kind:       domain.SignalSell,
					Reason:     fmt.Sprintf("Confluence: MA%d/%d down + RSI %.1f + MACD<0 [conf %.0f%%]", s.fast, s.slow, rv, conf*100),
					Confidence: conf,
				})
			}
		}
		prevDiff = diff
	}
	return sigs
}

// confidence blends a fixed confirmation base with the MA gap and the RSI
// distance past its threshold.
func (s *Confluence) confidence(diff, slow, rsiDist float64) float64 {
	distMA := 0.0
	if slow != 0 {
		distMA = clamp01(math.Abs(diff) / slow)
	}
	distRSI := clamp01(rsiDist / 20.0)
	return clamp01(0.6 + 0.2*distMA + 0.2*distRSI)
}
