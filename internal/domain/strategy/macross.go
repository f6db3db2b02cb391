package strategy

import (
	"fmt"
	"math"

	"stratwatch/internal/domain"
	"stratwatch/internal/domain/indicator"
)

// MACross fires on fast/slow SMA crossings: buy when the fast average
// crosses above the slow one, sell on the opposite crossing.
type MACross struct {
	fast     int
	slow     int
	minBW    float64
	bbWindow int
}

func NewMACross(p Params) (*MACross, error) {
	if p.Fast >= p.Slow {
		return nil, fmt.Errorf("ma_cross: fast %d must be < slow %d", p.Fast, p.Slow)
	}
	return &MACross{fast: p.Fast, slow: p.Slow, minBW: p.MinBandwidth, bbWindow: p.BBWindow}, nil
}

func (s *MACross) Name() string { return "ma_cross" }

func (s *MACross) Generate(closes []float64) []domain.Signal {
	fastMA := indicator.SMA(closes, s.fast)
	slowMA := indicator.SMA(closes, s.slow)
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
		if indicator.Defined(prevDiff) {
			switch {
			case prevDiff <= 0 && diff > 0:
				conf := crossConfidence(diff, sl)
				sigs = append(sigs, domain.Signal{
					Index:      i,
					Kind:       domain.SignalBuy,
					Reason:     fmt.Sprintf("MA%d cross above MA%d [conf %.0f%%]", s.fast, s.slow, conf*100),
					Confidence: conf,
				})
			case prevDiff >= 0 && diff < 0:
				conf := crossConfidence(diff, sl)
				sigs = append(sigs, domain.Signal{
					Index:      i,
					Kind:       domain.SignalSell,
					Reason:     fmt.Sprintf("MA%d cross below MA%d [conf %.0f%%]", s.fast, s.slow, conf*100),
					Confidence: conf,
				})
			}
		}
		prevDiff = diff
	}
	return sigs
}

// crossConfidence scales with the gap between the averages relative to
// the slow average, capped at 1.
func crossConfidence(diff, slow float64) float64 {
	if slow == 0 {
		return 0
	}
	return clamp01(math.Abs(diff) / slow)
}
