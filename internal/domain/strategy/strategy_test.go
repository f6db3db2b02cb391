package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratwatch/internal/domain"
)

// vShape dips then recovers so a fast/slow crossing occurs on the way up.
func vShape(n int) []float64 {
	out := make([]float64, 0, n)
	for i := 0; i < n/2; i++ {
		out = append(out, 100-float64(i))
	}
	for i := 0; i < n-n/2; i++ {
		out = append(out, 100-float64(n/2)+float64(i)*1.5)
	}
	return out
}

func TestNewRejectsUnknownName(t *testing.T) {
	_, err := New("momentum", Params{})
	assert.Error(t, err)
}

func TestNewAppliesDefaults(t *testing.T) {
	g, err := New("ma_cross", Params{})
	require.NoError(t, err)
	assert.Equal(t, "ma_cross", g.Name())
}

func TestMACrossRejectsFastNotBelowSlow(t *testing.T) {
	_, err := NewMACross(Params{Fast: 30, Slow: 30}.Normalize())
	assert.Error(t, err)
	_, err = NewConfluence(Params{Fast: 40, Slow: 30}.Normalize())
	assert.Error(t, err)
}

func TestMACrossFiresOnCrossingOnly(t *testing.T) {
	closes := vShape(120)
	g, err := NewMACross(Params{Fast: 5, Slow: 15}.Normalize())
	require.NoError(t, err)
	sigs := g.Generate(closes)
	require.NotEmpty(t, sigs)

	// A monotonic ramp has no crossing after warm-up, so no signals.
	ramp := make([]float64, 120)
	for i := range ramp {
		ramp[i] = 100 + float64(i)
	}
	assert.Empty(t, g.Generate(ramp))

	for _, s := range sigs {
		assert.GreaterOrEqual(t, s.Confidence, 0.0)
		assert.LessOrEqual(t, s.Confidence, 1.0)
		assert.NotEmpty(t, s.Reason)
	}
}

func TestMACrossBandwidthFilterSuppresses(t *testing.T) {
	closes := vShape(120)
	loose, err := NewMACross(Params{Fast: 5, Slow: 15}.Normalize())
	require.NoError(t, err)
	strict, err := NewMACross(Params{Fast: 5, Slow: 15, MinBandwidth: 10.0}.Normalize())
	require.NoError(t, err)
	assert.NotEmpty(t, loose.Generate(closes))
	assert.Empty(t, strict.Generate(closes))
}

func TestRSIReversionThresholds(t *testing.T) {
	// Long slide drives RSI toward 0, then a rally drives it high.
	closes := make([]float64, 0, 80)
	for i := 0; i < 40; i++ {
		closes = append(closes, 200-float64(i)*2)
	}
	for i := 0; i < 40; i++ {
		closes = append(closes, 120+float64(i)*3)
	}
	g, err := NewRSIReversion(Params{}.Normalize())
	require.NoError(t, err)
	sigs := g.Generate(closes)
	require.NotEmpty(t, sigs)

	sawBuy, sawSell := false, false
	for _, s := range sigs {
		switch s.Kind {
		case domain.SignalBuy:
			sawBuy = true
		case domain.SignalSell:
			sawSell = true
		}
	}
	assert.True(t, sawBuy)
	assert.True(t, sawSell)
}

func TestRSIReversionRejectsInvertedThresholds(t *testing.T) {
	_, err := NewRSIReversion(Params{RSILow: 70, RSIHigh: 30}.Normalize())
	assert.Error(t, err)
}

func TestConfluenceRequiresAllConfirmations(t *testing.T) {
	closes := vShape(160)
	plain, err := NewMACross(Params{Fast: 5, Slow: 15}.Normalize())
	require.NoError(t, err)
	conf, err := NewConfluence(Params{Fast: 5, Slow: 15}.Normalize())
	require.NoError(t, err)

	// Confluence can only ever fire on a subset of the raw crossings.
	crossings := map[int]bool{}
	for _, s := range plain.Generate(closes) {
		crossings[s.Index] = true
	}
	for _, s := range conf.Generate(closes) {
		assert.True(t, crossings[s.Index], "confluence signal at %d has no crossing", s.Index)
		assert.GreaterOrEqual(t, s.Confidence, 0.6)
		assert.LessOrEqual(t, s.Confidence, 1.0)
	}
}
