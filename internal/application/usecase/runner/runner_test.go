package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratwatch/internal/domain"
	"stratwatch/internal/domain/strategy"
)

type recordingSink struct {
	titles []string
}

func (r *recordingSink) Send(title, message, level string) bool {
	r.titles = append(r.titles, title)
	return true
}

type denyGate struct{ allowed bool }

func (g denyGate) Allow(level, code string) bool { return g.allowed }

// crossingSeries ends with a fast/slow SMA crossing on the final bar so a
// fresh ma_cross signal fires.
func crossingSeries(symbol string) domain.Series {
	closes := make([]float64, 0, 60)
	for i := 0; i < 40; i++ {
		closes = append(closes, 100-float64(i))
	}
	for i := 0; i < 20; i++ {
		closes = append(closes, 60+float64(i)*4)
	}
	s := domain.Series{Symbol: symbol, Interval: domain.IntervalDaily}
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		s.Bars = append(s.Bars, domain.PriceBar{Time: base.AddDate(0, 0, i), Close: c})
	}
	return s
}

// lastBarSignalIndex finds a close sequence whose last bar carries a
// signal for the given generator, by truncating the crossing series.
func seriesWithFreshSignal(t *testing.T, symbol string) domain.Series {
	t.Helper()
	full := crossingSeries(symbol)
	gen, err := strategy.New("ma_cross", strategy.Params{Fast: 5, Slow: 15})
	require.NoError(t, err)
	closes := full.Closes()
	sigs := gen.Generate(closes)
	require.NotEmpty(t, sigs, "fixture must produce at least one crossing")
	cut := sigs[len(sigs)-1].Index + 1
	full.Bars = full.Bars[:cut]
	return full
}

func fixedSeries(series map[string]domain.Series) SeriesFunc {
	return func(_ context.Context, symbol string, _ domain.Interval, _ bool) domain.Series {
		return series[symbol]
	}
}

func newTestService(t *testing.T, deps Deps) *Service {
	t.Helper()
	return NewService(Config{
		Enabled:  true,
		Interval: time.Minute,
		Strategy: "ma_cross",
		Params:   strategy.Params{Fast: 5, Slow: 15},
	}, deps)
}

func TestRunOnceEmitsFreshSignalOnce(t *testing.T) {
	sink := &recordingSink{}
	var handled []string
	series := map[string]domain.Series{"AAPL": seriesWithFreshSignal(t, "AAPL")}

	svc := newTestService(t, Deps{
		Series:   fixedSeries(series),
		Universe: func() []string { return []string{"AAPL"} },
		Sink:     sink,
		OnSignal: func(_ context.Context, symbol string, _ domain.Signal) {
			handled = append(handled, symbol)
		},
	})

	report := svc.RunOnce(context.Background())
	assert.Contains(t, report, "checked=1")
	require.Len(t, sink.titles, 1)
	assert.Contains(t, sink.titles[0], "AAPL")
	assert.Equal(t, []string{"AAPL"}, handled)

	// Same bar index again: deduplicated, no new alert.
	svc.RunOnce(context.Background())
	assert.Len(t, sink.titles, 1)
	assert.Len(t, handled, 1)
}

func TestRunOnceSkipsShortSeries(t *testing.T) {
	sink := &recordingSink{}
	short := domain.Series{Symbol: "AAPL", Interval: domain.IntervalDaily}
	for i := 0; i < 10; i++ {
		short.Bars = append(short.Bars, domain.PriceBar{Close: float64(100 + i)})
	}
	svc := newTestService(t, Deps{
		Series:   fixedSeries(map[string]domain.Series{"AAPL": short}),
		Universe: func() []string { return []string{"AAPL"} },
		Sink:     sink,
	})

	report := svc.RunOnce(context.Background())
	assert.Contains(t, report, "checked=0")
	assert.Empty(t, sink.titles)
}

func TestRunOnceEmptyUniverse(t *testing.T) {
	svc := newTestService(t, Deps{
		Series:   fixedSeries(nil),
		Universe: func() []string { return nil },
	})
	assert.Equal(t, "No symbols to evaluate.", svc.RunOnce(context.Background()))
	assert.Equal(t, "No symbols to evaluate.", svc.LastReport())
}

func TestRunOnceCapsUniverse(t *testing.T) {
	var requested int
	svc := newTestService(t, Deps{
		Series: func(_ context.Context, _ string, _ domain.Interval, _ bool) domain.Series {
			requested++
			return domain.Series{}
		},
		Universe: func() []string {
			out := make([]string, 80)
			for i := range out {
				out[i] = "SYM" + string(rune('A'+i%26))
			}
			return out
		},
	})
	svc.RunOnce(context.Background())
	assert.Equal(t, 50, requested)
}

func TestRunOnceGateSuppressesAlertButNotExecution(t *testing.T) {
	sink := &recordingSink{}
	var handled int
	series := map[string]domain.Series{"AAPL": seriesWithFreshSignal(t, "AAPL")}

	svc := newTestService(t, Deps{
		Series:   fixedSeries(series),
		Universe: func() []string { return []string{"AAPL"} },
		Sink:     sink,
		Gate:     denyGate{allowed: false},
		OnSignal: func(context.Context, string, domain.Signal) { handled++ },
	})

	svc.RunOnce(context.Background())
	assert.Empty(t, sink.titles)
	assert.Equal(t, 1, handled)
}

func TestRunOnceReportIncludesStatusSummary(t *testing.T) {
	svc := newTestService(t, Deps{
		Series:   fixedSeries(nil),
		Universe: func() []string { return []string{"AAPL"} },
		Status:   staticStatus("AutoTrade[paper] enabled=true"),
	})
	report := svc.RunOnce(context.Background())
	assert.Contains(t, report, "AutoTrade[paper]")
}

type staticStatus string

func (s staticStatus) Summary() string { return string(s) }

func TestStartStop(t *testing.T) {
	var runs int
	done := make(chan struct{}, 1)
	svc := NewService(Config{Enabled: true, Interval: 20 * time.Second, Strategy: "ma_cross"}, Deps{
		Series: func(_ context.Context, _ string, _ domain.Interval, _ bool) domain.Series {
			return domain.Series{}
		},
		Universe: func() []string {
			runs++
			select {
			case done <- struct{}{}:
			default:
			}
			return nil
		},
	})

	svc.Start(context.Background())
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner never evaluated")
	}
	svc.Stop()
	after := runs

	// No further passes after Stop.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, runs)

	// Stop again is a no-op.
	svc.Stop()
}
