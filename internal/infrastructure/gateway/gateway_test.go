package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratwatch/internal/application/port"
	"stratwatch/internal/domain"
)

type fakeProvider struct {
	name      string
	quotes    map[string]domain.Quote
	series    map[string]domain.Series
	err       error
	quoteCall int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	f.quoteCall++
	if f.err != nil {
		return domain.Quote{}, f.err
	}
	return f.quotes[symbol], nil
}

func (f *fakeProvider) Series(ctx context.Context, symbol string, interval domain.Interval, full bool) (domain.Series, error) {
	if f.err != nil {
		return domain.Series{}, f.err
	}
	return f.series[string(interval)+"|"+symbol], nil
}

type memCache struct {
	rows map[string][]byte
	at   map[string]time.Time
	now  time.Time
}

func newMemCache() *memCache {
	return &memCache{rows: map[string][]byte{}, at: map[string]time.Time{}, now: time.Now()}
}

func (c *memCache) key(ns, k string) string { return ns + "|" + k }

func (c *memCache) Set(_ context.Context, ns, k string, v []byte) error {
	c.rows[c.key(ns, k)] = v
	c.at[c.key(ns, k)] = c.now
	return nil
}

func (c *memCache) GetIfFresh(_ context.Context, ns, k string, maxAge time.Duration) ([]byte, error) {
	v, ok := c.rows[c.key(ns, k)]
	if !ok || c.now.Sub(c.at[c.key(ns, k)]) > maxAge {
		return nil, nil
	}
	return v, nil
}

func (c *memCache) GetAny(_ context.Context, ns, k string) ([]byte, error) {
	return c.rows[c.key(ns, k)], nil
}

func (c *memCache) Delete(_ context.Context, ns, k string) error {
	delete(c.rows, c.key(ns, k))
	return nil
}

func (c *memCache) ClearNamespace(context.Context, string) error          { return nil }
func (c *memCache) PurgeOlderThan(context.Context, time.Duration) (int, error) { return 0, nil }
func (c *memCache) PurgeNamespaceOverflow(context.Context, string, int) (int, error) {
	return 0, nil
}
func (c *memCache) Vacuum(context.Context) error { return nil }
func (c *memCache) Stats(context.Context) (port.CacheStats, error) {
	return port.CacheStats{Total: len(c.rows)}, nil
}
func (c *memCache) Close() error { return nil }

var _ port.CacheStore = (*memCache)(nil)

func validQuote(symbol string, price float64) domain.Quote {
	return domain.Quote{Symbol: symbol, Price: price, AsOf: time.Now()}
}

func validSeries(symbol string, interval domain.Interval, n int) domain.Series {
	s := domain.Series{Symbol: symbol, Interval: interval}
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		s.Bars = append(s.Bars, domain.PriceBar{Time: base.AddDate(0, 0, i), Close: 100 + float64(i)})
	}
	return s
}

func TestQuotePrefersPrimary(t *testing.T) {
	primary := &fakeProvider{name: "alpha", quotes: map[string]domain.Quote{"AAPL": validQuote("AAPL", 190)}}
	fallback := &fakeProvider{name: "yahoo", quotes: map[string]domain.Quote{"AAPL": validQuote("AAPL", 189)}}
	g, err := New(newMemCache(), Config{}, primary, fallback)
	require.NoError(t, err)

	q := g.Quote(context.Background(), "AAPL")
	assert.InDelta(t, 190, q.Price, 1e-9)
	assert.Zero(t, fallback.quoteCall)
	assert.Equal(t, 1, g.Metrics().QuotePrimary)
}

func TestQuoteFallsBackOnInvalidPrimary(t *testing.T) {
	primary := &fakeProvider{name: "alpha", quotes: map[string]domain.Quote{}}
	fallback := &fakeProvider{name: "yahoo", quotes: map[string]domain.Quote{"AAPL": validQuote("AAPL", 189)}}
	g, err := New(newMemCache(), Config{}, primary, fallback)
	require.NoError(t, err)

	q := g.Quote(context.Background(), "AAPL")
	assert.InDelta(t, 189, q.Price, 1e-9)
	assert.Equal(t, 1, g.Metrics().QuoteFallback)
}

func TestQuoteSuffixRetryOnFallback(t *testing.T) {
	primary := &fakeProvider{name: "alpha", err: errors.New("down")}
	fallback := &fakeProvider{name: "yahoo", quotes: map[string]domain.Quote{"SHOP.TO": validQuote("SHOP.TO", 95)}}
	g, err := New(newMemCache(), Config{}, primary, fallback)
	require.NoError(t, err)

	q := g.Quote(context.Background(), "SHOP")
	require.True(t, q.Valid())
	// Result is keyed back to the requested symbol.
	assert.Equal(t, "SHOP", q.Symbol)
	assert.InDelta(t, 95, q.Price, 1e-9)
}

func TestQuoteStaleCacheWhenAllProvidersFail(t *testing.T) {
	cache := newMemCache()
	primary := &fakeProvider{name: "alpha", quotes: map[string]domain.Quote{"AAPL": validQuote("AAPL", 190)}}
	g, err := New(cache, Config{MemoQuoteTTL: time.Nanosecond}, primary)
	require.NoError(t, err)

	require.True(t, g.Quote(context.Background(), "AAPL").Valid())

	// Cache entry ages past freshness, provider starts failing.
	cache.now = cache.now.Add(time.Hour)
	primary.err = errors.New("down")

	q := g.Quote(context.Background(), "AAPL")
	assert.True(t, q.Valid())
	assert.InDelta(t, 190, q.Price, 1e-9)
	assert.Equal(t, 1, g.Metrics().QuoteStale)
}

func TestQuoteEmptyWhenNothingAvailable(t *testing.T) {
	primary := &fakeProvider{name: "alpha", err: errors.New("down")}
	g, err := New(newMemCache(), Config{}, primary)
	require.NoError(t, err)

	q := g.Quote(context.Background(), "AAPL")
	assert.False(t, q.Valid())
	assert.Equal(t, 1, g.Metrics().QuoteEmpty)
}

func TestQuoteMemoHit(t *testing.T) {
	primary := &fakeProvider{name: "alpha", quotes: map[string]domain.Quote{"AAPL": validQuote("AAPL", 190)}}
	g, err := New(newMemCache(), Config{}, primary)
	require.NoError(t, err)

	g.Quote(context.Background(), "AAPL")
	g.Quote(context.Background(), "AAPL")
	assert.Equal(t, 1, primary.quoteCall)
	assert.Equal(t, 1, g.Metrics().QuoteMemoHit)
}

func TestSeriesDailyRetryForIntraday(t *testing.T) {
	primary := &fakeProvider{name: "alpha", err: errors.New("down")}
	fallback := &fakeProvider{name: "yahoo", series: map[string]domain.Series{
		"1day|AAPL": validSeries("AAPL", domain.IntervalDaily, 40),
	}}
	g, err := New(newMemCache(), Config{}, primary, fallback)
	require.NoError(t, err)

	s := g.Series(context.Background(), "AAPL", domain.Interval5Min, false)
	require.True(t, s.Valid())
	assert.Len(t, s.Bars, 40)
	assert.Equal(t, 1, g.Metrics().SeriesFallback)
}

func TestSeriesSingleProviderDailyRetryForIntraday(t *testing.T) {
	only := &fakeProvider{name: "yahoo", series: map[string]domain.Series{
		"1day|AAPL": validSeries("AAPL", domain.IntervalDaily, 40),
	}}
	g, err := New(newMemCache(), Config{}, only)
	require.NoError(t, err)

	// No intraday bars available anywhere; the sole provider must still
	// be retried at daily granularity.
	s := g.Series(context.Background(), "AAPL", domain.Interval5Min, false)
	require.True(t, s.Valid())
	assert.Len(t, s.Bars, 40)
}

func TestSeriesEmptyKeepsRequestedShape(t *testing.T) {
	primary := &fakeProvider{name: "alpha", err: errors.New("down")}
	g, err := New(newMemCache(), Config{}, primary)
	require.NoError(t, err)

	s := g.Series(context.Background(), "AAPL", domain.IntervalDaily, false)
	assert.False(t, s.Valid())
	assert.Equal(t, "AAPL", s.Symbol)
	assert.Equal(t, domain.IntervalDaily, s.Interval)
}

func TestSetPrimary(t *testing.T) {
	alpha := &fakeProvider{name: "alpha", quotes: map[string]domain.Quote{"AAPL": validQuote("AAPL", 190)}}
	yahoo := &fakeProvider{name: "yahoo", quotes: map[string]domain.Quote{"AAPL": validQuote("AAPL", 189)}}
	g, err := New(newMemCache(), Config{MemoQuoteTTL: time.Nanosecond, QuoteTTL: time.Nanosecond}, alpha, yahoo)
	require.NoError(t, err)

	assert.Equal(t, "alpha", g.Primary())
	require.NoError(t, g.SetPrimary("yahoo"))
	assert.Equal(t, "yahoo", g.Primary())
	assert.Error(t, g.SetPrimary("nope"))

	q := g.Quote(context.Background(), "AAPL")
	assert.InDelta(t, 189, q.Price, 1e-9)
}

func TestBreakerShortCircuitsFailingProvider(t *testing.T) {
	primary := &fakeProvider{name: "alpha", err: errors.New("down")}
	g, err := New(nil, Config{BreakerFailures: 3}, primary)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		g.Quote(context.Background(), "AAPL")
	}
	// After the threshold the breaker stops calls reaching the provider.
	assert.Equal(t, 3, primary.quoteCall)
	st := g.BreakerStats()["alpha"]
	assert.Equal(t, "OPEN", st.State)
}
