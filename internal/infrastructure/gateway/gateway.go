// Package gateway serves market data through a chain of providers with
// circuit breakers, a short-lived memo layer and a persistent cache.
//
// Lookup order: memo, persistent cache, primary provider, fallback
// providers (with listing-suffix retries), then stale cache. The gateway
// is fail-soft: when everything misses it returns a zero value the caller
// checks with Valid().
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"stratwatch/internal/application/port"
	"stratwatch/internal/domain"
	"stratwatch/internal/infrastructure/breaker"
)

// Suffixes tried on fallback providers after the bare symbol, covering
// Canadian listings that the primary provider resolves without one.
var defaultSuffixes = []string{"", ".TO", ".CN", ".NE"}

const (
	nsQuote  = "quote"
	nsSeries = "series"
)

type Config struct {
	QuoteTTL      time.Duration
	SeriesTTL     time.Duration
	MemoQuoteTTL  time.Duration
	MemoSeriesTTL time.Duration

	BreakerFailures    int
	BreakerRecovery    time.Duration
	BreakerHalfOpenMax int
}

func (c Config) withDefaults() Config {
	if c.QuoteTTL == 0 {
		c.QuoteTTL = 60 * time.Second
	}
	if c.SeriesTTL == 0 {
		c.SeriesTTL = 300 * time.Second
	}
	if c.MemoQuoteTTL == 0 {
		c.MemoQuoteTTL = 5 * time.Second
	}
	if c.MemoSeriesTTL == 0 {
		c.MemoSeriesTTL = 10 * time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerRecovery == 0 {
		c.BreakerRecovery = 30 * time.Second
	}
	if c.BreakerHalfOpenMax == 0 {
		c.BreakerHalfOpenMax = 2
	}
	return c
}

// Metrics counts where answers came from.
type Metrics struct {
	QuoteMemoHit    int `json:"quote_memo_hit"`
	QuoteCacheHit   int `json:"quote_cache_hit"`
	QuotePrimary    int `json:"quote_primary"`
	QuoteFallback   int `json:"quote_fallback"`
	QuoteStale      int `json:"quote_stale"`
	QuoteEmpty      int `json:"quote_empty"`
	SeriesMemoHit   int `json:"series_memo_hit"`
	SeriesCacheHit  int `json:"series_cache_hit"`
	SeriesPrimary   int `json:"series_primary"`
	SeriesFallback  int `json:"series_fallback"`
	SeriesStale     int `json:"series_stale"`
	SeriesEmpty     int `json:"series_empty"`
}

type memoEntry struct {
	at    time.Time
	value any
}

// Gateway multiplexes one primary and any number of fallback providers
// over a shared persistent cache.
type Gateway struct {
	cfg      Config
	cache    port.CacheStore
	suffixes []string

	mu        sync.Mutex
	providers []port.Provider
	primary   int
	breakers  map[string]*breaker.Breaker
	memo      map[string]memoEntry
	metrics   Metrics
	now       func() time.Time
}

// New builds a gateway; the first provider is the initial primary.
func New(cache port.CacheStore, cfg Config, providers ...port.Provider) (*Gateway, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("gateway: at least one provider required")
	}
	cfg = cfg.withDefaults()
	g := &Gateway{
		cfg:       cfg,
		cache:     cache,
		suffixes:  defaultSuffixes,
		providers: providers,
		breakers:  make(map[string]*breaker.Breaker, len(providers)),
		memo:      make(map[string]memoEntry),
		now:       time.Now,
	}
	for _, p := range providers {
		g.breakers[p.Name()] = breaker.New(p.Name(), cfg.BreakerFailures, cfg.BreakerRecovery, cfg.BreakerHalfOpenMax)
	}
	return g, nil
}

// Primary returns the active primary provider name.
func (g *Gateway) Primary() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.providers[g.primary].Name()
}

// SetPrimary switches the primary provider by name.
func (g *Gateway) SetPrimary(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, p := range g.providers {
		if p.Name() == name {
			g.primary = i
			log.Info().Str("provider", name).Msg("primary provider switched")
			return nil
		}
	}
	return fmt.Errorf("gateway: unknown provider %q", name)
}

// BreakerStats snapshots every provider breaker.
func (g *Gateway) BreakerStats() map[string]breaker.Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]breaker.Stats, len(g.breakers))
	for name, b := range g.breakers {
		out[name] = b.Stats()
	}
	return out
}

// Metrics returns a copy of the counters.
func (g *Gateway) Metrics() Metrics {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.metrics
}

func (g *Gateway) chain() (primary port.Provider, fallbacks []port.Provider) {
	g.mu.Lock()
	defer g.mu.Unlock()
	primary = g.providers[g.primary]
	for i, p := range g.providers {
		if i != g.primary {
			fallbacks = append(fallbacks, p)
		}
	}
	return primary, fallbacks
}

func (g *Gateway) memoGet(key string, ttl time.Duration) (any, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.memo[key]
	if !ok || g.now().Sub(e.at) >= ttl {
		return nil, false
	}
	return e.value, true
}

func (g *Gateway) memoSet(key string, value any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.memo[key] = memoEntry{at: g.now(), value: value}
}

func (g *Gateway) count(f func(*Metrics)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f(&g.metrics)
}

// call runs the provider fetch under its breaker.
func (g *Gateway) call(name string, fn func() error) error {
	g.mu.Lock()
	b := g.breakers[name]
	g.mu.Unlock()
	return b.Do(fn)
}

func (g *Gateway) cacheSet(ctx context.Context, namespace, key string, value any) {
	if g.cache == nil {
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := g.cache.Set(ctx, namespace, key, payload); err != nil {
		log.Warn().Err(err).Str("namespace", namespace).Str("key", key).Msg("cache write failed")
	}
}

// Quote resolves a snapshot price for symbol. A zero (invalid) quote
// means every layer missed.
func (g *Gateway) Quote(ctx context.Context, symbol string) domain.Quote {
	memoKey := "q|" + symbol
	if v, ok := g.memoGet(memoKey, g.cfg.MemoQuoteTTL); ok {
		g.count(func(m *Metrics) { m.QuoteMemoHit++ })
		return v.(domain.Quote)
	}

	if g.cache != nil {
		if raw, err := g.cache.GetIfFresh(ctx, nsQuote, symbol, g.cfg.QuoteTTL); err == nil && raw != nil {
			var q domain.Quote
			if json.Unmarshal(raw, &q) == nil && q.Valid() {
				g.count(func(m *Metrics) { m.QuoteCacheHit++ })
				return q
			}
		}
	}

	primary, fallbacks := g.chain()

	var q domain.Quote
	err := g.call(primary.Name(), func() error {
		var err error
		q, err = primary.Quote(ctx, symbol)
		return err
	})
	if err == nil && q.Valid() {
		g.count(func(m *Metrics) { m.QuotePrimary++ })
		g.cacheSet(ctx, nsQuote, symbol, q)
		g.memoSet(memoKey, q)
		return q
	}
	if err != nil {
		log.Debug().Err(err).Str("provider", primary.Name()).Str("symbol", symbol).Msg("primary quote failed")
	}

	for _, p := range fallbacks {
		if q, ok := g.fallbackQuote(ctx, p, symbol); ok {
			g.count(func(m *Metrics) { m.QuoteFallback++ })
			g.cacheSet(ctx, nsQuote, symbol, q)
			g.memoSet(memoKey, q)
			return q
		}
	}

	if g.cache != nil {
		if raw, err := g.cache.GetAny(ctx, nsQuote, symbol); err == nil && raw != nil {
			var stale domain.Quote
			if json.Unmarshal(raw, &stale) == nil && stale.Valid() {
				g.count(func(m *Metrics) { m.QuoteStale++ })
				return stale
			}
		}
	}

	g.count(func(m *Metrics) { m.QuoteEmpty++ })
	return domain.Quote{}
}

// fallbackQuote tries the bare symbol and then each listing suffix.
func (g *Gateway) fallbackQuote(ctx context.Context, p port.Provider, symbol string) (domain.Quote, bool) {
	for _, suf := range g.suffixes {
		var q domain.Quote
		err := g.call(p.Name(), func() error {
			var err error
			q, err = p.Quote(ctx, symbol+suf)
			return err
		})
		if err == nil && q.Valid() {
			q.Symbol = symbol
			return q, true
		}
	}
	return domain.Quote{}, false
}

func seriesKey(symbol string, interval domain.Interval, full bool) string {
	size := "compact"
	if full {
		size = "full"
	}
	return fmt.Sprintf("%s|%s|%s", symbol, interval, size)
}

// Series resolves a bar series. A series with no bars means every layer
// missed.
func (g *Gateway) Series(ctx context.Context, symbol string, interval domain.Interval, full bool) domain.Series {
	key := seriesKey(symbol, interval, full)
	memoKey := "s|" + key
	if v, ok := g.memoGet(memoKey, g.cfg.MemoSeriesTTL); ok {
		g.count(func(m *Metrics) { m.SeriesMemoHit++ })
		return v.(domain.Series)
	}

	if g.cache != nil {
		if raw, err := g.cache.GetIfFresh(ctx, nsSeries, key, g.cfg.SeriesTTL); err == nil && raw != nil {
			var s domain.Series
			if json.Unmarshal(raw, &s) == nil && s.Valid() {
				g.count(func(m *Metrics) { m.SeriesCacheHit++ })
				return s
			}
		}
	}

	primary, fallbacks := g.chain()

	var s domain.Series
	err := g.call(primary.Name(), func() error {
		var err error
		s, err = primary.Series(ctx, symbol, interval, full)
		return err
	})
	if err == nil && s.Valid() {
		g.count(func(m *Metrics) { m.SeriesPrimary++ })
		g.cacheSet(ctx, nsSeries, key, s)
		g.memoSet(memoKey, s)
		return s
	}
	if err != nil {
		log.Debug().Err(err).Str("provider", primary.Name()).Str("symbol", symbol).Msg("primary series failed")
	}

	for _, p := range fallbacks {
		if s, ok := g.fallbackSeries(ctx, p, symbol, interval, full); ok {
			g.count(func(m *Metrics) { m.SeriesFallback++ })
			g.cacheSet(ctx, nsSeries, key, s)
			g.memoSet(memoKey, s)
			return s
		}
	}

	// Intraday requests often have no recent bars; retry the whole chain
	// at daily granularity before giving up.
	if interval.Intraday() {
		for _, p := range append([]port.Provider{primary}, fallbacks...) {
			if s, ok := g.fallbackSeries(ctx, p, symbol, domain.IntervalDaily, full); ok {
				g.count(func(m *Metrics) { m.SeriesFallback++ })
				g.cacheSet(ctx, nsSeries, key, s)
				g.memoSet(memoKey, s)
				return s
			}
		}
	}

	if g.cache != nil {
		if raw, err := g.cache.GetAny(ctx, nsSeries, key); err == nil && raw != nil {
			var stale domain.Series
			if json.Unmarshal(raw, &stale) == nil && stale.Valid() {
				g.count(func(m *Metrics) { m.SeriesStale++ })
				return stale
			}
		}
	}

	g.count(func(m *Metrics) { m.SeriesEmpty++ })
	return domain.Series{Symbol: symbol, Interval: interval}
}

func (g *Gateway) fallbackSeries(ctx context.Context, p port.Provider, symbol string, interval domain.Interval, full bool) (domain.Series, bool) {
	for _, suf := range g.suffixes {
		var s domain.Series
		err := g.call(p.Name(), func() error {
			var err error
			s, err = p.Series(ctx, symbol+suf, interval, full)
			return err
		})
		if err == nil && s.Valid() {
			s.Symbol = symbol
			return s, true
		}
	}
	return domain.Series{}, false
}
