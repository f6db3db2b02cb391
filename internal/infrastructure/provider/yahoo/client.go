// Package yahoo fetches quotes and bar series from the public Yahoo
// Finance endpoints. No API key, so it also carries a shared backoff for
// 429 responses.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"stratwatch/internal/application/port"
	"stratwatch/internal/domain"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

type Client struct {
	quoteURL string
	chartURL string
	client   *http.Client

	mu          sync.Mutex
	backoff     time.Duration
	nextAllowed time.Time
	now         func() time.Time
}

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://query1.finance.yahoo.com"
	}
	return &Client{
		quoteURL: baseURL + "/v7/finance/quote",
		chartURL: baseURL + "/v8/finance/chart",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		now: time.Now,
	}
}

func (c *Client) Name() string { return "yahoo" }

// rateLimited reports whether the shared backoff window is still active.
func (c *Client) rateLimited() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Before(c.nextAllowed)
}

func (c *Client) note429() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backoff == 0 {
		c.backoff = 2 * time.Second
	} else {
		c.backoff *= 2
	}
	if c.backoff > time.Minute {
		c.backoff = time.Minute
	}
	jitter := time.Duration(200+rand.Intn(600)) * time.Millisecond
	c.nextAllowed = c.now().Add(c.backoff + jitter)
}

func (c *Client) noteSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backoff /= 2
	if c.backoff == 0 {
		c.nextAllowed = time.Time{}
	}
}

func (c *Client) get(ctx context.Context, rawURL string, out any) error {
	if c.rateLimited() {
		return fmt.Errorf("yahoo: backing off after 429")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.note429()
		return fmt.Errorf("yahoo api error: 429")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("yahoo api error: %d", resp.StatusCode)
	}
	c.noteSuccess()
	return json.NewDecoder(resp.Body).Decode(out)
}

type quoteResponse struct {
	QuoteResponse struct {
		Result []struct {
			RegularMarketPrice         float64 `json:"regularMarketPrice"`
			RegularMarketChange        float64 `json:"regularMarketChange"`
			RegularMarketChangePercent float64 `json:"regularMarketChangePercent"`
		} `json:"result"`
	} `json:"quoteResponse"`
}

func (c *Client) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	var payload quoteResponse
	u := c.quoteURL + "?symbols=" + url.QueryEscape(symbol)
	if err := c.get(ctx, u, &payload); err != nil {
		return domain.Quote{}, err
	}
	result := payload.QuoteResponse.Result
	if len(result) == 0 {
		return domain.Quote{}, fmt.Errorf("yahoo quote for %s: no result", symbol)
	}
	q := result[0]
	return domain.Quote{
		Symbol:    symbol,
		Price:     q.RegularMarketPrice,
		Change:    q.RegularMarketChange,
		ChangePct: q.RegularMarketChangePercent,
		AsOf:      time.Now().UTC(),
	}, nil
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
	} `json:"chart"`
}

// chartParams maps an interval to the Yahoo chart interval and a
// reasonable range, matching the compact/full split of the primary
// provider.
func chartParams(interval domain.Interval, full bool) (yahooInterval, rng string) {
	switch interval {
	case domain.Interval1Min:
		yahooInterval = "1m"
	case domain.Interval5Min:
		yahooInterval = "5m"
	case domain.Interval15Min:
		yahooInterval = "15m"
	case domain.Interval30Min:
		yahooInterval = "30m"
	case domain.Interval60Min:
		yahooInterval = "60m"
	case domain.IntervalWeekly:
		return "1wk", "3y"
	case domain.IntervalMonth:
		return "1mo", "10y"
	default:
		if full {
			return "1d", "max"
		}
		return "1d", "6mo"
	}
	if full {
		return yahooInterval, "1mo"
	}
	return yahooInterval, "5d"
}

func (c *Client) Series(ctx context.Context, symbol string, interval domain.Interval, full bool) (domain.Series, error) {
	yahooInterval, rng := chartParams(interval, full)
	params := url.Values{}
	params.Set("interval", yahooInterval)
	params.Set("range", rng)
	params.Set("includePrePost", "false")
	params.Set("events", "div,split")

	var payload chartResponse
	u := c.chartURL + "/" + url.PathEscape(symbol) + "?" + params.Encode()
	if err := c.get(ctx, u, &payload); err != nil {
		return domain.Series{}, err
	}
	result := payload.Chart.Result
	if len(result) == 0 {
		return domain.Series{}, fmt.Errorf("yahoo chart for %s: no result", symbol)
	}
	r0 := result[0]
	if len(r0.Timestamp) == 0 || len(r0.Indicators.Quote) == 0 {
		return domain.Series{}, fmt.Errorf("yahoo chart for %s: empty series", symbol)
	}
	q0 := r0.Indicators.Quote[0]

	series := domain.Series{Symbol: symbol, Interval: interval, Bars: make([]domain.PriceBar, 0, len(r0.Timestamp))}
	for i, ts := range r0.Timestamp {
		series.Bars = append(series.Bars, domain.PriceBar{
			Time:   time.Unix(ts, 0).UTC(),
			Open:   deref(q0.Open, i),
			High:   deref(q0.High, i),
			Low:    deref(q0.Low, i),
			Close:  deref(q0.Close, i),
			Volume: deref(q0.Volume, i),
		})
	}
	series.SortBars()
	return series, nil
}

// deref tolerates the null padding Yahoo inserts for halted sessions.
func deref(vals []*float64, i int) float64 {
	if i >= len(vals) || vals[i] == nil {
		return 0
	}
	return *vals[i]
}

var _ port.Provider = (*Client)(nil)
