// Package alphavantage fetches quotes and bar series from the Alpha
// Vantage REST API. Requires an API key.
package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stratwatch/internal/application/port"
	"stratwatch/internal/domain"
)

type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://www.alphavantage.co/query"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) Name() string { return "alphavantage" }

func (c *Client) get(ctx context.Context, params url.Values) (map[string]json.RawMessage, error) {
	params.Set("apikey", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("alphavantage api error: %d %s", resp.StatusCode, string(body))
	}

	var payload map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	if note, ok := payload["Note"]; ok {
		return nil, fmt.Errorf("alphavantage throttled: %s", note)
	}
	if msg, ok := payload["Error Message"]; ok {
		return nil, fmt.Errorf("alphavantage error: %s", msg)
	}
	return payload, nil
}

func (c *Client) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	if c.apiKey == "" {
		return domain.Quote{}, fmt.Errorf("alphavantage: api key not configured")
	}
	params := url.Values{}
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", symbol)
	payload, err := c.get(ctx, params)
	if err != nil {
		return domain.Quote{}, err
	}

	var raw map[string]string
	if err := json.Unmarshal(payload["Global Quote"], &raw); err != nil {
		return domain.Quote{}, fmt.Errorf("alphavantage quote for %s: %w", symbol, err)
	}
	price, err := strconv.ParseFloat(raw["05. price"], 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("alphavantage quote for %s: bad price %q", symbol, raw["05. price"])
	}
	change, _ := strconv.ParseFloat(raw["09. change"], 64)
	changePct, _ := strconv.ParseFloat(strings.TrimSuffix(raw["10. change percent"], "%"), 64)
	return domain.Quote{
		Symbol:    symbol,
		Price:     price,
		Change:    change,
		ChangePct: changePct,
		AsOf:      time.Now().UTC(),
	}, nil
}

func (c *Client) Series(ctx context.Context, symbol string, interval domain.Interval, full bool) (domain.Series, error) {
	if c.apiKey == "" {
		return domain.Series{}, fmt.Errorf("alphavantage: api key not configured")
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("datatype", "json")
	outputsize := "compact"
	if full {
		outputsize = "full"
	}
	switch {
	case interval.Intraday():
		params.Set("function", "TIME_SERIES_INTRADAY")
		params.Set("interval", string(interval))
		params.Set("outputsize", outputsize)
	case interval == domain.IntervalWeekly:
		params.Set("function", "TIME_SERIES_WEEKLY")
	case interval == domain.IntervalMonth:
		params.Set("function", "TIME_SERIES_MONTHLY")
	default:
		params.Set("function", "TIME_SERIES_DAILY")
		params.Set("outputsize", outputsize)
	}

	payload, err := c.get(ctx, params)
	if err != nil {
		return domain.Series{}, err
	}

	// The series key varies by function, e.g. "Time Series (Daily)".
	var rows map[string]map[string]string
	for key, raw := range payload {
		if !strings.Contains(strings.ToLower(key), "time series") {
			continue
		}
		if err := json.Unmarshal(raw, &rows); err != nil {
			return domain.Series{}, fmt.Errorf("alphavantage series for %s: %w", symbol, err)
		}
		break
	}
	if len(rows) == 0 {
		return domain.Series{}, fmt.Errorf("alphavantage series for %s: empty response", symbol)
	}

	series := domain.Series{Symbol: symbol, Interval: interval, Bars: make([]domain.PriceBar, 0, len(rows))}
	for stamp, row := range rows {
		ts, err := parseStamp(stamp)
		if err != nil {
			continue
		}
		series.Bars = append(series.Bars, domain.PriceBar{
			Time:   ts,
			Open:   parseFloat(row["1. open"]),
			High:   parseFloat(row["2. high"]),
			Low:    parseFloat(row["3. low"]),
			Close:  parseFloat(row["4. close"]),
			Volume: parseFloat(row["5. volume"]),
		})
	}
	series.SortBars()
	return series, nil
}

func parseStamp(s string) (time.Time, error) {
	if ts, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse("2006-01-02", s)
	return ts.UTC(), err
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

var _ port.Provider = (*Client)(nil)
