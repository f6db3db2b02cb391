package domain

import (
	"math"
	"sort"
	"time"
)

// Interval selects the bar granularity of a series request.
type Interval string

const (
	Interval1Min   Interval = "1min"
	Interval5Min   Interval = "5min"
	Interval15Min  Interval = "15min"
	Interval30Min  Interval = "30min"
	Interval60Min  Interval = "60min"
	IntervalDaily  Interval = "1day"
	IntervalWeekly Interval = "1week"
	IntervalMonth  Interval = "1month"
)

// Intraday reports whether the interval is finer than one day.
func (iv Interval) Intraday() bool {
	switch iv {
	case Interval1Min, Interval5Min, Interval15Min, Interval30Min, Interval60Min:
		return true
	}
	return false
}

// Quote is a provider-normalized snapshot price for a symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Change    float64   `json:"change"`
	ChangePct float64   `json:"change_pct"`
	AsOf      time.Time `json:"as_of"`
}

// Valid reports whether the quote carries a usable price.
func (q Quote) Valid() bool {
	return q.Price > 0 && !math.IsInf(q.Price, 0) && !math.IsNaN(q.Price)
}

// PriceBar is one OHLCV observation. Bars are immutable once parsed.
type PriceBar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Series is an ascending-by-time bar collection for one symbol.
type Series struct {
	Symbol   string     `json:"symbol"`
	Interval Interval   `json:"interval"`
	Bars     []PriceBar `json:"bars"`
}

// Valid reports whether the series contains at least one bar.
func (s Series) Valid() bool { return len(s.Bars) > 0 }

// Closes returns the closing prices in bar order.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

// SortBars orders the bars ascending by timestamp in place.
func (s *Series) SortBars() {
	sort.Slice(s.Bars, func(i, j int) bool { return s.Bars[i].Time.Before(s.Bars[j].Time) })
}
