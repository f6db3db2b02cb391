// Package indicator provides pure technical-indicator functions over close
// sequences. Positions where an indicator is undefined (warm-up) are NaN.
package indicator

import "math"

var nan = math.NaN()

// Defined reports whether an indicator output position holds a value.
func Defined(v float64) bool { return !math.IsNaN(v) }

// SMA is the arithmetic mean of the trailing window values. Outputs before
// index window-1 are NaN.
func SMA(values []float64, window int) []float64 {
	if window <= 0 {
		return nil
	}
	out := make([]float64, len(values))
	sum := 0.0
	for i, v := range values {
		out[i] = nan
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			out[i] = sum / float64(window)
		}
	}
	return out
}

// EMA seeds with the first value and applies the standard recurrence with
// k = 2/(window+1). The first window-1 outputs are suppressed to NaN so an
// under-seeded average is never reported.
func EMA(values []float64, window int) []float64 {
	if window <= 0 {
		return nil
	}
	out := make([]float64, len(values))
	k := 2.0 / float64(window+1)
	prev := nan
	for i, v := range values {
		if math.IsNaN(prev) {
			prev = v
		} else {
			prev = (v-prev)*k + prev
		}
		out[i] = prev
	}
	for i := 0; i < window-1 && i < len(out); i++ {
		out[i] = nan
	}
	return out
}

// RSI uses Wilder smoothing: the seed average gain/loss is the simple mean of
// the first period deltas, then avg = (avg*(period-1)+new)/period. Output is
// 100 when the average loss is zero. Leading positions are NaN.
func RSI(values []float64, period int) []float64 {
	if period <= 0 {
		return nil
	}
	out := make([]float64, len(values))
	for i := range out {
		out[i] = nan
	}
	if len(values) < 2 {
		return out
	}
	gains := make([]float64, len(values))
	losses := make([]float64, len(values))
	for i := 1; i < len(values); i++ {
		delta := values[i] - values[i-1]
		gains[i] = math.Max(0, delta)
		losses[i] = math.Max(0, -delta)
	}
	var avgGain, avgLoss float64
	seeded := false
	for i := 1; i < len(values); i++ {
		if i < period {
			if i == period-1 {
				for j := 1; j < period; j++ {
					avgGain += gains[j]
					avgLoss += losses[j]
				}
				avgGain /= float64(period)
				avgLoss /= float64(period)
				seeded = true
			}
			continue
		}
		if !seeded {
			continue
		}
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
		if avgLoss == 0 {
			out[i] = 100
			continue
		}
		rs := avgGain / avgLoss
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

// MACD returns the macd line, signal line and histogram. Gaps in the macd
// line are filled with the last known value before the signal smoothing so
// the tail is not lost to undefined positions.
func MACD(values []float64, fast, slow, signal int) (macdLine, signalLine, hist []float64) {
	emaFast := EMA(values, fast)
	emaSlow := EMA(values, slow)
	macdLine = make([]float64, len(values))
	filled := make([]float64, len(values))
	last := 0.0
	for i := range values {
		if Defined(emaFast[i]) && Defined(emaSlow[i]) {
			macdLine[i] = emaFast[i] - emaSlow[i]
			last = macdLine[i]
		} else {
			macdLine[i] = nan
		}
		filled[i] = last
	}
	signalLine = EMA(filled, signal)
	hist = make([]float64, len(values))
	for i := range values {
		if Defined(macdLine[i]) && Defined(signalLine[i]) {
			hist[i] = macdLine[i] - signalLine[i]
		} else {
			hist[i] = nan
		}
	}
	return macdLine, signalLine, hist
}

// Bollinger returns upper, middle and lower bands using the population
// standard deviation of the trailing window.
func Bollinger(values []float64, window int, numStd float64) (upper, mid, lower []float64) {
	mid = SMA(values, window)
	upper = make([]float64, len(values))
	lower = make([]float64, len(values))
	for i := range values {
		upper[i] = nan
		lower[i] = nan
		if i < window-1 || mid == nil || !Defined(mid[i]) {
			continue
		}
		m := mid[i]
		variance := 0.0
		for j := i - window + 1; j <= i; j++ {
			d := values[j] - m
			variance += d * d
		}
		variance /= float64(window)
		std := math.Sqrt(variance)
		upper[i] = m + numStd*std
		lower[i] = m - numStd*std
	}
	return upper, mid, lower
}

// Bandwidth is the Bollinger volatility proxy (upper-lower)/mid, or NaN when
// any input is undefined or mid is zero.
func Bandwidth(upper, mid, lower float64) float64 {
	if !Defined(upper) || !Defined(mid) || !Defined(lower) || mid == 0 {
		return nan
	}
	return (upper - lower) / mid
}
