package strategy

import "math"

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// SMA calculates the simple moving average of the last period values
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}

	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// EMA calculates the exponential moving average, seeded with the SMA of the
// first period values
func EMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}

	multiplier := 2.0 / float64(period+1)
	ema := SMA(values[:period], period)
	for _, v := range values[period:] {
		ema = v*multiplier + ema*(1-multiplier)
	}
	return ema
}

// StdDev is the population standard deviation of the last period values
func StdDev(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}

	mean := SMA(values, period)
	variance := 0.0
	for _, v := range values[len(values)-period:] {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(period))
}

// ============================================================================
// RSI (Relative Strength Index)
// ============================================================================

// RSI uses simple averages of the last period gains and losses.
// Returns 50 when there is not enough data or the window is flat.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return 50.0
	}

	gains, losses := 0.0, 0.0
	for i := len(values) - period; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50.0
		}
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// ============================================================================
// BOLLINGER BANDS
// ============================================================================

// Bands holds Bollinger Band values
type Bands struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// Bollinger calculates bands of k standard deviations around the SMA
func Bollinger(values []float64, period int, k float64) Bands {
	if period <= 0 || len(values) < period {
		return Bands{}
	}

	middle := SMA(values, period)
	sd := StdDev(values, period)
	return Bands{
		Upper:  middle + sd*k,
		Middle: middle,
		Lower:  middle - sd*k,
	}
}

// ============================================================================
// MOMENTUM
// ============================================================================

// MomentumPercent compares the average of the newest `window` values with the
// average of the `window` values ending `lookback` points earlier, in percent.
func MomentumPercent(values []float64, window, lookback int) float64 {
	n := len(values)
	if window <= 0 || lookback <= 0 || n < window+lookback {
		return 0
	}

	recent := SMA(values, window)
	older := SMA(values[:n-lookback], window)
	if older == 0 {
		return 0
	}
	return (recent - older) / older * 100
}
