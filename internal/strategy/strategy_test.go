package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(from, to float64) []float64 {
	var out []float64
	if from > to {
		for p := from; p >= to; p-- {
			out = append(out, p)
		}
		return out
	}
	for p := from; p <= to; p++ {
		out = append(out, p)
	}
	return out
}

func flat(n int, p float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = p
	}
	return out
}

// ============================================================================
// INDICATORS
// ============================================================================

func TestRSI(t *testing.T) {
	assert.Equal(t, 50.0, RSI([]float64{1, 2}, 14), "not enough data")
	assert.Equal(t, 50.0, RSI(flat(20, 10), 14), "flat window")
	assert.Equal(t, 100.0, RSI(ramp(1, 20), 14))
	assert.Equal(t, 0.0, RSI(ramp(20, 1), 14))

	// 7 gains of 2 and 7 losses of 1
	var zigzag []float64
	p := 100.0
	zigzag = append(zigzag, p)
	for i := 0; i < 7; i++ {
		p += 2
		zigzag = append(zigzag, p)
		p--
		zigzag = append(zigzag, p)
	}
	assert.InDelta(t, 100-100/(1+2.0), RSI(zigzag, 14), 1e-9)
}

func TestBollinger(t *testing.T) {
	b := Bollinger(ramp(1, 20), 20, 2)
	assert.InDelta(t, 10.5, b.Middle, 1e-9)
	assert.InDelta(t, 10.5+2*5.766281297335398, b.Upper, 1e-9)
	assert.InDelta(t, 10.5-2*5.766281297335398, b.Lower, 1e-9)

	assert.Equal(t, Bands{}, Bollinger([]float64{1, 2}, 20, 2))
}

func TestEMA(t *testing.T) {
	assert.InDelta(t, 5.0, EMA(flat(10, 5), 3), 1e-9)
	assert.Zero(t, EMA([]float64{1}, 3))
}

// ============================================================================
// MEAN REVERSION
// ============================================================================

func TestMeanReversionInsufficientData(t *testing.T) {
	s := MeanReversion{}
	tune := DefaultTuning()
	require.Equal(t, 21, s.MinDataPoints(tune))

	for n := 0; n < 21; n++ {
		series := ramp(100, 100-float64(n)+1)[:n]
		buy := s.AnalyzeBuy(series, tune)
		assert.Equal(t, ActionHold, buy.Action)
		assert.Zero(t, buy.Confidence)

		sell := s.AnalyzeSell(series, 1000, tune)
		assert.Equal(t, ActionHold, sell.Action)
		assert.Zero(t, sell.Confidence)
	}
}

func TestMeanReversionBuyAtLowerBand(t *testing.T) {
	// slow drift down then a sharp drop through the lower band
	prices := make([]float64, 0, 21)
	for i := 0; i < 20; i++ {
		prices = append(prices, 100-0.1*float64(i))
	}
	prices = append(prices, 90)

	sig := MeanReversion{}.AnalyzeBuy(prices, DefaultTuning())
	assert.Equal(t, ActionBuy, sig.Action)
	assert.Equal(t, ConfidenceHigh, sig.Confidence)
	assert.Contains(t, sig.Reason, "lower band")
}

func TestMeanReversionBuyOnLinearDecline(t *testing.T) {
	// a steady ramp stays inside the bands; the extreme-RSI rule fires instead
	prices := ramp(100, 80)
	require.Len(t, prices, 21)

	sig := MeanReversion{}.AnalyzeBuy(prices, DefaultTuning())
	assert.Equal(t, ActionBuy, sig.Action)
	assert.Equal(t, ConfidenceMedium, sig.Confidence)
}

func TestMeanReversionHoldExplainsGap(t *testing.T) {
	prices := append(flat(10, 100), flat(11, 101)...)
	sig := MeanReversion{}.AnalyzeBuy(prices, DefaultTuning())
	assert.Equal(t, ActionHold, sig.Action)
	assert.Zero(t, sig.Confidence)
	assert.Contains(t, sig.Reason, "lower band edge")
	assert.Contains(t, sig.Reason, "RSI")
}

func TestMeanReversionSell(t *testing.T) {
	tune := DefaultTuning()

	upper := make([]float64, 0, 21)
	for i := 0; i < 20; i++ {
		upper = append(upper, 100+0.1*float64(i))
	}
	upper = append(upper, 110)

	tests := []struct {
		name       string
		prices     []float64
		buyPrice   float64
		action     Action
		confidence float64
		reason     string
	}{
		{"stop-loss overrides indicators", append(flat(20, 100), 97.4), 100, ActionSell, ConfidenceHard, "stop-loss"},
		{"stop-loss on overbought series", append(ramp(80, 99), 97.4), 100, ActionSell, ConfidenceHard, "stop-loss"},
		{"take-profit", append(flat(20, 100), 106), 100, ActionSell, ConfidenceHigh, "take-profit"},
		{"upper band reversal", upper, 0, ActionSell, ConfidenceHigh, "upper band"},
		{"extreme RSI", ramp(80, 100), 0, ActionSell, ConfidenceMedium, "extreme overbought"},
		{"hold", append(flat(10, 100), flat(11, 99)...), 99, ActionHold, 0, "no exit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := MeanReversion{}.AnalyzeSell(tt.prices, tt.buyPrice, tune)
			assert.Equal(t, tt.action, sig.Action)
			assert.Equal(t, tt.confidence, sig.Confidence)
			assert.Contains(t, sig.Reason, tt.reason)
		})
	}
}

// ============================================================================
// HARD EXITS AND EARLY EXIT
// ============================================================================

func TestCheckHardExit(t *testing.T) {
	sig, ok := CheckHardExit(97.4, 100, 2.5, 5)
	require.True(t, ok)
	assert.Equal(t, ActionSell, sig.Action)
	assert.Equal(t, ConfidenceHard, sig.Confidence)

	_, ok = CheckHardExit(97.6, 100, 2.5, 5)
	assert.False(t, ok)

	sig, ok = CheckHardExit(106, 100, 2.5, 5)
	require.True(t, ok)
	assert.Equal(t, ConfidenceHigh, sig.Confidence)

	_, ok = CheckHardExit(50, 0, 2.5, 5)
	assert.False(t, ok, "no buy price")
}

func TestMomentumReversal(t *testing.T) {
	ok, drop := MomentumReversal([]float64{100, 102, 104, 103, 101}, 5, 2)
	assert.True(t, ok)
	assert.InDelta(t, (104.0-101.0)/104*100, drop, 1e-9)

	ok, _ = MomentumReversal([]float64{100, 102, 104, 103, 103.5}, 5, 0.1)
	assert.False(t, ok, "recovering")

	ok, _ = MomentumReversal([]float64{100, 102, 104, 103.9}, 5, 2)
	assert.False(t, ok, "drop too small")
}

// ============================================================================
// MOMENTUM
// ============================================================================

func TestMomentumStrategy(t *testing.T) {
	tune := DefaultTuning()
	s := Momentum{}
	require.Equal(t, 12, s.MinDataPoints(tune))

	up := append(flat(9, 100), 103, 104, 105)
	sig := s.AnalyzeBuy(up, tune)
	assert.Equal(t, ActionBuy, sig.Action)
	assert.InDelta(t, 0.7, sig.Confidence, 1e-9)

	down := append(flat(9, 100), 97, 96, 95)
	sig = s.AnalyzeSell(down, 0, tune)
	assert.Equal(t, ActionSell, sig.Action)

	sig = s.AnalyzeBuy(flat(11, 100), tune)
	assert.Equal(t, ActionHold, sig.Action)
}

func TestNewStrategy(t *testing.T) {
	s, err := New("")
	require.NoError(t, err)
	assert.Equal(t, MeanReversionName, s.Name())

	s, err = New(MomentumName)
	require.NoError(t, err)
	assert.Equal(t, MomentumName, s.Name())

	_, err = New("martingale")
	assert.Error(t, err)
}
