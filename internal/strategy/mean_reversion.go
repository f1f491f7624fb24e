package strategy

import "fmt"

// MeanReversionName is the config name of MeanReversion
const MeanReversionName = "mean_reversion"

// MeanReversion buys stretched-down prices near the lower Bollinger Band with
// an oversold RSI, and sells the mirror image or on fixed SL/TP thresholds.
type MeanReversion struct{}

func (MeanReversion) Name() string { return MeanReversionName }

// MinDataPoints needs one point beyond both the band period and the RSI lookback
func (MeanReversion) MinDataPoints(t Tuning) int {
	n := t.BBPeriod + 1
	if r := t.RSIPeriod + 1; r > n {
		n = r
	}
	return n
}

func (s MeanReversion) AnalyzeBuy(prices []float64, t Tuning) Signal {
	if need := s.MinDataPoints(t); len(prices) < need {
		return Hold(fmt.Sprintf("insufficient data: %d/%d points", len(prices), need))
	}

	current := prices[len(prices)-1]
	bands := Bollinger(prices, t.BBPeriod, t.BBStdDev)
	rsi := RSI(prices, t.RSIPeriod)
	lowerEdge := bands.Lower * t.LowerBandTolerance

	if current <= lowerEdge && rsi < t.RSIOversold {
		return Signal{
			Action:     ActionBuy,
			Confidence: ConfidenceHigh,
			Reason:     fmt.Sprintf("price %.8g at lower band %.8g, RSI %.1f oversold", current, bands.Lower, rsi),
		}
	}
	if rsi < t.RSIExtremeLow && current <= bands.Middle {
		return Signal{
			Action:     ActionBuy,
			Confidence: ConfidenceMedium,
			Reason:     fmt.Sprintf("RSI %.1f extreme oversold, price %.8g below middle band %.8g", rsi, current, bands.Middle),
		}
	}

	return Hold(fmt.Sprintf("no entry: price %.2f%% above lower band edge, RSI %.1f vs oversold %.0f",
		pctGap(current, lowerEdge), rsi, t.RSIOversold))
}

func (s MeanReversion) AnalyzeSell(prices []float64, buyPrice float64, t Tuning) Signal {
	if need := s.MinDataPoints(t); len(prices) < need {
		return Hold(fmt.Sprintf("insufficient data: %d/%d points", len(prices), need))
	}

	current := prices[len(prices)-1]
	if sig, ok := CheckHardExit(current, buyPrice, t.StopLossPercent, t.TakeProfitPercent); ok {
		return sig
	}

	bands := Bollinger(prices, t.BBPeriod, t.BBStdDev)
	rsi := RSI(prices, t.RSIPeriod)
	upperEdge := bands.Upper * t.UpperBandTolerance

	if current >= upperEdge && rsi > t.RSIOverbought {
		return Signal{
			Action:     ActionSell,
			Confidence: ConfidenceHigh,
			Reason:     fmt.Sprintf("price %.8g at upper band %.8g, RSI %.1f overbought", current, bands.Upper, rsi),
		}
	}
	if rsi > t.RSIExtremeHigh && current >= bands.Middle {
		return Signal{
			Action:     ActionSell,
			Confidence: ConfidenceMedium,
			Reason:     fmt.Sprintf("RSI %.1f extreme overbought above middle band %.8g", rsi, bands.Middle),
		}
	}

	return Hold(fmt.Sprintf("no exit: price %.2f%% below upper band edge, RSI %.1f vs overbought %.0f",
		-pctGap(current, upperEdge), rsi, t.RSIOverbought))
}

func pctGap(current, ref float64) float64 {
	if ref == 0 {
		return 0
	}
	return (current - ref) / ref * 100
}
