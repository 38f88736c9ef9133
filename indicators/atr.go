package indicators

import (
	"fmt"
	"math"

	"stockpilot/market"
)

// ATR calculates the Average True Range over the series using Wilder's
// smoothing. Returns an error if there aren't enough candles: TR needs a
// previous close, so period+1 candles are required.
func ATR(s market.Series, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(s) < period+1 {
		return 0, fmt.Errorf("not enough candles: need %d, got %d", period+1, len(s))
	}

	trs := make([]float64, 0, len(s)-1)
	for i := 1; i < len(s); i++ {
		trs = append(trs, trueRange(s[i], s[i-1]))
	}

	// Initial ATR is the simple average of the first period true ranges.
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += trs[i]
	}
	atr := sum / float64(period)

	// Wilder's smoothing over the rest.
	for i := period; i < len(trs); i++ {
		atr = (atr*float64(period-1) + trs[i]) / float64(period)
	}
	return atr, nil
}

func trueRange(current, previous market.Candle) float64 {
	highLow := current.High - current.Low
	highClose := math.Abs(current.High - previous.Close)
	lowClose := math.Abs(current.Low - previous.Close)
	return math.Max(highLow, math.Max(highClose, lowClose))
}
