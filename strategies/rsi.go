package strategies

import (
	"fmt"

	"stockpilot/indicators"
	"stockpilot/market"
)

// RSIStrategy buys oversold and sells overbought conditions on the
// Relative Strength Index.
type RSIStrategy struct {
	Period     int
	Oversold   float64
	Overbought float64
}

func NewRSI(period int) *RSIStrategy {
	if period <= 0 {
		period = 14
	}
	return &RSIStrategy{Period: period, Oversold: 30, Overbought: 70}
}

func (r *RSIStrategy) Name() string { return "rsi" }

func (r *RSIStrategy) Analyze(s market.Series) Result {
	closes := s.Closes()
	if len(closes) < r.Period+1 {
		return hold(r.Name(), "not enough history")
	}

	v := indicators.RSI(closes, r.Period)
	switch {
	case v <= r.Oversold:
		return Result{
			Signal:       Buy,
			StrategyName: r.Name(),
			Strength:     min((r.Oversold-v)/r.Oversold+0.3, 1),
			Detail:       fmt.Sprintf("RSI %.1f oversold", v),
		}
	case v >= r.Overbought:
		return Result{
			Signal:       Sell,
			StrategyName: r.Name(),
			Strength:     min((v-r.Overbought)/(100-r.Overbought)+0.3, 1),
			Detail:       fmt.Sprintf("RSI %.1f overbought", v),
		}
	}
	return hold(r.Name(), fmt.Sprintf("RSI %.1f neutral", v))
}

func init() {
	Register(NewMACross(5, 20))
	Register(NewRSI(14))
}
