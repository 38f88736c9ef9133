package strategies

import (
	"fmt"

	"stockpilot/indicators"
	"stockpilot/market"
)

// MACross signals on short/long simple moving average crossovers: a golden
// cross buys, a dead cross sells. Strength scales with how far the averages
// have separated.
type MACross struct {
	Short int
	Long  int
}

func NewMACross(short, long int) *MACross {
	if short <= 0 {
		short = 5
	}
	if long <= short {
		long = 20
	}
	return &MACross{Short: short, Long: long}
}

func (m *MACross) Name() string { return "ma_cross" }

func (m *MACross) Analyze(s market.Series) Result {
	closes := s.Closes()
	if len(closes) < m.Long+1 {
		return hold(m.Name(), "not enough history")
	}

	shortNow := indicators.SMA(closes, m.Short)
	longNow := indicators.SMA(closes, m.Long)
	shortPrev := indicators.SMA(closes[:len(closes)-1], m.Short)
	longPrev := indicators.SMA(closes[:len(closes)-1], m.Long)

	if longNow <= 0 {
		return hold(m.Name(), "degenerate prices")
	}

	gap := (shortNow - longNow) / longNow * 100
	strength := min(abs(gap)/2, 1)

	switch {
	case shortPrev <= longPrev && shortNow > longNow:
		return Result{
			Signal:       Buy,
			StrategyName: m.Name(),
			Strength:     strength,
			Detail:       fmt.Sprintf("golden cross, MA%d over MA%d (gap %.2f%%)", m.Short, m.Long, gap),
		}
	case shortPrev >= longPrev && shortNow < longNow:
		return Result{
			Signal:       Sell,
			StrategyName: m.Name(),
			Strength:     strength,
			Detail:       fmt.Sprintf("dead cross, MA%d under MA%d (gap %.2f%%)", m.Short, m.Long, gap),
		}
	}
	return hold(m.Name(), "no cross")
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
