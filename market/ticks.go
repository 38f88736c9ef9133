package market

import (
	"github.com/shopspring/decimal"

	"stockpilot/broker"
)

// krTier is one row of the KRX tick-size table: prices below Upper move in
// steps of Tick won.
type krTier struct {
	Upper float64
	Tick  int64
}

// krTicks is the domestic tick-size table:
//
//	< 5,000   → 1
//	< 20,000  → 5
//	< 50,000  → 10
//	< 200,000 → 50
//	< 500,000 → 100
//	else      → 500
var krTicks = []krTier{
	{Upper: 5_000, Tick: 1},
	{Upper: 20_000, Tick: 5},
	{Upper: 50_000, Tick: 10},
	{Upper: 200_000, Tick: 50},
	{Upper: 500_000, Tick: 100},
}

// TickSize returns the minimum price increment for a price on a market.
// US equities quote in cents.
func TickSize(m broker.Market, price float64) float64 {
	if m == broker.US {
		return 0.01
	}
	for _, t := range krTicks {
		if price < t.Upper {
			return float64(t.Tick)
		}
	}
	return 500
}

// RoundDownToTick snaps price down to the nearest valid tick. Decimal
// arithmetic keeps float dust out of the order we hand to the broker:
// 20,037 in the 20,000–50,000 tier (tick 10) becomes 20,030.
func RoundDownToTick(m broker.Market, price float64) float64 {
	if price <= 0 {
		return 0
	}
	tick := decimal.NewFromFloat(TickSize(m, price))
	p := decimal.NewFromFloat(price)
	snapped := p.Div(tick).Floor().Mul(tick)
	f, _ := snapped.Float64()
	return f
}
