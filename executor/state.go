package executor

import (
	"time"

	"stockpilot/broker"
)

// tpKeySuffix separates a take-profit leg from an entry leg on the same
// symbol in the pending-order map.
const tpKeySuffix = "_tp"

func entryKey(symbol string) string { return symbol }
func tpKey(symbol string) string    { return symbol + tpKeySuffix }

// PendingLimitOrder tracks a limit order the engine placed and may still
// have to cancel. At most one exists per key at a time.
type PendingLimitOrder struct {
	OrderNo  string
	Symbol   string
	Market   broker.Market
	Side     broker.Side
	Qty      int64
	Price    float64
	PlacedAt time.Time
	Strategy string
}

// PositionStage tracks a split-buy entry. Stage moves 1→2 exactly once, on
// the dip-triggered second buy; the record dies when the position closes.
type PositionStage struct {
	Symbol          string
	Market          broker.Market
	Stage           int
	FirstPrice      float64
	FirstQty        int64
	PartialExitDone bool
}

// positionsSnapshot is a short-TTL cache of broker positions, so one
// logical decision observes a single consistent view instead of re-fetching
// per sub-step.
type positionsSnapshot struct {
	positions []broker.Position
	fetchedAt time.Time
}
