// Package strategies defines the signal-provider interface the engine
// consumes and a registry of built-in implementations. The engine never
// depends on a concrete strategy type, only on Strategy.
package strategies

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"stockpilot/market"
)

// Signal is a strategy's directional opinion.
type Signal string

const (
	Buy  Signal = "BUY"
	Sell Signal = "SELL"
	Hold Signal = "HOLD"
)

// Result is the outcome of analyzing one symbol's history. Strength is a
// 0..1 confidence; the scheduler drops weak signals before execution.
type Result struct {
	Signal       Signal
	StrategyName string
	Strength     float64
	Detail       string
}

// Strategy analyzes candle history and emits a signal.
type Strategy interface {
	Name() string
	Analyze(s market.Series) Result
}

var (
	regMu    sync.Mutex
	registry = make(map[string]Strategy)
)

// Register adds a strategy under its name. Later registrations win.
func Register(s Strategy) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[strings.ToLower(s.Name())] = s
}

// ByName looks up a registered strategy.
func ByName(name string) (Strategy, error) {
	regMu.Lock()
	defer regMu.Unlock()
	s, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (registered: %s)", name, strings.Join(names(), ", "))
	}
	return s, nil
}

func names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func hold(name, detail string) Result {
	return Result{Signal: Hold, StrategyName: name, Detail: detail}
}
