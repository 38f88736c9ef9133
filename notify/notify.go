// Package notify delivers trading events to a human. Delivery is
// fire-and-forget: a dead notification channel must never abort or roll
// back a trading decision.
package notify

import (
	"stockpilot/broker"
	"stockpilot/journal"
)

// Notifier is the notification contract the engine consumes.
type Notifier interface {
	NotifySignal(symbol string, m broker.Market, strategy, signal, detail string)
	NotifyOrder(symbol string, side broker.Side, qty int64, price float64, success bool, message string)
	NotifyError(msg string)
	NotifySystem(msg string)
	NotifyDailySummary(d journal.DailySummary, positions []broker.Position)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) NotifySignal(string, broker.Market, string, string, string)    {}
func (Nop) NotifyOrder(string, broker.Side, int64, float64, bool, string) {}
func (Nop) NotifyError(string)                                            {}
func (Nop) NotifySystem(string)                                           {}
func (Nop) NotifyDailySummary(journal.DailySummary, []broker.Position)    {}
