package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stockpilot",
	Short: "An automated stock trading engine with layered risk controls",
	Long: `Stockpilot runs strategy-driven order execution against a brokerage
account, with risk management between every signal and every order.

It provides:
  - Budget-based position sizing with per-symbol allocation slots
  - Stop-loss, take-profit and trailing-stop exits with ATR-derived thresholds
  - Daily loss caps, trade caps and a consecutive-loss circuit breaker
  - Split (staged) entries and exits, and limit orders with timeout fallback
  - A SQLite trade journal and optional Telegram notifications`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}
