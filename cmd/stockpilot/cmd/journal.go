package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"stockpilot/broker"
	"stockpilot/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the trade journal",
	Long: `Query and display journal records from the SQLite database.

Subcommands:
  today  - List today's order attempts
  watch  - Manage the watchlist

Examples:
  stockpilot journal today
  stockpilot journal watch list
  stockpilot journal watch add 005930 --market KR --name "Samsung Electronics"
  stockpilot journal watch remove 005930 --market KR`,
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List today's order attempts",
	Args:  cobra.NoArgs,
	RunE:  runJournalToday,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Manage the watchlist",
}

var watchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watched symbols",
	Args:  cobra.NoArgs,
	RunE:  runWatchList,
}

var watchAddCmd = &cobra.Command{
	Use:   "add <symbol>",
	Short: "Add a symbol to the watchlist",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatchAdd,
}

var watchRemoveCmd = &cobra.Command{
	Use:   "remove <symbol>",
	Short: "Remove a symbol from the watchlist",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatchRemove,
}

var (
	journalDBPath string
	watchMarket   string
	watchName     string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTodayCmd)
	journalCmd.AddCommand(watchCmd)
	watchCmd.AddCommand(watchListCmd)
	watchCmd.AddCommand(watchAddCmd)
	watchCmd.AddCommand(watchRemoveCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "./stockpilot.db", "path to SQLite journal DB")
	watchCmd.PersistentFlags().StringVarP(&watchMarket, "market", "m", "KR", "market (KR or US)")
	watchAddCmd.Flags().StringVarP(&watchName, "name", "n", "", "display name")
}

func openStore() (*journal.SQLiteStore, error) {
	store, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return store, nil
}

func parseWatchMarket() (broker.Market, error) {
	m := broker.Market(strings.ToUpper(watchMarket))
	if m != broker.KR && m != broker.US {
		return "", fmt.Errorf("unknown market: %s", watchMarket)
	}
	return m, nil
}

func runJournalToday(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	trades, err := store.GetTradesToday()
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}
	if len(trades) == 0 {
		fmt.Println("No trades today.")
		return nil
	}

	fmt.Printf("%-8s %-10s %-4s %-5s %8s %12s %-10s %s\n",
		"TIME", "SYMBOL", "MKT", "SIDE", "QTY", "PRICE", "STRATEGY", "RESULT")
	for _, t := range trades {
		result := "ok"
		if !t.Success {
			result = "failed: " + t.Message
		}
		fmt.Printf("%-8s %-10s %-4s %-5s %8d %12.2f %-10s %s\n",
			t.At.Format("15:04:05"), t.Symbol, t.Market, t.Side, t.Qty, t.Price, t.Strategy, result)
	}
	return nil
}

func runWatchList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	m, err := parseWatchMarket()
	if err != nil {
		return err
	}
	items, err := store.Watchlist(m)
	if err != nil {
		return fmt.Errorf("query watchlist: %w", err)
	}
	if len(items) == 0 {
		fmt.Printf("No watched symbols in %s.\n", m)
		return nil
	}
	for _, w := range items {
		fmt.Printf("%-10s %-4s %-24s (%s)\n", w.Symbol, w.Market, w.Name, w.Source)
	}
	return nil
}

func runWatchAdd(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	m, err := parseWatchMarket()
	if err != nil {
		return err
	}
	if err := store.AddWatch(journal.WatchItem{
		Symbol: args[0],
		Market: m,
		Name:   watchName,
		Source: "manual",
	}); err != nil {
		return fmt.Errorf("add watch: %w", err)
	}
	fmt.Printf("✓ Watching %s (%s)\n", args[0], m)
	return nil
}

func runWatchRemove(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	m, err := parseWatchMarket()
	if err != nil {
		return err
	}
	if err := store.RemoveWatch(args[0], m); err != nil {
		return fmt.Errorf("remove watch: %w", err)
	}
	fmt.Printf("✓ Removed %s (%s)\n", args[0], m)
	return nil
}
