package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teranos/marketpulse/cmd/marketpulse/commands"
	"github.com/teranos/marketpulse/logger"
	"github.com/teranos/marketpulse/sym"
)

var rootCmd = &cobra.Command{
	Use:   "marketpulse",
	Short: sym.Pulse + " marketpulse - rate-limited market data ingestion and analysis",
	Long: sym.Pulse + ` marketpulse - rate-limited market data ingestion and analysis

marketpulse keeps a catalog of stocks fresh within an external feed's call
budget. Each batch picks the stalest, most active symbols, fetches prices and
fundamentals, derives indicators, forecasts closes and writes a daily report.

Available commands:
  run       - Run one batch now
  update    - Re-derive entities priced in the last days, without the feed
  loop      - Run batches back to back until a wall-clock cutoff
  schedule  - Run batches on an interval or at daily times
  fetch     - Fetch prices and fundamentals for one symbol
  stocks    - Manage the stock catalog
  state     - Show per-symbol ingestion state
  runs      - Show batch history
  db        - Manage the marketpulse database
  am        - Manage marketpulse configuration ("I am")

Examples:
  marketpulse stocks seed             # Start with the built-in universe
  marketpulse run --limit 10          # One batch of the 10 highest-priority symbols
  marketpulse run --symbols AAPL,MSFT # One batch of explicit symbols
  marketpulse loop --max-hours 5.5    # Continuous, bounded
  marketpulse schedule --at 09:30,16:00`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit JSON log lines")
	rootCmd.PersistentFlags().String("config", "", "Read configuration from this TOML file only")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.UpdateCmd)
	rootCmd.AddCommand(commands.LoopCmd)
	rootCmd.AddCommand(commands.ScheduleCmd)
	rootCmd.AddCommand(commands.FetchCmd)
	rootCmd.AddCommand(commands.StocksCmd)
	rootCmd.AddCommand(commands.StateCmd)
	rootCmd.AddCommand(commands.RunsCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	logger.Cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
