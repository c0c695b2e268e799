package commands

import (
	"fmt"
	"sort"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/marketpulse/db"
	"github.com/teranos/marketpulse/errors"
	"github.com/teranos/marketpulse/logger"
	"github.com/teranos/marketpulse/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the marketpulse database",
	Long: sym.DB + ` db - Manage the marketpulse database

Examples:
  marketpulse db migrate          # Apply pending migrations
  marketpulse db stats            # Row counts and feed usage over the last 24h
  marketpulse db prune --days 30  # Drop feed call records older than 30 days`,
}

var dbMigrateCmd = &cobra.Command{
	Use:     "migrate",
	Short:   "Apply pending migrations",
	PreRunE: preflight(false),
	RunE:    runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Show row counts and feed usage",
	PreRunE: preflight(false),
	RunE:    runDbStats,
}

var dbPruneCmd = &cobra.Command{
	Use:     "prune",
	Short:   "Delete old feed call records",
	PreRunE: preflight(false),
	RunE:    runDbPrune,
}

var pruneDays int

func init() {
	dbPruneCmd.Flags().IntVar(&pruneDays, "days", 30, "Keep feed call records from this many days")

	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
	DbCmd.AddCommand(dbPruneCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := configFrom(cmd)
	if err != nil {
		return err
	}
	path := cfg.GetDatabasePath()
	dbLog := logger.AddDBSymbol(logger.Logger)

	database, err := db.Open(path, dbLog)
	if err != nil {
		return errors.Wrapf(err, "failed to open database at %s", path)
	}
	defer database.Close()

	applied, err := db.MigrateCount(database, dbLog)
	if err != nil {
		return errors.Wrapf(err, "failed to run migrations on %s", path)
	}
	versions, err := db.AppliedVersions(database)
	if err != nil {
		return err
	}
	pterm.Success.Printf("%s: %d migrations applied, schema at %d versions\n", path, applied, len(versions))
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := configFrom(cmd)
	if err != nil {
		return err
	}
	a, err := openApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	total, active, err := a.stocks.Counts(ctx)
	if err != nil {
		return err
	}
	counts, err := a.market.Counts(ctx)
	if err != nil {
		return err
	}
	usage, err := a.usage.DailyUsage(ctx, time.Now())
	if err != nil {
		return err
	}

	fmt.Printf("%s Database Statistics\n", sym.DB)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path:  %s\n", cfg.GetDatabasePath())
	fmt.Printf("Stocks:         %d (%d active)\n", total, active)
	fmt.Println()

	data := pterm.TableData{{"Table", "Rows"}}
	tables := make([]string, 0, len(counts))
	for table := range counts {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		data = append(data, []string{table, fmt.Sprint(counts[table])})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}
	fmt.Println()

	fmt.Printf("Feed usage (last 24h):\n")
	fmt.Printf("  Calls:          %d\n", usage.Calls)
	fmt.Printf("  Failures:       %d\n", usage.Failures)
	fmt.Printf("  Rate limited:   %d\n", usage.RateLimited)
	fmt.Printf("  Avg latency:    %s\n", usage.AvgDuration.Round(time.Millisecond))
	fmt.Printf("  Budget:         %d calls/minute\n", cfg.Ingest.MaxAPICallsPerMinute)
	return nil
}

func runDbPrune(cmd *cobra.Command, args []string) error {
	cfg, err := configFrom(cmd)
	if err != nil {
		return err
	}
	if pruneDays < 1 {
		return errors.Wrapf(errors.ErrInvalidRequest, "--days must be >= 1, got %d", pruneDays)
	}
	a, err := openApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.usage.Prune(cmd.Context(), time.Now().AddDate(0, 0, -pruneDays))
	if err != nil {
		return err
	}
	pterm.Success.Printf("Pruned %d feed call records older than %d days\n", n, pruneDays)
	return nil
}
