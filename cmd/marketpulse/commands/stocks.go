package commands

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/marketpulse/catalog"
	"github.com/teranos/marketpulse/sym"
)

// StocksCmd manages the stock catalog
var StocksCmd = &cobra.Command{
	Use:   "stocks",
	Short: sym.IX + " Manage the stock catalog",
	Long: sym.IX + ` stocks - Manage the stock catalog

Examples:
  marketpulse stocks seed              # Built-in list of large US listings
  marketpulse stocks sync --max-pages 5
  marketpulse stocks ls --all`,
}

var stocksSyncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Sync active tickers from the feed",
	PreRunE: preflight(true),
	RunE:    runStocksSync,
}

var stocksSeedCmd = &cobra.Command{
	Use:     "seed",
	Short:   "Insert the built-in default stocks",
	PreRunE: preflight(false),
	RunE:    runStocksSeed,
}

var stocksLsCmd = &cobra.Command{
	Use:     "ls",
	Short:   "List tracked stocks",
	PreRunE: preflight(false),
	RunE:    runStocksLs,
}

var (
	syncMaxPages int
	lsAll        bool
	lsLimit      int
)

func init() {
	stocksSyncCmd.Flags().IntVar(&syncMaxPages, "max-pages", 0, "Stop after this many listing pages (0 = all)")
	stocksLsCmd.Flags().BoolVar(&lsAll, "all", false, "Include inactive stocks")
	stocksLsCmd.Flags().IntVar(&lsLimit, "limit", 0, "Maximum rows (0 = all)")

	StocksCmd.AddCommand(stocksSyncCmd)
	StocksCmd.AddCommand(stocksSeedCmd)
	StocksCmd.AddCommand(stocksLsCmd)
}

func runStocksSync(cmd *cobra.Command, args []string) error {
	cfg, err := configFrom(cmd)
	if err != nil {
		return err
	}
	a, err := openApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	spinner, _ := pterm.DefaultSpinner.Start("Syncing tickers from the feed...")
	res, err := catalog.Sync(cmd.Context(), a.feed, a.stocks, syncMaxPages, time.Now(), a.log)
	if err != nil {
		if spinner != nil {
			spinner.Fail(fmt.Sprintf("Sync stopped after %d pages, %d stocks stored", res.Pages, res.Upserted))
		}
		return err
	}

	msg := fmt.Sprintf("Synced %d stocks from %d pages", res.Upserted, res.Pages)
	if !res.Complete {
		msg += " (page limit reached)"
	}
	if spinner != nil {
		spinner.Success(msg)
	} else {
		pterm.Success.Println(msg)
	}
	return nil
}

func runStocksSeed(cmd *cobra.Command, args []string) error {
	cfg, err := configFrom(cmd)
	if err != nil {
		return err
	}
	a, err := openApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := catalog.Seed(cmd.Context(), a.stocks, time.Now())
	if err != nil {
		return err
	}
	pterm.Success.Printf("Seeded %d stocks\n", n)
	return nil
}

func runStocksLs(cmd *cobra.Command, args []string) error {
	cfg, err := configFrom(cmd)
	if err != nil {
		return err
	}
	a, err := openApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	stocks, err := a.stocks.List(cmd.Context(), !lsAll, lsLimit)
	if err != nil {
		return err
	}
	if len(stocks) == 0 {
		pterm.Warning.Println("No stocks tracked yet, run `marketpulse stocks seed` or `marketpulse stocks sync`")
		return nil
	}
	return pterm.DefaultTable.WithHasHeader().WithData(stocksTable(stocks)).Render()
}

func stocksTable(stocks []catalog.Stock) pterm.TableData {
	data := pterm.TableData{{"Symbol", "Name", "Exchange", "Sector", "Active"}}
	for _, st := range stocks {
		active := "yes"
		if !st.Active {
			active = "no"
		}
		data = append(data, []string{st.Symbol, st.Name, st.Exchange, st.Sector, active})
	}
	return data
}
