package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/marketpulse/pulse/schedule"
	"github.com/teranos/marketpulse/sym"
)

// StateCmd shows per-symbol ingestion state
var StateCmd = &cobra.Command{
	Use:   "state [SYMBOL]",
	Short: sym.Pulse + " Show ingestion state",
	Long: sym.Pulse + ` state - Show per-symbol ingestion state

Without a symbol, lists states in the order they come due.

Examples:
  marketpulse state
  marketpulse state AAPL --format json`,
	Args:    cobra.MaximumNArgs(1),
	PreRunE: preflight(false),
	RunE:    runState,
}

// RunsCmd shows batch history
var RunsCmd = &cobra.Command{
	Use:     "runs",
	Short:   sym.Pulse + " Show batch history",
	PreRunE: preflight(false),
	RunE:    runRuns,
}

var (
	stateFormat string
	stateLimit  int
	runsLimit   int
)

func init() {
	StateCmd.Flags().StringVar(&stateFormat, "format", "table", "Output format: table, json, yaml")
	StateCmd.Flags().IntVar(&stateLimit, "limit", 50, "Maximum rows when listing (0 = all)")
	RunsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Number of recent runs to show")
}

func runState(cmd *cobra.Command, args []string) error {
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
	var states []*schedule.State
	if len(args) == 1 {
		st, err := a.states.GetStateBySymbol(ctx, args[0])
		if err != nil {
			return err
		}
		states = []*schedule.State{st}
	} else {
		states, err = a.states.ListStates(ctx, stateLimit)
		if err != nil {
			return err
		}
	}

	out, err := renderStates(states, stateFormat)
	if err != nil {
		return err
	}
	fmt.Print(out)

	if stateFormat == "table" && len(args) == 0 {
		cov, err := a.states.CoverageSince(ctx, time.Now().AddDate(0, 0, -cfg.Ingest.CoverageWindowDays))
		if err != nil {
			return err
		}
		pterm.Info.Printf("Coverage (%dd): %d/%d fresh, %d never fetched, %d failing\n",
			cfg.Ingest.CoverageWindowDays, cov.Fresh, cov.Active, cov.Never, cov.Failing)
	}
	return nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := configFrom(cmd)
	if err != nil {
		return err
	}
	a, err := openApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.runs.ListRuns(cmd.Context(), runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		pterm.Info.Println("No batches recorded yet")
		return nil
	}
	return pterm.DefaultTable.WithHasHeader().WithData(runsTable(runs)).Render()
}

func runsTable(runs []*schedule.Run) pterm.TableData {
	data := pterm.TableData{{"ID", "Trigger", "Status", "Requested", "Processed", "Failed", "Started", "Duration", "Error"}}
	for _, r := range runs {
		duration := "running"
		if r.CompletedAt != nil {
			duration = r.Duration().Round(time.Second).String()
		}
		id := r.ID
		if len(id) > 8 {
			id = id[:8]
		}
		data = append(data, []string{
			id,
			r.Trigger,
			r.Status,
			strconv.Itoa(r.Requested),
			strconv.Itoa(r.Processed),
			strconv.Itoa(r.Failed),
			r.StartedAt.UTC().Format(timeLayout),
			duration,
			r.ErrorMessage,
		})
	}
	return data
}
