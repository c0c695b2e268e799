package commands

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"gopkg.in/yaml.v3"

	"github.com/teranos/marketpulse/pipeline"
	"github.com/teranos/marketpulse/pulse/schedule"
)

const timeLayout = "2006-01-02 15:04"

// outcomeTable renders one row per processed symbol, in processing order
func outcomeTable(out *pipeline.BatchOutcome) pterm.TableData {
	data := pterm.TableData{{"Symbol", "Result", "Stage", "Prices", "Indicators", "Predictions", "Signal", "Elapsed"}}
	for _, symbol := range out.Order {
		r := out.Results[symbol]
		if r == nil {
			continue
		}
		result, signal := "ok", ""
		if !r.OK {
			result = "failed"
		}
		if r.Report != nil {
			signal = string(r.Report.Signal)
		}
		data = append(data, []string{
			symbol,
			result,
			r.FailedStage,
			strconv.Itoa(r.PricesStored),
			strconv.Itoa(r.IndicatorsStored),
			strconv.Itoa(r.PredictionsStored),
			signal,
			r.Elapsed.Round(time.Millisecond).String(),
		})
	}
	return data
}

// printOutcome shows a batch result table, its failures and the summary line
func printOutcome(out *pipeline.BatchOutcome) error {
	if out == nil {
		return nil
	}
	if len(out.Order) > 0 {
		if err := pterm.DefaultTable.WithHasHeader().WithData(outcomeTable(out)).Render(); err != nil {
			return err
		}
	}
	for _, symbol := range out.Order {
		if r := out.Results[symbol]; r != nil && !r.OK && r.Err != nil {
			pterm.Printf("  %s %s %s\n", pterm.Red("✗"), pterm.Yellow(symbol), pterm.Gray(r.Err.Error()))
		}
	}
	if out.ExportErr != nil {
		pterm.Warning.Printf("Export incomplete: %v\n", out.ExportErr)
	}

	s := out.Summary
	line := fmt.Sprintf("Batch %s: %d processed, %d failed, %d skipped in %s",
		s.BatchID, s.Processed, s.Failed, s.Skipped, s.Duration.Round(time.Millisecond))
	if s.Failed > 0 {
		pterm.Warning.Println(line)
	} else {
		pterm.Success.Println(line)
	}
	return nil
}

// stateView is the rendered form of one ingestion state
type stateView struct {
	Symbol          string  `json:"symbol" yaml:"symbol"`
	PriorityScore   float64 `json:"priority_score" yaml:"priority_score"`
	SuccessStreak   int     `json:"success_streak" yaml:"success_streak"`
	FailureStreak   int     `json:"failure_streak" yaml:"failure_streak"`
	LastPrice       string  `json:"last_price_update,omitempty" yaml:"last_price_update,omitempty"`
	LastFundamental string  `json:"last_fundamental_update,omitempty" yaml:"last_fundamental_update,omitempty"`
	LastPrediction  string  `json:"last_prediction,omitempty" yaml:"last_prediction,omitempty"`
	LastRunAt       string  `json:"last_run_at,omitempty" yaml:"last_run_at,omitempty"`
	NextRunAt       string  `json:"next_run_at,omitempty" yaml:"next_run_at,omitempty"`
	AvgRuntimeMS    *int64  `json:"avg_runtime_ms,omitempty" yaml:"avg_runtime_ms,omitempty"`
}

func newStateView(st *schedule.State) stateView {
	return stateView{
		Symbol:          st.Symbol,
		PriorityScore:   st.PriorityScore,
		SuccessStreak:   st.SuccessStreak,
		FailureStreak:   st.FailureStreak,
		LastPrice:       formatOptional(st.LastPriceUpdate, time.RFC3339),
		LastFundamental: formatOptional(st.LastFundamentalUpdate, time.RFC3339),
		LastPrediction:  formatOptional(st.LastPrediction, time.RFC3339),
		LastRunAt:       formatOptional(st.LastRunAt, time.RFC3339),
		NextRunAt:       formatOptional(st.NextRunAt, time.RFC3339),
		AvgRuntimeMS:    st.AvgRuntimeMS,
	}
}

// renderStates encodes states as table, json or yaml
func renderStates(states []*schedule.State, format string) (string, error) {
	views := make([]stateView, 0, len(states))
	for _, st := range states {
		views = append(views, newStateView(st))
	}

	switch format {
	case "json":
		data, err := json.MarshalIndent(views, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal state to JSON: %w", err)
		}
		return string(data) + "\n", nil
	case "yaml":
		data, err := yaml.Marshal(views)
		if err != nil {
			return "", fmt.Errorf("failed to marshal state to YAML: %w", err)
		}
		return string(data), nil
	case "table":
		data := pterm.TableData{{"Symbol", "Score", "Streak", "Last price", "Last run", "Next run"}}
		for _, st := range states {
			data = append(data, []string{
				st.Symbol,
				strconv.FormatFloat(st.PriorityScore, 'f', 2, 64),
				streak(st),
				formatOptional(st.LastPriceUpdate, timeLayout),
				formatOptional(st.LastRunAt, timeLayout),
				formatOptional(st.NextRunAt, timeLayout),
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	default:
		return "", fmt.Errorf("unsupported format: %s (supported: table, json, yaml)", format)
	}
}

// streak renders the active streak, +N for successes and -N for failures
func streak(st *schedule.State) string {
	switch {
	case st.FailureStreak > 0:
		return "-" + strconv.Itoa(st.FailureStreak)
	case st.SuccessStreak > 0:
		return "+" + strconv.Itoa(st.SuccessStreak)
	default:
		return "0"
	}
}

func formatOptional(t *time.Time, layout string) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(layout)
}
