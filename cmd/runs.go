package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/qrels-cli/internal/model"
	"github.com/sells-group/qrels-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stage run history",
	Long:  "Commands for listing, viewing, and summarizing dedup, align, tune and validate runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stage runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stage, _ := cmd.Flags().GetString("stage")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		asJSON, _ := cmd.Flags().GetBool("json")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Stage:  model.Stage(stage),
			Status: model.RunStatus(status),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if asJSON {
			return writeJSON(cmd.OutOrStdout(), runs)
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

// -- runs show --

// runDetail is the full record of one run.
type runDetail struct {
	*model.Run
	Phases     []model.RunPhase       `json:"phase_rows"`
	Strategies []model.StrategyResult `json:"strategy_rows,omitempty"`
	Conflicts  []model.Conflict       `json:"conflict_rows,omitempty"`
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		detail := runDetail{Run: run}

		if detail.Phases, err = st.ListPhases(ctx, run.ID); err != nil {
			return eris.Wrap(err, "runs show")
		}
		if detail.Strategies, err = st.ListStrategyResults(ctx, run.ID); err != nil {
			return eris.Wrap(err, "runs show")
		}
		if withConflicts, _ := cmd.Flags().GetBool("conflicts"); withConflicts {
			if detail.Conflicts, err = st.ListConflicts(ctx, run.ID); err != nil {
				return eris.Wrap(err, "runs show")
			}
		}

		return writeJSON(cmd.OutOrStdout(), detail)
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics per stage",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runs, err := st.ListRuns(ctx, store.RunFilter{Limit: 10000}) // high limit for stats
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(cmd.OutOrStdout(), computeRunStats(runs))
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("stage", "", "filter by stage (dedup, align, tune, validate)")
	runsListCmd.Flags().String("status", "", "filter by run status (queued, running, complete, failed)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsListCmd.Flags().Int("offset", 0, "number of runs to skip")
	runsListCmd.Flags().Bool("json", false, "print runs as JSON")

	runsShowCmd.Flags().Bool("conflicts", false, "include the conflicts recorded by a dedup run")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode json")
}

// stageStats holds aggregate statistics for one stage.
type stageStats struct {
	Stage      model.Stage
	Total      int
	Complete   int
	Failed     int
	Other      int
	AvgDurSecs float64
}

// computeRunStats computes aggregate statistics per stage, in pipeline order.
func computeRunStats(runs []model.Run) []stageStats {
	order := []model.Stage{model.StageDedup, model.StageAlign, model.StageTune, model.StageValidate}
	byStage := make(map[model.Stage]*stageStats, len(order))
	durations := make(map[model.Stage]time.Duration, len(order))

	for _, r := range runs {
		s, ok := byStage[r.Stage]
		if !ok {
			s = &stageStats{Stage: r.Stage}
			byStage[r.Stage] = s
		}
		s.Total++
		switch r.Status {
		case model.RunStatusComplete:
			s.Complete++
			durations[r.Stage] += r.UpdatedAt.Sub(r.CreatedAt)
		case model.RunStatusFailed:
			s.Failed++
		default:
			s.Other++
		}
	}

	var out []stageStats
	for _, stage := range order {
		s, ok := byStage[stage]
		if !ok {
			continue
		}
		if s.Complete > 0 {
			s.AvgDurSecs = durations[stage].Seconds() / float64(s.Complete)
		}
		out = append(out, *s)
	}
	return out
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTAGE\tSTATUS\tCREATED\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "--\t-----\t------\t-------\t--------\t-----")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()

		errMsg := r.Error
		if len(errMsg) > 40 {
			errMsg = errMsg[:37] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Stage,
			r.Status,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
			errMsg,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes per-stage stats to w.
func formatRunStats(out io.Writer, stats []stageStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STAGE\tTOTAL\tCOMPLETE\tFAILED\tOTHER\tAVG DURATION")
	for _, s := range stats {
		avg := "-"
		if s.AvgDurSecs > 0 {
			avg = fmt.Sprintf("%.1fs", s.AvgDurSecs)
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\n", s.Stage, s.Total, s.Complete, s.Failed, s.Other, avg)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
