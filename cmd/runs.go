package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/landcover/internal/model"
	"github.com/sells-group/landcover/internal/monitoring"
	"github.com/sells-group/landcover/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect classification run history",
	Long:  "Commands for listing and viewing classification runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List classification runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		year, _ := cmd.Flags().GetInt("year")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.RunFilter{
			Status: model.RunStatus(status),
			Year:   year,
			Limit:  limit,
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

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

		phases, _ := cmd.Flags().GetBool("phases")
		if phases {
			list, err := st.ListPhases(ctx, run.ID)
			if err != nil {
				return eris.Wrap(err, "runs show")
			}
			formatPhases(os.Stdout, list)
			return nil
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run and export statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		hours := int(since.Hours())
		if hours < 1 {
			hours = 1
		}

		snap, err := monitoring.NewCollector(st).Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}
		formatRunStats(os.Stdout, snap)

		alert, _ := cmd.Flags().GetBool("alert")
		if alert {
			alerter := monitoring.NewAlerter(cfg.Monitoring)
			alerts := alerter.Evaluate(snap)
			for _, a := range alerts {
				fmt.Fprintf(os.Stderr, "ALERT %s: %s\n", a.Type, a.Message)
			}
			alerter.SendAlerts(ctx, alerts)
		}
		return nil
	},
}

func init() {
	runsStatsCmd.Flags().Duration("since", 7*24*time.Hour, "time window for stats (e.g. 24h, 168h)")
	runsStatsCmd.Flags().Bool("alert", false, "evaluate alert thresholds and send to the configured webhook")

	runsListCmd.Flags().String("status", "", "filter by run status (queued, fetching, complete, failed, ...)")
	runsListCmd.Flags().Int("year", 0, "filter by processing year")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsShowCmd.Flags().Bool("phases", false, "show per-phase timings instead of the run record")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tYEAR\tAOI\tSTATUS\tEXPORTS\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t----\t---\t------\t-------\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()

		exports := "-"
		if r.Result != nil && len(r.Result.Exports) > 0 {
			total := len(r.Result.Exports)
			exports = fmt.Sprintf("%d/%d", total-r.Result.FailedExports(), total)
		}

		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Params.Year,
			r.Params.AOI,
			r.Status,
			exports,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatPhases writes one line per phase with its status and duration.
func formatPhases(out io.Writer, phases []model.RunPhase) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PHASE\tSTATUS\tDURATION\tERROR")
	for _, p := range phases {
		dur, errMsg := "-", ""
		if p.Result != nil {
			dur = (time.Duration(p.Result.Duration) * time.Millisecond).String()
			errMsg = p.Result.Error
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, p.Status, dur, errMsg)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.RunsTotal)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.RunsComplete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.RunsFailed)
	_, _ = fmt.Fprintf(w, "In progress:\t%d\n", s.RunsActive)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_, _ = fmt.Fprintf(w, "Exports:\t%d (%d failed)\n", s.ExportsTotal, s.ExportsFailed)
	if len(s.FailingRegions) > 0 {
		_, _ = fmt.Fprintf(w, "  Failing regions:\t%s\n", strings.Join(s.FailingRegions, ", "))
	}
	if s.ApproximateRuns > 0 {
		_, _ = fmt.Fprintf(w, "Approximate normalization:\t%d\n", s.ApproximateRuns)
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
