package cli

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/repomedic/internal/analytics"
	"github.com/lucasnoah/repomedic/internal/results"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show run history and fix statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		db, err := results.Open(filepath.Join(cfg.Workspace.ResultsDir, "history.db"))
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return fmt.Errorf("migrate history: %w", err)
		}

		totals, err := analytics.QueryRunTotals(db)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Runs: %d  Completed: %d  Failed: %d  Passed: %d\n",
			totals.Runs, totals.Completed, totals.Failed, totals.Passed)
		fmt.Fprintf(out, "Avg iterations: %.1f  Avg fixes: %.1f\n\n",
			totals.AvgIterations, totals.AvgFixes)

		stats, err := analytics.QueryBugTypeStats(db)
		if err != nil {
			return err
		}
		if len(stats) > 0 {
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "BUG TYPE\tATTEMPTS\tFIXED\tFIX RATE")
			for _, s := range stats {
				fmt.Fprintf(w, "%s\t%d\t%d\t%.1f%%\n", s.BugType, s.Attempts, s.Fixed, s.FixRate)
			}
			w.Flush()
			fmt.Fprintln(out)
		}

		runs, err := analytics.QueryRecentRuns(db, historyLimit)
		if err != nil {
			return err
		}
		if len(runs) > 0 {
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tREPO\tSTATUS\tSTATE\tITER\tFIXES\tSECONDS\tSTARTED")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%.0f\t%s\n",
					shortID(r.RunID), r.RepoURL, r.FinalStatus, r.State,
					r.Iterations, r.TotalFixes, r.TimeSeconds, r.StartedAt)
			}
			w.Flush()
		}
		return nil
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of recent runs to show")
}
