package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/repomedic/internal/orchestrator"
	"github.com/lucasnoah/repomedic/internal/status"
)

var runFlags struct {
	repo    string
	team    string
	leader  string
	retries int
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one remediation synchronously and print the summary",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		retries := runFlags.retries
		if retries <= 0 {
			retries = cfg.Run.RetryLimit
		}

		s := buildStack(cfg)
		defer s.close()

		err = s.orch.Run(cmd.Context(), orchestrator.RunParams{
			RepoURL:    runFlags.repo,
			Team:       runFlags.team,
			Leader:     runFlags.leader,
			RetryLimit: retries,
		})
		if err != nil {
			return err
		}

		snap := s.status.Snapshot()
		if snap.State == status.Failed {
			return fmt.Errorf("run failed: %s", snap.Error)
		}

		sum, ok, err := s.store.Load()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("run produced no summary")
		}

		out, err := json.MarshalIndent(sum, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runFlags.repo, "repo", "", "repository URL to remediate")
	runCmd.Flags().StringVar(&runFlags.team, "team", "", "team name for the fix branch")
	runCmd.Flags().StringVar(&runFlags.leader, "leader", "", "leader name for the fix branch")
	runCmd.Flags().IntVar(&runFlags.retries, "retries", 0, "retry budget (default from config)")
	_ = runCmd.MarkFlagRequired("repo")
}
