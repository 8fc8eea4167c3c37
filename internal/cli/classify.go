package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/repomedic/internal/bugs"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <log-file>",
	Short: "Classify a saved test log into bug records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read log: %w", err)
		}

		found := bugs.NewClassifier().Classify(string(data))

		out, err := json.MarshalIndent(found, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}
