package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/repomedic/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the remediation API server",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		s := buildStack(cfg)
		defer s.close()

		srv := web.NewServer(s.orch, s.status, s.bus, s.store)
		return srv.ListenAndServe(fmt.Sprintf(":%d", cfg.Server.Port))
	},
}
