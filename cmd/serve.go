package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/chapter-archiver/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API and the archive pipeline",
		Long: `Starts the worker pool and the HTTP API. Front ends submit jobs with
POST /v1/jobs and cancel an owner's job with POST /v1/owners/{owner_id}/cancel.
SIGINT or SIGTERM stops intake and drains queued jobs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), e.cfg, e.logger)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
}
