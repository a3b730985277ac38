// Package cmd defines and implements the CLI commands for the chapter-archiver executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapter-archiver/internal/config"
	"github.com/JakeFAU/chapter-archiver/internal/logging"
)

// envKeyType is the key for storing the loaded environment in the context.
type envKeyType string

const envKey envKeyType = "env"

// env carries what every subcommand needs once flags are parsed.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "chapter-archiver",
		Short: "Downloads manga chapters into comic book archives.",
		Long: `chapter-archiver resolves titles on configured content sources, downloads
the selected chapters page by page and packs them into a single .cbz archive
delivered to a local directory or a GCS bucket. It runs as an HTTP service
(serve) or as a one-shot command (download).`,
		SilenceUsage: true,

		// Runs after flags are parsed but before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &env{cfg: &cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, err := resolveEnv(cmd.Context()); err == nil {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env vars use the ARCHIVER_ prefix)")
	cmd.AddCommand(newServeCmd(), newDownloadCmd(), newSearchCmd(), newChaptersCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("configuration not loaded")
	}
	return e, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
