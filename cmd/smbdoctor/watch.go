package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/sznuper/smbdoctor/internal/config"
	"github.com/sznuper/smbdoctor/internal/runner"
	"github.com/sznuper/smbdoctor/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Diagnose configured targets on their triggers",
	Long: "Runs every target that has a trigger on its interval or cron schedule and sends notifications " +
		"subject to each target's cooldown. The config file is reloaded when it changes.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		logger := setupLogger()

		path, err := config.FindPath(cfgFile)
		if err != nil {
			return err
		}

		w := watch.New(path,
			func(p string) (*config.Config, error) { return loadConfig(cmd, p) },
			func(cfg *config.Config) (*runner.Runner, error) { return runner.New(cfg, nil, logger) },
			logger,
		)
		w.DryRun = dryRun

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		logger.Info("watching", "config", path)
		return w.Run(ctx)
	},
}

func init() {
	watchCmd.Flags().Bool("dry-run", false, "render and validate notifications without sending them")
	rootCmd.AddCommand(watchCmd)
}
