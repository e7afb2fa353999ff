package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/sznuper/smbdoctor/internal/runner"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "smbdoctor",
	Short: "Diagnose SMB file share connectivity",
	Long: "smbdoctor checks whether a host can reach and use an SMB file share: local client tooling, " +
		"reachability, ports, share listing, access and a test mount. Results can be sent via Shoutrrr.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	registerOptionFlags(rootCmd)
}

func setupLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid --log-level %q, using warn\n", logLevel)
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(runner.ExitUsage)
	}
}
