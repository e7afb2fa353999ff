package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/sznuper/smbdoctor/internal/checks"
	"github.com/sznuper/smbdoctor/internal/config"
	"github.com/sznuper/smbdoctor/internal/platform"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the smbdoctor configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, cfgFile)
		if err != nil {
			return err
		}
		adapter, err := platform.Detect(platform.Config{})
		if err != nil {
			return err
		}
		if _, err := checks.DefaultRegistry(adapter, nil).Plan(); err != nil {
			return err
		}

		scheduled := 0
		for _, t := range cfg.Targets {
			if t.Trigger.Scheduled() {
				scheduled++
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s config ok: %d targets (%d scheduled), %d services\n",
			styles.pass.Render("✓"), len(cfg.Targets), scheduled, len(cfg.Services))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

// loadConfig resolves, overlays flags onto, and validates the config.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	cfg, err := config.Resolve(path)
	if err != nil {
		return nil, err
	}
	applyOptionFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config:\n%w", err)
	}
	return cfg, nil
}
