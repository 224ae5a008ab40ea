// Fleetwatch - Odometer validation and data quality for vehicle fleets.
// Copyright (c) 2025 opensource.fleet
// Licensed under the Apache License 2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-fleet/fleetwatch/internal/config"
	"github.com/opensource-fleet/fleetwatch/internal/domain"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	cfg        *domain.Config
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "fleetwatch",
	Short: "Odometer validation and fleet data quality",
	Long: `Fleetwatch validates odometer readings as they are entered, repairs the
derived distance of stored refuel records, and scores the health of the
fleet database.

Configuration is read from fleetwatch.yaml (or --config) and FLEETWATCH_*
environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Logging, os.Stderr); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
