package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sunspot-io/sunspot/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "sunspot",
	Short: "Solar shadow analysis for street-level points",
	Long:  "Computes sun position for a point and time, traces the sun ray against nearby building footprints, and reports whether the point sits in sun or shadow with renderable 3D ray geometry.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
