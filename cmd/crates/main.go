package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alfredjeanlab/crates/internal/config"
	"github.com/alfredjeanlab/crates/internal/ui"
	"github.com/spf13/cobra"
)

var (
	logFormat  string
	logLevel   string
	colorFlag  string
	jsonOutput bool

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "crates <command>",
	Short:         "Vinyl catalog event pipeline",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		mode, err := ui.ParseColorMode(colorFlag)
		if err != nil {
			return err
		}
		ui.Setup(mode)
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-format") {
			cfg.LogFormat = logFormat
		}
		logger, err = newLogger(cfg.LogFormat, logLevel)
		return err
	},
}

func newLogger(format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("log format %q: want text or json", format)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log output format (text or json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().StringVar(&colorFlag, "color", "auto", "colorize output (auto, always, never)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "pipeline", Title: "Pipeline:"},
		&cobra.Group{ID: "catalog", Title: "Catalog:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Pipeline
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(outboxCmd)
	rootCmd.AddCommand(consumeCmd)
	rootCmd.AddCommand(bridgeCmd)

	// Catalog
	rootCmd.AddCommand(albumCmd)
	rootCmd.AddCommand(importCmd)

	// System
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}
