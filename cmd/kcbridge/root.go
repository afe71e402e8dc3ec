// Package main provides the CLI entrypoint for kcbridge.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kcbridge/kcbridge/internal/config"
	"github.com/kcbridge/kcbridge/internal/dbus"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// Global configuration and state
var (
	cfg        *config.Config
	globalOpts struct {
		verbose    bool
		configPath string
		output     string
		timeout    time.Duration
	}
	logger *slog.Logger
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "kcbridge",
	Short: "Control KDE Connect device sessions from the command line",
	Long: `kcbridge is the command line client for the kcbridged session daemon.

It lists devices known to the KDE Connect daemon, drives pairing
(request, accept, reject, cancel, unpair), toggles per-device plugins,
and streams live state snapshots as they change.

All commands talk to kcbridged over its D-Bus interface; start the
daemon first.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Setup logging
		setupLogger()

		// Load configuration
		var err error
		cfg, err = config.LoadConfig(globalOpts.configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Command line output format overrides the config file
		if globalOpts.output != "" {
			cfg.Output.Format = globalOpts.output
		}
		if !validOutputFormat(cfg.Output.Format) {
			return fmt.Errorf("invalid output format %q, must be one of: %v",
				cfg.Output.Format, config.ValidOutputFormats())
		}

		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&globalOpts.verbose, "verbose", "v", false,
		"Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&globalOpts.configPath, "config", "",
		"Path to config file (default: ~/.config/kcbridge/kcbridge.toml)")
	rootCmd.PersistentFlags().StringVarP(&globalOpts.output, "output", "o", "",
		"Output format (plain, json, yaml)")
	rootCmd.PersistentFlags().DurationVar(&globalOpts.timeout, "timeout", 10*time.Second,
		"Timeout for daemon calls")
}

// setupLogger configures the global slog logger.
func setupLogger() {
	level := slog.LevelWarn
	if globalOpts.verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	// Log to stderr so stdout is clean for output
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// validOutputFormat reports whether s names a known output format.
func validOutputFormat(s string) bool {
	for _, f := range config.ValidOutputFormats() {
		if s == string(f) {
			return true
		}
	}
	return false
}

// newServiceClient connects to the kcbridged control interface.
func newServiceClient() (*dbus.Client, error) {
	client, err := dbus.NewClient()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return client, nil
}

// cmdContext returns the per-command call context bound by --timeout.
func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), globalOpts.timeout)
}
