// Package main is the entry point for the kcbridged session daemon.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kcbridge/kcbridge/internal/arbiter"
	"github.com/kcbridge/kcbridge/internal/bus"
	"github.com/kcbridge/kcbridge/internal/config"
	"github.com/kcbridge/kcbridge/internal/dbus"
	"github.com/kcbridge/kcbridge/internal/notify"
	"github.com/kcbridge/kcbridge/internal/pairing"
	"github.com/kcbridge/kcbridge/internal/plugins"
	"github.com/kcbridge/kcbridge/internal/registry"
	"github.com/kcbridge/kcbridge/internal/session"
)

var (
	// Build-time variables
	version = "dev"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file (default: ~/.config/kcbridge/kcbridged.toml)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		println("kcbridged version", version)
		os.Exit(0)
	}

	// Load configuration before logging so the log level applies from
	// the first line.
	cfg, err := config.LoadDaemonConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	logger.Info("starting kcbridged", "version", version)

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Connect to the session bus
	gateway := bus.NewGateway(cfg.Bus, logger)
	if err := gateway.Start(ctx); err != nil {
		logger.Error("failed to connect to session bus", "error", err)
		os.Exit(1)
	}

	client := bus.NewClient(gateway, logger)
	reg := registry.NewRegistry()
	machine := pairing.NewMachine(cfg.Pairing.Timeout.Duration(), cfg.InboundWins(), logger)
	negotiator := plugins.NewNegotiator(func(id string) bool {
		d := reg.Get(id)
		return d != nil && d.Paired
	}, logger)

	// Notification suppression is optional; the daemon runs fine
	// without it when the settings file location cannot be resolved.
	var arb *arbiter.Arbiter
	settingsPath, err := arbiter.DefaultSettingsPath()
	if err != nil {
		logger.Warn("suppression disabled, no settings path", "error", err)
	} else {
		if err := config.EnsureDataDir(); err != nil {
			logger.Warn("failed to create data directory", "error", err)
		}
		arb = arbiter.NewArbiter(arbiter.NewFileStore(settingsPath), config.BackupPath(), cfg.Suppression.Enabled, logger)
	}

	// Pairing popups are optional too; without a notification service
	// inbound requests are still visible through snapshots and the CLI.
	notifier := notify.NewNotifier(logger)
	havePrompter := true
	if err := notifier.Start(); err != nil {
		logger.Warn("pairing popups disabled", "error", err)
		havePrompter = false
	}

	deps := session.Deps{
		Daemon:   client,
		Registry: reg,
		Pairing:  machine,
		Plugins:  negotiator,
		Logger:   logger,
	}
	if arb != nil {
		deps.Arbiter = arb
	}
	if havePrompter {
		deps.Prompter = notifier
	}

	manager := session.NewManager(deps)
	notifier.SetActionHandler(manager.HandlePairAction)

	if err := manager.Start(ctx, gateway.Events()); err != nil {
		logger.Error("failed to start session manager", "error", err)
		os.Exit(1)
	}

	// Expose the control surface
	service := dbus.NewService(manager, logger)
	if err := service.Start(); err != nil {
		logger.Error("failed to start control service", "error", err)
		os.Exit(1)
	}

	// Poll as a fallback for daemon builds that do not signal every
	// pair state change.
	poller := bus.NewPoller(cfg.Bus.PollInterval.Duration(), logger)
	poller.SetPollCallback(func() {
		manager.Resync(ctx)
	})
	if err := poller.Start(ctx); err != nil {
		logger.Warn("failed to start poller", "error", err)
	}

	// Watch the daemon settings file so external edits are folded back
	// into the suppression state.
	var watcher *arbiter.SettingsWatcher
	if arb != nil {
		watcher = arbiter.NewSettingsWatcher(settingsPath, func() {
			if err := arb.ReconcileExternal(); err != nil {
				logger.Warn("failed to reconcile settings change", "error", err)
			}
		})
		if err := watcher.Start(); err != nil {
			logger.Warn("failed to watch settings file", "error", err)
			watcher = nil
		}
	}

	logger.Info("kcbridged ready", "bus_name", dbus.ServiceName)

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()

	// Clean up in reverse start order
	if watcher != nil {
		watcher.Stop()
	}
	poller.Stop()
	if err := service.Stop(); err != nil {
		logger.Warn("error stopping control service", "error", err)
	}
	notifier.Stop()
	manager.Stop()
	gateway.Stop()

	logger.Info("kcbridged stopped")
}

// logLevel maps a config level string onto slog. Unknown values fall
// back to info.
func logLevel(s string) slog.Level {
	switch s {
	case string(config.LogLevelDebug):
		return slog.LevelDebug
	case string(config.LogLevelWarn):
		return slog.LevelWarn
	case string(config.LogLevelError):
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
