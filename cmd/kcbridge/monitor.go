package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kcbridge/kcbridge/internal/bus"
	"github.com/kcbridge/kcbridge/internal/config"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print raw KDE Connect daemon events",
	Long: `Passively observe the KDE Connect daemon's D-Bus signals and print
one line per event.

This taps the daemon directly and works without kcbridged running,
which makes it useful for checking what the daemon actually emits when
the bridge misbehaves. Nothing is written back to the daemon.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw := bus.NewGateway(config.DefaultDaemonConfig().Bus, logger)
	if err := gw.Start(ctx); err != nil {
		return err
	}
	defer gw.Stop()

	fmt.Fprintln(os.Stderr, "monitoring KDE Connect daemon signals, press Ctrl-C to stop")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-gw.Events():
			if !ok {
				return nil
			}
			fmt.Println(eventLine(ev))
		}
	}
}

// eventLine formats one gateway event for the monitor stream.
func eventLine(ev bus.Event) string {
	line := fmt.Sprintf("%s %-20s", time.Now().Format("15:04:05"), ev.Type)
	if ev.DeviceID != "" {
		line += " " + ev.DeviceID
	}

	switch ev.Type {
	case bus.EventDeviceName:
		line += fmt.Sprintf(" name=%q", ev.Name)
	case bus.EventDeviceVisibility:
		line += fmt.Sprintf(" visible=%t", ev.Visible)
	case bus.EventDeviceReachable:
		line += fmt.Sprintf(" reachable=%t", ev.Reachable)
	case bus.EventPairState:
		line += fmt.Sprintf(" state=%s", bus.PairStateFromDaemon(ev.PairState))
	case bus.EventBatteryRefreshed:
		line += fmt.Sprintf(" charge=%d%% charging=%t", ev.Charge, ev.Charging)
	case bus.EventConnectivityReport:
		line += fmt.Sprintf(" network=%s strength=%d", ev.NetworkType, ev.SignalStrength)
	}
	return line
}
