package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kcbridge/kcbridge/internal/model"
)

var devicesOpts struct {
	reachable bool
	paired    bool
}

var devicesCmd = &cobra.Command{
	Use:   "devices [device-id]",
	Short: "List devices known to the session daemon",
	Long: `List devices known to the kcbridged session daemon.

Without arguments, lists every device with its reachability, pairing
state, and telemetry. With a device id, shows that device in full,
including its plugin records.

Examples:
  # List all devices
  kcbridge devices

  # Only devices that are currently reachable
  kcbridge devices --reachable

  # Show one device as JSON
  kcbridge devices phone-123 -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)

	devicesCmd.Flags().BoolVar(&devicesOpts.reachable, "reachable", false,
		"Only show reachable devices")
	devicesCmd.Flags().BoolVar(&devicesOpts.paired, "paired", false,
		"Only show paired devices")
}

func runDevices(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	client, err := newServiceClient()
	if err != nil {
		return err
	}

	// Single device lookup
	if len(args) == 1 {
		ds, err := client.Device(ctx, args[0])
		if err != nil {
			return err
		}
		return renderOutput(ds, func() string { return deviceDetail(ds) })
	}

	snap, err := client.Snapshot(ctx)
	if err != nil {
		return err
	}
	warnDegraded(snap)

	devices := filterDevices(snap.Devices)
	return renderOutput(devices, func() string {
		if len(devices) == 0 {
			return "No devices found"
		}
		lines := make([]string, 0, len(devices))
		for i := range devices {
			lines = append(lines, deviceLine(&devices[i]))
		}
		return strings.Join(lines, "\n")
	})
}

// filterDevices applies the --reachable and --paired filters.
func filterDevices(devices []model.DeviceSnapshot) []model.DeviceSnapshot {
	if !devicesOpts.reachable && !devicesOpts.paired {
		return devices
	}
	out := make([]model.DeviceSnapshot, 0, len(devices))
	for _, d := range devices {
		if devicesOpts.reachable && !d.Reachable {
			continue
		}
		if devicesOpts.paired && !d.Paired {
			continue
		}
		out = append(out, d)
	}
	return out
}

// deviceDetail renders the multi-line plain view of one device.
func deviceDetail(ds *model.DeviceSnapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n", deviceLine(ds))

	if ds.Pairing != nil && ds.Pairing.State.Pending() {
		fmt.Fprintf(&b, "  pairing: %s (token %d, expires %s)\n",
			ds.Pairing.State, ds.Pairing.Token, ds.Pairing.DeadlineTime().Format("15:04:05"))
	}
	if len(ds.Plugins) > 0 {
		b.WriteString("  plugins:\n")
		for i := range ds.Plugins {
			fmt.Fprintf(&b, "    %s\n", pluginLine(&ds.Plugins[i]))
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
