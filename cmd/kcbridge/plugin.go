package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kcbridge/kcbridge/internal/model"
)

// pluginCmd represents the plugin command group.
var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Inspect and toggle per-device plugins",
	Long: `Inspect and toggle the KDE Connect plugins of a paired device.

Plugin kinds use short names (clipboard, battery, ping, ...); run
'kcbridge plugin list <device-id>' to see what a device offers.
Toggling requires the device to be paired.`,
}

// pluginListCmd lists the plugin records of one device.
var pluginListCmd = &cobra.Command{
	Use:   "list <device-id>",
	Short: "List the plugins a device offers",
	Args:  cobra.ExactArgs(1),
	RunE:  pluginListRun,
}

// pluginEnableCmd enables a plugin.
var pluginEnableCmd = &cobra.Command{
	Use:   "enable <device-id> <kind>",
	Short: "Enable a plugin on a paired device",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return pluginToggleRun(args[0], args[1], true)
	},
}

// pluginDisableCmd disables a plugin.
var pluginDisableCmd = &cobra.Command{
	Use:   "disable <device-id> <kind>",
	Short: "Disable a plugin on a paired device",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return pluginToggleRun(args[0], args[1], false)
	},
}

func init() {
	pluginCmd.AddCommand(pluginListCmd)
	pluginCmd.AddCommand(pluginEnableCmd)
	pluginCmd.AddCommand(pluginDisableCmd)

	rootCmd.AddCommand(pluginCmd)
}

func pluginListRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	client, err := newServiceClient()
	if err != nil {
		return err
	}

	ds, err := client.Device(ctx, args[0])
	if err != nil {
		return err
	}

	return renderOutput(ds.Plugins, func() string {
		if len(ds.Plugins) == 0 {
			return "No plugins reported"
		}
		lines := make([]string, 0, len(ds.Plugins))
		for i := range ds.Plugins {
			lines = append(lines, pluginLine(&ds.Plugins[i]))
		}
		return strings.Join(lines, "\n")
	})
}

func pluginToggleRun(deviceID, kindArg string, enabled bool) error {
	kind, ok := model.ParsePluginKind(kindArg)
	if !ok {
		return fmt.Errorf("unknown plugin kind %q, known kinds: %v", kindArg, model.KnownPluginKinds())
	}

	ctx, cancel := cmdContext()
	defer cancel()

	client, err := newServiceClient()
	if err != nil {
		return err
	}
	if err := client.SetPluginEnabled(ctx, deviceID, kind, enabled); err != nil {
		return err
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Printf("Plugin %s %s on %s\n", kind, state, deviceID)
	return nil
}
