package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kcbridge/kcbridge/internal/model"
)

var statusOpts struct {
	waybar bool
}

// WaybarStatus represents the Waybar custom module JSON format.
type WaybarStatus struct {
	Text       string `json:"text"`
	Alt        string `json:"alt,omitempty"`
	Tooltip    string `json:"tooltip,omitempty"`
	Class      string `json:"class,omitempty"`
	Percentage int    `json:"percentage,omitempty"`
}

// statusInfo is the summary the status command reports.
type statusInfo struct {
	Connected  bool   `json:"connected" yaml:"connected"`
	Seq        uint64 `json:"seq" yaml:"seq"`
	Devices    int    `json:"devices" yaml:"devices"`
	Reachable  int    `json:"reachable" yaml:"reachable"`
	Paired     int    `json:"paired" yaml:"paired"`
	Pending    int    `json:"pending" yaml:"pending"`
	Suppressed int    `json:"suppressed" yaml:"suppressed"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and device summary",
	Long: `Show the kcbridged daemon state and a device summary.

With --waybar, outputs Waybar's custom module JSON format instead:

  "custom/kcbridge": {
    "exec": "kcbridge status --waybar",
    "interval": 5,
    "return-type": "json",
    "on-click": "kcbridge devices"
  }

The Waybar text is the reachable device count; the class reflects the
bridge state (error, pending, paired, idle).`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusOpts.waybar, "waybar", false,
		"Output Waybar custom module JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	client, err := newServiceClient()
	if err != nil {
		if statusOpts.waybar {
			return outputWaybar(WaybarStatus{Text: "", Alt: "error", Class: "error"})
		}
		return err
	}

	connected, _, err := client.Status(ctx)
	if err != nil {
		// Daemon not running. Waybar consumers want a well-formed
		// error state rather than a broken module.
		if statusOpts.waybar {
			return outputWaybar(WaybarStatus{Text: "", Alt: "error", Class: "error"})
		}
		return err
	}

	snap, err := client.Snapshot(ctx)
	if err != nil {
		if statusOpts.waybar {
			return outputWaybar(WaybarStatus{Text: "", Alt: "error", Class: "error"})
		}
		return err
	}

	info := summarize(connected, snap)

	if statusOpts.waybar {
		return outputWaybar(waybarFromInfo(info, snap))
	}

	return renderOutput(info, func() string {
		var b strings.Builder
		state := "connected"
		if !info.Connected {
			state = "degraded (KDE Connect daemon unreachable)"
		}
		fmt.Fprintf(&b, "kcbridged: %s (seq %d)\n", state, info.Seq)
		fmt.Fprintf(&b, "devices:   %d total, %d reachable, %d paired", info.Devices, info.Reachable, info.Paired)
		if info.Pending > 0 {
			fmt.Fprintf(&b, ", %d pairing", info.Pending)
		}
		if info.Suppressed > 0 {
			fmt.Fprintf(&b, "\nquiet:     %d device(s) with daemon popups suppressed", info.Suppressed)
		}
		return b.String()
	})
}

// summarize folds a snapshot into the status counts.
func summarize(connected bool, snap *model.Snapshot) statusInfo {
	info := statusInfo{
		Connected: connected && !snap.Degraded,
		Seq:       snap.Seq,
		Devices:   len(snap.Devices),
	}
	for i := range snap.Devices {
		d := &snap.Devices[i]
		if d.Reachable {
			info.Reachable++
		}
		if d.Paired {
			info.Paired++
		}
		if d.PairingState().Pending() {
			info.Pending++
		}
		if d.Suppression != nil && d.Suppression.Suppressed {
			info.Suppressed++
		}
	}
	return info
}

// waybarFromInfo creates a WaybarStatus from the status counts.
func waybarFromInfo(info statusInfo, snap *model.Snapshot) WaybarStatus {
	class := "idle"
	switch {
	case !info.Connected:
		class = "error"
	case info.Pending > 0:
		class = "pending"
	case info.Paired > 0:
		class = "paired"
	}

	text := ""
	if info.Reachable > 0 {
		text = fmt.Sprintf("%d", info.Reachable)
	}

	return WaybarStatus{
		Text:       text,
		Alt:        class,
		Tooltip:    buildStatusTooltip(snap),
		Class:      class,
		Percentage: min(info.Reachable, 100),
	}
}

// buildStatusTooltip creates a tooltip with one line per device.
func buildStatusTooltip(snap *model.Snapshot) string {
	if len(snap.Devices) == 0 {
		return "No devices"
	}
	lines := make([]string, 0, len(snap.Devices))
	for i := range snap.Devices {
		d := &snap.Devices[i]
		lines = append(lines, fmt.Sprintf("%s: %s", d.Name, pairStateLabel(d)))
	}
	return strings.Join(lines, "\n")
}

// outputWaybar writes the status as JSON.
func outputWaybar(status WaybarStatus) error {
	encoder := json.NewEncoder(os.Stdout)
	return encoder.Encode(status)
}
