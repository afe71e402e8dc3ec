package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/kcbridge/kcbridge/internal/config"
	"github.com/kcbridge/kcbridge/internal/model"
)

// renderOutput writes v to stdout in the configured output format. The
// plain form is built lazily so structured formats skip the work.
func renderOutput(v interface{}, plain func() string) error {
	switch config.OutputFormat(cfg.Output.Format) {
	case config.OutputFormatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
		fmt.Println(string(data))
	case config.OutputFormatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		fmt.Print(string(data))
	default:
		fmt.Println(plain())
	}
	return nil
}

// deviceLine formats one device for plain output.
func deviceLine(ds *model.DeviceSnapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%-24s %s (%s)", ds.ID, ds.Name, ds.Type)

	if ds.Reachable {
		b.WriteString("  reachable")
	} else {
		b.WriteString("  unreachable")
	}

	b.WriteString("  " + pairStateLabel(ds))

	if ds.Battery != nil {
		fmt.Fprintf(&b, "  battery %d%%", ds.Battery.Charge)
		if ds.Battery.Charging {
			b.WriteString("+")
		}
	}
	if ds.Connectivity != nil && ds.Connectivity.NetworkType != "" {
		fmt.Fprintf(&b, "  %s", ds.Connectivity.NetworkType)
	}
	if ds.Suppression != nil && ds.Suppression.Suppressed {
		b.WriteString("  quiet")
	}
	if ds.LastSeen > 0 {
		fmt.Fprintf(&b, "  seen %s", humanize.Time(ds.LastSeenTime()))
	}

	return b.String()
}

// pairStateLabel collapses the effective pairing state into a short
// human label.
func pairStateLabel(ds *model.DeviceSnapshot) string {
	switch ds.PairingState() {
	case model.PairStatePaired:
		return "paired"
	case model.PairStateRequestSent:
		return "pairing (sent)"
	case model.PairStateRequestReceived:
		return "pairing (peer asked)"
	case model.PairStateUnpairing:
		return "unpairing"
	default:
		return "unpaired"
	}
}

// pluginLine formats one plugin record for plain output.
func pluginLine(p *model.PluginRecord) string {
	state := "disabled"
	if p.Enabled {
		state = "enabled"
	}
	if !p.Available {
		state = "unavailable"
	}
	return fmt.Sprintf("%-16s %s", p.Kind, state)
}

// snapshotLine formats a whole snapshot as a one line summary, used by
// the watch command's plain stream.
func snapshotLine(snap *model.Snapshot, showSeq bool) string {
	reachable := 0
	paired := 0
	pending := 0
	for i := range snap.Devices {
		d := &snap.Devices[i]
		if d.Reachable {
			reachable++
		}
		if d.Paired {
			paired++
		}
		if d.PairingState().Pending() {
			pending++
		}
	}

	var b strings.Builder
	if showSeq {
		fmt.Fprintf(&b, "seq=%d ", snap.Seq)
	}
	fmt.Fprintf(&b, "devices=%d reachable=%d paired=%d", len(snap.Devices), reachable, paired)
	if pending > 0 {
		fmt.Fprintf(&b, " pending=%d", pending)
	}
	if snap.Degraded {
		b.WriteString(" degraded")
	}
	return b.String()
}

// warnDegraded prints a stale-data warning to stderr when the daemon
// lost its bus connection. Stdout stays clean for the actual output.
func warnDegraded(snap *model.Snapshot) {
	if snap.Degraded {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "warning: kcbridged lost the KDE Connect daemon, data may be stale")
	}
}
