package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kcbridge/kcbridge/internal/config"
	"github.com/kcbridge/kcbridge/internal/model"
)

var watchOpts struct {
	showSeq bool
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream state snapshots as they change",
	Long: `Stream state snapshots from kcbridged as devices appear, pair,
and report telemetry. Runs until interrupted.

Plain output is one summary line per snapshot. With --output json the
stream is one JSON document per line, suitable for piping into jq:

  kcbridge watch -o json | jq '.devices[].name'`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVar(&watchOpts.showSeq, "seq", true,
		"Prefix plain output with the snapshot sequence number")
}

func runWatch(cmd *cobra.Command, args []string) error {
	// The config default applies unless --seq was given explicitly.
	showSeq := watchOpts.showSeq
	if !cmd.Flags().Changed("seq") {
		showSeq = cfg.Watch.ShowSeq
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newServiceClient()
	if err != nil {
		return err
	}

	// Show the current state before streaming changes.
	initCtx, cancel := cmdContext()
	snap, err := client.Snapshot(initCtx)
	cancel()
	if err != nil {
		return err
	}
	if err := printWatchSnapshot(snap, showSeq); err != nil {
		return err
	}

	err = client.Watch(ctx, func(snap *model.Snapshot) {
		if err := printWatchSnapshot(snap, showSeq); err != nil {
			logger.Warn("failed to print snapshot", "error", err)
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// printWatchSnapshot writes one snapshot in the configured format.
// Structured formats stream one document per event.
func printWatchSnapshot(snap *model.Snapshot, showSeq bool) error {
	switch config.OutputFormat(cfg.Output.Format) {
	case config.OutputFormatJSON:
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	case config.OutputFormatYAML:
		data, err := yaml.Marshal(snap)
		if err != nil {
			return err
		}
		fmt.Printf("---\n%s", data)
	default:
		fmt.Println(snapshotLine(snap, showSeq))
	}
	return nil
}
