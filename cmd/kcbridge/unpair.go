package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var unpairCmd = &cobra.Command{
	Use:   "unpair <device-id>",
	Short: "Drop the pairing with a device",
	Long: `Drop the pairing with a device.

The device stays in the registry so its record and telemetry remain
visible; pair again at any time with 'kcbridge pair'.`,
	Args: cobra.ExactArgs(1),
	RunE: runUnpair,
}

func init() {
	rootCmd.AddCommand(unpairCmd)
}

func runUnpair(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	client, err := newServiceClient()
	if err != nil {
		return err
	}
	if err := client.Unpair(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Unpaired %s\n", args[0])
	return nil
}
