package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping <device-id>",
	Short: "Send a ping to a paired device",
	Long:  `Send a ping to a paired device. The device shows a short notification.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
}

func runPing(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	client, err := newServiceClient()
	if err != nil {
		return err
	}
	if err := client.Ping(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Pinged %s\n", args[0])
	return nil
}
