package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var ringCmd = &cobra.Command{
	Use:   "ring <device-id>",
	Short: "Make a paired device ring",
	Long: `Make a paired device ring at full volume so it can be found.

Ring again (or dismiss on the device) to stop it.`,
	Args: cobra.ExactArgs(1),
	RunE: runRing,
}

func init() {
	rootCmd.AddCommand(ringCmd)
}

func runRing(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	client, err := newServiceClient()
	if err != nil {
		return err
	}
	if err := client.Ring(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Ringing %s\n", args[0])
	return nil
}
