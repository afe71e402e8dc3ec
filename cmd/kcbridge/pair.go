package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kcbridge/kcbridge/internal/dbus"
	"github.com/kcbridge/kcbridge/internal/model"
)

var pairOpts struct {
	wait bool
}

// pairWaitTimeout bounds --wait. Slightly longer than the daemon's
// request expiry, so timeouts are decided by the daemon rather than
// guessed here.
const pairWaitTimeout = 35 * time.Second

// pairCmd represents the pair command group.
var pairCmd = &cobra.Command{
	Use:   "pair <device-id>",
	Short: "Request and manage device pairing",
	Long: `Request pairing with a device, or settle a request a device sent us.

'kcbridge pair <device-id>' sends an outbound pair request. The peer
has a limited time to respond before the request expires.

Use 'kcbridge pair accept <device-id>' to accept an inbound request.
Use 'kcbridge pair reject <device-id>' to reject an inbound request.
Use 'kcbridge pair cancel <device-id>' to withdraw a request we sent.`,
	Args: cobra.ExactArgs(1),
	RunE: pairRequestRun,
}

// pairAcceptCmd accepts an inbound pair request.
var pairAcceptCmd = &cobra.Command{
	Use:   "accept <device-id>",
	Short: "Accept a pair request from a device",
	Args:  cobra.ExactArgs(1),
	RunE:  pairAcceptRun,
}

// pairRejectCmd rejects an inbound pair request.
var pairRejectCmd = &cobra.Command{
	Use:   "reject <device-id>",
	Short: "Reject a pair request from a device",
	Args:  cobra.ExactArgs(1),
	RunE:  pairRejectRun,
}

// pairCancelCmd withdraws an outbound pair request.
var pairCancelCmd = &cobra.Command{
	Use:   "cancel <device-id>",
	Short: "Withdraw a pair request we sent",
	Args:  cobra.ExactArgs(1),
	RunE:  pairCancelRun,
}

func init() {
	pairCmd.AddCommand(pairAcceptCmd)
	pairCmd.AddCommand(pairRejectCmd)
	pairCmd.AddCommand(pairCancelCmd)

	pairCmd.Flags().BoolVarP(&pairOpts.wait, "wait", "w", false,
		"Block until the peer responds or the request expires")

	rootCmd.AddCommand(pairCmd)
}

func pairRequestRun(cmd *cobra.Command, args []string) error {
	deviceID := args[0]

	ctx, cancel := cmdContext()
	defer cancel()

	client, err := newServiceClient()
	if err != nil {
		return err
	}

	token, err := client.RequestPair(ctx, deviceID)
	if err != nil {
		return err
	}
	fmt.Printf("Pair request sent to %s (token %d)\n", deviceID, token)

	if !pairOpts.wait {
		return nil
	}
	return waitForPairing(client, deviceID)
}

func pairAcceptRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	client, err := newServiceClient()
	if err != nil {
		return err
	}
	if err := client.AcceptPair(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Accepted pair request from %s\n", args[0])
	return nil
}

func pairRejectRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	client, err := newServiceClient()
	if err != nil {
		return err
	}
	if err := client.RejectPair(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Rejected pair request from %s\n", args[0])
	return nil
}

func pairCancelRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	client, err := newServiceClient()
	if err != nil {
		return err
	}
	if err := client.CancelPair(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Cancelled pair request to %s\n", args[0])
	return nil
}

// waitForPairing blocks until the outstanding request settles, then
// reports the outcome. Failure to pair is an error so scripts see a
// non-zero exit.
func waitForPairing(client *dbus.Client, deviceID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), pairWaitTimeout)
	defer cancel()

	// The request may have settled before the signal watch attaches.
	if ds, err := client.Device(ctx, deviceID); err == nil && !ds.PairingState().Pending() {
		return reportPairing(ds)
	}

	fmt.Println("Waiting for the peer to respond...")

	watchCtx, stop := context.WithCancel(ctx)
	defer stop()

	err := client.Watch(watchCtx, func(snap *model.Snapshot) {
		ds := snap.Device(deviceID)
		if ds == nil || !ds.PairingState().Pending() {
			stop()
		}
	})
	if err != nil && ctx.Err() == nil && watchCtx.Err() == nil {
		return err
	}

	// Read the final state fresh. A timed out watch still reports
	// whatever the daemon settled on.
	finalCtx, finalCancel := cmdContext()
	defer finalCancel()

	ds, err := client.Device(finalCtx, deviceID)
	if err != nil {
		return err
	}
	return reportPairing(ds)
}

// reportPairing prints the settled outcome of a pair request.
func reportPairing(ds *model.DeviceSnapshot) error {
	switch ds.PairingState() {
	case model.PairStatePaired:
		fmt.Printf("Paired with %s\n", ds.Name)
		return nil
	case model.PairStateRequestSent, model.PairStateRequestReceived:
		return fmt.Errorf("pairing with %s still pending", ds.ID)
	default:
		return fmt.Errorf("pairing with %s did not complete", ds.ID)
	}
}
