package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imperfect-abs/abshub/internal/daemon"
)

func init() {
	f := bridgeAdminCmd.Flags()
	f.StringVar(&bridgeAdminActive, "active", "", "Pause (false) or resume (true) bridging")
	f.StringVar(&bridgeAdminRemote, "remote", "", "Rebind the remote ledger contract")
	f.StringVar(&bridgeAdminDest, "dest", "", "Destination chain (name or selector)")
	f.StringVar(&bridgeAdminReceiver, "receiver", "", "Hub address on the destination chain")
	rootCmd.AddCommand(bridgeAdminCmd)
}

var (
	bridgeAdminActive   string
	bridgeAdminRemote   string
	bridgeAdminDest     string
	bridgeAdminReceiver string
)

var bridgeAdminCmd = &cobra.Command{
	Use:   "bridge-admin",
	Short: "Show or change the bridge's owner settings",
	Args:  cobra.NoArgs,
	RunE:  runBridgeAdmin,
}

func runBridgeAdmin(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()
	if d.Bridge == nil {
		return errors.New("bridge is disabled in config")
	}
	ctx := context.Background()

	switch bridgeAdminActive {
	case "":
	case "true", "false":
		if err := d.Bridge.SetActive(ctx, d.Owner, bridgeAdminActive == "true"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("--active must be true or false")
	}
	if bridgeAdminRemote != "" {
		addr, err := parseUser(bridgeAdminRemote)
		if err != nil {
			return err
		}
		if err := d.Bridge.SetRemoteContract(ctx, d.Owner, addr); err != nil {
			return err
		}
	}
	if bridgeAdminDest != "" || bridgeAdminReceiver != "" {
		cur := d.Bridge.Config()
		dest, receiver := cur.Destination, cur.Receiver
		if bridgeAdminDest != "" {
			if dest, err = lookupChain(d, bridgeAdminDest); err != nil {
				return err
			}
		}
		if bridgeAdminReceiver != "" {
			if receiver, err = parseUser(bridgeAdminReceiver); err != nil {
				return err
			}
		}
		if err := d.Bridge.SetDestination(ctx, d.Owner, dest, receiver); err != nil {
			return err
		}
	}

	bc := d.Bridge.Config()
	fmt.Printf("Active:      %v\n", bc.Active)
	fmt.Printf("Sender:      %s on %s\n", bc.Address.Hex(), d.CCIP.Source().Name)
	fmt.Printf("Remote:      %s\n", bc.RemoteContract.Hex())
	fmt.Printf("Destination: %s (%s)\n", bc.Destination.Name, bc.Destination.Selector)
	fmt.Printf("Receiver:    %s\n", bc.Receiver.Hex())
	fmt.Printf("Cooldown:    %s, threshold %d, batch %d\n", bc.Cooldown, bc.MinScoreThreshold, bc.MaxBatchSize)
	return nil
}
