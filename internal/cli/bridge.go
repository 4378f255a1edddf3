package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/imperfect-abs/abshub/internal/daemon"
)

func init() {
	bridgeCmd.Flags().StringVar(&bridgeValue, "value", "", "Wei attached to cover message fees (required)")
	_ = bridgeCmd.MarkFlagRequired("value")
	rootCmd.AddCommand(bridgeCmd)
}

var bridgeValue string

var bridgeCmd = &cobra.Command{
	Use:   "bridge ADDRESS...",
	Short: "Send participants' remote scores to the destination hub",
	Long: `Read each participant's score from the source ledger and send it to
the destination hub. A single address must be eligible; with several, the
ineligible ones are skipped and sending stops when the value runs out.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBridge,
}

func runBridge(cmd *cobra.Command, args []string) error {
	users := make([]common.Address, 0, len(args))
	for _, a := range args {
		u, err := parseUser(a)
		if err != nil {
			return err
		}
		users = append(users, u)
	}
	value, err := parseWei(bridgeValue)
	if err != nil {
		return err
	}

	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()
	if d.Bridge == nil {
		return errors.New("bridge is disabled in config")
	}
	ctx := context.Background()

	if len(users) == 1 {
		rc, err := d.Bridge.BridgeUserData(ctx, users[0], value)
		if err != nil {
			return err
		}
		fmt.Printf("Sent score %d for %s\n", rc.Score, rc.User.Hex())
		fmt.Printf("  Message: %s\n", rc.MessageID.Hex())
		fmt.Printf("  Fee:     %s ETH (refund %s)\n", formatEther(rc.Fee), formatEther(rc.Refund))
		return nil
	}

	res, err := d.Bridge.BridgeMultipleUsers(ctx, users, value)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tRESULT")
	for _, rc := range res.Sent {
		fmt.Fprintf(w, "%s\tsent %d (%s)\n", rc.User.Hex(), rc.Score, rc.MessageID.Hex())
	}
	for _, s := range res.Skipped {
		fmt.Fprintf(w, "%s\tskipped: %s\n", s.User.Hex(), s.Reason)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("Spent %s ETH, refund %s", formatEther(res.Spent), formatEther(res.Refund))
	if res.Stopped {
		fmt.Print(" (stopped: value exhausted)")
	}
	fmt.Println()
	return nil
}
