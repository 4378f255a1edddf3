package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/imperfect-abs/abshub/internal/daemon"
	"github.com/imperfect-abs/abshub/internal/domain"
)

func init() {
	allowlistCmd.PersistentFlags().BoolVar(&allowlistRemove, "remove", false, "Disallow instead of allow")
	allowlistCmd.AddCommand(allowlistChainCmd, allowlistSenderCmd)
	rootCmd.AddCommand(allowlistCmd, chainsCmd)
}

var allowlistRemove bool

var allowlistCmd = &cobra.Command{
	Use:   "allowlist",
	Short: "Manage which remote chains and senders may update scores",
}

var allowlistChainCmd = &cobra.Command{
	Use:   "chain CHAIN",
	Short: "Allow a configured source chain (name or selector)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAllowlistChain,
}

var allowlistSenderCmd = &cobra.Command{
	Use:   "sender CHAIN ADDRESS",
	Short: "Allow a sender contract on a source chain",
	Args:  cobra.ExactArgs(2),
	RunE:  runAllowlistSender,
}

var chainsCmd = &cobra.Command{
	Use:   "chains",
	Short: "List the hub's remote chain slots",
	Args:  cobra.NoArgs,
	RunE:  runChains,
}

// lookupChain resolves a chain by configured name or decimal selector.
func lookupChain(d *daemon.Daemon, s string) (domain.Chain, error) {
	known := append([]domain.Chain{d.Hub.Config().LocalChain}, d.Hub.Chains()...)
	for _, c := range known {
		if c.Name == s || c.Selector.String() == s {
			return c, nil
		}
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return domain.Chain{Selector: domain.ChainSelector(n)}, nil
	}
	return domain.Chain{}, fmt.Errorf("unknown chain %q", s)
}

func runAllowlistChain(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	chain, err := lookupChain(d, args[0])
	if err != nil {
		return err
	}
	if err := d.Hub.AllowlistSourceChain(context.Background(), d.Owner, chain.Selector, !allowlistRemove); err != nil {
		return err
	}
	fmt.Printf("Chain %s allowed=%v\n", args[0], !allowlistRemove)
	return nil
}

func runAllowlistSender(cmd *cobra.Command, args []string) error {
	sender, err := parseUser(args[1])
	if err != nil {
		return err
	}
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	chain, err := lookupChain(d, args[0])
	if err != nil {
		return err
	}
	if err := d.Hub.AllowlistSender(context.Background(), d.Owner, chain.Selector, sender, !allowlistRemove); err != nil {
		return err
	}
	fmt.Printf("Sender %s on %s allowed=%v\n", sender.Hex(), args[0], !allowlistRemove)
	return nil
}

func runChains(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSELECTOR\tROLE")
	hc := d.Hub.Config()
	fmt.Fprintf(w, "%s\t%s\tlocal\n", hc.LocalChain.Name, hc.LocalChain.Selector)
	for _, c := range d.Hub.Chains() {
		fmt.Fprintf(w, "%s\t%s\tremote\n", c.Name, c.Selector)
	}
	if d.Bridge != nil {
		fmt.Fprintf(w, "%s\t%s\tbridge source\n", d.CCIP.Source().Name, d.CCIP.Source().Selector)
	}
	return w.Flush()
}
