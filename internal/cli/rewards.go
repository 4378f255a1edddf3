package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/imperfect-abs/abshub/internal/daemon"
	"github.com/imperfect-abs/abshub/internal/domain"
)

func init() {
	distributeCmd.Flags().BoolVar(&distributeEmergency, "emergency", false, "Distribute now, ignoring the period")
	rootCmd.AddCommand(distributeCmd)
	rootCmd.AddCommand(claimCmd)
	rootCmd.AddCommand(poolCmd)
}

var distributeEmergency bool

var distributeCmd = &cobra.Command{
	Use:   "distribute",
	Short: "Pay the reward pool out to the top participants",
	Args:  cobra.NoArgs,
	RunE:  runDistribute,
}

var claimCmd = &cobra.Command{
	Use:   "claim ADDRESS",
	Short: "Pay out a participant's pending rewards",
	Args:  cobra.ExactArgs(1),
	RunE:  runClaim,
}

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Show the reward pool and recent distributions",
	Args:  cobra.NoArgs,
	RunE:  runPool,
}

func runDistribute(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	trigger := domain.TriggerManual
	if distributeEmergency {
		trigger = domain.TriggerEmergency
	}
	dist, err := d.Rewards.Distribute(context.Background(), d.Owner, trigger)
	if err != nil {
		return err
	}

	fmt.Printf("Distributed %s of %s ETH (%s)\n", formatEther(dist.Paid), formatEther(dist.Pool), dist.Trigger)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tUSER\tSCORE\tWEIGHT\tAMOUNT")
	for _, p := range dist.Payouts {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\n", p.Rank+1, p.User.Hex(), p.Score, p.Weight, formatEther(p.Amount))
	}
	return w.Flush()
}

func runClaim(cmd *cobra.Command, args []string) error {
	user, err := parseUser(args[0])
	if err != nil {
		return err
	}
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	amount, err := d.Rewards.Claim(context.Background(), user)
	if err != nil {
		return err
	}
	fmt.Printf("Paid %s ETH to %s\n", formatEther(amount), user.Hex())
	return nil
}

func runPool(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	ctx := context.Background()
	pool, err := d.Rewards.Pool(ctx)
	if err != nil {
		return err
	}
	due, err := d.Rewards.CheckUpkeep(ctx)
	if err != nil {
		return err
	}
	cfg := d.Rewards.Config()
	fmt.Printf("Pool:   %s ETH\n", formatEther(pool))
	fmt.Printf("Fee:    %s ETH per submission\n", formatEther(cfg.SubmissionFee))
	fmt.Printf("Period: %s, top %d (due: %v)\n", cfg.Period, cfg.TopN, due)

	history, err := d.Rewards.History(ctx, 5)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nWHEN\tTRIGGER\tPOOL\tPAID\tRECIPIENTS")
	for _, h := range history {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			h.At.Format("2006-01-02 15:04"), h.Trigger, formatEther(h.Pool), formatEther(h.Paid), len(h.Payouts))
	}
	return w.Flush()
}
