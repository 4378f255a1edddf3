package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/imperfect-abs/abshub/internal/daemon"
	"github.com/imperfect-abs/abshub/internal/domain"
)

func init() {
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum sessions to show")
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(sessionsCmd)
}

var sessionsLimit int

var scoreCmd = &cobra.Command{
	Use:   "score ADDRESS",
	Short: "Show a participant's composite score",
	Args:  cobra.ExactArgs(1),
	RunE:  runScore,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions ADDRESS",
	Short: "List a participant's workout sessions",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessions,
}

func runScore(cmd *cobra.Command, args []string) error {
	user, err := parseUser(args[0])
	if err != nil {
		return err
	}
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	us, err := d.Hub.Score(context.Background(), user)
	if err != nil {
		return err
	}
	if us.Position == 0 {
		fmt.Printf("%s has no recorded activity.\n", user.Hex())
		return nil
	}

	fmt.Printf("User:      %s (position %d)\n", user.Hex(), us.Position)
	fmt.Printf("Reps:      %d over %d sessions\n", us.Local.TotalReps, us.Local.SessionsCompleted)
	fmt.Printf("Accuracy:  %d%%\n", us.Local.AverageFormAccuracy)
	fmt.Printf("Streak:    %d\n", us.Local.BestStreak)
	fmt.Printf("Score:     %d local + %d cross-chain on %d chains, +%d bps = %d\n",
		us.Breakdown.Local, us.Breakdown.CrossChain, us.Breakdown.ActiveChains,
		us.Breakdown.BonusBps, us.Breakdown.Total)

	if len(us.CrossChain.Slots) == 0 {
		return nil
	}
	names := make(map[domain.ChainSelector]string)
	for _, c := range d.Hub.Chains() {
		names[c.Selector] = c.Name
	}
	sels := make([]domain.ChainSelector, 0, len(us.CrossChain.Slots))
	for sel := range us.CrossChain.Slots {
		sels = append(sels, sel)
	}
	sort.Slice(sels, func(i, j int) bool { return names[sels[i]] < names[sels[j]] })

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nCHAIN\tSCORE")
	for _, sel := range sels {
		name := names[sel]
		if name == "" {
			name = sel.String()
		}
		fmt.Fprintf(w, "%s\t%d\n", name, us.CrossChain.Slots[sel])
	}
	return w.Flush()
}

func runSessions(cmd *cobra.Command, args []string) error {
	user, err := parseUser(args[0])
	if err != nil {
		return err
	}
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	sessions, err := d.Hub.Sessions(context.Background(), user, 0, sessionsLimit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tREPS\tFORM\tSTREAK\tSTATUS\tENHANCED\tSUBMITTED")
	for _, s := range sessions {
		fmt.Fprintf(w, "%d\t%d\t%d%%\t%d\t%s\t%d\t%s\n",
			s.Index, s.Reps, s.FormAccuracy, s.Streak, s.Status, s.EnhancedScore,
			s.SubmittedAt.Format("2006-01-02 15:04"),
		)
	}
	return w.Flush()
}
