package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/imperfect-abs/abshub/internal/daemon"
)

func init() {
	leaderboardCmd.Flags().IntVarP(&leaderboardTop, "top", "n", 10, "Number of participants to show")
	rootCmd.AddCommand(leaderboardCmd)
}

var leaderboardTop int

var leaderboardCmd = &cobra.Command{
	Use:     "leaderboard",
	Aliases: []string{"top"},
	Short:   "Show the top participants by composite score",
	RunE:    runLeaderboard,
}

func runLeaderboard(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	entries, err := d.Hub.Top(context.Background(), leaderboardTop)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No participants yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tUSER\tLOCAL\tCROSS-CHAIN\tCHAINS\tTOTAL")
	for i, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%d\n",
			i+1, e.User.Hex(), e.LocalScore, e.CrossChainScore, e.ActiveChains, e.TotalScore)
	}
	return w.Flush()
}
