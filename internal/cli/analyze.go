package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/imperfect-abs/abshub/internal/daemon"
)

func init() {
	analyzeCmd.Flags().DurationVar(&analyzeWait, "wait", 30*time.Second, "How long to wait for the analysis (0 queues it for the next serve)")
	rootCmd.AddCommand(analyzeCmd)
}

var analyzeWait time.Duration

var analyzeCmd = &cobra.Command{
	Use:   "analyze ADDRESS INDEX",
	Short: "Re-request the weather analysis for a session (operator only)",
	Long: `Sends a fresh oracle request for a session whose analysis never
completed. The node's operator key must own the hub.`,
	Args: cobra.ExactArgs(2),
	RunE: runAnalyze,
}

func parseSessionIndex(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid session index %q", s)
	}
	return n, nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	user, err := parseUser(args[0])
	if err != nil {
		return err
	}
	index, err := parseSessionIndex(args[1])
	if err != nil {
		return err
	}

	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	ctx := context.Background()
	if analyzeWait > 0 {
		d.Start(ctx)
	}
	id, err := d.Hub.RequestAnalysis(ctx, d.Keypair.Address(), user, index)
	if err != nil {
		return err
	}
	fmt.Printf("Requested analysis for %s#%d\n", user.Hex(), index)
	fmt.Printf("  Request:    %s\n", id.Hex())

	if analyzeWait <= 0 {
		fmt.Println("  Analysis:   queued; 'abshub serve' will send it")
		return nil
	}
	ws, err := d.Hub.Session(ctx, user, index)
	if err != nil {
		return err
	}
	ws, err = waitForAnalysis(ctx, d, ws, analyzeWait)
	if err != nil {
		return err
	}
	fmt.Printf("  Analysis:   %s, %s %d°C, enhanced score %d (weather bonus %d%%)\n",
		ws.Status, ws.Conditions, ws.Temperature, ws.EnhancedScore, ws.WeatherBonus)
	return nil
}
