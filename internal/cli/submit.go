package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/imperfect-abs/abshub/internal/daemon"
	"github.com/imperfect-abs/abshub/internal/domain"
)

func init() {
	f := submitCmd.Flags()
	f.Uint64Var(&submitReps, "reps", 0, "Repetitions completed")
	f.Uint64Var(&submitAccuracy, "accuracy", 0, "Form accuracy, 0-100")
	f.Uint64Var(&submitStreak, "streak", 0, "Consecutive good reps")
	f.Uint64Var(&submitDuration, "duration", 0, "Session length in seconds")
	f.Int64Var(&submitLat, "lat", 0, "Latitude in micro-degrees")
	f.Int64Var(&submitLon, "lon", 0, "Longitude in micro-degrees")
	f.StringVar(&submitValue, "value", "", "Wei attached (defaults to the submission fee)")
	f.DurationVar(&submitWait, "wait", 0, "Run the oracle and wait up to this long for the analysis")
	_ = submitCmd.MarkFlagRequired("reps")
	rootCmd.AddCommand(submitCmd)
}

var (
	submitReps     uint64
	submitAccuracy uint64
	submitStreak   uint64
	submitDuration uint64
	submitLat      int64
	submitLon      int64
	submitValue    string
	submitWait     time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit ADDRESS",
	Short: "Record a workout session for a participant",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

func runSubmit(cmd *cobra.Command, args []string) error {
	user, err := parseUser(args[0])
	if err != nil {
		return err
	}
	value, err := parseWei(submitValue)
	if err != nil {
		return err
	}

	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	if value == nil {
		value = d.Rewards.SubmissionFee()
	}
	ctx := context.Background()
	if submitWait > 0 {
		d.Start(ctx)
	}

	res, err := d.Hub.SubmitWorkoutSession(ctx, domain.Submission{
		User:         user,
		Reps:         submitReps,
		FormAccuracy: submitAccuracy,
		Streak:       submitStreak,
		Duration:     submitDuration,
		Latitude:     submitLat,
		Longitude:    submitLon,
		Value:        value,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Recorded session #%d for %s\n", res.Session.Index, user.Hex())
	fmt.Printf("  Base score: %d\n", res.BaseScore)
	fmt.Printf("  Position:   %d\n", res.Position)
	fmt.Printf("  Fee:        %s ETH (refund %s)\n", formatEther(res.Fee), formatEther(res.Refund))
	if res.OracleErr != "" {
		fmt.Printf("  Analysis:   not requested (%s)\n", res.OracleErr)
		return nil
	}
	fmt.Printf("  Request:    %s\n", res.RequestID.Hex())

	if submitWait <= 0 {
		return nil
	}
	ws, err := waitForAnalysis(ctx, d, res.Session, submitWait)
	if err != nil {
		return err
	}
	fmt.Printf("  Analysis:   %s, %s %d°C, enhanced score %d (weather bonus %d%%)\n",
		ws.Status, ws.Conditions, ws.Temperature, ws.EnhancedScore, ws.WeatherBonus)
	return nil
}

func waitForAnalysis(ctx context.Context, d *daemon.Daemon, ws domain.WorkoutSession, timeout time.Duration) (domain.WorkoutSession, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		cur, err := d.Hub.Session(ctx, ws.User, ws.Index)
		if err != nil {
			return cur, err
		}
		if cur.AnalysisComplete {
			return cur, nil
		}
		select {
		case <-ctx.Done():
			return cur, fmt.Errorf("analysis still %s after %s", cur.Status, timeout)
		case <-ticker.C:
		}
	}
}
