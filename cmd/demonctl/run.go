package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/afewell-hh/demon/internal/demonctlclient"
	"github.com/afewell-hh/demon/internal/ritual"
)

var (
	runApp            string
	runVersion        string
	runParametersJSON string
	runIdempotencyKey string
	runWait           bool
	runWaitTimeout    time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <ritual>",
	Short: "schedule a ritual run",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ritualName := args[0]

		var params map[string]interface{}
		if runParametersJSON != "" {
			if err := json.Unmarshal([]byte(runParametersJSON), &params); err != nil {
				fail(cmd, exitConfig, fmt.Errorf("invalid --parameters JSON: %w", err))
			}
		}
		if runApp == "" {
			fail(cmd, exitConfig, fmt.Errorf("--app is required"))
		}

		ctx := context.Background()
		res, err := client().ScheduleRun(ctx, ritualName, demonctlclient.ScheduleRunRequest{
			App:            runApp,
			Version:        runVersion,
			Parameters:     params,
			TenantID:       tenantID,
			IdempotencyKey: runIdempotencyKey,
		})
		if err != nil {
			fail(cmd, exitError, err)
		}

		if runWait {
			rec, err := waitForTerminal(ctx, ritualName, runApp, res.RunID, runWaitTimeout)
			if err != nil {
				fail(cmd, exitError, err)
			}
			printJSON(cmd, rec)
			if rec.Status == ritual.StatusFailed {
				fail(cmd, exitError, fmt.Errorf("run %s failed: %s", rec.RunID, rec.Error))
			}
			return
		}
		printJSON(cmd, res)
	},
}

var runGetCmd = &cobra.Command{
	Use:   "get <ritual> <runId>",
	Short: "fetch a run's current record",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		rec, err := client().GetRun(context.Background(), args[0], args[1], runApp)
		if err != nil {
			fail(cmd, exitError, err)
		}
		printJSON(cmd, rec)
	},
}

var runListCmd = &cobra.Command{
	Use:   "list <ritual>",
	Short: "list runs for a ritual",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runs, err := client().ListRuns(context.Background(), args[0], runApp, ritual.RunStatus(runStatusFilter), runListLimit)
		if err != nil {
			fail(cmd, exitError, err)
		}
		printJSON(cmd, runs)
	},
}

var runCancelCmd = &cobra.Command{
	Use:   "cancel <ritual> <runId>",
	Short: "cancel a running run",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := client().CancelRun(context.Background(), args[0], args[1], runApp); err != nil {
			fail(cmd, exitError, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "canceled")
	},
}

var (
	runStatusFilter string
	runListLimit    int
)

func init() {
	runCmd.Flags().StringVar(&runApp, "app", "", "app pack name (required)")
	runCmd.Flags().StringVar(&runVersion, "version", "", "app pack version (defaults to latest installed)")
	runCmd.Flags().StringVar(&runParametersJSON, "parameters", "", "ritual parameters as a JSON object")
	runCmd.Flags().StringVar(&runIdempotencyKey, "idempotency-key", "", "idempotency key for this schedule request")
	runCmd.Flags().BoolVar(&runWait, "wait", false, "block until the run reaches a terminal state")
	runCmd.Flags().DurationVar(&runWaitTimeout, "wait-timeout", 2*time.Minute, "maximum time to wait with --wait")

	runGetCmd.Flags().StringVar(&runApp, "app", "", "app pack name (required)")
	runListCmd.Flags().StringVar(&runApp, "app", "", "app pack name (required)")
	runListCmd.Flags().StringVar(&runStatusFilter, "status", "", "filter by run status")
	runListCmd.Flags().IntVar(&runListLimit, "limit", 0, "maximum number of runs to return")
	runCancelCmd.Flags().StringVar(&runApp, "app", "", "app pack name (required)")

	runCmd.AddCommand(runGetCmd, runListCmd, runCancelCmd)
	rootCmd.AddCommand(runCmd)
}

func waitForTerminal(ctx context.Context, ritualName, app, runID string, timeout time.Duration) (ritual.RunRecord, error) {
	deadline := time.Now().Add(timeout)
	c := client()
	for {
		rec, err := c.GetRun(ctx, ritualName, runID, app)
		if err != nil {
			return ritual.RunRecord{}, err
		}
		switch rec.Status {
		case ritual.StatusCompleted, ritual.StatusFailed, ritual.StatusCanceled:
			return rec, nil
		}
		if time.Now().After(deadline) {
			return ritual.RunRecord{}, fmt.Errorf("run %s did not reach a terminal state within %s", runID, timeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func printJSON(cmd *cobra.Command, v interface{}) {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
