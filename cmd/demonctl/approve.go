package main

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	approverName   string
	approvalReason string
	approvalRitual string
)

var approveCmd = &cobra.Command{
	Use:   "approve <runId> <gateId>",
	Short: "grant an approval gate",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		result, err := client().GrantApproval(context.Background(), args[0], args[1], approvalRitual, approverName, approvalReason, tenantID)
		if err != nil {
			fail(cmd, exitError, err)
		}
		printJSON(cmd, result)
	},
}

func init() {
	approveCmd.Flags().StringVar(&approverName, "approver", "", "identity of the approving operator (required)")
	approveCmd.Flags().StringVar(&approvalReason, "reason", "", "free-text reason recorded with the decision")
	approveCmd.Flags().StringVar(&approvalRitual, "ritual", "", "ritual id the gate belongs to (required)")
	_ = approveCmd.MarkFlagRequired("approver")
	_ = approveCmd.MarkFlagRequired("ritual")
	rootCmd.AddCommand(approveCmd)
}
