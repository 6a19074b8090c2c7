package main

import (
	"context"

	"github.com/spf13/cobra"
)

var denyCmd = &cobra.Command{
	Use:   "deny <runId> <gateId>",
	Short: "deny an approval gate",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		result, err := client().DenyApproval(context.Background(), args[0], args[1], approvalRitual, approverName, approvalReason, tenantID)
		if err != nil {
			fail(cmd, exitError, err)
		}
		printJSON(cmd, result)
	},
}

func init() {
	denyCmd.Flags().StringVar(&approverName, "approver", "", "identity of the denying operator (required)")
	denyCmd.Flags().StringVar(&approvalReason, "reason", "", "free-text reason recorded with the decision")
	denyCmd.Flags().StringVar(&approvalRitual, "ritual", "", "ritual id the gate belongs to (required)")
	_ = denyCmd.MarkFlagRequired("approver")
	_ = denyCmd.MarkFlagRequired("ritual")
	rootCmd.AddCommand(denyCmd)
}
