package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:     "stats <tenant-id> <user-id>",
	Short:   "Show a user's counters",
	GroupID: "counters",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := chatClient.GetUserStats(context.Background(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}
		if jsonOutput {
			printJSON(stats)
			return nil
		}
		printUserStats(cmd.OutOrStdout(), stats)
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:     "reconcile <tenant-id> <user-id>",
	Short:   "Recompute a user's counters from the chat tables",
	GroupID: "counters",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := chatClient.Reconcile(context.Background(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("reconciling: %w", err)
		}
		if jsonOutput {
			printJSON(report)
			return nil
		}
		printReconcileReport(cmd.OutOrStdout(), report)
		return nil
	},
}
