package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	historyLimit  int
	historyAction string
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [OPERATION-ID]",
		Short: "List past operations",
		Long: `List recorded apply, remove and restore operations, newest first.
Given an operation ID, show the outcome of each target in that operation.`,
		Example: `  proxysync history
  proxysync history --limit 5 --action apply
  proxysync history 6f1c2d9e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: historyRun,
	}

	cmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of operations to show")
	cmd.Flags().StringVar(&historyAction, "action", "", "only show one action (apply, clear, restore)")

	return cmd
}

func historyRun(cmd *cobra.Command, args []string) error {
	if globalStore == nil {
		return fmt.Errorf("history is disabled")
	}
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		op, err := globalStore.GetOperation(args[0])
		if err != nil {
			return err
		}
		results, err := globalStore.ListTargetResults(op.ID)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "Operation %s\n", op.ID)
		fmt.Fprintf(out, "Action:   %s\n", op.Action)
		if op.Host != "" {
			fmt.Fprintf(out, "Endpoint: %s:%s (auth: %t)\n", op.Host, op.Port, op.HasAuth)
		}
		fmt.Fprintf(out, "Started:  %s (%s)\n", op.StartTime.Format("2006-01-02 15:04:05"), humanize.Time(op.StartTime))
		fmt.Fprintf(out, "Status:   %s\n", op.Status)
		fmt.Fprintln(out, "")
		fmt.Fprintf(out, "%-8s %-8s %8s  %s\n", "Target", "Status", "Took", "Error")
		fmt.Fprintln(out, strings.Repeat("-", 60))
		for _, r := range results {
			fmt.Fprintf(out, "%-8s %-8s %6dms  %s\n", r.Target, r.Status, r.DurationMS, r.Error)
		}
		return nil
	}

	ops, err := globalStore.ListOperations(historyAction, historyLimit)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		fmt.Fprintln(out, "No operations recorded.")
		return nil
	}

	fmt.Fprintf(out, "%-36s %-8s %-22s %-8s %s\n", "ID", "Action", "Endpoint", "Status", "When")
	fmt.Fprintln(out, strings.Repeat("-", 96))
	for _, op := range ops {
		endpoint := "-"
		if op.Host != "" {
			endpoint = op.Host + ":" + op.Port
		}
		fmt.Fprintf(out, "%-36s %-8s %-22s %-8s %s\n", op.ID, op.Action, endpoint, op.Status, humanize.Time(op.StartTime))
	}
	return nil
}
