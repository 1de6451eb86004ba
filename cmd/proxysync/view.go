package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/proxysync/internal/inspect"
	"github.com/BadgerOps/proxysync/internal/target"
)

func newViewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Show the proxy currently set in the apt config",
		RunE:  viewRun,
	}
}

func viewRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	cur, err := inspect.ReadCurrent(globalCfg.Targets.AptConf)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cur.Render())
	return nil
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the proxy each target is configured with",
		Long: `Read back every file target and show the proxy URLs found in it, with
passwords redacted. Snap and git cannot be read back; their last recorded
outcome from the history database is shown instead.

A warning is printed when targets point at different endpoints.`,
		RunE: statusRun,
	}
}

func statusRun(cmd *cobra.Command, args []string) error {
	if globalRegistry == nil {
		return fmt.Errorf("sync engine not initialized")
	}

	out := cmd.OutOrStdout()
	states := inspect.ReadTargets(globalRegistry)

	fmt.Fprintln(out, "Target Status")
	fmt.Fprintln(out, "=============")
	fmt.Fprintln(out, "")
	fmt.Fprintf(out, "%-8s %-8s %s\n", "Target", "State", "Proxy")
	fmt.Fprintln(out, strings.Repeat("-", 70))

	for _, st := range states {
		switch {
		case st.Err != nil:
			fmt.Fprintf(out, "%-8s %-8s %v\n", st.Kind.Label(), "error", st.Err)
		case !st.Set:
			fmt.Fprintf(out, "%-8s %-8s %s\n", st.Kind.Label(), "clear", "-")
		default:
			var urls []string
			for _, scheme := range target.Schemes {
				if u, ok := st.Proxies[scheme]; ok {
					urls = append(urls, scheme+"="+u)
				}
			}
			fmt.Fprintf(out, "%-8s %-8s %s\n", st.Kind.Label(), "set", strings.Join(urls, " "))
		}
	}

	// Command-backed targets cannot be read back; show their last outcome.
	for _, kind := range globalRegistry.Kinds() {
		if kind.IsFile() {
			continue
		}
		last := "no history"
		if globalStore != nil {
			res, op, err := globalStore.LastTargetResult(string(kind))
			if err == nil {
				last = fmt.Sprintf("last %s %s %s", op.Action, res.Status, humanize.Time(op.StartTime))
			}
		}
		fmt.Fprintf(out, "%-8s %-8s %s\n", kind.Label(), "unknown", last)
	}
	fmt.Fprintln(out, "")

	if ok, endpoints := inspect.Consistent(states); !ok {
		fmt.Fprintf(out, "WARNING: targets disagree: %s\n", strings.Join(endpoints, ", "))
	}
	return nil
}
