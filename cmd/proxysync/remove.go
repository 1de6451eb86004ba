package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "remove",
		Aliases: []string{"clear"},
		Short:   "Remove the proxy from the selected targets",
		Long: `Remove proxy settings from every selected target. The apt config is
emptied, proxy lines are stripped from /etc/environment and the bash rc file,
and the snap and git proxy keys are cleared.`,
		Example: `  proxysync remove
  proxysync remove --target snap,git`,
		RunE: removeRun,
	}
	addTargetFlag(cmd)
	return cmd
}

func removeRun(cmd *cobra.Command, args []string) error {
	if globalEngine == nil {
		return fmt.Errorf("sync engine not initialized")
	}

	sel, err := selectedTargets()
	if err != nil {
		return err
	}

	report, err := globalEngine.Clear(commandContext(cmd), sel)
	if err != nil {
		return err
	}
	printReport(cmd.OutOrStdout(), report)
	return report.Err()
}
