package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/proxysync/internal/backup"
)

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Put the originally captured config files back",
		Long: `Copy the snapshots taken on the first run back over the apt config,
/etc/environment and the bash rc file. Snap and git are left as they are.`,
		RunE: restoreRun,
	}
}

func restoreRun(cmd *cobra.Command, args []string) error {
	if globalEngine == nil || globalBackup == nil {
		return fmt.Errorf("sync engine not initialized")
	}

	report, err := globalEngine.Restore(commandContext(cmd), globalBackup)
	if errors.Is(err, backup.ErrNotCaptured) {
		return fmt.Errorf("no backup found in %s: %w", globalBackup.Dir(), err)
	}
	if err != nil {
		return err
	}
	printReport(cmd.OutOrStdout(), report)
	return report.Err()
}
