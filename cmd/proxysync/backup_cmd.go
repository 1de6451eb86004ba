package main

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/proxysync/internal/target"
)

var backupImportForce bool

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Inspect, export or import the captured config files",
		Long: `The first run captures the apt config, /etc/environment and the bash rc
file so "proxysync restore" can put them back. These subcommands show that
capture and move it in and out of a compressed archive for safekeeping.`,
		Example: `  proxysync backup show
  proxysync backup export /root/proxysync-backup.tar.zst
  proxysync backup import /root/proxysync-backup.tar.zst --force`,
	}

	cmd.AddCommand(
		newBackupShowCmd(),
		newBackupExportCmd(),
		newBackupImportCmd(),
	)
	return cmd
}

func newBackupShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List the captured snapshots",
		RunE:  backupShowRun,
	}
}

func backupShowRun(cmd *cobra.Command, args []string) error {
	if globalBackup == nil {
		return fmt.Errorf("backup store not initialized")
	}
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Backup directory: %s\n\n", globalBackup.Dir())
	fmt.Fprintf(out, "%-8s %10s\n", "Target", "Size")
	fmt.Fprintln(out, strings.Repeat("-", 20))
	for _, kind := range target.FileKinds {
		data, err := globalBackup.Snapshot(kind)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			fmt.Fprintf(out, "%-8s %10s\n", kind.Label(), "missing")
		case err != nil:
			return err
		default:
			fmt.Fprintf(out, "%-8s %10s\n", kind.Label(), humanize.Bytes(uint64(len(data))))
		}
	}
	return nil
}

func newBackupExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [FILE]",
		Short: "Write the snapshots to a tar.zst archive",
		Args:  cobra.MaximumNArgs(1),
		RunE:  backupExportRun,
	}
}

func backupExportRun(cmd *cobra.Command, args []string) error {
	if globalBackup == nil {
		return fmt.Errorf("backup store not initialized")
	}

	path := fmt.Sprintf("proxysync-backup-%s.tar.zst", time.Now().Format("20060102-150405"))
	if len(args) == 1 {
		path = args[0]
	}
	if !strings.HasSuffix(path, ".tar.zst") {
		return fmt.Errorf("export file must end in .tar.zst: %s", filepath.Base(path))
	}

	report, err := globalBackup.Export(commandContext(cmd), path)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%s, %d snapshots)\nsha256 %s\n",
		report.Path, humanize.Bytes(uint64(report.Size)), len(report.Snapshots), report.SHA256)
	return nil
}

func newBackupImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Replace the snapshots from a .tar.zst or .tar.xz archive",
		Long: `Install snapshots from an archive written by "backup export", or from a
.tar.xz holding apt.txt, env.txt and bash.txt. An existing capture is only
replaced with --force.`,
		Args: cobra.ExactArgs(1),
		RunE: backupImportRun,
	}
	cmd.Flags().BoolVar(&backupImportForce, "force", false, "replace an existing capture")
	return cmd
}

func backupImportRun(cmd *cobra.Command, args []string) error {
	if globalBackup == nil {
		return fmt.Errorf("backup store not initialized")
	}

	report, err := globalBackup.Import(commandContext(cmd), args[0], backupImportForce)
	if err != nil {
		return err
	}

	var names []string
	for _, k := range report.Snapshots {
		names = append(names, k.Label())
	}
	verified := "not verified (no manifest)"
	if report.Verified {
		verified = "verified"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %s into %s, %s\n", strings.Join(names, ", "), globalBackup.Dir(), verified)
	return nil
}
