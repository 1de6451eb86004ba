package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/proxysync/internal/engine"
	"github.com/BadgerOps/proxysync/internal/safety"
	"github.com/BadgerOps/proxysync/internal/target"
)

var (
	setHost          string
	setPort          string
	setUsername      string
	setPasswordStdin bool
)

func newSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Write a proxy endpoint to the selected targets",
		Long: `Write one proxy endpoint to every selected target: the apt config,
/etc/environment, the bash rc file, snap and git.

Values not given as flags are prompted for. With --username the password is
read from stdin (--password-stdin) or prompted for without echo. Targets that
fail are reported and the rest are still updated.`,
		Example: `  proxysync set --host proxy.corp --port 3128
  echo "$PROXY_PW" | proxysync set --host proxy.corp --port 3128 --username alice --password-stdin
  proxysync set --host 10.0.0.1 --port 8080 --target apt,git`,
		RunE: setRun,
	}

	cmd.Flags().StringVar(&setHost, "host", "", "proxy host name or address")
	cmd.Flags().StringVar(&setPort, "port", "", "proxy port")
	cmd.Flags().StringVar(&setUsername, "username", "", "proxy username (enables credentials)")
	cmd.Flags().BoolVar(&setPasswordStdin, "password-stdin", false, "read the proxy password from stdin")
	addTargetFlag(cmd)

	return cmd
}

func setRun(cmd *cobra.Command, args []string) error {
	if globalEngine == nil {
		return fmt.Errorf("sync engine not initialized")
	}

	sel, err := selectedTargets()
	if err != nil {
		return err
	}

	ep := target.Endpoint{
		Host:     strings.TrimSpace(setHost),
		Port:     strings.TrimSpace(setPort),
		Username: strings.TrimSpace(setUsername),
	}

	if setPasswordStdin {
		if ep.Username == "" {
			return fmt.Errorf("--password-stdin requires --username")
		}
		pw, err := readPasswordStdin(cmd.InOrStdin())
		if err != nil {
			return err
		}
		ep.Password = target.Secret(pw)
	}

	// Only ask about credentials when the operator is filling things in.
	interactive := ep.Host == "" || ep.Port == ""
	p := newPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
	if err := p.askEndpoint(&ep, interactive || ep.Username != ""); err != nil {
		return fmt.Errorf("reading proxy settings: %w", err)
	}

	report, err := globalEngine.Apply(commandContext(cmd), ep, sel)
	if err != nil {
		return err
	}
	printReport(cmd.OutOrStdout(), report)
	return report.Err()
}

func readPasswordStdin(r io.Reader) (string, error) {
	data, err := safety.ReadAllWithLimit(r, 4096)
	if err != nil {
		return "", fmt.Errorf("reading password from stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// printReport writes one line per target and a summary.
func printReport(w io.Writer, report *engine.Report) {
	for _, res := range report.Results {
		line := fmt.Sprintf("  %-7s %s", res.Kind.Label(), res.Status)
		if res.Err != nil {
			line += ": " + res.Err.Error()
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "%s %s: %d succeeded, %d failed, %d skipped\n",
		report.Action, report.Status(),
		len(report.Succeeded()), len(report.Failed()), len(report.Skipped()))
}

// commandContext returns the command's context, falling back to Background
// when the command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
