package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/proxysync/internal/backup"
	"github.com/BadgerOps/proxysync/internal/engine"
	"github.com/BadgerOps/proxysync/internal/inspect"
	"github.com/BadgerOps/proxysync/internal/selection"
	"github.com/BadgerOps/proxysync/internal/target"
)

// ErrMalformedInput is returned when a menu answer is not a number.
var ErrMalformedInput = errors.New("malformed input")

var errInvalidChoice = errors.New("invalid choice")

// isRoot reports whether the process can write the system files.
var isRoot = func() bool { return os.Geteuid() == 0 }

const (
	menuSet = iota + 1
	menuRemove
	menuView
	menuRestore
	menuSelect
	menuExit
)

var menuOptions = []string{
	menuSet:     "Set Proxy",
	menuRemove:  "Remove Proxy",
	menuView:    "View Current Proxy",
	menuRestore: "Restore Default",
	menuSelect:  "Select Proxies to Configure",
	menuExit:    "Exit",
}

func newMenuCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "menu",
		Short: "Start the interactive menu",
		Long: `Start the interactive menu. Targets chosen with "Select Proxies to
Configure" apply to later Set and Remove choices in the same session.`,
		RunE: menuRun,
	}
	addTargetFlag(cmd)
	return cmd
}

func menuRun(cmd *cobra.Command, args []string) error {
	if globalEngine == nil || globalBackup == nil || globalCfg == nil {
		return fmt.Errorf("sync engine not initialized")
	}

	sel, err := selectedTargets()
	if err != nil {
		return err
	}

	m := &menu{
		prompt:  newPrompter(cmd.InOrStdin(), cmd.OutOrStdout()),
		out:     cmd.OutOrStdout(),
		sel:     sel,
		engine:  globalEngine,
		backup:  globalBackup,
		aptPath: globalCfg.Targets.AptConf,
	}
	return m.run(commandContext(cmd))
}

// menu is one interactive session. The selection persists across choices.
type menu struct {
	prompt  *prompter
	out     io.Writer
	sel     *selection.Set
	engine  *engine.SyncManager
	backup  *backup.Store
	aptPath string
}

// run loops until Exit is chosen or input ends.
func (m *menu) run(ctx context.Context) error {
	for {
		if !isRoot() {
			fmt.Fprintln(m.out, "\nPlease run this program as Super user (sudo)")
		}
		fmt.Fprintln(m.out)
		for i := menuSet; i <= menuExit; i++ {
			fmt.Fprintf(m.out, "%d. %s\n", i, menuOptions[i])
		}

		choice, err := m.choose("\nChoose an option (1, 2, 3, 4, 5, or 6) and then press ENTER: ", menuSet, menuExit)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if m.reportChoiceError(err, menuExit) {
				continue
			}
			return err
		}

		if choice == menuExit {
			return nil
		}

		if err := m.dispatch(ctx, choice); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			fmt.Fprintf(m.out, "\nError: %v\n", err)
		}
		fmt.Fprintln(m.out, "\nDONE!")
	}
}

func (m *menu) dispatch(ctx context.Context, choice int) error {
	switch choice {
	case menuSet:
		return m.set(ctx)
	case menuRemove:
		return m.remove(ctx)
	case menuView:
		return m.view()
	case menuRestore:
		return m.restore(ctx)
	case menuSelect:
		return m.selectTargets()
	}
	return errInvalidChoice
}

// choose reads one number in [lo, hi].
func (m *menu) choose(label string, lo, hi int) (int, error) {
	answer, err := m.prompt.ask(label)
	if err != nil {
		return 0, err
	}
	return parseChoice(answer, lo, hi)
}

func parseChoice(answer string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(answer))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrMalformedInput, answer)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%w: %d", errInvalidChoice, n)
	}
	return n, nil
}

// reportChoiceError prints the retry message for a bad answer. It returns
// false for errors that are not about the answer itself.
func (m *menu) reportChoiceError(err error, hi int) bool {
	switch {
	case errors.Is(err, ErrMalformedInput):
		fmt.Fprintf(m.out, "\nInvalid input. Please enter a number between 1 and %d.\n", hi)
	case errors.Is(err, errInvalidChoice):
		fmt.Fprintln(m.out, "\nInvalid choice. Please choose a valid option.")
	default:
		return false
	}
	return true
}

func (m *menu) set(ctx context.Context) error {
	var ep target.Endpoint
	if err := m.prompt.askEndpoint(&ep, true); err != nil {
		return err
	}
	report, err := m.engine.Apply(ctx, ep, m.sel)
	if err != nil {
		return err
	}
	printReport(m.out, report)
	return nil
}

func (m *menu) remove(ctx context.Context) error {
	report, err := m.engine.Clear(ctx, m.sel)
	if err != nil {
		return err
	}
	printReport(m.out, report)
	return nil
}

func (m *menu) view() error {
	cur, err := inspect.ReadCurrent(m.aptPath)
	if err != nil {
		return err
	}
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, cur.Render())
	return nil
}

func (m *menu) restore(ctx context.Context) error {
	report, err := m.engine.Restore(ctx, m.backup)
	if errors.Is(err, backup.ErrNotCaptured) {
		fmt.Fprintf(m.out, "\nNo backup found in %s\n", m.backup.Dir())
		return nil
	}
	if err != nil {
		return err
	}
	printReport(m.out, report)
	return nil
}

// selectTargets toggles targets until the confirm entry is chosen.
func (m *menu) selectTargets() error {
	confirm := len(target.AllKinds) + 1
	label := fmt.Sprintf("\nToggle selection (1-%d) or confirm (%d): ", len(target.AllKinds), confirm)

	for {
		fmt.Fprintln(m.out, "\nSelect which proxies to configure (toggle selection with numbers):")
		fmt.Fprint(m.out, m.sel.String())
		fmt.Fprintf(m.out, "%d. Confirm selection\n", confirm)

		choice, err := m.choose(label, 1, confirm)
		if err != nil {
			if m.reportChoiceError(err, confirm) {
				continue
			}
			return err
		}
		if choice == confirm {
			return nil
		}
		m.sel.Toggle(target.AllKinds[choice-1])
	}
}
