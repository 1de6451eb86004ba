package target

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Runner invokes an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExitError is returned by ExecRunner when the command exits non-zero.
type ExitError struct {
	Name   string
	Code   int
	Output string
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s exited with status %d", e.Name, e.Code)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Name, e.Code, e.Output)
}

// ExecRunner runs commands through os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%s not found: %w", name, err)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out, &ExitError{Name: name, Code: exitErr.ExitCode(), Output: strings.TrimSpace(string(out))}
		}
		return out, fmt.Errorf("running %s: %w", name, err)
	}
	return out, nil
}

// setting is one key/value pair handed to an external tool.
type setting struct {
	key   string
	value string
}

// SnapAdapter sets the snap daemon's proxy.http and proxy.https keys.
type SnapAdapter struct {
	binary string
	runner Runner
	logger *slog.Logger
}

// NewSnapAdapter creates a snap adapter. An empty binary defaults to "snap".
func NewSnapAdapter(binary string, runner Runner, logger *slog.Logger) *SnapAdapter {
	if binary == "" {
		binary = "snap"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapAdapter{binary: binary, runner: runner, logger: logger}
}

func (a *SnapAdapter) Kind() Kind { return KindSnap }

// Both keys take an http:// URL; snapd tunnels https through the same proxy.
func (a *SnapAdapter) Apply(ctx context.Context, ep Endpoint) error {
	u := ep.baseURL("http")
	return a.set(ctx, []setting{{"proxy.http", u}, {"proxy.https", u}})
}

// Clear sets both keys to the empty string.
func (a *SnapAdapter) Clear(ctx context.Context) error {
	return a.set(ctx, []setting{{"proxy.http", ""}, {"proxy.https", ""}})
}

func (a *SnapAdapter) set(ctx context.Context, settings []setting) error {
	var errs []error
	for _, s := range settings {
		out, err := a.runner.Run(ctx, a.binary, "set", "system", s.key+"="+s.value)
		if err != nil {
			a.logger.Warn("snap set failed", "key", s.key, "error", err, "output", string(out))
			errs = append(errs, fmt.Errorf("%w: snap set %s: %v", ErrExternalTool, s.key, err))
			continue
		}
		a.logger.Debug("snap setting applied", "key", s.key)
	}
	return errors.Join(errs...)
}

// gitUnsetMissing is git config's exit status for --unset on an absent key.
const gitUnsetMissing = 5

// VcsAdapter sets git's global http.proxy and https.proxy keys.
type VcsAdapter struct {
	binary string
	runner Runner
	logger *slog.Logger
}

// NewVcsAdapter creates a git adapter. An empty binary defaults to "git".
func NewVcsAdapter(binary string, runner Runner, logger *slog.Logger) *VcsAdapter {
	if binary == "" {
		binary = "git"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VcsAdapter{binary: binary, runner: runner, logger: logger}
}

func (a *VcsAdapter) Kind() Kind { return KindVcs }

func (a *VcsAdapter) Apply(ctx context.Context, ep Endpoint) error {
	settings := []setting{
		{"http.proxy", ep.baseURL("http")},
		{"https.proxy", ep.baseURL("https")},
	}
	var errs []error
	for _, s := range settings {
		out, err := a.runner.Run(ctx, a.binary, "config", "--global", s.key, s.value)
		if err != nil {
			a.logger.Warn("git config failed", "key", s.key, "error", err, "output", string(out))
			errs = append(errs, fmt.Errorf("%w: git config %s: %v", ErrExternalTool, s.key, err))
		}
	}
	return errors.Join(errs...)
}

// Clear unsets both keys. An already-absent key is not an error.
func (a *VcsAdapter) Clear(ctx context.Context) error {
	var errs []error
	for _, key := range []string{"http.proxy", "https.proxy"} {
		out, err := a.runner.Run(ctx, a.binary, "config", "--global", "--unset", key)
		if err != nil {
			var exitErr *ExitError
			if errors.As(err, &exitErr) && exitErr.Code == gitUnsetMissing {
				continue
			}
			a.logger.Warn("git config --unset failed", "key", key, "error", err, "output", string(out))
			errs = append(errs, fmt.Errorf("%w: git config --unset %s: %v", ErrExternalTool, key, err))
		}
	}
	return errors.Join(errs...)
}
