package target

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/BadgerOps/proxysync/internal/safety"
)

// managedMarkers are the substrings that mark a line as a proxy directive.
// Any line containing one of them is stripped before a new block is written.
var managedMarkers = []string{"http://", "https://", "ftp://", "socks://"}

// IsManagedLine reports whether line holds a proxy directive.
func IsManagedLine(line string) bool {
	for _, m := range managedMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// writeFile replaces the contents of path through a single open handle.
// The close error is returned when the write itself succeeded.
func writeFile(path string, flag int, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|flag, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrFileUnavailable, path)
		}
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", path, cerr)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	data, err := safety.ReadFileWithLimit(path, safety.MaxConfigFileSize)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileUnavailable, path)
		}
		return nil, err
	}
	return data, nil
}

// PackageManagerAdapter owns the whole apt.conf file.
type PackageManagerAdapter struct {
	path   string
	logger *slog.Logger
}

// NewPackageManagerAdapter creates an adapter writing to path.
func NewPackageManagerAdapter(path string, logger *slog.Logger) *PackageManagerAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &PackageManagerAdapter{path: path, logger: logger}
}

func (a *PackageManagerAdapter) Kind() Kind { return KindPackageManager }

// Path returns the managed file.
func (a *PackageManagerAdapter) Path() string { return a.path }

// PackageManagerBlock renders the four Acquire directives for ep.
func PackageManagerBlock(ep Endpoint) string {
	var b strings.Builder
	for _, s := range Schemes {
		fmt.Fprintf(&b, "Acquire::%s::proxy \"%s\";\n", s, ep.URL(s))
	}
	return b.String()
}

func (a *PackageManagerAdapter) Apply(_ context.Context, ep Endpoint) error {
	if err := writeFile(a.path, os.O_CREATE, []byte(PackageManagerBlock(ep))); err != nil {
		return err
	}
	a.logger.Debug("wrote package manager proxy", "path", a.path, "endpoint", ep)
	return nil
}

// Clear truncates the file, creating it when it does not exist yet.
func (a *PackageManagerAdapter) Clear(_ context.Context) error {
	if err := writeFile(a.path, os.O_CREATE, nil); err != nil {
		return err
	}
	a.logger.Debug("cleared package manager proxy", "path", a.path)
	return nil
}

// Read returns the non-empty lines of the file. An absent file reads as empty.
func (a *PackageManagerAdapter) Read() ([]string, error) {
	data, err := readFile(a.path)
	if err != nil {
		if errors.Is(err, ErrFileUnavailable) {
			return nil, nil
		}
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// lineFileAdapter strips managed lines from a shared file and appends a new block.
type lineFileAdapter struct {
	kind   Kind
	path   string
	prefix string
	logger *slog.Logger
}

// NewEnvironmentAdapter manages name="value" lines in /etc/environment style files.
func NewEnvironmentAdapter(path string, logger *slog.Logger) Adapter {
	return newLineFileAdapter(KindEnvironment, path, "", logger)
}

// NewShellRcAdapter manages export name="value" lines in a shell rc file.
func NewShellRcAdapter(path string, logger *slog.Logger) Adapter {
	return newLineFileAdapter(KindShellRc, path, "export ", logger)
}

func newLineFileAdapter(kind Kind, path, prefix string, logger *slog.Logger) *lineFileAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &lineFileAdapter{kind: kind, path: path, prefix: prefix, logger: logger}
}

func (a *lineFileAdapter) Kind() Kind { return a.kind }

// Path returns the managed file.
func (a *lineFileAdapter) Path() string { return a.path }

// EnvBlock renders the four <scheme>_proxy lines with the given prefix.
func EnvBlock(prefix string, ep Endpoint) string {
	var b strings.Builder
	for _, s := range Schemes {
		fmt.Fprintf(&b, "%s%s_proxy=\"%s\"\n", prefix, s, ep.URL(s))
	}
	return b.String()
}

func (a *lineFileAdapter) Apply(_ context.Context, ep Endpoint) error {
	return a.rewrite(EnvBlock(a.prefix, ep))
}

func (a *lineFileAdapter) Clear(_ context.Context) error {
	return a.rewrite("")
}

func (a *lineFileAdapter) rewrite(block string) error {
	data, err := readFile(a.path)
	if err != nil {
		return err
	}

	kept, stripped := StripManaged(string(data))
	if block != "" && kept != "" && !strings.HasSuffix(kept, "\n") {
		kept += "\n"
	}

	if err := writeFile(a.path, 0, []byte(kept+block)); err != nil {
		return err
	}
	a.logger.Debug("rewrote proxy block", "target", a.kind, "path", a.path, "stripped", stripped, "appended", block != "")
	return nil
}

// Read returns the managed lines currently in the file.
func (a *lineFileAdapter) Read() ([]string, error) {
	data, err := readFile(a.path)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if IsManagedLine(line) {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// StripManaged drops every managed line from content, keeping the rest
// byte for byte and in order. It returns the kept text and the count dropped.
func StripManaged(content string) (string, int) {
	var b strings.Builder
	stripped := 0
	for _, line := range strings.SplitAfter(content, "\n") {
		if line == "" {
			continue
		}
		if IsManagedLine(line) {
			stripped++
			continue
		}
		b.WriteString(line)
	}
	return b.String(), stripped
}
