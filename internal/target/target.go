package target

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

var (
	// ErrFileUnavailable is returned when a target file is missing or unreadable.
	ErrFileUnavailable = errors.New("target file unavailable")

	// ErrExternalTool is returned when snap or git exits non-zero.
	ErrExternalTool = errors.New("external tool failed")

	// ErrPartialCredentials is returned when only one of username/password is given.
	ErrPartialCredentials = errors.New("username and password must be given together")

	// ErrUnknownKind is returned by ParseKind for unrecognised names.
	ErrUnknownKind = errors.New("unknown target")
)

// Kind identifies one of the five proxy targets
type Kind string

const (
	KindPackageManager Kind = "apt"
	KindEnvironment    Kind = "env"
	KindShellRc        Kind = "bashrc"
	KindSnap           Kind = "snap"
	KindVcs            Kind = "git"
)

// AllKinds lists every target in display order.
var AllKinds = []Kind{KindPackageManager, KindEnvironment, KindShellRc, KindSnap, KindVcs}

// FileKinds lists the targets backed by a file on disk.
var FileKinds = []Kind{KindPackageManager, KindEnvironment, KindShellRc}

var kindAliases = map[string]Kind{
	"apt":            KindPackageManager,
	"packagemanager": KindPackageManager,
	"env":            KindEnvironment,
	"environment":    KindEnvironment,
	"bashrc":         KindShellRc,
	"shellrc":        KindShellRc,
	"snap":           KindSnap,
	"git":            KindVcs,
	"vcs":            KindVcs,
}

// ParseKind resolves a target name or alias, case-insensitively.
func ParseKind(s string) (Kind, error) {
	k, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// ParseKinds parses a comma-separated target list such as "apt,env".
func ParseKinds(list string) ([]Kind, error) {
	var kinds []Kind
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		k, err := ParseKind(part)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// Index returns the display position of k, or -1.
func (k Kind) Index() int {
	for i, kk := range AllKinds {
		if kk == k {
			return i
		}
	}
	return -1
}

// Label returns the menu label for k.
func (k Kind) Label() string {
	switch k {
	case KindPackageManager:
		return "Apt"
	case KindEnvironment:
		return "Env"
	case KindShellRc:
		return "Bashrc"
	case KindSnap:
		return "Snap"
	case KindVcs:
		return "Git"
	}
	return string(k)
}

// IsFile reports whether k persists to a file.
func (k Kind) IsFile() bool {
	switch k {
	case KindPackageManager, KindEnvironment, KindShellRc:
		return true
	}
	return false
}

// Adapter is the interface every proxy target implements
type Adapter interface {
	// Kind returns the target this adapter manages
	Kind() Kind

	// Apply writes directives for ep, superseding any previous ones
	Apply(ctx context.Context, ep Endpoint) error

	// Clear removes this tool's directives; clearing a clear target succeeds
	Clear(ctx context.Context) error
}

// Reader is an optional interface for adapters whose state can be read back.
type Reader interface {
	Read() ([]string, error)
}

// Registry holds the adapters keyed by kind
type Registry struct {
	adapters map[Kind]Adapter
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[Kind]Adapter),
	}
}

// Register adds an adapter under its Kind(), replacing any previous one.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Kind()] = a
}

// Get returns the adapter for kind
func (r *Registry) Get(kind Kind) (Adapter, bool) {
	a, ok := r.adapters[kind]
	return a, ok
}

// All returns all registered adapters
func (r *Registry) All() map[Kind]Adapter {
	return r.adapters
}

// Kinds returns the registered kinds in display order.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.adapters))
	for k := range r.adapters {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i].Index() < kinds[j].Index() })
	return kinds
}

// Paths names the files behind the file-backed targets.
type Paths struct {
	PackageManager string
	Environment    string
	ShellRc        string
}

// Tools names the binaries behind the command-backed targets.
type Tools struct {
	Snap string
	Git  string
}

// NewDefaultRegistry builds a registry holding all five adapters.
func NewDefaultRegistry(paths Paths, tools Tools, runner Runner, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := NewRegistry()
	r.Register(NewPackageManagerAdapter(paths.PackageManager, logger))
	r.Register(NewEnvironmentAdapter(paths.Environment, logger))
	r.Register(NewShellRcAdapter(paths.ShellRc, logger))
	r.Register(NewSnapAdapter(tools.Snap, runner, logger))
	r.Register(NewVcsAdapter(tools.Git, runner, logger))
	return r
}
