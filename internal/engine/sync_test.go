package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/BadgerOps/proxysync/internal/backup"
	"github.com/BadgerOps/proxysync/internal/selection"
	"github.com/BadgerOps/proxysync/internal/store"
	"github.com/BadgerOps/proxysync/internal/target"
)

// mockAdapter implements target.Adapter for testing
type mockAdapter struct {
	kind      target.Kind
	applyFunc func(ctx context.Context, ep target.Endpoint) error
	clearFunc func(ctx context.Context) error
	applied   int
	cleared   int
}

func (m *mockAdapter) Kind() target.Kind {
	return m.kind
}

func (m *mockAdapter) Apply(ctx context.Context, ep target.Endpoint) error {
	m.applied++
	if m.applyFunc != nil {
		return m.applyFunc(ctx, ep)
	}
	return nil
}

func (m *mockAdapter) Clear(ctx context.Context) error {
	m.cleared++
	if m.clearFunc != nil {
		return m.clearFunc(ctx)
	}
	return nil
}

// recordingRunner stands in for snap and git.
type recordingRunner struct {
	calls []string
}

func (r *recordingRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, name+" "+strings.Join(args, " "))
	return nil, nil
}

var corpEndpoint = target.Endpoint{Host: "proxy.corp", Port: "3128", Username: "alice", Password: "s3cr3t"}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestSyncManager creates a SyncManager with an in-memory SQLite store
func newTestSyncManager(t *testing.T, registry *target.Registry) (*SyncManager, *store.Store) {
	t.Helper()
	st, err := store.New(":memory:", discardLogger())
	if err != nil {
		t.Fatalf("failed to create in-memory store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewSyncManager(registry, st, discardLogger()), st
}

type testHost struct {
	paths  target.Paths
	runner *recordingRunner
	reg    *target.Registry
}

func newTestHost(t *testing.T) *testHost {
	t.Helper()
	dir := t.TempDir()
	h := &testHost{
		paths: target.Paths{
			PackageManager: filepath.Join(dir, "apt.conf"),
			Environment:    filepath.Join(dir, "environment"),
			ShellRc:        filepath.Join(dir, "bash.bashrc"),
		},
		runner: &recordingRunner{},
	}
	writeFile(t, h.paths.PackageManager, "")
	writeFile(t, h.paths.Environment, "PATH=\"/usr/bin\"\n")
	writeFile(t, h.paths.ShellRc, "# system-wide rc\n")
	h.reg = target.NewDefaultRegistry(h.paths, target.Tools{}, h.runner, discardLogger())
	return h
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

// TestNewSyncManager verifies that a SyncManager is created with non-nil fields
func TestNewSyncManager(t *testing.T) {
	manager, _ := newTestSyncManager(t, target.NewRegistry())

	if manager.registry == nil {
		t.Fatal("expected non-nil registry")
	}
	if manager.store == nil {
		t.Fatal("expected non-nil store")
	}
	if manager.logger == nil {
		t.Fatal("expected non-nil logger")
	}
	if manager.newID() == manager.newID() {
		t.Fatal("expected unique operation ids")
	}
}

func TestApplyAllTargets(t *testing.T) {
	h := newTestHost(t)
	manager, _ := newTestSyncManager(t, h.reg)

	report, err := manager.Apply(context.Background(), corpEndpoint, selection.New())
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	if err := report.Err(); err != nil {
		t.Fatalf("unexpected target errors: %v", err)
	}
	if !reflect.DeepEqual(report.Succeeded(), target.AllKinds) {
		t.Errorf("Succeeded() = %v, want all", report.Succeeded())
	}
	if report.Status() != "success" {
		t.Errorf("Status() = %q", report.Status())
	}

	if got := readFile(t, h.paths.PackageManager); got != target.PackageManagerBlock(corpEndpoint) {
		t.Errorf("apt.conf = %q", got)
	}
	if got := readFile(t, h.paths.Environment); got != "PATH=\"/usr/bin\"\n"+target.EnvBlock("", corpEndpoint) {
		t.Errorf("environment = %q", got)
	}
	if got := readFile(t, h.paths.ShellRc); got != "# system-wide rc\n"+target.EnvBlock("export ", corpEndpoint) {
		t.Errorf("bash.bashrc = %q", got)
	}
	if len(h.runner.calls) != 4 {
		t.Errorf("expected 4 tool invocations, got %v", h.runner.calls)
	}
}

func TestApplyThenClearRoundTrip(t *testing.T) {
	h := newTestHost(t)
	manager, _ := newTestSyncManager(t, h.reg)
	ctx := context.Background()

	before := map[string]string{}
	for _, p := range []string{h.paths.PackageManager, h.paths.Environment, h.paths.ShellRc} {
		before[p] = readFile(t, p)
	}

	if _, err := manager.Apply(ctx, corpEndpoint, nil); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	report, err := manager.Clear(ctx, nil)
	if err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}
	if report.Err() != nil {
		t.Fatalf("unexpected target errors: %v", report.Err())
	}

	for p, want := range before {
		if got := readFile(t, p); got != want {
			t.Errorf("%s not restored by clear:\ngot %q\nwant %q", p, got, want)
		}
	}
}

func TestSelectiveFanOut(t *testing.T) {
	h := newTestHost(t)
	manager, _ := newTestSyncManager(t, h.reg)

	aptBefore := readFile(t, h.paths.PackageManager)
	rcBefore := readFile(t, h.paths.ShellRc)

	report, err := manager.Apply(context.Background(), corpEndpoint, selection.Only(target.KindEnvironment))
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	if want := []target.Kind{target.KindEnvironment}; !reflect.DeepEqual(report.Succeeded(), want) {
		t.Errorf("Succeeded() = %v, want %v", report.Succeeded(), want)
	}

	if !strings.Contains(readFile(t, h.paths.Environment), "proxy.corp") {
		t.Error("environment was not updated")
	}
	if got := readFile(t, h.paths.PackageManager); got != aptBefore {
		t.Errorf("apt.conf changed: %q", got)
	}
	if got := readFile(t, h.paths.ShellRc); got != rcBefore {
		t.Errorf("bash.bashrc changed: %q", got)
	}
	if len(h.runner.calls) != 0 {
		t.Errorf("snap/git should not run, got %v", h.runner.calls)
	}
}

func TestApplyContinuesPastFailures(t *testing.T) {
	toolErr := errors.New("snap exited with status 1")
	snap := &mockAdapter{kind: target.KindSnap, applyFunc: func(context.Context, target.Endpoint) error {
		return toolErr
	}}
	git := &mockAdapter{kind: target.KindVcs}
	apt := &mockAdapter{kind: target.KindPackageManager}

	reg := target.NewRegistry()
	reg.Register(apt)
	reg.Register(snap)
	reg.Register(git)
	manager, st := newTestSyncManager(t, reg)

	report, err := manager.Apply(context.Background(), corpEndpoint, selection.New())
	if err != nil {
		t.Fatalf("Apply() returned error: %v", err)
	}

	if git.applied != 1 || apt.applied != 1 {
		t.Errorf("later targets not attempted: apt=%d git=%d", apt.applied, git.applied)
	}
	if want := []target.Kind{target.KindSnap}; !reflect.DeepEqual(report.Failed(), want) {
		t.Errorf("Failed() = %v, want %v", report.Failed(), want)
	}
	// env and bashrc are selected but have no adapter.
	if want := []target.Kind{target.KindEnvironment, target.KindShellRc}; !reflect.DeepEqual(report.Skipped(), want) {
		t.Errorf("Skipped() = %v, want %v", report.Skipped(), want)
	}
	if !errors.Is(report.Err(), toolErr) {
		t.Errorf("Err() = %v, want wrapped tool error", report.Err())
	}
	if report.Status() != "partial" {
		t.Errorf("Status() = %q, want partial", report.Status())
	}

	op, err := st.GetOperation(report.OperationID)
	if err != nil {
		t.Fatalf("GetOperation() failed: %v", err)
	}
	if op.Status != "partial" || op.Failed != 1 || op.Succeeded != 2 || op.Skipped != 2 {
		t.Errorf("recorded operation = %+v", op)
	}
	if op.Host != "proxy.corp" || !op.HasAuth {
		t.Errorf("recorded endpoint = %s/%v", op.Host, op.HasAuth)
	}
	if strings.Contains(op.ErrorMessage, "s3cr3t") {
		t.Error("password leaked into history")
	}
}

func TestApplyInvalidEndpoint(t *testing.T) {
	apt := &mockAdapter{kind: target.KindPackageManager}
	reg := target.NewRegistry()
	reg.Register(apt)
	manager, st := newTestSyncManager(t, reg)

	_, err := manager.Apply(context.Background(), target.Endpoint{Host: "h", Port: "1", Username: "bob"}, nil)
	if !errors.Is(err, ErrInvalidEndpoint) {
		t.Fatalf("expected ErrInvalidEndpoint, got %v", err)
	}
	if !errors.Is(err, target.ErrPartialCredentials) {
		t.Errorf("expected ErrPartialCredentials in chain, got %v", err)
	}
	if apt.applied != 0 {
		t.Error("no target should be touched on invalid input")
	}

	ops, err := st.ListOperations("", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 0 {
		t.Errorf("expected no recorded operations, got %d", len(ops))
	}
}

func TestClearAllFail(t *testing.T) {
	failing := func(context.Context) error { return target.ErrFileUnavailable }
	reg := target.NewRegistry()
	reg.Register(&mockAdapter{kind: target.KindEnvironment, clearFunc: failing})
	reg.Register(&mockAdapter{kind: target.KindShellRc, clearFunc: failing})
	manager, st := newTestSyncManager(t, reg)

	sel := selection.Only(target.KindEnvironment, target.KindShellRc)
	report, err := manager.Clear(context.Background(), sel)
	if err != nil {
		t.Fatalf("Clear() returned error: %v", err)
	}
	if report.Status() != "failed" {
		t.Errorf("Status() = %q, want failed", report.Status())
	}
	if !errors.Is(report.Err(), target.ErrFileUnavailable) {
		t.Errorf("Err() = %v", report.Err())
	}

	results, err := st.ListTargetResults(report.OperationID)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 recorded results, got %d", len(results))
	}
	for _, r := range results {
		if r.Status != "failed" || r.Error == "" {
			t.Errorf("unexpected result %+v", r)
		}
	}
}

func TestApplyWithoutHistory(t *testing.T) {
	h := newTestHost(t)
	manager := NewSyncManager(h.reg, nil, discardLogger())

	report, err := manager.Apply(context.Background(), target.Endpoint{Host: "h", Port: "1"}, selection.Only(target.KindPackageManager))
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	if len(report.Succeeded()) != 1 {
		t.Errorf("Succeeded() = %v", report.Succeeded())
	}
}

func TestRestore(t *testing.T) {
	h := newTestHost(t)
	manager, st := newTestSyncManager(t, h.reg)
	ctx := context.Background()

	b := backup.New(filepath.Join(t.TempDir(), "backup"), map[target.Kind]string{
		target.KindPackageManager: h.paths.PackageManager,
		target.KindEnvironment:    h.paths.Environment,
		target.KindShellRc:        h.paths.ShellRc,
	}, discardLogger())

	if _, err := manager.Restore(ctx, b); !errors.Is(err, backup.ErrNotCaptured) {
		t.Fatalf("expected ErrNotCaptured before capture, got %v", err)
	}

	envBefore := readFile(t, h.paths.Environment)
	if _, err := b.CaptureIfAbsent(); err != nil {
		t.Fatalf("CaptureIfAbsent() failed: %v", err)
	}
	if _, err := manager.Apply(ctx, corpEndpoint, nil); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	report, err := manager.Restore(ctx, b)
	if err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}
	if !reflect.DeepEqual(report.Succeeded(), target.FileKinds) {
		t.Errorf("Succeeded() = %v", report.Succeeded())
	}
	if got := readFile(t, h.paths.Environment); got != envBefore {
		t.Errorf("environment = %q, want %q", got, envBefore)
	}

	ops, err := st.ListOperations(string(ActionRestore), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 {
		t.Errorf("expected 1 restore operation recorded, got %d", len(ops))
	}
}
