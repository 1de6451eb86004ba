package backup

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/BadgerOps/proxysync/internal/safety"
	"github.com/BadgerOps/proxysync/internal/target"
)

// ErrNotCaptured is returned by Restore when no snapshot has ever been taken.
var ErrNotCaptured = errors.New("no backup captured yet")

// snapshotNames maps each file-backed target to its file in the backup dir.
var snapshotNames = map[target.Kind]string{
	target.KindPackageManager: "apt.txt",
	target.KindEnvironment:    "env.txt",
	target.KindShellRc:        "bash.txt",
}

// CaptureResult describes what CaptureIfAbsent did.
type CaptureResult struct {
	Captured bool
	Saved    []target.Kind
	Skipped  []target.Kind
	Failed   map[target.Kind]error
}

// RestoreResult describes what Restore did.
type RestoreResult struct {
	Restored []target.Kind
	Skipped  []target.Kind
	Failed   map[target.Kind]error
}

// Store snapshots the file-backed targets once and restores them on demand.
// The existence of dir is the only record that a capture happened.
type Store struct {
	dir     string
	targets map[target.Kind]string
	logger  *slog.Logger
}

// New creates a backup store. targets maps file-backed kinds to their live
// paths; kinds without a snapshot name are ignored.
func New(dir string, targets map[target.Kind]string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, targets: targets, logger: logger}
}

// Dir returns the snapshot directory.
func (s *Store) Dir() string {
	return s.dir
}

// Captured reports whether the snapshot directory exists.
func (s *Store) Captured() bool {
	info, err := os.Stat(s.dir)
	return err == nil && info.IsDir()
}

// CaptureIfAbsent copies every live target file into the backup dir the
// first time it is called on a host and does nothing afterwards. A target
// whose file does not exist yet is skipped without failing the capture.
func (s *Store) CaptureIfAbsent() (*CaptureResult, error) {
	if s.Captured() {
		s.logger.Debug("backup already captured", "dir", s.dir)
		return &CaptureResult{}, nil
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating backup dir: %w", err)
	}

	result := &CaptureResult{Captured: true, Failed: make(map[target.Kind]error)}
	var errs []error
	for _, kind := range target.FileKinds {
		src, ok := s.targets[kind]
		if !ok || src == "" {
			continue
		}
		dst, err := s.snapshotPath(kind)
		if err != nil {
			return nil, err
		}

		n, err := safety.CopyFile(src, dst, 0o600)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("target file missing, skipping backup", "target", kind, "path", src)
				result.Skipped = append(result.Skipped, kind)
				continue
			}
			err = fmt.Errorf("backing up %s: %w", kind, err)
			result.Failed[kind] = err
			errs = append(errs, err)
			continue
		}
		s.logger.Info("captured backup", "target", kind, "path", src, "bytes", n)
		result.Saved = append(result.Saved, kind)
	}

	return result, errors.Join(errs...)
}

// Restore copies every snapshot back over its live file. Kinds that were
// skipped at capture time are skipped again.
func (s *Store) Restore() (*RestoreResult, error) {
	if !s.Captured() {
		return nil, ErrNotCaptured
	}

	result := &RestoreResult{Failed: make(map[target.Kind]error)}
	var errs []error
	for _, kind := range target.FileKinds {
		dst, ok := s.targets[kind]
		if !ok || dst == "" {
			continue
		}
		src, err := s.snapshotPath(kind)
		if err != nil {
			return nil, err
		}

		if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("no snapshot for target, skipping restore", "target", kind)
			result.Skipped = append(result.Skipped, kind)
			continue
		}

		if _, err := safety.CopyFile(src, dst, 0o644); err != nil {
			err = fmt.Errorf("restoring %s: %w", kind, err)
			result.Failed[kind] = err
			errs = append(errs, err)
			continue
		}
		s.logger.Info("restored backup", "target", kind, "path", dst)
		result.Restored = append(result.Restored, kind)
	}

	return result, errors.Join(errs...)
}

// Snapshot returns the captured bytes for kind.
func (s *Store) Snapshot(kind target.Kind) ([]byte, error) {
	if !s.Captured() {
		return nil, ErrNotCaptured
	}
	path, err := s.snapshotPath(kind)
	if err != nil {
		return nil, err
	}
	return safety.ReadFileWithLimit(path, safety.MaxConfigFileSize)
}

func (s *Store) snapshotPath(kind target.Kind) (string, error) {
	name, ok := snapshotNames[kind]
	if !ok {
		return "", fmt.Errorf("target %s has no snapshot", kind)
	}
	return safety.JoinUnder(s.dir, name)
}
