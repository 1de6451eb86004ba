package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/BadgerOps/proxysync/internal/backup"
	"github.com/BadgerOps/proxysync/internal/selection"
	"github.com/BadgerOps/proxysync/internal/store"
	"github.com/BadgerOps/proxysync/internal/target"
)

// ErrInvalidEndpoint is returned before any target is touched when the
// endpoint fails validation.
var ErrInvalidEndpoint = errors.New("invalid proxy endpoint")

// Action names the logical operation fanned out over targets.
type Action string

const (
	ActionApply   Action = "apply"
	ActionClear   Action = "clear"
	ActionRestore Action = "restore"
)

// Status is one target's outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// TargetResult records what happened to a single target.
type TargetResult struct {
	Kind     target.Kind
	Status   Status
	Err      error
	Duration time.Duration
}

// Report is the complete per-target outcome of one operation.
type Report struct {
	OperationID string
	Action      Action
	Endpoint    *target.Endpoint
	StartTime   time.Time
	EndTime     time.Time
	Results     []TargetResult
}

// Succeeded returns the kinds that completed.
func (r *Report) Succeeded() []target.Kind {
	return r.kinds(StatusSuccess)
}

// Failed returns the kinds that returned an error.
func (r *Report) Failed() []target.Kind {
	return r.kinds(StatusFailed)
}

// Skipped returns the kinds that were selected but not attempted.
func (r *Report) Skipped() []target.Kind {
	return r.kinds(StatusSkipped)
}

func (r *Report) kinds(status Status) []target.Kind {
	var kinds []target.Kind
	for _, res := range r.Results {
		if res.Status == status {
			kinds = append(kinds, res.Kind)
		}
	}
	return kinds
}

// Err joins every per-target error, or returns nil when nothing failed.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Kind, res.Err))
		}
	}
	return errors.Join(errs...)
}

// Status summarizes the report as success, partial or failed.
func (r *Report) Status() string {
	failed := len(r.Failed())
	switch {
	case failed == 0:
		return "success"
	case failed == len(r.Results):
		return "failed"
	default:
		return "partial"
	}
}

// SyncManager fans apply and clear operations out over the registered
// targets. Targets are independent: a failure is recorded and the next
// target is still attempted. Nothing is rolled back.
type SyncManager struct {
	registry *target.Registry
	store    *store.Store
	logger   *slog.Logger
	newID    func() string
}

// NewSyncManager creates a new SyncManager. st may be nil to disable history.
func NewSyncManager(registry *target.Registry, st *store.Store, logger *slog.Logger) *SyncManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncManager{
		registry: registry,
		store:    st,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// Apply writes ep to every target enabled in sel.
func (m *SyncManager) Apply(ctx context.Context, ep target.Endpoint, sel *selection.Set) (*Report, error) {
	if err := ep.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}

	report := m.fanOut(ActionApply, sel, func(a target.Adapter) error {
		return a.Apply(ctx, ep)
	})
	report.Endpoint = &ep
	m.record(report)
	return report, nil
}

// Clear removes the proxy from every target enabled in sel.
func (m *SyncManager) Clear(ctx context.Context, sel *selection.Set) (*Report, error) {
	report := m.fanOut(ActionClear, sel, func(a target.Adapter) error {
		return a.Clear(ctx)
	})
	m.record(report)
	return report, nil
}

// Restore puts the captured snapshots back over the file-backed targets.
// It returns backup.ErrNotCaptured untouched so callers can tell the
// operator no backup exists.
func (m *SyncManager) Restore(_ context.Context, b *backup.Store) (*Report, error) {
	start := time.Now()
	res, err := b.Restore()
	if errors.Is(err, backup.ErrNotCaptured) {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("restore failed: %w", err)
	}

	report := &Report{
		OperationID: m.newID(),
		Action:      ActionRestore,
		StartTime:   start,
	}
	for _, kind := range target.FileKinds {
		switch {
		case res.Failed[kind] != nil:
			report.Results = append(report.Results, TargetResult{Kind: kind, Status: StatusFailed, Err: res.Failed[kind]})
		case contains(res.Restored, kind):
			report.Results = append(report.Results, TargetResult{Kind: kind, Status: StatusSuccess})
		case contains(res.Skipped, kind):
			report.Results = append(report.Results, TargetResult{Kind: kind, Status: StatusSkipped})
		}
	}
	report.EndTime = time.Now()

	m.logger.Info("restore completed",
		"operation", report.OperationID,
		"restored", len(res.Restored),
		"skipped", len(res.Skipped),
		"failed", len(res.Failed),
	)
	m.record(report)
	return report, nil
}

func (m *SyncManager) fanOut(action Action, sel *selection.Set, fn func(target.Adapter) error) *Report {
	if sel == nil {
		sel = selection.New()
	}

	report := &Report{
		OperationID: m.newID(),
		Action:      action,
		StartTime:   time.Now(),
	}

	m.logger.Info("starting "+string(action), "operation", report.OperationID, "targets", sel.EnabledKinds())

	for _, kind := range sel.EnabledKinds() {
		adapter, ok := m.registry.Get(kind)
		if !ok {
			m.logger.Warn("no adapter registered, skipping", "target", kind)
			report.Results = append(report.Results, TargetResult{Kind: kind, Status: StatusSkipped})
			continue
		}

		start := time.Now()
		err := fn(adapter)
		res := TargetResult{Kind: kind, Status: StatusSuccess, Duration: time.Since(start)}
		if err != nil {
			res.Status = StatusFailed
			res.Err = err
			m.logger.Error(string(action)+" failed", "target", kind, "error", err)
		} else {
			m.logger.Debug(string(action)+" succeeded", "target", kind, "duration", res.Duration)
		}
		report.Results = append(report.Results, res)
	}

	report.EndTime = time.Now()

	m.logger.Info(string(action)+" completed",
		"operation", report.OperationID,
		"succeeded", len(report.Succeeded()),
		"failed", len(report.Failed()),
		"skipped", len(report.Skipped()),
		"duration", report.EndTime.Sub(report.StartTime),
	)
	return report
}

// record persists a report to the history store. Failures are logged only.
func (m *SyncManager) record(report *Report) {
	if m.store == nil {
		return
	}

	op := &store.Operation{
		ID:        report.OperationID,
		Action:    string(report.Action),
		StartTime: report.StartTime,
		EndTime:   report.EndTime,
		Succeeded: len(report.Succeeded()),
		Failed:    len(report.Failed()),
		Skipped:   len(report.Skipped()),
		Status:    report.Status(),
	}
	if report.Endpoint != nil {
		op.Host = report.Endpoint.Host
		op.Port = report.Endpoint.Port
		op.HasAuth = report.Endpoint.HasCredentials()
	}
	if err := report.Err(); err != nil {
		op.ErrorMessage = err.Error()
	}

	results := make([]store.TargetResult, 0, len(report.Results))
	for _, r := range report.Results {
		tr := store.TargetResult{
			Target:     string(r.Kind),
			Status:     string(r.Status),
			DurationMS: r.Duration.Milliseconds(),
		}
		if r.Err != nil {
			tr.Error = r.Err.Error()
		}
		results = append(results, tr)
	}

	if err := m.store.RecordOperation(op, results); err != nil {
		m.logger.Error("failed to record operation", "operation", report.OperationID, "error", err)
	}
}

func contains(kinds []target.Kind, k target.Kind) bool {
	for _, kk := range kinds {
		if kk == k {
			return true
		}
	}
	return false
}
