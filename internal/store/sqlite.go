package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// Store provides SQLite-backed operation history
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps :memory: databases shared and writes serialized.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("Store initialized successfully", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// Operation Operations
// ============================================================================

// RecordOperation inserts an operation and its per-target results in one transaction
func (s *Store) RecordOperation(op *Operation, results []TargetResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const opQuery = `
		INSERT INTO operations (
			id, action, host, port, has_auth, start_time, end_time,
			succeeded, failed, skipped, status, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.Exec(
		opQuery,
		op.ID, op.Action, op.Host, op.Port, op.HasAuth, op.StartTime, op.EndTime,
		op.Succeeded, op.Failed, op.Skipped, op.Status, op.ErrorMessage,
	); err != nil {
		return fmt.Errorf("failed to insert operation: %w", err)
	}

	const resQuery = `
		INSERT INTO target_results (operation_id, target, status, error, duration_ms)
		VALUES (?, ?, ?, ?, ?)
	`
	for i := range results {
		r := &results[i]
		r.OperationID = op.ID
		result, err := tx.Exec(resQuery, r.OperationID, r.Target, r.Status, r.Error, r.DurationMS)
		if err != nil {
			return fmt.Errorf("failed to insert target result: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		r.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit operation: %w", err)
	}
	return nil
}

// GetOperation retrieves an Operation by ID
func (s *Store) GetOperation(id string) (*Operation, error) {
	const query = `
		SELECT id, action, host, port, has_auth, start_time, end_time,
		       succeeded, failed, skipped, status, error_message
		FROM operations WHERE id = ?
	`

	op := &Operation{}
	err := s.db.QueryRow(query, id).Scan(
		&op.ID, &op.Action, &op.Host, &op.Port, &op.HasAuth, &op.StartTime, &op.EndTime,
		&op.Succeeded, &op.Failed, &op.Skipped, &op.Status, &op.ErrorMessage,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("operation %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query operation: %w", err)
	}

	return op, nil
}

// ListOperations retrieves operations newest first, optionally filtered by action
func (s *Store) ListOperations(action string, limit int) ([]Operation, error) {
	query := `
		SELECT id, action, host, port, has_auth, start_time, end_time,
		       succeeded, failed, skipped, status, error_message
		FROM operations
	`
	var args []interface{}

	if action != "" {
		query += " WHERE action = ?"
		args = append(args, action)
	}

	query += " ORDER BY start_time DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		op := Operation{}
		err := rows.Scan(
			&op.ID, &op.Action, &op.Host, &op.Port, &op.HasAuth, &op.StartTime, &op.EndTime,
			&op.Succeeded, &op.Failed, &op.Skipped, &op.Status, &op.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}

	return ops, nil
}

// ============================================================================
// TargetResult Operations
// ============================================================================

// ListTargetResults retrieves the per-target results of one operation
func (s *Store) ListTargetResults(operationID string) ([]TargetResult, error) {
	const query = `
		SELECT id, operation_id, target, status, error, duration_ms
		FROM target_results WHERE operation_id = ?
		ORDER BY id
	`

	rows, err := s.db.Query(query, operationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query target results: %w", err)
	}
	defer rows.Close()

	var results []TargetResult
	for rows.Next() {
		r := TargetResult{}
		if err := rows.Scan(&r.ID, &r.OperationID, &r.Target, &r.Status, &r.Error, &r.DurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan target result: %w", err)
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating target results: %w", err)
	}

	return results, nil
}

// LastTargetResult returns the most recent result recorded for a target
func (s *Store) LastTargetResult(target string) (*TargetResult, *Operation, error) {
	const query = `
		SELECT r.id, r.operation_id, r.target, r.status, r.error, r.duration_ms
		FROM target_results r
		JOIN operations o ON o.id = r.operation_id
		WHERE r.target = ?
		ORDER BY o.start_time DESC, r.id DESC
		LIMIT 1
	`

	r := &TargetResult{}
	err := s.db.QueryRow(query, target).Scan(&r.ID, &r.OperationID, &r.Target, &r.Status, &r.Error, &r.DurationMS)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, fmt.Errorf("no results for target %s: %w", target, ErrNotFound)
		}
		return nil, nil, fmt.Errorf("failed to query target result: %w", err)
	}

	op, err := s.GetOperation(r.OperationID)
	if err != nil {
		return nil, nil, err
	}
	return r, op, nil
}
