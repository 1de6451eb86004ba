package store

import "time"

// Operation records one apply, clear or restore fan-out
type Operation struct {
	ID           string // uuid
	Action       string // "apply", "clear", "restore"
	Host         string // proxy host, empty for clear/restore
	Port         string
	HasAuth      bool
	StartTime    time.Time
	EndTime      time.Time
	Succeeded    int
	Failed       int
	Skipped      int
	Status       string // "success", "partial", "failed"
	ErrorMessage string
}

// TargetResult records one target's outcome within an operation
type TargetResult struct {
	ID          int64
	OperationID string
	Target      string // "apt", "env", "bashrc", "snap", "git"
	Status      string // "success", "failed", "skipped"
	Error       string
	DurationMS  int64
}
