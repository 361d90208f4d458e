// Package runstatus persists the single-slot record describing the current
// (or most recent) catalog ingestion run.
//
// The slot lives under a fixed well-known key in the shared cache. It is the
// coordination point between the orchestrator, the worker pool and external
// stop requests. The store holds no business rules; deciding what counts as
// "already running" is left to callers.
package runstatus

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an ingestion run.
type Status string

const (
	// StatusNotRunning means no run record exists.
	StatusNotRunning Status = "NotRunning"

	// StatusRunning means a run is in progress.
	StatusRunning Status = "Running"

	// StatusCompleted means the whole catalog was fetched and persisted.
	StatusCompleted Status = "Completed"

	// StatusError means a fetch or persist step failed.
	StatusError Status = "Error"

	// StatusCancelled means a stop request was observed by the workers.
	StatusCancelled Status = "Cancelled"
)

// IsTerminal reports whether s is one of the statuses a pool finishes with.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusNotRunning || s == StatusRunning || s.IsTerminal()
}

// Record describes one ingestion run.
type Record struct {
	ID                    string     `json:"id"`
	Status                Status     `json:"status"`
	StartTime             time.Time  `json:"start_time"`
	EndTime               *time.Time `json:"end_time,omitempty"`
	CancellationRequested bool       `json:"cancellation_requested"`
}

// NewRecord returns a Running record started at now.
func NewRecord(id string, now time.Time) Record {
	return Record{
		ID:        id,
		Status:    StatusRunning,
		StartTime: now,
	}
}

// IsRunning reports whether the record blocks a new run.
func (r Record) IsRunning() bool {
	return r.Status == StatusRunning
}

// Finish moves the record to a terminal status.
func (r *Record) Finish(status Status, now time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	r.Status = status
	r.EndTime = &now
	return nil
}

// Duration returns how long the run took, or has taken so far.
func (r Record) Duration(now time.Time) time.Duration {
	if r.EndTime != nil {
		return r.EndTime.Sub(r.StartTime)
	}
	return now.Sub(r.StartTime)
}
