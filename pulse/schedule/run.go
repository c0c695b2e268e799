package schedule

import (
	"time"

	"github.com/google/uuid"
)

// Run is one batch execution, persisted in batch_runs
type Run struct {
	ID           string
	Trigger      string
	Status       string
	Requested    int
	Processed    int
	Failed       int
	ErrorMessage string
	StartedAt    time.Time
	CompletedAt  *time.Time
}

// Run status constants
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// NewRun starts a run record with a fresh id
func NewRun(trigger string, requested int, now time.Time) *Run {
	return &Run{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Status:    RunStatusRunning,
		Requested: requested,
		StartedAt: now.UTC(),
	}
}

// Duration returns how long the run took, or zero while running
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Complete marks the run finished. A run with a loop-level error is failed;
// per-entity failures only count.
func (r *Run) Complete(processed, failed int, runErr error, now time.Time) {
	done := now.UTC()
	r.CompletedAt = &done
	r.Processed = processed
	r.Failed = failed
	r.Status = RunStatusCompleted
	if runErr != nil {
		r.Status = RunStatusFailed
		r.ErrorMessage = runErr.Error()
	}
}
