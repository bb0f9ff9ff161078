package model

import (
	"time"
)

const (
	// StatusPending indicates a step has not started yet.
	StatusPending = "pending"
	// StatusRunning indicates a step is actively executing.
	StatusRunning = "running"
	// StatusSuccess marks a successful step execution.
	StatusSuccess = "success"
	// StatusSkipped indicates the planner excluded the step (gate toggle off).
	StatusSkipped = "skipped"
	// StatusFailed marks a failure during step execution.
	StatusFailed = "failed"
)

// ActionResult captures the outcome of one remote action on one target.
// The executor never retries; the caller decides whether a failure halts
// the sequence.
type ActionResult struct {
	Target  string
	Status  string
	Output  string
	Message string
}

// OK reports whether the action succeeded on its target.
func (r ActionResult) OK() bool {
	return r.Status == StatusSuccess
}

// StepResult captures the outcome of executing a single provisioning step.
type StepResult struct {
	StepID    string
	Target    string
	Status    string
	Message   string
	Error     error
	Duration  time.Duration
	Timestamp time.Time
}

// RunOutcome summarises a full sequence execution: either every step
// completed, or the run stopped at FailedStep with Err as the cause.
type RunOutcome struct {
	Completed  bool
	FailedStep string
	Err        error
	Steps      []StepResult
	Duration   time.Duration
}
