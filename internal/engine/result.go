package engine

import (
	"time"
)

// Status is the terminal state of a task's state machine.
type Status string

const (
	// StatusExecuted means the task's commands ran to success.
	StatusExecuted Status = "executed"

	// StatusCached means the fingerprint proved the task's outputs fresh.
	StatusCached Status = "cached"

	// StatusSkipped means the task never ran; SkipReason says why.
	StatusSkipped Status = "skipped"

	// StatusFailed means the task exhausted its attempts or could not spawn.
	StatusFailed Status = "failed"
)

// SkipReason explains a StatusSkipped result.
type SkipReason string

const (
	// SkipBySkipIf: the skip_if probe exited 0.
	SkipBySkipIf SkipReason = "skip_if"

	// SkipByRunIf: the run_if probe exited nonzero.
	SkipByRunIf SkipReason = "run_if"

	// SkipDependencyFailed: a non-ignored dependency failed.
	SkipDependencyFailed SkipReason = "dependency_failed"

	// SkipCancelled: the run was cancelled before the task started.
	SkipCancelled SkipReason = "cancelled"

	// SkipDryRun: the invocation ran with --dry-run.
	SkipDryRun SkipReason = "dry_run"
)

// Result is the terminal record for one task in one invocation.
type Result struct {
	Task       string        `json:"task"`
	Status     Status        `json:"status"`
	SkipReason SkipReason    `json:"skip_reason,omitempty"`
	ExitCode   int           `json:"exit_code,omitempty"`
	Attempts   int           `json:"attempts,omitempty"`
	Duration   time.Duration `json:"duration"`

	// Ignored marks a failure converted to non-fatal by ignore_failure:
	// dependents still ran, but the failure is reported in the summary.
	Ignored bool `json:"ignored,omitempty"`

	// Err is the failure cause, when Status is StatusFailed.
	Err error `json:"-"`
}

// FatalFailure reports whether this result blocks dependents and the
// overall run outcome.
func (r *Result) FatalFailure() bool {
	return r.Status == StatusFailed && !r.Ignored
}

// Summary aggregates every task's result for one invocation, in completion
// order.
type Summary struct {
	Root     string
	Results  []Result
	Duration time.Duration
}

// Success reports the overall run outcome: true iff no task failed without
// ignore_failure set.
func (s *Summary) Success() bool {
	for i := range s.Results {
		if s.Results[i].FatalFailure() {
			return false
		}
	}
	return true
}

// Get returns the result recorded for a task name.
func (s *Summary) Get(task string) (Result, bool) {
	for i := range s.Results {
		if s.Results[i].Task == task {
			return s.Results[i], true
		}
	}
	return Result{}, false
}
