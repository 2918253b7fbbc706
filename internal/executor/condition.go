package executor

import (
	"context"
	"errors"

	"github.com/stride-run/stride/internal/config"
)

// ConditionOutcome is the eligibility decision for a task.
type ConditionOutcome int

const (
	// Eligible means the task proceeds to its cache check and run.
	Eligible ConditionOutcome = iota

	// SkippedBySkipIf means the skip_if probe exited 0.
	SkippedBySkipIf

	// SkippedByRunIf means the run_if probe exited nonzero.
	SkippedByRunIf
)

// String renders the outcome for summaries and skip reasons.
func (c ConditionOutcome) String() string {
	switch c {
	case SkippedBySkipIf:
		return "skip_if"
	case SkippedByRunIf:
		return "run_if"
	default:
		return "eligible"
	}
}

// EvaluateCondition reduces a task's probe commands to an eligibility
// decision. skip_if is checked first: exit 0 skips the task and run_if is
// not consulted. Otherwise run_if must exit 0 for the task to be eligible.
//
// Probes run with the task's resolved environment and the selected shell,
// are never retried, and a nonzero exit is a routing decision, not a task
// failure. A probe that cannot be spawned is a fatal error, returned as-is.
func EvaluateCondition(ctx context.Context, r *Runner, task config.Task) (ConditionOutcome, error) {
	if task.SkipIf != "" {
		code, err := r.probe(ctx, task.SkipIf)
		if err != nil {
			return Eligible, err
		}
		if code == 0 {
			return SkippedBySkipIf, nil
		}
	}

	if task.RunIf != "" {
		code, err := r.probe(ctx, task.RunIf)
		if err != nil {
			return Eligible, err
		}
		if code != 0 {
			return SkippedByRunIf, nil
		}
	}

	return Eligible, nil
}

// probe runs a condition command once and returns its exit status. Only
// spawn failures surface as errors.
func (r *Runner) probe(ctx context.Context, command string) (int, error) {
	code, err := r.runOnce(ctx, RunOpts{Command: command})
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			// Portable built-in failure: treat like a nonzero exit.
			return cmdErr.ExitCode, nil
		}
		return -1, err
	}
	return code, nil
}
