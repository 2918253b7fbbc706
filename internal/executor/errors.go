package executor

import (
	"fmt"
	"time"
)

// SpawnError reports a command that could not be launched at all (missing
// shell or binary, permission error). It is fatal for the task and never
// retried, and is distinct from a spawned command exiting nonzero.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawning %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// TimeoutError reports a command force-terminated after its timeout. It
// counts as a failed attempt and is subject to retry.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command %q exceeded timeout of %s", e.Command, e.Timeout)
}

// CommandError reports a nonzero exit after the retry budget is exhausted.
type CommandError struct {
	Command  string
	ExitCode int
	Attempts int
}

func (e *CommandError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("command %q exited with code %d after %d attempts", e.Command, e.ExitCode, e.Attempts)
	}
	return fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
}
