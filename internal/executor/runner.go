// Package executor launches a task's commands: shell selection, portable
// built-in dispatch, timeout enforcement, and retry-with-delay policy. It
// runs exactly one process per invocation and treats any command string as
// an opaque instruction, beyond routing the reserved "p:" prefix to
// built-in handlers.
package executor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Shell is the OS-selected command interpreter: the executable plus the
// flag that makes it evaluate a command string.
type Shell struct {
	Command string
	Flag    string
}

// DetectShell picks the shell for the run: the project-level override wins,
// then $SHELL, then the platform default (cmd on Windows, sh elsewhere).
// cmd and cmd.exe take /C; every POSIX-flavored shell takes -c.
func DetectShell(override string) Shell {
	cmd := override
	if cmd == "" {
		cmd = os.Getenv("SHELL")
	}
	if cmd == "" {
		if runtime.GOOS == "windows" {
			cmd = "cmd"
		} else {
			cmd = "sh"
		}
	}

	flag := "-c"
	if strings.Contains(cmd, "cmd") && !strings.Contains(cmd, "sh") {
		flag = "/C"
	}
	return Shell{Command: cmd, Flag: flag}
}

// Runner executes command strings with a fixed shell, working directory,
// and resolved environment. It is safe for concurrent use: all per-call
// state lives in RunOpts and the returned Outcome.
type Runner struct {
	Shell   Shell
	Dir     string
	Environ []string
	Logger  *log.Logger
}

// RunOpts parameterizes one command execution.
type RunOpts struct {
	Command string

	// Timeout force-terminates the process when it elapses; zero disables.
	Timeout time.Duration

	// Retry is the number of re-attempts after a failed attempt; RetryDelay
	// is slept between attempts.
	Retry      int
	RetryDelay time.Duration

	// Stdout and Stderr receive the process output streams. Nil writers
	// discard.
	Stdout io.Writer
	Stderr io.Writer

	// OnRetry, when set, is invoked before each re-attempt with the number
	// of the attempt that just failed.
	OnRetry func(attempt int)
}

// Outcome describes the final attempt of a Run call.
type Outcome struct {
	ExitCode int
	Attempts int
	Duration time.Duration
}

// Run executes opts.Command to completion, retrying per policy. The
// returned Outcome always reflects the last attempt. The error is nil on
// success, a SpawnError when the process could not launch (never retried),
// a TimeoutError when the final attempt timed out, or a CommandError for a
// final nonzero exit.
func (r *Runner) Run(ctx context.Context, opts RunOpts) (Outcome, error) {
	start := time.Now()
	attempts := opts.Retry + 1
	outcome := Outcome{}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		outcome.Attempts = attempt

		if err := ctx.Err(); err != nil {
			outcome.Duration = time.Since(start)
			return outcome, err
		}

		exitCode, err := r.runOnce(ctx, opts)
		outcome.ExitCode = exitCode
		if err == nil && exitCode == 0 {
			outcome.Duration = time.Since(start)
			return outcome, nil
		}

		switch {
		case err != nil && isSpawn(err):
			// A command that cannot launch will not launch next time either.
			outcome.Duration = time.Since(start)
			return outcome, err
		case err != nil:
			lastErr = err
		default:
			lastErr = &CommandError{Command: opts.Command, ExitCode: exitCode, Attempts: attempt}
		}

		if attempt < attempts {
			r.debug("attempt failed, retrying",
				"command", opts.Command, "attempt", attempt, "delay", opts.RetryDelay)
			if opts.OnRetry != nil {
				opts.OnRetry(attempt)
			}
			if err := sleepCtx(ctx, opts.RetryDelay); err != nil {
				outcome.Duration = time.Since(start)
				return outcome, err
			}
		}
	}

	outcome.Duration = time.Since(start)
	return outcome, lastErr
}

// runOnce launches a single attempt. Portable "p:" commands dispatch to
// built-in handlers; anything else goes through the shell. The exit code is
// meaningful whenever err is nil or a non-spawn error.
func (r *Runner) runOnce(ctx context.Context, opts RunOpts) (int, error) {
	if IsPortable(opts.Command) {
		if err := RunPortable(opts.Command, r.Dir, orDiscard(opts.Stdout)); err != nil {
			return 1, &CommandError{Command: opts.Command, ExitCode: 1, Attempts: 1}
		}
		return 0, nil
	}

	cctx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(cctx, r.Shell.Command, r.Shell.Flag, opts.Command)
	cmd.Dir = r.Dir
	cmd.Env = r.Environ
	cmd.Stdout = orDiscard(opts.Stdout)
	cmd.Stderr = orDiscard(opts.Stderr)
	cmd.Stdin = os.Stdin

	if err := cmd.Start(); err != nil {
		return -1, &SpawnError{Command: opts.Command, Err: err}
	}

	waitErr := cmd.Wait()

	// Timeout expiry force-kills this one process; report it distinctly so
	// the retry policy counts it as a failed attempt.
	if opts.Timeout > 0 && errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return -1, &TimeoutError{Command: opts.Command, Timeout: opts.Timeout}
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, &SpawnError{Command: opts.Command, Err: waitErr}
	}
	return 0, nil
}

// Capture runs a single attempt of command and returns its trimmed stdout.
// Used for $(command) dynamic variable resolution, where a failure is a
// fatal configuration error.
func (r *Runner) Capture(ctx context.Context, command string) (string, error) {
	var stdout, stderr bytes.Buffer
	exitCode, err := r.runOnce(ctx, RunOpts{Command: command, Stdout: &stdout, Stderr: &stderr})
	if err != nil {
		return "", err
	}
	if exitCode != 0 {
		return "", &CommandError{Command: command, ExitCode: exitCode, Attempts: 1}
	}
	return strings.TrimSpace(stdout.String()), nil
}

func isSpawn(err error) bool {
	var spawn *SpawnError
	return errors.As(err, &spawn)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

func (r *Runner) debug(msg string, kvs ...any) {
	if r.Logger != nil {
		r.Logger.Debug(msg, kvs...)
	}
}
