// Package engine owns the run of a whole invocation: it schedules tasks per
// the dependency graph, drives each task through its state machine
// (condition, cache check, run with retry, finally), propagates failure to
// dependents, and supports cooperative cancellation of parallel groups.
package engine

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/stride-run/stride/internal/config"
	"github.com/stride-run/stride/internal/executor"
	"github.com/stride-run/stride/internal/fingerprint"
	"github.com/stride-run/stride/internal/graph"
)

// Coordinator executes invocations against a validated graph. Construct
// with New; a Coordinator is good for one Run at a time.
type Coordinator struct {
	cfg    *config.Config
	graph  *graph.Graph
	env    *config.ResolvedEnvironment
	shell  executor.Shell
	dir    string
	store  *fingerprint.Store
	logger *log.Logger
	events chan<- Event
	stdout io.Writer
	stderr io.Writer

	jobs    int
	dryRun  bool
	noCache bool

	mu        sync.Mutex
	results   map[string]*Result
	completed []Result
	cancelled atomic.Bool
}

// Option configures the Coordinator.
type Option func(*Coordinator)

// WithLogger attaches a logger. When nil the engine operates silently.
func WithLogger(logger *log.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithEvents sets the channel on which the engine broadcasts Events. Sends
// are non-blocking; a slow consumer never stalls execution.
func WithEvents(ch chan<- Event) Option {
	return func(c *Coordinator) { c.events = ch }
}

// WithJobs bounds the number of concurrently running tasks within a
// parallel group. Defaults to GOMAXPROCS.
func WithJobs(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.jobs = n
		}
	}
}

// WithDryRun makes Run walk the plan and report what would execute without
// invoking the process runner. Conditions, cache checks, and finally blocks
// are not evaluated either: a dry run has no side effects at all.
func WithDryRun(dryRun bool) Option {
	return func(c *Coordinator) { c.dryRun = dryRun }
}

// WithNoCache disables fingerprint freshness checks for this run. Records
// are still written so the next cached run works.
func WithNoCache(noCache bool) Option {
	return func(c *Coordinator) { c.noCache = noCache }
}

// WithStore sets the cache store. Without one, caching is disabled.
func WithStore(store *fingerprint.Store) Option {
	return func(c *Coordinator) { c.store = store }
}

// WithOutput sets the writers receiving task stdout and stderr. Callers
// wanting secret redaction pass pre-wrapped writers.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(c *Coordinator) {
		c.stdout = stdout
		c.stderr = stderr
	}
}

// New creates a Coordinator for a merged configuration, validated graph,
// and resolved environment.
func New(cfg *config.Config, g *graph.Graph, env *config.ResolvedEnvironment, dir string, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:     cfg,
		graph:   g,
		env:     env,
		dir:     dir,
		shell:   executor.DetectShell(cfg.Project.Shell),
		jobs:    runtime.GOMAXPROCS(0),
		stdout:  io.Discard,
		stderr:  io.Discard,
		results: make(map[string]*Result),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes the root task and its transitive dependencies. extraArgs are
// the CLI pass-through arguments, substituted into the root task's commands
// only. The returned error covers structural problems (unknown root);
// per-task failures are contained in the Summary.
func (c *Coordinator) Run(ctx context.Context, root string, extraArgs []string) (*Summary, error) {
	order, err := c.graph.ResolutionOrder(root)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	c.emit(Event{Type: EventRunStarted, Task: root, Message: fmt.Sprintf("running task %q", root)})
	c.log("run started", "root", root, "groups", len(order))

	for _, group := range order {
		if group.Parallel {
			c.runParallelGroup(ctx, group.Tasks, root, extraArgs)
			continue
		}
		for _, name := range group.Tasks {
			c.runTask(ctx, name, root, extraArgs, false)
		}
	}

	summary := &Summary{Root: root, Duration: time.Since(start)}
	c.mu.Lock()
	summary.Results = append(summary.Results, c.completed...)
	c.mu.Unlock()

	c.emit(Event{Type: EventRunCompleted, Task: root, Message: fmt.Sprintf("run finished in %s", summary.Duration.Round(time.Millisecond))})
	c.log("run completed", "root", root, "success", summary.Success(), "duration", summary.Duration)

	if c.store != nil {
		if err := c.store.Flush(); err != nil {
			// Cache IO degrades, never fails the run.
			c.warn("flushing cache", "error", err)
		}
	}

	return summary, nil
}

// runParallelGroup starts sibling dependencies concurrently, bounded by the
// jobs limit. Siblings already started are allowed to finish after a
// non-ignored failure; members not yet started observe the cancellation
// flag and are skipped. Already-running processes are never force-killed so
// partial outputs cannot corrupt the cache's freshness claim.
func (c *Coordinator) runParallelGroup(ctx context.Context, names []string, root string, extraArgs []string) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.jobs)

	for _, name := range names {
		g.Go(func() error {
			c.runTask(gctx, name, root, extraArgs, true)
			// Always nil: a member's failure must not cancel gctx and kill
			// running siblings mid-write.
			return nil
		})
	}
	_ = g.Wait()
}

// runTask drives one task through its state machine and records the
// terminal Result. buffered selects attributed line-prefixed output, which
// is mandatory for parallel siblings.
func (c *Coordinator) runTask(ctx context.Context, name, root string, extraArgs []string, buffered bool) {
	task, ok := c.graph.Task(name)
	if !ok {
		// ResolutionOrder only emits known tasks.
		return
	}

	commands := task.Commands()
	if name == root {
		expanded := make([]string, len(commands))
		for i, cmd := range commands {
			expanded[i] = executor.ExpandArgs(cmd, extraArgs)
		}
		commands = expanded
	}

	if c.dryRun {
		c.recordDryRun(name, commands)
		return
	}

	stdout, stderr, flush := c.taskWriters(name, buffered)
	defer flush()

	runner := &executor.Runner{
		Shell:   c.shell,
		Dir:     c.dir,
		Environ: c.env.Environ(),
		Logger:  c.logger,
	}

	start := time.Now()
	c.emit(Event{Type: EventTaskStarted, Task: name, Message: fmt.Sprintf("task %q started", name)})

	result := c.executeStateMachine(ctx, task, commands, runner, stdout, stderr)
	result.Task = name
	result.Duration = time.Since(start)

	// FinallyPhase: exactly once, on every exit path, no retry. Its own
	// failure is logged but does not change the task's recorded status.
	c.runFinally(ctx, task, runner, stdout, stderr)

	c.record(result)
}

// executeStateMachine covers ConditionCheck, CacheCheck, and Running. The
// caller owns the FinallyPhase and result recording.
func (c *Coordinator) executeStateMachine(ctx context.Context, task config.Task, commands []string, runner *executor.Runner, stdout, stderr io.Writer) *Result {
	name := task.Name

	// Dependency propagation: all dependencies have reached a terminal
	// state by construction of the resolution order; a non-ignored failure
	// among them skips this task without running it.
	if failedDep := c.failedDependency(task); failedDep != "" {
		c.emit(Event{Type: EventTaskSkipped, Task: name, Message: fmt.Sprintf("task %q skipped: dependency %q failed", name, failedDep)})
		c.log("task skipped", "task", name, "reason", SkipDependencyFailed, "dependency", failedDep)
		return &Result{Status: StatusSkipped, SkipReason: SkipDependencyFailed}
	}

	// Cooperative cancellation: no new task starts after a non-ignored
	// failure elsewhere in the run.
	if c.cancelled.Load() || ctx.Err() != nil {
		c.emit(Event{Type: EventTaskSkipped, Task: name, Message: fmt.Sprintf("task %q skipped: run cancelled", name)})
		c.log("task skipped", "task", name, "reason", SkipCancelled)
		return &Result{Status: StatusSkipped, SkipReason: SkipCancelled}
	}

	// ConditionCheck.
	outcome, err := executor.EvaluateCondition(ctx, runner, task)
	if err != nil {
		// A probe that cannot be spawned is a task failure, distinct from a
		// nonzero-but-spawned probe result.
		return c.failure(task, &Result{Status: StatusFailed, Err: fmt.Errorf("condition probe for task %q: %w", name, err)})
	}
	switch outcome {
	case executor.SkippedBySkipIf:
		c.emit(Event{Type: EventTaskSkipped, Task: name, Message: fmt.Sprintf("task %q skipped by skip_if", name)})
		c.log("task skipped", "task", name, "reason", SkipBySkipIf)
		return &Result{Status: StatusSkipped, SkipReason: SkipBySkipIf}
	case executor.SkippedByRunIf:
		c.emit(Event{Type: EventTaskSkipped, Task: name, Message: fmt.Sprintf("task %q skipped by run_if", name)})
		c.log("task skipped", "task", name, "reason", SkipByRunIf)
		return &Result{Status: StatusSkipped, SkipReason: SkipByRunIf}
	}

	// CacheCheck: only when both sources and outputs are declared.
	digest := ""
	if task.Cacheable() && c.store != nil {
		d, err := fingerprint.Compute(c.dir, task, c.env, commands)
		if err != nil {
			// Degrade to always-stale; never fatal.
			c.warn("fingerprint failed, treating task as stale", "task", name, "error", err)
		} else {
			digest = d
			if !c.noCache {
				if entry, ok := c.store.Get(name); ok && fingerprint.IsFresh(entry, digest, c.dir) {
					c.emit(Event{Type: EventTaskCached, Task: name, Message: fmt.Sprintf("task %q is up to date", name)})
					c.log("task cached", "task", name)
					return &Result{Status: StatusCached}
				}
			}
		}
	}

	// Running.
	result := c.runCommands(ctx, task, commands, runner, stdout, stderr)
	if result.Status != StatusExecuted {
		return c.failure(task, result)
	}

	// Record the fingerprint only after a fully successful run.
	if digest != "" {
		outputs, err := fingerprint.OutputPaths(c.dir, task)
		if err != nil {
			c.warn("enumerating outputs, cache entry not recorded", "task", name, "error", err)
		} else {
			c.store.Put(name, fingerprint.Entry{Digest: digest, Outputs: outputs, RecordedAt: time.Now().UTC()})
		}
	}

	c.emit(Event{Type: EventTaskSucceeded, Task: name, Message: fmt.Sprintf("task %q succeeded", name)})
	c.log("task succeeded", "task", name, "attempts", result.Attempts)
	return result
}

// runCommands executes the task's command list in order, applying the
// retry, delay, and timeout policy per command. The first failing command
// stops the list.
func (c *Coordinator) runCommands(ctx context.Context, task config.Task, commands []string, runner *executor.Runner, stdout, stderr io.Writer) *Result {
	result := &Result{Status: StatusExecuted}

	for _, command := range commands {
		c.log("executing", "task", task.Name, "command", command)

		outcome, err := runner.Run(ctx, executor.RunOpts{
			Command:    command,
			Timeout:    secondsToDuration(task.Timeout),
			Retry:      task.Retry,
			RetryDelay: secondsToDuration(task.RetryDelay),
			Stdout:     stdout,
			Stderr:     stderr,
			OnRetry: func(attempt int) {
				c.emit(Event{Type: EventTaskRetrying, Task: task.Name, Message: fmt.Sprintf("task %q retrying after failed attempt %d", task.Name, attempt)})
			},
		})
		result.ExitCode = outcome.ExitCode
		result.Attempts = outcome.Attempts

		if err != nil {
			result.Status = StatusFailed
			result.Err = fmt.Errorf("task %q: %w", task.Name, err)
			return result
		}
	}
	return result
}

// runFinally executes the finally command list exactly once, best-effort.
func (c *Coordinator) runFinally(ctx context.Context, task config.Task, runner *executor.Runner, stdout, stderr io.Writer) {
	if len(task.Finally) == 0 {
		return
	}
	// The run context may already be cancelled; cleanup still gets a chance.
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	for _, command := range task.Finally {
		if _, err := runner.Run(ctx, executor.RunOpts{Command: command, Stdout: stdout, Stderr: stderr}); err != nil {
			c.warn("finally command failed", "task", task.Name, "command", command, "error", err)
		}
	}
}

// failure finalizes a failed result, applying ignore_failure and raising
// the cancellation flag for fatal failures.
func (c *Coordinator) failure(task config.Task, result *Result) *Result {
	result.Status = StatusFailed
	result.Ignored = task.IgnoreFailure

	c.emit(Event{
		Type:    EventTaskFailed,
		Task:    task.Name,
		Message: fmt.Sprintf("task %q failed", task.Name),
		Error:   errString(result.Err),
	})
	if task.IgnoreFailure {
		c.log("task failed (ignored)", "task", task.Name, "error", result.Err)
	} else {
		c.warn("task failed", "task", task.Name, "error", result.Err)
		c.cancelled.Store(true)
	}
	return result
}

// failedDependency returns the name of a dependency whose terminal state is
// a non-ignored failure, or "".
func (c *Coordinator) failedDependency(task config.Task) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, dep := range task.Deps {
		if r, ok := c.results[dep]; ok && r.FatalFailure() {
			return dep
		}
	}
	return ""
}

// recordDryRun logs the plan entry for a task without side effects.
func (c *Coordinator) recordDryRun(name string, commands []string) {
	for _, command := range commands {
		c.log("dry-run", "task", name, "command", command)
	}
	c.emit(Event{Type: EventTaskSkipped, Task: name, Message: fmt.Sprintf("task %q (dry-run)", name)})
	c.record(&Result{Task: name, Status: StatusSkipped, SkipReason: SkipDryRun})
}

// record stores a terminal result; safe for concurrent group members.
func (c *Coordinator) record(result *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[result.Task] = result
	c.completed = append(c.completed, *result)
}

// taskWriters returns the stdout/stderr writers for a task. Parallel group
// members always get attributed line-prefixed output so sibling streams are
// never interleaved within a line; sequential tasks stream directly.
func (c *Coordinator) taskWriters(name string, buffered bool) (io.Writer, io.Writer, func()) {
	if !buffered {
		return c.stdout, c.stderr, func() {}
	}
	outw := executor.NewPrefixWriter(c.stdout, name)
	errw := executor.NewPrefixWriter(c.stderr, name)
	return outw, errw, func() {
		_ = outw.Flush()
		_ = errw.Flush()
	}
}

func (c *Coordinator) log(msg string, kvs ...any) {
	if c.logger != nil {
		c.logger.Info(msg, kvs...)
	}
}

func (c *Coordinator) warn(msg string, kvs ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, kvs...)
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
