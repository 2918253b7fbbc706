package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stride-run/stride/internal/config"
	"github.com/stride-run/stride/internal/fingerprint"
	"github.com/stride-run/stride/internal/graph"
)

// fixture wires a Coordinator over a temp project directory with sh as the
// shell. Process-spawning tests skip on Windows.
type fixture struct {
	dir   string
	cfg   *config.Config
	graph *graph.Graph
	env   *config.ResolvedEnvironment
}

func newFixture(t *testing.T, tasks map[string]config.Task) *fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test relies on sh")
	}

	for name, task := range tasks {
		task.Name = name
		tasks[name] = task
	}

	cfg := &config.Config{
		Project: config.ProjectConfig{Shell: "sh"},
		Tasks:   tasks,
	}
	g, err := graph.Build(tasks)
	require.NoError(t, err)

	env, err := config.Resolve(&config.Loaded{Config: cfg}, []string{"PATH=" + os.Getenv("PATH")}, nil)
	require.NoError(t, err)

	return &fixture{dir: t.TempDir(), cfg: cfg, graph: g, env: env}
}

func (f *fixture) coordinator(opts ...Option) *Coordinator {
	return New(f.cfg, f.graph, f.env, f.dir, opts...)
}

func (f *fixture) run(t *testing.T, root string, opts ...Option) *Summary {
	t.Helper()
	summary, err := f.coordinator(opts...).Run(context.Background(), root, nil)
	require.NoError(t, err)
	return summary
}

func (f *fixture) readFile(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.dir, name))
	require.NoError(t, err)
	return string(data)
}

// syncBuffer is safe to share between the prefix writers of concurrent
// tasks.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRun_SequentialDependencyOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]config.Task{
		"generate": {Cmds: []string{"printf generate, >> order.txt"}},
		"build":    {Cmds: []string{"printf build, >> order.txt"}, Deps: []string{"generate"}},
		"deploy":   {Cmds: []string{"printf deploy, >> order.txt"}, Deps: []string{"build"}},
	})

	summary := f.run(t, "deploy")
	require.True(t, summary.Success())

	assert.Equal(t, "generate,build,deploy,", f.readFile(t, "order.txt"))
	for _, name := range []string{"generate", "build", "deploy"} {
		r, ok := summary.Get(name)
		require.True(t, ok)
		assert.Equal(t, StatusExecuted, r.Status)
	}
}

func TestRun_ExecutedThenCached(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]config.Task{
		"build": {
			Cmds:    []string{"cat input.txt > out.txt", "printf x >> runs.txt"},
			Sources: []string{"input.txt"},
			Outputs: []string{"out.txt"},
		},
	})
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "input.txt"), []byte("v1"), 0o644))

	store := fingerprint.OpenStoreAt(filepath.Join(f.dir, ".cache.json"), nil)

	summary := f.run(t, "build", WithStore(store))
	r, _ := summary.Get("build")
	assert.Equal(t, StatusExecuted, r.Status)

	// Nothing changed: the second run is proven fresh and does not execute.
	store = fingerprint.OpenStoreAt(filepath.Join(f.dir, ".cache.json"), nil)
	summary = f.run(t, "build", WithStore(store))
	r, _ = summary.Get("build")
	assert.Equal(t, StatusCached, r.Status)
	assert.Equal(t, "x", f.readFile(t, "runs.txt"))

	// A source edit invalidates the fingerprint.
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "input.txt"), []byte("v2"), 0o644))
	store = fingerprint.OpenStoreAt(filepath.Join(f.dir, ".cache.json"), nil)
	summary = f.run(t, "build", WithStore(store))
	r, _ = summary.Get("build")
	assert.Equal(t, StatusExecuted, r.Status)
	assert.Equal(t, "xx", f.readFile(t, "runs.txt"))
}

func TestRun_CacheInvalidatedByMissingOutput(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]config.Task{
		"build": {
			Cmds:    []string{"printf bin > out.txt"},
			Sources: []string{"input.txt"},
			Outputs: []string{"out.txt"},
		},
	})
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "input.txt"), []byte("v1"), 0o644))

	store := fingerprint.OpenStoreAt(filepath.Join(f.dir, ".cache.json"), nil)
	f.run(t, "build", WithStore(store))

	// Deleting the recorded output forces re-execution despite an unchanged
	// digest.
	require.NoError(t, os.Remove(filepath.Join(f.dir, "out.txt")))
	store = fingerprint.OpenStoreAt(filepath.Join(f.dir, ".cache.json"), nil)
	summary := f.run(t, "build", WithStore(store))
	r, _ := summary.Get("build")
	assert.Equal(t, StatusExecuted, r.Status)
	assert.FileExists(t, filepath.Join(f.dir, "out.txt"))
}

func TestRun_SourcesWithoutOutputsNeverCached(t *testing.T) {
	t.Parallel()

	// Only sources declared: the task is valid but uncacheable, so it
	// executes on every run even with an unchanged tree and a warm store.
	f := newFixture(t, map[string]config.Task{
		"scan": {
			Cmds:    []string{"printf x >> runs.txt"},
			Sources: []string{"input.txt"},
		},
	})
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "input.txt"), []byte("v1"), 0o644))

	store := fingerprint.OpenStoreAt(filepath.Join(f.dir, ".cache.json"), nil)
	summary := f.run(t, "scan", WithStore(store))
	r, _ := summary.Get("scan")
	assert.Equal(t, StatusExecuted, r.Status)

	store = fingerprint.OpenStoreAt(filepath.Join(f.dir, ".cache.json"), nil)
	summary = f.run(t, "scan", WithStore(store))
	r, _ = summary.Get("scan")
	assert.Equal(t, StatusExecuted, r.Status)
	assert.Equal(t, "xx", f.readFile(t, "runs.txt"))
}

func TestRun_NoCacheForcesExecution(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]config.Task{
		"build": {
			Cmds:    []string{"printf x >> runs.txt", "printf bin > out.txt"},
			Sources: []string{"input.txt"},
			Outputs: []string{"out.txt"},
		},
	})
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "input.txt"), []byte("v1"), 0o644))

	store := fingerprint.OpenStoreAt(filepath.Join(f.dir, ".cache.json"), nil)
	f.run(t, "build", WithStore(store))

	store = fingerprint.OpenStoreAt(filepath.Join(f.dir, ".cache.json"), nil)
	summary := f.run(t, "build", WithStore(store), WithNoCache(true))
	r, _ := summary.Get("build")
	assert.Equal(t, StatusExecuted, r.Status)
	assert.Equal(t, "xx", f.readFile(t, "runs.txt"))
}

func TestRun_RetryExhaustion(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]config.Task{
		"flaky": {Cmds: []string{"printf x >> attempts.txt; exit 1"}, Retry: 2},
	})

	summary := f.run(t, "flaky")
	assert.False(t, summary.Success())

	r, ok := summary.Get("flaky")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, r.Status)
	assert.Equal(t, 3, r.Attempts)
	assert.Equal(t, "xxx", f.readFile(t, "attempts.txt"))
}

func TestRun_FinallyRunsOnFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]config.Task{
		"broken": {
			Cmds:    []string{"exit 1"},
			Finally: []string{"touch cleaned-up"},
		},
	})

	summary := f.run(t, "broken")
	r, _ := summary.Get("broken")
	assert.Equal(t, StatusFailed, r.Status)
	assert.FileExists(t, filepath.Join(f.dir, "cleaned-up"))
}

func TestRun_FinallyRunsWhenSkipped(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]config.Task{
		"guarded": {
			Cmds:    []string{"touch ran"},
			SkipIf:  "true",
			Finally: []string{"touch cleaned-up"},
		},
	})

	summary := f.run(t, "guarded")
	r, _ := summary.Get("guarded")
	assert.Equal(t, StatusSkipped, r.Status)
	assert.Equal(t, SkipBySkipIf, r.SkipReason)
	assert.NoFileExists(t, filepath.Join(f.dir, "ran"))
	assert.FileExists(t, filepath.Join(f.dir, "cleaned-up"))
}

func TestRun_ConditionSkips(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]config.Task{
		"wanted":   {Cmds: []string{"touch wanted"}, RunIf: "true"},
		"unwanted": {Cmds: []string{"touch unwanted"}, RunIf: "false"},
	})

	summary := f.run(t, "wanted")
	r, _ := summary.Get("wanted")
	assert.Equal(t, StatusExecuted, r.Status)

	summary = f.run(t, "unwanted")
	r, _ = summary.Get("unwanted")
	assert.Equal(t, StatusSkipped, r.Status)
	assert.Equal(t, SkipByRunIf, r.SkipReason)
	assert.NoFileExists(t, filepath.Join(f.dir, "unwanted"))
	assert.True(t, summary.Success(), "a condition skip is not a failure")
}

func TestRun_DependencyFailureSkipsDependent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]config.Task{
		"a": {Cmds: []string{"exit 1"}},
		"b": {Cmds: []string{"touch b-ran"}, Deps: []string{"a"}},
	})

	summary := f.run(t, "b")
	assert.False(t, summary.Success())

	r, _ := summary.Get("b")
	assert.Equal(t, StatusSkipped, r.Status)
	assert.Equal(t, SkipDependencyFailed, r.SkipReason)
	assert.NoFileExists(t, filepath.Join(f.dir, "b-ran"))
}

func TestRun_CancellationSkipsRemainingTasks(t *testing.T) {
	t.Parallel()

	// b does not depend on a, but a's failure cancels the rest of the run.
	f := newFixture(t, map[string]config.Task{
		"all": {Deps: []string{"a", "b"}},
		"a":   {Cmds: []string{"exit 1"}},
		"b":   {Cmds: []string{"touch b-ran"}},
	})

	summary := f.run(t, "all")
	assert.False(t, summary.Success())

	r, _ := summary.Get("b")
	assert.Equal(t, StatusSkipped, r.Status)
	assert.Equal(t, SkipCancelled, r.SkipReason)
	assert.NoFileExists(t, filepath.Join(f.dir, "b-ran"))

	r, _ = summary.Get("all")
	assert.Equal(t, StatusSkipped, r.Status)
	assert.Equal(t, SkipDependencyFailed, r.SkipReason)
}

func TestRun_IgnoreFailureLetsDependentsRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]config.Task{
		"optional": {Cmds: []string{"exit 1"}, IgnoreFailure: true},
		"main":     {Cmds: []string{"touch main-ran"}, Deps: []string{"optional"}},
	})

	summary := f.run(t, "main")
	assert.True(t, summary.Success(), "ignored failures do not fail the run")

	r, _ := summary.Get("optional")
	assert.Equal(t, StatusFailed, r.Status)
	assert.True(t, r.Ignored)

	r, _ = summary.Get("main")
	assert.Equal(t, StatusExecuted, r.Status)
	assert.FileExists(t, filepath.Join(f.dir, "main-ran"))
}

func TestRun_ParallelFailureSkipsDependent(t *testing.T) {
	t.Parallel()

	// a waits until b has provably started, then fails. b, already running,
	// is allowed to finish; the dependent root is skipped.
	f := newFixture(t, map[string]config.Task{
		"all": {Cmds: []string{"touch all-ran"}, Deps: []string{"a", "b"}, Parallel: true},
		"a":   {Cmds: []string{"while [ ! -f b-started ]; do sleep 0.02; done; exit 1"}, Timeout: 10},
		"b":   {Cmds: []string{"touch b-started; sleep 0.2; touch b-done"}},
	})

	summary := f.run(t, "all", WithJobs(4))
	assert.False(t, summary.Success())

	r, _ := summary.Get("a")
	assert.Equal(t, StatusFailed, r.Status)

	r, _ = summary.Get("b")
	assert.Equal(t, StatusExecuted, r.Status, "a running sibling finishes after a failure")
	assert.FileExists(t, filepath.Join(f.dir, "b-done"))

	r, _ = summary.Get("all")
	assert.Equal(t, StatusSkipped, r.Status)
	assert.Equal(t, SkipDependencyFailed, r.SkipReason)
	assert.NoFileExists(t, filepath.Join(f.dir, "all-ran"))
}

func TestRun_ParallelOutputIsLinePrefixed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]config.Task{
		"all":   {Deps: []string{"left", "right"}, Parallel: true},
		"left":  {Cmds: []string{"echo from-left"}},
		"right": {Cmds: []string{"echo from-right"}},
	})

	out := &syncBuffer{}
	summary := f.run(t, "all", WithJobs(4), WithOutput(out, out))
	require.True(t, summary.Success())

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	assert.Contains(t, lines, "[left] from-left")
	assert.Contains(t, lines, "[right] from-right")
}

func TestRun_DryRunHasNoSideEffects(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]config.Task{
		"prep":  {Cmds: []string{"touch prep-ran"}},
		"build": {Cmds: []string{"touch build-ran"}, Deps: []string{"prep"}},
	})

	summary := f.run(t, "build", WithDryRun(true))
	require.True(t, summary.Success())

	for _, name := range []string{"prep", "build"} {
		r, ok := summary.Get(name)
		require.True(t, ok)
		assert.Equal(t, StatusSkipped, r.Status)
		assert.Equal(t, SkipDryRun, r.SkipReason)
	}
	assert.NoFileExists(t, filepath.Join(f.dir, "prep-ran"))
	assert.NoFileExists(t, filepath.Join(f.dir, "build-ran"))
}

func TestRun_ExtraArgsExpandRootOnly(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]config.Task{
		"dep":  {Cmds: []string{"touch dep-ran"}},
		"root": {Cmds: []string{"touch $1"}, Deps: []string{"dep"}},
	})

	summary, err := f.coordinator().Run(context.Background(), "root", []string{"from-args"})
	require.NoError(t, err)
	require.True(t, summary.Success())

	assert.FileExists(t, filepath.Join(f.dir, "from-args"))
	assert.FileExists(t, filepath.Join(f.dir, "dep-ran"))
}

func TestRun_UnknownRoot(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]config.Task{"only": {Cmds: []string{"true"}}})

	_, err := f.coordinator().Run(context.Background(), "missing", nil)
	var unknown *graph.UnknownTaskError
	require.ErrorAs(t, err, &unknown)
}

func TestRun_Events(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]config.Task{
		"flaky": {Cmds: []string{"test -f marker || { touch marker; exit 1; }"}, Retry: 1},
	})

	events := make(chan Event, 64)
	summary := f.run(t, "flaky", WithEvents(events))
	require.True(t, summary.Success())
	close(events)

	var types []EventType
	for ev := range events {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, EventRunStarted)
	assert.Contains(t, types, EventTaskStarted)
	assert.Contains(t, types, EventTaskRetrying)
	assert.Contains(t, types, EventTaskSucceeded)
	assert.Contains(t, types, EventRunCompleted)
}
