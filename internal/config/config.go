// Package config loads and merges Stride project configuration.
//
// A project is described by stride.toml, optionally extended by
// stride.*.toml files merged in alphabetical filename order, and layered
// with variables from .env (or .env.<profile> when STRIDE_ENV is set).
// The merged result is resolved into an immutable ResolvedEnvironment that
// records the provenance of every variable.
package config

import (
	"fmt"
	"runtime"
)

// ConfigFileName is the name of the Stride configuration file.
const ConfigFileName = "stride.toml"

// Config is the top-level configuration structure mapping to stride.toml.
type Config struct {
	Project ProjectConfig     `toml:"project"`
	Env     map[string]string `toml:"env"`
	Tasks   map[string]Task   `toml:"tasks"`
}

// ProjectConfig maps to the [project] section in stride.toml.
type ProjectConfig struct {
	Name        string   `toml:"name"`
	Version     string   `toml:"version"`
	Authors     []string `toml:"authors"`
	Description string   `toml:"description"`

	// Shell overrides shell detection for every command in the project.
	Shell string `toml:"shell"`

	// Log selects the log strategy ("console", "file", or "both").
	Log string `toml:"log"`

	// LogPlain disables color and styling in log output.
	LogPlain bool `toml:"log_plain"`

	// Secrets holds regex patterns masked in all log and command output.
	Secrets []string `toml:"secrets"`
}

// Task maps to a [tasks.<name>] section in stride.toml.
//
// A task may also be declared as a bare string or an array of strings, which
// are shorthand for a table containing only cmds; see UnmarshalTOML.
type Task struct {
	// Name is the task's key in the [tasks] table, filled in after decoding.
	Name string `toml:"-"`

	// Cmds is the generic command list, used when no OS-specific list
	// matches the current platform.
	Cmds []string `toml:"cmds"`

	// Windows, Linux, and MacOS fully replace Cmds on their platform.
	Windows []string `toml:"windows"`
	Linux   []string `toml:"linux"`
	MacOS   []string `toml:"macos"`

	// Deps lists task names that must reach a terminal state first.
	Deps []string `toml:"deps"`

	// Parallel starts this task's dependencies concurrently.
	Parallel bool `toml:"parallel"`

	// RunIf and SkipIf are probe commands; see the condition evaluator.
	RunIf  string `toml:"run_if"`
	SkipIf string `toml:"skip_if"`

	// IgnoreFailure lets dependents run even when this task fails.
	IgnoreFailure bool `toml:"ignore_failure"`

	// Retry is the number of re-attempts after a failed attempt.
	Retry int `toml:"retry"`

	// RetryDelay is the pause between attempts, in seconds.
	RetryDelay float64 `toml:"retry_delay"`

	// Timeout force-terminates a command after this many seconds. Zero
	// means no timeout.
	Timeout float64 `toml:"timeout"`

	// Finally commands run exactly once on every exit path.
	Finally []string `toml:"finally"`

	// Sources and Outputs are glob lists; declaring both enables caching.
	Sources []string `toml:"sources"`
	Outputs []string `toml:"outputs"`

	Description string `toml:"description"`
}

// UnmarshalTOML accepts the three task shapes:
//
//	build = "go build ./..."
//	build = ["go generate ./...", "go build ./..."]
//	[tasks.build]
//	cmds = [...]
func (t *Task) UnmarshalTOML(data any) error {
	switch v := data.(type) {
	case string:
		t.Cmds = []string{v}
		return nil
	case []any:
		cmds, err := stringSlice(v)
		if err != nil {
			return fmt.Errorf("task command list: %w", err)
		}
		t.Cmds = cmds
		return nil
	case map[string]any:
		return t.decodeTable(v)
	default:
		return fmt.Errorf("task must be a string, array of strings, or table, got %T", data)
	}
}

// decodeTable fills t from a decoded TOML table. Unknown keys are rejected
// so typos in task definitions surface as configuration errors.
func (t *Task) decodeTable(m map[string]any) error {
	for key, raw := range m {
		var err error
		switch key {
		case "cmds":
			t.Cmds, err = anyStringSlice(raw)
		case "windows":
			t.Windows, err = anyStringSlice(raw)
		case "linux":
			t.Linux, err = anyStringSlice(raw)
		case "macos":
			t.MacOS, err = anyStringSlice(raw)
		case "deps":
			t.Deps, err = anyStringSlice(raw)
		case "parallel":
			t.Parallel, err = anyBool(raw)
		case "run_if":
			t.RunIf, err = anyString(raw)
		case "skip_if":
			t.SkipIf, err = anyString(raw)
		case "ignore_failure":
			t.IgnoreFailure, err = anyBool(raw)
		case "retry":
			t.Retry, err = anyInt(raw)
		case "retry_delay":
			t.RetryDelay, err = anyFloat(raw)
		case "timeout":
			t.Timeout, err = anyFloat(raw)
		case "finally":
			t.Finally, err = anyStringSlice(raw)
		case "sources":
			t.Sources, err = anyStringSlice(raw)
		case "outputs":
			t.Outputs, err = anyStringSlice(raw)
		case "description":
			t.Description, err = anyString(raw)
		default:
			return fmt.Errorf("unknown task key %q", key)
		}
		if err != nil {
			return fmt.Errorf("task key %q: %w", key, err)
		}
	}
	return nil
}

// CommandsFor returns the command list selected for the given GOOS value.
// An OS-specific list fully replaces the generic list when present; an
// unlisted platform falls back to Cmds.
func (t *Task) CommandsFor(goos string) []string {
	switch goos {
	case "windows":
		if len(t.Windows) > 0 {
			return t.Windows
		}
	case "linux":
		if len(t.Linux) > 0 {
			return t.Linux
		}
	case "darwin":
		if len(t.MacOS) > 0 {
			return t.MacOS
		}
	}
	return t.Cmds
}

// Commands returns the command list for the current platform.
func (t *Task) Commands() []string {
	return t.CommandsFor(runtime.GOOS)
}

// Cacheable reports whether the task participates in fingerprint caching.
// Both sources and outputs must be declared; anything else always runs.
func (t *Task) Cacheable() bool {
	return len(t.Sources) > 0 && len(t.Outputs) > 0
}

func anyString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", v)
	}
	return s, nil
}

func anyBool(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", v)
	}
	return b, nil
}

func anyInt(v any) (int, error) {
	i, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
	return int(i), nil
}

func anyFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func anyStringSlice(v any) ([]string, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected array of strings, got %T", v)
	}
	return stringSlice(arr)
}

func stringSlice(arr []any) ([]string, error) {
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected string element, got %T", item)
		}
		out = append(out, s)
	}
	return out, nil
}
