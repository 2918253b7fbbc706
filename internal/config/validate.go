package config

import (
	"fmt"
	"sort"
)

// Validate performs semantic checks on the merged configuration that TOML
// decoding cannot express. Structural graph validation (unknown
// dependencies, cycles) lives in the graph package; this catches per-task
// field errors. All detected errors are returned so callers see the
// complete picture.
func Validate(cfg *Config) []error {
	var errs []error

	names := make([]string, 0, len(cfg.Tasks))
	for name := range cfg.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t := cfg.Tasks[name]
		if name == "" {
			errs = append(errs, fmt.Errorf("%w: task with empty name", ErrConfig))
			continue
		}
		if t.Retry < 0 {
			errs = append(errs, fmt.Errorf("%w: task %q: retry must not be negative", ErrConfig, name))
		}
		if t.RetryDelay < 0 {
			errs = append(errs, fmt.Errorf("%w: task %q: retry_delay must not be negative", ErrConfig, name))
		}
		if t.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%w: task %q: timeout must not be negative", ErrConfig, name))
		}
		if t.RunIf != "" && t.SkipIf != "" && t.RunIf == t.SkipIf {
			errs = append(errs, fmt.Errorf("%w: task %q: run_if and skip_if are the same command", ErrConfig, name))
		}
	}

	switch cfg.Project.Log {
	case "", "console", "file", "both":
	default:
		errs = append(errs, fmt.Errorf("%w: project log strategy %q (want console, file, or both)", ErrConfig, cfg.Project.Log))
	}

	return errs
}

// Warnings reports non-fatal oddities worth surfacing to the user. A task
// declaring only one of sources/outputs is valid and simply never caches;
// that is usually an oversight, so it is flagged here instead of in Validate.
func Warnings(cfg *Config) []string {
	var warnings []string

	names := make([]string, 0, len(cfg.Tasks))
	for name := range cfg.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t := cfg.Tasks[name]
		if (len(t.Sources) > 0) != (len(t.Outputs) > 0) {
			warnings = append(warnings, fmt.Sprintf("task %q declares only one of sources/outputs and will never be cached", name))
		}
	}
	return warnings
}
