package config

import (
	"errors"
	"fmt"
)

// ErrConfig is the sentinel for malformed or conflicting configuration.
// Configuration errors are fatal and abort the run before any task executes.
var ErrConfig = errors.New("configuration error")

// ErrNoConfigFile is returned when no stride.toml is found walking up from
// the working directory.
var ErrNoConfigFile = fmt.Errorf("%w: no %s found", ErrConfig, ConfigFileName)

// DynamicVariableError reports a failed $(command) environment substitution.
// Dynamic resolution failures are fatal configuration errors, not per-task
// failures.
type DynamicVariableError struct {
	// Name is the variable being resolved.
	Name string
	// Command is the probe command that failed.
	Command string
	// Err is the underlying spawn or exit error.
	Err error
}

func (e *DynamicVariableError) Error() string {
	return fmt.Sprintf("resolving dynamic variable %s from $(%s): %v", e.Name, e.Command, e.Err)
}

func (e *DynamicVariableError) Unwrap() error { return e.Err }
