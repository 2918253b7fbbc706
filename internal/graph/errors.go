package graph

import (
	"fmt"
	"strings"
)

// CycleError reports a dependency cycle. Path holds the ordered cycle with
// the starting task repeated at the end, e.g. [a b c a].
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}

// UnknownTaskError reports a reference to a task that is not defined in the
// merged configuration: either a dependency entry or a CLI target. Detected
// at build time, before any execution begins.
type UnknownTaskError struct {
	// Task is the undefined name.
	Task string
	// ReferencedBy is the task whose deps list names it, or empty when the
	// reference is a CLI target.
	ReferencedBy string
}

func (e *UnknownTaskError) Error() string {
	if e.ReferencedBy == "" {
		return fmt.Sprintf("unknown task %q", e.Task)
	}
	return fmt.Sprintf("task %q depends on undefined task %q", e.ReferencedBy, e.Task)
}
