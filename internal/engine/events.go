package engine

import "time"

// EventType identifies the lifecycle phase of an Event.
type EventType string

const (
	// EventRunStarted is emitted once when an invocation begins.
	EventRunStarted EventType = "run_started"

	// EventRunCompleted is emitted once when the invocation finishes.
	EventRunCompleted EventType = "run_completed"

	// EventTaskStarted is emitted when a task enters its state machine.
	EventTaskStarted EventType = "task_started"

	// EventTaskSkipped is emitted when a task is skipped by condition,
	// dependency failure, or cancellation.
	EventTaskSkipped EventType = "task_skipped"

	// EventTaskCached is emitted when the fingerprint proves a task fresh.
	EventTaskCached EventType = "task_cached"

	// EventTaskRetrying is emitted before each re-attempt of a command.
	EventTaskRetrying EventType = "task_retrying"

	// EventTaskSucceeded is emitted when all commands complete.
	EventTaskSucceeded EventType = "task_succeeded"

	// EventTaskFailed is emitted when a task ends in StatusFailed.
	EventTaskFailed EventType = "task_failed"
)

// Event is a structured lifecycle notification. Formatting and output are
// owned by consumers; the engine only emits.
type Event struct {
	Type      EventType
	Task      string
	Message   string
	Error     string
	Timestamp time.Time
}

// emit sends ev to the event channel using a non-blocking select so a slow
// consumer never stalls execution. No-op when no channel is configured.
func (c *Coordinator) emit(ev Event) {
	if c.events == nil {
		return
	}
	ev.Timestamp = time.Now()
	select {
	case c.events <- ev:
	default:
	}
}
