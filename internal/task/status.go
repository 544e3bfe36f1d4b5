package task

import (
	"fmt"
	"slices"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusClaimed   Status = "claimed"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ActiveStatuses are the non-terminal states.
var ActiveStatuses = []Status{StatusPending, StatusClaimed, StatusRunning}

// transitions maps a target status to the states it may be entered from.
// Status only moves forward; terminal states have no exits.
var transitions = map[Status][]Status{
	StatusClaimed:   {StatusPending},
	StatusRunning:   {StatusPending, StatusClaimed},
	StatusCompleted: {StatusPending, StatusClaimed, StatusRunning},
	StatusFailed:    {StatusPending, StatusClaimed, StatusRunning},
	StatusCancelled: {StatusPending, StatusClaimed, StatusRunning},
}

func (s Status) Valid() bool {
	return s == StatusPending || transitions[s] != nil
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// SourcesFor returns the states from which to may be entered.
func SourcesFor(to Status) []Status {
	return slices.Clone(transitions[to])
}

func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[to], from)
}

// TransitionError reports a conditional status write that matched no row:
// the task was not in a legal source state (or lost a race).
type TransitionError struct {
	TaskID  string
	Current Status
	Target  Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %s cannot move from %s to %s", e.TaskID, e.Current, e.Target)
}
