package core

import (
	"fmt"
	"time"
)

const (
	Scheduled Status = "scheduled"
	Completed Status = "completed"
	Deleted   Status = "deleted"
)

// Status is the per-occurrence lifecycle state. Completed and Deleted are terminal.
type Status string

// transitions lists every legal edge of the lifecycle.
var transitions = map[Status][]Status{
	Scheduled: {Completed, Deleted},
}

func (s Status) Valid() bool {
	switch s {
	case Scheduled, Completed, Deleted:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == Completed || s == Deleted
}

// CanTransition reports whether s -> to is a legal edge.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves o to the given status. On an illegal edge o is left untouched.
func Transition(o *Occurrence, to Status, now time.Time) error {
	if !o.Status.CanTransition(to) {
		return fmt.Errorf("%w: occurrence %s is %s, cannot become %s", ErrInvalidTransition, o.ID, o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = now
	return nil
}
