package bt

import "fmt"

// Status represents the execution result of a behavior node tick.
// There are exactly three values; a node that has not been ticked yet in an
// execution context is simply a fresh start.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
	StatusRunning
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusFailure:
		return "Failure"
	case StatusRunning:
		return "Running"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// StatusOf maps a predicate result to Success or Failure.
func StatusOf(ok bool) Status {
	if ok {
		return StatusSuccess
	}
	return StatusFailure
}

// TreeState is the run state of one execution context. It mirrors the last
// result of the root node.
type TreeState int

const (
	StateNotStarted TreeState = iota
	StateRunning
	StateSucceeded
	StateFailed
)

func (s TreeState) String() string {
	switch s {
	case StateNotStarted:
		return "NotStarted"
	case StateRunning:
		return "Running"
	case StateSucceeded:
		return "Succeeded"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("TreeState(%d)", int(s))
	}
}

// Done reports whether the run has reached a terminal state.
func (s TreeState) Done() bool { return s == StateSucceeded || s == StateFailed }

func stateOf(st Status) TreeState {
	switch st {
	case StatusSuccess:
		return StateSucceeded
	case StatusFailure:
		return StateFailed
	default:
		return StateRunning
	}
}

// Category is the structural class of a node kind.
type Category int

const (
	CategoryAction Category = iota
	CategoryCondition
	CategoryComposite
	CategoryDecorator
)

func (c Category) String() string {
	switch c {
	case CategoryAction:
		return "action"
	case CategoryCondition:
		return "condition"
	case CategoryComposite:
		return "composite"
	case CategoryDecorator:
		return "decorator"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}
