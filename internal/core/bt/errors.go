package bt

import (
	"errors"
	"fmt"
)

// Structural defects. They are reported at load or context creation time,
// wrapped in a *StructuralError, and never raised while ticking.
var (
	ErrMissingRoot     = errors.New("root node is missing")
	ErrMissingChild    = errors.New("required child is not set")
	ErrUnknownChild    = errors.New("child is not part of the tree")
	ErrMultipleParents = errors.New("node has more than one parent")
	ErrOrphan          = errors.New("node is not reachable from the root")
	ErrCycle           = errors.New("parent/child cycle")
	ErrDepthExceeded   = errors.New("tree is deeper than the maximum depth")
	ErrGroupMember     = errors.New("group references a node outside the tree")
	ErrUnresolvedLink  = errors.New("variable link names an undeclared blackboard key")
	ErrTypeMismatch    = errors.New("variable type does not match the blackboard key")
	ErrUnknownKind     = errors.New("unknown node kind")
	ErrDuplicateNode   = errors.New("duplicate node id")
	ErrInvalidParam    = errors.New("invalid node parameter")
	ErrUnknownVariable = errors.New("node does not declare this variable")
	ErrInvalidSchema   = errors.New("invalid blackboard declaration")
)

// Misuse of the driving API.
var (
	ErrForeignContext = errors.New("execution context belongs to another tree")
	ErrStaleContext   = errors.New("tree was edited after the execution context was created")
	ErrRunComplete    = errors.New("run already completed; reset the execution context")
	ErrUnknownNode    = errors.New("node is not part of the tree")
)

// Blackboard access errors.
var (
	ErrUnknownKey = errors.New("blackboard key is not declared")
)

// Registry errors.
var (
	ErrRegistryFrozen = errors.New("registry is frozen")
	ErrDuplicateKind  = errors.New("node kind already registered")
)

// StructuralError locates a load-time defect.
type StructuralError struct {
	Node  NodeID
	Field string
	Err   error
}

func (e *StructuralError) Error() string {
	switch {
	case e.Node != "" && e.Field != "":
		return fmt.Sprintf("node %s: %s: %v", e.Node, e.Field, e.Err)
	case e.Node != "":
		return fmt.Sprintf("node %s: %v", e.Node, e.Err)
	case e.Field != "":
		return fmt.Sprintf("%s: %v", e.Field, e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *StructuralError) Unwrap() error { return e.Err }

func structural(id NodeID, field string, err error) error {
	return &StructuralError{Node: id, Field: field, Err: err}
}

// TypeError is returned when a blackboard value does not match the declared
// type of its key.
type TypeError struct {
	Key  string
	Want ValueType
	Got  any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("blackboard key %q: want %s, got %T", e.Key, e.Want, e.Got)
}

func (e *TypeError) Is(target error) bool { return target == ErrTypeMismatch }
