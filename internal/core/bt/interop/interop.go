// Package interop bridges behaviour trees with github.com/joeycumines/go-behaviortree:
// status mapping, embedding a tree as a go-behaviortree node, and running
// go-behaviortree subtrees as leaf actions.
package interop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joeycumines/go-behaviortree"

	"github.com/zeusync/behaviortree/internal/core/bt"
	"github.com/zeusync/behaviortree/internal/core/observability/log"
)

// ErrCompleted stops a Drive ticker once its step reports completion.
var ErrCompleted = errors.New("interop: run completed")

func FromStatus(st behaviortree.Status) bt.Status {
	switch st {
	case behaviortree.Success:
		return bt.StatusSuccess
	case behaviortree.Running:
		return bt.StatusRunning
	default:
		return bt.StatusFailure
	}
}

func ToStatus(st bt.Status) behaviortree.Status {
	switch st {
	case bt.StatusSuccess:
		return behaviortree.Success
	case bt.StatusRunning:
		return behaviortree.Running
	default:
		return behaviortree.Failure
	}
}

// Node exposes one execution context of a tree as a go-behaviortree node.
// A finished run is reset on the next tick, so the node can be reused by
// go-behaviortree composites that tick it repeatedly.
func Node(ctx context.Context, tree *bt.Tree, ec *bt.ExecutionContext) behaviortree.Node {
	return behaviortree.New(func([]behaviortree.Node) (behaviortree.Status, error) {
		if ec.State().Done() {
			if err := tree.ResetContext(ec); err != nil {
				return behaviortree.Failure, err
			}
		}
		st, err := tree.Tick(ctx, ec)
		if err != nil {
			return behaviortree.Failure, err
		}
		return ToStatus(st), nil
	})
}

// Factory builds a fresh go-behaviortree node.
type Factory func() behaviortree.Node

// External is an action leaf backed by a go-behaviortree subtree. Every
// execution context gets its own instance, dropped when it finishes.
type External struct {
	bt.ActionNode
	New Factory
}

func NewExternal(title string, factory Factory) *External {
	n := &External{New: factory}
	n.Init("External")
	n.SetTitle(title)
	return n
}

func (n *External) Tick(tc *bt.TickContext) bt.Status {
	if n.New == nil {
		return bt.StatusFailure
	}
	s := tc.Scratch(n)
	inner, ok := s.Value.(behaviortree.Node)
	if !ok || inner == nil {
		inner = n.New()
		s.Value = inner
	}

	st, err := inner.Tick()
	if err != nil {
		tc.Logger().Warn("external node failed",
			log.String("node", string(n.ID())),
			log.Error(err),
		)
		s.Value = nil
		return bt.StatusFailure
	}
	out := FromStatus(st)
	if out != bt.StatusRunning {
		s.Value = nil
	}
	return out
}

// RegisterExternal adds a kind whose instances run the given go-behaviortree
// factory.
func RegisterExternal(r *bt.Registry, kind string, meta bt.Metadata, factory Factory) error {
	if factory == nil {
		return fmt.Errorf("register external %q: nil factory", kind)
	}
	return r.Register(kind, meta, func() bt.Node { return NewExternal("", factory) })
}

// Step advances some work by one tick. done stops the driving ticker.
type Step func(ctx context.Context) (done bool, err error)

// Drive ticks step on a go-behaviortree ticker until it completes, fails or
// ctx is cancelled.
func Drive(ctx context.Context, interval time.Duration, step Step) behaviortree.Ticker {
	node := behaviortree.New(func([]behaviortree.Node) (behaviortree.Status, error) {
		done, err := step(ctx)
		if err != nil {
			return behaviortree.Failure, err
		}
		if done {
			return behaviortree.Success, ErrCompleted
		}
		return behaviortree.Running, nil
	})
	return behaviortree.NewTicker(ctx, interval, node)
}

// Wait blocks until the ticker stops and returns its error, ignoring normal
// completion and cancellation.
func Wait(t behaviortree.Ticker) error {
	<-t.Done()
	return Filter(t.Err())
}

// Filter drops ErrCompleted and context cancellation from err, including
// from every branch of a joined error.
func Filter(err error) error {
	if err == nil {
		return nil
	}
	if multi, ok := err.(interface{ Unwrap() []error }); ok {
		var kept []error
		for _, e := range multi.Unwrap() {
			if e = Filter(e); e != nil {
				kept = append(kept, e)
			}
		}
		return errors.Join(kept...)
	}
	if errors.Is(err, ErrCompleted) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
