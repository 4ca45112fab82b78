package bt

import (
	"context"
	"time"

	"github.com/zeusync/behaviortree/internal/core/observability/log"
)

// Scratch is the per-node memory of one execution context. Nodes keep their
// resume index, counters, timers and rolls here instead of on themselves.
// The zero value is a fresh start.
type Scratch struct {
	Index  int
	Count  int
	Start  time.Time
	Stamp  time.Time
	Rolled bool
	Passed bool
	Value  any

	status Status
	ticked bool
	tick   uint64
}

// TickContext is passed into nodes during one tree tick.
type TickContext struct {
	Ctx context.Context

	ec  *ExecutionContext
	now time.Time
}

// Tick evaluates a child. Muted conditions count as Success without being
// evaluated, and a condition reporting Running is turned into Failure.
func (tc *TickContext) Tick(n Node) Status {
	i, ok := tc.ec.plan.index[n.ID()]
	if !ok {
		tc.ec.logger.Warn("tick of a node outside the tree", log.String("node", string(n.ID())))
		return StatusFailure
	}

	var st Status
	if c, ok := n.(Condition); ok && c.Muted() {
		st = StatusSuccess
	} else {
		st = n.Tick(tc)
		if st == StatusRunning && n.Category() == CategoryCondition {
			tc.ec.logger.Warn("condition returned Running; treating as Failure",
				log.String("node", string(n.ID())),
				log.String("kind", n.Kind()),
			)
			st = StatusFailure
		}
	}

	s := &tc.ec.scratch[i]
	s.status, s.ticked, s.tick = st, true, tc.ec.ticks
	if tc.ec.observer != nil {
		tc.ec.observer(tc.ec, n, st)
	}
	return st
}

// Halt clears the memory of a node and its whole subtree, so that its next
// tick starts fresh.
func (tc *TickContext) Halt(n Node) {
	i, ok := tc.ec.plan.index[n.ID()]
	if !ok {
		return
	}
	clear(tc.ec.scratch[i : i+tc.ec.plan.size[i]])
}

// Scratch returns the memory of a node in this context.
func (tc *TickContext) Scratch(n Node) *Scratch {
	i, ok := tc.ec.plan.index[n.ID()]
	if !ok {
		return &Scratch{}
	}
	return &tc.ec.scratch[i]
}

// Var returns the resolved accessor of a declared variable. Undeclared names
// yield a detached, empty Ref.
func (tc *TickContext) Var(n Node, name string) *Ref {
	i, ok := tc.ec.plan.index[n.ID()]
	if ok {
		if j := n.base().varIndex(name); j >= 0 && j < len(tc.ec.refs[i]) {
			return tc.ec.refs[i][j]
		}
	}
	return &Ref{name: name, typ: TypeObject, slot: -1}
}

func (tc *TickContext) Blackboard() *Blackboard { return tc.ec.bb }

func (tc *TickContext) Context() *ExecutionContext { return tc.ec }

// Now is the time the current tree tick started.
func (tc *TickContext) Now() time.Time { return tc.now }

// Float64 draws from the context's random source.
func (tc *TickContext) Float64() float64 { return tc.ec.rand.Float64() }

func (tc *TickContext) Logger() log.Log { return tc.ec.logger }
