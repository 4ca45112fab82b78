package bt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted returns the queued statuses one per tick and records every tick.
type scripted struct {
	node  *ActionFunc
	queue []Status
	ticks int
}

func newScripted(title string, statuses ...Status) *scripted {
	s := &scripted{queue: statuses}
	s.node = NewAction(title, func(*TickContext) Status {
		s.ticks++
		if len(s.queue) == 0 {
			return StatusSuccess
		}
		st := s.queue[0]
		if len(s.queue) > 1 {
			s.queue = s.queue[1:]
		}
		return st
	})
	return s
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func build(t *testing.T, root Node, schema *Schema) *Tree {
	t.Helper()
	tree := NewTree("test", schema)
	require.NoError(t, tree.AddNode(root))
	return tree
}

func start(t *testing.T, tree *Tree, opts ...ContextOption) *ExecutionContext {
	t.Helper()
	ec, err := tree.CreateExecutionContext(opts...)
	require.NoError(t, err)
	return ec
}

func tick(t *testing.T, tree *Tree, ec *ExecutionContext) Status {
	t.Helper()
	st, err := tree.Tick(context.Background(), ec)
	require.NoError(t, err)
	return st
}

func TestSequenceShortCircuitsOnFailure(t *testing.T) {
	a := newScripted("a", StatusSuccess)
	b := newScripted("b", StatusFailure)
	c := newScripted("c", StatusSuccess)
	tree := build(t, NewSequence(a.node, b.node, c.node), nil)
	ec := start(t, tree)

	require.Equal(t, StatusFailure, tick(t, tree, ec))
	require.Equal(t, 1, a.ticks)
	require.Equal(t, 1, b.ticks)
	require.Zero(t, c.ticks)
	require.Equal(t, StateFailed, ec.State())
}

func TestSelectorShortCircuitsOnSuccess(t *testing.T) {
	a := newScripted("a", StatusFailure)
	b := newScripted("b", StatusSuccess)
	c := newScripted("c", StatusSuccess)
	tree := build(t, NewSelector(a.node, b.node, c.node), nil)
	ec := start(t, tree)

	require.Equal(t, StatusSuccess, tick(t, tree, ec))
	require.Equal(t, 1, a.ticks)
	require.Equal(t, 1, b.ticks)
	require.Zero(t, c.ticks)

	all := build(t, NewSelector(newScripted("x", StatusFailure).node, newScripted("y", StatusFailure).node), nil)
	require.Equal(t, StatusFailure, tick(t, all, start(t, all)))
}

func TestSequenceResumesRunningChild(t *testing.T) {
	condCalls := 0
	condA := NewCondition("A", func(*TickContext) bool { condCalls++; return true })
	b := newScripted("B", StatusRunning, StatusSuccess)
	c := newScripted("C", StatusSuccess)
	seq := NewSequence(condA, b.node, c.node)
	tree := build(t, seq, nil)
	ec := start(t, tree)

	require.Equal(t, StatusRunning, tick(t, tree, ec))
	require.Equal(t, StateRunning, ec.State())
	require.Equal(t, []NodeID{seq.ID(), b.node.ID()}, ec.RunningPath())
	require.Zero(t, c.ticks)

	require.Equal(t, StatusSuccess, tick(t, tree, ec))
	require.Equal(t, 1, condCalls, "condition A must not be re-ticked")
	require.Equal(t, 2, b.ticks)
	require.Equal(t, 1, c.ticks)
	require.Equal(t, StateSucceeded, ec.State())
	require.Empty(t, ec.RunningPath())
}

func TestSelectorResumesRunningChild(t *testing.T) {
	a := newScripted("a", StatusFailure)
	b := newScripted("b", StatusRunning, StatusRunning, StatusFailure)
	c := newScripted("c", StatusSuccess)
	tree := build(t, NewSelector(a.node, b.node, c.node), nil)
	ec := start(t, tree)

	require.Equal(t, StatusRunning, tick(t, tree, ec))
	require.Equal(t, StatusRunning, tick(t, tree, ec))
	require.Equal(t, StatusSuccess, tick(t, tree, ec))
	require.Equal(t, 1, a.ticks)
	require.Equal(t, 3, b.ticks)
	require.Equal(t, 1, c.ticks)
}

func TestRunCompleteAndReset(t *testing.T) {
	a := newScripted("a", StatusSuccess)
	tree := build(t, NewSequence(a.node), nil)
	ec := start(t, tree)

	require.Equal(t, StateNotStarted, ec.State())
	require.Equal(t, StatusSuccess, tick(t, tree, ec))

	_, err := tree.Tick(context.Background(), ec)
	require.ErrorIs(t, err, ErrRunComplete)

	require.NoError(t, tree.ResetContext(ec))
	require.Equal(t, StateNotStarted, ec.State())
	require.Equal(t, StatusSuccess, tick(t, tree, ec))
	require.Equal(t, 2, a.ticks)
}

func TestResetClearsResumeMemoryKeepsBlackboard(t *testing.T) {
	schema := NewSchema()
	require.NoError(t, schema.Declare("hp", TypeInt, 10))
	a := newScripted("a", StatusSuccess)
	b := newScripted("b", StatusRunning)
	tree := build(t, NewSequence(a.node, b.node), schema)
	ec := start(t, tree)

	require.Equal(t, StatusRunning, tick(t, tree, ec))
	require.NoError(t, ec.Blackboard().Set("hp", 3))
	require.NoError(t, tree.ResetContext(ec))

	require.Equal(t, StatusRunning, tick(t, tree, ec))
	require.Equal(t, 2, a.ticks, "reset restarts the sequence at its first child")
	hp, err := Get[int](ec.Blackboard(), "hp")
	require.NoError(t, err)
	require.Equal(t, 3, hp)
}

func TestContextsAreIsolated(t *testing.T) {
	schema := NewSchema()
	require.NoError(t, schema.Declare("ready", TypeBool, false))
	gate := NewAction("gate", func(tc *TickContext) Status {
		if ok, _ := Get[bool](tc.Blackboard(), "ready"); ok {
			return StatusSuccess
		}
		return StatusRunning
	})
	first := NewSucceed()
	tree := build(t, NewSequence(first, gate), schema)

	one := start(t, tree)
	two := start(t, tree)
	require.NoError(t, one.Blackboard().Set("ready", true))

	require.Equal(t, StatusSuccess, tick(t, tree, one))
	require.Equal(t, StatusRunning, tick(t, tree, two))
	require.Equal(t, StatusRunning, tick(t, tree, two))

	ready, _ := Get[bool](two.Blackboard(), "ready")
	assert.False(t, ready)
	assert.Equal(t, StateSucceeded, one.State())
	assert.Equal(t, StateRunning, two.State())
	assert.Equal(t, []NodeID{tree.RootID(), gate.ID()}, two.RunningPath())
}

func TestMutedConditionCountsAsSuccess(t *testing.T) {
	calls := 0
	cond := NewCondition("never", func(*TickContext) bool { calls++; return false })
	cond.SetMuted(true)
	after := newScripted("after", StatusSuccess)
	tree := build(t, NewSequence(cond, after.node), nil)

	require.Equal(t, StatusSuccess, tick(t, tree, start(t, tree)))
	require.Zero(t, calls)
	require.Equal(t, 1, after.ticks)
}

type runningCondition struct{ ConditionNode }

func (*runningCondition) Tick(*TickContext) Status { return StatusRunning }

func TestConditionNeverRunning(t *testing.T) {
	c := &runningCondition{}
	c.Init("RunningCondition")
	tree := build(t, NewInverter(c), nil)
	ec := start(t, tree)

	require.Equal(t, StatusSuccess, tick(t, tree, ec))
	st, ok := ec.LastStatus(c.ID())
	require.True(t, ok)
	require.Equal(t, StatusFailure, st)
}

func TestParallelPolicies(t *testing.T) {
	cases := []struct {
		name     string
		success  Policy
		failure  Policy
		children []Status
		want     Status
	}{
		{"all succeed", RequireAll, RequireAny, []Status{StatusSuccess, StatusSuccess}, StatusSuccess},
		{"one fails", RequireAll, RequireAny, []Status{StatusSuccess, StatusFailure}, StatusFailure},
		{"still running", RequireAll, RequireAny, []Status{StatusSuccess, StatusRunning}, StatusRunning},
		{"any success", RequireAny, RequireAll, []Status{StatusFailure, StatusSuccess, StatusRunning}, StatusSuccess},
		{"count reached", RequireCount(2), RequireCount(2), []Status{StatusSuccess, StatusRunning, StatusSuccess}, StatusSuccess},
		{"count unreachable", RequireCount(3), RequireCount(3), []Status{StatusSuccess, StatusFailure, StatusSuccess}, StatusFailure},
		{"failure count", RequireAll, RequireCount(2), []Status{StatusFailure, StatusRunning, StatusFailure}, StatusFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var children []Node
			for i, st := range tc.children {
				children = append(children, newScripted(string(rune('a'+i)), st).node)
			}
			tree := build(t, NewParallel(tc.success, tc.failure, children...), nil)
			require.Equal(t, tc.want, tick(t, tree, start(t, tree)))
		})
	}
}

func TestParallelTicksEveryChildAndHaltsRunning(t *testing.T) {
	inner := newScripted("inner-b", StatusSuccess)
	slow := NewSequence(newScripted("inner-a", StatusSuccess).node, NewWait(10), inner.node)
	fast := newScripted("fast", StatusRunning, StatusSuccess)
	tree := build(t, NewParallel(RequireAny, RequireAll, slow, fast.node), nil)
	clock := newClock()
	ec := start(t, tree, WithClock(clock.Now))

	require.Equal(t, StatusRunning, tick(t, tree, ec))
	require.Equal(t, StatusSuccess, tick(t, tree, ec))
	require.Equal(t, 2, fast.ticks)

	st, ok := ec.LastStatus(slow.ID())
	require.False(t, ok, "halted subtree memory is cleared, got %v", st)
	require.Zero(t, inner.ticks)
}

func TestParallelCountValidatedAtLoad(t *testing.T) {
	tree := build(t, NewParallel(RequireCount(3), RequireAny, NewSucceed(), NewSucceed()), nil)
	_, err := tree.CreateExecutionContext()
	require.ErrorIs(t, err, ErrInvalidParam)
}

func TestDecorators(t *testing.T) {
	t.Run("inverter", func(t *testing.T) {
		for in, want := range map[Status]Status{
			StatusSuccess: StatusFailure,
			StatusFailure: StatusSuccess,
			StatusRunning: StatusRunning,
		} {
			tree := build(t, NewInverter(newScripted("c", in).node), nil)
			require.Equal(t, want, tick(t, tree, start(t, tree)), in.String())
		}
	})

	t.Run("succeeder and failer", func(t *testing.T) {
		s := build(t, NewSucceeder(NewFail()), nil)
		require.Equal(t, StatusSuccess, tick(t, s, start(t, s)))
		f := build(t, NewFailer(NewSucceed()), nil)
		require.Equal(t, StatusFailure, tick(t, f, start(t, f)))
	})

	t.Run("repeat runs one iteration per tick", func(t *testing.T) {
		child := newScripted("c", StatusSuccess)
		tree := build(t, NewRepeat(3, child.node), nil)
		ec := start(t, tree)
		require.Equal(t, StatusRunning, tick(t, tree, ec))
		require.Equal(t, StatusRunning, tick(t, tree, ec))
		require.Equal(t, StatusSuccess, tick(t, tree, ec))
		require.Equal(t, 3, child.ticks)
	})

	t.Run("repeat fails with its child", func(t *testing.T) {
		child := newScripted("c", StatusSuccess, StatusFailure)
		tree := build(t, NewRepeat(5, child.node), nil)
		ec := start(t, tree)
		require.Equal(t, StatusRunning, tick(t, tree, ec))
		require.Equal(t, StatusFailure, tick(t, tree, ec))
	})

	t.Run("repeat until failure", func(t *testing.T) {
		child := newScripted("c", StatusSuccess, StatusSuccess, StatusFailure)
		tree := build(t, NewRepeatUntilFailure(child.node), nil)
		ec := start(t, tree)
		require.Equal(t, StatusRunning, tick(t, tree, ec))
		require.Equal(t, StatusRunning, tick(t, tree, ec))
		require.Equal(t, StatusSuccess, tick(t, tree, ec))
	})

	t.Run("retry", func(t *testing.T) {
		child := newScripted("c", StatusFailure, StatusFailure, StatusSuccess)
		tree := build(t, NewRetry(3, child.node), nil)
		ec := start(t, tree)
		require.Equal(t, StatusRunning, tick(t, tree, ec))
		require.Equal(t, StatusRunning, tick(t, tree, ec))
		require.Equal(t, StatusSuccess, tick(t, tree, ec))

		failing := build(t, NewRetry(2, NewFail()), nil)
		ec = start(t, failing)
		require.Equal(t, StatusRunning, tick(t, failing, ec))
		require.Equal(t, StatusFailure, tick(t, failing, ec))
	})

	t.Run("timeout", func(t *testing.T) {
		clock := newClock()
		child := newScripted("c", StatusRunning)
		tree := build(t, NewTimeout(1, child.node), nil)
		ec := start(t, tree, WithClock(clock.Now))

		require.Equal(t, StatusRunning, tick(t, tree, ec))
		clock.Advance(500 * time.Millisecond)
		require.Equal(t, StatusRunning, tick(t, tree, ec))
		clock.Advance(time.Second)
		require.Equal(t, StatusFailure, tick(t, tree, ec))
		require.Equal(t, 2, child.ticks)
	})

	t.Run("delay", func(t *testing.T) {
		clock := newClock()
		child := newScripted("c", StatusSuccess)
		tree := build(t, NewDelay(1, child.node), nil)
		ec := start(t, tree, WithClock(clock.Now))

		require.Equal(t, StatusRunning, tick(t, tree, ec))
		require.Zero(t, child.ticks)
		clock.Advance(time.Second)
		require.Equal(t, StatusSuccess, tick(t, tree, ec))
		require.Equal(t, 1, child.ticks)
	})

	t.Run("probability", func(t *testing.T) {
		never := build(t, NewProbability(0, NewSucceed()), nil)
		require.Equal(t, StatusFailure, tick(t, never, start(t, never)))
		always := build(t, NewProbability(1, NewSucceed()), nil)
		require.Equal(t, StatusSuccess, tick(t, always, start(t, always)))

		coin := build(t, NewProbability(0.5, NewSucceed()), nil)
		run := func() []Status {
			ec := start(t, coin, WithSeed(42))
			var out []Status
			for i := 0; i < 16; i++ {
				out = append(out, tick(t, coin, ec))
				require.NoError(t, coin.ResetContext(ec))
			}
			return out
		}
		require.Equal(t, run(), run())
	})
}

func TestCooldownBlocksUntilElapsed(t *testing.T) {
	clock := newClock()
	child := newScripted("c", StatusSuccess)
	cooldown := NewCooldown(2, child.node)
	tree := build(t, NewRepeatUntilFailure(cooldown), nil)
	ec := start(t, tree, WithClock(clock.Now))

	require.Equal(t, StatusRunning, tick(t, tree, ec))
	require.Equal(t, 1, child.ticks)

	clock.Advance(time.Second)
	require.Equal(t, StatusSuccess, tick(t, tree, ec), "cooling down fails without ticking the child")
	require.Equal(t, 1, child.ticks)
}

func TestWaitAndVariableLink(t *testing.T) {
	schema := NewSchema()
	require.NoError(t, schema.Declare("delay", TypeFloat, 2.0))
	wait := NewWait(0)
	wait.Variable("duration").Link("delay")
	tree := build(t, wait, schema)
	clock := newClock()
	ec := start(t, tree, WithClock(clock.Now))

	require.Equal(t, StatusRunning, tick(t, tree, ec))
	clock.Advance(time.Second)
	require.Equal(t, StatusRunning, tick(t, tree, ec))
	require.NoError(t, ec.Blackboard().Set("delay", 0.5))
	require.Equal(t, StatusSuccess, tick(t, tree, ec))
}

func TestLeaves(t *testing.T) {
	schema := NewSchema()
	require.NoError(t, schema.Declare("alarm", TypeBool, false))
	require.NoError(t, schema.Declare("hp", TypeFloat, 40.0))
	require.NoError(t, schema.Declare("state", TypeString, "idle"))

	low := NewCompare("<", 0, 50)
	low.Variable("left").Link("hp")
	expr, err := NewExpression(`alarm && state == "patrol"`)
	require.NoError(t, err)

	tree := build(t, NewSequence(
		low,
		NewSetVariable("state", "patrol"),
		NewSetVariable("alarm", true),
		NewIsTrue("alarm"),
		expr,
		NewLog("all clear"),
	), schema)
	ec := start(t, tree)

	require.Equal(t, StatusSuccess, tick(t, tree, ec))
	state, err := Get[string](ec.Blackboard(), "state")
	require.NoError(t, err)
	require.Equal(t, "patrol", state)
}

func TestExpressionRejectsUnknownKeys(t *testing.T) {
	schema := NewSchema()
	require.NoError(t, schema.Declare("hp", TypeInt, 1))
	c, err := NewExpression("hpp > 0")
	require.NoError(t, err)
	tree := build(t, c, schema)

	_, err = tree.CreateExecutionContext()
	var se *StructuralError
	require.True(t, errors.As(err, &se))
	require.Equal(t, c.ID(), se.Node)
	require.ErrorIs(t, err, ErrInvalidParam)
}

func TestObserverSeesEveryTick(t *testing.T) {
	var seen []string
	tree := build(t, NewSequence(NewSucceed(), NewInverter(NewFail())), nil)
	ec := start(t, tree, WithObserver(func(_ *ExecutionContext, n Node, st Status) {
		seen = append(seen, n.Kind()+":"+st.String())
	}))
	tick(t, tree, ec)
	require.Equal(t, []string{"Success:Success", "Failure:Failure", "Inverter:Success", "Sequence:Success"}, seen)
}

func TestTickMisuse(t *testing.T) {
	tree := build(t, NewSequence(NewSucceed()), nil)
	other := build(t, NewSucceed(), nil)
	ec := start(t, tree)

	_, err := other.Tick(context.Background(), ec)
	require.ErrorIs(t, err, ErrForeignContext)
	require.ErrorIs(t, other.ResetContext(ec), ErrForeignContext)

	require.NoError(t, tree.AddNode(NewFail()))
	_, err = tree.Tick(context.Background(), ec)
	require.ErrorIs(t, err, ErrStaleContext)
}

func TestMalformedTreeFailsAtContextCreation(t *testing.T) {
	dec := NewInverter(nil)
	tree := build(t, NewSequence(NewSucceed(), dec), nil)

	ec, err := tree.CreateExecutionContext()
	require.Nil(t, ec)
	require.ErrorIs(t, err, ErrMissingChild)

	var se *StructuralError
	require.True(t, errors.As(err, &se))
	require.Equal(t, dec.ID(), se.Node)
	require.Equal(t, "child", se.Field)
}
