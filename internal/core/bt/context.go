package bt

import (
	"context"
	"math/rand"
	"time"

	"github.com/zeusync/behaviortree/internal/core/observability/log"
)

// Observer is notified after every node tick of a context.
type Observer func(ec *ExecutionContext, n Node, st Status)

// ExecutionContext is the mutable state of one agent running one tree: the
// blackboard, resolved variables and per-node memory. It must be ticked by
// one goroutine at a time.
type ExecutionContext struct {
	tree    *Tree
	plan    *plan
	bb      *Blackboard
	scratch []Scratch
	refs    [][]*Ref
	state   TreeState
	ticks   uint64
	last    Status

	clock    func() time.Time
	rand     *rand.Rand
	logger   log.Log
	observer Observer
}

type contextConfig struct {
	clock    func() time.Time
	seed     *int64
	logger   log.Log
	observer Observer
}

type ContextOption func(*contextConfig)

// WithClock replaces time.Now as the time source of timed nodes.
func WithClock(clock func() time.Time) ContextOption {
	return func(c *contextConfig) { c.clock = clock }
}

// WithSeed makes Probability rolls reproducible. Without it every context
// seeds from the clock, so runs of trees holding Probability nodes repeat
// only when the seed is given.
func WithSeed(seed int64) ContextOption {
	return func(c *contextConfig) { c.seed = &seed }
}

func WithLogger(logger log.Log) ContextOption {
	return func(c *contextConfig) { c.logger = logger }
}

func WithObserver(o Observer) ContextOption {
	return func(c *contextConfig) { c.observer = o }
}

// CreateExecutionContext validates the tree, allocates a blackboard seeded
// from the schema defaults and resolves every variable binding. A malformed
// tree yields the joined structural errors and no context. Two contexts of
// equal trees produce identical status sequences when they share a clock and
// a WithSeed value.
func (t *Tree) CreateExecutionContext(opts ...ContextOption) (*ExecutionContext, error) {
	p, err := t.compile()
	if err != nil {
		return nil, err
	}

	cfg := contextConfig{clock: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	seed := time.Now().UnixNano()
	if cfg.seed != nil {
		seed = *cfg.seed
	}
	if cfg.logger == nil {
		cfg.logger = log.Provide()
	}

	ec := &ExecutionContext{
		tree:     t,
		plan:     p,
		bb:       NewBlackboard(t.schema),
		scratch:  make([]Scratch, len(p.nodes)),
		refs:     make([][]*Ref, len(p.nodes)),
		clock:    cfg.clock,
		rand:     rand.New(rand.NewSource(seed)),
		logger:   cfg.logger.With(log.String("tree", t.name)),
		observer: cfg.observer,
	}
	ec.resolve()
	return ec, nil
}

func (ec *ExecutionContext) resolve() {
	for i, n := range ec.plan.nodes {
		vars := n.Variables()
		if len(vars) == 0 {
			ec.refs[i] = nil
			continue
		}
		refs := make([]*Ref, len(vars))
		for j, v := range vars {
			refs[j] = resolveRef(v, ec.bb)
		}
		ec.refs[i] = refs
	}
}

// Tick evaluates the tree once. Failure and Running are results, not errors;
// an error is returned only when the context cannot be ticked.
func (t *Tree) Tick(ctx context.Context, ec *ExecutionContext) (Status, error) {
	if ec == nil || ec.tree != t {
		return StatusFailure, ErrForeignContext
	}
	if ec.plan.version != t.version.Load() {
		return StatusFailure, ErrStaleContext
	}
	if ec.state.Done() {
		return ec.last, ErrRunComplete
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ec.ticks++
	tc := &TickContext{Ctx: ctx, ec: ec, now: ec.clock()}
	st := tc.Tick(ec.plan.nodes[0])
	ec.last = st
	ec.state = stateOf(st)
	return st, nil
}

// ResetContext clears every node's memory and returns the context to
// NotStarted. Blackboard values are kept; Blackboard().Reset restores the
// defaults.
func (t *Tree) ResetContext(ec *ExecutionContext) error {
	if ec == nil || ec.tree != t {
		return ErrForeignContext
	}
	if ec.plan.version != t.version.Load() {
		return ErrStaleContext
	}
	clear(ec.scratch)
	ec.resolve()
	ec.state = StateNotStarted
	ec.last = StatusFailure
	return nil
}

func (ec *ExecutionContext) Tree() *Tree { return ec.tree }

func (ec *ExecutionContext) Blackboard() *Blackboard { return ec.bb }

func (ec *ExecutionContext) State() TreeState { return ec.state }

// Ticks counts tree ticks since creation.
func (ec *ExecutionContext) Ticks() uint64 { return ec.ticks }

// LastStatus returns the result a node produced the last time it was ticked
// in this context.
func (ec *ExecutionContext) LastStatus(id NodeID) (Status, bool) {
	i, ok := ec.plan.index[id]
	if !ok || !ec.scratch[i].ticked {
		return 0, false
	}
	return ec.scratch[i].status, true
}

// RunningPath returns, in pre-order, the nodes that returned Running on the
// latest tick: the branch a next tick resumes.
func (ec *ExecutionContext) RunningPath() []NodeID {
	var out []NodeID
	for i, n := range ec.plan.nodes {
		s := &ec.scratch[i]
		if s.ticked && s.tick == ec.ticks && s.status == StatusRunning {
			out = append(out, n.ID())
		}
	}
	return out
}
