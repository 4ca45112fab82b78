// Package agent drives behaviour trees: one Agent owns an execution context
// of a shared tree and steps it with sensors, history and events; a Pool
// steps many agents concurrently.
package agent

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joeycumines/go-behaviortree"

	"github.com/zeusync/behaviortree/internal/core/bt"
	"github.com/zeusync/behaviortree/internal/core/bt/interop"
	"github.com/zeusync/behaviortree/internal/core/events/bus"
	"github.com/zeusync/behaviortree/internal/core/observability/log"
)

// Agent is one tree user. Step must not be called concurrently on the same
// agent; the agent serializes it.
type Agent struct {
	mu sync.Mutex

	id      string
	name    string
	tree    *bt.Tree
	ec      *bt.ExecutionContext
	sensors []Sensor
	mem     *Memory
	events  bus.EventBus
	logger  log.Log
	restart bool
	clock   func() time.Time
	ctxOpts []bt.ContextOption
}

type Option func(*Agent)

func WithID(id string) Option { return func(a *Agent) { a.id = id } }

func WithName(name string) Option { return func(a *Agent) { a.name = name } }

func WithSensors(sensors ...Sensor) Option {
	return func(a *Agent) { a.sensors = append(a.sensors, sensors...) }
}

// WithRestart resets the execution context after every finished run, so
// the agent keeps re-running its tree.
func WithRestart(restart bool) Option { return func(a *Agent) { a.restart = restart } }

func WithEventBus(eb bus.EventBus) Option { return func(a *Agent) { a.events = eb } }

func WithLogger(l log.Log) Option { return func(a *Agent) { a.logger = l } }

func WithMemorySize(n int) Option { return func(a *Agent) { a.mem = NewMemory(n) } }

// WithContextOptions passes options to every execution context the agent
// creates.
func WithContextOptions(opts ...bt.ContextOption) Option {
	return func(a *Agent) { a.ctxOpts = append(a.ctxOpts, opts...) }
}

func WithClock(clock func() time.Time) Option { return func(a *Agent) { a.clock = clock } }

// New creates an agent running tree. The tree must validate.
func New(tree *bt.Tree, opts ...Option) (*Agent, error) {
	if tree == nil {
		return nil, errors.New("agent: nil tree")
	}
	a := &Agent{id: uuid.NewString(), clock: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	if a.name == "" {
		a.name = a.id
	}
	if a.mem == nil {
		a.mem = NewMemory(DefaultMemorySize)
	}
	if a.events == nil {
		a.events = bus.New()
	}
	if a.logger == nil {
		a.logger = log.Provide()
	}
	a.logger = a.logger.With(log.String("component", "agent"), log.String("agent", a.name))

	ec, err := a.newContext(tree)
	if err != nil {
		return nil, err
	}
	a.tree, a.ec = tree, ec
	return a, nil
}

func (a *Agent) newContext(tree *bt.Tree) (*bt.ExecutionContext, error) {
	opts := append([]bt.ContextOption{bt.WithLogger(a.logger), bt.WithClock(a.clock)}, a.ctxOpts...)
	return tree.CreateExecutionContext(opts...)
}

func (a *Agent) ID() string { return a.id }

func (a *Agent) Name() string { return a.name }

func (a *Agent) Memory() *Memory { return a.mem }

func (a *Agent) Events() bus.EventBus { return a.events }

func (a *Agent) Tree() *bt.Tree {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tree
}

func (a *Agent) Blackboard() *bt.Blackboard {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ec.Blackboard()
}

func (a *Agent) State() bt.TreeState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ec.State()
}

// Context returns the current execution context. It is replaced by SetTree.
func (a *Agent) Context() *bt.ExecutionContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ec
}

// Step runs the sensors, ticks the tree once and records the outcome. A
// finished run is reset right away with WithRestart; otherwise further steps
// return bt.ErrRunComplete.
func (a *Agent) Step(ctx context.Context) (bt.Status, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ec.State().Done() {
		return a.tree.Tick(ctx, a.ec)
	}
	bb := a.ec.Blackboard()
	for _, s := range a.sensors {
		if err := s.Update(ctx, bb); err != nil {
			return bt.StatusFailure, fmt.Errorf("sensor %s: %w", s.Name(), err)
		}
	}

	start := a.clock()
	st, err := a.tree.Tick(ctx, a.ec)
	if err != nil {
		return st, err
	}
	rec := DecisionRecord{
		Tick:     a.ec.Ticks(),
		Status:   st,
		State:    a.ec.State(),
		Running:  a.ec.RunningPath(),
		Duration: a.clock().Sub(start),
		Time:     start,
	}
	a.mem.Append(rec)
	a.publish(bus.TypeAgentTick, rec)

	if rec.State.Done() {
		a.publish(bus.TypeAgentCompleted, rec)
		if a.restart {
			if err := a.tree.ResetContext(a.ec); err != nil {
				return st, err
			}
		}
	}
	return st, nil
}

func (a *Agent) publish(typ string, rec DecisionRecord) {
	ev := bus.Event{
		Type:   typ,
		Source: a.id,
		Tree:   a.tree.Name(),
		Tick:   rec.Tick,
		Status: rec.Status.String(),
		Time:   rec.Time,
		Data:   map[string]any{"agent": a.name, "running": rec.Running},
	}
	if err := a.events.Publish(ev); err != nil {
		a.logger.Warn("event handler failed", log.String("event", typ), log.Error(err))
	}
}

// SetTree switches the agent to another tree with a fresh execution context.
// Blackboard values whose key exists with the same type in the new schema
// are carried over.
func (a *Agent) SetTree(tree *bt.Tree) error {
	if tree == nil {
		return errors.New("agent: nil tree")
	}
	ec, err := a.newContext(tree)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	old := a.ec.Blackboard()
	for k, v := range old.Snapshot() {
		oldType, _ := old.Type(k)
		if newType, ok := ec.Blackboard().Type(k); ok && newType == oldType {
			_ = ec.Blackboard().Set(k, v)
		}
	}
	a.logger.Info("tree switched", log.String("from", a.tree.Name()), log.String("to", tree.Name()))
	a.tree, a.ec = tree, ec
	return nil
}

// Ticker drives Step on a go-behaviortree ticker. With stopOnComplete a
// finished run stops the ticker; otherwise a finished agent idles until ctx
// is done.
func (a *Agent) Ticker(ctx context.Context, interval time.Duration, stopOnComplete bool) behaviortree.Ticker {
	return interop.Drive(ctx, interval, a.stepper(stopOnComplete))
}

func (a *Agent) stepper(stopOnComplete bool) interop.Step {
	return func(ctx context.Context) (bool, error) {
		if a.State().Done() {
			return stopOnComplete, nil
		}
		if _, err := a.Step(ctx); err != nil {
			return false, err
		}
		return stopOnComplete && a.State().Done(), nil
	}
}

// Run steps the agent every interval until its run finishes (never with
// WithRestart), a step fails or ctx is done.
func (a *Agent) Run(ctx context.Context, interval time.Duration) error {
	return interop.Wait(a.Ticker(ctx, interval, true))
}

type agentState struct{ BB, Mem []byte }

// SaveState snapshots the blackboard and the decision history.
func (a *Agent) SaveState() ([]byte, error) {
	a.mu.Lock()
	bb := a.ec.Blackboard()
	a.mu.Unlock()

	bbBytes, err := bb.MarshalBinary()
	if err != nil {
		return nil, err
	}
	memBytes, err := a.mem.Save()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(agentState{BB: bbBytes, Mem: memBytes}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (a *Agent) LoadState(data []byte) error {
	var state agentState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return err
	}
	if len(state.BB) > 0 {
		if err := a.Blackboard().UnmarshalBinary(state.BB); err != nil {
			return err
		}
	}
	if len(state.Mem) > 0 {
		if err := a.mem.Load(state.Mem); err != nil {
			return err
		}
	}
	return nil
}
