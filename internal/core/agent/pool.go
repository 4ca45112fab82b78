package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/joeycumines/go-behaviortree"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/zeusync/behaviortree/internal/core/bt"
	"github.com/zeusync/behaviortree/internal/core/bt/interop"
	"github.com/zeusync/behaviortree/internal/core/observability/log"
)

var ErrDuplicateAgent = errors.New("agent: duplicate id")

// Pool steps many agents concurrently. Different agents tick on different
// goroutines; one agent is never ticked twice at once.
type Pool struct {
	mu      sync.RWMutex
	agents  map[string]*Agent
	workers int
	logger  log.Log
}

type PoolOption func(*Pool)

// WithWorkers limits how many agents TickAll and Run step at the same time.
// Zero means GOMAXPROCS.
func WithWorkers(n int) PoolOption { return func(p *Pool) { p.workers = n } }

func WithPoolLogger(l log.Log) PoolOption { return func(p *Pool) { p.logger = l } }

func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{agents: make(map[string]*Agent)}
	for _, opt := range opts {
		opt(p)
	}
	if p.workers <= 0 {
		p.workers = runtime.GOMAXPROCS(0)
	}
	if p.logger == nil {
		p.logger = log.Provide()
	}
	p.logger = p.logger.With(log.String("component", "pool"))
	return p
}

func (p *Pool) Add(a *Agent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.agents[a.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAgent, a.ID())
	}
	p.agents[a.ID()] = a
	p.logger.Debug("agent added", log.String("agent", a.Name()))
	return nil
}

func (p *Pool) Remove(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.agents[id]
	delete(p.agents, id)
	return ok
}

func (p *Pool) Get(id string) (*Agent, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.agents[id]
	return a, ok
}

func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.agents)
}

// Agents returns a snapshot sorted by id.
func (p *Pool) Agents() []*Agent {
	p.mu.RLock()
	out := make([]*Agent, 0, len(p.agents))
	for _, a := range p.agents {
		out = append(out, a)
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// TickAll steps every agent whose run is not finished once. The result maps
// agent ids to their status; errors of all failing agents are joined.
func (p *Pool) TickAll(ctx context.Context) (map[string]bt.Status, error) {
	agents := p.Agents()
	var (
		mu   sync.Mutex
		out  = make(map[string]bt.Status, len(agents))
		errs error
	)

	g := errgroup.Group{}
	g.SetLimit(p.workers)
	for _, a := range agents {
		if a.State().Done() {
			continue
		}
		g.Go(func() error {
			st, err := a.Step(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = errors.Join(errs, fmt.Errorf("agent %s: %w", a.Name(), err))
				return nil
			}
			out[a.ID()] = st
			return nil
		})
	}
	_ = g.Wait()
	return out, errs
}

// Run drives every agent on its own ticker under one go-behaviortree
// manager until ctx is done. The first failing agent stops them all; the
// errors of every agent that failed are returned joined. Agents with finished
// runs idle.
func (p *Pool) Run(ctx context.Context, interval time.Duration) error {
	agents := p.Agents()
	if len(agents) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs error
	)
	sem := semaphore.NewWeighted(int64(p.workers))
	manager := behaviortree.NewManager()
	for _, a := range agents {
		step := a.stepper(false)
		ticker := interop.Drive(ctx, interval, func(ctx context.Context) (bool, error) {
			if err := sem.Acquire(ctx, 1); err != nil {
				return true, nil
			}
			done, err := step(ctx)
			sem.Release(1)
			if err != nil {
				mu.Lock()
				errs = errors.Join(errs, fmt.Errorf("agent %s: %w", a.Name(), err))
				mu.Unlock()
			}
			return done, err
		})
		if err := manager.Add(ticker); err != nil {
			manager.Stop()
			return err
		}
	}
	p.logger.Info("pool running", log.Int("agents", len(agents)), log.Duration("interval", interval))

	select {
	case <-manager.Done():
	case <-ctx.Done():
	}
	manager.Stop()
	<-manager.Done()

	mu.Lock()
	defer mu.Unlock()
	return errs
}
