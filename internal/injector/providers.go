// Package injector assembles the long-running application: logger, node
// registry, event bus, tree library, agent pool and inspector server.
package injector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/wire"

	"github.com/zeusync/behaviortree/internal/core/agent"
	"github.com/zeusync/behaviortree/internal/core/bt"
	"github.com/zeusync/behaviortree/internal/core/events/bus"
	"github.com/zeusync/behaviortree/internal/core/observability/log"
	"github.com/zeusync/behaviortree/internal/library"
	"github.com/zeusync/behaviortree/internal/server"
)

// DefaultInterval is the agent tick interval used when Config.Interval is
// not set.
const DefaultInterval = 100 * time.Millisecond

type Config struct {
	Dir      string
	LogLevel log.Level
	Workers  int
	// Agents spawns one restarting agent per loaded tree, ticked by the pool
	// and streamed to inspector clients.
	Agents   bool
	Interval time.Duration
	Server   server.Config
}

// App is the wired application.
type App struct {
	Config   Config
	Logger   *log.Logger
	Registry *bt.Registry
	Events   bus.EventBus
	Library  *library.Library
	Pool     *agent.Pool
	Server   *server.Server
}

var ProviderSet = wire.NewSet(
	ProvideLogger,
	ProvideRegistry,
	ProvideEventBus,
	ProvideLibrary,
	ProvidePool,
	ProvideServer,
	wire.Struct(new(App), "*"),
)

func ProvideLogger(cfg Config) *log.Logger {
	return log.New(cfg.LogLevel)
}

func ProvideRegistry() *bt.Registry {
	return bt.Default()
}

func ProvideEventBus() bus.EventBus {
	return bus.New()
}

func ProvideLibrary(cfg Config, reg *bt.Registry, eb bus.EventBus, logger *log.Logger) *library.Library {
	return library.New(cfg.Dir,
		library.WithRegistry(reg),
		library.WithEventBus(eb),
		library.WithLogger(logger),
	)
}

func ProvidePool(cfg Config, logger *log.Logger) *agent.Pool {
	return agent.NewPool(agent.WithWorkers(cfg.Workers), agent.WithPoolLogger(logger))
}

func ProvideServer(cfg Config, lib *library.Library, reg *bt.Registry, eb bus.EventBus, logger *log.Logger) *server.Server {
	return server.NewServer(cfg.Server, lib, reg, eb, logger)
}

// Run loads the library, serves the inspector, runs the agent pool and
// follows the directory until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if err := a.Library.LoadAll(); err != nil {
		a.Logger.Warn("some trees were rejected", log.Error(err))
	}
	if a.Config.Agents {
		if err := a.spawnAgents(); err != nil {
			return err
		}
		a.Library.OnChange(a.retarget)
	}
	if err := a.Server.Start(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	poolErr := make(chan error, 1)
	go func() {
		err := a.Pool.Run(ctx, a.interval())
		if err != nil {
			a.Logger.Warn("agent pool stopped", log.Error(err))
		}
		poolErr <- err
	}()

	watchErr := make(chan error, 1)
	go func() { watchErr <- a.Library.Watch(ctx) }()

	var err error
	select {
	case <-ctx.Done():
		err = <-watchErr
	case err = <-watchErr:
	}
	cancel()
	return errors.Join(err, <-poolErr, a.Server.Stop(context.Background()))
}

func (a *App) interval() time.Duration {
	if a.Config.Interval > 0 {
		return a.Config.Interval
	}
	return DefaultInterval
}

// spawnAgents adds one agent per loaded tree. Agents are keyed by tree name.
func (a *App) spawnAgents() error {
	for _, name := range a.Library.Names() {
		tree, ok := a.Library.Get(name)
		if !ok {
			continue
		}
		ag, err := agent.New(tree,
			agent.WithID(name),
			agent.WithName(name),
			agent.WithRestart(true),
			agent.WithEventBus(a.Events),
			agent.WithLogger(a.Logger),
		)
		if err != nil {
			return fmt.Errorf("agent %s: %w", name, err)
		}
		if err := a.Pool.Add(ag); err != nil {
			return err
		}
	}
	a.Logger.Info("agents spawned", log.Int("agents", a.Pool.Len()))
	return nil
}

// retarget hands a reloaded tree to the agent running it. Trees that appear
// after startup are served but get no agent until the next start.
func (a *App) retarget(c library.Change) {
	if c.Kind != library.Loaded {
		return
	}
	ag, ok := a.Pool.Get(c.Name)
	if !ok {
		return
	}
	if err := ag.SetTree(c.Tree); err != nil {
		a.Logger.Warn("agent kept its old tree", log.String("agent", c.Name), log.Error(err))
	}
}
