package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"

	"github.com/zeusync/behaviortree/internal/core/agent"
	"github.com/zeusync/behaviortree/internal/core/bt"
	"github.com/zeusync/behaviortree/internal/core/observability/log"
	"github.com/zeusync/behaviortree/internal/injector"
	"github.com/zeusync/behaviortree/internal/server"
)

type Globals struct {
	LogLevel string `env:"BTREE_LOG_LEVEL" default:"warn" enum:"debug,info,warn,error,silent" help:"Set the level of logs to output [${enum}]"`
}

func (g *Globals) level() log.Level {
	lvl, _ := log.ParseLevel(g.LogLevel)
	return lvl
}

type CLI struct {
	Globals `embed:""`

	Validate ValidateCMD `cmd:"" help:"Check tree files for structural errors"`
	Describe DescribeCMD `cmd:"" help:"Print the node hierarchy of a tree file"`
	Run      RunCMD      `cmd:"" help:"Tick a tree file until it finishes"`
	Kinds    KindsCMD    `cmd:"" help:"List the node kinds of the registry"`
	Serve    ServeCMD    `cmd:"" help:"Serve the inspector API over a directory of trees"`
}

func load(path string) (*bt.Tree, error) {
	a, err := bt.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return bt.Load(a, bt.Default())
}

// errorLines flattens joined errors into one line each.
func errorLines(err error) []string {
	if multi, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range multi.Unwrap() {
			out = append(out, errorLines(e)...)
		}
		return out
	}
	return []string{err.Error()}
}

type ValidateCMD struct {
	Files []string `arg:"" name:"file" type:"existingfile" help:"Tree files (.json, .yaml, .toml)"`
}

func (c *ValidateCMD) Run(k *kong.Context) error {
	failed := 0
	for _, path := range c.Files {
		tree, err := load(path)
		if err != nil {
			failed++
			fmt.Fprintf(k.Stdout, "FAIL %s\n", path)
			for _, line := range errorLines(err) {
				fmt.Fprintf(k.Stdout, "  %s\n", line)
			}
			continue
		}
		fmt.Fprintf(k.Stdout, "ok   %s (%s, %d nodes)\n", path, tree.Name(), tree.Len())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files invalid", failed, len(c.Files))
	}
	return nil
}

type DescribeCMD struct {
	File string `arg:"" type:"existingfile" help:"Tree file"`
}

func (c *DescribeCMD) Run(k *kong.Context) error {
	tree, err := load(c.File)
	if err != nil {
		return err
	}
	fmt.Fprintf(k.Stdout, "tree %s\n", tree.Name())
	if entries := tree.Schema().Entries(); len(entries) > 0 {
		fmt.Fprintln(k.Stdout, "variables:")
		for _, e := range entries {
			fmt.Fprintf(k.Stdout, "  %s %s = %v\n", e.Key, e.Type, e.Default)
		}
	}
	fmt.Fprintln(k.Stdout, "nodes:")
	err = tree.Traverse(tree.RootID(), func(n bt.Node, depth int) bool {
		var tags []string
		if c, ok := n.(bt.Condition); ok && c.Muted() {
			tags = append(tags, "muted")
		}
		for _, g := range tree.GroupsOf(n.ID()) {
			tags = append(tags, "group:"+g.Title())
		}
		line := fmt.Sprintf("%s- %s", strings.Repeat("  ", depth+1), n.Kind())
		if n.Title() != n.Kind() {
			line += fmt.Sprintf(" %q", n.Title())
		}
		line += " [" + string(n.ID()) + "]"
		if len(tags) > 0 {
			line += " (" + strings.Join(tags, ", ") + ")"
		}
		fmt.Fprintln(k.Stdout, line)
		return true
	})
	return err
}

type RunCMD struct {
	File  string            `arg:"" type:"existingfile" help:"Tree file"`
	Ticks int               `default:"100" help:"Stop after this many ticks"`
	Set   map[string]string `help:"Blackboard values as key=value before the first tick"`
	Seed  int64             `default:"1" help:"Seed of the random source"`
}

func (c *RunCMD) Run(k *kong.Context, g *Globals) error {
	if c.Ticks <= 0 {
		return errors.New("--ticks must be positive")
	}
	tree, err := load(c.File)
	if err != nil {
		return err
	}
	a, err := agent.New(tree,
		agent.WithName(tree.Name()),
		agent.WithLogger(log.New(g.level())),
		agent.WithMemorySize(c.Ticks),
		agent.WithContextOptions(bt.WithSeed(c.Seed)),
	)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(c.Set))
	for key := range c.Set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	bb := a.Blackboard()
	for _, key := range keys {
		typ, ok := bb.Type(key)
		if !ok {
			return fmt.Errorf("--set %s: %w", key, bt.ErrUnknownKey)
		}
		v, err := bt.ParseValue(typ, c.Set[key])
		if err != nil {
			return fmt.Errorf("--set %s: %w", key, err)
		}
		if err := bb.Set(key, v); err != nil {
			return err
		}
	}

	ctx := context.Background()
	for i := 0; i < c.Ticks && !a.State().Done(); i++ {
		st, err := a.Step(ctx)
		if err != nil {
			return err
		}
		last, _ := a.Memory().Last()
		line := fmt.Sprintf("tick %d: %s", last.Tick, st)
		if len(last.Running) > 0 {
			ids := make([]string, len(last.Running))
			for j, id := range last.Running {
				ids[j] = string(id)
			}
			line += " [" + strings.Join(ids, " > ") + "]"
		}
		fmt.Fprintln(k.Stdout, line)
	}
	fmt.Fprintf(k.Stdout, "state: %s\n", a.State())

	snap := bb.Snapshot()
	names := make([]string, 0, len(snap))
	for key := range snap {
		names = append(names, key)
	}
	sort.Strings(names)
	for _, key := range names {
		fmt.Fprintf(k.Stdout, "  %s = %v\n", key, snap[key])
	}
	return nil
}

type KindsCMD struct {
	Search string `help:"Fuzzy filter on kind, name and menu path"`
}

func (c *KindsCMD) Run(k *kong.Context) error {
	w := tabwriter.NewWriter(k.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tCATEGORY\tPATH\tNAME")
	for _, info := range bt.Default().Search(c.Search) {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.Kind, info.Category, info.Path, info.Name)
	}
	return w.Flush()
}

type ServeCMD struct {
	Dir      string        `default:"." type:"existingdir" help:"Directory of tree files"`
	Addr     string        `default:"127.0.0.1:8080" help:"Listen address"`
	Token    string        `env:"BTREE_TOKEN" help:"Require this bearer token"`
	Workers  int           `default:"0" help:"Agent pool worker limit (0 = GOMAXPROCS)"`
	Agents   bool          `help:"Run one agent per loaded tree and stream its ticks"`
	Interval time.Duration `default:"100ms" help:"Agent tick interval"`
}

func (c *ServeCMD) Run(g *Globals) error {
	cfg := injector.Config{
		Dir:      c.Dir,
		LogLevel: g.level(),
		Workers:  c.Workers,
		Agents:   c.Agents,
		Interval: c.Interval,
		Server:   server.DefaultServerConfig(),
	}
	cfg.Server.ListenAddr = c.Addr
	cfg.Server.Token = c.Token

	app, err := injector.InitializeApp(cfg)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.Run(ctx)
}
