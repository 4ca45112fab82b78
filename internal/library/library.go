// Package library keeps the trees of a directory of asset files loaded and,
// while watched, in sync with the files on disk.
package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zeusync/behaviortree/internal/core/bt"
	"github.com/zeusync/behaviortree/internal/core/events/bus"
	"github.com/zeusync/behaviortree/internal/core/observability/log"
)

var ErrDuplicateName = errors.New("library: tree name already loaded from another file")

type ChangeKind int

const (
	Loaded ChangeKind = iota
	Rejected
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Loaded:
		return "loaded"
	case Rejected:
		return "rejected"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Change reports one library update. Tree is nil unless Kind is Loaded; Err
// is set only for Rejected.
type Change struct {
	Kind ChangeKind
	Name string
	Path string
	Tree *bt.Tree
	Err  error
}

// Entry is one loaded tree.
type Entry struct {
	Name        string
	Path        string
	Tree        *bt.Tree
	Asset       *bt.Asset
	Fingerprint uint64
	Loaded      time.Time
}

type Library struct {
	mu       sync.RWMutex
	dir      string
	reg      *bt.Registry
	byName   map[string]*Entry
	byPath   map[string]string
	onChange []func(Change)
	events   bus.EventBus
	logger   log.Log
}

type Option func(*Library)

func WithRegistry(r *bt.Registry) Option { return func(l *Library) { l.reg = r } }

func WithLogger(lg log.Log) Option { return func(l *Library) { l.logger = lg } }

// WithEventBus publishes tree.loaded, tree.rejected and tree.removed events.
func WithEventBus(eb bus.EventBus) Option { return func(l *Library) { l.events = eb } }

func New(dir string, opts ...Option) *Library {
	l := &Library{
		dir:    dir,
		byName: make(map[string]*Entry),
		byPath: make(map[string]string),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.reg == nil {
		l.reg = bt.Default()
	}
	if l.logger == nil {
		l.logger = log.Provide()
	}
	l.logger = l.logger.With(log.String("component", "library"), log.String("dir", dir))
	return l
}

func (l *Library) Dir() string { return l.dir }

func (l *Library) Registry() *bt.Registry { return l.reg }

// OnChange registers a callback for every later change. It runs on the
// goroutine that loaded or removed the tree.
func (l *Library) OnChange(fn func(Change)) {
	l.mu.Lock()
	l.onChange = append(l.onChange, fn)
	l.mu.Unlock()
}

func supported(path string) bool {
	_, err := bt.FormatFromPath(path)
	return err == nil
}

// LoadAll loads every tree file directly under the directory. Files that fail
// are reported together; the others are still loaded.
func (l *Library) LoadAll() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("library: %w", err)
	}
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !supported(e.Name()) {
			continue
		}
		if _, err := l.LoadFile(filepath.Join(l.dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	l.logger.Info("library loaded", log.Int("trees", len(l.Names())), log.Int("rejected", len(errs)))
	return errors.Join(errs...)
}

// LoadFile loads or reloads one file. An unchanged file keeps its tree. A
// file that fails to decode or validate leaves the previously loaded tree in
// place.
func (l *Library) LoadFile(path string) (*bt.Tree, error) {
	path = filepath.Clean(path)
	a, err := bt.ReadFile(path)
	if err == nil {
		err = l.checkName(path, treeName(path, a))
	}
	if err != nil {
		return nil, l.reject(path, err)
	}

	sum, err := bt.Fingerprint(a)
	if err != nil {
		return nil, l.reject(path, err)
	}
	l.mu.RLock()
	if name, ok := l.byPath[path]; ok {
		if e := l.byName[name]; e.Fingerprint == sum {
			l.mu.RUnlock()
			return e.Tree, nil
		}
	}
	l.mu.RUnlock()

	tree, err := bt.Load(a, l.reg)
	if err != nil {
		return nil, l.reject(path, err)
	}

	name := treeName(path, a)
	if tree.Name() == "" {
		tree.SetName(name)
	}
	e := &Entry{Name: name, Path: path, Tree: tree, Asset: a, Fingerprint: sum, Loaded: time.Now()}

	l.mu.Lock()
	if err := l.nameTaken(path, name); err != nil {
		l.mu.Unlock()
		return nil, l.reject(path, err)
	}
	if old, ok := l.byPath[path]; ok && old != name {
		delete(l.byName, old)
	}
	l.byName[name] = e
	l.byPath[path] = name
	l.mu.Unlock()

	l.logger.Info("tree loaded", log.String("tree", name), log.String("path", path), log.Int("nodes", tree.Len()))
	l.notify(Change{Kind: Loaded, Name: name, Path: path, Tree: tree})
	return tree, nil
}

func treeName(path string, a *bt.Asset) string {
	if a.Name != "" {
		return a.Name
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (l *Library) checkName(path, name string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nameTaken(path, name)
}

// nameTaken reports a tree name owned by another file. l.mu must be held.
func (l *Library) nameTaken(path, name string) error {
	if e, ok := l.byName[name]; ok && e.Path != path {
		return fmt.Errorf("%w: %q (%s)", ErrDuplicateName, name, e.Path)
	}
	return nil
}

func (l *Library) reject(path string, err error) error {
	err = fmt.Errorf("%s: %w", path, err)
	l.mu.RLock()
	name := l.byPath[path]
	l.mu.RUnlock()
	l.logger.Warn("tree rejected", log.String("path", path), log.Error(err))
	l.notify(Change{Kind: Rejected, Name: name, Path: path, Err: err})
	return err
}

func (l *Library) notify(c Change) {
	l.mu.RLock()
	fns := append([]func(Change){}, l.onChange...)
	l.mu.RUnlock()
	for _, fn := range fns {
		fn(c)
	}
	if l.events == nil {
		return
	}
	typ := bus.TypeTreeLoaded
	switch c.Kind {
	case Rejected:
		typ = bus.TypeTreeRejected
	case Removed:
		typ = bus.TypeTreeRemoved
	}
	ev := bus.NewEvent(typ, "library", map[string]any{"path": c.Path})
	ev.Tree = c.Name
	if c.Err != nil {
		ev.Data = map[string]any{"path": c.Path, "error": c.Err.Error()}
	}
	if err := l.events.Publish(ev); err != nil {
		l.logger.Warn("event handler failed", log.String("event", typ), log.Error(err))
	}
}

func (l *Library) Get(name string) (*bt.Tree, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.byName[name]
	if !ok {
		return nil, false
	}
	return e.Tree, true
}

// Asset returns the asset a tree was loaded from.
func (l *Library) Asset(name string) (*bt.Asset, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.byName[name]
	if !ok {
		return nil, false
	}
	return e.Asset, true
}

func (l *Library) Entry(name string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.byName[name]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Names returns loaded tree names, sorted.
func (l *Library) Names() []string {
	l.mu.RLock()
	out := make([]string, 0, len(l.byName))
	for n := range l.byName {
		out = append(out, n)
	}
	l.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Remove forgets a tree. The file is left alone.
func (l *Library) Remove(name string) bool {
	l.mu.Lock()
	e, ok := l.byName[name]
	if ok {
		delete(l.byName, name)
		delete(l.byPath, e.Path)
	}
	l.mu.Unlock()
	if ok {
		l.logger.Info("tree removed", log.String("tree", name))
		l.notify(Change{Kind: Removed, Name: name, Path: e.Path})
	}
	return ok
}

func (l *Library) removePath(path string) {
	l.mu.RLock()
	name, ok := l.byPath[filepath.Clean(path)]
	l.mu.RUnlock()
	if ok {
		l.Remove(name)
	}
}

// Watch follows the directory until ctx is done: written or created files are
// reloaded, removed or renamed ones are dropped.
func (l *Library) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(l.dir); err != nil {
		return fmt.Errorf("unable to watch %s: %w", l.dir, err)
	}
	l.logger.Debug("watching")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !supported(ev.Name) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create):
				_, _ = l.LoadFile(ev.Name)
			case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
				l.removePath(ev.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.logger.Error("watcher error", log.Error(err))
		}
	}
}
