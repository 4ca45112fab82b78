package bt

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Factory constructs a default instance of a node kind.
type Factory func() Node

// Metadata describes a node kind to tooling. Hidden kinds are left out of the
// creation menu but still load from existing assets.
type Metadata struct {
	Name        string   `json:"name"`
	Path        string   `json:"path"`
	Description string   `json:"description,omitempty"`
	Hide        bool     `json:"hide,omitempty"`
	Category    Category `json:"-"`
}

// KindInfo is one registry entry as seen by tooling.
type KindInfo struct {
	Kind     string `json:"kind"`
	Category string `json:"category"`
	Metadata
}

type registration struct {
	meta    Metadata
	factory Factory
}

// Registry maps node kind names to factories. It is filled at startup and
// frozen before use; lookups after Freeze take no locks.
type Registry struct {
	mu     sync.RWMutex
	kinds  map[string]registration
	frozen atomic.Bool
}

func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]registration)}
}

// Register adds a kind. The category is taken from a probe instance.
func (r *Registry) Register(kind string, meta Metadata, factory Factory) error {
	if r.frozen.Load() {
		return fmt.Errorf("%w: cannot register %q", ErrRegistryFrozen, kind)
	}
	if kind == "" || factory == nil {
		return fmt.Errorf("register: empty kind or nil factory")
	}
	probe := factory()
	if probe == nil {
		return fmt.Errorf("register %q: factory returned nil", kind)
	}
	meta.Category = probe.Category()
	if meta.Name == "" {
		meta.Name = kind
	}
	if meta.Path == "" {
		meta.Path = meta.Category.String()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.kinds[kind]; dup {
		return fmt.Errorf("%w: %q", ErrDuplicateKind, kind)
	}
	r.kinds[kind] = registration{meta: meta, factory: factory}
	return nil
}

func (r *Registry) MustRegister(kind string, meta Metadata, factory Factory) {
	if err := r.Register(kind, meta, factory); err != nil {
		panic(err)
	}
}

// Freeze makes the registry immutable.
func (r *Registry) Freeze() { r.frozen.Store(true) }

func (r *Registry) Frozen() bool { return r.frozen.Load() }

func (r *Registry) lookup(kind string) (registration, bool) {
	if r.frozen.Load() {
		reg, ok := r.kinds[kind]
		return reg, ok
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.kinds[kind]
	return reg, ok
}

func (r *Registry) Lookup(kind string) (Metadata, bool) {
	reg, ok := r.lookup(kind)
	return reg.meta, ok
}

// Instantiate constructs a default instance with a fresh id.
func (r *Registry) Instantiate(kind string) (Node, error) {
	return r.InstantiateWithID(kind, NewNodeID())
}

func (r *Registry) InstantiateWithID(kind string, id NodeID) (Node, error) {
	reg, ok := r.lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	n := reg.factory()
	b := n.base()
	b.id = id
	b.kind = kind
	return n, nil
}

// Kinds returns every registered kind, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Menu returns the visible kinds sorted by menu path and name.
func (r *Registry) Menu() []KindInfo {
	r.mu.RLock()
	out := make([]KindInfo, 0, len(r.kinds))
	for k, reg := range r.kinds {
		if reg.meta.Hide {
			continue
		}
		out = append(out, KindInfo{Kind: k, Category: reg.meta.Category.String(), Metadata: reg.meta})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Search fuzzy-matches term against the menu path and name of visible kinds,
// best matches first. An empty term returns the whole menu.
func (r *Registry) Search(term string) []KindInfo {
	menu := r.Menu()
	term = strings.TrimSpace(term)
	if term == "" {
		return menu
	}
	type hit struct {
		info KindInfo
		rank int
	}
	var hits []hit
	for _, info := range menu {
		best := -1
		for _, target := range []string{info.Kind, info.Name, info.Path + "/" + info.Name} {
			if rank := fuzzy.RankMatchFold(term, target); rank >= 0 && (best < 0 || rank < best) {
				best = rank
			}
		}
		if best >= 0 {
			hits = append(hits, hit{info: info, rank: best})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].rank < hits[j].rank })
	out := make([]KindInfo, len(hits))
	for i, h := range hits {
		out[i] = h.info
	}
	return out
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide registry of built-in kinds. It is frozen;
// hosts with custom kinds build their own with NewRegistry and
// RegisterBuiltins.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
		RegisterBuiltins(defaultRegistry)
		defaultRegistry.Freeze()
	})
	return defaultRegistry
}
