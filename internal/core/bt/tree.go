package bt

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// MaxDepth bounds the number of nodes on any root to leaf path. Evaluation
// recurses through TickContext.Tick, so deeper trees are rejected at load.
const MaxDepth = 256

// Tree owns a node graph, its blackboard schema and its groups. Once loaded
// it is shared read-only by every execution context created from it; edits
// invalidate those contexts.
type Tree struct {
	name   string
	schema *Schema
	nodes  map[NodeID]Node
	root   NodeID
	groups []*Group

	version atomic.Uint64

	mu   sync.Mutex
	plan *plan
}

// plan is the validated, pre-order layout of a tree version. Per-node
// context memory is indexed by plan position; the subtree of position i is
// [i, i+size[i]).
type plan struct {
	version uint64
	nodes   []Node
	index   map[NodeID]int
	size    []int
}

func NewTree(name string, schema *Schema) *Tree {
	if schema == nil {
		schema = NewSchema()
	}
	return &Tree{name: name, schema: schema, nodes: make(map[NodeID]Node)}
}

func (t *Tree) Name() string { return t.name }

func (t *Tree) SetName(name string) { t.name = name }

func (t *Tree) Schema() *Schema { return t.schema }

// Version increases with every structural edit.
func (t *Tree) Version() uint64 { return t.version.Load() }

func (t *Tree) RootID() NodeID { return t.root }

func (t *Tree) Root() Node { return t.nodes[t.root] }

func (t *Tree) Node(id NodeID) (Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

func (t *Tree) Len() int { return len(t.nodes) }

// Nodes returns every node sorted by id.
func (t *Tree) Nodes() []Node {
	ids := t.sortedIDs()
	out := make([]Node, len(ids))
	for i, id := range ids {
		out[i] = t.nodes[id]
	}
	return out
}

func (t *Tree) sortedIDs() []NodeID {
	ids := make([]NodeID, 0, len(t.nodes))
	for id := range t.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (t *Tree) edited() {
	t.version.Add(1)
	t.plan = nil
}

// AddNode adds a node together with every descendant not yet in the tree.
// The first added node becomes the root when none is set.
func (t *Tree) AddNode(n Node) error {
	if n == nil {
		return fmt.Errorf("%w: nil node", ErrUnknownNode)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var added []Node
	seen := make(map[NodeID]Node)
	stack := []Node{n}
	for len(stack) > 0 {
		m := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if m == nil {
			continue
		}
		if m.ID() == "" {
			m.base().id = NewNodeID()
		}
		id := m.ID()
		if existing, ok := t.nodes[id]; ok {
			if existing != m {
				return fmt.Errorf("%w: %s", ErrDuplicateNode, id)
			}
			continue
		}
		if other, ok := seen[id]; ok {
			if other != m {
				return fmt.Errorf("%w: %s", ErrDuplicateNode, id)
			}
			continue
		}
		seen[id] = m
		added = append(added, m)
		stack = append(stack, m.Children()...)
	}
	for _, m := range added {
		t.nodes[m.ID()] = m
	}
	if t.root == "" {
		t.root = n.ID()
	}
	t.edited()
	return nil
}

// RemoveNode removes a node and its whole subtree, detaching it from its
// parent and from every group.
func (t *Tree) RemoveNode(id NodeID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	if p := t.parentOf(id); p != nil {
		detachFrom(p, id)
	}
	for _, rid := range t.subtree(n) {
		delete(t.nodes, rid)
		for _, g := range t.groups {
			g.remove(rid)
		}
		if rid == t.root {
			t.root = ""
		}
	}
	t.edited()
	return nil
}

func (t *Tree) SetRoot(id NodeID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.nodes[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	t.root = id
	t.edited()
	return nil
}

// Attach makes child a child of parent at index; a negative or out of range
// index appends. The edit is refused when it would give child a second
// parent or close a cycle.
func (t *Tree) Attach(parent, child NodeID, index int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.nodes[parent]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, parent)
	}
	c, ok := t.nodes[child]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, child)
	}
	if t.parentOf(child) != nil {
		return fmt.Errorf("%w: %s", ErrMultipleParents, child)
	}
	for _, id := range t.subtree(c) {
		if id == parent {
			return fmt.Errorf("%w: %s is an ancestor of %s", ErrCycle, child, parent)
		}
	}
	switch pn := p.(type) {
	case Composite:
		pn.InsertChild(index, c)
	case Decorator:
		if pn.Child() != nil {
			return fmt.Errorf("%w: decorator %s already has a child", ErrInvalidParam, parent)
		}
		pn.SetChild(c)
	default:
		return fmt.Errorf("%w: %s node %s takes no children", ErrInvalidParam, p.Category(), parent)
	}
	t.edited()
	return nil
}

// Detach removes child from its parent. The child stays in the tree.
func (t *Tree) Detach(child NodeID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.nodes[child]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, child)
	}
	p := t.parentOf(child)
	if p == nil {
		return nil
	}
	detachFrom(p, child)
	t.edited()
	return nil
}

func detachFrom(p Node, child NodeID) {
	switch pn := p.(type) {
	case Composite:
		pn.RemoveChild(child)
	case Decorator:
		if c := pn.Child(); c != nil && c.ID() == child {
			pn.SetChild(nil)
		}
	}
}

func (t *Tree) parentOf(id NodeID) Node {
	for _, n := range t.nodes {
		for _, c := range n.Children() {
			if c != nil && c.ID() == id {
				return n
			}
		}
	}
	return nil
}

// Parent returns the parent of a node, or nil for the root and detached
// nodes.
func (t *Tree) Parent(id NodeID) Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.parentOf(id)
}

// subtree lists n and its descendants that belong to the tree.
func (t *Tree) subtree(n Node) []NodeID {
	var out []NodeID
	visited := make(map[NodeID]struct{})
	stack := []Node{n}
	for len(stack) > 0 {
		m := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if m == nil {
			continue
		}
		if _, ok := visited[m.ID()]; ok {
			continue
		}
		if _, ok := t.nodes[m.ID()]; !ok {
			continue
		}
		visited[m.ID()] = struct{}{}
		out = append(out, m.ID())
		stack = append(stack, m.Children()...)
	}
	return out
}

// NewGroup creates an empty group owned by the tree.
func (t *Tree) NewGroup(title string) *Group {
	g := &Group{title: title, tree: t, set: make(map[NodeID]struct{})}
	t.groups = append(t.groups, g)
	return g
}

func (t *Tree) Groups() []*Group { return append([]*Group(nil), t.groups...) }

func (t *Tree) RemoveGroup(g *Group) bool {
	for i, existing := range t.groups {
		if existing == g {
			t.groups = append(t.groups[:i], t.groups[i+1:]...)
			g.tree = nil
			return true
		}
	}
	return false
}

// GroupsOf returns the groups a node belongs to.
func (t *Tree) GroupsOf(id NodeID) []*Group {
	var out []*Group
	for _, g := range t.groups {
		if g.Has(id) {
			out = append(out, g)
		}
	}
	return out
}

// Validate runs every structural check and joins all defects found.
func (t *Tree) Validate() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.validateLocked()
}

func (t *Tree) validateLocked() error {
	var errs []error
	ids := t.sortedIDs()

	rootOK := false
	switch {
	case t.root == "":
		errs = append(errs, structural("", "root", ErrMissingRoot))
	default:
		if _, ok := t.nodes[t.root]; ok {
			rootOK = true
		} else {
			errs = append(errs, structural(t.root, "root", ErrMissingRoot))
		}
	}

	parents := make(map[NodeID]NodeID)
	for _, id := range ids {
		n := t.nodes[id]
		if d, ok := n.(Decorator); ok && d.Child() == nil {
			errs = append(errs, structural(id, "child", ErrMissingChild))
		}
		for i, c := range n.Children() {
			field := fmt.Sprintf("children[%d]", i)
			if c == nil {
				errs = append(errs, structural(id, field, ErrMissingChild))
				continue
			}
			if existing, ok := t.nodes[c.ID()]; !ok || existing != c {
				errs = append(errs, structural(id, field, fmt.Errorf("%w: %s", ErrUnknownChild, c.ID())))
				continue
			}
			if p, dup := parents[c.ID()]; dup {
				errs = append(errs, structural(c.ID(), "parent", fmt.Errorf("%w: %s and %s", ErrMultipleParents, p, id)))
				continue
			}
			parents[c.ID()] = id
		}
		for _, v := range n.Variables() {
			if !v.IsLinked() {
				continue
			}
			field := "variables." + v.Name()
			e, ok := t.schema.Lookup(v.LinkedKey())
			if !ok {
				errs = append(errs, structural(id, field, fmt.Errorf("%w: %q", ErrUnresolvedLink, v.LinkedKey())))
				continue
			}
			if e.Type != v.Type() {
				errs = append(errs, structural(id, field,
					fmt.Errorf("%w: variable is %s, key %q is %s", ErrTypeMismatch, v.Type(), e.Key, e.Type)))
			}
		}
		if val, ok := n.(Validator); ok {
			if err := val.Validate(t.schema); err != nil {
				var se *StructuralError
				if errors.As(err, &se) {
					errs = append(errs, err)
				} else {
					errs = append(errs, structural(id, "params", err))
				}
			}
		}
	}

	cycles := t.findCycles(ids)
	errs = append(errs, cycles...)

	if rootOK && len(cycles) == 0 {
		depth := make(map[NodeID]int, len(t.nodes))
		depth[t.root] = 1
		deepest := t.root
		queue := []NodeID{t.root}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			if depth[id] > depth[deepest] {
				deepest = id
			}
			for _, c := range t.nodes[id].Children() {
				if c == nil || t.nodes[c.ID()] != c {
					continue
				}
				if _, seen := depth[c.ID()]; seen {
					continue
				}
				depth[c.ID()] = depth[id] + 1
				queue = append(queue, c.ID())
			}
		}
		for _, id := range ids {
			if _, ok := depth[id]; !ok {
				errs = append(errs, structural(id, "", ErrOrphan))
			}
		}
		if depth[deepest] > MaxDepth {
			errs = append(errs, structural(deepest, "",
				fmt.Errorf("%w: %d > %d", ErrDepthExceeded, depth[deepest], MaxDepth)))
		}
	}

	for _, g := range t.groups {
		for _, m := range g.members {
			if _, ok := t.nodes[m]; !ok {
				errs = append(errs, structural(m, fmt.Sprintf("group %q", g.title), ErrGroupMember))
			}
		}
	}

	return errors.Join(errs...)
}

func (t *Tree) findCycles(ids []NodeID) []error {
	const (
		white = iota
		gray
		black
	)
	type frame struct {
		id   NodeID
		next int
	}
	var errs []error
	color := make(map[NodeID]int, len(t.nodes))
	for _, start := range ids {
		if color[start] != white {
			continue
		}
		color[start] = gray
		stack := []frame{{id: start}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			children := t.nodes[top.id].Children()
			if top.next < len(children) {
				c := children[top.next]
				top.next++
				if c == nil || t.nodes[c.ID()] != c {
					continue
				}
				switch color[c.ID()] {
				case gray:
					errs = append(errs, structural(top.id, "children", fmt.Errorf("%w through %s", ErrCycle, c.ID())))
				case white:
					color[c.ID()] = gray
					stack = append(stack, frame{id: c.ID()})
				}
				continue
			}
			color[top.id] = black
			stack = stack[:len(stack)-1]
		}
	}
	return errs
}

// compile validates the tree and lays out its current version. The result
// is cached until the next edit.
func (t *Tree) compile() (*plan, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	version := t.version.Load()
	if t.plan != nil && t.plan.version == version {
		return t.plan, nil
	}
	if err := t.validateLocked(); err != nil {
		return nil, err
	}

	type frame struct {
		pos  int
		next int
	}
	p := &plan{
		version: version,
		nodes:   make([]Node, 0, len(t.nodes)),
		index:   make(map[NodeID]int, len(t.nodes)),
		size:    make([]int, len(t.nodes)),
	}
	root := t.nodes[t.root]
	p.index[root.ID()] = 0
	p.nodes = append(p.nodes, root)
	stack := []frame{{pos: 0}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		children := p.nodes[top.pos].Children()
		if top.next < len(children) {
			c := children[top.next]
			top.next++
			pos := len(p.nodes)
			p.index[c.ID()] = pos
			p.nodes = append(p.nodes, c)
			stack = append(stack, frame{pos: pos})
			continue
		}
		p.size[top.pos] = len(p.nodes) - top.pos
		stack = stack[:len(stack)-1]
	}
	t.plan = p
	return p, nil
}

// Traverse visits every node reachable from the given node in depth-first
// pre-order. Returning false from visit skips the children of that node.
// The walk is iterative and has no effect on any execution context.
func (t *Tree) Traverse(from NodeID, visit func(n Node, depth int) bool) error {
	start, ok := t.nodes[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, from)
	}
	type item struct {
		n     Node
		depth int
	}
	visited := make(map[NodeID]struct{})
	stack := []item{{n: start}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[it.n.ID()]; seen {
			continue
		}
		visited[it.n.ID()] = struct{}{}
		if !visit(it.n, it.depth) {
			continue
		}
		children := it.n.Children()
		for i := len(children) - 1; i >= 0; i-- {
			if children[i] != nil {
				stack = append(stack, item{n: children[i], depth: it.depth + 1})
			}
		}
	}
	return nil
}

// Descendants returns the ids below a node in depth-first pre-order,
// excluding the node itself.
func (t *Tree) Descendants(id NodeID) ([]NodeID, error) {
	var out []NodeID
	err := t.Traverse(id, func(n Node, depth int) bool {
		if depth > 0 {
			out = append(out, n.ID())
		}
		return true
	})
	return out, err
}
