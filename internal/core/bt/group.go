package bt

import "fmt"

// Group is a named organisational container for nodes. It has no runtime
// semantics and never takes part in ticking.
type Group struct {
	title   string
	tree    *Tree
	members []NodeID
	set     map[NodeID]struct{}
}

func (g *Group) Title() string { return g.title }

func (g *Group) Rename(title string) { g.title = title }

func (g *Group) Tree() *Tree { return g.tree }

// AddMember adds a node of the owning tree. Adding a member twice is a no-op.
func (g *Group) AddMember(n Node) error {
	if n == nil || g.tree == nil {
		return fmt.Errorf("%w: nil node or removed group", ErrUnknownNode)
	}
	if existing, ok := g.tree.nodes[n.ID()]; !ok || existing != n {
		return fmt.Errorf("%w: %s", ErrUnknownNode, n.ID())
	}
	g.add(n.ID())
	return nil
}

func (g *Group) add(id NodeID) {
	if _, ok := g.set[id]; ok {
		return
	}
	g.set[id] = struct{}{}
	g.members = append(g.members, id)
}

// RemoveMember reports whether the node was a member.
func (g *Group) RemoveMember(n Node) bool {
	if n == nil {
		return false
	}
	return g.remove(n.ID())
}

func (g *Group) remove(id NodeID) bool {
	if _, ok := g.set[id]; !ok {
		return false
	}
	delete(g.set, id)
	for i, m := range g.members {
		if m == id {
			g.members = append(g.members[:i], g.members[i+1:]...)
			break
		}
	}
	return true
}

func (g *Group) Has(id NodeID) bool {
	_, ok := g.set[id]
	return ok
}

// Members returns the member ids in insertion order.
func (g *Group) Members() []NodeID {
	return append([]NodeID(nil), g.members...)
}

func (g *Group) Len() int { return len(g.members) }
