package bt

import (
	"github.com/google/uuid"
)

// NodeID identifies a node inside a tree asset. It is stable across saves.
type NodeID string

// NewNodeID returns a fresh random id.
func NewNodeID() NodeID { return NodeID(uuid.NewString()) }

// Node is the fundamental interface for behavior tree nodes.
//
// A node is part of the shared tree graph and must not keep per-agent state:
// everything that changes while ticking lives in the execution context and is
// reached through the TickContext (Scratch, Var, Blackboard).
//
// Implementations embed one of ActionNode, ConditionNode, CompositeNode or
// DecoratorNode and provide Tick.
type Node interface {
	ID() NodeID
	Kind() string
	Title() string
	Category() Category
	// Children returns the ordered children. The slice must not be modified.
	Children() []Node
	Variables() []*Variable
	// Tick executes one step of the node. Children are ticked through
	// TickContext.Tick, never by calling their Tick method directly.
	Tick(tc *TickContext) Status

	base() *BaseNode
}

// Condition nodes are pure predicates. A muted condition is not evaluated
// and counts as Success.
type Condition interface {
	Node
	Muted() bool
	SetMuted(bool)
}

// Composite nodes own an ordered list of children.
type Composite interface {
	Node
	SetChildren(children ...Node)
	InsertChild(index int, child Node)
	RemoveChild(id NodeID) bool
}

// Decorator nodes wrap exactly one child.
type Decorator interface {
	Node
	SetChild(child Node)
	Child() Node
}

// Configurable nodes take non-variable parameters from tree assets.
type Configurable interface {
	Configure(params map[string]any) error
	Params() map[string]any
}

// Validator nodes check their own configuration when the tree is validated.
type Validator interface {
	Validate(schema *Schema) error
}

// BaseNode carries identity and declared variables. It is embedded through
// the category bases below.
type BaseNode struct {
	id    NodeID
	kind  string
	title string
	vars  []*Variable
}

// Init records the kind and assigns a fresh id when none is set. Node
// constructors call it.
func (b *BaseNode) Init(kind string) {
	if b.id == "" {
		b.id = NewNodeID()
	}
	b.kind = kind
}

func (b *BaseNode) base() *BaseNode { return b }

func (b *BaseNode) ID() NodeID { return b.id }

// SetID replaces the id. Only meaningful before the node is added to a tree.
func (b *BaseNode) SetID(id NodeID) { b.id = id }

func (b *BaseNode) Kind() string { return b.kind }

func (b *BaseNode) Title() string {
	if b.title == "" {
		return b.kind
	}
	return b.title
}

func (b *BaseNode) SetTitle(title string) { b.title = title }

func (b *BaseNode) Variables() []*Variable { return b.vars }

// Variable returns the declared variable with the given name, or nil.
func (b *BaseNode) Variable(name string) *Variable {
	for _, v := range b.vars {
		if v.spec.Name == name {
			return v
		}
	}
	return nil
}

// Declare adds a typed variable slot, initialised with its default literal.
// Node constructors call it; the slot can later be linked to a blackboard key.
func (b *BaseNode) Declare(name string, t ValueType, def any) *Variable {
	if v := b.Variable(name); v != nil {
		return v
	}
	value, err := Coerce(t, def)
	if err != nil {
		value = t.Zero()
	}
	v := &Variable{spec: VariableSpec{Name: name, Type: t, Default: value}, value: value}
	b.vars = append(b.vars, v)
	return v
}

func (b *BaseNode) varIndex(name string) int {
	for i, v := range b.vars {
		if v.spec.Name == name {
			return i
		}
	}
	return -1
}

type ActionNode struct{ BaseNode }

func (*ActionNode) Category() Category { return CategoryAction }

func (*ActionNode) Children() []Node { return nil }

type ConditionNode struct {
	BaseNode
	mute bool
}

func (*ConditionNode) Category() Category { return CategoryCondition }

func (*ConditionNode) Children() []Node { return nil }

func (c *ConditionNode) Muted() bool { return c.mute }

func (c *ConditionNode) SetMuted(mute bool) { c.mute = mute }

type CompositeNode struct {
	BaseNode
	children []Node
}

func (*CompositeNode) Category() Category { return CategoryComposite }

func (c *CompositeNode) Children() []Node { return c.children }

func (c *CompositeNode) SetChildren(children ...Node) {
	c.children = append([]Node(nil), children...)
}

// InsertChild inserts at index; an out of range index appends.
func (c *CompositeNode) InsertChild(index int, child Node) {
	if index < 0 || index >= len(c.children) {
		c.children = append(c.children, child)
		return
	}
	c.children = append(c.children, nil)
	copy(c.children[index+1:], c.children[index:])
	c.children[index] = child
}

func (c *CompositeNode) RemoveChild(id NodeID) bool {
	for i, ch := range c.children {
		if ch != nil && ch.ID() == id {
			c.children = append(c.children[:i], c.children[i+1:]...)
			return true
		}
	}
	return false
}

type DecoratorNode struct {
	BaseNode
	child Node
}

func (*DecoratorNode) Category() Category { return CategoryDecorator }

func (d *DecoratorNode) Children() []Node {
	if d.child == nil {
		return nil
	}
	return []Node{d.child}
}

func (d *DecoratorNode) SetChild(child Node) { d.child = child }

func (d *DecoratorNode) Child() Node { return d.child }

// ActionFunc wraps a function as an Action node.
type ActionFunc struct {
	ActionNode
	Fn func(tc *TickContext) Status
}

func NewAction(title string, fn func(tc *TickContext) Status) *ActionFunc {
	a := &ActionFunc{Fn: fn}
	a.Init("ActionFunc")
	a.title = title
	return a
}

func (a *ActionFunc) Tick(tc *TickContext) Status { return a.Fn(tc) }

// ConditionFunc wraps a predicate as a Condition node.
type ConditionFunc struct {
	ConditionNode
	Fn func(tc *TickContext) bool
}

func NewCondition(title string, fn func(tc *TickContext) bool) *ConditionFunc {
	c := &ConditionFunc{Fn: fn}
	c.Init("ConditionFunc")
	c.title = title
	return c
}

func (c *ConditionFunc) Tick(tc *TickContext) Status { return StatusOf(c.Fn(tc)) }
