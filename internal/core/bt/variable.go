package bt

import "fmt"

// VariableSpec is the declaration of a node variable slot.
type VariableSpec struct {
	Name    string
	Type    ValueType
	Default any
}

// Variable is the authored state of a node variable: either a literal value
// or a link to a blackboard key. It belongs to the shared tree; running
// contexts read it through a Ref.
type Variable struct {
	spec  VariableSpec
	value any
	link  string
}

func (v *Variable) Spec() VariableSpec { return v.spec }

func (v *Variable) Name() string { return v.spec.Name }

func (v *Variable) Type() ValueType { return v.spec.Type }

// Value returns the literal value. It is ignored while the variable is linked.
func (v *Variable) Value() any { return v.value }

// LinkedKey returns the blackboard key, or "" for a literal.
func (v *Variable) LinkedKey() string { return v.link }

func (v *Variable) IsLinked() bool { return v.link != "" }

// SetLiteral stores a literal, coerced to the declared type, and drops any
// link.
func (v *Variable) SetLiteral(value any) error {
	c, err := Coerce(v.spec.Type, value)
	if err != nil {
		return fmt.Errorf("%w: variable %q: %v", ErrTypeMismatch, v.spec.Name, err)
	}
	v.value = c
	v.link = ""
	return nil
}

// Link binds the variable to a blackboard key. The key is checked against the
// tree schema when the tree is validated.
func (v *Variable) Link(key string) { v.link = key }

// Unlink returns to the literal value.
func (v *Variable) Unlink() { v.link = "" }

// Ref is the resolved accessor of one variable inside one execution context:
// a live view of a blackboard key, or a private copy of the literal.
type Ref struct {
	name  string
	typ   ValueType
	bb    *Blackboard
	slot  int
	key   string
	value any
}

func resolveRef(v *Variable, bb *Blackboard) *Ref {
	r := &Ref{name: v.spec.Name, typ: v.spec.Type, slot: -1, value: v.value}
	if v.link != "" {
		if i, ok := bb.schema.slot(v.link); ok {
			r.bb, r.slot, r.key, r.value = bb, i, v.link, nil
		}
	}
	return r
}

func (r *Ref) Name() string { return r.name }

func (r *Ref) Type() ValueType { return r.typ }

func (r *Ref) Linked() bool { return r.bb != nil }

// Key returns the linked blackboard key, or "".
func (r *Ref) Key() string { return r.key }

func (r *Ref) Get() any {
	if r.bb != nil {
		return r.bb.load(r.slot)
	}
	return r.value
}

// Set writes through to the blackboard when linked, or replaces the private
// literal copy.
func (r *Ref) Set(value any) error {
	if !r.typ.Accepts(value) {
		return &TypeError{Key: r.name, Want: r.typ, Got: value}
	}
	if r.bb != nil {
		r.bb.store(r.slot, value)
		return nil
	}
	r.value = value
	return nil
}

func (r *Ref) Int() int {
	switch n := r.Get().(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func (r *Ref) Float() float64 {
	switch n := r.Get().(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}

func (r *Ref) String() string {
	s, _ := r.Get().(string)
	return s
}

func (r *Ref) Bool() bool {
	b, _ := r.Get().(bool)
	return b
}

func (r *Ref) Vector2() Vec2 {
	v, _ := r.Get().(Vec2)
	return v
}

func (r *Ref) Vector3() Vec3 {
	v, _ := r.Get().(Vec3)
	return v
}

func (r *Ref) Quaternion() Quat {
	if q, ok := r.Get().(Quat); ok {
		return q
	}
	return IdentityQuat
}

func (r *Ref) Object() any { return r.Get() }
