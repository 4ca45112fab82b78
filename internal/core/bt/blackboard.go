package bt

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"sync"
)

// Entry declares one blackboard key.
type Entry struct {
	Key     string
	Type    ValueType
	Default any
}

// Schema is the ordered set of blackboard declarations of a tree. It is part
// of the shared tree and is not modified once contexts exist.
type Schema struct {
	entries []Entry
	index   map[string]int
}

func NewSchema() *Schema {
	return &Schema{index: make(map[string]int)}
}

// Declare adds a key. The default is coerced to the declared type.
func (s *Schema) Declare(key string, t ValueType, def any) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidSchema)
	}
	if !t.Valid() {
		return fmt.Errorf("%w: key %q has invalid type", ErrInvalidSchema, key)
	}
	if _, dup := s.index[key]; dup {
		return fmt.Errorf("%w: key %q declared twice", ErrInvalidSchema, key)
	}
	v, err := Coerce(t, def)
	if err != nil {
		return fmt.Errorf("%w: key %q default: %v", ErrInvalidSchema, key, err)
	}
	s.index[key] = len(s.entries)
	s.entries = append(s.entries, Entry{Key: key, Type: t, Default: v})
	return nil
}

func (s *Schema) Lookup(key string) (Entry, bool) {
	i, ok := s.index[key]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

func (s *Schema) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Schema) Len() int { return len(s.entries) }

func (s *Schema) slot(key string) (int, bool) {
	i, ok := s.index[key]
	return i, ok
}

// Blackboard is the per-agent typed key/value store. Every write is checked
// against the schema of the tree it was created from. It is safe to write
// from a sensor goroutine while the owner ticks.
type Blackboard struct {
	mu     sync.RWMutex
	schema *Schema
	values []any
}

// NewBlackboard creates a blackboard seeded with the schema defaults.
func NewBlackboard(schema *Schema) *Blackboard {
	if schema == nil {
		schema = NewSchema()
	}
	b := &Blackboard{schema: schema, values: make([]any, schema.Len())}
	b.resetLocked()
	return b
}

func (b *Blackboard) Schema() *Schema { return b.schema }

// Get retrieves a value by key.
func (b *Blackboard) Get(key string) (any, error) {
	i, ok := b.schema.slot(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return b.load(i), nil
}

// Set assigns a value by key. The value must have the Go type backing the
// declared type of the key.
func (b *Blackboard) Set(key string, value any) error {
	i, ok := b.schema.slot(key)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	if t := b.schema.entries[i].Type; !t.Accepts(value) {
		return &TypeError{Key: key, Want: t, Got: value}
	}
	b.store(i, value)
	return nil
}

func (b *Blackboard) Has(key string) bool {
	_, ok := b.schema.slot(key)
	return ok
}

func (b *Blackboard) Type(key string) (ValueType, bool) {
	e, ok := b.schema.Lookup(key)
	return e.Type, ok
}

// Keys returns the declared keys in declaration order.
func (b *Blackboard) Keys() []string {
	keys := make([]string, len(b.schema.entries))
	for i, e := range b.schema.entries {
		keys[i] = e.Key
	}
	return keys
}

// Snapshot returns a shallow copy of all values.
func (b *Blackboard) Snapshot() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]any, len(b.values))
	for i, e := range b.schema.entries {
		out[e.Key] = b.values[i]
	}
	return out
}

// Reset restores every key to its declared default.
func (b *Blackboard) Reset() {
	b.mu.Lock()
	b.resetLocked()
	b.mu.Unlock()
}

func (b *Blackboard) resetLocked() {
	for i, e := range b.schema.entries {
		b.values[i] = e.Default
	}
}

func (b *Blackboard) load(i int) any {
	b.mu.RLock()
	v := b.values[i]
	b.mu.RUnlock()
	return v
}

func (b *Blackboard) store(i int, v any) {
	b.mu.Lock()
	b.values[i] = v
	b.mu.Unlock()
}

// MarshalBinary persists the current values (codec: gob). Object values must
// be registered with gob by the host.
func (b *Blackboard) MarshalBinary() ([]byte, error) {
	snapshot := b.Snapshot()
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snapshot); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary restores values written by MarshalBinary. Every value is
// checked against the schema; keys missing from the snapshot keep their
// current value.
func (b *Blackboard) UnmarshalBinary(data []byte) error {
	var snapshot map[string]any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snapshot); err != nil {
		return err
	}
	var all error
	for k, v := range snapshot {
		if err := b.Set(k, v); err != nil {
			all = errors.Join(all, err)
		}
	}
	return all
}

// Get reads a key as T. T must match the declared type, except that any key
// may be read into an interface type.
func Get[T any](b *Blackboard, key string) (T, error) {
	var zero T
	v, err := b.Get(key)
	if err != nil {
		return zero, err
	}
	declared, _ := b.Type(key)
	if want := typeFor[T](); want != declared && want != TypeObject {
		return zero, &TypeError{Key: key, Want: declared, Got: zero}
	}
	if v == nil {
		return zero, nil
	}
	out, ok := v.(T)
	if !ok {
		return zero, &TypeError{Key: key, Want: declared, Got: v}
	}
	return out, nil
}

// Set writes a key from a T.
func Set[T any](b *Blackboard, key string, value T) error {
	return b.Set(key, value)
}
