package bt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Asset is the durable form of a tree.
type Asset struct {
	Name      string          `json:"name" yaml:"name" toml:"name"`
	Root      NodeID          `json:"root" yaml:"root" toml:"root"`
	Variables []VariableAsset `json:"variables,omitempty" yaml:"variables,omitempty" toml:"variables,omitempty"`
	Nodes     []NodeAsset     `json:"nodes" yaml:"nodes" toml:"nodes"`
	Groups    []GroupAsset    `json:"groups,omitempty" yaml:"groups,omitempty" toml:"groups,omitempty"`
}

// VariableAsset declares a blackboard key.
type VariableAsset struct {
	Name  string `json:"name" yaml:"name" toml:"name"`
	Type  string `json:"type" yaml:"type" toml:"type"`
	Value any    `json:"value,omitempty" yaml:"value,omitempty" toml:"value,omitempty"`
}

type NodeAsset struct {
	ID        NodeID         `json:"id" yaml:"id" toml:"id"`
	Kind      string         `json:"kind" yaml:"kind" toml:"kind"`
	Title     string         `json:"title,omitempty" yaml:"title,omitempty" toml:"title,omitempty"`
	Children  []NodeID       `json:"children,omitempty" yaml:"children,omitempty" toml:"children,omitempty"`
	Params    map[string]any `json:"params,omitempty" yaml:"params,omitempty" toml:"params,omitempty"`
	Variables []BindingAsset `json:"variables,omitempty" yaml:"variables,omitempty" toml:"variables,omitempty"`
	Mute      bool           `json:"mute,omitempty" yaml:"mute,omitempty" toml:"mute,omitempty"`
}

// BindingAsset is the authored state of a node variable: a literal Value or
// a Link to a blackboard key.
type BindingAsset struct {
	Name  string `json:"name" yaml:"name" toml:"name"`
	Value any    `json:"value,omitempty" yaml:"value,omitempty" toml:"value,omitempty"`
	Link  string `json:"link,omitempty" yaml:"link,omitempty" toml:"link,omitempty"`
}

type GroupAsset struct {
	Title   string   `json:"title" yaml:"title" toml:"title"`
	Members []NodeID `json:"members" yaml:"members" toml:"members"`
}

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFromPath picks a codec from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unsupported tree file %q", path)
	}
}

func Decode(r io.Reader, f Format) (*Asset, error) {
	var a Asset
	var err error
	switch f {
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		err = dec.Decode(&a)
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		err = dec.Decode(&a)
	case FormatTOML:
		dec := toml.NewDecoder(r)
		dec.DisallowUnknownFields()
		err = dec.Decode(&a)
	default:
		return nil, fmt.Errorf("unknown format %q", f)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s asset: %w", f, err)
	}
	return &a, nil
}

func Encode(w io.Writer, a *Asset, f Format) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(a)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(a); err != nil {
			return err
		}
		return enc.Close()
	case FormatTOML:
		return toml.NewEncoder(w).Encode(a)
	default:
		return fmt.Errorf("unknown format %q", f)
	}
}

// ReadFile decodes an asset file, choosing the codec by extension.
func ReadFile(path string) (*Asset, error) {
	f, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(bytes.NewReader(data), f)
}

// Fingerprint hashes the canonical JSON form of an asset.
func Fingerprint(a *Asset) (uint64, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(data), nil
}

// Load builds a tree from an asset and validates it. Malformed assets are
// rejected with every defect found; nothing is repaired.
func Load(a *Asset, reg *Registry) (*Tree, error) {
	if reg == nil {
		reg = Default()
	}
	var errs []error

	schema := NewSchema()
	for _, v := range a.Variables {
		field := "variables." + v.Name
		t, err := ParseValueType(v.Type)
		if err != nil {
			errs = append(errs, structural("", field, fmt.Errorf("%w: %v", ErrInvalidSchema, err)))
			continue
		}
		if err := schema.Declare(v.Name, t, v.Value); err != nil {
			errs = append(errs, structural("", field, err))
		}
	}

	t := NewTree(a.Name, schema)
	for _, na := range a.Nodes {
		if na.ID == "" {
			errs = append(errs, structural("", "nodes", fmt.Errorf("%w: node of kind %q has no id", ErrInvalidParam, na.Kind)))
			continue
		}
		if _, dup := t.nodes[na.ID]; dup {
			errs = append(errs, structural(na.ID, "id", ErrDuplicateNode))
			continue
		}
		n, err := reg.InstantiateWithID(na.Kind, na.ID)
		if err != nil {
			errs = append(errs, structural(na.ID, "kind", err))
			continue
		}
		errs = append(errs, configure(n, na)...)
		t.nodes[na.ID] = n
	}

	for _, na := range a.Nodes {
		n, ok := t.nodes[na.ID]
		if !ok || len(na.Children) == 0 {
			continue
		}
		children := make([]Node, 0, len(na.Children))
		for i, cid := range na.Children {
			c, ok := t.nodes[cid]
			if !ok {
				errs = append(errs, structural(na.ID, fmt.Sprintf("children[%d]", i), fmt.Errorf("%w: %s", ErrUnknownChild, cid)))
				continue
			}
			children = append(children, c)
		}
		switch pn := n.(type) {
		case Composite:
			pn.SetChildren(children...)
		case Decorator:
			if len(na.Children) > 1 {
				errs = append(errs, structural(na.ID, "children", fmt.Errorf("%w: decorator takes exactly one child, got %d", ErrInvalidParam, len(na.Children))))
			}
			if len(children) > 0 {
				pn.SetChild(children[0])
			}
		default:
			errs = append(errs, structural(na.ID, "children", fmt.Errorf("%w: %s nodes take no children", ErrInvalidParam, n.Category())))
		}
	}

	t.root = a.Root
	for _, ga := range a.Groups {
		g := t.NewGroup(ga.Title)
		for _, m := range ga.Members {
			if g.Has(m) {
				errs = append(errs, structural(m, "group "+ga.Title, fmt.Errorf("%w: listed twice", ErrGroupMember)))
				continue
			}
			g.add(m)
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func configure(n Node, na NodeAsset) []error {
	var errs []error
	if na.Title != "" {
		n.base().title = na.Title
	}
	if na.Mute {
		if c, ok := n.(Condition); ok {
			c.SetMuted(true)
		} else {
			errs = append(errs, structural(na.ID, "mute", fmt.Errorf("%w: only conditions can be muted", ErrInvalidParam)))
		}
	}
	if len(na.Params) > 0 {
		if c, ok := n.(Configurable); ok {
			if err := c.Configure(na.Params); err != nil {
				errs = append(errs, structural(na.ID, "params", fmt.Errorf("%w: %v", ErrInvalidParam, err)))
			}
		} else {
			errs = append(errs, structural(na.ID, "params", fmt.Errorf("%w: kind %q takes no parameters", ErrInvalidParam, na.Kind)))
		}
	}
	for _, b := range na.Variables {
		field := "variables." + b.Name
		v := n.base().Variable(b.Name)
		if v == nil {
			errs = append(errs, structural(na.ID, field, ErrUnknownVariable))
			continue
		}
		if b.Link != "" {
			if b.Value != nil {
				errs = append(errs, structural(na.ID, field, fmt.Errorf("%w: both value and link set", ErrInvalidParam)))
				continue
			}
			v.Link(b.Link)
			continue
		}
		if err := v.SetLiteral(b.Value); err != nil {
			errs = append(errs, structural(na.ID, field, err))
		}
	}
	return errs
}

// Asset exports the tree. Nodes are sorted by id so that equal trees encode
// identically.
func (t *Tree) Asset() *Asset {
	t.mu.Lock()
	defer t.mu.Unlock()

	a := &Asset{Name: t.name, Root: t.root}
	for _, e := range t.schema.entries {
		a.Variables = append(a.Variables, VariableAsset{Name: e.Key, Type: e.Type.String(), Value: exportValue(e.Default)})
	}
	for _, id := range t.sortedIDs() {
		n := t.nodes[id]
		na := NodeAsset{ID: id, Kind: n.Kind(), Title: n.base().title}
		for _, c := range n.Children() {
			if c != nil {
				na.Children = append(na.Children, c.ID())
			}
		}
		if c, ok := n.(Configurable); ok {
			na.Params = c.Params()
		}
		for _, v := range n.Variables() {
			b := BindingAsset{Name: v.Name()}
			if v.IsLinked() {
				b.Link = v.LinkedKey()
			} else {
				b.Value = exportValue(v.Value())
			}
			na.Variables = append(na.Variables, b)
		}
		if c, ok := n.(Condition); ok {
			na.Mute = c.Muted()
		}
		a.Nodes = append(a.Nodes, na)
	}
	for _, g := range t.groups {
		a.Groups = append(a.Groups, GroupAsset{Title: g.title, Members: g.Members()})
	}
	sort.SliceStable(a.Groups, func(i, j int) bool { return a.Groups[i].Title < a.Groups[j].Title })
	return a
}
