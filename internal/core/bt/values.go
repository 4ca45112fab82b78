package bt

import (
	"encoding/gob"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueType is the declared type of a blackboard entry or node variable.
type ValueType uint8

const (
	TypeInt ValueType = iota + 1
	TypeFloat
	TypeString
	TypeBool
	TypeVector2
	TypeVector3
	TypeQuaternion
	TypeObject
)

var valueTypeNames = map[ValueType]string{
	TypeInt:        "int",
	TypeFloat:      "float",
	TypeString:     "string",
	TypeBool:       "bool",
	TypeVector2:    "vector2",
	TypeVector3:    "vector3",
	TypeQuaternion: "quaternion",
	TypeObject:     "object",
}

func (t ValueType) String() string {
	if name, ok := valueTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Valid reports whether t is one of the declared value types.
func (t ValueType) Valid() bool {
	_, ok := valueTypeNames[t]
	return ok
}

// ParseValueType accepts the names used in tree assets.
func ParseValueType(s string) (ValueType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int", "integer":
		return TypeInt, nil
	case "float", "number":
		return TypeFloat, nil
	case "string":
		return TypeString, nil
	case "bool", "boolean":
		return TypeBool, nil
	case "vector2", "vec2":
		return TypeVector2, nil
	case "vector3", "vec3":
		return TypeVector3, nil
	case "quaternion", "quat", "rotation":
		return TypeQuaternion, nil
	case "object", "any":
		return TypeObject, nil
	default:
		return 0, fmt.Errorf("unknown value type %q", s)
	}
}

type Vec2 struct{ X, Y float64 }

type Vec3 struct{ X, Y, Z float64 }

// Quat is a rotation quaternion. The zero value is not a rotation; use
// IdentityQuat for "no rotation".
type Quat struct{ X, Y, Z, W float64 }

var IdentityQuat = Quat{W: 1}

func (v Vec2) Distance(o Vec2) float64 { return math.Hypot(o.X-v.X, o.Y-v.Y) }

func (v Vec3) Distance(o Vec3) float64 {
	dx, dy, dz := o.X-v.X, o.Y-v.Y, o.Z-v.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func init() {
	gob.Register(Vec2{})
	gob.Register(Vec3{})
	gob.Register(Quat{})
}

// Zero returns the default value for a type.
func (t ValueType) Zero() any {
	switch t {
	case TypeInt:
		return 0
	case TypeFloat:
		return 0.0
	case TypeString:
		return ""
	case TypeBool:
		return false
	case TypeVector2:
		return Vec2{}
	case TypeVector3:
		return Vec3{}
	case TypeQuaternion:
		return IdentityQuat
	default:
		return nil
	}
}

// Accepts reports whether v already has the Go type backing t.
func (t ValueType) Accepts(v any) bool {
	switch t {
	case TypeInt:
		_, ok := v.(int)
		return ok
	case TypeFloat:
		_, ok := v.(float64)
		return ok
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBool:
		_, ok := v.(bool)
		return ok
	case TypeVector2:
		_, ok := v.(Vec2)
		return ok
	case TypeVector3:
		_, ok := v.(Vec3)
		return ok
	case TypeQuaternion:
		_, ok := v.(Quat)
		return ok
	case TypeObject:
		return true
	default:
		return false
	}
}

// typeFor derives the declared type matching a Go type parameter.
func typeFor[T any]() ValueType {
	var zero T
	switch any(zero).(type) {
	case int:
		return TypeInt
	case float64:
		return TypeFloat
	case string:
		return TypeString
	case bool:
		return TypeBool
	case Vec2:
		return TypeVector2
	case Vec3:
		return TypeVector3
	case Quat:
		return TypeQuaternion
	default:
		return TypeObject
	}
}

// Coerce converts a decoded asset value (JSON, YAML or TOML scalars, maps and
// lists) into the Go type backing t. A nil value yields the type's zero.
func Coerce(t ValueType, v any) (any, error) {
	if v == nil {
		return t.Zero(), nil
	}
	if t.Accepts(v) {
		return v, nil
	}
	switch t {
	case TypeInt:
		if n, ok, err := toInt(v); ok {
			return n, err
		}
		f, ok := toFloat(v)
		if !ok || f != math.Trunc(f) {
			return nil, fmt.Errorf("%v (%T) is not an int", v, v)
		}
		return int(f), nil
	case TypeFloat:
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("%v (%T) is not a float", v, v)
		}
		return f, nil
	case TypeVector2:
		c, err := components(v, "x", "y")
		if err != nil {
			return nil, err
		}
		return Vec2{X: c[0], Y: c[1]}, nil
	case TypeVector3:
		c, err := components(v, "x", "y", "z")
		if err != nil {
			return nil, err
		}
		return Vec3{X: c[0], Y: c[1], Z: c[2]}, nil
	case TypeQuaternion:
		c, err := components(v, "x", "y", "z", "w")
		if err != nil {
			return nil, err
		}
		return Quat{X: c[0], Y: c[1], Z: c[2], W: c[3]}, nil
	}
	return nil, fmt.Errorf("%v (%T) is not a %s", v, v, t)
}

// toInt converts integer kinds without a float round trip. ok is false for
// non-integer kinds.
func toInt(v any) (n int, ok bool, err error) {
	switch i := v.(type) {
	case int8:
		return int(i), true, nil
	case int16:
		return int(i), true, nil
	case int32:
		return int(i), true, nil
	case int64:
		if i < math.MinInt || i > math.MaxInt {
			return 0, true, fmt.Errorf("%d overflows int", i)
		}
		return int(i), true, nil
	case uint:
		if uint64(i) > math.MaxInt {
			return 0, true, fmt.Errorf("%d overflows int", i)
		}
		return int(i), true, nil
	case uint8:
		return int(i), true, nil
	case uint16:
		return int(i), true, nil
	case uint32:
		if uint64(i) > math.MaxInt {
			return 0, true, fmt.Errorf("%d overflows int", i)
		}
		return int(i), true, nil
	case uint64:
		if i > math.MaxInt {
			return 0, true, fmt.Errorf("%d overflows int", i)
		}
		return int(i), true, nil
	}
	return 0, false, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// components reads vector components either from a {x: .., y: ..} mapping or
// from a positional list.
func components(v any, names ...string) ([]float64, error) {
	out := make([]float64, len(names))
	switch c := v.(type) {
	case map[string]any:
		for k := range c {
			if !containsName(names, k) {
				return nil, fmt.Errorf("unexpected component %q", k)
			}
		}
		for i, name := range names {
			raw, ok := c[name]
			if !ok {
				continue
			}
			f, ok := toFloat(raw)
			if !ok {
				return nil, fmt.Errorf("component %q: %v is not a number", name, raw)
			}
			out[i] = f
		}
	case []any:
		if len(c) != len(names) {
			return nil, fmt.Errorf("expected %d components, got %d", len(names), len(c))
		}
		for i, raw := range c {
			f, ok := toFloat(raw)
			if !ok {
				return nil, fmt.Errorf("component %d: %v is not a number", i, raw)
			}
			out[i] = f
		}
	case []float64:
		if len(c) != len(names) {
			return nil, fmt.Errorf("expected %d components, got %d", len(names), len(c))
		}
		copy(out, c)
	default:
		return nil, fmt.Errorf("%v (%T) is not a vector", v, v)
	}
	return out, nil
}

func containsName(names []string, k string) bool {
	for _, n := range names {
		if n == k {
			return true
		}
	}
	return false
}

// ParseValue parses a textual literal, as typed on a command line. Vectors
// are comma separated components.
func ParseValue(t ValueType, s string) (any, error) {
	s = strings.TrimSpace(s)
	switch t {
	case TypeInt:
		return strconv.Atoi(s)
	case TypeFloat:
		return strconv.ParseFloat(s, 64)
	case TypeBool:
		return strconv.ParseBool(s)
	case TypeString, TypeObject:
		return s, nil
	case TypeVector2, TypeVector3, TypeQuaternion:
		parts := strings.Split(s, ",")
		list := make([]any, len(parts))
		for i, p := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return nil, err
			}
			list[i] = f
		}
		return Coerce(t, list)
	}
	return nil, fmt.Errorf("cannot parse %s", t)
}

// exportValue turns a typed value back into plain data for asset encoding.
func exportValue(v any) any {
	switch c := v.(type) {
	case Vec2:
		return map[string]any{"x": c.X, "y": c.Y}
	case Vec3:
		return map[string]any{"x": c.X, "y": c.Y, "z": c.Z}
	case Quat:
		return map[string]any{"x": c.X, "y": c.Y, "z": c.Z, "w": c.W}
	default:
		return v
	}
}
