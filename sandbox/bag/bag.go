// Package bag defines the recursive structured value used to pass
// context into and out of a sandboxed script execution.
package bag

import (
	"fmt"
	"sort"
)

// Kind tags the variant held by a Value. Callers must pattern-match on
// Kind rather than type-assert; Value is a tagged union, not an
// interface hierarchy.
type Kind int

const (
	Null Kind = iota
	Bool
	Int
	Float
	String
	Sequence
	Mapping
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Int:
		return "int"
	case Float:
		return "float"
	case String:
		return "string"
	case Sequence:
		return "sequence"
	case Mapping:
		return "mapping"
	default:
		return "unknown"
	}
}

// Value is a recursive structured value: string, integer, float,
// boolean, null, an ordered sequence of Values, or a mapping from
// string keys to Values. Only one of the typed fields is meaningful,
// selected by Kind.
type Value struct {
	Kind Kind

	BoolVal   bool
	IntVal    int64
	FloatVal  float64
	StringVal string
	SeqVal    []Value
	MapVal    map[string]Value
}

func NullValue() Value             { return Value{Kind: Null} }
func BoolValue(b bool) Value       { return Value{Kind: Bool, BoolVal: b} }
func IntValue(i int64) Value       { return Value{Kind: Int, IntVal: i} }
func FloatValue(f float64) Value   { return Value{Kind: Float, FloatVal: f} }
func StringValue(s string) Value   { return Value{Kind: String, StringVal: s} }
func SequenceValue(v []Value) Value {
	if v == nil {
		v = []Value{}
	}
	return Value{Kind: Sequence, SeqVal: v}
}
func MappingValue(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{Kind: Mapping, MapVal: m}
}

// IsNull reports whether v is the null/absent marker.
func (v Value) IsNull() bool { return v.Kind == Null }

// Equal performs a deep structural comparison. Mapping key order is
// insignificant per the data model's invariants; sequence order is
// significant.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case Null:
		return true
	case Bool:
		return v.BoolVal == other.BoolVal
	case Int:
		return v.IntVal == other.IntVal
	case Float:
		return v.FloatVal == other.FloatVal
	case String:
		return v.StringVal == other.StringVal
	case Sequence:
		if len(v.SeqVal) != len(other.SeqVal) {
			return false
		}
		for i := range v.SeqVal {
			if !v.SeqVal[i].Equal(other.SeqVal[i]) {
				return false
			}
		}
		return true
	case Mapping:
		if len(v.MapVal) != len(other.MapVal) {
			return false
		}
		for k, mv := range v.MapVal {
			ov, ok := other.MapVal[k]
			if !ok || !mv.Equal(ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// DeepCopy returns a value with no shared backing storage, satisfying
// the invariant that the caller's input is never mutated by the
// executor — the context handed to a script must be a copy.
func (v Value) DeepCopy() Value {
	switch v.Kind {
	case Sequence:
		out := make([]Value, len(v.SeqVal))
		for i, e := range v.SeqVal {
			out[i] = e.DeepCopy()
		}
		return SequenceValue(out)
	case Mapping:
		out := make(map[string]Value, len(v.MapVal))
		for k, e := range v.MapVal {
			out[k] = e.DeepCopy()
		}
		return MappingValue(out)
	default:
		return v
	}
}

// sortedKeys returns the mapping's keys in a deterministic order, used
// only for stable String() rendering; insertion order is not part of
// the data model's contract.
func (v Value) sortedKeys() []string {
	keys := make([]string, 0, len(v.MapVal))
	for k := range v.MapVal {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders a debug representation; not used for marshalling.
func (v Value) String() string {
	switch v.Kind {
	case Null:
		return "null"
	case Bool:
		return fmt.Sprintf("%t", v.BoolVal)
	case Int:
		return fmt.Sprintf("%d", v.IntVal)
	case Float:
		return fmt.Sprintf("%g", v.FloatVal)
	case String:
		return fmt.Sprintf("%q", v.StringVal)
	case Sequence:
		return fmt.Sprintf("%v", v.SeqVal)
	case Mapping:
		keys := v.sortedKeys()
		out := "{"
		for i, k := range keys {
			if i > 0 {
				out += ", "
			}
			out += fmt.Sprintf("%s: %s", k, v.MapVal[k].String())
		}
		return out + "}"
	default:
		return "<unknown>"
	}
}
