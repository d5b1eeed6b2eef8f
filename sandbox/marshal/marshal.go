// Package marshal implements the bidirectional conversion between
// bag.Value and Lua values: host → interpreter on the way in,
// interpreter → host on the way out, with cycle detection and
// integer-sequence promotion on the return trip.
package marshal

import (
	"math"

	"github.com/BaSui01/scriptexec/sandbox/bag"
	lua "github.com/yuin/gopher-lua"
)

// circularRefKey is the field name of the placeholder emitted in place
// of a value that would otherwise cause infinite descent.
const circularRefKey = "__circular_ref"

// ToInterp converts a host bag.Value into a Lua value inside L. Nested
// composites recurse; sequences become tables with consecutive integer
// keys starting at 1, mappings become tables keyed by string (gopher-lua's
// structured table API makes the identifier-vs-bracketed-form textual
// distinction moot — see DESIGN.md).
func ToInterp(v bag.Value, L *lua.LState) lua.LValue {
	switch v.Kind {
	case bag.Null:
		return lua.LNil
	case bag.Bool:
		return lua.LBool(v.BoolVal)
	case bag.Int:
		return lua.LNumber(v.IntVal)
	case bag.Float:
		return lua.LNumber(v.FloatVal)
	case bag.String:
		return lua.LString(v.StringVal)
	case bag.Sequence:
		t := L.NewTable()
		for i, elem := range v.SeqVal {
			t.RawSetInt(i+1, ToInterp(elem, L))
		}
		return t
	case bag.Mapping:
		t := L.NewTable()
		for k, elem := range v.MapVal {
			t.RawSetString(k, ToInterp(elem, L))
		}
		return t
	default:
		return lua.LNil
	}
}

// visited tracks *lua.LTable pointer identity seen along the current
// descent path, guarding against self-referential tables.
type visited map[*lua.LTable]bool

// FromInterp converts a Lua value back into a bag.Value. Call with a
// fresh, empty visited set per top-level conversion.
func FromInterp(lv lua.LValue, seen visited) bag.Value {
	switch t := lv.(type) {
	case *lua.LNilType:
		return bag.NullValue()
	case lua.LBool:
		return bag.BoolValue(bool(t))
	case lua.LNumber:
		f := float64(t)
		if math.Trunc(f) == f && !math.IsInf(f, 0) {
			return bag.IntValue(int64(f))
		}
		return bag.FloatValue(f)
	case lua.LString:
		return bag.StringValue(string(t))
	case *lua.LTable:
		return fromTable(t, seen)
	default:
		// Functions, userdata, threads are not marshallable and come
		// back as null. The executor rejects one returned at the top
		// level as ConvertFailed; nested inside a table it stays null.
		return bag.NullValue()
	}
}

// NewVisited constructs an empty cycle-detection set for a top-level
// FromInterp call.
func NewVisited() visited {
	return make(visited)
}

func fromTable(t *lua.LTable, seen visited) bag.Value {
	if seen[t] {
		return bag.MappingValue(map[string]bag.Value{
			circularRefKey: bag.StringValue(tableID(t)),
		})
	}
	seen[t] = true

	// Collect all key/value pairs via the stateless "next" primitive,
	// stepping from LNil (no-key) until LNil is returned again.
	type entry struct {
		key lua.LValue
		val bag.Value
	}
	var entries []entry
	key := lua.LNil
	for {
		nk, nv := t.Next(key)
		if nk == lua.LNil {
			break
		}
		entries = append(entries, entry{key: nk, val: FromInterp(nv, seen)})
		key = nk
	}

	// Decide sequence-vs-mapping shape: all keys must be integers
	// forming 1..N with no gaps and no other keys.
	maxInt := int64(0)
	allInt := true
	for _, e := range entries {
		n, ok := e.key.(lua.LNumber)
		if !ok || math.Trunc(float64(n)) != float64(n) || int64(n) < 1 {
			allInt = false
			break
		}
		if int64(n) > maxInt {
			maxInt = int64(n)
		}
	}
	if allInt && maxInt == int64(len(entries)) {
		seq := make([]bag.Value, maxInt)
		for _, e := range entries {
			idx := int64(e.key.(lua.LNumber)) - 1
			seq[idx] = e.val
		}
		// Values the interpreter holds as nil never appear as entries
		// at all (Next never yields a nil value — assigning nil to a
		// Lua table key deletes it), so null elision needs no extra
		// filtering here.
		return bag.SequenceValue(seq)
	}

	m := make(map[string]bag.Value, len(entries))
	for _, e := range entries {
		m[stringifyKey(e.key)] = e.val
	}
	return bag.MappingValue(m)
}

// stringifyKey renders a non-sequence table key as the string form the
// host sees; every key that isn't part of a 1..N integer sequence is
// stringified into a mapping key.
func stringifyKey(k lua.LValue) string {
	switch t := k.(type) {
	case lua.LString:
		return string(t)
	case lua.LBool:
		if bool(t) {
			return "true"
		}
		return "false"
	default:
		return t.String()
	}
}

// tableID produces a stable-enough per-process identifier for a table
// pointer, used only inside the circular-reference placeholder.
func tableID(t *lua.LTable) string {
	return t.String()
}
