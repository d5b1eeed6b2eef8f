package marshal

import (
	"testing"

	"github.com/BaSui01/scriptexec/sandbox/bag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func newState(t *testing.T) *lua.LState {
	L := lua.NewState()
	t.Cleanup(L.Close)
	return L
}

func TestRoundTrip_Scalars(t *testing.T) {
	L := newState(t)
	cases := []bag.Value{
		bag.NullValue(),
		bag.BoolValue(true),
		bag.IntValue(42),
		bag.FloatValue(3.5),
		bag.StringValue("hello"),
	}
	for _, v := range cases {
		lv := ToInterp(v, L)
		back := FromInterp(lv, NewVisited())
		assert.True(t, v.Equal(back), "round trip of %v produced %v", v, back)
	}
}

func TestRoundTrip_Sequence(t *testing.T) {
	L := newState(t)
	v := bag.SequenceValue([]bag.Value{bag.IntValue(1), bag.IntValue(2), bag.StringValue("three")})
	lv := ToInterp(v, L)
	back := FromInterp(lv, NewVisited())
	assert.True(t, v.Equal(back))
}

func TestRoundTrip_Mapping(t *testing.T) {
	L := newState(t)
	v := bag.MappingValue(map[string]bag.Value{"a": bag.IntValue(1), "b": bag.StringValue("x")})
	lv := ToInterp(v, L)
	back := FromInterp(lv, NewVisited())
	assert.True(t, v.Equal(back))
}

func TestFromInterp_SequencePromotion(t *testing.T) {
	L := newState(t)
	tbl := L.NewTable()
	tbl.RawSetInt(1, lua.LString("a"))
	tbl.RawSetInt(2, lua.LString("b"))
	tbl.RawSetInt(3, lua.LString("c"))

	got := FromInterp(tbl, NewVisited())
	require.Equal(t, bag.Sequence, got.Kind, "a table with dense 1..N integer keys promotes to a sequence")
	assert.Len(t, got.SeqVal, 3)
}

func TestFromInterp_NonDenseKeysStayMapping(t *testing.T) {
	L := newState(t)
	tbl := L.NewTable()
	tbl.RawSetInt(1, lua.LString("a"))
	tbl.RawSetInt(3, lua.LString("c")) // gap at 2

	got := FromInterp(tbl, NewVisited())
	assert.Equal(t, bag.Mapping, got.Kind)
}

func TestFromInterp_StringKeyedTableIsMapping(t *testing.T) {
	L := newState(t)
	tbl := L.NewTable()
	tbl.RawSetString("name", lua.LString("agent"))

	got := FromInterp(tbl, NewVisited())
	require.Equal(t, bag.Mapping, got.Kind)
	assert.Equal(t, "agent", got.MapVal["name"].StringVal)
}

func TestFromInterp_CycleDetection(t *testing.T) {
	L := newState(t)
	tbl := L.NewTable()
	tbl.RawSetString("self", tbl)

	got := FromInterp(tbl, NewVisited())
	require.Equal(t, bag.Mapping, got.Kind)
	inner := got.MapVal["self"]
	require.Equal(t, bag.Mapping, inner.Kind)
	_, hasCircularMarker := inner.MapVal[circularRefKey]
	assert.True(t, hasCircularMarker, "self-referential table must be broken with a circular-ref placeholder, not recurse forever")
}

func TestFromInterp_IntegerValuedFloatBecomesInt(t *testing.T) {
	L := newState(t)
	_ = L
	got := FromInterp(lua.LNumber(7), NewVisited())
	require.Equal(t, bag.Int, got.Kind)
	assert.Equal(t, int64(7), got.IntVal)
}

func TestFromInterp_NonIntegerFloatStaysFloat(t *testing.T) {
	L := newState(t)
	_ = L
	got := FromInterp(lua.LNumber(1.5), NewVisited())
	require.Equal(t, bag.Float, got.Kind)
	assert.Equal(t, 1.5, got.FloatVal)
}

func TestFromInterp_NonMarshallableBecomesNull(t *testing.T) {
	L := newState(t)
	fn := L.NewFunction(func(l *lua.LState) int { return 0 })
	got := FromInterp(fn, NewVisited())
	assert.True(t, got.IsNull())
}

func TestStringifyKey_BoolKeys(t *testing.T) {
	assert.Equal(t, "true", stringifyKey(lua.LBool(true)))
	assert.Equal(t, "false", stringifyKey(lua.LBool(false)))
}
