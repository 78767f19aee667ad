package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

// roundTrip serializes a live value from src and rebuilds it on a fresh
// interpreter, returning the rebuilt value and the campaign cache.
func roundTrip(t *testing.T, src *lua.LState, lv lua.LValue) (*lua.LState, lua.LValue, *UpvalueCache) {
	t.Helper()
	sv, err := SerializeValue(src, lv)
	require.NoError(t, err)

	dst := lua.NewState()
	t.Cleanup(dst.Close)
	cache := NewUpvalueCache()
	out, err := cache.PushValue(dst, sv)
	require.NoError(t, err)
	return dst, out, cache
}

func TestRoundTripPrimitives(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name string
		in   lua.LValue
	}{
		{"true", lua.LTrue},
		{"false", lua.LFalse},
		{"zero", lua.LNumber(0)},
		{"negative", lua.LNumber(-12.75)},
		{"large", lua.LNumber(1e18)},
		{"empty string", lua.LString("")},
		{"string", lua.LString("ping-pong")},
		{"binary string", lua.LString("\x00\xff\x7f")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, out, _ := roundTrip(t, L, tt.in)
			assert.Equal(t, tt.in, out)
		})
	}
}

func TestSerializeNilRejected(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	_, err := SerializeValue(L, lua.LNil)
	assert.Error(t, err)
}

func TestSerializeUnsupportedKindRejected(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	_, err := SerializeValue(L, L.NewUserData())
	assert.Error(t, err)
}

func TestSerializeBuiltinFunctionRejected(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	_, err := SerializeFunction(L, L.NewFunction(func(L *lua.LState) int { return 0 }))
	assert.Error(t, err)
}

func TestRoundTripTableStructure(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	err := L.DoString(`
t = {
	num = 42.5,
	str = "hello",
	flag = true,
	[1] = "first",
	[2] = "second",
	nested = { deep = { leaf = 7 } },
}
`)
	require.NoError(t, err)

	src := L.GetGlobal("t").(*lua.LTable)
	_, out, _ := roundTrip(t, L, src)
	got := out.(*lua.LTable)

	assert.Equal(t, lua.LNumber(42.5), got.RawGetString("num"))
	assert.Equal(t, lua.LString("hello"), got.RawGetString("str"))
	assert.Equal(t, lua.LTrue, got.RawGetString("flag"))
	assert.Equal(t, lua.LString("first"), got.RawGetInt(1))
	assert.Equal(t, lua.LString("second"), got.RawGetInt(2))

	nested := got.RawGetString("nested").(*lua.LTable)
	deep := nested.RawGetString("deep").(*lua.LTable)
	assert.Equal(t, lua.LNumber(7), deep.RawGetString("leaf"))

	// Key sets match exactly: count entries on both sides.
	count := func(tbl *lua.LTable) int {
		n := 0
		key := lua.LValue(lua.LNil)
		for {
			k, _ := tbl.Next(key)
			if k == lua.LNil {
				break
			}
			n++
			key = k
		}
		return n
	}
	assert.Equal(t, count(src), count(got))
}

func TestRoundTripSharedTableIdentity(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	err := L.DoString(`
local shared = { v = 1 }
t = { x = shared, y = shared }
`)
	require.NoError(t, err)

	src := L.GetGlobal("t").(*lua.LTable)
	_, out, _ := roundTrip(t, L, src)
	got := out.(*lua.LTable)

	x := got.RawGetString("x").(*lua.LTable)
	y := got.RawGetString("y").(*lua.LTable)
	assert.Same(t, x, y, "shared table must deserialize to one live object")
	assert.Equal(t, lua.LNumber(1), x.RawGetString("v"))
}

func TestRoundTripDeterministicEntryOrder(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	err := L.DoString(`t = { a = 1, b = 2, c = 3, d = 4, e = 5 }`)
	require.NoError(t, err)
	src := L.GetGlobal("t").(*lua.LTable)

	first, err := SerializeValue(L, src)
	require.NoError(t, err)
	second, err := SerializeValue(L, src)
	require.NoError(t, err)

	require.Equal(t, len(first.Table.Entries), len(second.Table.Entries))
	for i := range first.Table.Entries {
		assert.Equal(t, first.Table.Entries[i].Key, second.Table.Entries[i].Key)
	}
}

func TestSharedUpvalueAliasing(t *testing.T) {
	e, err := NewEngine(Config{IsClient: true})
	require.NoError(t, err)
	defer e.Close()

	script := `
local c = 0
client_sendmsg(function () c = c + 1 return c end)
client_recvmsg(function () return c end)
`
	require.NoError(t, e.RunString(script, nil))

	s, err := NewSlave(e)
	require.NoError(t, err)
	defer s.Close()

	for i := 1; i <= 3; i++ {
		r, err := s.SendmsgHook(-1, 0)
		require.NoError(t, err)
		assert.Equal(t, i, r)
	}

	// Mutations through one closure are visible through the other.
	r, err := s.RecvmsgHook(-1, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, r)
}

func TestSlavesDoNotShareUpvalues(t *testing.T) {
	e, err := NewEngine(Config{IsClient: true})
	require.NoError(t, err)
	defer e.Close()

	script := `
local c = 0
client_sendmsg(function () c = c + 1 return c end)
`
	require.NoError(t, e.RunString(script, nil))

	s1, err := NewSlave(e)
	require.NoError(t, err)
	defer s1.Close()
	s2, err := NewSlave(e)
	require.NoError(t, err)
	defer s2.Close()

	for i := 1; i <= 5; i++ {
		r, err := s1.SendmsgHook(-1, 0)
		require.NoError(t, err)
		assert.Equal(t, i, r)
	}

	r, err := s2.SendmsgHook(-1, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, r, "each slave keeps its own counter")
}

func TestCollectorUpvalueBinding(t *testing.T) {
	e, err := NewEngine(Config{IsClient: true})
	require.NoError(t, err)
	defer e.Close()

	script := `
counter = collector({0})
local c = counter
client_sendmsg(function () c = c + 1 return c end)
`
	require.NoError(t, e.RunString(script, nil))

	id, ok := e.CollectorID("counter")
	require.True(t, ok, "global wrapper must be recognized as a collector")

	s, err := NewSlave(e)
	require.NoError(t, err)
	defer s.Close()

	// The wrapper unwraps to its first cell on the worker side.
	v, err := s.CollectedValue(id)
	require.NoError(t, err)
	require.Equal(t, KindNumber, v.Kind)
	assert.Equal(t, 0.0, v.Number)

	for i := 0; i < 3; i++ {
		_, err := s.SendmsgHook(-1, 0)
		require.NoError(t, err)
	}

	v, err = s.CollectedValue(id)
	require.NoError(t, err)
	require.Equal(t, KindNumber, v.Kind)
	assert.Equal(t, 3.0, v.Number)
}

func TestCollectorTableEntryBinding(t *testing.T) {
	e, err := NewEngine(Config{IsClient: true})
	require.NoError(t, err)
	defer e.Close()

	script := `
stats = { reqs = collector({0}) }
local s = stats
client_sendmsg(function () s.reqs = s.reqs + 1 return s.reqs end)
`
	require.NoError(t, e.RunString(script, nil))

	// The entry value is the collector; take its identity off the master.
	stats := e.L.GetGlobal("stats").(*lua.LTable)
	wrapper := stats.RawGetString("reqs").(*lua.LTable)
	id := CollectorID(objectID(wrapper))

	s, err := NewSlave(e)
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 2; i++ {
		_, err := s.SendmsgHook(-1, 0)
		require.NoError(t, err)
	}

	v, err := s.CollectedValue(id)
	require.NoError(t, err)
	require.Equal(t, KindNumber, v.Kind)
	assert.Equal(t, 2.0, v.Number)
}

func TestUnknownCollectorReturnsNil(t *testing.T) {
	e, err := NewEngine(Config{IsClient: true})
	require.NoError(t, err)
	defer e.Close()
	require.NoError(t, e.RunString("client_sendmsg(function () end)", nil))

	s, err := NewSlave(e)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.CollectedValue(CollectorID(0xdeadbeef))
	require.NoError(t, err)
	assert.True(t, v.IsNil())
}

func TestCollectorsScan(t *testing.T) {
	e, err := NewEngine(Config{IsClient: true})
	require.NoError(t, err)
	defer e.Close()

	script := `
reqs = collector({0})
lat = collector({0})
plain = { 1, 2, 3 }
`
	require.NoError(t, e.RunString(script, nil))

	found := e.Collectors()
	assert.Len(t, found, 2)
	assert.Contains(t, found, "reqs")
	assert.Contains(t, found, "lat")
	assert.NotContains(t, found, "plain")
}
