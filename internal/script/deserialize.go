package script

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// UpvalueCache carries the identity relations for one deserialization
// campaign plus the collector reads that follow it. All three relations
// are append-only within a run.
type UpvalueCache struct {
	// objects maps serialized object ids to live ids.
	objects map[ObjectID]int

	// upvalues maps serialized upvalue ids to the live function and slot
	// that first materialized the cell.
	upvalues map[UpvalueID]upvalueSlot

	// collectors maps collector ids to the live object holding the
	// wrapped location and the key within it.
	collectors map[CollectorID]collectorSlot

	// live holds deserialized objects indexed by live id, keeping them
	// reachable for collector reads after the campaign.
	live     map[int]lua.LValue
	nextLive int
}

type upvalueSlot struct {
	function int // live id of the owning function
	slot     int // 1-based upvalue ordinal
}

type collectorSlot struct {
	object int   // live id of the function or table
	key    Value // upvalue slot number or table key
}

// NewUpvalueCache creates an empty cache for one campaign.
func NewUpvalueCache() *UpvalueCache {
	return &UpvalueCache{
		objects:    make(map[ObjectID]int),
		upvalues:   make(map[UpvalueID]upvalueSlot),
		collectors: make(map[CollectorID]collectorSlot),
		live:       make(map[int]lua.LValue),
	}
}

func (c *UpvalueCache) intern(lv lua.LValue) int {
	id := c.nextLive
	c.nextLive++
	c.live[id] = lv
	return id
}

// PushValue rebuilds a serialized tree as a live value on L. Objects with
// a previously seen serialized id resolve to the already constructed live
// object, which is what keeps shared tables shared and cycles closed.
func (c *UpvalueCache) PushValue(L *lua.LState, v Value) (lua.LValue, error) {
	switch v.Kind {
	case KindNil:
		return lua.LNil, nil
	case KindBool:
		return lua.LBool(v.Bool), nil
	case KindNumber:
		return lua.LNumber(v.Number), nil
	case KindString:
		return lua.LString(v.String), nil
	case KindTable:
		if id, ok := c.objects[v.Table.ID]; ok {
			return c.live[id], nil
		}
		return c.pushTable(L, v.Table)
	case KindFunction:
		if id, ok := c.objects[v.Function.ID]; ok {
			return c.live[id], nil
		}
		fn, _, err := c.pushFunction(L, v.Function)
		if err != nil {
			return nil, err
		}
		return fn, nil
	}
	return nil, fmt.Errorf("script: cannot deserialize value kind %d", v.Kind)
}

// pushTable interns the empty live table before recursing into entries so
// that self-references resolve, then commits entries with raw sets in
// serialization order.
func (c *UpvalueCache) pushTable(L *lua.LState, st *Table) (lua.LValue, error) {
	tbl := L.NewTable()
	lid := c.intern(tbl)
	c.objects[st.ID] = lid
	for _, e := range st.Entries {
		k, err := c.PushValue(L, e.Key)
		if err != nil {
			return nil, err
		}
		v, err := c.PushValue(L, e.Value)
		if err != nil {
			return nil, err
		}
		tbl.RawSet(k, v)
		if e.Collector != 0 {
			c.collectors[e.Collector] = collectorSlot{object: lid, key: e.Key}
		}
	}
	return tbl, nil
}

// DeserializeFunction rebuilds a serialized closure on L and returns the
// live function. Repeated calls with the same serialized id return the
// same live function.
func (c *UpvalueCache) DeserializeFunction(L *lua.LState, f *Function) (*lua.LFunction, error) {
	if id, ok := c.objects[f.ID]; ok {
		return c.live[id].(*lua.LFunction), nil
	}
	fn, _, err := c.pushFunction(L, f)
	return fn, err
}

func (c *UpvalueCache) pushFunction(L *lua.LState, sf *Function) (*lua.LFunction, int, error) {
	if sf.Proto == nil {
		return nil, 0, fmt.Errorf("script: function chunk is empty")
	}
	fn := L.NewFunctionFromProto(sf.Proto)
	lid := c.intern(fn)
	c.objects[sf.ID] = lid
	for i := range sf.Upvalues {
		if err := c.setSharedUpvalue(L, fn, lid, &sf.Upvalues[i]); err != nil {
			return nil, 0, err
		}
	}
	return fn, lid, nil
}

// setSharedUpvalue assigns one upvalue slot. A serialized id seen before
// joins this slot to the earlier function's cell, so the two closures
// keep one storage cell between them; a first-seen id gets a fresh cell
// holding the deserialized value and is recorded for later joins.
func (c *UpvalueCache) setSharedUpvalue(L *lua.LState, fn *lua.LFunction, lid int, uv *Upvalue) error {
	if m, ok := c.upvalues[uv.ID]; ok {
		prev := c.live[m.function].(*lua.LFunction)
		fn.Upvalues[uv.Slot-1] = prev.Upvalues[m.slot-1]
		return nil
	}

	lv, err := c.PushValue(L, uv.Value)
	if err != nil {
		return err
	}
	cell := &lua.Upvalue{}
	cell.SetValue(lv)
	cell.Close()
	fn.Upvalues[uv.Slot-1] = cell
	c.upvalues[uv.ID] = upvalueSlot{function: lid, slot: uv.Slot}

	if uv.Collector != 0 {
		c.collectors[uv.Collector] = collectorSlot{object: lid, key: Number(float64(uv.Slot))}
	}
	return nil
}

// CollectedValue reads the current value at the location a collector
// marks: an upvalue slot when the target is a function, a raw table get
// when it is a table. Unknown collectors yield nil.
func (c *UpvalueCache) CollectedValue(L *lua.LState, id CollectorID) (Value, error) {
	m, ok := c.collectors[id]
	if !ok {
		return Nil(), nil
	}
	switch obj := c.live[m.object].(type) {
	case *lua.LFunction:
		slot := int(m.key.Number)
		if slot < 1 || slot > len(obj.Upvalues) {
			return Value{}, fmt.Errorf("script: collector slot %d out of range", slot)
		}
		return SerializeValue(L, obj.Upvalues[slot-1].Value())
	case *lua.LTable:
		k, err := c.PushValue(L, m.key)
		if err != nil {
			return Value{}, err
		}
		return SerializeValue(L, obj.RawGet(k))
	default:
		return Value{}, fmt.Errorf("script: collector points at %T, want function or table", obj)
	}
}
