package script

import (
	"fmt"
	"reflect"

	lua "github.com/yuin/gopher-lua"
)

// objectID takes the identity of a live heap object (table, function,
// upvalue cell). The Go heap does not move, and IDs are only compared
// within one campaign while the source interpreter is alive.
func objectID(v any) ObjectID {
	return ObjectID(reflect.ValueOf(v).Pointer())
}

// unwrapCollector tests lv for the collector metafield marker. When
// present it returns the wrapped payload (the wrapper's first indexed
// cell) and the wrapper's identity; otherwise lv itself and zero.
func unwrapCollector(L *lua.LState, lv lua.LValue) (lua.LValue, CollectorID) {
	tbl, ok := lv.(*lua.LTable)
	if !ok {
		return lv, 0
	}
	if L.GetMetaField(tbl, "collector") == lua.LNil {
		return lv, 0
	}
	return tbl.RawGetInt(1), CollectorID(objectID(tbl))
}

// SerializeValue walks a live value into a Value tree. Nil is rejected as
// a top-level value; userdata, channels, and coroutines are unsupported.
func SerializeValue(L *lua.LState, lv lua.LValue) (Value, error) {
	switch v := lv.(type) {
	case lua.LBool:
		return Bool(bool(v)), nil
	case lua.LNumber:
		return Number(float64(v)), nil
	case lua.LString:
		return String(string(v)), nil
	case *lua.LTable:
		t, err := serializeTable(L, v)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindTable, Table: t}, nil
	case *lua.LFunction:
		f, err := SerializeFunction(L, v)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindFunction, Function: f}, nil
	case *lua.LNilType:
		return Value{}, fmt.Errorf("script: cannot serialize nil")
	default:
		return Value{}, fmt.Errorf("script: cannot serialize %s value", lv.Type())
	}
}

// serializeTable records the live pointer as the table's identity, then
// visits entries in the order the interpreter's iteration primitive
// yields them. Collector wrappers on entry values are unwrapped and the
// wrapper identity recorded on the entry.
func serializeTable(L *lua.LState, tbl *lua.LTable) (*Table, error) {
	t := &Table{ID: objectID(tbl)}
	key := lua.LValue(lua.LNil)
	for {
		k, v := tbl.Next(key)
		if k == lua.LNil {
			break
		}
		inner, cid := unwrapCollector(L, v)
		sk, err := SerializeValue(L, k)
		if err != nil {
			return nil, err
		}
		sv, err := SerializeValue(L, inner)
		if err != nil {
			return nil, err
		}
		t.Entries = append(t.Entries, TableEntry{Key: sk, Value: sv, Collector: cid})
		key = k
	}
	return t, nil
}

// SerializeFunction captures a live closure: its compiled proto and every
// upvalue slot in order. The per-slot identity is the upvalue cell
// pointer, which closures sharing a binding also share. Builtin Go
// functions have no proto and cannot cross interpreters.
func SerializeFunction(L *lua.LState, fn *lua.LFunction) (*Function, error) {
	if fn.IsG {
		return nil, fmt.Errorf("script: cannot serialize a builtin function")
	}
	if fn.Proto == nil {
		return nil, fmt.Errorf("script: function has an empty chunk")
	}
	f := &Function{ID: objectID(fn), Proto: fn.Proto}
	for i, uv := range fn.Upvalues {
		if uv == nil {
			return nil, fmt.Errorf("script: function upvalue %d is unset", i+1)
		}
		inner, cid := unwrapCollector(L, uv.Value())
		sv, err := SerializeValue(L, inner)
		if err != nil {
			return nil, err
		}
		f.Upvalues = append(f.Upvalues, Upvalue{
			ID:        UpvalueID(reflect.ValueOf(uv).Pointer()),
			Slot:      i + 1,
			Value:     sv,
			Collector: cid,
		})
	}
	return f, nil
}
