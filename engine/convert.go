package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	lua "github.com/yuin/gopher-lua"
)

// ToLua converts plain Go data (the shapes encoding/json produces, plus
// the usual scalar kinds) into Lua values. Anything else becomes its JSON
// text, or its %v form when it cannot be marshalled.
func ToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int8:
		return lua.LNumber(val)
	case int16:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint:
		return lua.LNumber(val)
	case uint8:
		return lua.LNumber(val)
	case uint16:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return lua.LNumber(f)
		}
		return lua.LString(val.String())
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(string(val))
	case []string:
		tbl := L.CreateTable(len(val), 0)
		for i, s := range val {
			tbl.RawSetInt(i+1, lua.LString(s))
		}
		return tbl
	case []any:
		tbl := L.CreateTable(len(val), 0)
		for i, item := range val {
			tbl.RawSetInt(i+1, ToLua(L, item))
		}
		return tbl
	case []map[string]any:
		tbl := L.CreateTable(len(val), 0)
		for i, item := range val {
			tbl.RawSetInt(i+1, ToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.CreateTable(0, len(val))
		for k, item := range val {
			tbl.RawSetString(k, ToLua(L, item))
		}
		return tbl
	case map[string]string:
		tbl := L.CreateTable(0, len(val))
		for k, s := range val {
			tbl.RawSetString(k, lua.LString(s))
		}
		return tbl
	case json.RawMessage:
		return lua.LString(string(val))
	case error:
		return lua.LString(val.Error())
	default:
		if b, err := json.Marshal(val); err == nil {
			return lua.LString(string(b))
		}
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// FromLua converts a Lua value to plain Go data. A table whose keys are
// exactly 1..n becomes []any; every other table becomes map[string]any
// with keys stringified. Integral numbers come back as int64. Functions,
// userdata and threads have no Go form and become nil.
func FromLua(v lua.LValue) any {
	return fromLua(v, 0)
}

const maxDepth = 64

func fromLua(v lua.LValue, depth int) any {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		f := float64(val)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(val)
	case *lua.LTable:
		if depth >= maxDepth {
			return nil
		}
		return tableToGo(val, depth+1)
	}
	return nil
}

func tableToGo(tbl *lua.LTable, depth int) any {
	n, other := 0, false
	tbl.ForEach(func(k, _ lua.LValue) {
		if num, ok := k.(lua.LNumber); ok && float64(num) == math.Trunc(float64(num)) && num >= 1 {
			n++
			return
		}
		other = true
	})
	if !other && n > 0 {
		// n distinct positive integer keys, all of 1..n present: a sequence
		arr := make([]any, n)
		seq := true
		for i := 1; i <= n; i++ {
			item := tbl.RawGetInt(i)
			if item == lua.LNil {
				seq = false
				break
			}
			arr[i-1] = fromLua(item, depth)
		}
		if seq {
			return arr
		}
	}

	m := make(map[string]any)
	tbl.ForEach(func(k, item lua.LValue) {
		m[keyString(k)] = fromLua(item, depth)
	})
	return m
}

func keyString(k lua.LValue) string {
	if num, ok := k.(lua.LNumber); ok {
		f := float64(num)
		if f == math.Trunc(f) {
			return strconv.FormatInt(int64(f), 10)
		}
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return k.String()
}
