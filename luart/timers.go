package luart

import (
	"github.com/fixkme/plua/clock"
	"github.com/fixkme/plua/engine/exports"
	lua "github.com/yuin/gopher-lua"
)

// The script allocates timer ids; these two functions are all it needs
// from the host to build setTimeout and friends.
func (r *Runtime) timerExports() []exports.Func {
	return []exports.Func{
		{Name: "pythonTimer", Category: "timers", Description: "Expire timer id after ms milliseconds", Fn: r.luaTimer},
		{Name: "pythonCancelTimer", Category: "timers", Description: "Cancel timer id", Fn: r.luaCancelTimer},
	}
}

func (r *Runtime) luaTimer(L *lua.LState) int {
	id := L.CheckInt64(1)
	delay, ok := clock.MillisDelay(float64(L.CheckNumber(2)))
	if !ok {
		L.ArgError(2, "delay is not a number")
		return 0
	}
	if _, err := r.clock.Create(id, delay); err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	L.Push(lua.LNumber(id))
	return 1
}

func (r *Runtime) luaCancelTimer(L *lua.LState) int {
	L.Push(lua.LBool(r.clock.Cancel(L.CheckInt64(1))))
	return 1
}
