// Package engine wraps a gopher-lua state as the script engine handle.
//
// The state is not safe for concurrent use. Every entry point takes the
// busy flag for its whole run and fails with errs.EngineBusy if another
// entry is in progress; host functions called back from Lua run inside
// the caller's entry and need no guard of their own.
package engine

import (
	_ "embed"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/fixkme/plua/errs"
	"github.com/fixkme/plua/mlog"
	lua "github.com/yuin/gopher-lua"
)

//go:embed init.lua
var initLua string

const (
	HostTable = "_PY"

	timersGlobal    = "_pending_timers"
	callbacksGlobal = "_callback_registry"
)

type Options struct {
	Debug       bool
	Stdout      io.Writer // nil means os.Stdout
	WebMode     bool
	OutputLines int
}

type RuntimeState struct {
	ActiveTimers     int `json:"active_timers"`
	PendingCallbacks int `json:"pending_callbacks"`
	TotalTasks       int `json:"total_tasks"`
}

type Engine struct {
	L      *lua.LState
	py     *lua.LTable
	out    *output
	debug  bool
	busy   atomic.Bool
	booted bool
	closed atomic.Bool
}

func New(opts Options) *Engine {
	w := opts.Stdout
	if w == nil {
		w = os.Stdout
	}
	L := lua.NewState()
	e := &Engine{
		L:     L,
		py:    L.NewTable(),
		out:   newOutput(w, opts.OutputLines),
		debug: opts.Debug,
	}
	e.out.setWebMode(opts.WebMode)

	L.SetGlobal(HostTable, e.py)
	L.SetGlobal("print", L.NewFunction(e.luaPrint))
	e.py.RawSetString("_debug", lua.LBool(opts.Debug))
	e.Register("getRuntimeState", func(L *lua.LState) int {
		st := e.runtimeState()
		tbl := L.NewTable()
		tbl.RawSetString("active_timers", lua.LNumber(st.ActiveTimers))
		tbl.RawSetString("pending_callbacks", lua.LNumber(st.PendingCallbacks))
		tbl.RawSetString("total_tasks", lua.LNumber(st.TotalTasks))
		L.Push(tbl)
		return 1
	})
	return e
}

// Register exposes fn to scripts as _PY.<name>. Call it before Boot.
func (e *Engine) Register(name string, fn lua.LGFunction) {
	e.py.RawSetString(name, e.L.NewFunction(fn))
}

// SetField stores a converted Go value as _PY.<name>.
func (e *Engine) SetField(name string, v any) {
	e.py.RawSetString(name, ToLua(e.L, v))
}

// Boot runs the embedded bootstrap. Host functions the bootstrap relies
// on (pythonTimer, pythonCancelTimer) must be registered first.
func (e *Engine) Boot() error {
	return e.guard(func() error {
		if e.booted {
			return nil
		}
		fn, err := e.L.Load(strings.NewReader(initLua), "init.lua")
		if err != nil {
			return errs.Script.Wrap(err)
		}
		if err = e.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
			return errs.Script.Wrap(err)
		}
		e.booted = true
		mlog.Debugf("lua engine booted, %s", lua.LuaVersion)
		return nil
	})
}

// ExecString compiles src under chunk name name and runs it as a
// coroutine.
func (e *Engine) ExecString(src, name string) error {
	if name == "" {
		name = "<string>"
	}
	return e.guard(func() error {
		fn, err := e.L.Load(strings.NewReader(src), name)
		if err != nil {
			return errs.Script.Wrap(err)
		}
		return e.callHost("spawn", 0, fn)
	})
}

// ExecFile runs path through _PY.main_file_hook.
func (e *Engine) ExecFile(path string) error {
	return e.guard(func() error {
		return e.callHost("main_file_hook", 0, lua.LString(path))
	})
}

// TimerExpired resumes the continuation stored for timer id. It reports
// false when the script no longer knows the id.
func (e *Engine) TimerExpired(id int64) (bool, error) {
	var found bool
	err := e.guard(func() error {
		if err := e.callHost("timerExpired", 1, lua.LNumber(id)); err != nil {
			return err
		}
		found = lua.LVAsBool(e.popResult())
		return nil
	})
	return found, err
}

// ExecuteCallback resumes callback id with data converted to Lua.
func (e *Engine) ExecuteCallback(id int64, data any) (bool, error) {
	var found bool
	err := e.guard(func() error {
		if err := e.callHost("executeCallback", 1, lua.LNumber(id), ToLua(e.L, data)); err != nil {
			return err
		}
		found = lua.LVAsBool(e.popResult())
		return nil
	})
	return found, err
}

// CheckRunning asks the script's isRunning hook whether to keep going.
// No hook, or a failing hook, means keep going.
func (e *Engine) CheckRunning() (bool, error) {
	keep := true
	err := e.guard(func() error {
		if err := e.callHost("checkRunning", 1); err != nil {
			return err
		}
		keep = lua.LVAsBool(e.popResult())
		return nil
	})
	return keep, err
}

// RuntimeState counts live script timers and registered callbacks.
func (e *Engine) RuntimeState() (RuntimeState, error) {
	var st RuntimeState
	err := e.guard(func() error {
		st = e.runtimeState()
		return nil
	})
	return st, err
}

func (e *Engine) runtimeState() RuntimeState {
	var st RuntimeState
	if tbl, ok := e.L.GetGlobal(timersGlobal).(*lua.LTable); ok {
		tbl.ForEach(func(_, v lua.LValue) {
			if t, ok := v.(*lua.LTable); ok && !lua.LVAsBool(t.RawGetString("cancelled")) {
				st.ActiveTimers++
			}
		})
	}
	if tbl, ok := e.L.GetGlobal(callbacksGlobal).(*lua.LTable); ok {
		tbl.ForEach(func(_, _ lua.LValue) {
			st.PendingCallbacks++
		})
	}
	st.TotalTasks = st.ActiveTimers + st.PendingCallbacks
	return st
}

// Output returns everything printed since the last call and clears it.
func (e *Engine) Output() string {
	return e.out.take()
}

func (e *Engine) ClearOutput() {
	e.out.clear()
}

// SetWebMode stops terminal echo; printed lines are only buffered.
func (e *Engine) SetWebMode(on bool) {
	e.out.setWebMode(on)
}

func (e *Engine) Debug() bool {
	return e.debug
}

func (e *Engine) Busy() bool {
	return e.busy.Load()
}

// Close releases the Lua state. It must not race an entry point.
func (e *Engine) Close() {
	if e.closed.CompareAndSwap(false, true) {
		e.L.Close()
	}
}

func (e *Engine) guard(f func() error) error {
	if e.closed.Load() {
		return errs.NotInitialized.Printf("engine closed")
	}
	if !e.busy.CompareAndSwap(false, true) {
		return errs.EngineBusy
	}
	defer e.busy.Store(false)
	return f()
}

// callHost calls _PY.<name>(args...) leaving nret results on the stack.
func (e *Engine) callHost(name string, nret int, args ...lua.LValue) error {
	fn := e.py.RawGetString(name)
	if fn.Type() != lua.LTFunction {
		return errs.NotInitialized.Printf("%s.%s is not a function", HostTable, name)
	}
	if err := e.L.CallByParam(lua.P{Fn: fn, NRet: nret, Protect: true}, args...); err != nil {
		return errs.Script.Wrap(err)
	}
	return nil
}

func (e *Engine) popResult() lua.LValue {
	v := e.L.Get(-1)
	e.L.Pop(1)
	return v
}

// RegisterCallback calls _PY.registerCallback from inside a host function
// and returns the new callback id.
func RegisterCallback(L *lua.LState, fn lua.LValue, persistent bool) (int64, error) {
	py, ok := L.GetGlobal(HostTable).(*lua.LTable)
	if !ok {
		return 0, errs.NotInitialized.Printf("%s missing", HostTable)
	}
	reg := py.RawGetString("registerCallback")
	if reg.Type() != lua.LTFunction {
		return 0, errs.NotInitialized.Printf("registerCallback missing")
	}
	if err := L.CallByParam(lua.P{Fn: reg, NRet: 1, Protect: true}, fn, lua.LBool(persistent)); err != nil {
		return 0, errs.Script.Wrap(err)
	}
	id := L.Get(-1)
	L.Pop(1)
	n, ok := id.(lua.LNumber)
	if !ok {
		return 0, errs.Script.Printf("registerCallback returned %s", id.Type())
	}
	return int64(n), nil
}

// UnregisterCallback drops callback id from inside a host function and
// reports whether it was registered.
func UnregisterCallback(L *lua.LState, id int64) (bool, error) {
	py, ok := L.GetGlobal(HostTable).(*lua.LTable)
	if !ok {
		return false, errs.NotInitialized.Printf("%s missing", HostTable)
	}
	unreg := py.RawGetString("unregisterCallback")
	if unreg.Type() != lua.LTFunction {
		return false, errs.NotInitialized.Printf("unregisterCallback missing")
	}
	if err := L.CallByParam(lua.P{Fn: unreg, NRet: 1, Protect: true}, lua.LNumber(id)); err != nil {
		return false, errs.Script.Wrap(err)
	}
	found := lua.LVAsBool(L.Get(-1))
	L.Pop(1)
	return found, nil
}
