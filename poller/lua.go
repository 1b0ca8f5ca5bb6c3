package poller

import (
	"time"

	"github.com/fixkme/plua/engine"
	"github.com/fixkme/plua/engine/exports"
	"github.com/tidwall/gjson"
	lua "github.com/yuin/gopher-lua"
)

func (p *Poller) Exports() []exports.Func {
	return []exports.Func{
		{Name: "pollRefreshStates", Category: "refresh", Description: "Start polling refresh states", Fn: p.luaPoll},
		{Name: "addEvent", Category: "refresh", Description: "Add event to the event queue", Fn: p.luaAddEvent},
		{Name: "addEventFromLua", Category: "refresh", Description: "Add event to the event queue from Lua", Fn: p.luaAddEventJSON},
		{Name: "getEvents", Category: "refresh", Description: "Get events since counter", Fn: p.luaGetEvents},
		{Name: "stopRefreshStates", Category: "refresh", Description: "Stop refresh states polling", Fn: p.luaStop},
		{Name: "getRefreshStatesStatus", Category: "refresh", Description: "Get refresh states status", Fn: p.luaStatus},
	}
}

// bind registers _PY.refreshStatesHandler as a persistent callback the
// first time a script touches the event queue.
func (p *Poller) bind(L *lua.LState) error {
	if p.Callback() != 0 {
		return nil
	}
	py, ok := L.GetGlobal(engine.HostTable).(*lua.LTable)
	if !ok {
		return nil
	}
	handler := py.RawGetString("refreshStatesHandler")
	if handler.Type() != lua.LTFunction {
		return nil
	}
	id, err := engine.RegisterCallback(L, handler, true)
	if err != nil {
		return err
	}
	p.SetCallback(id)
	return nil
}

func errorTable(L *lua.LState, err error) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("status", lua.LString("error"))
	tbl.RawSetString("error", lua.LString(err.Error()))
	return tbl
}

// pollRefreshStates(start, url, options)
func (p *Poller) luaPoll(L *lua.LState) int {
	start := L.CheckInt64(1)
	url := L.CheckString(2)
	var opts Options
	if tbl, ok := L.Get(3).(*lua.LTable); ok {
		if h, ok := tbl.RawGetString("headers").(*lua.LTable); ok {
			opts.Headers = make(map[string]string)
			h.ForEach(func(k, v lua.LValue) {
				opts.Headers[k.String()] = v.String()
			})
		}
		if n, ok := tbl.RawGetString("interval").(lua.LNumber); ok {
			opts.Interval = time.Duration(float64(n) * float64(time.Second))
		}
	}
	if err := p.bind(L); err != nil {
		L.Push(errorTable(L, err))
		return 1
	}
	p.Start(start, url, opts)
	tbl := L.NewTable()
	tbl.RawSetString("status", lua.LString("started"))
	L.Push(tbl)
	return 1
}

func (p *Poller) add(L *lua.LState, raw string) int {
	if err := p.bind(L); err != nil {
		L.Push(errorTable(L, err))
		return 1
	}
	n := p.AddEvent(raw)
	tbl := L.NewTable()
	tbl.RawSetString("status", lua.LString("added"))
	tbl.RawSetString("event_count", lua.LNumber(n))
	L.Push(tbl)
	return 1
}

// addEvent(event) takes a table or a JSON string.
func (p *Poller) luaAddEvent(L *lua.LState) int {
	v := L.CheckAny(1)
	if s, ok := v.(lua.LString); ok {
		return p.add(L, string(s))
	}
	raw, err := exports.EncodeJSON(engine.FromLua(v), "")
	if err != nil {
		L.Push(errorTable(L, err))
		return 1
	}
	return p.add(L, raw)
}

func (p *Poller) luaAddEventJSON(L *lua.LState) int {
	raw := L.CheckString(1)
	if !gjson.Valid(raw) {
		L.Push(errorTable(L, errInvalidEvent))
		return 1
	}
	return p.add(L, raw)
}

// getEvents(counter) mirrors the controller's refreshStates reply.
func (p *Poller) luaGetEvents(L *lua.LState) int {
	events, last := p.Events(L.OptInt64(1, 0))
	list := make([]any, len(events))
	for i, e := range events {
		v, err := exports.DecodeJSON(e, false)
		if err != nil {
			v = e
		}
		list[i] = v
	}
	now := time.Now()
	L.Push(engine.ToLua(L, map[string]any{
		"status":          "IDLE",
		"events":          list,
		"changes":         []any{},
		"timestamp":       float64(now.UnixMicro()) / 1e6,
		"timestampMillis": float64(now.UnixMilli()),
		"date":            now.Format("15:04 | 02.01.2006"),
		"last":            last,
	}))
	return 1
}

func (p *Poller) luaStop(L *lua.LState) int {
	L.Push(lua.LBool(p.Stop()))
	return 1
}

func (p *Poller) luaStatus(L *lua.LState) int {
	st := p.Status()
	tbl := L.NewTable()
	tbl.RawSetString("running", lua.LBool(st.Running))
	if st.URL != "" {
		tbl.RawSetString("url", lua.LString(st.URL))
		tbl.RawSetString("start", lua.LNumber(st.Start))
		tbl.RawSetString("last", lua.LNumber(st.Last))
		opts := L.NewTable()
		if st.Options != nil {
			opts.RawSetString("headers", engine.ToLua(L, st.Options))
		}
		tbl.RawSetString("options", opts)
	}
	L.Push(tbl)
	return 1
}
