package netbridge

import (
	"context"
	"fmt"
	"time"

	"github.com/fixkme/plua/engine"
	"github.com/fixkme/plua/engine/exports"
	"github.com/fixkme/plua/mlog"
	lua "github.com/yuin/gopher-lua"
)

// Bridge binds the TCP manager and HTTP caller to script functions.
type Bridge struct {
	TCP  *TCPManager
	HTTP *HTTPCaller
}

func New() *Bridge {
	return &Bridge{
		TCP:  NewTCPManager(),
		HTTP: NewHTTPCaller(DefaultHTTPTimeout),
	}
}

// Close drops connections scripts left open.
func (b *Bridge) Close() {
	if n := b.TCP.CloseAll(); n > 0 {
		mlog.Infof("closed %d script tcp connections", n)
	}
}

func (b *Bridge) Exports() []exports.Func {
	return []exports.Func{
		{Name: "tcp_connect_sync", Category: "network", Description: "Open a TCP connection (blocking)", Fn: b.tcpConnect},
		{Name: "tcp_write_sync", Category: "network", Description: "Write to a TCP connection (blocking)", Fn: b.tcpWrite},
		{Name: "tcp_read_sync", Category: "network", Description: "Read from a TCP connection (blocking)", Fn: b.tcpRead},
		{Name: "tcp_close_sync", Category: "network", Description: "Close a TCP connection", Fn: b.tcpClose},
		{Name: "tcp_set_timeout_sync", Category: "network", Description: "Set a TCP connection's timeout in seconds", Fn: b.tcpSetTimeout},
		{Name: "http_call_sync", Category: "network", Description: "Make a synchronous HTTP call", Fn: b.httpCall},
	}
}

// Script-facing results are (ok, value, message) triples.

func fail(L *lua.LState, err error) int {
	L.Push(lua.LFalse)
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 3
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func (b *Bridge) tcpConnect(L *lua.LState) int {
	host := L.CheckString(1)
	port := L.CheckInt(2)
	id, err := b.TCP.Connect(host, port, seconds(float64(L.OptNumber(3, 0))))
	if err != nil {
		return fail(L, err)
	}
	L.Push(lua.LTrue)
	L.Push(lua.LNumber(id))
	L.Push(lua.LString(fmt.Sprintf("Connected to %s:%d", host, port)))
	return 3
}

func (b *Bridge) tcpWrite(L *lua.LState) int {
	n, err := b.TCP.Write(L.CheckInt64(1), []byte(L.CheckString(2)))
	if err != nil {
		return fail(L, err)
	}
	L.Push(lua.LTrue)
	L.Push(lua.LNumber(n))
	L.Push(lua.LString(fmt.Sprintf("Sent %d bytes", n)))
	return 3
}

func (b *Bridge) tcpRead(L *lua.LState) int {
	pattern := "*l"
	switch v := L.Get(2).(type) {
	case lua.LString:
		pattern = string(v)
	case lua.LNumber:
		pattern = fmt.Sprintf("%d", int64(v))
	}
	data, err := b.TCP.Read(L.CheckInt64(1), pattern)
	if err != nil {
		return fail(L, err)
	}
	L.Push(lua.LTrue)
	L.Push(lua.LString(data))
	L.Push(lua.LString(fmt.Sprintf("Received %d bytes", len(data))))
	return 3
}

func (b *Bridge) tcpClose(L *lua.LState) int {
	if err := b.TCP.Close(L.CheckInt64(1)); err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	L.Push(lua.LString("Connection closed"))
	return 2
}

func (b *Bridge) tcpSetTimeout(L *lua.LState) int {
	secs := float64(L.CheckNumber(2))
	if err := b.TCP.SetTimeout(L.CheckInt64(1), seconds(secs)); err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	L.Push(lua.LString(fmt.Sprintf("Timeout set to %g seconds", secs)))
	return 2
}

// http_call_sync(method, url, data, headers) -> {success, status_code, data, headers}
func (b *Bridge) httpCall(L *lua.LState) int {
	req := HTTPRequest{
		Method: L.CheckString(1),
		URL:    L.CheckString(2),
	}
	switch v := L.Get(3).(type) {
	case lua.LString:
		req.Body = string(v)
	case *lua.LTable:
		req.Body = engine.FromLua(v)
	}
	if h, ok := L.Get(4).(*lua.LTable); ok {
		req.Headers = make(map[string]string)
		h.ForEach(func(k, v lua.LValue) {
			req.Headers[k.String()] = v.String()
		})
	}

	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := b.HTTP.Do(ctx, req)
	if err != nil {
		L.Push(engine.ToLua(L, map[string]any{"success": false, "error": err.Error()}))
		return 1
	}
	L.Push(engine.ToLua(L, map[string]any{
		"success":     true,
		"status_code": resp.StatusCode,
		"data":        resp.Body,
		"headers":     resp.Headers,
	}))
	return 1
}
