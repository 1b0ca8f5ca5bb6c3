package exports

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fixkme/plua/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	noop := func(*lua.LState) int { return 0 }
	require.NoError(t, r.Add(Func{Name: "tcp_connect_sync", Category: "network", Fn: noop}))
	require.NoError(t, r.Add(Func{Name: "tcp_close_sync", Category: "network", Fn: noop}))
	require.NoError(t, r.Add(Func{Name: "getcwd", Fn: noop}))

	assert.Error(t, r.Add(Func{Name: "getcwd", Fn: noop}))
	assert.Error(t, r.Add(Func{Name: "nofn"}))
	assert.Equal(t, 3, r.Len())

	f, ok := r.Get("getcwd")
	require.True(t, ok)
	assert.Equal(t, "general", f.Category)
	assert.Equal(t, "No description available", f.Description)

	var names []string
	for _, f := range r.WithPrefix("tcp_") {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"tcp_close_sync", "tcp_connect_sync"}, names)
	assert.Equal(t, map[string][]string{
		"network": {"tcp_close_sync", "tcp_connect_sync"},
		"general": {"getcwd"},
	}, r.ByCategory())
}

func newEngine(t *testing.T, r *Registry) *engine.Engine {
	t.Helper()
	e := engine.New(engine.Options{Stdout: &bytes.Buffer{}})
	r.Install(e)
	e.Register("pythonTimer", func(*lua.LState) int { return 0 })
	e.Register("pythonCancelTimer", func(*lua.LState) int { return 0 })
	require.NoError(t, e.Boot())
	t.Cleanup(e.Close)
	return e
}

func run(t *testing.T, e *engine.Engine, src string) string {
	t.Helper()
	require.NoError(t, e.ExecString(src, "test"))
	return e.Output()
}

func TestJSONExports(t *testing.T) {
	e := newEngine(t, Standard(SystemInfo{}))

	assert.Equal(t, `{"a":[1,2],"b":"<x>"}`, run(t, e, `print(_PY.json_encode({a = {1, 2}, b = "<x>"}))`))
	assert.Equal(t, "{\n    \"k\": true\n}", run(t, e, `print(_PY.json_encode_formated({k = true}))`))

	assert.Equal(t, "3 y false", run(t, e, `
		local v = _PY.json_decode('{"n":3,"list":["x","y"],"flag":false}')
		print(v.n, v.list[2], v.flag)
	`))
	assert.Equal(t, "false true", run(t, e, `
		local v = _PY.json_decode('{bad')
		print(v.valid, v.error ~= nil)
	`))
	assert.Equal(t, "1", run(t, e, `
		local v = _PY.json_decode("{'a': 1,}", true)
		print(v.a)
	`))
}

func TestBase64Exports(t *testing.T) {
	e := newEngine(t, Standard(SystemInfo{}))
	assert.Equal(t, "aGVsbG8= hello", run(t, e, `
		local s = _PY.base64_encode("hello")
		print(s, _PY.base64_decode(s))
	`))
	assert.Error(t, e.ExecString(`_PY.base64_decode("%%%")`, "bad"))
}

func TestFileAndEnvExports(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("abc"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	t.Setenv("PLUA_TEST_VAR", "set")

	e := newEngine(t, Standard(SystemInfo{}))
	e.SetField("dir", dir)

	assert.Equal(t, "2 a.txt sub", run(t, e, `
		local names = _PY.listdir(_PY.dir)
		print(#names, names[1], names[2])
	`))
	assert.Equal(t, "true true false 3", run(t, e, `
		local info = _PY.path_info(_PY.dir .. "/a.txt")
		print(info.exists, info.is_file, info.is_dir, info.size)
	`))
	assert.Equal(t, "false", run(t, e, `print(_PY.path_info(_PY.dir .. "/none").exists)`))
	assert.Equal(t, "set fallback", run(t, e, `
		print(_PY.getenv("PLUA_TEST_VAR"), _PY.getenv("PLUA_TEST_UNSET", "fallback"))
	`))
}

func TestDotenvLookup(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("# comment\nFROM_FILE=\"quoted\"\n"), 0o644))
	wd, wdErr := os.Getwd()
	require.NoError(t, wdErr)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("FROM_ENV", "env")

	v, ok := LookupDotenv("FROM_FILE")
	assert.True(t, ok)
	assert.Equal(t, "quoted", v)
	v, ok = LookupDotenv("FROM_ENV")
	assert.True(t, ok)
	assert.Equal(t, "env", v)
	_, ok = LookupDotenv("PLUA_NOT_THERE")
	assert.False(t, ok)
}

func TestMiscExports(t *testing.T) {
	info := SystemInfo{Version: "9.9.9", Runtime: map[string]any{"duration": 5}}
	e := newEngine(t, Standard(info))

	assert.Equal(t, "hello 42 ok", run(t, e, `
		local a, b, c = _PY.multiple_values_example()
		print(a, b, c.status)
	`))
	assert.Equal(t, "9.9.9 5 true", run(t, e, `
		local c = _PY.get_config()
		print(c.plua_version, c.runtime_config.duration, c.host_ip ~= nil)
	`))
	assert.Equal(t, "true", run(t, e, `print(_PY.millitime() > 1.6e9)`))

	out := run(t, e, `
		for _, f in ipairs(_PY.list_functions()) do
			if f.name == "json_decode" then print(f.category) end
		end
	`)
	assert.Equal(t, "json", out)
}
